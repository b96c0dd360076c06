// SPDX-License-Identifier: MIT

package boxstream

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

// box builds a raw ISO-BMFF box: 4-byte big-endian size, 4-byte type, body.
func box(boxType string, body []byte) []byte {
	b := make([]byte, 8+len(body))
	binary.BigEndian.PutUint32(b[0:4], uint32(8+len(body)))
	copy(b[4:8], boxType)
	copy(b[8:], body)
	return b
}

func TestParser_FtypMoovEmitsSingleInitUnit(t *testing.T) {
	p := NewParser("cam1")

	ftyp := box("ftyp", []byte("isom0000"))
	moov := box("moov", []byte("fake-moov-body"))

	units, err := p.Feed(append(ftyp, moov...))
	require.NoError(t, err)
	require.Len(t, units, 1)
	require.Equal(t, UnitInit, units[0].Kind)
	require.Equal(t, append(ftyp, moov...), units[0].Data)
}

func TestParser_MoofMdatEmitsOneFragmentUnit(t *testing.T) {
	p := NewParser("cam1")

	moof := box("moof", []byte("fake-moof-body-no-traf"))
	mdat := box("mdat", []byte("framebytes"))

	units, err := p.Feed(append(moof, mdat...))
	require.NoError(t, err)
	require.Len(t, units, 1)
	require.Equal(t, UnitFragment, units[0].Kind)
	require.Equal(t, append(moof, mdat...), units[0].Data)
	// No decodable traf: conservative default is keyframe=true, 0 samples.
	require.True(t, units[0].Keyframe)
}

func TestParser_StrayMdatWithoutMoofIsDropped(t *testing.T) {
	p := NewParser("cam1")

	mdat := box("mdat", []byte("orphan"))
	units, err := p.Feed(mdat)
	require.NoError(t, err)
	require.Empty(t, units)
}

func TestParser_UnknownTopLevelBoxIsDropped(t *testing.T) {
	p := NewParser("cam1")

	free := box("free", []byte("padding"))
	units, err := p.Feed(free)
	require.NoError(t, err)
	require.Empty(t, units)
}

func TestParser_PartialBoxWaitsForMoreBytes(t *testing.T) {
	p := NewParser("cam1")

	moof := box("moof", []byte("body"))
	units, err := p.Feed(moof[:5])
	require.NoError(t, err)
	require.Empty(t, units)

	mdat := box("mdat", []byte("rest"))
	units, err = p.Feed(append(moof[5:], mdat...))
	require.NoError(t, err)
	require.Len(t, units, 1)
}

func TestParser_InvalidBoxSizeResetsAndErrors(t *testing.T) {
	p := NewParser("cam1")

	bad := make([]byte, 8)
	binary.BigEndian.PutUint32(bad[0:4], 4) // size < 8
	copy(bad[4:8], "moof")

	units, err := p.Feed(bad)
	require.Error(t, err)
	require.Empty(t, units)
	require.Empty(t, p.pending)
}

func TestParser_OversizedBoxResetsAndErrors(t *testing.T) {
	p := NewParser("cam1")

	huge := make([]byte, 8)
	binary.BigEndian.PutUint32(huge[0:4], maxBoxSize+1)
	copy(huge[4:8], "mdat")

	units, err := p.Feed(huge)
	require.Error(t, err)
	require.Empty(t, units)
}

func TestParser_PendingBufferOverflowResets(t *testing.T) {
	p := NewParser("cam1")

	hdr := make([]byte, 8)
	binary.BigEndian.PutUint32(hdr[0:4], maxPendingSize+1000) // declared size never fully arrives
	copy(hdr[4:8], "mdat")

	chunk := append(hdr, make([]byte, maxPendingSize+1)...)
	units, err := p.Feed(chunk)
	require.Error(t, err)
	require.Empty(t, units)
	require.Empty(t, p.pending)
}

func TestParser_RestartDropsAllState(t *testing.T) {
	p := NewParser("cam1")
	ftyp := box("ftyp", []byte("isom"))
	moov := box("moov", []byte("body"))
	_, err := p.Feed(append(ftyp, moov...))
	require.NoError(t, err)

	fresh := NewParser("cam1")
	moof := box("moof", []byte("body"))
	units, err := fresh.Feed(moof)
	require.NoError(t, err)
	require.Empty(t, units) // waiting for mdat, unaffected by the other parser's init state
}
