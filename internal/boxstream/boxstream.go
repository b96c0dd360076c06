// SPDX-License-Identifier: MIT

// Package boxstream recovers ISO-BMFF boxes from an ffmpeg fragmented-MP4
// byte stream and classifies them into init segments and media fragments
// suitable for broadcast to MSE clients.
package boxstream

import (
	"bytes"
	"encoding/binary"

	"github.com/Eyevinn/mp4ff/mp4"
	"github.com/keithhegstad/stageview-go/internal/stageerr"
)

const (
	minBoxSize     = 8
	maxBoxSize     = 50 * 1024 * 1024
	maxPendingSize = 5 * 1024 * 1024
)

// UnitKind distinguishes an init segment from a media fragment.
type UnitKind int

const (
	UnitInit UnitKind = iota
	UnitFragment
)

// Unit is a single framed, classified piece of output ready for broadcast.
type Unit struct {
	Kind        UnitKind
	Data        []byte
	Keyframe    bool
	SampleCount uint32
}

// Parser recovers boxes incrementally from chunks handed to Feed. It holds
// no reference to any previous attempt: a new Parser must be created per
// worker attempt so stale init segments and fragments never leak across
// a restart.
type Parser struct {
	cameraID string

	pending  []byte
	initBuf  []byte
	moofBuf  []byte
	haveMoof bool
}

// NewParser returns a fresh parser for the named camera. cameraID is used
// only to annotate corruption errors.
func NewParser(cameraID string) *Parser {
	return &Parser{cameraID: cameraID}
}

// Feed appends a chunk of worker stdout and returns every box that became
// completely available, in arrival order. A corrupt or oversized box resets
// the parser's pending buffer and returns a ParseCorrupt error alongside
// whatever units were already recovered from earlier in the chunk.
func (p *Parser) Feed(chunk []byte) ([]Unit, error) {
	p.pending = append(p.pending, chunk...)

	var units []Unit
	for {
		if len(p.pending) < minBoxSize {
			break
		}

		size := binary.BigEndian.Uint32(p.pending[0:4])
		boxType := string(p.pending[4:8])

		if size < minBoxSize || size > maxBoxSize {
			p.reset()
			return units, stageerr.New(stageerr.ParseCorrupt, p.cameraID, "invalid box size", nil)
		}

		if uint64(len(p.pending)) < uint64(size) {
			if len(p.pending) > maxPendingSize {
				p.reset()
				return units, stageerr.New(stageerr.ParseCorrupt, p.cameraID, "pending buffer exceeded cap awaiting box", nil)
			}
			break
		}

		box := p.pending[:size]
		p.pending = p.pending[size:]

		unit := p.classify(boxType, box)
		if unit != nil {
			units = append(units, *unit)
		}
	}

	return units, nil
}

func (p *Parser) classify(boxType string, box []byte) *Unit {
	switch boxType {
	case "ftyp":
		p.initBuf = append([]byte{}, box...)
		return nil

	case "moov":
		p.initBuf = append(p.initBuf, box...)
		init := append([]byte{}, p.initBuf...)
		return &Unit{Kind: UnitInit, Data: init}

	case "moof":
		p.moofBuf = append([]byte{}, box...)
		p.haveMoof = true
		return nil

	case "mdat":
		if !p.haveMoof {
			// Stray mdat with no preceding moof in this attempt: drop.
			return nil
		}
		keyframe, sampleCount := classifyMoof(p.moofBuf)
		frag := append(append([]byte{}, p.moofBuf...), box...)
		p.moofBuf = nil
		p.haveMoof = false
		return &Unit{Kind: UnitFragment, Data: frag, Keyframe: keyframe, SampleCount: sampleCount}

	default:
		return nil
	}
}

// reset clears all working state, the same recovery path taken on an
// invalid box header or a pending-buffer overflow.
func (p *Parser) reset() {
	p.pending = nil
	p.initBuf = nil
	p.moofBuf = nil
	p.haveMoof = false
}

// classifyMoof walks a moof box's traf children to determine whether the
// fragment starts with a keyframe and how many video samples it carries.
//
// Keyframe bit layout: a sample is a keyframe iff (flags>>16)&1 == 0.
// Precedence: trun's first-sample-flags (if present, trun flag bit 0x004)
// wins; otherwise tfhd's default_sample_flags (if present, tfhd flag bit
// 0x020); otherwise assume keyframe (conservative — matches a moof with no
// flags at all, which ffmpeg only emits for all-sync-sample fragments).
func classifyMoof(moofBytes []byte) (keyframe bool, sampleCount uint32) {
	box, err := mp4.DecodeBox(0, bytes.NewReader(moofBytes))
	if err != nil {
		return true, 0
	}
	moof, ok := box.(*mp4.MoofBox)
	if !ok {
		return true, 0
	}

	keyframe = true
	determined := false

	for _, traf := range moof.Traf {
		sampleCount += trafSampleCount(traf)

		if determined {
			continue
		}

		var defaultFlags uint32
		haveDefault := false
		if traf.Tfhd != nil && traf.Tfhd.Flags&0x000020 != 0 {
			defaultFlags = traf.Tfhd.DefaultSampleFlags
			haveDefault = true
		}

		if traf.Trun != nil && traf.Trun.Flags&0x000004 != 0 {
			keyframe = (traf.Trun.FirstSampleFlags>>16)&1 == 0
			determined = true
		} else if haveDefault {
			keyframe = (defaultFlags>>16)&1 == 0
			determined = true
		}
	}

	return keyframe, sampleCount
}

func trafSampleCount(traf *mp4.TrafBox) uint32 {
	if traf.Trun == nil {
		return 0
	}
	return traf.Trun.SampleCount
}
