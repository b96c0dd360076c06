// SPDX-License-Identifier: MIT

// Package mjpegstream recovers individual JPEG frames from an ffmpeg
// image2pipe byte stream (the legacy MJPEG quality path) and extracts
// frame resolution from the SOF marker.
package mjpegstream

import (
	"bytes"
	"encoding/binary"
	"strconv"
	"sync"
)

const (
	soi0, soi1 = 0xFF, 0xD8
	eoi0, eoi1 = 0xFF, 0xD9

	minFrameSize   = 100
	maxFrameSize   = 10 * 1024 * 1024
	frameChunkHint = 64 * 1024
)

var (
	soiMarker = []byte{soi0, soi1}
	eoiMarker = []byte{eoi0, eoi1}
)

// framePool recycles frame-accumulation buffers across parser instances,
// the Go analogue of the original desktop prototype's reusable byte-vector
// pool for frame assembly.
var framePool = sync.Pool{
	New: func() any {
		b := make([]byte, 0, frameChunkHint)
		return &b
	},
}

// Parser recovers complete JPEG frames from an MJPEG byte stream.
type Parser struct {
	frame    []byte
	inFrame  bool
	released bool
}

// NewParser returns a fresh MJPEG frame parser.
func NewParser() *Parser {
	buf := framePool.Get().(*[]byte)
	return &Parser{frame: (*buf)[:0]}
}

// Close returns the parser's working buffer to the shared pool. Calling
// Feed after Close is invalid.
func (p *Parser) Close() {
	if p.released {
		return
	}
	p.released = true
	buf := p.frame[:0]
	framePool.Put(&buf)
}

// Feed appends a chunk of worker stdout and returns every complete JPEG
// frame recovered from it, in arrival order.
func (p *Parser) Feed(chunk []byte) [][]byte {
	var frames [][]byte

	for len(chunk) > 0 {
		if !p.inFrame {
			idx := bytes.Index(chunk, soiMarker)
			if idx == -1 {
				return frames
			}
			p.frame = append(p.frame[:0], soiMarker...)
			p.inFrame = true
			chunk = chunk[idx+len(soiMarker):]
			continue
		}

		// A second SOI before an EOI means the in-progress frame is corrupt;
		// discard it and restart scanning from this new start marker.
		if soiIdx := bytes.Index(chunk, soiMarker); soiIdx != -1 {
			if eoiIdx := bytes.Index(chunk, eoiMarker); eoiIdx == -1 || soiIdx < eoiIdx {
				p.frame = append(p.frame[:0], soiMarker...)
				chunk = chunk[soiIdx+len(soiMarker):]
				continue
			}
		}

		idx := bytes.Index(chunk, eoiMarker)
		if idx == -1 {
			p.frame = append(p.frame, chunk...)
			if len(p.frame) > maxFrameSize {
				p.frame = p.frame[:0]
				p.inFrame = false
			}
			return frames
		}

		p.frame = append(p.frame, chunk[:idx+len(eoiMarker)]...)
		chunk = chunk[idx+len(eoiMarker):]
		p.inFrame = false

		if len(p.frame) >= minFrameSize {
			frame := make([]byte, len(p.frame))
			copy(frame, p.frame)
			frames = append(frames, frame)
		}
		p.frame = p.frame[:0]
	}

	return frames
}

// ParseResolution extracts "WIDTHxHEIGHT" from a JPEG frame's SOF marker,
// or returns "" if the frame is too short or carries no recognizable SOF.
func ParseResolution(data []byte) string {
	if len(data) < 10 || data[0] != soi0 || data[1] != soi1 {
		return ""
	}

	i := 2
	for i+9 < len(data) {
		if data[i] != 0xFF {
			i++
			continue
		}

		marker := data[i+1]
		if marker >= 0xC0 && marker <= 0xCF && marker != 0xC4 && marker != 0xC8 && marker != 0xCC {
			height := binary.BigEndian.Uint16(data[i+5 : i+7])
			width := binary.BigEndian.Uint16(data[i+7 : i+9])
			return formatResolution(width, height)
		}

		if i+3 < len(data) {
			length := int(binary.BigEndian.Uint16(data[i+2 : i+4]))
			i += 2 + length
		} else {
			break
		}
	}

	return ""
}

func formatResolution(width, height uint16) string {
	return strconv.Itoa(int(width)) + "x" + strconv.Itoa(int(height))
}
