// Package webmtest builds small WebM files for tests.
package webmtest

import (
	"encoding/binary"
	"math"
)

type Track struct {
	Number          uint64
	Type            uint64
	CodecID         string
	CodecPrivate    []byte
	DefaultDuration uint64
	CodecDelay      uint64
	SeekPreRoll     uint64
	Laced           bool

	SamplingFrequency float64
	Channels          uint64
	PixelWidth        uint64
	PixelHeight       uint64
}

type Block struct {
	Track    uint64
	Timecode int64
	Keyframe bool
	Data     []byte

	// InGroup wraps the block in a BlockGroup, with a ReferenceBlock
	// when it is not a keyframe.
	InGroup bool
	// NoBlock writes a BlockGroup holding only a ReferenceBlock.
	NoBlock bool
}

type Cluster struct {
	Timecode uint64
	Blocks   []Block
}

type File struct {
	DocType       string
	ReadVersion   uint64
	TimecodeScale uint64
	Duration      float64
	Tracks        []Track

	Clusters []Cluster

	// UnknownSizes writes the Segment and the Clusters with unknown sizes,
	// the way live writers do.
	UnknownSizes bool
	// NoInfo leaves the Info element out.
	NoInfo bool
}

var unknown = []byte{0x01, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

func id(v uint32) []byte {
	switch {
	case v > 0xFFFFFF:
		return binary.BigEndian.AppendUint32(nil, v)
	case v > 0xFFFF:
		return []byte{byte(v >> 16), byte(v >> 8), byte(v)}
	case v > 0xFF:
		return []byte{byte(v >> 8), byte(v)}
	}
	return []byte{byte(v)}
}

// size is an eight byte vint.
func size(n int) []byte {
	b := binary.BigEndian.AppendUint64(nil, uint64(n))
	b[0] = 0x01
	return b
}

func master(v uint32, children ...[]byte) []byte {
	var body []byte
	for _, c := range children {
		body = append(body, c...)
	}
	return append(append(id(v), size(len(body))...), body...)
}

func uintEl(v uint32, n uint64) []byte {
	return master(v, binary.BigEndian.AppendUint64(nil, n))
}

func floatEl(v uint32, f float64) []byte {
	return master(v, binary.BigEndian.AppendUint64(nil, math.Float64bits(f)))
}

func strEl(v uint32, s string) []byte {
	return master(v, []byte(s))
}

func (f *File) Bytes() []byte {
	docType, readVersion, scale := f.DocType, f.ReadVersion, f.TimecodeScale
	if docType == "" {
		docType = "webm"
	}
	if readVersion == 0 {
		readVersion = 1
	}
	if scale == 0 {
		scale = 1000000
	}
	out := master(0x1A45DFA3,
		uintEl(0x4286, 1),
		uintEl(0x42F7, readVersion),
		uintEl(0x42F2, 4),
		uintEl(0x42F3, 8),
		strEl(0x4282, docType),
		uintEl(0x4287, 2),
		uintEl(0x4285, 2),
	)

	var body []byte
	if !f.NoInfo {
		info := [][]byte{uintEl(0x2AD7B1, scale)}
		if f.Duration > 0 {
			info = append(info, floatEl(0x4489, f.Duration))
		}
		body = append(body, master(0x1549A966, info...)...)
	}
	var entries [][]byte
	for _, t := range f.Tracks {
		entries = append(entries, t.entry())
	}
	body = append(body, master(0x1654AE6B, entries...)...)

	for _, c := range f.Clusters {
		children := [][]byte{uintEl(0xE7, c.Timecode)}
		for _, b := range c.Blocks {
			children = append(children, b.element(c.Timecode, scale))
		}
		if f.UnknownSizes {
			cluster := append(id(0x1F43B675), unknown...)
			for _, child := range children {
				cluster = append(cluster, child...)
			}
			body = append(body, cluster...)
		} else {
			body = append(body, master(0x1F43B675, children...)...)
		}
	}

	out = append(out, id(0x18538067)...)
	if f.UnknownSizes {
		out = append(out, unknown...)
	} else {
		out = append(out, size(len(body))...)
	}
	return append(out, body...)
}

func (t Track) entry() []byte {
	fields := [][]byte{
		uintEl(0xD7, t.Number),
		uintEl(0x73C5, t.Number),
		uintEl(0x83, t.Type),
		strEl(0x86, t.CodecID),
	}
	if t.Laced {
		fields = append(fields, uintEl(0x9C, 1))
	}
	if t.DefaultDuration > 0 {
		fields = append(fields, uintEl(0x23E383, t.DefaultDuration))
	}
	if t.CodecDelay > 0 {
		fields = append(fields, uintEl(0x56AA, t.CodecDelay))
	}
	if t.SeekPreRoll > 0 {
		fields = append(fields, uintEl(0x56BB, t.SeekPreRoll))
	}
	if len(t.CodecPrivate) > 0 {
		fields = append(fields, master(0x63A2, t.CodecPrivate))
	}
	switch t.Type {
	case 1:
		fields = append(fields, master(0xE0, uintEl(0xB0, t.PixelWidth), uintEl(0xBA, t.PixelHeight)))
	case 2:
		audio := [][]byte{uintEl(0x9F, t.Channels)}
		if t.SamplingFrequency > 0 {
			audio = append(audio, floatEl(0xB5, t.SamplingFrequency))
		}
		fields = append(fields, master(0xE1, audio...))
	}
	return master(0xAE, fields...)
}

func (b Block) element(clusterTimecode, scale uint64) []byte {
	relative := int16((b.Timecode*1000000)/int64(scale) - int64(clusterTimecode))
	var flags byte
	if b.Keyframe && !b.InGroup {
		flags = 0x80
	}
	body := []byte{byte(0x80 | b.Track)}
	body = binary.BigEndian.AppendUint16(body, uint16(relative))
	body = append(body, flags)
	body = append(body, b.Data...)
	if b.NoBlock {
		return master(0xA0, master(0xFB, []byte{0xFF}))
	}
	if !b.InGroup {
		return master(0xA3, body)
	}
	group := [][]byte{master(0xA1, body)}
	if !b.Keyframe {
		group = append(group, master(0xFB, []byte{0xFF}))
	}
	return master(0xA0, group...)
}
