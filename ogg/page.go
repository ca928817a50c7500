// Package ogg writes Ogg bitstreams out of WebM audio tracks and reads
// them back page by page.
package ogg

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/gomedia/remux/stream"
)

const (
	FlagContinued = 0x01
	FlagFirst     = 0x02
	FlagLast      = 0x04
)

const (
	pageHeaderSize      = 27
	pageHeaderSignature = "OggS"
	maxSegments         = 255
	maxSegmentSize      = 255
	// a packet needs one segment more than its size in 255 byte lacing
	// values, so one page holds less than 255*255 bytes of one packet
	maxPacketSize = maxSegments*maxSegmentSize - 1
)

var checksumTable = generateChecksumTable()

// generateChecksumTable builds the table of the Ogg CRC-32: polynomial
// 0x04c11db7, no reflection, initial value 0.
func generateChecksumTable() *[256]uint32 {
	var table [256]uint32
	const poly = 0x04c11db7

	for i := range table {
		r := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if (r & 0x80000000) != 0 {
				r = (r << 1) ^ poly
			} else {
				r <<= 1
			}
		}
		table[i] = r
	}
	return &table
}

// Checksum computes the page CRC over b, whose checksum field must be zero.
func Checksum(b []byte) uint32 {
	var crc uint32
	for _, v := range b {
		crc = (crc << 8) ^ checksumTable[byte(crc>>24)^v]
	}
	return crc
}

// Page is one Ogg page. Segments is the lacing table and Payload the
// concatenated segments.
type Page struct {
	Flags    byte
	Granule  uint64
	Serial   uint32
	Sequence uint32
	Checksum uint32
	Segments []byte
	Payload  []byte
}

func (p *Page) IsFirst() bool     { return p.Flags&FlagFirst != 0 }
func (p *Page) IsLast() bool      { return p.Flags&FlagLast != 0 }
func (p *Page) IsContinued() bool { return p.Flags&FlagContinued != 0 }

// Encode lays out the page and fills its checksum.
func (p *Page) Encode() []byte {
	b := make([]byte, pageHeaderSize, pageHeaderSize+len(p.Segments)+len(p.Payload))
	copy(b, pageHeaderSignature)
	b[4] = 0
	b[5] = p.Flags
	binary.LittleEndian.PutUint64(b[6:], p.Granule)
	binary.LittleEndian.PutUint32(b[14:], p.Serial)
	binary.LittleEndian.PutUint32(b[18:], p.Sequence)
	b[26] = byte(len(p.Segments))
	b = append(b, p.Segments...)
	b = append(b, p.Payload...)
	p.Checksum = Checksum(b)
	binary.LittleEndian.PutUint32(b[22:], p.Checksum)
	return b
}

// segmentCount is the number of lacing values a packet of size bytes
// takes. A size multiple of 255, zero included, ends with a 0 entry.
func segmentCount(size int) int {
	return size/maxSegmentSize + 1
}

// appendSegments adds the lacing values of a packet of size bytes.
func appendSegments(table []byte, size int) []byte {
	for ; size >= maxSegmentSize; size -= maxSegmentSize {
		table = append(table, maxSegmentSize)
	}
	return append(table, byte(size))
}

// ReadPage reads the next page and checks its checksum. It returns io.EOF
// when r ends on a page boundary.
func ReadPage(r io.Reader) (*Page, error) {
	hdr := make([]byte, pageHeaderSize)
	n, err := io.ReadFull(r, hdr)
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, stream.Truncated(pageHeaderSize - n)
		}
		return nil, errors.Wrap(err, "read ogg page header")
	}
	if string(hdr[0:4]) != pageHeaderSignature {
		return nil, errors.Wrapf(stream.ErrMalformed, "expected OggS found %q", hdr[0:4])
	}
	if hdr[4] != 0 {
		return nil, errors.Wrapf(stream.ErrMalformed, "unsupported ogg version %d", hdr[4])
	}
	page := &Page{
		Flags:    hdr[5],
		Granule:  binary.LittleEndian.Uint64(hdr[6:]),
		Serial:   binary.LittleEndian.Uint32(hdr[14:]),
		Sequence: binary.LittleEndian.Uint32(hdr[18:]),
		Checksum: binary.LittleEndian.Uint32(hdr[22:]),
		Segments: make([]byte, hdr[26]),
	}
	if n, err = io.ReadFull(r, page.Segments); err != nil {
		return nil, stream.Truncated(len(page.Segments) - n)
	}
	payloadLen := 0
	for _, s := range page.Segments {
		payloadLen += int(s)
	}
	page.Payload = make([]byte, payloadLen)
	if n, err = io.ReadFull(r, page.Payload); err != nil {
		return nil, stream.Truncated(payloadLen - n)
	}

	binary.LittleEndian.PutUint32(hdr[22:], 0)
	crc := Checksum(hdr)
	for _, part := range [][]byte{page.Segments, page.Payload} {
		for _, v := range part {
			crc = (crc << 8) ^ checksumTable[byte(crc>>24)^v]
		}
	}
	if crc != page.Checksum {
		return nil, errors.Wrapf(stream.ErrMalformed, "page %d checksum %08x, computed %08x", page.Sequence, page.Checksum, crc)
	}
	return page, nil
}
