package codec

import (
	"github.com/pkg/errors"

	"github.com/gomedia/remux/stream"
)

const (
	VorbisIdentificationHeader = 0x01
	VorbisCommentHeader        = 0x03
	VorbisSetupHeader          = 0x05
)

// SplitXiphLaced splits a Xiph laced blob, the layout Matroska uses for the
// Vorbis and Theora header packets. The first byte is the packet count
// minus one, then every packet but the last has its size coded as a run of
// 255 bytes closed by a byte below 255.
func SplitXiphLaced(blob []byte) ([][]byte, error) {
	if len(blob) < 1 {
		return nil, errors.Wrap(stream.ErrMalformed, "empty xiph laced blob")
	}
	count := int(blob[0]) + 1
	sizes := make([]int, count-1)
	pos := 1
	for i := range sizes {
		for {
			if pos >= len(blob) {
				return nil, errors.Wrapf(stream.ErrMalformed, "xiph lacing size %d truncated", i)
			}
			b := blob[pos]
			pos++
			sizes[i] += int(b)
			if b < 255 {
				break
			}
		}
	}
	packets := make([][]byte, 0, count)
	for _, size := range sizes {
		if pos+size > len(blob) {
			return nil, errors.Wrapf(stream.ErrMalformed, "xiph laced packet of %d bytes past the blob", size)
		}
		packets = append(packets, blob[pos:pos+size])
		pos += size
	}
	return append(packets, blob[pos:]), nil
}

// XiphLace is the inverse of SplitXiphLaced.
func XiphLace(packets ...[]byte) []byte {
	if len(packets) == 0 {
		return nil
	}
	blob := []byte{byte(len(packets) - 1)}
	for _, p := range packets[:len(packets)-1] {
		n := len(p)
		for ; n >= 255; n -= 255 {
			blob = append(blob, 255)
		}
		blob = append(blob, byte(n))
	}
	for _, p := range packets {
		blob = append(blob, p...)
	}
	return blob
}

// VorbisHeaders splits the Matroska codec private of a Vorbis track into
// its identification, comment and setup headers.
func VorbisHeaders(private []byte) (ident, comment, setup []byte, err error) {
	packets, err := SplitXiphLaced(private)
	if err != nil {
		return nil, nil, nil, err
	}
	if len(packets) != 3 {
		return nil, nil, nil, errors.Wrapf(stream.ErrMalformed, "vorbis codec private holds %d packets", len(packets))
	}
	for i, kind := range []byte{VorbisIdentificationHeader, VorbisCommentHeader, VorbisSetupHeader} {
		p := packets[i]
		if len(p) < 7 || p[0] != kind || string(p[1:7]) != "vorbis" {
			return nil, nil, nil, errors.Wrapf(stream.ErrMalformed, "vorbis header %d is not of type %d", i, kind)
		}
	}
	return packets[0], packets[1], packets[2], nil
}

// WriteVorbisComment writes a comment header with an empty vendor string,
// no comments and the framing bit.
func WriteVorbisComment() []byte {
	return []byte{
		VorbisCommentHeader, 'v', 'o', 'r', 'b', 'i', 's',
		0, 0, 0, 0, // vendor length
		0, 0, 0, 0, // user comment list length
		0x01, // framing bit
	}
}
