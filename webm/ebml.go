package webm

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"

	"github.com/gomedia/remux/stream"
)

// EBML element ids with their length marker bits kept, the way they appear
// on the wire.
const (
	ID_EBML                  = 0x1A45DFA3
	ID_EBML_VERSION          = 0x4286
	ID_EBML_READ_VERSION     = 0x42F7
	ID_EBML_MAX_ID_LENGTH    = 0x42F2
	ID_EBML_MAX_SIZE_LENGTH  = 0x42F3
	ID_DOC_TYPE              = 0x4282
	ID_DOC_TYPE_VERSION      = 0x4287
	ID_DOC_TYPE_READ_VERSION = 0x4285
	ID_VOID                  = 0xEC
	ID_SEGMENT               = 0x18538067
	ID_SEEK_HEAD             = 0x114D9B74
	ID_SEEK                  = 0x4DBB
	ID_SEEK_ID               = 0x53AB
	ID_SEEK_POSITION         = 0x53AC
	ID_INFO                  = 0x1549A966
	ID_TIMECODE_SCALE        = 0x2AD7B1
	ID_DURATION              = 0x4489
	ID_TRACKS                = 0x1654AE6B
	ID_TRACK_ENTRY           = 0xAE
	ID_TRACK_NUMBER          = 0xD7
	ID_TRACK_UID             = 0x73C5
	ID_TRACK_TYPE            = 0x83
	ID_FLAG_LACING           = 0x9C
	ID_LANGUAGE              = 0x22B59C
	ID_CODEC_ID              = 0x86
	ID_CODEC_PRIVATE         = 0x63A2
	ID_CODEC_DELAY           = 0x56AA
	ID_SEEK_PRE_ROLL         = 0x56BB
	ID_DEFAULT_DURATION      = 0x23E383
	ID_VIDEO                 = 0xE0
	ID_PIXEL_WIDTH           = 0xB0
	ID_PIXEL_HEIGHT          = 0xBA
	ID_AUDIO                 = 0xE1
	ID_SAMPLING_FREQUENCY    = 0xB5
	ID_CHANNELS              = 0x9F
	ID_CLUSTER               = 0x1F43B675
	ID_TIMECODE              = 0xE7
	ID_SIMPLE_BLOCK          = 0xA3
	ID_BLOCK_GROUP           = 0xA0
	ID_BLOCK                 = 0xA1
	ID_REFERENCE_BLOCK       = 0xFB
	ID_CUES                  = 0x1C53BB6B
	ID_CUE_POINT             = 0xBB
	ID_CUE_TIME              = 0xB3
	ID_CUE_TRACK_POSITIONS   = 0xB7
	ID_CUE_TRACK             = 0xF7
	ID_CUE_CLUSTER_POSITION  = 0xF1
	ID_CUE_RELATIVE_POSITION = 0xF0
	ID_CHAPTERS              = 0x1043A770
	ID_TAGS                  = 0x1254C367
	ID_ATTACHMENTS           = 0x1941A469
)

// unknownSize marks an element whose data size field is all ones.
const unknownSize = -1

// binary elements and blocks larger than this are refused instead of being
// loaded
const maxElementSize = 64 << 20

// element is the header of an EBML element.
type element struct {
	id     uint32
	offset int64
	header int64
	size   int64
}

func (e *element) dataOffset() int64 {
	return e.offset + e.header
}

// end is the offset right after the element, or -1 for unknown sizes.
func (e *element) end() int64 {
	if e.size == unknownSize {
		return -1
	}
	return e.offset + e.header + e.size
}

// isTopLevel reports ids that close an unknown sized Cluster.
func isTopLevel(id uint32) bool {
	switch id {
	case ID_EBML, ID_SEGMENT, ID_SEEK_HEAD, ID_INFO, ID_TRACKS, ID_CLUSTER,
		ID_CUES, ID_CHAPTERS, ID_TAGS, ID_ATTACHMENTS:
		return true
	}
	return false
}

// readVint reads a variable length integer of at most maxLen bytes. With
// keepMarker the length marker bit stays in the value, as element ids do.
func readVint(r *stream.Reader, maxLen int, keepMarker bool) (value uint64, length int, allOnes bool, err error) {
	first, err := r.ReadByte()
	if err != nil {
		return 0, 0, false, err
	}
	length = 1
	mask := byte(0x80)
	for length <= 8 && first&mask == 0 {
		length++
		mask >>= 1
	}
	if length > maxLen {
		return 0, 0, false, errors.Wrapf(stream.ErrMalformed, "vint of %d bytes at %d", length, r.Position()-1)
	}
	value = uint64(first)
	if !keepMarker {
		value = uint64(first & (mask - 1))
	}
	allOnes = first&(mask-1) == mask-1
	for i := 1; i < length; i++ {
		b, err := r.ReadByte()
		if err != nil {
			if err == io.EOF {
				return 0, 0, false, stream.Truncated(length - i)
			}
			return 0, 0, false, err
		}
		value = value<<8 | uint64(b)
		allOnes = allOnes && b == 0xFF
	}
	return value, length, allOnes, nil
}

// readElement reads an element header. io.EOF is returned untouched when
// the stream ends right before it.
func readElement(r *stream.Reader) (*element, error) {
	offset := r.Position()
	id, idLen, _, err := readVint(r, 4, true)
	if err != nil {
		return nil, err
	}
	size, sizeLen, allOnes, err := readVint(r, 8, false)
	if err != nil {
		if err == io.EOF {
			return nil, stream.Truncated(1)
		}
		return nil, err
	}
	el := &element{
		id:     uint32(id),
		offset: offset,
		header: int64(idLen + sizeLen),
		size:   int64(size),
	}
	if allOnes {
		el.size = unknownSize
	} else if el.size < 0 {
		return nil, errors.Wrapf(stream.ErrMalformed, "element %x size overflows", el.id)
	}
	return el, nil
}

// readChild reads the next child of parent, io.EOF once the parent is
// exhausted. A child running past its parent is malformed.
func readChild(r *stream.Reader, parent *element) (*element, error) {
	end := parent.end()
	if end >= 0 && r.Position() >= end {
		return nil, io.EOF
	}
	el, err := readElement(r)
	if err != nil {
		if err == io.EOF && end >= 0 {
			return nil, stream.Truncated(int(end - r.Position()))
		}
		return nil, err
	}
	if end >= 0 {
		if el.size == unknownSize && el.id != ID_CLUSTER {
			el.size = end - el.dataOffset()
		}
		if el.end() > end {
			return nil, errors.Wrapf(stream.ErrMalformed, "element %x at %d overruns its parent %x", el.id, el.offset, parent.id)
		}
	}
	return el, nil
}

func skipElement(r *stream.Reader, el *element) error {
	if el.size == unknownSize {
		return errors.Wrapf(stream.ErrMalformed, "cannot skip unknown sized element %x", el.id)
	}
	left := el.end() - r.Position()
	return r.Skip(left)
}

func readUint(r *stream.Reader, el *element) (uint64, error) {
	if el.size > 8 || el.size < 0 {
		return 0, errors.Wrapf(stream.ErrMalformed, "unsigned element %x of %d bytes", el.id, el.size)
	}
	var v uint64
	for i := int64(0); i < el.size; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, stream.Truncated(int(el.size - i))
		}
		v = v<<8 | uint64(b)
	}
	return v, nil
}

func readFloat(r *stream.Reader, el *element) (float64, error) {
	switch el.size {
	case 0:
		return 0, nil
	case 4:
		v, err := r.ReadUint32()
		return float64(math.Float32frombits(v)), err
	case 8:
		v, err := r.ReadUint64()
		return math.Float64frombits(v), err
	}
	return 0, errors.Wrapf(stream.ErrMalformed, "float element %x of %d bytes", el.id, el.size)
}

func readBinary(r *stream.Reader, el *element) ([]byte, error) {
	if el.size == unknownSize {
		return nil, errors.Wrapf(stream.ErrMalformed, "binary element %x without size", el.id)
	}
	if el.size > maxElementSize {
		return nil, errors.Wrapf(stream.ErrMalformed, "binary element %x of %d bytes", el.id, el.size)
	}
	return r.ReadBytes(el.size)
}

func readString(r *stream.Reader, el *element) (string, error) {
	b, err := readBinary(r, el)
	if err != nil {
		return "", err
	}
	for len(b) > 0 && b[len(b)-1] == 0 {
		b = b[:len(b)-1]
	}
	return string(b), nil
}

// encode writes n in the fewest 7 bit groups that hold it. withLength
// yields an unsigned element payload prefixed by its one byte size,
// otherwise a vint carrying its length marker. A value filling its groups
// with ones takes one more byte so it never reads as an unknown size.
func encode(n uint64, withLength bool) []byte {
	length := 8
	for i := 1; i <= 7; i++ {
		if n < uint64(1)<<(7*i) {
			length = i
			break
		}
	}
	if length < 8 && n == uint64(1)<<(7*length)-1 {
		length++
	}
	offset := 0
	if withLength {
		offset = 1
	}
	buf := make([]byte, offset+length)
	for i, shift := length-1, 0; i >= 0; i, shift = i-1, shift+8 {
		buf[offset+i] = byte(n >> shift)
	}
	if withLength {
		buf[0] = byte(0x80 | length)
	} else {
		buf[0] |= byte(0x80 >> (length - 1))
	}
	return buf
}

// encodeString is a vint length followed by the bytes of s.
func encodeString(s string) []byte {
	return append(encode(uint64(len(s)), false), s...)
}

// appendID appends an element id in its wire form.
func appendID(b []byte, id uint32) []byte {
	switch {
	case id > 0xFFFFFF:
		return binary.BigEndian.AppendUint32(b, id)
	case id > 0xFFFF:
		return append(b, byte(id>>16), byte(id>>8), byte(id))
	case id > 0xFF:
		return append(b, byte(id>>8), byte(id))
	}
	return append(b, byte(id))
}

// masterElement wraps children into an element with a minimal vint size.
func masterElement(id uint32, children ...[]byte) []byte {
	var size int
	for _, c := range children {
		size += len(c)
	}
	b := appendID(nil, id)
	b = append(b, encode(uint64(size), false)...)
	for _, c := range children {
		b = append(b, c...)
	}
	return b
}

// uintElement is an unsigned element whose payload length follows encode.
func uintElement(id uint32, v uint64) []byte {
	return append(appendID(nil, id), encode(v, true)...)
}

func binaryElement(id uint32, data []byte) []byte {
	return masterElement(id, data)
}
