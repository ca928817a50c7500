package mp4

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/gomedia/remux/stream"
)

// Box Type: 'hdlr'
// Container: Media Box (‘mdia’) or Meta Box (‘meta’)
// Mandatory: Yes
// Quantity: Exactly one

// aligned(8) class HandlerBox extends FullBox(‘hdlr’, version = 0, 0) { unsigned int(32) pre_defined = 0;
// 	unsigned int(32) handler_type;
// 	const unsigned int(32)[3] reserved = 0;
// 	   string   name;
// 	}

// handler_type
// value from a derived specification:
// ‘vide’ Video track
// ‘soun’ Audio track
// ‘subt’ Subtitle track
// ‘text’ Timed text track
// ‘meta’ Timed Metadata track

type HandlerType [4]byte

var (
	vide = HandlerType{'v', 'i', 'd', 'e'}
	soun = HandlerType{'s', 'o', 'u', 'n'}
	subt = HandlerType{'s', 'u', 'b', 't'}
	text = HandlerType{'t', 'e', 'x', 't'}
	sbtl = HandlerType{'s', 'b', 't', 'l'}
)

func (ht HandlerType) String() string {
	return string(ht[:])
}

type HandlerBox struct {
	Box          *FullBox
	Pre_defined  HandlerType
	Handler_type HandlerType
	Name         string
}

func NewHandlerBox(handlerType HandlerType, name string) *HandlerBox {
	return &HandlerBox{
		Box:          NewFullBox(TypeHDLR, 0),
		Handler_type: handlerType,
		Name:         name,
	}
}

// Size counts the name plus its null terminator.
func (hdlr *HandlerBox) Size() uint64 {
	return hdlr.Box.Size() + 20 + uint64(len(hdlr.Name)) + 1
}

func (hdlr *HandlerBox) Decode(buf []byte) (offset int, err error) {
	if offset, err = hdlr.Box.Decode(buf); err != nil {
		return 0, err
	}
	if len(buf) < offset+20 {
		return 0, errors.Wrapf(stream.ErrMalformed, "hdlr payload of %d bytes", len(buf))
	}
	copy(hdlr.Pre_defined[:], buf[offset:])
	copy(hdlr.Handler_type[:], buf[offset+4:])
	offset += 20
	name := buf[offset:]
	for i, c := range name {
		if c == 0 {
			name = name[:i]
			break
		}
	}
	hdlr.Name = string(name)
	return len(buf), nil
}

func (hdlr *HandlerBox) Encode() (int, []byte) {
	buf := hdlr.Box.Encode(hdlr.Size())
	buf = append(buf, hdlr.Pre_defined[:]...)
	buf = append(buf, hdlr.Handler_type[:]...)
	buf = binary.BigEndian.AppendUint32(buf, 0)
	buf = binary.BigEndian.AppendUint32(buf, 0)
	buf = binary.BigEndian.AppendUint32(buf, 0)
	buf = append(buf, hdlr.Name...)
	buf = append(buf, 0)
	return len(buf), buf
}

func kindOf(handler HandlerType) TrackKind {
	switch handler {
	case vide:
		return KindVideo
	case soun:
		return KindAudio
	case subt, text, sbtl:
		return KindSubtitles
	}
	return KindOther
}
