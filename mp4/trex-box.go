package mp4

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/gomedia/remux/stream"
)

// aligned(8) class TrackExtendsBox extends FullBox(‘trex’, 0, 0){
//     unsigned int(32) track_ID;
//     unsigned int(32) default_sample_description_index;
//     unsigned int(32) default_sample_duration;
//     unsigned int(32) default_sample_size;
//     unsigned int(32) default_sample_flags
// }

type TrackExtendsBox struct {
	Box                           *FullBox
	TrackID                       uint32
	DefaultSampleDescriptionIndex uint32
	DefaultSampleDuration         uint32
	DefaultSampleSize             uint32
	DefaultSampleFlags            uint32
}

func NewTrackExtendsBox(trackid uint32) *TrackExtendsBox {
	return &TrackExtendsBox{
		Box:                           NewFullBox(TypeTREX, 0),
		TrackID:                       trackid,
		DefaultSampleDescriptionIndex: 1,
	}
}

func (trex *TrackExtendsBox) Size() uint64 {
	return trex.Box.Size() + 20
}

func (trex *TrackExtendsBox) Decode(buf []byte) (offset int, err error) {
	if offset, err = trex.Box.Decode(buf); err != nil {
		return
	}
	if len(buf) < offset+20 {
		return 0, errors.Wrapf(stream.ErrMalformed, "trex payload of %d bytes", len(buf))
	}
	trex.TrackID = binary.BigEndian.Uint32(buf[offset:])
	trex.DefaultSampleDescriptionIndex = binary.BigEndian.Uint32(buf[offset+4:])
	trex.DefaultSampleDuration = binary.BigEndian.Uint32(buf[offset+8:])
	trex.DefaultSampleSize = binary.BigEndian.Uint32(buf[offset+12:])
	trex.DefaultSampleFlags = binary.BigEndian.Uint32(buf[offset+16:])
	return offset + 20, nil
}
