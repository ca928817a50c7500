package mp4

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/gomedia/remux/stream"
)

// aligned(8) class TrackHeaderBox
//    extends FullBox(‘tkhd’, version, flags){
//    if (version==1) {
//       unsigned int(64)  creation_time;
//       unsigned int(64)  modification_time;
//       unsigned int(32)  track_ID;
//       const unsigned int(32)  reserved = 0;
//       unsigned int(64)  duration;
//    } else { // version==0
//       unsigned int(32)  creation_time;
//       unsigned int(32)  modification_time;
//       unsigned int(32)  track_ID;
//       const unsigned int(32)  reserved = 0;
//       unsigned int(32)  duration;
// }
// const unsigned int(32)[2] reserved = 0;
// template int(16) layer = 0;
// template int(16) alternate_group = 0;
// template int(16) volume = {if track_is_audio 0x0100 else 0};
// const unsigned int(16) reserved = 0;
// template int(32)[9] matrix=
// { 0x00010000,0,0,0,0x00010000,0,0,0,0x40000000 };
//       // unity matrix
//    unsigned int(32) width;
//    unsigned int(32) height;
// }

const (
	TKHD_FLAG_ENABLED    = 0x000001
	TKHD_FLAG_IN_MOVIE   = 0x000002
	TKHD_FLAG_IN_PREVIEW = 0x000004
)

const matrixSize = 36

type TrackHeaderBox struct {
	Box               *FullBox
	Creation_time     uint64
	Modification_time uint64
	Track_ID          uint32
	Duration          uint64
	Layer             uint16
	Alternate_group   uint16
	Volume            uint16
	Matrix            []byte
	Width             uint32
	Height            uint32
}

func NewTrackHeaderBox() *TrackHeaderBox {
	tkhd := &TrackHeaderBox{
		Box:    NewFullBox(TypeTKHD, 1),
		Matrix: make([]byte, 0, matrixSize),
	}
	for _, m := range unityMatrix {
		tkhd.Matrix = binary.BigEndian.AppendUint32(tkhd.Matrix, m)
	}
	tkhd.Box.SetFlags(TKHD_FLAG_ENABLED | TKHD_FLAG_IN_MOVIE)
	return tkhd
}

func (tkhd *TrackHeaderBox) Size() uint64 {
	if tkhd.Box.Version == 1 {
		return tkhd.Box.Size() + 92
	}
	return tkhd.Box.Size() + 80
}

func (tkhd *TrackHeaderBox) Decode(buf []byte) (offset int, err error) {
	if offset, err = tkhd.Box.Decode(buf); err != nil {
		return 0, err
	}
	if len(buf) < int(tkhd.Size())-8 {
		return 0, errors.Wrapf(stream.ErrMalformed, "tkhd payload of %d bytes", len(buf))
	}
	if tkhd.Box.Version == 1 {
		tkhd.Creation_time = binary.BigEndian.Uint64(buf[offset:])
		offset += 8
		tkhd.Modification_time = binary.BigEndian.Uint64(buf[offset:])
		offset += 8
		tkhd.Track_ID = binary.BigEndian.Uint32(buf[offset:])
		offset += 8
		tkhd.Duration = binary.BigEndian.Uint64(buf[offset:])
		offset += 8
	} else {
		tkhd.Creation_time = uint64(binary.BigEndian.Uint32(buf[offset:]))
		offset += 4
		tkhd.Modification_time = uint64(binary.BigEndian.Uint32(buf[offset:]))
		offset += 4
		tkhd.Track_ID = binary.BigEndian.Uint32(buf[offset:])
		offset += 8
		tkhd.Duration = uint64(binary.BigEndian.Uint32(buf[offset:]))
		offset += 4
	}
	offset += 8
	tkhd.Layer = binary.BigEndian.Uint16(buf[offset:])
	offset += 2
	tkhd.Alternate_group = binary.BigEndian.Uint16(buf[offset:])
	offset += 2
	tkhd.Volume = binary.BigEndian.Uint16(buf[offset:])
	offset += 4
	tkhd.Matrix = append([]byte(nil), buf[offset:offset+matrixSize]...)
	offset += matrixSize
	tkhd.Width = binary.BigEndian.Uint32(buf[offset:])
	tkhd.Height = binary.BigEndian.Uint32(buf[offset+4:])
	return offset + 8, nil
}

func (tkhd *TrackHeaderBox) Encode() (int, []byte) {
	tkhd.Box.Version = 1
	buf := tkhd.Box.Encode(tkhd.Size())
	buf = binary.BigEndian.AppendUint64(buf, tkhd.Creation_time)
	buf = binary.BigEndian.AppendUint64(buf, tkhd.Modification_time)
	buf = binary.BigEndian.AppendUint32(buf, tkhd.Track_ID)
	buf = append(buf, 0, 0, 0, 0)
	buf = binary.BigEndian.AppendUint64(buf, tkhd.Duration)
	buf = append(buf, make([]byte, 8)...)
	buf = binary.BigEndian.AppendUint16(buf, tkhd.Layer)
	buf = binary.BigEndian.AppendUint16(buf, tkhd.Alternate_group)
	buf = binary.BigEndian.AppendUint16(buf, tkhd.Volume)
	buf = append(buf, 0, 0)
	buf = append(buf, tkhd.Matrix...)
	buf = binary.BigEndian.AppendUint32(buf, tkhd.Width)
	buf = binary.BigEndian.AppendUint32(buf, tkhd.Height)
	return len(buf), buf
}
