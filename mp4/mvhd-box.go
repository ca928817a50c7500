package mp4

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/gomedia/remux/stream"
)

// aligned(8) class MovieHeaderBox extends FullBox(‘mvhd’, version, 0) {
//     if (version==1) {
//         unsigned int(64) creation_time;
//         unsigned int(64) modification_time;
//         unsigned int(32) timescale;
//         unsigned int(64) duration;
//     } else { // version==0
//         unsigned int(32) creation_time;
//         unsigned int(32) modification_time;
//         unsigned int(32) timescale;
//         unsigned int(32) duration;
//     }
//     template int(32) rate = 0x00010000; // typically 1.0
//     template int(16) volume = 0x0100; // typically, full volume
//     const bit(16) reserved = 0;
//     const unsigned int(32)[2] reserved = 0;
//     template int(32)[9] matrix =
//         { 0x00010000,0,0,0,0x00010000,0,0,0,0x40000000 };
//     bit(32)[6] pre_defined = 0;
//     unsigned int(32) next_track_ID;
// }

var unityMatrix = [9]uint32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000}

type MovieHeaderBox struct {
	Box               *FullBox
	Creation_time     uint64
	Modification_time uint64
	Timescale         uint32
	Duration          uint64
	Rate              uint32
	Volume            uint16
	Matrix            [9]uint32
	Next_track_ID     uint32
}

func NewMovieHeaderBox() *MovieHeaderBox {
	return &MovieHeaderBox{
		Box:       NewFullBox(TypeMVHD, 1),
		Timescale: 1000,
		Rate:      0x00010000,
		Volume:    0x0100,
		Matrix:    unityMatrix,
	}
}

func (mvhd *MovieHeaderBox) Size() uint64 {
	if mvhd.Box.Version == 1 {
		return mvhd.Box.Size() + 108
	}
	return mvhd.Box.Size() + 96
}

func (mvhd *MovieHeaderBox) Decode(buf []byte) (offset int, err error) {
	if offset, err = mvhd.Box.Decode(buf); err != nil {
		return
	}
	if len(buf) < int(mvhd.Size())-8 {
		return 0, errors.Wrapf(stream.ErrMalformed, "mvhd payload of %d bytes", len(buf))
	}
	if mvhd.Box.Version == 1 {
		mvhd.Creation_time = binary.BigEndian.Uint64(buf[offset:])
		mvhd.Modification_time = binary.BigEndian.Uint64(buf[offset+8:])
		mvhd.Timescale = binary.BigEndian.Uint32(buf[offset+16:])
		mvhd.Duration = binary.BigEndian.Uint64(buf[offset+20:])
		offset += 28
	} else {
		mvhd.Creation_time = uint64(binary.BigEndian.Uint32(buf[offset:]))
		mvhd.Modification_time = uint64(binary.BigEndian.Uint32(buf[offset+4:]))
		mvhd.Timescale = binary.BigEndian.Uint32(buf[offset+8:])
		mvhd.Duration = uint64(binary.BigEndian.Uint32(buf[offset+12:]))
		offset += 16
	}
	mvhd.Rate = binary.BigEndian.Uint32(buf[offset:])
	mvhd.Volume = binary.BigEndian.Uint16(buf[offset+4:])
	offset += 16
	for i := range mvhd.Matrix {
		mvhd.Matrix[i] = binary.BigEndian.Uint32(buf[offset:])
		offset += 4
	}
	offset += 24
	mvhd.Next_track_ID = binary.BigEndian.Uint32(buf[offset:])
	return offset + 4, nil
}

func (mvhd *MovieHeaderBox) Encode() (int, []byte) {
	mvhd.Box.Version = 1
	buf := mvhd.Box.Encode(mvhd.Size())
	buf = binary.BigEndian.AppendUint64(buf, mvhd.Creation_time)
	buf = binary.BigEndian.AppendUint64(buf, mvhd.Modification_time)
	buf = binary.BigEndian.AppendUint32(buf, mvhd.Timescale)
	buf = binary.BigEndian.AppendUint64(buf, mvhd.Duration)
	buf = binary.BigEndian.AppendUint32(buf, mvhd.Rate)
	buf = binary.BigEndian.AppendUint16(buf, mvhd.Volume)
	buf = append(buf, make([]byte, 10)...)
	for _, m := range mvhd.Matrix {
		buf = binary.BigEndian.AppendUint32(buf, m)
	}
	buf = append(buf, make([]byte, 24)...)
	buf = binary.BigEndian.AppendUint32(buf, mvhd.Next_track_ID)
	return len(buf), buf
}
