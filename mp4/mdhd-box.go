package mp4

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/gomedia/remux/stream"
)

// aligned(8) class MediaHeaderBox extends FullBox(‘mdhd’, version, 0) { if (version==1) {
// 	unsigned int(64)  creation_time;
// 	unsigned int(64)  modification_time;
// 	unsigned int(32)  timescale;
// 	unsigned int(64)  duration;
//  } else { // version==0
// 	unsigned int(32)  creation_time;
// 	unsigned int(32)  modification_time;
// 	unsigned int(32)  timescale;
// 	unsigned int(32)  duration;
// }
// bit(1) pad = 0;
// unsigned int(5)[3] language; // ISO-639-2/T language code
// unsigned int(16) pre_defined = 0;
// }

type MediaHeaderBox struct {
	Box               *FullBox
	Creation_time     uint64
	Modification_time uint64
	Timescale         uint32
	Duration          uint64
	Language          [3]uint8
}

func NewMediaHeaderBox() *MediaHeaderBox {
	return &MediaHeaderBox{
		Box:      NewFullBox(TypeMDHD, 0),
		Language: [3]uint8{'u' - 0x60, 'n' - 0x60, 'd' - 0x60},
	}
}

func (mdhd *MediaHeaderBox) Size() uint64 {
	if mdhd.Box.Version == 1 {
		return mdhd.Box.Size() + 32
	}
	return mdhd.Box.Size() + 20
}

func (mdhd *MediaHeaderBox) Decode(buf []byte) (offset int, err error) {
	if offset, err = mdhd.Box.Decode(buf); err != nil {
		return 0, err
	}
	if len(buf) < int(mdhd.Size())-8 {
		return 0, errors.Wrapf(stream.ErrMalformed, "mdhd payload of %d bytes", len(buf))
	}
	if mdhd.Box.Version == 1 {
		mdhd.Creation_time = binary.BigEndian.Uint64(buf[offset:])
		offset += 8
		mdhd.Modification_time = binary.BigEndian.Uint64(buf[offset:])
		offset += 8
		mdhd.Timescale = binary.BigEndian.Uint32(buf[offset:])
		offset += 4
		mdhd.Duration = binary.BigEndian.Uint64(buf[offset:])
		offset += 8
	} else {
		mdhd.Creation_time = uint64(binary.BigEndian.Uint32(buf[offset:]))
		offset += 4
		mdhd.Modification_time = uint64(binary.BigEndian.Uint32(buf[offset:]))
		offset += 4
		mdhd.Timescale = binary.BigEndian.Uint32(buf[offset:])
		offset += 4
		mdhd.Duration = uint64(binary.BigEndian.Uint32(buf[offset:]))
		offset += 4
	}
	lang := binary.BigEndian.Uint16(buf[offset:])
	mdhd.Language[0] = uint8(lang>>10) & 0x1F
	mdhd.Language[1] = uint8(lang>>5) & 0x1F
	mdhd.Language[2] = uint8(lang) & 0x1F
	return offset + 4, nil
}

func (mdhd *MediaHeaderBox) Encode() (int, []byte) {
	if mdhd.Duration > 0xFFFFFFFF {
		mdhd.Box.Version = 1
	}
	buf := mdhd.Box.Encode(mdhd.Size())
	if mdhd.Box.Version == 1 {
		buf = binary.BigEndian.AppendUint64(buf, mdhd.Creation_time)
		buf = binary.BigEndian.AppendUint64(buf, mdhd.Modification_time)
		buf = binary.BigEndian.AppendUint32(buf, mdhd.Timescale)
		buf = binary.BigEndian.AppendUint64(buf, mdhd.Duration)
	} else {
		buf = binary.BigEndian.AppendUint32(buf, uint32(mdhd.Creation_time))
		buf = binary.BigEndian.AppendUint32(buf, uint32(mdhd.Modification_time))
		buf = binary.BigEndian.AppendUint32(buf, mdhd.Timescale)
		buf = binary.BigEndian.AppendUint32(buf, uint32(mdhd.Duration))
	}
	lang := uint16(mdhd.Language[0]&0x1F)<<10 | uint16(mdhd.Language[1]&0x1F)<<5 | uint16(mdhd.Language[2]&0x1F)
	buf = binary.BigEndian.AppendUint16(buf, lang)
	buf = append(buf, 0, 0)
	return len(buf), buf
}
