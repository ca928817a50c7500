package mp4

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/gomedia/remux/stream"
)

// aligned(8) class EditListBox extends FullBox(‘elst’, version, 0) {
//     unsigned int(32) entry_count;
//     for (i=1; i <= entry_count; i++) {
//         if (version==1) {
//             unsigned int(64) segment_duration;
//             int(64) media_time;
//         } else { // version==0
//             unsigned int(32) segment_duration;
//             int(32) media_time;
//         }
//         int(16) media_rate_integer;
//         int(16) media_rate_fraction = 0;
//     }
// }

const defaultMediaRate = 0x00010000

type EditListBox struct {
	Box             *FullBox
	SegmentDuration uint64
	MediaTime       int64
	MediaRate       uint32
}

func NewEditListBox() *EditListBox {
	return &EditListBox{
		Box:       NewFullBox(TypeELST, 0),
		MediaRate: defaultMediaRate,
	}
}

func (elst *EditListBox) Size() uint64 {
	if elst.Box.Version == 1 {
		return elst.Box.Size() + 4 + 20
	}
	return elst.Box.Size() + 4 + 12
}

// Decode keeps the first entry only. An empty list means play at 1.0
// from media time 0.
func (elst *EditListBox) Decode(buf []byte) (offset int, err error) {
	if offset, err = elst.Box.Decode(buf); err != nil {
		return
	}
	if len(buf) < offset+4 {
		return 0, errors.Wrap(stream.ErrMalformed, "elst without entry count")
	}
	count := binary.BigEndian.Uint32(buf[offset:])
	offset += 4
	if count == 0 {
		elst.MediaTime = 0
		elst.MediaRate = defaultMediaRate
		return
	}
	need := 12
	if elst.Box.Version == 1 {
		need = 20
	}
	if len(buf) < offset+need {
		return 0, errors.Wrap(stream.ErrMalformed, "elst entry truncated")
	}
	if elst.Box.Version == 1 {
		elst.SegmentDuration = binary.BigEndian.Uint64(buf[offset:])
		elst.MediaTime = int64(binary.BigEndian.Uint64(buf[offset+8:]))
		offset += 16
	} else {
		elst.SegmentDuration = uint64(binary.BigEndian.Uint32(buf[offset:]))
		elst.MediaTime = int64(int32(binary.BigEndian.Uint32(buf[offset+4:])))
		offset += 8
	}
	elst.MediaRate = binary.BigEndian.Uint32(buf[offset:])
	return offset + 4, nil
}

func (elst *EditListBox) Encode() (int, []byte) {
	if elst.SegmentDuration > 0xFFFFFFFF || elst.MediaTime > 0x7FFFFFFF || elst.MediaTime < -0x80000000 {
		elst.Box.Version = 1
	}
	buf := elst.Box.Encode(elst.Size())
	buf = binary.BigEndian.AppendUint32(buf, 1)
	if elst.Box.Version == 1 {
		buf = binary.BigEndian.AppendUint64(buf, elst.SegmentDuration)
		buf = binary.BigEndian.AppendUint64(buf, uint64(elst.MediaTime))
	} else {
		buf = binary.BigEndian.AppendUint32(buf, uint32(elst.SegmentDuration))
		buf = binary.BigEndian.AppendUint32(buf, uint32(int32(elst.MediaTime)))
	}
	buf = binary.BigEndian.AppendUint32(buf, elst.MediaRate)
	return len(buf), buf
}
