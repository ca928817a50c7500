package mp4

import "encoding/binary"

// aligned(8) class TimeToSampleBox extends FullBox(’stts’, version = 0, 0) {
//     unsigned int(32) entry_count;
//     int i;
//     for (i=0; i < entry_count; i++) {
//         unsigned int(32) sample_count;
//         unsigned int(32) sample_delta;
//     }
// }

type TimeToSampleBox struct {
	box        *FullBox
	entryCount uint32
}

func NewTimeToSampleBox(entryCount uint32) *TimeToSampleBox {
	return &TimeToSampleBox{
		box:        NewFullBox(TypeSTTS, 0),
		entryCount: entryCount,
	}
}

func (stts *TimeToSampleBox) Size() uint64 {
	return stts.box.Size() + 4 + 8*uint64(stts.entryCount)
}

// Encode returns the header and entry count; the rows follow.
func (stts *TimeToSampleBox) Encode() (int, []byte) {
	buf := stts.box.Encode(stts.Size())
	buf = binary.BigEndian.AppendUint32(buf, stts.entryCount)
	return len(buf), buf
}

func reserveStts(bw *boxWriter, entryCount uint32) (*tableRef, error) {
	_, hdr := NewTimeToSampleBox(entryCount).Encode()
	return bw.reserve(hdr, entryCount, 8)
}
