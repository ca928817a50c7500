package mp4

import "encoding/binary"

// aligned(8) class CompositionOffsetBox extends FullBox(‘ctts’, version = 0, 0) {
//     unsigned int(32) entry_count;
//     int i;
//     if (version==0) {
//         for (i=0; i < entry_count; i++) {
//             unsigned int(32) sample_count;
//             unsigned int(32) sample_offset;
//         }
//     }
//     else if (version == 1) {
//         for (i=0; i < entry_count; i++) {
//             unsigned int(32) sample_count;
//             signed int(32) sample_offset;
//         }
//     }
// }

type CompositionOffsetBox struct {
	box        *FullBox
	entryCount uint32
}

func NewCompositionOffsetBox(entryCount uint32, signed bool) *CompositionOffsetBox {
	ctts := &CompositionOffsetBox{
		box:        NewFullBox(TypeCTTS, 0),
		entryCount: entryCount,
	}
	if signed {
		ctts.box.Version = 1
	}
	return ctts
}

func (ctts *CompositionOffsetBox) Size() uint64 {
	return ctts.box.Size() + 4 + 8*uint64(ctts.entryCount)
}

func (ctts *CompositionOffsetBox) Encode() (int, []byte) {
	buf := ctts.box.Encode(ctts.Size())
	buf = binary.BigEndian.AppendUint32(buf, ctts.entryCount)
	return len(buf), buf
}

func reserveCtts(bw *boxWriter, stats *trackStats) (*tableRef, error) {
	if !stats.hasCtts {
		return nil, nil
	}
	_, hdr := NewCompositionOffsetBox(stats.ctts.runs, stats.negativeCtts).Encode()
	return bw.reserve(hdr, stats.ctts.runs, 8)
}
