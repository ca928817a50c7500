package mp4

import "encoding/binary"

// aligned(8) class SampleSizeBox extends FullBox(‘stsz’, version = 0, 0) {
// 		unsigned int(32) sample_size;
// 		unsigned int(32) sample_count;
// 		if (sample_size==0) {
// 		for (i=1; i <= sample_count; i++) {
// 		unsigned int(32) entry_size;
// 		}
// 	}
// }

type SampleSizeBox struct {
	box         *FullBox
	sampleSize  uint32
	sampleCount uint32
}

func NewSampleSizeBox(sampleSize, sampleCount uint32) *SampleSizeBox {
	return &SampleSizeBox{
		box:         NewFullBox(TypeSTSZ, 0),
		sampleSize:  sampleSize,
		sampleCount: sampleCount,
	}
}

func (stsz *SampleSizeBox) Size() uint64 {
	if stsz.sampleSize == 0 {
		return stsz.box.Size() + 8 + 4*uint64(stsz.sampleCount)
	}
	return stsz.box.Size() + 8
}

func (stsz *SampleSizeBox) Encode() (int, []byte) {
	buf := stsz.box.Encode(stsz.Size())
	buf = binary.BigEndian.AppendUint32(buf, stsz.sampleSize)
	buf = binary.BigEndian.AppendUint32(buf, stsz.sampleCount)
	return len(buf), buf
}

// reserveStsz writes a default size and no rows when every sample has the
// same size.
func reserveStsz(bw *boxWriter, stats *trackStats) (*tableRef, error) {
	if !stats.sizeVaries && stats.samples > 0 {
		_, boxdata := NewSampleSizeBox(stats.firstSize, stats.samples).Encode()
		return nil, bw.write(boxdata)
	}
	_, hdr := NewSampleSizeBox(0, stats.samples).Encode()
	return bw.reserve(hdr, stats.samples, 4)
}
