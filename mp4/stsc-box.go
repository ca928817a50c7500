package mp4

import "encoding/binary"

// aligned(8) class SampleToChunkBox extends FullBox(‘stsc’, version = 0, 0) {
//     unsigned int(32) entry_count;
//     for (i=1; i <= entry_count; i++) {
//         unsigned int(32) first_chunk;
//         unsigned int(32) samples_per_chunk;
//         unsigned int(32) sample_description_index;
//     }
// }

type SampleToChunkBox struct {
	box    *FullBox
	entrys []stscEntry
}

func NewSampleToChunkBox(entrys []stscEntry) *SampleToChunkBox {
	return &SampleToChunkBox{
		box:    NewFullBox(TypeSTSC, 0),
		entrys: entrys,
	}
}

func (stsc *SampleToChunkBox) Size() uint64 {
	return stsc.box.Size() + 4 + 12*uint64(len(stsc.entrys))
}

func (stsc *SampleToChunkBox) Encode() (int, []byte) {
	buf := stsc.box.Encode(stsc.Size())
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(stsc.entrys)))
	for _, entry := range stsc.entrys {
		buf = binary.BigEndian.AppendUint32(buf, entry.firstChunk)
		buf = binary.BigEndian.AppendUint32(buf, entry.samplesPerChunk)
		buf = binary.BigEndian.AppendUint32(buf, entry.sampleDescriptionIndex)
	}
	return len(buf), buf
}

func makeStsc(entrys []stscEntry) (boxdata []byte) {
	_, boxdata = NewSampleToChunkBox(entrys).Encode()
	return
}
