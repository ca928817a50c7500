package mp4

import (
	"encoding/binary"
)

// aligned(8) class SyncSampleBox extends FullBox(‘stss’, version = 0, 0) {
//  	unsigned int(32) entry_count;
//  	int i;
//  	for (i=0; i < entry_count; i++) {
//  		unsigned int(32) sample_number;
//  	}
//  }

type SyncSampleBox struct {
	box        *FullBox
	entryCount uint32
}

func NewSyncSampleBox(entryCount uint32) *SyncSampleBox {
	return &SyncSampleBox{
		box:        NewFullBox(TypeSTSS, 0),
		entryCount: entryCount,
	}
}

func (stss *SyncSampleBox) Size() uint64 {
	return stss.box.Size() + 4 + 4*uint64(stss.entryCount)
}

func (stss *SyncSampleBox) Encode() (int, []byte) {
	buf := stss.box.Encode(stss.Size())
	buf = binary.BigEndian.AppendUint32(buf, stss.entryCount)
	return len(buf), buf
}

// reserveStss is a no-op when every sample is a sync sample.
func reserveStss(bw *boxWriter, stats *trackStats) (*tableRef, error) {
	if !stats.needStss() {
		return nil, nil
	}
	_, hdr := NewSyncSampleBox(stats.keyframes).Encode()
	return bw.reserve(hdr, stats.keyframes, 4)
}
