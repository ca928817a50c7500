package mp4

import (
	"encoding/binary"
)

// aligned(8) class ChunkOffsetBox
//     extends FullBox(‘stco’, version = 0, 0) {
//         unsigned int(32) entry_count;
//         for (i=1; i <= entry_count; i++) {
//             unsigned int(32) chunk_offset;
//     }
// }
// aligned(8) class ChunkLargeOffsetBox
//     extends FullBox(‘co64’, version = 0, 0) {
//         unsigned int(32) entry_count;
//         for (i=1; i <= entry_count; i++) {
//             unsigned int(64) chunk_offset;
//         }
// }

type ChunkOffsetBox struct {
	box        *FullBox
	entryCount uint32
	large      bool
}

func NewChunkOffsetBox(entryCount uint32, large bool) *ChunkOffsetBox {
	typ := TypeSTCO
	if large {
		typ = TypeCO64
	}
	return &ChunkOffsetBox{
		box:        NewFullBox(typ, 0),
		entryCount: entryCount,
		large:      large,
	}
}

func (stco *ChunkOffsetBox) rowSize() int {
	if stco.large {
		return 8
	}
	return 4
}

func (stco *ChunkOffsetBox) Size() uint64 {
	return stco.box.Size() + 4 + uint64(stco.rowSize())*uint64(stco.entryCount)
}

func (stco *ChunkOffsetBox) Encode() (int, []byte) {
	buf := stco.box.Encode(stco.Size())
	buf = binary.BigEndian.AppendUint32(buf, stco.entryCount)
	return len(buf), buf
}

func reserveStco(bw *boxWriter, chunks uint32, large bool) (*tableRef, error) {
	stco := NewChunkOffsetBox(chunks, large)
	_, hdr := stco.Encode()
	return bw.reserve(hdr, chunks, stco.rowSize())
}
