package mp4

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/gomedia/remux/stream"
)

// aligned(8) abstract class SampleEntry (unsigned int(32) format) extends Box(format){
// 	const unsigned int(8)[6] reserved = 0;
// 	unsigned int(16) data_reference_index;
// 	}
//
// aligned(8) class SampleDescriptionBox (unsigned int(32) handler_type)
//     extends FullBox('stsd', version, 0){
//     int i ;
//     unsigned int(32) entry_count;
//     for (i = 1 ; i <= entry_count ; i++){
//         SampleEntry(); // an instance of a class derived from SampleEntry
//     }
// }

// SampleDescriptionBox keeps the box verbatim; only the format of the first
// sample entry is looked at.
type SampleDescriptionBox struct {
	Box        *FullBox
	EntryCount uint32
	Format     [4]byte
	Raw        []byte
}

func NewSampleDescriptionBox() *SampleDescriptionBox {
	return &SampleDescriptionBox{
		Box: NewFullBox(TypeSTSD, 0),
	}
}

// Decode takes the whole box, header included.
func (stsd *SampleDescriptionBox) Decode(raw []byte) (offset int, err error) {
	if len(raw) < 16 {
		return 0, errors.Wrapf(stream.ErrMalformed, "stsd of %d bytes", len(raw))
	}
	if offset, err = stsd.Box.Decode(raw[8:]); err != nil {
		return 0, err
	}
	offset += 8
	stsd.EntryCount = binary.BigEndian.Uint32(raw[offset:])
	offset += 4
	if stsd.EntryCount > 0 && len(raw) >= offset+8 {
		copy(stsd.Format[:], raw[offset+4:offset+8])
	}
	stsd.Raw = raw
	return len(raw), nil
}

func (stsd *SampleDescriptionBox) Size() uint64 {
	return uint64(len(stsd.Raw))
}

func (stsd *SampleDescriptionBox) Encode() (int, []byte) {
	return len(stsd.Raw), stsd.Raw
}
