package mp4

import (
	"encoding/binary"
)

// Box Types: ‘vmhd’, ‘smhd’, ’hmhd’, ‘nmhd’
// Container: Media Information Box (‘minf’)
// Mandatory: Yes
// Quantity: Exactly one specific media header shall be present

// aligned(8) class VideoMediaHeaderBox
// extends FullBox(‘vmhd’, version = 0, 1) {
// template unsigned int(16) graphicsmode = 0; // copy, see below template
// unsigned int(16)[3] opcolor = {0, 0, 0};
// }

type VideoMediaHeaderBox struct {
	Box          *FullBox
	Graphicsmode uint16
	Opcolor      [3]uint16
}

func NewVideoMediaHeaderBox() *VideoMediaHeaderBox {
	vmhd := &VideoMediaHeaderBox{
		Box: NewFullBox(TypeVMHD, 0),
	}
	vmhd.Box.SetFlags(1)
	return vmhd
}

func (vmhd *VideoMediaHeaderBox) Size() uint64 {
	return vmhd.Box.Size() + 8
}

func (vmhd *VideoMediaHeaderBox) Encode() (int, []byte) {
	buf := vmhd.Box.Encode(vmhd.Size())
	buf = binary.BigEndian.AppendUint16(buf, vmhd.Graphicsmode)
	for _, c := range vmhd.Opcolor {
		buf = binary.BigEndian.AppendUint16(buf, c)
	}
	return len(buf), buf
}

// aligned(8) class SoundMediaHeaderBox
//     extends FullBox(‘smhd’, version = 0, 0) {
//     template int(16) balance = 0;
//     const unsigned int(16) reserved = 0;
// }

type SoundMediaHeaderBox struct {
	Box     *FullBox
	Balance int16
}

func NewSoundMediaHeaderBox() *SoundMediaHeaderBox {
	return &SoundMediaHeaderBox{
		Box: NewFullBox(TypeSMHD, 0),
	}
}

func (smhd *SoundMediaHeaderBox) Size() uint64 {
	return smhd.Box.Size() + 4
}

func (smhd *SoundMediaHeaderBox) Encode() (int, []byte) {
	buf := smhd.Box.Encode(smhd.Size())
	buf = binary.BigEndian.AppendUint16(buf, uint16(smhd.Balance))
	buf = append(buf, 0, 0)
	return len(buf), buf
}

// aligned(8) class NullMediaHeaderBox
//     extends FullBox(’nmhd’, version = 0, flags) {
// }

func makeMediaHeader(kind TrackKind) []byte {
	var boxdata []byte
	switch kind {
	case KindVideo:
		_, boxdata = NewVideoMediaHeaderBox().Encode()
	case KindAudio:
		_, boxdata = NewSoundMediaHeaderBox().Encode()
	case KindSubtitles:
		boxdata = NewFullBox(TypeSTHD, 0).Encode(12)
	default:
		boxdata = NewFullBox(TypeNMHD, 0).Encode(12)
	}
	return boxdata
}

// aligned(8) class DataEntryUrlBox (bit(24) flags) extends FullBox(‘url ’, version = 0, flags) {
//     string location;
// }
// aligned(8) class DataReferenceBox extends FullBox(‘dref’, version = 0, 0) {
//     unsigned int(32) entry_count;
//     for (i=1; i <= entry_count; i++) {
//         DataEntryBox(entry_version, entry_flags) data_entry;
//     }
// }

// makeDinf builds a data information box with one self contained entry.
func makeDinf() []byte {
	url := NewFullBox([4]byte{'u', 'r', 'l', ' '}, 0)
	url.SetFlags(1)
	dref := NewFullBox(TypeDREF, 0)
	buf := NewBasicBox(TypeDINF)
	buf.Size = 8 + 16 + 12
	boxdata := buf.Encode()
	boxdata = append(boxdata, dref.Encode(16+12)...)
	boxdata = binary.BigEndian.AppendUint32(boxdata, 1)
	boxdata = append(boxdata, url.Encode(12)...)
	return boxdata
}
