package mp4

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/gomedia/remux/stream"
)

// aligned(8) class FileTypeBox
//     extends Box(‘ftyp’) {
//     unsigned int(32) major_brand;
//     unsigned int(32) minor_version;
//     unsigned int(32) compatible_brands[]; // to end of the box
// }

var (
	mp41 = [4]byte{'m', 'p', '4', '1'}
	mp42 = [4]byte{'m', 'p', '4', '2'}
	isom = [4]byte{'i', 's', 'o', 'm'}
	iso2 = [4]byte{'i', 's', 'o', '2'}
	iso5 = [4]byte{'i', 's', 'o', '5'}
	dash = [4]byte{'d', 'a', 's', 'h'}
)

type FileTypeBox struct {
	Box               *BasicBox
	Major_brand       uint32
	Minor_version     uint32
	Compatible_brands []uint32
}

func NewFileTypeBox() *FileTypeBox {
	return &FileTypeBox{
		Box: NewBasicBox(TypeFTYP),
	}
}

func (ftyp *FileTypeBox) Size() uint64 {
	return uint64(8 + len(ftyp.Compatible_brands)*4 + 8)
}

func (ftyp *FileTypeBox) Decode(buf []byte) (int, error) {
	if len(buf) < 8 || len(buf)%4 != 0 {
		return 0, errors.Wrapf(stream.ErrMalformed, "ftyp payload of %d bytes", len(buf))
	}
	ftyp.Major_brand = binary.BigEndian.Uint32(buf)
	ftyp.Minor_version = binary.BigEndian.Uint32(buf[4:])
	offset := 8
	for ; offset < len(buf); offset += 4 {
		ftyp.Compatible_brands = append(ftyp.Compatible_brands, binary.BigEndian.Uint32(buf[offset:]))
	}
	return offset, nil
}

func (ftyp *FileTypeBox) Encode() (int, []byte) {
	ftyp.Box.Size = ftyp.Size()
	buf := ftyp.Box.Encode()
	buf = binary.BigEndian.AppendUint32(buf, ftyp.Major_brand)
	buf = binary.BigEndian.AppendUint32(buf, ftyp.Minor_version)
	for _, brand := range ftyp.Compatible_brands {
		buf = binary.BigEndian.AppendUint32(buf, brand)
	}
	return len(buf), buf
}

// Brands lists the major brand followed by the compatible ones.
func (ftyp *FileTypeBox) Brands() []uint32 {
	return append([]uint32{ftyp.Major_brand}, ftyp.Compatible_brands...)
}

func (ftyp *FileTypeBox) isDash() bool {
	for _, brand := range ftyp.Brands() {
		if brand == mov_tag(dash) || brand == mov_tag(iso5) {
			return true
		}
	}
	return false
}

func makeFtyp(major uint32) []byte {
	ftyp := NewFileTypeBox()
	ftyp.Major_brand = major
	ftyp.Compatible_brands = []uint32{mov_tag(mp41), mov_tag(isom), mov_tag(iso2)}
	if major != mov_tag(mp41) {
		ftyp.Compatible_brands = append(ftyp.Compatible_brands, mov_tag(mp42))
	}
	_, boxdata := ftyp.Encode()
	return boxdata
}
