package mp4

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/gomedia/remux/stream"
)

// aligned(8) class Box (unsigned int(32) boxtype,
//         optional unsigned int(8)[16] extended_type) {
//     unsigned int(32) size;
//     unsigned int(32) type = boxtype;
//     if (size==1) {
//         unsigned int(64) largesize;
//     } else if (size==0) {
//         // box extends to end of file
//     }
//     if (boxtype==‘uuid’) {
//         unsigned int(8)[16] usertype = extended_type;
//     }
// }

type BasicBox struct {
	Offset     int64
	Size       uint64
	Type       [4]byte
	HeaderSize int
	ToEnd      bool
}

func NewBasicBox(boxtype [4]byte) *BasicBox {
	return &BasicBox{
		Type:       boxtype,
		HeaderSize: 8,
	}
}

// PayloadSize is -1 for boxes running to the end of the stream.
func (box *BasicBox) PayloadSize() int64 {
	if box.ToEnd {
		return -1
	}
	return int64(box.Size) - int64(box.HeaderSize)
}

func (box *BasicBox) End() int64 {
	return box.Offset + int64(box.Size)
}

func (box *BasicBox) Is(t [4]byte) bool {
	return box.Type == t
}

func (box *BasicBox) Encode() []byte {
	if box.Size > 0xFFFFFFFF {
		buf := make([]byte, 16)
		binary.BigEndian.PutUint32(buf, 1)
		copy(buf[4:], box.Type[:])
		binary.BigEndian.PutUint64(buf[8:], box.Size)
		return buf
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint32(buf, uint32(box.Size))
	copy(buf[4:], box.Type[:])
	return buf
}

// readBox reads a box header. A clean end of stream yields io.EOF.
func readBox(r *stream.Reader) (*BasicBox, error) {
	if !r.Available() {
		return nil, io.EOF
	}
	box := &BasicBox{Offset: r.Position(), HeaderSize: 8}
	size, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	if err = r.ReadFull(box.Type[:]); err != nil {
		return nil, err
	}
	switch size {
	case 0:
		box.ToEnd = true
	case 1:
		if box.Size, err = r.ReadUint64(); err != nil {
			return nil, err
		}
		box.HeaderSize = 16
	default:
		box.Size = uint64(size)
	}
	if !box.ToEnd && box.Size < uint64(box.HeaderSize) {
		return nil, errors.Wrapf(stream.ErrMalformed, "box %s at %d has size %d", box.Type[:], box.Offset, box.Size)
	}
	if box.Type == TypeUUID {
		if err = r.Skip(16); err != nil {
			return nil, err
		}
		box.HeaderSize += 16
	}
	return box, nil
}

// aligned(8) class FullBox(unsigned int(32) boxtype, unsigned int(8) v, bit(24) f)
//     extends Box(boxtype) {
//     unsigned int(8) version = v;
//     bit(24) flags = f;
// }

type FullBox struct {
	Box     *BasicBox
	Version uint8
	Flags   [3]byte
}

func NewFullBox(boxtype [4]byte, version uint8) *FullBox {
	return &FullBox{
		Box:     NewBasicBox(boxtype),
		Version: version,
	}
}

func (box *FullBox) Size() uint64 {
	return 12
}

func (box *FullBox) GetFlags() uint32 {
	return uint32(box.Flags[0])<<16 | uint32(box.Flags[1])<<8 | uint32(box.Flags[2])
}

func (box *FullBox) SetFlags(flags uint32) {
	box.Flags[0] = byte(flags >> 16)
	box.Flags[1] = byte(flags >> 8)
	box.Flags[2] = byte(flags)
}

// Decode reads version and flags from the start of the payload.
func (box *FullBox) Decode(buf []byte) (int, error) {
	if len(buf) < 4 {
		return 0, errors.Wrapf(stream.ErrMalformed, "%s payload too short", box.Box.Type[:])
	}
	box.Version = buf[0]
	copy(box.Flags[:], buf[1:4])
	return 4, nil
}

// Encode returns the header of a box whose total size is size.
func (box *FullBox) Encode(size uint64) []byte {
	box.Box.Size = size
	buf := box.Box.Encode()
	return append(buf, box.Version, box.Flags[0], box.Flags[1], box.Flags[2])
}

var (
	TypeFTYP = [4]byte{'f', 't', 'y', 'p'}
	TypeSTYP = [4]byte{'s', 't', 'y', 'p'}
	TypeMOOV = [4]byte{'m', 'o', 'o', 'v'}
	TypeMVHD = [4]byte{'m', 'v', 'h', 'd'}
	TypeTRAK = [4]byte{'t', 'r', 'a', 'k'}
	TypeTKHD = [4]byte{'t', 'k', 'h', 'd'}
	TypeEDTS = [4]byte{'e', 'd', 't', 's'}
	TypeELST = [4]byte{'e', 'l', 's', 't'}
	TypeMDIA = [4]byte{'m', 'd', 'i', 'a'}
	TypeMDHD = [4]byte{'m', 'd', 'h', 'd'}
	TypeHDLR = [4]byte{'h', 'd', 'l', 'r'}
	TypeMINF = [4]byte{'m', 'i', 'n', 'f'}
	TypeVMHD = [4]byte{'v', 'm', 'h', 'd'}
	TypeSMHD = [4]byte{'s', 'm', 'h', 'd'}
	TypeSTHD = [4]byte{'s', 't', 'h', 'd'}
	TypeNMHD = [4]byte{'n', 'm', 'h', 'd'}
	TypeDINF = [4]byte{'d', 'i', 'n', 'f'}
	TypeDREF = [4]byte{'d', 'r', 'e', 'f'}
	TypeSTBL = [4]byte{'s', 't', 'b', 'l'}
	TypeSTSD = [4]byte{'s', 't', 's', 'd'}
	TypeSTTS = [4]byte{'s', 't', 't', 's'}
	TypeSTSC = [4]byte{'s', 't', 's', 'c'}
	TypeSTSZ = [4]byte{'s', 't', 's', 'z'}
	TypeSTCO = [4]byte{'s', 't', 'c', 'o'}
	TypeCO64 = [4]byte{'c', 'o', '6', '4'}
	TypeSTSS = [4]byte{'s', 't', 's', 's'}
	TypeCTTS = [4]byte{'c', 't', 't', 's'}
	TypeSGPD = [4]byte{'s', 'g', 'p', 'd'}
	TypeSBGP = [4]byte{'s', 'b', 'g', 'p'}
	TypeMVEX = [4]byte{'m', 'v', 'e', 'x'}
	TypeTREX = [4]byte{'t', 'r', 'e', 'x'}
	TypeMOOF = [4]byte{'m', 'o', 'o', 'f'}
	TypeMFHD = [4]byte{'m', 'f', 'h', 'd'}
	TypeTRAF = [4]byte{'t', 'r', 'a', 'f'}
	TypeTFHD = [4]byte{'t', 'f', 'h', 'd'}
	TypeTFDT = [4]byte{'t', 'f', 'd', 't'}
	TypeTRUN = [4]byte{'t', 'r', 'u', 'n'}
	TypeMDAT = [4]byte{'m', 'd', 'a', 't'}
	TypeFREE = [4]byte{'f', 'r', 'e', 'e'}
	TypeSIDX = [4]byte{'s', 'i', 'd', 'x'}
	TypeMFRA = [4]byte{'m', 'f', 'r', 'a'}
	TypeUUID = [4]byte{'u', 'u', 'i', 'd'}
)

func mov_tag(tag [4]byte) uint32 {
	return binary.BigEndian.Uint32(tag[:])
}
