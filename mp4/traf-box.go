package mp4

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/gomedia/remux/stream"
)

// aligned(8) class MovieFragmentHeaderBox
//     extends FullBox(‘mfhd’, 0, 0){
//     unsigned int(32) sequence_number;
// }

type MovieFragmentHeaderBox struct {
	Box            *FullBox
	SequenceNumber uint32
}

func (mfhd *MovieFragmentHeaderBox) Decode(buf []byte) (offset int, err error) {
	if offset, err = mfhd.Box.Decode(buf); err != nil {
		return
	}
	if len(buf) < offset+4 {
		return 0, errors.Wrap(stream.ErrMalformed, "mfhd without sequence number")
	}
	mfhd.SequenceNumber = binary.BigEndian.Uint32(buf[offset:])
	return offset + 4, nil
}

// aligned(8) class TrackFragmentBaseMediaDecodeTimeBox
//     extends FullBox(‘tfdt’, version, 0) {
//     if (version==1) {
//         unsigned int(64) baseMediaDecodeTime;
//     } else { // version==0
//         unsigned int(32) baseMediaDecodeTime;
//     }
// }

type TrackFragmentBaseMediaDecodeTimeBox struct {
	Box                 *FullBox
	BaseMediaDecodeTime uint64
}

func (tfdt *TrackFragmentBaseMediaDecodeTimeBox) Decode(buf []byte) (offset int, err error) {
	if offset, err = tfdt.Box.Decode(buf); err != nil {
		return
	}
	if tfdt.Box.Version == 1 {
		if len(buf) < offset+8 {
			return 0, errors.Wrap(stream.ErrMalformed, "tfdt truncated")
		}
		tfdt.BaseMediaDecodeTime = binary.BigEndian.Uint64(buf[offset:])
		return offset + 8, nil
	}
	if len(buf) < offset+4 {
		return 0, errors.Wrap(stream.ErrMalformed, "tfdt truncated")
	}
	tfdt.BaseMediaDecodeTime = uint64(binary.BigEndian.Uint32(buf[offset:]))
	return offset + 4, nil
}

// TrackFragment is the traf of the selected track with its runs resolved.
type TrackFragment struct {
	Tfhd                *TrackFragmentHeaderBox
	BaseMediaDecodeTime uint64
	HasDecodeTime       bool
	DataOffset          int32
	HasDataOffset       bool
	Entrys              []TrunEntry
	CompositionOffsets  bool
	ChunkSize           uint64
	ChunkDuration       uint64
}

// addRun appends a resolved run. Runs after the first must follow the
// previous one in the mdat.
func (traf *TrackFragment) addRun(trun *TrackRunBox) error {
	if len(traf.Entrys) == 0 && !traf.HasDataOffset {
		traf.HasDataOffset = trun.has(TR_FLAG_DATA_OFFSET)
		traf.DataOffset = trun.Dataoffset
	} else if trun.has(TR_FLAG_DATA_OFFSET) && int64(trun.Dataoffset) != int64(traf.DataOffset)+int64(traf.ChunkSize) {
		return errors.Wrapf(stream.ErrMalformed, "trun at data offset %d does not follow previous run", trun.Dataoffset)
	}
	for _, entry := range trun.Entrys {
		traf.ChunkSize += uint64(entry.SampleSize)
		traf.ChunkDuration += uint64(entry.SampleDuration)
	}
	traf.Entrys = append(traf.Entrys, trun.Entrys...)
	traf.CompositionOffsets = traf.CompositionOffsets || trun.hasCompositionOffsets()
	return nil
}
