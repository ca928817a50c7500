package mp4

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/gomedia/remux/stream"
)

// aligned(8) class TrackRunBox extends FullBox(‘trun’, version, tr_flags) {
//      unsigned int(32) sample_count;
//      // the following are optional fields
//      signed int(32) data_offset;
//       unsigned int(32) first_sample_flags;
//      // all fields in the following array are optional
//      {
//          unsigned int(32) sample_duration;
//          unsigned int(32) sample_size;
//          unsigned int(32) sample_flags
//          if (version == 0)
//          {
//              unsigned int(32) sample_composition_time_offset;
//          }
//          else
//          {
//              signed int(32) sample_composition_time_offset;
//          }
//      }[ sample_count ]
// }

const (
	TR_FLAG_DATA_OFFSET                  uint32 = 0x000001
	TR_FLAG_DATA_FIRST_SAMPLE_FLAGS      uint32 = 0x000004
	TR_FLAG_DATA_SAMPLE_DURATION         uint32 = 0x000100
	TR_FLAG_DATA_SAMPLE_SIZE             uint32 = 0x000200
	TR_FLAG_DATA_SAMPLE_FLAGS            uint32 = 0x000400
	TR_FLAG_DATA_SAMPLE_COMPOSITION_TIME uint32 = 0x000800
)

// sample_is_non_sync_sample bit of the sample flags
const SAMPLE_FLAG_IS_NON_SYNC uint32 = 0x00010000

// runs without per-sample fields still allocate one entry per sample
const maxTrunSamples = 1 << 20

type TrunEntry struct {
	SampleDuration              uint32
	SampleSize                  uint32
	SampleFlags                 uint32
	SampleCompositionTimeOffset int32
}

func (entry TrunEntry) IsKeyframe() bool {
	return entry.SampleFlags&SAMPLE_FLAG_IS_NON_SYNC == 0
}

type TrackRunBox struct {
	Box              *FullBox
	SampleCount      uint32
	Dataoffset       int32
	FirstSampleFlags uint32
	Entrys           []TrunEntry
}

func NewTrackRunBox() *TrackRunBox {
	return &TrackRunBox{
		Box: NewFullBox(TypeTRUN, 0),
	}
}

func (trun *TrackRunBox) has(flag uint32) bool {
	return trun.Box.GetFlags()&flag != 0
}

func (trun *TrackRunBox) Size() uint64 {
	n := trun.Box.Size() + 4
	if trun.has(TR_FLAG_DATA_OFFSET) {
		n += 4
	}
	if trun.has(TR_FLAG_DATA_FIRST_SAMPLE_FLAGS) {
		n += 4
	}
	n += uint64(trun.entrySize()) * uint64(trun.SampleCount)
	return n
}

func (trun *TrackRunBox) entrySize() int {
	n := 0
	for _, flag := range []uint32{TR_FLAG_DATA_SAMPLE_DURATION, TR_FLAG_DATA_SAMPLE_SIZE, TR_FLAG_DATA_SAMPLE_FLAGS, TR_FLAG_DATA_SAMPLE_COMPOSITION_TIME} {
		if trun.has(flag) {
			n += 4
		}
	}
	return n
}

func (trun *TrackRunBox) Decode(buf []byte) (offset int, err error) {
	if offset, err = trun.Box.Decode(buf); err != nil {
		return
	}
	if len(buf) < offset+4 {
		return 0, errors.Wrap(stream.ErrMalformed, "trun without sample count")
	}
	trun.SampleCount = binary.BigEndian.Uint32(buf[offset:])
	offset += 4
	if trun.SampleCount > maxTrunSamples {
		return 0, errors.Wrapf(stream.ErrMalformed, "trun of %d samples", trun.SampleCount)
	}
	if uint64(len(buf)) < trun.Size()-8 {
		return 0, errors.Wrapf(stream.ErrMalformed, "trun of %d samples in %d bytes", trun.SampleCount, len(buf))
	}
	if trun.has(TR_FLAG_DATA_OFFSET) {
		trun.Dataoffset = int32(binary.BigEndian.Uint32(buf[offset:]))
		offset += 4
	}
	if trun.has(TR_FLAG_DATA_FIRST_SAMPLE_FLAGS) {
		trun.FirstSampleFlags = binary.BigEndian.Uint32(buf[offset:])
		offset += 4
	}
	trun.Entrys = make([]TrunEntry, trun.SampleCount)
	for i := range trun.Entrys {
		entry := &trun.Entrys[i]
		if trun.has(TR_FLAG_DATA_SAMPLE_DURATION) {
			entry.SampleDuration = binary.BigEndian.Uint32(buf[offset:])
			offset += 4
		}
		if trun.has(TR_FLAG_DATA_SAMPLE_SIZE) {
			entry.SampleSize = binary.BigEndian.Uint32(buf[offset:])
			offset += 4
		}
		if trun.has(TR_FLAG_DATA_SAMPLE_FLAGS) {
			entry.SampleFlags = binary.BigEndian.Uint32(buf[offset:])
			offset += 4
		}
		if trun.has(TR_FLAG_DATA_SAMPLE_COMPOSITION_TIME) {
			entry.SampleCompositionTimeOffset = int32(binary.BigEndian.Uint32(buf[offset:]))
			offset += 4
		}
	}
	return
}

// resolve fills the fields the run omitted: trun first, then tfhd, then trex.
func (trun *TrackRunBox) resolve(tfhd *TrackFragmentHeaderBox, trex *TrackExtendsBox) {
	if trex == nil {
		trex = NewTrackExtendsBox(tfhd.Track_ID)
	}
	duration := trex.DefaultSampleDuration
	if tfhd.has(TF_FLAG_DEFAULT_SAMPLE_DURATION_PRESENT) {
		duration = tfhd.DefaultSampleDuration
	}
	size := trex.DefaultSampleSize
	if tfhd.has(TF_FLAG_DEFAULT_SAMPLE_SIZE_PRESENT) {
		size = tfhd.DefaultSampleSize
	}
	flags := trex.DefaultSampleFlags
	if tfhd.has(TF_FLAG_DEFAULT_SAMPLE_FLAGS_PRESENT) {
		flags = tfhd.DefaultSampleFlags
	}
	for i := range trun.Entrys {
		entry := &trun.Entrys[i]
		if !trun.has(TR_FLAG_DATA_SAMPLE_DURATION) {
			entry.SampleDuration = duration
		}
		if !trun.has(TR_FLAG_DATA_SAMPLE_SIZE) {
			entry.SampleSize = size
		}
		if !trun.has(TR_FLAG_DATA_SAMPLE_FLAGS) {
			if i == 0 && trun.has(TR_FLAG_DATA_FIRST_SAMPLE_FLAGS) {
				entry.SampleFlags = trun.FirstSampleFlags
			} else {
				entry.SampleFlags = flags
			}
		}
	}
}

func (trun *TrackRunBox) hasCompositionOffsets() bool {
	return trun.has(TR_FLAG_DATA_SAMPLE_COMPOSITION_TIME)
}
