package mp4

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/gomedia/remux/stream"
)

// aligned(8) class TrackFragmentHeaderBox extends FullBox(‘tfhd’, 0, tf_flags){
//     unsigned int(32) track_ID;
//     // all the following are optional fields
//     unsigned int(64) base_data_offset;
//     unsigned int(32) sample_description_index;
//     unsigned int(32) default_sample_duration;
//     unsigned int(32) default_sample_size;
//     unsigned int(32) default_sample_flags
// }

type MP4_TFHD_FLAG uint32

const (
	TF_FLAG_BASE_DATA_OFFSET                 MP4_TFHD_FLAG = 0x000001
	TF_FLAG_SAMPLE_DESCRIPTION_INDEX_PRESENT MP4_TFHD_FLAG = 0x000002
	TF_FLAG_DEFAULT_SAMPLE_DURATION_PRESENT  MP4_TFHD_FLAG = 0x000008
	TF_FLAG_DEFAULT_SAMPLE_SIZE_PRESENT      MP4_TFHD_FLAG = 0x000010
	TF_FLAG_DEFAULT_SAMPLE_FLAGS_PRESENT     MP4_TFHD_FLAG = 0x000020
	TF_FLAG_DURATION_IS_EMPTY                MP4_TFHD_FLAG = 0x010000
	TF_FLAG_DEFAULT_BASE_IS_MOOF             MP4_TFHD_FLAG = 0x020000
)

type TrackFragmentHeaderBox struct {
	Box                    *FullBox
	Track_ID               uint32
	BaseDataOffset         uint64
	SampleDescriptionIndex uint32
	DefaultSampleDuration  uint32
	DefaultSampleSize      uint32
	DefaultSampleFlags     uint32
}

func NewTrackFragmentHeaderBox() *TrackFragmentHeaderBox {
	return &TrackFragmentHeaderBox{
		Box:                    NewFullBox(TypeTFHD, 0),
		SampleDescriptionIndex: 1,
	}
}

func (tfhd *TrackFragmentHeaderBox) has(flag MP4_TFHD_FLAG) bool {
	return tfhd.Box.GetFlags()&uint32(flag) != 0
}

func (tfhd *TrackFragmentHeaderBox) Size() uint64 {
	n := tfhd.Box.Size() + 4
	if tfhd.has(TF_FLAG_BASE_DATA_OFFSET) {
		n += 8
	}
	if tfhd.has(TF_FLAG_SAMPLE_DESCRIPTION_INDEX_PRESENT) {
		n += 4
	}
	if tfhd.has(TF_FLAG_DEFAULT_SAMPLE_DURATION_PRESENT) {
		n += 4
	}
	if tfhd.has(TF_FLAG_DEFAULT_SAMPLE_SIZE_PRESENT) {
		n += 4
	}
	if tfhd.has(TF_FLAG_DEFAULT_SAMPLE_FLAGS_PRESENT) {
		n += 4
	}
	return n
}

func (tfhd *TrackFragmentHeaderBox) Decode(buf []byte) (offset int, err error) {
	if offset, err = tfhd.Box.Decode(buf); err != nil {
		return
	}
	if len(buf) < int(tfhd.Size())-8 {
		return 0, errors.Wrapf(stream.ErrMalformed, "tfhd payload of %d bytes", len(buf))
	}
	tfhd.Track_ID = binary.BigEndian.Uint32(buf[offset:])
	offset += 4
	if tfhd.has(TF_FLAG_BASE_DATA_OFFSET) {
		tfhd.BaseDataOffset = binary.BigEndian.Uint64(buf[offset:])
		offset += 8
	}
	if tfhd.has(TF_FLAG_SAMPLE_DESCRIPTION_INDEX_PRESENT) {
		tfhd.SampleDescriptionIndex = binary.BigEndian.Uint32(buf[offset:])
		offset += 4
	}
	if tfhd.has(TF_FLAG_DEFAULT_SAMPLE_DURATION_PRESENT) {
		tfhd.DefaultSampleDuration = binary.BigEndian.Uint32(buf[offset:])
		offset += 4
	}
	if tfhd.has(TF_FLAG_DEFAULT_SAMPLE_SIZE_PRESENT) {
		tfhd.DefaultSampleSize = binary.BigEndian.Uint32(buf[offset:])
		offset += 4
	}
	if tfhd.has(TF_FLAG_DEFAULT_SAMPLE_FLAGS_PRESENT) {
		tfhd.DefaultSampleFlags = binary.BigEndian.Uint32(buf[offset:])
		offset += 4
	}
	return
}
