package mp4

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4/seekablebuffer"
	"github.com/stretchr/testify/require"
)

var testSPS = []byte{
	0x67, 0x42, 0xc0, 0x28, 0xd9, 0x00, 0x78, 0x02,
	0x27, 0xe5, 0x84, 0x00, 0x00, 0x03, 0x00, 0x04,
	0x00, 0x00, 0x03, 0x00, 0xf0, 0x3c, 0x60, 0xc9,
	0x20,
}

var testPPS = []byte{0x68, 0xce, 0x38, 0x80}

const (
	videoTimescale = 90000
	videoDelta     = 3000
	audioTimescale = 48000
	audioDelta     = 1024
	gop            = 30
)

type dashFixture struct {
	data         []byte
	video        [][]byte
	videoOffsets []int32
	audio        [][]byte
}

func payload(seed, size int) []byte {
	b := make([]byte, size)
	for i := range b {
		b[i] = byte(seed + i)
	}
	return b
}

// makeDash builds a two track fragmented stream, video as track 1 and
// audio as track 2, spread over parts moof/mdat pairs.
func makeDash(t *testing.T, videoSamples, audioSamples, parts int) *dashFixture {
	t.Helper()
	fx := &dashFixture{}
	init := &fmp4.Init{
		Tracks: []*fmp4.InitTrack{
			{
				ID:        1,
				TimeScale: videoTimescale,
				Codec:     &fmp4.CodecH264{SPS: testSPS, PPS: testPPS},
			},
			{
				ID:        2,
				TimeScale: audioTimescale,
				Codec: &fmp4.CodecMPEG4Audio{
					Config: mpeg4audio.AudioSpecificConfig{
						Type:         2,
						SampleRate:   audioTimescale,
						ChannelCount: 2,
					},
				},
			},
		},
	}
	var buf seekablebuffer.Buffer
	require.NoError(t, init.Marshal(&buf))
	out := bytes.NewBuffer(nil)
	out.Write(buf.Bytes())

	for i := 0; i < videoSamples; i++ {
		fx.video = append(fx.video, payload(i, 200+i%37))
		fx.videoOffsets = append(fx.videoOffsets, int32((i%2)*videoDelta))
	}
	for i := 0; i < audioSamples; i++ {
		fx.audio = append(fx.audio, payload(i*7, 90+i%11))
	}

	for p := 0; p < parts; p++ {
		vFrom, vTo := p*videoSamples/parts, (p+1)*videoSamples/parts
		aFrom, aTo := p*audioSamples/parts, (p+1)*audioSamples/parts
		video := &fmp4.PartTrack{ID: 1, BaseTime: uint64(vFrom * videoDelta)}
		for i := vFrom; i < vTo; i++ {
			video.Samples = append(video.Samples, &fmp4.PartSample{
				Duration:        videoDelta,
				PTSOffset:       fx.videoOffsets[i],
				IsNonSyncSample: i%gop != 0,
				Payload:         fx.video[i],
			})
		}
		audio := &fmp4.PartTrack{ID: 2, BaseTime: uint64(aFrom * audioDelta)}
		for i := aFrom; i < aTo; i++ {
			audio.Samples = append(audio.Samples, &fmp4.PartSample{
				Duration: audioDelta,
				Payload:  fx.audio[i],
			})
		}
		part := &fmp4.Part{
			SequenceNumber: uint32(p + 1),
			Tracks:         []*fmp4.PartTrack{video, audio},
		}
		var pb seekablebuffer.Buffer
		require.NoError(t, part.Marshal(&pb))
		out.Write(pb.Bytes())
	}
	fx.data = out.Bytes()
	copy(fx.data[8:12], "iso5")
	return fx
}

// topLevel lists the types of the top level boxes of an ISO-BMFF file.
func topLevel(t *testing.T, data []byte) []string {
	t.Helper()
	var types []string
	for off := uint64(0); off < uint64(len(data)); {
		require.GreaterOrEqual(t, uint64(len(data))-off, uint64(8))
		size := uint64(binary.BigEndian.Uint32(data[off:]))
		if size == 1 {
			size = binary.BigEndian.Uint64(data[off+8:])
		}
		require.GreaterOrEqual(t, size, uint64(8))
		types = append(types, string(data[off+4:off+8]))
		off += size
	}
	return types
}

// findBox returns the offset of the first top level box of type typ.
func findBox(t *testing.T, data []byte, typ string) (int, int) {
	t.Helper()
	for off := 0; off < len(data); {
		size := int(binary.BigEndian.Uint32(data[off:]))
		if string(data[off+4:off+8]) == typ {
			return off, size
		}
		require.Greater(t, size, 0)
		off += size
	}
	t.Fatalf("no %s box", typ)
	return 0, 0
}
