package webm

import (
	"bytes"
	"sort"
	"testing"
	"time"

	"github.com/at-wat/ebml-go"
	"github.com/at-wat/ebml-go/mkvcore"
	ebmlwebm "github.com/at-wat/ebml-go/webm"
	"github.com/stretchr/testify/require"
)

const (
	videoFrameMs = 40
	audioFrameMs = 20
	videoGop     = 10
)

// closeBuffer collects what the live writer produces and tells when it
// closed its output.
type closeBuffer struct {
	bytes.Buffer
	closed chan struct{}
}

func (cb *closeBuffer) Close() error {
	close(cb.closed)
	return nil
}

type frame struct {
	track    int
	timecode int64
	keyframe bool
	data     []byte
}

type liveFixture struct {
	data   []byte
	frames [][]frame
}

func payload(seed, size int) []byte {
	b := make([]byte, size)
	for i := range b {
		b[i] = byte(seed*31 + i)
	}
	return b
}

// makeLive writes a VP8 and an Opus track with the ebml-go live writer,
// which leaves the Segment and the Clusters with unknown sizes. A count
// of zero leaves the track out.
func makeLive(t *testing.T, videoFrames, audioFrames int) *liveFixture {
	t.Helper()
	var entries []ebmlwebm.TrackEntry
	fx := &liveFixture{}
	var all []frame
	if videoFrames > 0 {
		entries = append(entries, ebmlwebm.TrackEntry{
			Name:            "Video",
			TrackNumber:     uint64(len(entries) + 1),
			TrackUID:        uint64(len(entries) + 1),
			CodecID:         "V_VP8",
			TrackType:       1,
			DefaultDuration: videoFrameMs * 1000000,
			Video: &ebmlwebm.Video{
				PixelWidth:  320,
				PixelHeight: 240,
			},
		})
		var frames []frame
		for i := 0; i < videoFrames; i++ {
			frames = append(frames, frame{
				track:    len(entries) - 1,
				timecode: int64(i * videoFrameMs),
				keyframe: i%videoGop == 0,
				data:     payload(i, 300+i%17),
			})
		}
		fx.frames = append(fx.frames, frames)
		all = append(all, frames...)
	}
	if audioFrames > 0 {
		entries = append(entries, ebmlwebm.TrackEntry{
			Name:            "Audio",
			TrackNumber:     uint64(len(entries) + 1),
			TrackUID:        uint64(len(entries) + 1),
			CodecID:         "A_OPUS",
			TrackType:       2,
			DefaultDuration: audioFrameMs * 1000000,
			Audio: &ebmlwebm.Audio{
				SamplingFrequency: 48000.0,
				Channels:          2,
			},
		})
		var frames []frame
		for i := 0; i < audioFrames; i++ {
			frames = append(frames, frame{
				track:    len(entries) - 1,
				timecode: int64(i * audioFrameMs),
				keyframe: true,
				data:     payload(i+1000, 60+i%9),
			})
		}
		fx.frames = append(fx.frames, frames)
		all = append(all, frames...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].timecode < all[j].timecode
	})

	out := &closeBuffer{closed: make(chan struct{})}
	writers, err := ebmlwebm.NewSimpleBlockWriter(out, entries,
		mkvcore.WithOnFatalHandler(func(err error) {
			t.Errorf("webm writer: %v", err)
		}))
	require.NoError(t, err)
	for _, f := range all {
		_, err = writers[f.track].Write(f.keyframe, f.timecode, f.data)
		require.NoError(t, err)
	}
	for _, w := range writers {
		require.NoError(t, w.Close())
	}
	select {
	case <-out.closed:
	case <-time.After(5 * time.Second):
		t.Fatal("webm writer did not close its output")
	}
	fx.data = out.Bytes()
	return fx
}

// muxed is the part of a muxed file checked through ebml-go.
type muxed struct {
	Header  muxedHeader `ebml:"EBML"`
	Segment muxedSegment
}

type muxedHeader struct {
	EBMLDocType            string
	EBMLDocTypeReadVersion uint64
}

type muxedSegment struct {
	Info    muxedInfo
	Tracks  muxedTracks
	Cues    muxedCues
	Cluster []muxedCluster
}

type muxedInfo struct {
	TimecodeScale uint64
	Duration      float64
}

type muxedTracks struct {
	TrackEntry []muxedTrackEntry
}

type muxedTrackEntry struct {
	TrackNumber     uint64
	TrackUID        uint64
	CodecID         string
	TrackType       uint64
	DefaultDuration uint64
	Language        string
}

type muxedCues struct {
	CuePoint []muxedCuePoint
}

type muxedCuePoint struct {
	CueTime           uint64
	CueTrackPositions []muxedCueTrackPositions
}

type muxedCueTrackPositions struct {
	CueTrack           uint64
	CueClusterPosition uint64
}

type muxedCluster struct {
	Timecode    uint64
	SimpleBlock []ebml.Block
}

func unmarshalMuxed(t *testing.T, data []byte) *muxed {
	t.Helper()
	var m muxed
	require.NoError(t, ebml.Unmarshal(bytes.NewReader(data), &m))
	return &m
}
