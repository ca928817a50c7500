package webm

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomedia/remux/stream"
	"github.com/gomedia/remux/webm/webmtest"
)

const segmentOffset = 36 + 12

// mux selects track i of source i for every source.
func mux(t *testing.T, inputs [][]byte, opts ...Option) (*Writer, []byte) {
	t.Helper()
	sources := make([]io.Reader, len(inputs))
	indexes := make([]int, len(inputs))
	for i, data := range inputs {
		sources[i] = stream.NewMemory(data)
		indexes[i] = i
	}
	w, err := NewWriter(sources, opts...)
	require.NoError(t, err)
	require.NoError(t, w.ParseSources())
	require.NoError(t, w.SelectTracks(indexes...))
	out := stream.NewMemory(nil)
	require.NoError(t, w.Build(out))
	require.NoError(t, w.Close())
	return w, out.Bytes()
}

func TestWriterRoundTrip(t *testing.T) {
	fx := makeLive(t, 30, 50)
	w, data := mux(t, [][]byte{fx.data, fx.data})

	assert.Equal(t, ebmlHeader(), data[:36])

	for index, want := range fx.frames {
		reader := openReader(t, data)
		track, err := reader.SelectTrack(index)
		require.NoError(t, err)
		assert.Equal(t, uint64(index+1), track.Number)
		assert.Equal(t, "und", track.Language)

		blocks := readAll(t, reader)
		require.Len(t, blocks, len(want))
		for i, b := range blocks {
			assert.Equal(t, want[i].data, b.Data)
			assert.Equal(t, want[i].timecode*1000000, b.AbsoluteTimecodeNs)
			assert.Equal(t, want[i].keyframe, b.IsKeyframe())
		}
	}

	m := unmarshalMuxed(t, data)
	assert.Equal(t, "webm", m.Header.EBMLDocType)
	assert.Equal(t, uint64(1000000), m.Segment.Info.TimecodeScale)
	// the video track ends last, 29 frames of 40 ms plus its default duration
	assert.Equal(t, 1200.0, m.Segment.Info.Duration)
	require.Len(t, m.Segment.Tracks.TrackEntry, 2)
	assert.Equal(t, "V_VP8", m.Segment.Tracks.TrackEntry[0].CodecID)
	assert.Equal(t, "A_OPUS", m.Segment.Tracks.TrackEntry[1].CodecID)
	assert.Equal(t, uint64(2), m.Segment.Tracks.TrackEntry[1].TrackUID)

	// the video track holds the cues, one per keyframe
	require.Len(t, m.Segment.Cues.CuePoint, 3)
	assert.Len(t, w.Cues(), 3)
	for i, cue := range m.Segment.Cues.CuePoint {
		assert.Equal(t, uint64(i*videoGop*videoFrameMs), cue.CueTime)
		require.Len(t, cue.CueTrackPositions, 1)
		assert.Equal(t, uint64(1), cue.CueTrackPositions[0].CueTrack)
	}
	checkCues(t, w, data)
	checkSeekHead(t, data)
}

// checkCues resolves every cue point to a SimpleBlock of the cue track
// and checks their times never go backwards.
func checkCues(t *testing.T, w *Writer, data []byte) {
	t.Helper()
	last := int64(-1)
	for _, cue := range w.Cues() {
		assert.GreaterOrEqual(t, cue.Timecode, last)
		last = cue.Timecode
		require.GreaterOrEqual(t, cue.ClusterPosition, int64(0))
		require.GreaterOrEqual(t, cue.RelativePosition, int64(0))
		cluster := segmentOffset + cue.ClusterPosition
		require.Less(t, cluster+4, int64(len(data)))
		assert.Equal(t, []byte{0x1F, 0x43, 0xB6, 0x75}, data[cluster:cluster+4])
		at := cluster + clusterHeaderSize + cue.RelativePosition
		require.Less(t, at, int64(len(data)))
		assert.Equal(t, byte(ID_SIMPLE_BLOCK), data[at])
	}
}

func checkSeekHead(t *testing.T, data []byte) {
	t.Helper()
	seekHead := data[segmentOffset:]
	info := int64(seekHead[18])
	tracks := int64(seekHead[32])
	cluster := int64(binary.BigEndian.Uint32(seekHead[46:]))
	cues := int64(binary.BigEndian.Uint32(seekHead[63:]))
	for pos, id := range map[int64][]byte{
		info:    {0x15, 0x49, 0xA9, 0x66},
		tracks:  {0x16, 0x54, 0xAE, 0x6B},
		cluster: {0x1F, 0x43, 0xB6, 0x75},
		cues:    {0x1C, 0x53, 0xBB, 0x6B},
	} {
		assert.Equal(t, id, data[segmentOffset+pos:segmentOffset+pos+4], "seek position %d", pos)
	}

	size := binary.BigEndian.Uint64(append([]byte{0}, data[41:48]...))
	assert.Equal(t, uint64(len(data)-segmentOffset), size)
}

func TestWriterInterleaves(t *testing.T) {
	fx := makeLive(t, 40, 80)
	_, data := mux(t, [][]byte{fx.data, fx.data})

	m := unmarshalMuxed(t, data)
	require.NotEmpty(t, m.Segment.Cluster)
	latest := map[uint64]int64{}
	blocks := 0
	for _, cluster := range m.Segment.Cluster {
		for _, b := range cluster.SimpleBlock {
			tc := int64(cluster.Timecode) + int64(b.Timecode)
			for track, other := range latest {
				if track != b.TrackNumber {
					assert.Less(t, other-tc, int64(2*defaultInterval), "block %d of track %d", blocks, b.TrackNumber)
				}
			}
			latest[b.TrackNumber] = tc
			blocks++
		}
	}
	assert.Equal(t, 120, blocks)
}

func TestWriterAudioCueCadence(t *testing.T) {
	fx := makeLive(t, 0, 600)
	w, data := mux(t, [][]byte{fx.data})

	m := unmarshalMuxed(t, data)
	var times []uint64
	for _, cue := range m.Segment.Cues.CuePoint {
		times = append(times, cue.CueTime)
	}
	assert.Equal(t, []uint64{0, 5000, 10000}, times)
	assert.Equal(t, 12000.0, m.Segment.Info.Duration)
	checkCues(t, w, data)
}

func TestWriterCueReserveExhausted(t *testing.T) {
	fx := makeLive(t, 200, 0)
	w, data := mux(t, [][]byte{fx.data}, WithCueReserve(48))

	assert.Len(t, w.Cues(), 20)
	m := unmarshalMuxed(t, data)
	assert.NotEmpty(t, m.Segment.Cues.CuePoint)
	assert.Less(t, len(m.Segment.Cues.CuePoint), 20)

	// the Cues element and its Void still fill the reservation exactly
	cues := segmentOffset + int64(binary.BigEndian.Uint32(data[segmentOffset+63:]))
	cluster := segmentOffset + int64(binary.BigEndian.Uint32(data[segmentOffset+46:]))
	assert.Equal(t, int64(48), cluster-cues)
	body := int64(binary.BigEndian.Uint16(data[cues+5:]))
	assert.Equal(t, byte(ID_VOID), data[cues+7+body])

	reader := openReader(t, data)
	_, err := reader.SelectTrack(0)
	require.NoError(t, err)
	assert.Len(t, readAll(t, reader), 200)
}

func TestWriterClusterPerSourceCluster(t *testing.T) {
	file := &webmtest.File{
		Tracks: []webmtest.Track{{Number: 1, Type: 2, CodecID: "A_OPUS", SamplingFrequency: 48000, Channels: 2}},
	}
	for c := 0; c < 3; c++ {
		cluster := webmtest.Cluster{Timecode: uint64(c * 1000)}
		for i := 0; i < 50; i++ {
			cluster.Blocks = append(cluster.Blocks, webmtest.Block{
				Track:    1,
				Timecode: int64(c*1000 + i*20),
				Keyframe: true,
				Data:     payload(i, 20),
			})
		}
		file.Clusters = append(file.Clusters, cluster)
	}
	w, data := mux(t, [][]byte{file.Bytes()})

	m := unmarshalMuxed(t, data)
	require.Len(t, m.Segment.Cluster, 3)
	for i, cluster := range m.Segment.Cluster {
		assert.Equal(t, uint64(i*1000), cluster.Timecode)
		assert.Len(t, cluster.SimpleBlock, 50)
	}
	// no default duration, the last gap stands in for it
	assert.Equal(t, 3000.0, m.Segment.Info.Duration)
	checkCues(t, w, data)
}

func TestWriterTimecodeOverflow(t *testing.T) {
	lead := &webmtest.File{
		Tracks: []webmtest.Track{{Number: 1, Type: 2, CodecID: "A_OPUS", SamplingFrequency: 48000, Channels: 2}},
		Clusters: []webmtest.Cluster{{Timecode: 0, Blocks: []webmtest.Block{
			{Track: 1, Timecode: 0, Data: []byte{1}},
			{Track: 1, Timecode: 100, Data: []byte{2}},
		}}},
	}
	far := &webmtest.File{
		Tracks: []webmtest.Track{{Number: 1, Type: 2, CodecID: "A_OPUS", SamplingFrequency: 48000, Channels: 2}},
		Clusters: []webmtest.Cluster{
			{Timecode: 0, Blocks: []webmtest.Block{{Track: 1, Timecode: 0, Data: []byte{3}}}},
			{Timecode: 40000, Blocks: []webmtest.Block{{Track: 1, Timecode: 40000, Data: []byte{4}}}},
		},
	}
	sources := []io.Reader{stream.NewMemory(lead.Bytes()), stream.NewMemory(far.Bytes())}
	w, err := NewWriter(sources)
	require.NoError(t, err)
	require.NoError(t, w.ParseSources())
	require.NoError(t, w.SelectTracks(0, 0))
	assert.ErrorIs(t, w.Build(stream.NewMemory(nil)), stream.ErrCapacity)
}

func TestWriterState(t *testing.T) {
	fx := makeLive(t, 4, 4)

	_, err := NewWriter(nil)
	assert.ErrorIs(t, err, stream.ErrState)

	w, err := NewWriter([]io.Reader{stream.NewMemory(fx.data)})
	require.NoError(t, err)
	_, err = w.TracksFromSource(0)
	assert.ErrorIs(t, err, stream.ErrState)
	assert.ErrorIs(t, w.Build(stream.NewMemory(nil)), stream.ErrState)

	require.NoError(t, w.ParseSources())
	tracks, err := w.TracksFromSource(0)
	require.NoError(t, err)
	assert.Len(t, tracks, 2)
	assert.ErrorIs(t, w.SelectTracks(0, 1), stream.ErrState)
	assert.ErrorIs(t, w.SelectTracks(5), stream.ErrState)

	require.NoError(t, w.SelectTracks(1))
	assert.ErrorIs(t, w.Build(stream.WriteOnly(stream.NewMemory(nil))), stream.ErrCapability)
	require.NoError(t, w.Build(stream.NewMemory(nil)))
	assert.ErrorIs(t, w.Build(stream.NewMemory(nil)), stream.ErrState)
}

func TestVoidElement(t *testing.T) {
	v := voidElement(10, true)
	assert.Equal(t, []byte{0xEC, 0x20, 0x00, 0x06, 0, 0, 0, 0, 0, 0}, v)
	assert.Len(t, voidElement(65535, false), minimumVoidSize)
	assert.Len(t, info(), 19)
	assert.Len(t, seekHead(), 67)
	assert.Equal(t, float32(0), math.Float32frombits(binary.BigEndian.Uint32(info()[15:])))
	assert.True(t, bytes.HasPrefix(makeTrackEntry(0, &Track{CodecID: "A_OPUS", Type: 2, CodecDelay: -1, SeekPreRoll: -1, DefaultDuration: -1}), []byte{0xAE}))
}
