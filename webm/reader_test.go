package webm

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomedia/remux/stream"
	"github.com/gomedia/remux/webm/webmtest"
)

func openReader(t *testing.T, data []byte) *Reader {
	t.Helper()
	reader, err := NewReader(stream.NewMemory(data))
	require.NoError(t, err)
	require.NoError(t, reader.Parse())
	return reader
}

// readAll returns every block of the selected track.
func readAll(t *testing.T, reader *Reader) []*SimpleBlock {
	t.Helper()
	var blocks []*SimpleBlock
	for {
		seg, err := reader.NextSegment()
		if err == io.EOF {
			return blocks
		}
		require.NoError(t, err)
		for {
			cluster, err := seg.NextCluster()
			if err == io.EOF {
				break
			}
			require.NoError(t, err)
			for {
				block, err := cluster.NextSimpleBlock()
				if err == io.EOF {
					break
				}
				require.NoError(t, err)
				blocks = append(blocks, block)
			}
		}
	}
}

func TestEncode(t *testing.T) {
	tests := []struct {
		n          uint64
		withLength bool
		want       []byte
	}{
		{0, true, []byte{0x81, 0x00}},
		{1, false, []byte{0x81}},
		{126, false, []byte{0xFE}},
		{127, false, []byte{0x40, 0x7F}},
		{300, false, []byte{0x41, 0x2C}},
		{16383, false, []byte{0x20, 0x3F, 0xFF}},
		{1000000, true, []byte{0x83, 0x0F, 0x42, 0x40}},
		{255, true, []byte{0x82, 0x00, 0xFF}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, encode(tt.n, tt.withLength), "encode(%d, %v)", tt.n, tt.withLength)
	}
}

func TestReadVint(t *testing.T) {
	for _, n := range []uint64{0, 1, 126, 127, 300, 16383, 1 << 20, 1<<35 + 7} {
		r := stream.NewReader(bytes.NewReader(encode(n, false)))
		v, _, allOnes, err := readVint(r, 8, false)
		require.NoError(t, err)
		assert.Equal(t, n, v)
		assert.False(t, allOnes)
	}

	r := stream.NewReader(bytes.NewReader([]byte{0x1A, 0x45, 0xDF, 0xA3, 0xFF}))
	el, err := readElement(r)
	require.NoError(t, err)
	assert.Equal(t, uint32(ID_EBML), el.id)
	assert.Equal(t, int64(unknownSize), el.size)

	r = stream.NewReader(bytes.NewReader([]byte{0x00, 0x01}))
	_, err = readElement(r)
	assert.ErrorIs(t, err, stream.ErrMalformed)
}

func TestReaderLiveTracks(t *testing.T) {
	fx := makeLive(t, 20, 40)
	reader := openReader(t, fx.data)

	assert.Equal(t, uint64(1000000), reader.Info().TimecodeScale)
	tracks := reader.Tracks()
	require.Len(t, tracks, 2)

	video := tracks[0]
	assert.Equal(t, uint64(1), video.Number)
	assert.Equal(t, KindVideo, video.Kind)
	assert.Equal(t, "V_VP8", video.CodecID)
	assert.Equal(t, int64(videoFrameMs*1000000), video.DefaultDuration)
	assert.Equal(t, uint64(320), video.PixelWidth)
	assert.Equal(t, uint64(240), video.PixelHeight)
	assert.Equal(t, int64(-1), video.CodecDelay)

	audio := tracks[1]
	assert.Equal(t, KindAudio, audio.Kind)
	assert.Equal(t, "A_OPUS", audio.CodecID)
	assert.Equal(t, 48000.0, audio.SamplingFrequency)
	assert.Equal(t, uint64(2), audio.Channels)
	assert.NotEmpty(t, audio.Metadata)
}

func TestReaderLiveBlocks(t *testing.T) {
	fx := makeLive(t, 30, 60)
	for index, want := range fx.frames {
		reader := openReader(t, fx.data)
		_, err := reader.SelectTrack(index)
		require.NoError(t, err)

		blocks := readAll(t, reader)
		require.Len(t, blocks, len(want))
		for i, b := range blocks {
			assert.Equal(t, want[i].data, b.Data)
			assert.Equal(t, want[i].timecode*1000000, b.AbsoluteTimecodeNs)
			assert.Equal(t, want[i].keyframe, b.IsKeyframe(), "track %d block %d", index, i)
			assert.False(t, b.CreatedFromBlock)
		}
	}
}

func TestReaderBlockGroups(t *testing.T) {
	file := &webmtest.File{
		Tracks: []webmtest.Track{
			{Number: 1, Type: 1, CodecID: "V_VP9", DefaultDuration: 40000000, PixelWidth: 64, PixelHeight: 48},
			{Number: 2, Type: 2, CodecID: "A_OPUS", SamplingFrequency: 48000, Channels: 1},
		},
		Clusters: []webmtest.Cluster{
			{Timecode: 0, Blocks: []webmtest.Block{
				{Track: 1, Timecode: 0, Keyframe: true, Data: []byte{1}, InGroup: true},
				{Track: 2, Timecode: 0, Keyframe: true, Data: []byte{9}},
				{Track: 1, Timecode: 40, Data: []byte{2}, InGroup: true},
				{Track: 1, NoBlock: true},
				{Track: 1, Timecode: 80, Data: []byte{3}},
			}},
			{Timecode: 120, Blocks: []webmtest.Block{
				{Track: 1, Timecode: 120, Keyframe: true, Data: []byte{4}},
			}},
		},
	}
	reader := openReader(t, file.Bytes())
	_, err := reader.SelectTrack(0)
	require.NoError(t, err)

	blocks := readAll(t, reader)
	require.Len(t, blocks, 4)
	assert.True(t, blocks[0].CreatedFromBlock)
	assert.True(t, blocks[0].IsKeyframe())
	assert.True(t, blocks[1].CreatedFromBlock)
	assert.False(t, blocks[1].IsKeyframe())
	assert.False(t, blocks[2].CreatedFromBlock)
	assert.Equal(t, int64(120000000), blocks[3].AbsoluteTimecodeNs)
	assert.Equal(t, int16(0), blocks[3].RelativeTimecode)
	for i, b := range blocks {
		assert.Equal(t, []byte{byte(i + 1)}, b.Data)
	}
}

func TestReaderUnknownSizedClusters(t *testing.T) {
	file := &webmtest.File{
		UnknownSizes: true,
		Tracks:       []webmtest.Track{{Number: 1, Type: 2, CodecID: "A_OPUS", SamplingFrequency: 48000, Channels: 2}},
		Clusters: []webmtest.Cluster{
			{Timecode: 0, Blocks: []webmtest.Block{{Track: 1, Timecode: 0, Data: []byte{1}}, {Track: 1, Timecode: 20, Data: []byte{2}}}},
			{Timecode: 40, Blocks: []webmtest.Block{{Track: 1, Timecode: 40, Data: []byte{3}}}},
			{Timecode: 60, Blocks: []webmtest.Block{{Track: 1, Timecode: 60, Data: []byte{4}}}},
		},
	}
	reader := openReader(t, file.Bytes())
	_, err := reader.SelectTrack(0)
	require.NoError(t, err)
	seg, err := reader.NextSegment()
	require.NoError(t, err)

	var timecodes []uint64
	for {
		cluster, err := seg.NextCluster()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		timecodes = append(timecodes, cluster.Timecode)
	}
	assert.Equal(t, []uint64{0, 40, 60}, timecodes)
	_, err = reader.NextSegment()
	assert.Equal(t, io.EOF, err)
}

func TestReaderDropsLacedTracks(t *testing.T) {
	file := &webmtest.File{
		Tracks: []webmtest.Track{
			{Number: 1, Type: 2, CodecID: "A_VORBIS", Laced: true, SamplingFrequency: 44100, Channels: 2},
			{Number: 2, Type: 2, CodecID: "A_OPUS", SamplingFrequency: 48000, Channels: 2},
		},
	}
	reader := openReader(t, file.Bytes())
	require.Len(t, reader.Tracks(), 1)
	assert.Equal(t, "A_OPUS", reader.Tracks()[0].CodecID)
}

func TestReaderRejects(t *testing.T) {
	tests := []struct {
		name string
		file *webmtest.File
	}{
		{"matroska doctype", &webmtest.File{DocType: "matroska"}},
		{"read version", &webmtest.File{ReadVersion: 2}},
		{"missing info", &webmtest.File{NoInfo: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader, err := NewReader(stream.NewMemory(tt.file.Bytes()))
			require.NoError(t, err)
			assert.ErrorIs(t, reader.Parse(), stream.ErrMalformed)
		})
	}
}

func TestReaderChildOverrun(t *testing.T) {
	file := &webmtest.File{
		Tracks: []webmtest.Track{{Number: 1, Type: 2, CodecID: "A_OPUS", SamplingFrequency: 48000, Channels: 2}},
	}
	data := file.Bytes()
	at := bytes.Index(data, []byte{0x16, 0x54, 0xAE, 0x6B}) + 4
	size := binary.BigEndian.Uint64(data[at:]) & 0x00FFFFFFFFFFFFFF
	binary.BigEndian.PutUint64(data[at:], size-1|0x0100000000000000)

	reader, err := NewReader(stream.NewMemory(data))
	require.NoError(t, err)
	assert.ErrorIs(t, reader.Parse(), stream.ErrMalformed)
}

func TestReaderRefusesHugeElements(t *testing.T) {
	t.Run("codec private", func(t *testing.T) {
		data := (&webmtest.File{UnknownSizes: true}).Bytes()
		data = data[:bytes.Index(data, []byte{0x16, 0x54, 0xAE, 0x6B})]
		data = append(data, 0x16, 0x54, 0xAE, 0x6B, 0x01, 0x04, 0, 0, 0, 0, 0, 0)
		data = append(data, 0xAE, 0x01, 0x02, 0, 0, 0, 0, 0, 0)
		data = append(data, 0x63, 0xA2, 0x01, 0x01, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x9C)
		data = append(data, 1, 2, 3, 4)

		reader, err := NewReader(stream.NewMemory(data))
		require.NoError(t, err)
		assert.ErrorIs(t, reader.Parse(), stream.ErrMalformed)
	})

	t.Run("simple block", func(t *testing.T) {
		data := (&webmtest.File{
			UnknownSizes: true,
			Tracks:       []webmtest.Track{{Number: 1, Type: 2, CodecID: "A_OPUS", SamplingFrequency: 48000, Channels: 2}},
		}).Bytes()
		data = append(data, 0x1F, 0x43, 0xB6, 0x75, 0x01, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF)
		data = append(data, 0xE7, 0x81, 0x00)
		data = append(data, 0xA3, 0x01, 0, 0, 0x01, 0, 0, 0, 0, 0x81, 0, 0, 0x80, 1, 2, 3)

		reader := openReader(t, data)
		_, err := reader.SelectTrack(0)
		require.NoError(t, err)
		seg, err := reader.NextSegment()
		require.NoError(t, err)
		cluster, err := seg.NextCluster()
		require.NoError(t, err)
		_, err = cluster.NextSimpleBlock()
		assert.ErrorIs(t, err, stream.ErrMalformed)
	})
}

func TestReaderReparseAfterRewind(t *testing.T) {
	fx := makeLive(t, 30, 50)
	src := stream.NewMemory(fx.data)

	pass := func() ([]*Track, []*SimpleBlock) {
		reader, err := NewReader(src)
		require.NoError(t, err)
		require.NoError(t, reader.Parse())
		_, err = reader.SelectTrack(1)
		require.NoError(t, err)
		return reader.Tracks(), readAll(t, reader)
	}
	tracks, blocks := pass()
	require.Len(t, blocks, 50)
	require.NoError(t, src.Rewind())
	again, againBlocks := pass()

	assert.Equal(t, tracks, again)
	require.Len(t, againBlocks, len(blocks))
	for i := range blocks {
		assert.Equal(t, blocks[i].Data, againBlocks[i].Data)
		assert.Equal(t, blocks[i].AbsoluteTimecodeNs, againBlocks[i].AbsoluteTimecodeNs)
		assert.Equal(t, blocks[i].Flags, againBlocks[i].Flags)
	}
}

func TestReaderTruncatedBlock(t *testing.T) {
	file := &webmtest.File{
		Tracks: []webmtest.Track{{Number: 1, Type: 2, CodecID: "A_OPUS", SamplingFrequency: 48000, Channels: 2}},
		Clusters: []webmtest.Cluster{
			{Timecode: 0, Blocks: []webmtest.Block{{Track: 1, Data: payload(1, 100)}}},
		},
	}
	data := file.Bytes()
	reader := openReader(t, data[:len(data)-10])
	_, err := reader.SelectTrack(0)
	require.NoError(t, err)
	seg, err := reader.NextSegment()
	require.NoError(t, err)
	cluster, err := seg.NextCluster()
	require.NoError(t, err)
	_, err = cluster.NextSimpleBlock()
	assert.ErrorIs(t, err, stream.ErrTruncated)
}

func TestReaderState(t *testing.T) {
	fx := makeLive(t, 2, 0)
	reader, err := NewReader(stream.NewMemory(fx.data))
	require.NoError(t, err)

	_, err = reader.NextSegment()
	assert.ErrorIs(t, err, stream.ErrState)
	_, err = reader.SelectTrack(0)
	assert.ErrorIs(t, err, stream.ErrState)

	require.NoError(t, reader.Parse())
	assert.ErrorIs(t, reader.Parse(), stream.ErrState)
	_, err = reader.SelectTrack(1)
	assert.ErrorIs(t, err, stream.ErrState)

	seg, err := reader.NextSegment()
	require.NoError(t, err)
	cluster, err := seg.NextCluster()
	require.NoError(t, err)
	_, err = cluster.NextSimpleBlock()
	assert.ErrorIs(t, err, stream.ErrState)
}
