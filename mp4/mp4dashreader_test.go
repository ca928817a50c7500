package mp4

import (
	"io"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomedia/remux/stream"
)

func openDash(t *testing.T, data []byte) *DashReader {
	t.Helper()
	reader, err := NewDashReader(stream.NewMemory(data))
	require.NoError(t, err)
	require.NoError(t, reader.Parse())
	return reader
}

func TestDashReaderTracks(t *testing.T) {
	fx := makeDash(t, 60, 100, 2)
	reader := openDash(t, fx.data)

	tracks := reader.Tracks()
	require.Len(t, tracks, 2)

	video := tracks[0]
	assert.Equal(t, uint32(1), video.TrackID)
	assert.Equal(t, KindVideo, video.Kind)
	assert.Equal(t, MP4_CODEC_H264, video.Codec)
	assert.Equal(t, uint32(videoTimescale), video.Timescale)
	assert.Len(t, video.Matrix, matrixSize)
	assert.Equal(t, "vmhd", string(video.MediaHeader[4:8]))

	audio := tracks[1]
	assert.Equal(t, uint32(2), audio.TrackID)
	assert.Equal(t, KindAudio, audio.Kind)
	assert.Equal(t, MP4_CODEC_AAC, audio.Codec)
	assert.Equal(t, uint32(audioTimescale), audio.Timescale)
	assert.Equal(t, "stsd", string(audio.Stsd[4:8]))

	assert.Equal(t, mov_tag(iso5), reader.Brands()[0])
}

func TestDashReaderSamples(t *testing.T) {
	fx := makeDash(t, 90, 150, 3)
	reader := openDash(t, fx.data)

	_, err := reader.NextChunk(false)
	require.ErrorIs(t, err, stream.ErrState)

	for index, want := range [][][]byte{fx.video, fx.audio} {
		_, err = reader.SelectTrack(index)
		require.NoError(t, err)
		require.NoError(t, reader.Rewind())

		var got [][]byte
		chunks := 0
		for {
			chunk, err := reader.NextChunk(false)
			if err == io.EOF {
				break
			}
			require.NoError(t, err)
			chunks++
			for {
				sample, err := chunk.NextSample()
				if err == io.EOF {
					break
				}
				require.NoError(t, err)
				got = append(got, sample.Data)
			}
		}
		assert.Equal(t, 3, chunks)
		assert.Equal(t, want, got)
	}
}

func TestDashReaderVideoSampleInfo(t *testing.T) {
	fx := makeDash(t, 60, 10, 2)
	reader := openDash(t, fx.data)
	_, err := reader.SelectTrack(0)
	require.NoError(t, err)

	i := 0
	for {
		chunk, err := reader.NextChunk(true)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		assert.Nil(t, chunk.Data())
		assert.True(t, chunk.Fragment.HasDecodeTime)
		assert.Equal(t, uint64(i*videoDelta), chunk.Fragment.BaseMediaDecodeTime)
		_, err = chunk.NextSample()
		require.ErrorIs(t, err, stream.ErrState)
		chunk.next = 0
		for {
			entry, ok := chunk.NextSampleInfo()
			if !ok {
				break
			}
			assert.Equal(t, uint32(videoDelta), entry.SampleDuration)
			assert.Equal(t, uint32(len(fx.video[i])), entry.SampleSize)
			assert.Equal(t, fx.videoOffsets[i], entry.SampleCompositionTimeOffset)
			assert.Equal(t, i%gop == 0, entry.IsKeyframe(), "sample %d", i)
			i++
		}
	}
	assert.Equal(t, 60, i)
}

func TestDashReaderInfoOnlyIsRepeatable(t *testing.T) {
	fx := makeDash(t, 30, 50, 5)
	reader := openDash(t, fx.data)
	_, err := reader.SelectTrack(1)
	require.NoError(t, err)

	collect := func() []TrunEntry {
		var entrys []TrunEntry
		for {
			chunk, err := reader.NextChunk(true)
			if err == io.EOF {
				return entrys
			}
			require.NoError(t, err)
			entrys = append(entrys, chunk.Fragment.Entrys...)
		}
	}
	first := collect()
	require.Len(t, first, 50)
	require.NoError(t, reader.Rewind())
	assert.Equal(t, first, collect())
}

func TestDashReaderRejectsPlainMP4(t *testing.T) {
	fx := makeDash(t, 2, 2, 1)
	copy(fx.data[8:12], "mp42")
	reader, err := NewDashReader(stream.NewMemory(fx.data))
	require.NoError(t, err)
	err = reader.Parse()
	require.ErrorIs(t, err, stream.ErrMalformed)
}

func TestDashReaderSkipsSideBoxes(t *testing.T) {
	fx := makeDash(t, 2, 2, 1)
	off, size := findBox(t, fx.data, "ftyp")
	side := []byte{
		0, 0, 0, 12, 's', 't', 'y', 'p', 'd', 'a', 's', 'h',
		0, 0, 0, 8, 'f', 'r', 'e', 'e',
		0, 0, 0, 8, 'z', 'z', 'z', 'z',
	}
	data := append(append(append([]byte{}, fx.data[:off+size]...), side...), fx.data[off+size:]...)

	reader := openDash(t, data)
	assert.Len(t, reader.Tracks(), 2)

	assert.True(t, skippable(&BasicBox{Type: TypeSTYP}))
	assert.True(t, skippable(&BasicBox{Type: TypeSIDX}))
	assert.False(t, skippable(&BasicBox{Type: [4]byte{'z', 'z', 'z', 'z'}}))
}

func TestDashReaderMdatWithoutMoof(t *testing.T) {
	fx := makeDash(t, 2, 2, 1)
	off, size := findBox(t, fx.data, "moof")
	data := append(append([]byte{}, fx.data[:off]...), fx.data[off+size:]...)

	reader, err := NewDashReader(stream.NewMemory(data))
	require.NoError(t, err)
	require.ErrorIs(t, reader.Parse(), stream.ErrInvariant)
}

func TestDashReaderTruncatedMoov(t *testing.T) {
	fx := makeDash(t, 2, 2, 1)
	off, size := findBox(t, fx.data, "moov")
	reader, err := NewDashReader(stream.NewMemory(fx.data[:off+size/2]))
	require.NoError(t, err)
	err = reader.Parse()
	require.Error(t, err)
	assert.True(t, errors.Is(err, stream.ErrTruncated), "%v", err)
}

func TestDashReaderNeedsParse(t *testing.T) {
	fx := makeDash(t, 2, 2, 1)
	reader, err := NewDashReader(stream.NewMemory(fx.data))
	require.NoError(t, err)

	_, err = reader.SelectTrack(0)
	assert.ErrorIs(t, err, stream.ErrState)
	assert.ErrorIs(t, reader.Rewind(), stream.ErrState)

	require.NoError(t, reader.Parse())
	assert.ErrorIs(t, reader.Parse(), stream.ErrState)
	_, err = reader.SelectTrack(2)
	assert.ErrorIs(t, err, stream.ErrState)
}

func TestDashReaderNonRewindableSource(t *testing.T) {
	fx := makeDash(t, 4, 4, 2)
	reader, err := NewDashReader(stream.ReadOnly(stream.NewMemory(fx.data)))
	require.NoError(t, err)
	require.NoError(t, reader.Parse())
	_, err = reader.SelectTrack(0)
	require.NoError(t, err)

	chunk, err := reader.NextChunk(false)
	require.NoError(t, err)
	sample, err := chunk.NextSample()
	require.NoError(t, err)
	assert.Equal(t, fx.video[0], sample.Data)

	assert.ErrorIs(t, reader.Rewind(), stream.ErrCapability)
}

func TestTrunSampleCountBound(t *testing.T) {
	// no per-sample fields, so the length check alone cannot catch the count
	trun := NewTrackRunBox()
	_, err := trun.Decode([]byte{0, 0, 0, 0, 0xFF, 0xFF, 0xFF, 0xFF})
	assert.True(t, errors.Is(err, stream.ErrMalformed))
	assert.Nil(t, trun.Entrys)

	trun = NewTrackRunBox()
	_, err = trun.Decode([]byte{0, 0, 0x02, 0, 0, 0, 0, 2, 0, 0, 0, 5, 0, 0, 0, 7})
	require.NoError(t, err)
	assert.Equal(t, []TrunEntry{{SampleSize: 5}, {SampleSize: 7}}, trun.Entrys)
}
