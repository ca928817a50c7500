package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/gomedia/remux/codec"
	"github.com/gomedia/remux/stream"
	"github.com/gomedia/remux/webm/webmtest"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand(&out)
	cmd.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// webmFile has one track with count blocks spaced stepMs apart, a cluster
// per ten blocks.
func webmFile(track webmtest.Track, count int, stepMs int64) []byte {
	file := &webmtest.File{Tracks: []webmtest.Track{track}}
	for i := 0; i < count; i++ {
		ts := int64(i) * stepMs
		if i%10 == 0 {
			file.Clusters = append(file.Clusters, webmtest.Cluster{Timecode: uint64(ts)})
		}
		c := &file.Clusters[len(file.Clusters)-1]
		c.Blocks = append(c.Blocks, webmtest.Block{
			Track:    track.Number,
			Timecode: ts,
			Keyframe: i%10 == 0,
			Data:     bytes.Repeat([]byte{byte(i)}, 40+i%7),
		})
	}
	return file.Bytes()
}

func videoTrack() webmtest.Track {
	return webmtest.Track{
		Number:          1,
		Type:            1,
		CodecID:         "V_VP8",
		DefaultDuration: 40000000,
		PixelWidth:      320,
		PixelHeight:     240,
	}
}

func audioTrack() webmtest.Track {
	head := &codec.OpusContext{ChannelCount: 2, Preskip: 312, SampleRate: 48000}
	return webmtest.Track{
		Number:            1,
		Type:              2,
		CodecID:           "A_OPUS",
		CodecPrivate:      head.WriteOpusExtraData(),
		CodecDelay:        6500000,
		SamplingFrequency: 48000,
		Channels:          2,
	}
}

func probe(t *testing.T, paths ...string) []probeResult {
	t.Helper()
	out, err := run(t, append([]string{"probe"}, paths...)...)
	require.NoError(t, err)
	var results []probeResult
	require.NoError(t, yaml.Unmarshal([]byte(out), &results))
	require.Len(t, results, len(paths))
	return results
}

func TestWebMThenOgg(t *testing.T) {
	dir := t.TempDir()
	video := writeFile(t, dir, "video.webm", webmFile(videoTrack(), 25, 40))
	audio := writeFile(t, dir, "audio.webm", webmFile(audioTrack(), 50, 20))
	movie := filepath.Join(dir, "movie.webm")

	out, err := run(t, "webm", "-o", movie, video, audio)
	require.NoError(t, err)
	assert.Contains(t, out, "webm")
	assert.Contains(t, out, movie)

	results := probe(t, movie)
	assert.Equal(t, "webm", results[0].Format)
	require.Len(t, results[0].Tracks, 2)
	v, a := results[0].Tracks[0], results[0].Tracks[1]
	assert.Equal(t, "video", v.Kind)
	assert.Equal(t, "V_VP8", v.Codec)
	assert.Equal(t, uint64(320), v.Width)
	assert.Equal(t, "audio", a.Kind)
	assert.Equal(t, "A_OPUS", a.Codec)
	assert.Equal(t, uint64(2), a.ID)
	assert.Equal(t, "und", a.Language)

	// the audio track is found without --track
	opus := filepath.Join(dir, "audio.opus")
	_, err = run(t, "ogg", "-o", opus, movie)
	require.NoError(t, err)

	results = probe(t, opus)
	assert.Equal(t, "ogg", results[0].Format)
	require.Len(t, results[0].Tracks, 1)
	assert.Equal(t, "opus", results[0].Tracks[0].Codec)
	assert.Equal(t, "audio", results[0].Tracks[0].Kind)
	assert.Equal(t, 52, results[0].Tracks[0].Packets)
	assert.NotZero(t, results[0].Tracks[0].Granule)
}

func TestOggFixedSerial(t *testing.T) {
	dir := t.TempDir()
	audio := writeFile(t, dir, "audio.webm", webmFile(audioTrack(), 10, 20))
	config := writeFile(t, dir, "remux.yaml", []byte("ogg:\n  serial: 4660\n"))
	opus := filepath.Join(dir, "audio.opus")

	_, err := run(t, "--config", config, "ogg", "--track", "0", "-o", opus, audio)
	require.NoError(t, err)
	results := probe(t, opus)
	assert.Equal(t, uint64(4660), results[0].Tracks[0].ID)
}

func TestSrt(t *testing.T) {
	dir := t.TempDir()
	doc := []byte(`<tt><body><div><p begin="1s" end="2s">hi</p></div></body></tt>`)
	first := writeFile(t, dir, "a.ttml", doc)
	second := writeFile(t, dir, "b.ttml", doc)

	out, err := run(t, "srt", first, second)
	require.NoError(t, err)
	assert.Equal(t, "1\n00:00:01,000 --> 00:00:02,000\nhi\n\n2\n00:00:01,000 --> 00:00:02,000\nhi\n\n", out)

	target := filepath.Join(dir, "out.srt")
	_, err = run(t, "srt", "-o", target, first)
	require.NoError(t, err)
	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "1\n00:00:01,000 --> 00:00:02,000\nhi\n\n", string(data))
}

func TestCommandRejects(t *testing.T) {
	dir := t.TempDir()
	video := writeFile(t, dir, "video.webm", webmFile(videoTrack(), 5, 40))
	target := filepath.Join(dir, "out")

	_, err := run(t, "webm", video)
	assert.Error(t, err, "missing --output")

	_, err = run(t, "webm", "-o", target, "--track", "0,1", video)
	assert.ErrorIs(t, err, stream.ErrState)

	_, err = run(t, "mp4", "-o", target, "--brand", "mp4", video)
	assert.ErrorIs(t, err, stream.ErrState)

	_, err = run(t, "mp4", "-o", target, video)
	assert.ErrorIs(t, err, stream.ErrMalformed)

	_, err = run(t, "ogg", "-o", target, video)
	assert.ErrorIs(t, err, stream.ErrState, "no audio track")

	_, err = run(t, "probe", writeFile(t, dir, "junk.bin", []byte("not media at all")))
	assert.ErrorIs(t, err, stream.ErrMalformed)

	_, err = run(t, "--log-level", "loud", "probe", video)
	assert.Error(t, err)
}
