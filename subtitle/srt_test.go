package subtitle

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomedia/remux/stream"
)

const document = `<?xml version="1.0" encoding="utf-8"?>
<tt xmlns="http://www.w3.org/ns/ttml" xmlns:ttp="http://www.w3.org/ns/ttml#parameter" ttp:frameRate="25" ttp:tickRate="10000000">
  <head>
    <styling><style xml:id="s1"/></styling>
    <p begin="00:00:00.000" end="00:00:01.000">not a cue</p>
  </head>
  <body>
    <div>
      <p begin="00:00:01.500" end="00:00:03.250">Hello   world</p>
      <p begin="00:00:04.000" end="00:00:06.000">
        First line<br/>
        <span style="s1">second</span> line
      </p>
      <p begin="00:00:07.000" end="00:00:08.000">   </p>
      <p begin="01:02:03:12" dur="2s">frames</p>
      <p begin="40000000t" end="52000000t">ticks</p>
    </div>
  </body>
</tt>`

func convert(t *testing.T, ttml string, opts ...Option) string {
	t.Helper()
	var out bytes.Buffer
	s, err := NewSrtFromTtml(&out, opts...)
	require.NoError(t, err)
	require.NoError(t, s.Build(strings.NewReader(ttml)))
	return out.String()
}

func TestSrtFromTtml(t *testing.T) {
	want := "1\n00:00:01,500 --> 00:00:03,250\nHello world\n\n" +
		"2\n00:00:04,000 --> 00:00:06,000\nFirst line\nsecond line\n\n" +
		"3\n01:02:03,480 --> 01:02:05,480\nframes\n\n" +
		"4\n00:00:04,000 --> 00:00:05,200\nticks\n\n"
	assert.Equal(t, want, convert(t, document))
}

func TestSrtKeepsEmptyFrames(t *testing.T) {
	got := convert(t, document, WithIgnoreEmptyFrames(false))
	assert.Contains(t, got, "3\n00:00:07,000 --> 00:00:08,000\n\n\n4\n")
	assert.Contains(t, got, "5\n00:00:04,000 --> 00:00:05,200\nticks\n\n")
}

func TestSrtCRLF(t *testing.T) {
	got := convert(t, document, WithCRLF(true))
	assert.True(t, strings.HasPrefix(got, "1\r\n00:00:01,500 --> 00:00:03,250\r\nHello world\r\n\r\n"))
	assert.Contains(t, got, "First line\r\nsecond line\r\n")
	assert.NotContains(t, strings.ReplaceAll(got, "\r\n", ""), "\n")
}

func TestSrtNumberingAcrossDocuments(t *testing.T) {
	var out bytes.Buffer
	s, err := NewSrtFromTtml(&out)
	require.NoError(t, err)
	doc := `<tt><body><div><p begin="1s" end="2s">a</p></div></body></tt>`
	require.NoError(t, s.Build(strings.NewReader(doc)))
	require.NoError(t, s.Build(strings.NewReader(doc)))
	assert.Equal(t, "1\n00:00:01,000 --> 00:00:02,000\na\n\n2\n00:00:01,000 --> 00:00:02,000\na\n\n", out.String())
}

func TestParseTime(t *testing.T) {
	r := defaultRates()
	tests := []struct {
		value string
		want  int64
	}{
		{"00:00:01.5", 1500},
		{"00:01:00", 60000},
		{"10:00:00.001", 36000001},
		{"00:00:01:15", 1500},
		{"12.5s", 12500},
		{"1500ms", 1500},
		{"2m", 120000},
		{"1h", 3600000},
		{"1.5h", 5400000},
		{"30f", 1000},
		{"90t", 90000},
		{" 3s ", 3000},
	}
	for _, tt := range tests {
		got, err := r.parseTime(tt.value)
		require.NoError(t, err, tt.value)
		assert.Equal(t, tt.want, got, tt.value)
	}

	for _, bad := range []string{"", "12", "1x", "-1s", "00:01", "0.5:00:00", "a:b:c", "00:00:01:x"} {
		_, err := r.parseTime(bad)
		assert.ErrorIs(t, err, stream.ErrMalformed, bad)
	}
}

func TestFormatTime(t *testing.T) {
	assert.Equal(t, "00:00:00,000", formatTime(0))
	assert.Equal(t, "01:02:03,004", formatTime(3723004))
	assert.Equal(t, "100:00:00,000", formatTime(360000000))
	assert.Equal(t, "00:00:00,000", formatTime(-5))
}

func TestSrtRejects(t *testing.T) {
	_, err := NewSrtFromTtml(nil)
	assert.ErrorIs(t, err, stream.ErrCapability)

	tests := []struct {
		name string
		ttml string
	}{
		{"broken xml", `<tt><body><div><p begin="1s" end="2s">a</div></body></tt>`},
		{"no end", `<tt><body><div><p begin="1s">a</p></div></body></tt>`},
		{"bad time", `<tt><body><div><p begin="soon" end="2s">a</p></div></body></tt>`},
		{"bad frame rate", `<tt xmlns:ttp="x" ttp:frameRate="0"><body/></tt>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewSrtFromTtml(&bytes.Buffer{})
			require.NoError(t, err)
			assert.ErrorIs(t, s.Build(strings.NewReader(tt.ttml)), stream.ErrMalformed)
		})
	}
}
