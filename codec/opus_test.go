package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomedia/remux/stream"
)

func TestOpusHead(t *testing.T) {
	head := (&OpusContext{ChannelCount: 2, Preskip: 312, SampleRate: 48000}).WriteOpusExtraData()
	require.Len(t, head, 19)

	var ctx OpusContext
	require.NoError(t, ctx.ParseExtraData(head))
	assert.Equal(t, 2, ctx.ChannelCount)
	assert.Equal(t, 312, ctx.Preskip)
	assert.Equal(t, 48000, ctx.SampleRate)
	assert.Equal(t, 1, ctx.StreamCount)
	assert.Equal(t, 1, ctx.StereoStreamCount)
	require.Len(t, ctx.ChannelMaps, 2)
	assert.Equal(t, LEFT_CHANNEL, ctx.ChannelMaps[0].ChannelIdx)
	assert.Equal(t, RIGHT_CHANNEL, ctx.ChannelMaps[1].ChannelIdx)
}

func TestOpusHeadSurround(t *testing.T) {
	head := (&OpusContext{ChannelCount: 6, Preskip: 312, SampleRate: 48000}).WriteOpusExtraData()
	head[18] = 1
	head = append(head, 4, 2, 0, 4, 1, 2, 3, 5)

	var ctx OpusContext
	require.NoError(t, ctx.ParseExtraData(head))
	assert.Equal(t, 4, ctx.StreamCount)
	assert.Equal(t, 2, ctx.StereoStreamCount)
	assert.Len(t, ctx.ChannelMaps, 6)
}

func TestOpusHeadRejects(t *testing.T) {
	valid := (&OpusContext{ChannelCount: 1, SampleRate: 48000}).WriteOpusExtraData()
	tests := []struct {
		name string
		head func() []byte
	}{
		{"short", func() []byte { return valid[:12] }},
		{"magic", func() []byte { h := append([]byte{}, valid...); h[0] = 'o'; return h }},
		{"version", func() []byte { h := append([]byte{}, valid...); h[8] = 0x10; return h }},
		{"no channels", func() []byte { h := append([]byte{}, valid...); h[9] = 0; return h }},
		{"family 0 surround", func() []byte { h := append([]byte{}, valid...); h[9] = 6; return h }},
		{"mapping truncated", func() []byte { h := append([]byte{}, valid...); h[18] = 1; return h }},
		{"family 3", func() []byte { h := append([]byte{}, valid...); h[18] = 3; return h }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ctx OpusContext
			assert.ErrorIs(t, ctx.ParseExtraData(tt.head()), stream.ErrMalformed)
		})
	}
}

func TestOpusPacketDuration(t *testing.T) {
	tests := []struct {
		name   string
		packet []byte
		want   uint64
	}{
		{"celt 20ms", []byte{31<<3 | 0, 0xAA, 0xBB}, 960},
		{"celt 2.5ms", []byte{16 << 3, 0xAA}, 120},
		{"silk 60ms", []byte{3 << 3, 0xAA}, 2880},
		{"hybrid 10ms pair", []byte{12<<3 | 1, 0xAA, 0xBB}, 960},
		{"celt 20ms code 2", []byte{31<<3 | 2, 1, 0xAA, 0xBB}, 1920},
		{"celt 10ms code 3 cbr", []byte{30<<3 | 3, 3, 1, 2, 3}, 1440},
		{"empty", nil, 0},
		{"code 3 without count", []byte{31<<3 | 3}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, OpusPacketDuration(tt.packet))
		})
	}
}

func TestDecodeOpusPacketVbr(t *testing.T) {
	// three frames, vbr, padding of 2 bytes, lengths 1 and 2, last 3
	packet := []byte{31<<3 | 3, 0x80 | 0x40 | 3, 2, 1, 2, 0xA, 0xB, 0xB, 0xC, 0xC, 0xC, 0, 0}
	pkt, err := DecodeOpusPacket(packet)
	require.NoError(t, err)
	assert.Equal(t, 3, pkt.FrameCount)
	assert.Equal(t, []uint16{1, 2, 3}, pkt.FrameLen)
	assert.Equal(t, []byte{0xA, 0xB, 0xB, 0xC, 0xC, 0xC}, pkt.Frame)

	_, err = DecodeOpusPacket([]byte{31<<3 | 2, 200, 1})
	assert.ErrorIs(t, err, stream.ErrMalformed)
}

func TestOpusTags(t *testing.T) {
	tags := WriteOpusTags()
	assert.Len(t, tags, 16)
	assert.Equal(t, "OpusTags", string(tags[:8]))
}
