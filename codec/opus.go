// Package codec holds the codec-private parsers the Ogg muxer needs.
package codec

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/gomedia/remux/stream"
)

// ffmpeg opus.h OpusPacket
type OpusPacket struct {
	Code       int
	Config     int
	Stereo     int
	Vbr        int
	FrameCount int
	FrameLen   []uint16
	Frame      []byte
}

// DecodeOpusPacket splits the TOC byte and the frame lengths of an Opus
// packet (RFC 6716 section 3.2).
func DecodeOpusPacket(packet []byte) (*OpusPacket, error) {
	if len(packet) < 1 {
		return nil, errors.Wrap(stream.ErrMalformed, "empty opus packet")
	}
	pkt := &OpusPacket{}
	pkt.Code = int(packet[0] & 0x03)
	pkt.Stereo = int((packet[0] >> 2) & 0x01)
	pkt.Config = int(packet[0] >> 3)

	switch pkt.Code {
	case 0:
		pkt.FrameCount = 1
		pkt.FrameLen = []uint16{uint16(len(packet) - 1)}
		pkt.Frame = packet[1:]
	case 1:
		pkt.FrameCount = 2
		pkt.FrameLen = []uint16{uint16(len(packet)-1) / 2}
		pkt.Frame = packet[1:]
	case 2:
		pkt.FrameCount = 2
		n1, hdr, err := opusFrameLength(packet, 1)
		if err != nil {
			return nil, err
		}
		if hdr+n1 > len(packet) {
			return nil, errors.Wrapf(stream.ErrMalformed, "opus frame of %d bytes in a %d byte packet", n1, len(packet))
		}
		pkt.FrameLen = []uint16{uint16(n1), uint16(len(packet) - hdr - n1)}
		pkt.Frame = packet[hdr:]
	case 3:
		if len(packet) < 2 {
			return nil, errors.Wrap(stream.ErrMalformed, "opus code 3 packet without frame count")
		}
		hdr := 2
		pkt.Vbr = int(packet[1] >> 7)
		padding := (packet[1] >> 6) & 0x01
		pkt.FrameCount = int(packet[1] & 0x3F)
		if pkt.FrameCount == 0 {
			return nil, errors.Wrap(stream.ErrMalformed, "opus packet with zero frames")
		}
		paddingLen := 0
		if padding == 1 {
			for {
				if hdr >= len(packet) {
					return nil, errors.Wrap(stream.ErrMalformed, "opus padding overruns the packet")
				}
				p := int(packet[hdr])
				hdr++
				if p < 255 {
					paddingLen += p
					break
				}
				paddingLen += 254
			}
		}

		if pkt.Vbr == 0 {
			size := (len(packet) - hdr - paddingLen) / pkt.FrameCount
			if size < 0 {
				return nil, errors.Wrap(stream.ErrMalformed, "opus padding larger than the packet")
			}
			pkt.FrameLen = []uint16{uint16(size)}
			pkt.Frame = packet[hdr : hdr+size*pkt.FrameCount]
		} else {
			n := 0
			for i := 0; i < pkt.FrameCount-1; i++ {
				n1, next, err := opusFrameLength(packet, hdr)
				if err != nil {
					return nil, err
				}
				hdr = next
				n += n1
				pkt.FrameLen = append(pkt.FrameLen, uint16(n1))
			}
			last := len(packet) - hdr - paddingLen - n
			if last < 0 {
				return nil, errors.Wrap(stream.ErrMalformed, "opus frame lengths overrun the packet")
			}
			pkt.FrameLen = append(pkt.FrameLen, uint16(last))
			pkt.Frame = packet[hdr : hdr+n+last]
		}
	}
	return pkt, nil
}

// opusFrameLength reads the one or two byte length at offset.
func opusFrameLength(packet []byte, offset int) (int, int, error) {
	if offset >= len(packet) {
		return 0, 0, errors.Wrap(stream.ErrMalformed, "opus frame length overruns the packet")
	}
	n := int(packet[offset])
	if n < 252 {
		return n, offset + 1, nil
	}
	if offset+1 >= len(packet) {
		return 0, 0, errors.Wrap(stream.ErrMalformed, "opus frame length overruns the packet")
	}
	return n + 4*int(packet[offset+1]), offset + 2, nil
}

// FrameSamples is the duration of one frame at 48 kHz.
func (pkt *OpusPacket) FrameSamples() uint64 {
	switch {
	case pkt.Config < 12:
		return []uint64{480, 960, 1920, 2880}[pkt.Config%4]
	case pkt.Config < 16:
		return []uint64{480, 960}[pkt.Config%2]
	}
	return []uint64{120, 240, 480, 960}[pkt.Config%4]
}

// OpusPacketDuration is the number of 48 kHz samples the packet decodes to,
// 0 when it cannot be decoded.
func OpusPacketDuration(packet []byte) uint64 {
	pkt, err := DecodeOpusPacket(packet)
	if err != nil {
		return 0
	}
	return pkt.FrameSamples() * uint64(pkt.FrameCount)
}

const (
	LEFT_CHANNEL  = 0
	RIGHT_CHANNEL = 1
)

var vorbisChanLayoutOffset = [8][8]byte{
	{0},
	{0, 1},
	{0, 2, 1},
	{0, 1, 2, 3},
	{0, 2, 1, 3, 4},
	{0, 2, 1, 5, 3, 4},
	{0, 2, 1, 6, 5, 3, 4},
	{0, 2, 1, 7, 5, 6, 3, 4},
}

type ChannelOrder func(channels int, idx int) int

func defaultOrder(channels int, idx int) int {
	return idx
}

func vorbisOrder(channels int, idx int) int {
	return int(vorbisChanLayoutOffset[channels-1][idx])
}

type ChannelMap struct {
	StreamIdx  int
	ChannelIdx int
	Silence    bool
	Copy       bool
	CopyFrom   int
}

// OpusContext is the content of an OpusHead packet (RFC 7845 section 5.1).
type OpusContext struct {
	Version           uint8
	Preskip           int
	SampleRate        int
	ChannelCount      int
	StreamCount       int
	StereoStreamCount int
	OutputGain        uint16
	MapType           uint8
	ChannelMaps       []ChannelMap
}

// opus ID head
// 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
// +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
// |      'O'      |      'p'      |      'u'      |      's'      |
// +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
// |      'H'      |      'e'      |      'a'      |      'd'      |
// +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
// |  Version = 1  | Channel Count |           Pre-skip            |
// +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
// |                     Input Sample Rate (Hz)                    |
// +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
// |   Output Gain (Q7.8 in dB)    | Mapping Family|               |
// +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+               :
// |                                                               |
// :               Optional Channel Mapping Table...               :
// |                                                               |
// +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+

func (ctx *OpusContext) ParseExtraData(extraData []byte) error {
	if len(extraData) < 19 || string(extraData[0:8]) != "OpusHead" {
		return errors.Wrap(stream.ErrMalformed, "codec private is not an OpusHead")
	}
	ctx.Version = extraData[8]
	if ctx.Version>>4 != 0 {
		return errors.Wrapf(stream.ErrMalformed, "unsupported OpusHead version %d", ctx.Version)
	}
	ctx.ChannelCount = int(extraData[9])
	ctx.Preskip = int(binary.LittleEndian.Uint16(extraData[10:]))
	ctx.SampleRate = int(binary.LittleEndian.Uint32(extraData[12:]))
	ctx.OutputGain = binary.LittleEndian.Uint16(extraData[16:])
	ctx.MapType = extraData[18]
	ctx.ChannelMaps = ctx.ChannelMaps[:0]
	if ctx.ChannelCount == 0 {
		return errors.Wrap(stream.ErrMalformed, "OpusHead without channels")
	}

	var channel []byte
	var order ChannelOrder
	switch ctx.MapType {
	case 0:
		if ctx.ChannelCount > 2 {
			return errors.Wrapf(stream.ErrMalformed, "mapping family 0 with %d channels", ctx.ChannelCount)
		}
		ctx.StreamCount = 1
		ctx.StereoStreamCount = ctx.ChannelCount - 1
		channel = []byte{0, 1}
		order = defaultOrder
	case 1, 2, 255:
		if len(extraData) < 21+ctx.ChannelCount {
			return errors.Wrap(stream.ErrMalformed, "OpusHead channel mapping table truncated")
		}
		ctx.StreamCount = int(extraData[19])
		ctx.StereoStreamCount = int(extraData[20])
		channel = extraData[21 : 21+ctx.ChannelCount]
		order = defaultOrder
		if ctx.MapType == 1 && ctx.ChannelCount <= 8 {
			order = vorbisOrder
		}
	default:
		return errors.Wrapf(stream.ErrMalformed, "unsupported mapping family %d", ctx.MapType)
	}

	for i := 0; i < ctx.ChannelCount; i++ {
		cm := ChannelMap{}
		index := channel[order(ctx.ChannelCount, i)]
		if index == 255 {
			cm.Silence = true
			ctx.ChannelMaps = append(ctx.ChannelMaps, cm)
			continue
		} else if int(index) >= ctx.StereoStreamCount+ctx.StreamCount {
			return errors.Wrapf(stream.ErrMalformed, "channel index %d past %d streams", index, ctx.StreamCount+ctx.StereoStreamCount)
		}

		for j := 0; j < i; j++ {
			if channel[order(ctx.ChannelCount, j)] == index {
				cm.Copy = true
				cm.CopyFrom = j
				break
			}
		}

		if int(index) < 2*ctx.StereoStreamCount {
			cm.StreamIdx = int(index) / 2
			if index&1 == 0 {
				cm.ChannelIdx = LEFT_CHANNEL
			} else {
				cm.ChannelIdx = RIGHT_CHANNEL
			}
		} else {
			cm.StreamIdx = int(index) - ctx.StereoStreamCount
			cm.ChannelIdx = 0
		}
		ctx.ChannelMaps = append(ctx.ChannelMaps, cm)
	}

	return nil
}

// WriteOpusExtraData writes a mapping family 0 OpusHead.
func (ctx *OpusContext) WriteOpusExtraData() []byte {
	extraData := make([]byte, 19)
	copy(extraData, "OpusHead")
	extraData[8] = 0x01
	extraData[9] = byte(ctx.ChannelCount)
	binary.LittleEndian.PutUint16(extraData[10:], uint16(ctx.Preskip))
	binary.LittleEndian.PutUint32(extraData[12:], uint32(ctx.SampleRate))
	binary.LittleEndian.PutUint16(extraData[16:], ctx.OutputGain)
	return extraData
}

// WriteOpusTags writes an OpusTags packet with an empty vendor string and
// no comments.
func WriteOpusTags() []byte {
	return []byte{
		'O', 'p', 'u', 's', 'T', 'a', 'g', 's',
		0, 0, 0, 0, // vendor string length
		0, 0, 0, 0, // user comment list length
	}
}
