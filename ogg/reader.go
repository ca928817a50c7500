package ogg

import (
	"bytes"
	"io"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/gomedia/remux/stream"
)

type Codec int

const (
	CodecUnknown Codec = iota
	CodecOpus
	CodecVorbis
)

func (c Codec) String() string {
	switch c {
	case CodecOpus:
		return "opus"
	case CodecVorbis:
		return "vorbis"
	}
	return "unknown"
}

type oggCodec struct {
	codec Codec
	magic []byte
}

var codecs = []oggCodec{
	{CodecOpus, []byte("OpusHead")},
	{CodecVorbis, []byte("\x01vorbis")},
}

func findCodec(packet []byte) Codec {
	for _, c := range codecs {
		if bytes.HasPrefix(packet, c.magic) {
			return c.codec
		}
	}
	return CodecUnknown
}

// Packet is a complete packet of a logical stream. Granule is the granule
// position of the page the packet ends on.
type Packet struct {
	Serial  uint32
	Codec   Codec
	Granule uint64
	Data    []byte
	// Lost is set on the first packet after a gap in the page sequence.
	Lost bool
}

type logicalStream struct {
	serial   uint32
	codec    Codec
	sequence uint32
	cache    []byte
	lost     bool
	ended    bool
}

// Reader splits an Ogg bitstream into packets, joining the ones that
// continue over page boundaries.
type Reader struct {
	src     io.Reader
	log     *log.Entry
	streams map[uint32]*logicalStream
	queue   []*Packet
	OnPage  func(page *Page)
}

func NewReader(src io.Reader, opts ...Option) (*Reader, error) {
	if err := stream.Require(src, "ogg source", "read"); err != nil {
		return nil, err
	}
	o := newOptions(opts)
	return &Reader{
		src:     src,
		log:     o.logger.WithField("component", "ogg-reader"),
		streams: make(map[uint32]*logicalStream),
	}, nil
}

// Streams returns the codec of every logical stream seen so far.
func (reader *Reader) Streams() map[uint32]Codec {
	m := make(map[uint32]Codec, len(reader.streams))
	for serial, s := range reader.streams {
		m[serial] = s.codec
	}
	return m
}

// NextPacket returns the next complete packet, io.EOF at the end of the
// bitstream.
func (reader *Reader) NextPacket() (*Packet, error) {
	for len(reader.queue) == 0 {
		page, err := ReadPage(reader.src)
		if err != nil {
			return nil, err
		}
		if err = reader.readPage(page); err != nil {
			return nil, err
		}
	}
	pkt := reader.queue[0]
	reader.queue = reader.queue[1:]
	return pkt, nil
}

func (reader *Reader) readPage(page *Page) error {
	if reader.OnPage != nil {
		reader.OnPage(page)
	}
	s, found := reader.streams[page.Serial]
	if !found {
		if !page.IsFirst() {
			return errors.Wrapf(stream.ErrMalformed, "stream %08x starts without a first page", page.Serial)
		}
		s = &logicalStream{serial: page.Serial, sequence: page.Sequence}
		reader.streams[page.Serial] = s
	} else {
		if s.ended {
			return errors.Wrapf(stream.ErrMalformed, "page %d of stream %08x after its last page", page.Sequence, page.Serial)
		}
		if s.sequence+1 != page.Sequence {
			reader.log.Warnf("stream %08x lost pages %d to %d", s.serial, s.sequence+1, page.Sequence-1)
			s.lost = true
			s.cache = s.cache[:0]
		}
		s.sequence = page.Sequence
	}
	s.ended = page.IsLast()

	payload := page.Payload
	idx := 0
	if page.IsContinued() && (s.lost || len(s.cache) == 0) {
		// the start of the packet is gone, drop its tail
		skip := 0
		for ; idx < len(page.Segments); idx++ {
			skip += int(page.Segments[idx])
			if page.Segments[idx] < maxSegmentSize {
				idx++
				break
			}
		}
		payload = payload[skip:]
	} else if !page.IsContinued() && len(s.cache) > 0 {
		reader.log.Warnf("stream %08x drops an unfinished packet of %d bytes", s.serial, len(s.cache))
		s.cache = s.cache[:0]
	}

	start := 0
	for ; idx < len(page.Segments); idx++ {
		size := int(page.Segments[idx])
		s.cache = append(s.cache, payload[start:start+size]...)
		start += size
		if size == maxSegmentSize {
			continue
		}
		data := append([]byte(nil), s.cache...)
		s.cache = s.cache[:0]
		if s.codec == CodecUnknown && page.IsFirst() {
			s.codec = findCodec(data)
		}
		reader.queue = append(reader.queue, &Packet{
			Serial:  s.serial,
			Codec:   s.codec,
			Granule: page.Granule,
			Data:    data,
			Lost:    s.lost,
		})
		s.lost = false
	}
	return nil
}
