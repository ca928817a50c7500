package ogg

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"math"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/gomedia/remux/codec"
	"github.com/gomedia/remux/stream"
	"github.com/gomedia/remux/webm"
)

const (
	// data pages are cut every second of track time
	timeScaleNs = 1000000000

	// granule of a page on which no packet ends
	noGranule = ^uint64(0)

	opusSampleRate = 48000
)

// FromWebM extracts one track of a WebM stream into an Ogg bitstream.
type FromWebM struct {
	src    io.Reader
	out    io.Writer
	reader *webm.Reader
	track  *webm.Track
	opts   *options
	log    *log.Entry
	parsed bool
	built  bool

	w          *bufio.Writer
	serial     uint32
	sequence   uint32
	resolution float64
	codecDelay int64
	granule    uint64
	packets    int

	segment *webm.Segment
	cluster *webm.Cluster
}

// NewFromWebM checks that src can be read and rewound and that out can be
// written, seeked and rewound.
func NewFromWebM(src io.Reader, out io.Writer, opts ...Option) (*FromWebM, error) {
	if err := stream.Require(src, "ogg source", "read", "rewind"); err != nil {
		return nil, err
	}
	if err := stream.Require(out, "ogg output", "write", "seek", "rewind"); err != nil {
		return nil, err
	}
	o := newOptions(opts)
	reader, err := webm.NewReader(src, webm.WithLogger(o.logger))
	if err != nil {
		return nil, err
	}
	serial := o.serial
	if !o.hasSerial {
		id := uuid.New()
		serial = binary.BigEndian.Uint32(id[:4])
	}
	return &FromWebM{
		src:    src,
		out:    out,
		reader: reader,
		opts:   o,
		log:    o.logger.WithField("component", "ogg-muxer"),
		serial: serial,
	}, nil
}

func (f *FromWebM) Serial() uint32 {
	return f.serial
}

func (f *FromWebM) ParseSource() error {
	if f.parsed {
		return errors.Wrap(stream.ErrState, "webm source already parsed")
	}
	if err := f.reader.Parse(); err != nil {
		return err
	}
	f.parsed = true
	return nil
}

func (f *FromWebM) TracksFromSource() ([]*webm.Track, error) {
	if !f.parsed {
		return nil, errors.Wrap(stream.ErrState, "webm source not parsed")
	}
	return f.reader.Tracks(), nil
}

// SelectTrack picks the audio or video track to extract.
func (f *FromWebM) SelectTrack(index int) (*webm.Track, error) {
	tracks, err := f.TracksFromSource()
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(tracks) {
		return nil, errors.Wrapf(stream.ErrState, "track %d of %d", index, len(tracks))
	}
	if kind := tracks[index].Kind; kind != webm.KindAudio && kind != webm.KindVideo {
		return nil, errors.Wrapf(stream.ErrState, "track %d is neither audio nor video", index)
	}
	track, err := f.reader.SelectTrack(index)
	if err != nil {
		return nil, err
	}
	f.track = track
	return track, nil
}

// Close closes the source and the output.
func (f *FromWebM) Close() error {
	err := f.reader.Close()
	if cerr := stream.Close(f.out); err == nil {
		err = cerr
	}
	return err
}

func (f *FromWebM) Build() error {
	if f.track == nil {
		return errors.Wrap(stream.ErrState, "no track selected")
	}
	if f.built {
		return errors.Wrap(stream.ErrState, "ogg output already built")
	}
	f.built = true
	if err := f.setResolution(); err != nil {
		return err
	}
	f.codecDelay = 0
	if f.track.CodecDelay > 0 {
		f.codecDelay = f.track.CodecDelay
	}
	f.w = bufio.NewWriterSize(f.out, 64*1024)

	headers, err := f.headerPackets()
	if err != nil {
		return err
	}
	for _, packet := range headers {
		if err = f.writePacket(packet, 0); err != nil {
			return err
		}
	}
	blocks, err := f.writeData()
	if err != nil {
		return err
	}
	if err = f.w.Flush(); err != nil {
		return errors.Wrap(err, "flush ogg output")
	}
	f.log.WithFields(log.Fields{
		"codec":   f.track.CodecID,
		"serial":  f.serial,
		"pages":   f.sequence,
		"packets": f.packets,
		"blocks":  blocks,
		"granule": f.granule,
	}).Info("ogg muxed")
	return nil
}

// setResolution picks the granule rate: samples per second for audio,
// frames per second for video.
func (f *FromWebM) setResolution() error {
	switch f.track.Kind {
	case webm.KindAudio:
		if f.track.SamplingFrequency <= 0 {
			return errors.Wrapf(stream.ErrMalformed, "audio track %d without sampling frequency", f.track.Number)
		}
		f.resolution = f.track.SamplingFrequency
	case webm.KindVideo:
		if f.track.DefaultDuration <= 0 {
			return errors.Wrapf(stream.ErrMalformed, "video track %d without default duration", f.track.Number)
		}
		scale := float64(f.reader.Info().TimecodeScale)
		f.resolution = 1000 / (float64(f.track.DefaultDuration) / scale)
	}
	return nil
}

// headerPackets returns the codec setup packets followed by the metadata
// packet of the codec.
func (f *FromWebM) headerPackets() ([][]byte, error) {
	private := f.track.CodecPrivate
	switch f.track.CodecID {
	case "A_OPUS":
		var packets [][]byte
		if len(private) > 0 {
			var ctx codec.OpusContext
			if err := ctx.ParseExtraData(private); err != nil {
				return nil, errors.WithMessagef(err, "track %d", f.track.Number)
			}
			if f.track.CodecDelay < 0 {
				f.codecDelay = int64(ctx.Preskip) * timeScaleNs / opusSampleRate
			}
			packets = append(packets, private)
		}
		return append(packets, codec.WriteOpusTags()), nil
	case "A_VORBIS":
		if len(private) == 0 {
			return [][]byte{codec.WriteVorbisComment()}, nil
		}
		ident, _, setup, err := codec.VorbisHeaders(private)
		if err != nil {
			return nil, errors.WithMessagef(err, "track %d", f.track.Number)
		}
		return [][]byte{ident, codec.WriteVorbisComment(), setup}, nil
	}
	f.log.Warnf("no metadata packet for codec %s", f.track.CodecID)
	if len(private) > 0 {
		return [][]byte{private}, nil
	}
	return nil, nil
}

// writePage writes one page. The first page of the stream gets FlagFirst.
func (f *FromWebM) writePage(flags byte, granule uint64, segments, payload []byte) error {
	if f.sequence == 0 {
		flags |= FlagFirst
	}
	page := &Page{
		Flags:    flags,
		Granule:  granule,
		Serial:   f.serial,
		Sequence: f.sequence,
		Segments: segments,
		Payload:  payload,
	}
	if _, err := f.w.Write(page.Encode()); err != nil {
		return errors.Wrap(err, "write ogg page")
	}
	f.sequence++
	if granule != noGranule {
		f.granule = granule
	}
	return nil
}

// writePacket puts a packet on pages of its own, continuing it over as
// many pages as it needs.
func (f *FromWebM) writePacket(packet []byte, granule uint64) error {
	f.packets++
	var flags byte
	for segmentCount(len(packet)) > maxSegments {
		n := maxSegments * maxSegmentSize
		table := bytes.Repeat([]byte{maxSegmentSize}, maxSegments)
		if err := f.writePage(flags, noGranule, table, packet[:n]); err != nil {
			return err
		}
		packet = packet[n:]
		flags = FlagContinued
	}
	return f.writePage(flags, granule, appendSegments(nil, len(packet)), packet)
}

// writeData packs the blocks into pages. A page is flushed when the next
// block does not fit its segment table or starts past the page time
// boundary. The page granule is the position the next block starts at.
func (f *FromWebM) writeData() (int, error) {
	var (
		segments, payload []byte
		lastData          []byte
	)
	nextTimestamp := int64(timeScaleNs)
	last, gap := int64(-1), int64(-1)
	blocks := 0

	for {
		block, err := f.nextBlock()
		if err == io.EOF {
			break
		}
		if err != nil {
			return blocks, err
		}
		size := len(block.Data)
		if size > maxPacketSize {
			return blocks, errors.Wrapf(stream.ErrCapacity, "block of %d bytes at %d ns does not fit an ogg page", size, block.AbsoluteTimecodeNs)
		}
		timestamp := block.AbsoluteTimecodeNs + f.codecDelay
		if len(segments) > 0 && (timestamp >= nextTimestamp || len(segments)+segmentCount(size) > maxSegments) {
			if err = f.writePage(0, f.toGranule(timestamp), segments, payload); err != nil {
				return blocks, err
			}
			segments, payload = segments[:0], payload[:0]
			for nextTimestamp <= timestamp {
				nextTimestamp += timeScaleNs
			}
		}
		segments = appendSegments(segments, size)
		payload = append(payload, block.Data...)
		f.packets++
		blocks++

		if last >= 0 {
			gap = block.AbsoluteTimecodeNs - last
		}
		last = block.AbsoluteTimecodeNs
		lastData = block.Data
	}

	if blocks == 0 {
		return 0, f.writePage(FlagLast, f.granule, nil, nil)
	}
	duration := f.track.DefaultDuration
	if duration <= 0 {
		duration = gap
	}
	if duration < 0 && f.track.CodecID == "A_OPUS" {
		duration = int64(codec.OpusPacketDuration(lastData)) * timeScaleNs / opusSampleRate
	}
	if duration < 0 {
		duration = 0
	}
	return blocks, f.writePage(FlagLast, f.toGranule(last+duration+f.codecDelay), segments, payload)
}

func (f *FromWebM) toGranule(ns int64) uint64 {
	if ns <= 0 {
		return 0
	}
	return uint64(math.Ceil(float64(ns) / timeScaleNs * f.resolution))
}

// nextBlock walks the selected track over every segment and cluster.
func (f *FromWebM) nextBlock() (*webm.SimpleBlock, error) {
	for {
		if f.segment == nil {
			seg, err := f.reader.NextSegment()
			if err != nil {
				return nil, err
			}
			f.segment = seg
		}
		if f.cluster == nil {
			cluster, err := f.segment.NextCluster()
			if err == io.EOF {
				f.segment = nil
				continue
			}
			if err != nil {
				return nil, err
			}
			f.cluster = cluster
		}
		block, err := f.cluster.NextSimpleBlock()
		if err == io.EOF {
			f.cluster = nil
			continue
		}
		return block, err
	}
}
