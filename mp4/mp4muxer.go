package mp4

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/gomedia/remux/stream"
)

// seconds between 1904-01-01 and 1970-01-01
const mp4Epoch = 0x7C25B080

const movieTimescale = 1000

type muxTrack struct {
	reader *DashReader
	track  *Track
	stats  trackStats

	samplesPerChunkInit uint32
	samplesPerChunk     uint32
	chunks              uint32
	movieDuration       uint64

	chunk   *Chunk
	written uint32
	flushed uint32
	stts    runCounter
	ctts    runCounter

	sttsRef *tableRef
	stssRef *tableRef
	cttsRef *tableRef
	stszRef *tableRef
	stcoRef *tableRef
}

// Muxer joins DASH tracks, one per source, into a single non fragmented
// MP4. Sources must be rewindable: they are read once to size the sample
// tables and once more to copy the samples.
type Muxer struct {
	sources   []io.Reader
	readers   []*DashReader
	tracks    []*muxTrack
	opts      *options
	log       *log.Entry
	mainBrand uint32
	out       io.Writer
	parsed    bool
	built     bool
}

func NewMuxer(sources []io.Reader, opts ...Option) (*Muxer, error) {
	if len(sources) == 0 {
		return nil, errors.Wrap(stream.ErrState, "no sources")
	}
	for i, src := range sources {
		if err := stream.Require(src, "source", "read", "rewind"); err != nil {
			return nil, errors.WithMessagef(err, "source %d", i)
		}
	}
	o := newOptions(opts)
	return &Muxer{
		sources:   sources,
		opts:      o,
		log:       o.logger.WithField("component", "mp4-muxer"),
		mainBrand: mov_tag(mp41),
	}, nil
}

func (m *Muxer) ParseSources() error {
	if m.parsed {
		return errors.Wrap(stream.ErrState, "sources already parsed")
	}
	for i, src := range m.sources {
		reader, err := NewDashReader(src, WithLogger(m.opts.logger))
		if err != nil {
			return err
		}
		if err = reader.Parse(); err != nil {
			return errors.WithMessagef(err, "source %d", i)
		}
		m.readers = append(m.readers, reader)
	}
	m.parsed = true
	return nil
}

func (m *Muxer) TracksFromSource(index int) ([]*Track, error) {
	if !m.parsed {
		return nil, errors.Wrap(stream.ErrState, "sources not parsed")
	}
	if index < 0 || index >= len(m.readers) {
		return nil, errors.Wrapf(stream.ErrState, "source index %d out of %d", index, len(m.readers))
	}
	return m.readers[index].Tracks(), nil
}

// SelectTracks picks one track per source, in source order.
func (m *Muxer) SelectTracks(indexes ...int) error {
	if !m.parsed {
		return errors.Wrap(stream.ErrState, "sources not parsed")
	}
	if len(indexes) != len(m.readers) {
		return errors.Wrapf(stream.ErrState, "%d track indexes for %d sources", len(indexes), len(m.readers))
	}
	m.tracks = m.tracks[:0]
	for i, index := range indexes {
		track, err := m.readers[i].SelectTrack(index)
		if err != nil {
			return errors.WithMessagef(err, "source %d", i)
		}
		m.tracks = append(m.tracks, &muxTrack{reader: m.readers[i], track: track})
	}
	return nil
}

// SetMainBrand overrides the ftyp major brand.
func (m *Muxer) SetMainBrand(brand uint32) {
	m.mainBrand = brand
}

func (m *Muxer) Build(out io.Writer) error {
	if len(m.tracks) == 0 {
		return errors.Wrap(stream.ErrState, "no track selected")
	}
	if m.built {
		return errors.Wrap(stream.ErrState, "already built")
	}
	if err := stream.Require(out, "output", "write"); err != nil {
		return err
	}
	m.built = true
	m.out = out
	for _, mt := range m.tracks {
		if len(mt.track.Matrix) != matrixSize {
			return errors.Wrapf(stream.ErrInvariant, "track %d matrix is %d bytes", mt.track.TrackID, len(mt.track.Matrix))
		}
		if mt.track.Timescale == 0 {
			return errors.Wrapf(stream.ErrMalformed, "track %d has no timescale", mt.track.TrackID)
		}
	}

	if err := m.scan(); err != nil {
		return err
	}
	var total uint64
	for _, mt := range m.tracks {
		total += mt.stats.bytes
	}
	large := total >= m.opts.co64Threshold
	header := mdatHeader(total, large)
	m.layoutChunks()

	sim := newSimulation()
	if err := m.writeMoov(sim, large); err != nil {
		return err
	}
	moovSize := sim.pos
	inMemory := moovSize < m.opts.moovMemoryLimit

	cw := &countingWriter{w: out}
	if outputPatcher(out, 0, cw) == nil && !inMemory {
		return errors.Wrapf(stream.ErrCapability, "moov of %d bytes needs a seekable output", moovSize)
	}
	m.log.Infof("moov %d bytes, mdat %d bytes, co64 %v, in memory %v", moovSize, int64(len(header))+int64(total), large, inMemory)

	if _, err := cw.Write(makeFtyp(m.mainBrand)); err != nil {
		return errors.Wrap(err, "write ftyp")
	}
	moovAt := cw.n
	var tables patcher
	var moov *stream.Memory
	if inMemory {
		moov = stream.NewMemory(make([]byte, 0, moovSize))
		sim.replay(moov)
		if err := m.writeMoov(sim, large); err != nil {
			return err
		}
		tables = &memoryPatcher{buf: moov.Bytes()}
		if outputPatcher(out, 0, cw) != nil {
			if _, err := cw.Write(make([]byte, moovSize)); err != nil {
				return errors.Wrap(err, "reserve moov")
			}
		} else {
			moovAt = -1
		}
	} else {
		sim.replay(cw)
		if err := m.writeMoov(sim, large); err != nil {
			return err
		}
		tables = outputPatcher(out, moovAt, cw)
	}

	if _, err := cw.Write(header); err != nil {
		return errors.Wrap(err, "write mdat header")
	}
	if err := m.writeSamples(cw, tables, large); err != nil {
		return err
	}

	if inMemory {
		if moovAt < 0 {
			if _, err := cw.Write(moov.Bytes()); err != nil {
				return errors.Wrap(err, "write moov")
			}
		} else if err := outputPatcher(out, 0, cw).patch(moovAt, moov.Bytes()); err != nil {
			return err
		}
	}
	m.log.Infof("wrote %d bytes", cw.n)
	return nil
}

// mdatHeader uses the 64 bit size form whenever chunk offsets are 64 bit.
func mdatHeader(payload uint64, large bool) []byte {
	if !large {
		box := NewBasicBox(TypeMDAT)
		box.Size = 8 + payload
		return box.Encode()
	}
	buf := make([]byte, 16)
	binary.BigEndian.PutUint32(buf, 1)
	copy(buf[4:], TypeMDAT[:])
	binary.BigEndian.PutUint64(buf[8:], 16+payload)
	return buf
}

func (m *Muxer) Close() error {
	var first error
	for _, reader := range m.readers {
		if err := reader.Close(); err != nil && first == nil {
			first = err
		}
	}
	if m.readers == nil {
		for _, src := range m.sources {
			if err := stream.Close(src); err != nil && first == nil {
				first = err
			}
		}
	}
	if m.out != nil {
		if err := stream.Close(m.out); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// scan reads every track info only, then rewinds it.
func (m *Muxer) scan() error {
	for _, mt := range m.tracks {
		mt.stats = trackStats{}
		for {
			chunk, err := mt.reader.NextChunk(true)
			if err == io.EOF {
				break
			} else if err != nil {
				return err
			}
			for {
				entry, ok := chunk.NextSampleInfo()
				if !ok {
					break
				}
				mt.stats.add(entry, chunk.Fragment.CompositionOffsets)
			}
		}
		if err := mt.reader.Rewind(); err != nil {
			return err
		}
		mt.movieDuration = mt.stats.duration * movieTimescale / uint64(mt.track.Timescale)
		m.log.Infof("track %d: %d samples, %d keyframes, %d bytes, duration %d/%d",
			mt.track.TrackID, mt.stats.samples, mt.stats.keyframes, mt.stats.bytes, mt.stats.duration, mt.track.Timescale)
	}
	return nil
}

func (m *Muxer) layoutChunks() {
	singleAudio := len(m.tracks) == 1 && m.tracks[0].track.Kind == KindAudio
	for _, mt := range m.tracks {
		mt.samplesPerChunkInit = uint32(m.opts.samplesPerChunkInit)
		mt.samplesPerChunk = uint32(m.opts.samplesPerChunk)
		if singleAudio {
			per := mt.track.Timescale / 1000
			if per == 0 {
				per = 1
			}
			mt.samplesPerChunkInit, mt.samplesPerChunk = per, per
		}
		mt.chunks = chunkCount(mt.stats.samples, mt.samplesPerChunkInit, mt.samplesPerChunk)
	}
}

func (m *Muxer) writeMoov(bw *boxWriter, large bool) error {
	created := uint64(m.opts.creationTime.Unix() + mp4Epoch)
	if err := bw.begin(TypeMOOV); err != nil {
		return err
	}
	mvhd := NewMovieHeaderBox()
	mvhd.Creation_time = created
	mvhd.Modification_time = created
	mvhd.Timescale = movieTimescale
	for _, mt := range m.tracks {
		if mt.movieDuration > mvhd.Duration {
			mvhd.Duration = mt.movieDuration
		}
	}
	mvhd.Next_track_ID = uint32(len(m.tracks) + 1)
	_, boxdata := mvhd.Encode()
	if err := bw.write(boxdata); err != nil {
		return err
	}
	for i, mt := range m.tracks {
		if err := m.writeTrak(bw, mt, uint32(i+1), created, large); err != nil {
			return err
		}
	}
	return bw.end()
}

func (m *Muxer) writeTrak(bw *boxWriter, mt *muxTrack, trackID uint32, created uint64, large bool) (err error) {
	track := mt.track
	if err = bw.begin(TypeTRAK); err != nil {
		return
	}
	tkhd := NewTrackHeaderBox()
	tkhd.Creation_time = created
	tkhd.Modification_time = created
	tkhd.Track_ID = trackID
	tkhd.Duration = mt.movieDuration
	tkhd.Layer = track.Layer
	tkhd.Alternate_group = track.AlternateGroup
	tkhd.Volume = track.Volume
	tkhd.Matrix = track.Matrix
	tkhd.Width = track.Width
	tkhd.Height = track.Height
	_, boxdata := tkhd.Encode()
	if err = bw.write(boxdata); err != nil {
		return
	}

	if err = bw.begin(TypeEDTS); err != nil {
		return
	}
	elst := NewEditListBox()
	elst.SegmentDuration = mt.movieDuration
	elst.MediaTime = track.MediaTime
	elst.MediaRate = track.MediaRate
	_, boxdata = elst.Encode()
	if err = bw.write(boxdata); err != nil {
		return
	}
	if err = bw.end(); err != nil {
		return
	}

	if err = bw.begin(TypeMDIA); err != nil {
		return
	}
	mdhd := NewMediaHeaderBox()
	if _, err = mdhd.Decode(track.Mdhd[8:]); err != nil {
		return
	}
	mdhd.Duration = mt.stats.duration
	_, boxdata = mdhd.Encode()
	if err = bw.write(boxdata); err != nil {
		return
	}
	hdlr := NewHandlerBox(track.Handler, "")
	hdlr.Pre_defined = track.HandlerPreDefined
	_, boxdata = hdlr.Encode()
	if err = bw.write(boxdata); err != nil {
		return
	}

	if err = bw.begin(TypeMINF); err != nil {
		return
	}
	mediaHeader := track.MediaHeader
	if mediaHeader == nil {
		mediaHeader = makeMediaHeader(track.Kind)
	}
	if err = bw.write(mediaHeader); err != nil {
		return
	}
	dinf := track.Dinf
	if dinf == nil {
		dinf = makeDinf()
	}
	if err = bw.write(dinf); err != nil {
		return
	}
	if err = m.writeStbl(bw, mt, large); err != nil {
		return
	}
	for i := 0; i < 3; i++ {
		if err = bw.end(); err != nil {
			return
		}
	}
	return nil
}

func (m *Muxer) writeStbl(bw *boxWriter, mt *muxTrack, large bool) (err error) {
	stats := &mt.stats
	if err = bw.begin(TypeSTBL); err != nil {
		return
	}
	if err = bw.write(mt.track.Stsd); err != nil {
		return
	}
	if mt.sttsRef, err = reserveStts(bw, stats.stts.runs); err != nil {
		return
	}
	if mt.stssRef, err = reserveStss(bw, stats); err != nil {
		return
	}
	if mt.cttsRef, err = reserveCtts(bw, stats); err != nil {
		return
	}
	if err = bw.write(makeStsc(makeStscEntries(stats.samples, mt.samplesPerChunkInit, mt.samplesPerChunk))); err != nil {
		return
	}
	if mt.stszRef, err = reserveStsz(bw, stats); err != nil {
		return
	}
	if mt.stcoRef, err = reserveStco(bw, mt.chunks, large); err != nil {
		return
	}
	if mt.track.Kind == KindAudio {
		if err = bw.write(makeRollRecovery(stats.samples)); err != nil {
			return
		}
	}
	return bw.end()
}

// writeSamples copies the samples chunk by chunk, one chunk per track in
// turn, filling the reserved tables as it goes.
func (m *Muxer) writeSamples(cw *countingWriter, tables patcher, large bool) error {
	buf := make([]byte, 64*1024)
	for _, mt := range m.tracks {
		mt.written, mt.flushed = 0, 0
		mt.stts, mt.ctts = runCounter{}, runCounter{}
		mt.chunk = nil
	}
	for {
		active := false
		for _, mt := range m.tracks {
			if mt.written >= mt.stats.samples {
				continue
			}
			active = true
			n := mt.samplesPerChunk
			if mt.written == 0 {
				n = mt.samplesPerChunkInit
			}
			if left := mt.stats.samples - mt.written; left < n {
				n = left
			}
			if large {
				mt.stcoRef.add64(uint64(cw.n))
			} else {
				mt.stcoRef.add(uint32(cw.n))
			}
			for i := uint32(0); i < n; i++ {
				if err := m.writeSample(cw, mt, buf); err != nil {
					return err
				}
			}
			if mt.written == mt.stats.samples {
				mt.closeRuns()
			}
			if err := mt.flush(tables); err != nil {
				return err
			}
		}
		if !active {
			break
		}
	}
	for _, mt := range m.tracks {
		for _, ref := range []*tableRef{mt.sttsRef, mt.stssRef, mt.cttsRef, mt.stszRef, mt.stcoRef} {
			if !ref.complete() {
				return errors.Wrapf(stream.ErrInvariant, "track %d changed between passes", mt.track.TrackID)
			}
		}
	}
	return nil
}

func (m *Muxer) writeSample(cw *countingWriter, mt *muxTrack, buf []byte) error {
	for {
		if mt.chunk == nil {
			chunk, err := mt.reader.NextChunk(false)
			if err == io.EOF {
				return errors.Wrapf(stream.ErrInvariant, "track %d ended after %d of %d samples", mt.track.TrackID, mt.written, mt.stats.samples)
			} else if err != nil {
				return err
			}
			mt.chunk = chunk
		}
		entry, err := mt.chunk.CopySample(cw, buf)
		if err == io.EOF {
			mt.chunk = nil
			continue
		} else if err != nil {
			return err
		}
		mt.record(entry, mt.chunk.Fragment.CompositionOffsets)
		return nil
	}
}

func (mt *muxTrack) record(entry TrunEntry, composition bool) {
	mt.written++
	if mt.stszRef != nil {
		mt.stszRef.add(entry.SampleSize)
	}
	if closed, count, delta := mt.stts.add(int64(entry.SampleDuration)); closed {
		mt.sttsRef.add(count, uint32(delta))
	}
	if mt.cttsRef != nil {
		offset := int64(0)
		if composition {
			offset = int64(entry.SampleCompositionTimeOffset)
		}
		if closed, count, value := mt.ctts.add(offset); closed {
			mt.cttsRef.add(count, uint32(int32(value)))
		}
	}
	if mt.stssRef != nil && entry.IsKeyframe() {
		mt.stssRef.add(mt.written)
	}
}

func (mt *muxTrack) closeRuns() {
	if closed, count, delta := mt.stts.flush(); closed {
		mt.sttsRef.add(count, uint32(delta))
	}
	if mt.cttsRef != nil {
		if closed, count, value := mt.ctts.flush(); closed {
			mt.cttsRef.add(count, uint32(int32(value)))
		}
	}
}

func (mt *muxTrack) flush(tables patcher) error {
	for _, ref := range []*tableRef{mt.sttsRef, mt.stssRef, mt.cttsRef, mt.stszRef, mt.stcoRef} {
		if err := ref.flush(tables); err != nil {
			return err
		}
	}
	return nil
}
