package webm

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/gomedia/remux/stream"
)

// output buffers the muxed bytes and patches reserved fields in place.
type output struct {
	ws      io.WriteSeeker
	bw      *bufio.Writer
	written int64
}

func newOutput(ws io.WriteSeeker) *output {
	return &output{ws: ws, bw: bufio.NewWriterSize(ws, 64*1024)}
}

func (o *output) Write(p []byte) (int, error) {
	n, err := o.bw.Write(p)
	o.written += int64(n)
	if err != nil {
		return n, errors.Wrap(err, "write webm output")
	}
	return n, nil
}

func (o *output) write(chunks ...[]byte) error {
	for _, c := range chunks {
		if _, err := o.Write(c); err != nil {
			return err
		}
	}
	return nil
}

func (o *output) patch(offset int64, b []byte) error {
	if err := o.bw.Flush(); err != nil {
		return errors.Wrap(err, "flush webm output")
	}
	if _, err := o.ws.Seek(offset, io.SeekStart); err != nil {
		return errors.Wrap(err, "seek webm output")
	}
	if _, err := o.ws.Write(b); err != nil {
		return errors.Wrap(err, "patch webm output")
	}
	if _, err := o.ws.Seek(o.written, io.SeekStart); err != nil {
		return errors.Wrap(err, "seek webm output")
	}
	return nil
}

func (o *output) patchUint32(offset int64, v uint32) error {
	return o.patch(offset, binary.BigEndian.AppendUint32(nil, v))
}

// CuePoint is a seek entry of the cue track.
type CuePoint struct {
	Timecode         int64
	ClusterPosition  int64
	RelativePosition int64
}

type block struct {
	track      int
	timecode   int64
	flags      byte
	data       []byte
	clusterEnd bool
}

// source walks the selected track of one input.
type source struct {
	reader  *Reader
	segment *Segment
	cluster *Cluster
	done    bool
}

// next returns the next block of the source, a clusterEnd marker when a
// source cluster is exhausted, or nil once the source is drained.
func (src *source) next(index int) (*block, error) {
	for !src.done {
		if src.segment == nil {
			seg, err := src.reader.NextSegment()
			if err == io.EOF {
				src.done = true
				return nil, nil
			}
			if err != nil {
				return nil, err
			}
			src.segment = seg
		}
		if src.cluster == nil {
			cluster, err := src.segment.NextCluster()
			if err == io.EOF {
				src.segment = nil
				continue
			}
			if err != nil {
				return nil, err
			}
			src.cluster = cluster
		}
		sb, err := src.cluster.NextSimpleBlock()
		if err == io.EOF {
			src.cluster = nil
			return &block{track: index, clusterEnd: true}, nil
		}
		if err != nil {
			return nil, err
		}
		return &block{
			track:    index,
			timecode: sb.AbsoluteTimecodeNs / defaultTimecodeScale,
			flags:    sb.Flags,
			data:     sb.Data,
		}, nil
	}
	return nil, nil
}

// Writer muxes one track of each source into a new WebM file with a cue
// index.
type Writer struct {
	sources []io.Reader
	readers []*Reader
	tracks  []*Track
	opts    *options
	log     *log.Entry
	parsed  bool
	built   bool

	out       *output
	cues      []CuePoint
	durations []float64
}

func NewWriter(sources []io.Reader, opts ...Option) (*Writer, error) {
	if len(sources) == 0 {
		return nil, errors.Wrap(stream.ErrState, "no webm sources")
	}
	for i, src := range sources {
		if src == nil {
			return nil, errors.Wrapf(stream.ErrCapability, "nil webm source %d", i)
		}
	}
	o := newOptions(opts)
	return &Writer{
		sources: sources,
		opts:    o,
		log:     o.logger.WithField("component", "webm-muxer"),
	}, nil
}

func (w *Writer) ParseSources() error {
	if w.parsed {
		return errors.Wrap(stream.ErrState, "webm sources already parsed")
	}
	for i, src := range w.sources {
		reader, err := NewReader(src, WithLogger(w.opts.logger))
		if err != nil {
			return err
		}
		if err = reader.Parse(); err != nil {
			return errors.WithMessagef(err, "source %d", i)
		}
		w.readers = append(w.readers, reader)
	}
	w.parsed = true
	return nil
}

func (w *Writer) TracksFromSource(index int) ([]*Track, error) {
	if !w.parsed {
		return nil, errors.Wrap(stream.ErrState, "webm sources not parsed")
	}
	if index < 0 || index >= len(w.readers) {
		return nil, errors.Wrapf(stream.ErrState, "source %d of %d", index, len(w.readers))
	}
	return w.readers[index].Tracks(), nil
}

// SelectTracks picks one track index per source, in source order.
func (w *Writer) SelectTracks(indexes ...int) error {
	if !w.parsed {
		return errors.Wrap(stream.ErrState, "webm sources not parsed")
	}
	if len(indexes) != len(w.readers) {
		return errors.Wrapf(stream.ErrState, "%d track indexes for %d sources", len(indexes), len(w.readers))
	}
	if len(indexes) > 126 {
		return errors.Wrapf(stream.ErrCapacity, "%d tracks", len(indexes))
	}
	tracks := make([]*Track, 0, len(indexes))
	for i, index := range indexes {
		track, err := w.readers[i].SelectTrack(index)
		if err != nil {
			return errors.WithMessagef(err, "source %d", i)
		}
		tracks = append(tracks, track)
	}
	w.tracks = tracks
	return nil
}

// Close closes every source.
func (w *Writer) Close() error {
	var first error
	for _, src := range w.sources {
		if err := stream.Close(src); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Cues returns the cue points of the last build, including the ones that
// did not fit the reservation.
func (w *Writer) Cues() []CuePoint {
	return w.cues
}

// cueTrack prefers the first video track, then the first audio track.
func (w *Writer) cueTrack() int {
	for _, kind := range []TrackKind{KindVideo, KindAudio} {
		for i, track := range w.tracks {
			if track.Kind == kind {
				return i
			}
		}
	}
	return 0
}

func (w *Writer) Build(out io.Writer) error {
	if len(w.tracks) == 0 {
		return errors.Wrap(stream.ErrState, "no tracks selected")
	}
	if w.built {
		return errors.Wrap(stream.ErrState, "webm output already built")
	}
	if err := stream.Require(out, "webm output", "write", "seek"); err != nil {
		return err
	}
	w.built = true
	w.out = newOutput(out.(io.WriteSeeker))

	if err := w.out.write(ebmlHeader()); err != nil {
		return err
	}

	if err := w.out.write([]byte{
		0x18, 0x53, 0x80, 0x67, 0x01,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // segment size
	}); err != nil {
		return err
	}
	segmentSizeAt := w.out.written - 7
	segmentOffset := w.out.written

	seekHeadAt := w.out.written
	if err := w.out.write(seekHead()); err != nil {
		return err
	}
	clusterSeekAt := seekHeadAt + 46
	cuesSeekAt := seekHeadAt + 63

	durationAt := w.out.written + 15
	if err := w.out.write(info()); err != nil {
		return err
	}
	if err := w.out.write(w.makeTracks()); err != nil {
		return err
	}

	cueOffset := w.out.written
	if err := w.out.write(voidElement(w.opts.cueReserve, true)); err != nil {
		return err
	}

	firstCluster := w.out.written
	clusters, err := w.interleave(segmentOffset)
	if err != nil {
		return err
	}

	segmentSize := uint64(w.out.written - segmentOffset)
	if err = w.out.patch(segmentSizeAt, binary.BigEndian.AppendUint64(nil, segmentSize)[1:]); err != nil {
		return err
	}

	longest := 0.0
	for _, d := range w.durations {
		longest = math.Max(longest, d)
	}
	if err = w.out.patchUint32(durationAt, math.Float32bits(float32(longest))); err != nil {
		return err
	}
	if err = w.out.patchUint32(clusterSeekAt, uint32(firstCluster-segmentOffset)); err != nil {
		return err
	}
	written, err := w.writeCues(cueOffset)
	if err != nil {
		return err
	}
	if err = w.out.patchUint32(cuesSeekAt, uint32(cueOffset-segmentOffset)); err != nil {
		return err
	}
	if err = w.out.bw.Flush(); err != nil {
		return errors.Wrap(err, "flush webm output")
	}
	w.log.WithFields(log.Fields{
		"tracks":   len(w.tracks),
		"clusters": clusters,
		"cues":     written,
		"duration": longest,
		"bytes":    w.out.written,
	}).Info("webm muxed")
	return nil
}

// interleave copies the blocks of every track in windows of the
// interleave interval. A track whose source cluster ended starts a new
// output cluster with its next block and leads the window from then on.
func (w *Writer) interleave(segmentOffset int64) (int, error) {
	sources := make([]*source, len(w.tracks))
	lastTimecode := make([]int64, len(w.tracks))
	gap := make([]int64, len(w.tracks))
	defaultDuration := make([]int64, len(w.tracks))
	for i, track := range w.tracks {
		sources[i] = &source{reader: w.readers[i]}
		lastTimecode[i] = -1
		defaultDuration[i] = -1
		if track.DefaultDuration >= 0 {
			defaultDuration[i] = int64(math.Ceil(float64(track.DefaultDuration) / defaultTimecodeScale))
		}
	}

	cueTrack := w.cueTrack()
	nextCue := int64(0)
	if w.tracks[cueTrack].Kind == KindVideo {
		nextCue = -1
	}
	w.cues = w.cues[:0]

	interval := w.opts.interval
	baseTimecode, limitTimecode := int64(0), int64(-1)
	limitTrack, newClusterBy := cueTrack, -1

	clusterOffset, err := w.makeCluster(baseTimecode, 0, true)
	if err != nil {
		return 0, err
	}
	clusters := 1

	for written := 1; written > 0; {
		written = 0
		for i := 0; i < len(sources); {
			b, err := sources[i].next(i)
			if err != nil {
				return 0, errors.WithMessagef(err, "track %d", i)
			}
			if b == nil {
				i++
				continue
			}
			if b.clusterEnd {
				written = 1
				newClusterBy = i
				i++
				continue
			}

			if newClusterBy == i {
				limitTrack = i
				newClusterBy = -1
				baseTimecode = b.timecode
				limitTimecode = baseTimecode + interval
				if clusterOffset, err = w.makeCluster(baseTimecode, clusterOffset, true); err != nil {
					return 0, err
				}
				clusters++
			}

			if cueTrack == i {
				if nextCue > -1 && b.timecode >= nextCue || nextCue < 0 && b.flags&0x80 != 0 {
					if nextCue > -1 {
						nextCue += w.opts.cuesEachMs
					}
					w.cues = append(w.cues, CuePoint{
						Timecode:         b.timecode,
						ClusterPosition:  clusterOffset - segmentOffset,
						RelativePosition: w.out.written - clusterOffset - clusterHeaderSize,
					})
				}
			}

			if err = w.writeBlock(b, baseTimecode); err != nil {
				return 0, err
			}
			written++

			if defaultDuration[i] < 0 && lastTimecode[i] >= 0 {
				gap[i] = b.timecode - lastTimecode[i]
			}
			lastTimecode[i] = b.timecode

			if limitTimecode < 0 {
				limitTimecode = b.timecode + interval
				continue
			}
			if b.timecode >= limitTimecode {
				if limitTrack != i {
					limitTimecode += interval - (b.timecode - limitTimecode)
				}
				i++
			}
		}
	}

	if _, err = w.makeCluster(-1, clusterOffset, false); err != nil {
		return 0, err
	}

	w.durations = make([]float64, len(w.tracks))
	for i := range w.tracks {
		if lastTimecode[i] < 0 {
			continue
		}
		d := gap[i]
		if defaultDuration[i] > 0 {
			d = defaultDuration[i]
		}
		w.durations[i] = float64(lastTimecode[i] + d)
	}
	return clusters, nil
}

// makeCluster patches the size of the cluster at offset, if any, and
// opens a new one when create is set. It returns the new cluster offset.
func (w *Writer) makeCluster(timecode, offset int64, create bool) (int64, error) {
	if offset > 0 {
		size := w.out.written - offset - clusterHeaderSize
		if size > 0x0FFFFFFF {
			return 0, errors.Wrapf(stream.ErrCapacity, "cluster of %d bytes", size)
		}
		if err := w.out.patchUint32(offset+4, uint32(size)|0x10000000); err != nil {
			return 0, err
		}
	}
	offset = w.out.written
	if !create {
		return offset, nil
	}
	if timecode < 0 {
		return 0, errors.Wrapf(stream.ErrMalformed, "negative cluster timecode %d", timecode)
	}
	b := []byte{
		0x1F, 0x43, 0xB6, 0x75,
		0x10, 0x00, 0x00, 0x00, // size, patched when the cluster closes
		0xE7,
	}
	return offset, w.out.write(append(b, encode(uint64(timecode), true)...))
}

func (w *Writer) writeBlock(b *block, clusterTimecode int64) error {
	relative := b.timecode - clusterTimecode
	if relative < math.MinInt16 || relative > math.MaxInt16 {
		return errors.Wrapf(stream.ErrCapacity, "block timecode %d is %d away from its cluster", b.timecode, relative)
	}
	header := []byte{ID_SIMPLE_BLOCK}
	header = append(header, encode(uint64(len(b.data)+4), false)...)
	header = append(header, byte(0x80|(b.track+1)))
	header = binary.BigEndian.AppendUint16(header, uint16(int16(relative)))
	header = append(header, b.flags)
	return w.out.write(header, b.data)
}

// writeCues fills the reservation at offset with the Cues element and a
// Void for the rest. Cue points that do not fit are dropped.
func (w *Writer) writeCues(offset int64) (int, error) {
	reserve := w.opts.cueReserve
	body := make([]byte, 0, reserve)
	written := 0
	for _, cue := range w.cues {
		point := w.makeCuePoint(cue)
		if len(body)+len(point)+7+minimumVoidSize > reserve {
			break
		}
		body = append(body, point...)
		written++
	}
	if written < len(w.cues) {
		w.log.Warnf("cue reservation full, %d of %d cue points kept", written, len(w.cues))
	}
	cues := []byte{0x1C, 0x53, 0xBB, 0x6B, 0x20}
	cues = binary.BigEndian.AppendUint16(cues, uint16(len(body)))
	cues = append(cues, body...)
	cues = append(cues, voidElement(reserve-len(body)-7, false)...)
	return written, w.out.patch(offset, cues)
}

func (w *Writer) makeCuePoint(cue CuePoint) []byte {
	positions := [][]byte{
		uintElement(ID_CUE_TRACK, uint64(w.cueTrack()+1)),
		uintElement(ID_CUE_CLUSTER_POSITION, uint64(cue.ClusterPosition)),
	}
	if cue.RelativePosition > 0 {
		positions = append(positions, uintElement(ID_CUE_RELATIVE_POSITION, uint64(cue.RelativePosition)))
	}
	return masterElement(ID_CUE_POINT,
		uintElement(ID_CUE_TIME, uint64(cue.Timecode)),
		masterElement(ID_CUE_TRACK_POSITIONS, positions...),
	)
}

func (w *Writer) makeTracks() []byte {
	entries := make([][]byte, 0, len(w.tracks))
	for i, track := range w.tracks {
		entries = append(entries, makeTrackEntry(i, track))
	}
	return masterElement(ID_TRACKS, entries...)
}

func makeTrackEntry(index int, track *Track) []byte {
	id := encode(uint64(index+1), true)
	fields := [][]byte{
		append([]byte{0xD7}, id...),
		append([]byte{0x73, 0xC5}, id...),
		{0x9C, 0x81, 0x00},
		{0x22, 0xB5, 0x9C, 0x83, 'u', 'n', 'd'},
		append([]byte{0x86}, encodeString(track.CodecID)...),
	}
	if track.CodecDelay >= 0 {
		fields = append(fields, uintElement(ID_CODEC_DELAY, uint64(track.CodecDelay)))
	}
	if track.SeekPreRoll >= 0 {
		fields = append(fields, uintElement(ID_SEEK_PRE_ROLL, uint64(track.SeekPreRoll)))
	}
	fields = append(fields, uintElement(ID_TRACK_TYPE, track.Type))
	if track.DefaultDuration >= 0 {
		fields = append(fields, uintElement(ID_DEFAULT_DURATION, uint64(track.DefaultDuration)))
	}
	if (track.Type == 1 || track.Type == 2) && len(track.Metadata) > 0 {
		kind := uint32(ID_AUDIO)
		if track.Type == 1 {
			kind = ID_VIDEO
		}
		fields = append(fields, binaryElement(kind, track.Metadata))
	}
	if len(track.CodecPrivate) > 0 {
		fields = append(fields, binaryElement(ID_CODEC_PRIVATE, track.CodecPrivate))
	}
	return masterElement(ID_TRACK_ENTRY, fields...)
}

func ebmlHeader() []byte {
	return []byte{
		0x1A, 0x45, 0xDF, 0xA3, 0x9F,
		0x42, 0x86, 0x81, 0x01, // EBMLVersion
		0x42, 0xF7, 0x81, 0x01, // EBMLReadVersion
		0x42, 0xF2, 0x81, 0x04, // EBMLMaxIDLength
		0x42, 0xF3, 0x81, 0x08, // EBMLMaxSizeLength
		0x42, 0x82, 0x84, 'w', 'e', 'b', 'm',
		0x42, 0x87, 0x81, 0x02, // DocTypeVersion
		0x42, 0x85, 0x81, 0x02, // DocTypeReadVersion
	}
}

// seekHead points at Info and Tracks right behind it. The first Cluster
// and Cues positions are four bytes wide and patched at the end.
func seekHead() []byte {
	return []byte{
		0x11, 0x4D, 0x9B, 0x74, 0xBE,
		0x4D, 0xBB, 0x8B,
		0x53, 0xAB, 0x84, 0x15, 0x49, 0xA9, 0x66,
		0x53, 0xAC, 0x81, 0x43, // Info
		0x4D, 0xBB, 0x8B,
		0x53, 0xAB, 0x84, 0x16, 0x54, 0xAE, 0x6B,
		0x53, 0xAC, 0x81, 0x56, // Tracks
		0x4D, 0xBB, 0x8E,
		0x53, 0xAB, 0x84, 0x1F, 0x43, 0xB6, 0x75,
		0x53, 0xAC, 0x84, 0x00, 0x00, 0x00, 0x00, // first Cluster
		0x4D, 0xBB, 0x8E,
		0x53, 0xAB, 0x84, 0x1C, 0x53, 0xBB, 0x6B,
		0x53, 0xAC, 0x84, 0x00, 0x00, 0x00, 0x00, // Cues
	}
}

func info() []byte {
	b := []byte{0x15, 0x49, 0xA9, 0x66, 0x8E, 0x2A, 0xD7, 0xB1}
	b = append(b, encode(defaultTimecodeScale, true)...)
	// a four byte float keeps the patch in place
	return append(b, 0x44, 0x89, 0x84, 0x00, 0x00, 0x00, 0x00)
}

// voidElement is a Void of amount bytes with a three byte size field.
func voidElement(amount int, wipe bool) []byte {
	b := []byte{ID_VOID, 0x20}
	b = binary.BigEndian.AppendUint16(b, uint16(amount-minimumVoidSize))
	if wipe {
		b = append(b, make([]byte, amount-minimumVoidSize)...)
	}
	return b
}
