package webm

import (
	"bytes"
	"io"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/gomedia/remux/stream"
)

type TrackKind int

const (
	KindOther TrackKind = iota
	KindVideo
	KindAudio
)

func (k TrackKind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	}
	return "other"
}

// Track is one TrackEntry. Optional integers are -1 when absent.
type Track struct {
	Number          uint64
	UID             uint64
	Type            uint64
	Kind            TrackKind
	CodecID         string
	CodecPrivate    []byte
	Language        string
	DefaultDuration int64
	CodecDelay      int64
	SeekPreRoll     int64

	// Metadata is the body of the Video or Audio element.
	Metadata []byte

	SamplingFrequency float64
	Channels          uint64
	PixelWidth        uint64
	PixelHeight       uint64

	lacing int64
}

type Info struct {
	TimecodeScale uint64
	Duration      float64
}

// SimpleBlock is a frame of the selected track.
type SimpleBlock struct {
	Track              *Track
	RelativeTimecode   int16
	AbsoluteTimecodeNs int64
	Flags              byte
	Data               []byte
	CreatedFromBlock   bool
}

func (b *SimpleBlock) IsKeyframe() bool {
	return b.Flags&0x80 != 0
}

// Reader pulls the frames of one track out of a WebM stream.
type Reader struct {
	src      io.Reader
	r        *stream.Reader
	log      *log.Entry
	segment  *Segment
	pending  *element
	returned bool
	selected *Track
	parsed   bool
	done     bool
}

func NewReader(src io.Reader, opts ...Option) (*Reader, error) {
	if src == nil {
		return nil, errors.Wrap(stream.ErrCapability, "nil webm source")
	}
	o := newOptions(opts)
	return &Reader{
		src: src,
		r:   stream.NewReader(src),
		log: o.logger.WithField("component", "webm-reader"),
	}, nil
}

// Parse checks the EBML header and reads Info and Tracks of the first
// Segment.
func (reader *Reader) Parse() error {
	if reader.parsed {
		return errors.Wrap(stream.ErrState, "webm source already parsed")
	}
	el, err := readElement(reader.r)
	if err != nil {
		return reader.eof(err)
	}
	if el.id != ID_EBML {
		return errors.Wrapf(stream.ErrMalformed, "expected EBML header found %x", el.id)
	}
	if err = reader.readHeader(el); err != nil {
		return err
	}
	seg, err := reader.nextSegment()
	if err != nil {
		return reader.eof(err)
	}
	reader.segment = seg
	reader.parsed = true
	reader.log.WithFields(log.Fields{
		"tracks":        len(seg.Tracks),
		"timecodeScale": seg.Info.TimecodeScale,
	}).Debug("webm segment parsed")
	return nil
}

func (reader *Reader) eof(err error) error {
	if err == io.EOF {
		return stream.Truncated(1)
	}
	return err
}

func (reader *Reader) readHeader(header *element) error {
	readVersion, docReadVersion := uint64(1), uint64(1)
	docType := ""
	for {
		el, err := readChild(reader.r, header)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		switch el.id {
		case ID_EBML_READ_VERSION:
			readVersion, err = readUint(reader.r, el)
		case ID_DOC_TYPE:
			docType, err = readString(reader.r, el)
		case ID_DOC_TYPE_READ_VERSION:
			docReadVersion, err = readUint(reader.r, el)
		default:
			err = skipElement(reader.r, el)
		}
		if err != nil {
			return err
		}
	}
	if readVersion > 1 {
		return errors.Wrapf(stream.ErrMalformed, "unsupported EBML read version %d", readVersion)
	}
	if docType != "webm" {
		return errors.Wrapf(stream.ErrMalformed, "expected doctype webm found %q", docType)
	}
	if docReadVersion > 2 {
		return errors.Wrapf(stream.ErrMalformed, "unsupported doctype read version %d", docReadVersion)
	}
	return nil
}

// nextSegment skips top level elements up to the next Segment and reads
// its header elements.
func (reader *Reader) nextSegment() (*Segment, error) {
	for {
		el := reader.pending
		reader.pending = nil
		if el == nil {
			var err error
			if el, err = readElement(reader.r); err != nil {
				return nil, err
			}
		}
		if el.id != ID_SEGMENT {
			reader.log.Debugf("skip top level element %x", el.id)
			if err := skipElement(reader.r, el); err != nil {
				return nil, err
			}
			continue
		}
		seg := &Segment{reader: reader, el: el}
		if err := seg.readHeaders(); err != nil {
			return nil, err
		}
		return seg, nil
	}
}

func (reader *Reader) Tracks() []*Track {
	if reader.segment == nil {
		return nil
	}
	return reader.segment.Tracks
}

func (reader *Reader) Info() Info {
	if reader.segment == nil {
		return Info{}
	}
	return reader.segment.Info
}

// SelectTrack picks the track whose blocks the iterators return.
func (reader *Reader) SelectTrack(index int) (*Track, error) {
	if !reader.parsed {
		return nil, errors.Wrap(stream.ErrState, "webm source not parsed")
	}
	tracks := reader.segment.Tracks
	if index < 0 || index >= len(tracks) {
		return nil, errors.Wrapf(stream.ErrState, "track %d of %d", index, len(tracks))
	}
	reader.selected = tracks[index]
	return reader.selected, nil
}

func (reader *Reader) Selected() *Track {
	return reader.selected
}

// NextSegment returns the parsed Segment first, then the following ones.
// io.EOF ends the stream.
func (reader *Reader) NextSegment() (*Segment, error) {
	if !reader.parsed {
		return nil, errors.Wrap(stream.ErrState, "webm source not parsed")
	}
	if reader.done {
		return nil, io.EOF
	}
	if !reader.returned {
		reader.returned = true
		return reader.segment, nil
	}
	if err := reader.segment.finish(); err != nil {
		return nil, err
	}
	seg, err := reader.nextSegment()
	if err == io.EOF {
		reader.done = true
		return nil, io.EOF
	}
	if err != nil {
		return nil, err
	}
	reader.segment = seg
	return seg, nil
}

func (reader *Reader) Close() error {
	return stream.Close(reader.src)
}

type Segment struct {
	Info   Info
	Tracks []*Track

	reader  *Reader
	el      *element
	pending *element
	cluster *Cluster
	done    bool
}

func (seg *Segment) readHeaders() error {
	r := seg.reader.r
	hasInfo, hasTracks := false, false
	for {
		el, err := readChild(r, seg.el)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if el.id == ID_CLUSTER {
			seg.pending = el
			break
		}
		switch el.id {
		case ID_INFO:
			hasInfo = true
			err = seg.readInfo(el)
		case ID_TRACKS:
			hasTracks = true
			err = seg.readTracks(el)
		default:
			err = skipElement(r, el)
		}
		if err != nil {
			return err
		}
	}
	if !hasInfo || !hasTracks {
		return errors.Wrapf(stream.ErrMalformed, "segment at %d without Info or Tracks", seg.el.offset)
	}
	if seg.Info.TimecodeScale == 0 {
		return errors.Wrap(stream.ErrMalformed, "segment Info without TimecodeScale")
	}
	return nil
}

func (seg *Segment) readInfo(info *element) error {
	r := seg.reader.r
	for {
		el, err := readChild(r, info)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		switch el.id {
		case ID_TIMECODE_SCALE:
			seg.Info.TimecodeScale, err = readUint(r, el)
		case ID_DURATION:
			seg.Info.Duration, err = readFloat(r, el)
		default:
			err = skipElement(r, el)
		}
		if err != nil {
			return err
		}
	}
}

func (seg *Segment) readTracks(tracks *element) error {
	r := seg.reader.r
	for {
		el, err := readChild(r, tracks)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if el.id != ID_TRACK_ENTRY {
			if err = skipElement(r, el); err != nil {
				return err
			}
			continue
		}
		track, err := seg.readTrackEntry(el)
		if err != nil {
			return err
		}
		if track.lacing > 0 {
			seg.reader.log.Warnf("drop laced track %d (%s)", track.Number, track.CodecID)
			continue
		}
		seg.Tracks = append(seg.Tracks, track)
	}
}

func (seg *Segment) readTrackEntry(entry *element) (*Track, error) {
	r := seg.reader.r
	track := &Track{
		DefaultDuration: -1,
		CodecDelay:      -1,
		SeekPreRoll:     -1,
		Language:        "eng",
		lacing:          -1,
	}
	for {
		el, err := readChild(r, entry)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		var v uint64
		switch el.id {
		case ID_TRACK_NUMBER:
			track.Number, err = readUint(r, el)
		case ID_TRACK_UID:
			track.UID, err = readUint(r, el)
		case ID_TRACK_TYPE:
			track.Type, err = readUint(r, el)
		case ID_CODEC_ID:
			track.CodecID, err = readString(r, el)
		case ID_CODEC_PRIVATE:
			track.CodecPrivate, err = readBinary(r, el)
		case ID_LANGUAGE:
			track.Language, err = readString(r, el)
		case ID_FLAG_LACING:
			v, err = readUint(r, el)
			track.lacing = int64(v)
		case ID_DEFAULT_DURATION:
			v, err = readUint(r, el)
			track.DefaultDuration = int64(v)
		case ID_CODEC_DELAY:
			v, err = readUint(r, el)
			track.CodecDelay = int64(v)
		case ID_SEEK_PRE_ROLL:
			v, err = readUint(r, el)
			track.SeekPreRoll = int64(v)
		case ID_VIDEO, ID_AUDIO:
			track.Metadata, err = readBinary(r, el)
		default:
			err = skipElement(r, el)
		}
		if err != nil {
			return nil, err
		}
	}
	switch track.Type {
	case 1:
		track.Kind = KindVideo
	case 2:
		track.Kind = KindAudio
	}
	if err := track.parseMetadata(); err != nil {
		return nil, err
	}
	seg.reader.log.Debugf("track %d %s %s", track.Number, track.Kind, track.CodecID)
	return track, nil
}

// parseMetadata decodes the fields of the Video or Audio body the muxers
// need.
func (track *Track) parseMetadata() error {
	if len(track.Metadata) == 0 {
		return nil
	}
	r := stream.NewReader(bytes.NewReader(track.Metadata))
	parent := &element{size: int64(len(track.Metadata))}
	for {
		el, err := readChild(r, parent)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "track %d metadata", track.Number)
		}
		switch el.id {
		case ID_SAMPLING_FREQUENCY:
			track.SamplingFrequency, err = readFloat(r, el)
		case ID_CHANNELS:
			track.Channels, err = readUint(r, el)
		case ID_PIXEL_WIDTH:
			track.PixelWidth, err = readUint(r, el)
		case ID_PIXEL_HEIGHT:
			track.PixelHeight, err = readUint(r, el)
		default:
			err = skipElement(r, el)
		}
		if err != nil {
			return errors.Wrapf(err, "track %d metadata", track.Number)
		}
	}
}

// end is the end offset of the segment, -1 while unknown.
func (seg *Segment) end() int64 {
	return seg.el.end()
}

func (seg *Segment) next() (*element, error) {
	if seg.pending != nil {
		el := seg.pending
		seg.pending = nil
		return el, nil
	}
	el, err := readChild(seg.reader.r, seg.el)
	if err != nil {
		return nil, err
	}
	if seg.end() < 0 && (el.id == ID_SEGMENT || el.id == ID_EBML) {
		seg.reader.pending = el
		return nil, io.EOF
	}
	return el, nil
}

// NextCluster skips what is left of the current cluster and returns the
// next one, io.EOF at the end of the segment.
func (seg *Segment) NextCluster() (*Cluster, error) {
	if seg.done {
		return nil, io.EOF
	}
	r := seg.reader.r
	if seg.cluster != nil {
		if err := seg.cluster.finish(); err != nil {
			return nil, err
		}
		seg.cluster = nil
	}
	for {
		el, err := seg.next()
		if err == io.EOF {
			seg.done = true
			return nil, io.EOF
		}
		if err != nil {
			return nil, err
		}
		if el.id != ID_CLUSTER {
			if err = skipElement(r, el); err != nil {
				return nil, err
			}
			continue
		}
		cluster := &Cluster{segment: seg, el: el}
		if err = cluster.readTimecode(); err != nil {
			return nil, err
		}
		seg.cluster = cluster
		return cluster, nil
	}
}

// finish moves to the end of the segment.
func (seg *Segment) finish() error {
	for !seg.done {
		if _, err := seg.NextCluster(); err != nil && err != io.EOF {
			return err
		}
	}
	return nil
}

type Cluster struct {
	Timecode uint64
	Offset   int64

	segment *Segment
	el      *element
	pending *element
	done    bool
}

func (cluster *Cluster) readTimecode() error {
	r := cluster.segment.reader.r
	cluster.Offset = cluster.el.offset
	for {
		el, err := cluster.next()
		if err == io.EOF {
			return errors.Wrapf(stream.ErrMalformed, "cluster at %d without Timecode", cluster.Offset)
		}
		if err != nil {
			return err
		}
		switch el.id {
		case ID_TIMECODE:
			cluster.Timecode, err = readUint(r, el)
			return err
		case ID_SIMPLE_BLOCK, ID_BLOCK_GROUP:
			return errors.Wrapf(stream.ErrMalformed, "cluster at %d has blocks before its Timecode", cluster.Offset)
		}
		if err = skipElement(r, el); err != nil {
			return err
		}
	}
}

// next returns the next child. An unknown sized cluster ends at the next
// top level element, which is handed back to the segment.
func (cluster *Cluster) next() (*element, error) {
	if cluster.done {
		return nil, io.EOF
	}
	if cluster.pending != nil {
		el := cluster.pending
		cluster.pending = nil
		return el, nil
	}
	r := cluster.segment.reader.r
	if cluster.el.size != unknownSize {
		el, err := readChild(r, cluster.el)
		if err == io.EOF {
			cluster.done = true
		}
		return el, err
	}
	segEnd := cluster.segment.end()
	if segEnd >= 0 && r.Position() >= segEnd || segEnd < 0 && !r.Available() {
		cluster.done = true
		return nil, io.EOF
	}
	el, err := readElement(r)
	if err != nil {
		return nil, err
	}
	if isTopLevel(el.id) {
		cluster.segment.pending = el
		cluster.done = true
		return nil, io.EOF
	}
	if segEnd >= 0 && el.end() > segEnd {
		return nil, errors.Wrapf(stream.ErrMalformed, "element %x at %d overruns its segment", el.id, el.offset)
	}
	return el, nil
}

// NextSimpleBlock returns the next block of the selected track, io.EOF at
// the end of the cluster.
func (cluster *Cluster) NextSimpleBlock() (*SimpleBlock, error) {
	reader := cluster.segment.reader
	if reader.selected == nil {
		return nil, errors.Wrap(stream.ErrState, "no track selected")
	}
	r := reader.r
	for {
		el, err := cluster.next()
		if err != nil {
			return nil, err
		}
		var block *SimpleBlock
		switch el.id {
		case ID_SIMPLE_BLOCK:
			block, err = cluster.readBlock(el)
		case ID_BLOCK_GROUP:
			block, err = cluster.readBlockGroup(el)
		default:
			err = skipElement(r, el)
		}
		if err != nil {
			return nil, err
		}
		if block != nil {
			return block, nil
		}
	}
}

// readBlock parses a SimpleBlock or a Block body. Blocks of other tracks
// are skipped and yield nil.
func (cluster *Cluster) readBlock(el *element) (*SimpleBlock, error) {
	reader := cluster.segment.reader
	r := reader.r
	number, _, _, err := readVint(r, 8, false)
	if err != nil {
		return nil, reader.eof(err)
	}
	if number != reader.selected.Number {
		return nil, skipElement(r, el)
	}
	timecode, err := r.ReadInt16()
	if err != nil {
		return nil, err
	}
	flags, err := r.ReadByte()
	if err != nil {
		return nil, reader.eof(err)
	}
	left := el.end() - r.Position()
	if left < 0 {
		return nil, errors.Wrapf(stream.ErrMalformed, "block at %d shorter than its header", el.offset)
	}
	if left > maxElementSize {
		return nil, errors.Wrapf(stream.ErrMalformed, "block at %d of %d bytes", el.offset, left)
	}
	data, err := r.ReadBytes(left)
	if err != nil {
		return nil, err
	}
	scale := int64(cluster.segment.Info.TimecodeScale)
	return &SimpleBlock{
		Track:              reader.selected,
		RelativeTimecode:   timecode,
		AbsoluteTimecodeNs: (int64(timecode) + int64(cluster.Timecode)) * scale,
		Flags:              flags,
		Data:               data,
	}, nil
}

// readBlockGroup returns the Block of a BlockGroup. Groups without a
// ReferenceBlock hold keyframes.
func (cluster *Cluster) readBlockGroup(group *element) (*SimpleBlock, error) {
	r := cluster.segment.reader.r
	var block *SimpleBlock
	found, referenced := false, false
	for {
		el, err := readChild(r, group)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch el.id {
		case ID_BLOCK:
			found = true
			block, err = cluster.readBlock(el)
		case ID_REFERENCE_BLOCK:
			referenced = true
			err = skipElement(r, el)
		default:
			err = skipElement(r, el)
		}
		if err != nil {
			return nil, err
		}
	}
	if !found {
		cluster.segment.reader.log.Debugf("skip BlockGroup without Block at %d", group.offset)
		return nil, nil
	}
	if block == nil {
		return nil, nil
	}
	block.CreatedFromBlock = true
	block.Flags &^= 0x80
	if !referenced {
		block.Flags |= 0x80
	}
	return block, nil
}

// finish skips the rest of the cluster.
func (cluster *Cluster) finish() error {
	r := cluster.segment.reader.r
	for {
		el, err := cluster.next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err = skipElement(r, el); err != nil {
			return err
		}
	}
}
