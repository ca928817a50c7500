package mp4

import (
	"io"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/gomedia/remux/stream"
)

// leaf boxes larger than this are refused instead of being loaded
const maxLeafBoxSize = 64 << 20

type TrackKind int

const (
	KindOther TrackKind = iota
	KindVideo
	KindAudio
	KindSubtitles
)

func (k TrackKind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	case KindSubtitles:
		return "subtitles"
	}
	return "other"
}

// Track is one trak of the init segment. Raw boxes are kept verbatim so
// they can be copied into the remuxed file.
type Track struct {
	TrackID           uint32
	Kind              TrackKind
	Codec             MP4_CODEC_TYPE
	CreationTime      uint64
	ModificationTime  uint64
	Duration          uint64
	Layer             uint16
	AlternateGroup    uint16
	Volume            uint16
	Matrix            []byte
	Width             uint32
	Height            uint32
	MediaTime         int64
	MediaRate         uint32
	Timescale         uint32
	Handler           HandlerType
	HandlerPreDefined HandlerType
	Mdhd              []byte
	MediaHeader       []byte
	Dinf              []byte
	Stsd              []byte
	Trex              *TrackExtendsBox
}

// Chunk is the part of one moof/mdat pair that belongs to the selected
// track.
type Chunk struct {
	Sequence   uint32
	MoofOffset int64
	Fragment   *TrackFragment
	data       *stream.View
	next       int
}

func (c *Chunk) SampleCount() int {
	return len(c.Fragment.Entrys)
}

// Data is nil for info only chunks.
func (c *Chunk) Data() *stream.View {
	return c.data
}

func (c *Chunk) NextSampleInfo() (TrunEntry, bool) {
	if c.next >= len(c.Fragment.Entrys) {
		return TrunEntry{}, false
	}
	c.next++
	return c.Fragment.Entrys[c.next-1], true
}

type Sample struct {
	Info TrunEntry
	Data []byte
}

// NextSample reads the next sample of the chunk; io.EOF when done.
func (c *Chunk) NextSample() (*Sample, error) {
	if c.data == nil {
		return nil, errors.Wrap(stream.ErrState, "chunk was read info only")
	}
	info, ok := c.NextSampleInfo()
	if !ok {
		return nil, io.EOF
	}
	sample := &Sample{Info: info, Data: make([]byte, info.SampleSize)}
	if err := c.data.ReadFull(sample.Data); err != nil {
		return nil, err
	}
	return sample, nil
}

// CopySample streams the next sample into w through buf.
func (c *Chunk) CopySample(w io.Writer, buf []byte) (TrunEntry, error) {
	if c.data == nil {
		return TrunEntry{}, errors.Wrap(stream.ErrState, "chunk was read info only")
	}
	info, ok := c.NextSampleInfo()
	if !ok {
		return info, io.EOF
	}
	n, err := io.CopyBuffer(w, io.LimitReader(c.data, int64(info.SampleSize)), buf)
	if err != nil {
		return info, errors.Wrap(err, "copy sample")
	}
	if n < int64(info.SampleSize) {
		return info, stream.Truncated(int(int64(info.SampleSize) - n))
	}
	return info, nil
}

type fragment struct {
	box      *BasicBox
	sequence uint32
	traf     *TrackFragment
}

// DashReader walks a fragmented MP4 as delivered by DASH: an ftyp, a moov
// and a sequence of moof/mdat pairs.
type DashReader struct {
	src        io.Reader
	r          *stream.Reader
	log        *log.Entry
	parsed     bool
	ftyp       *FileTypeBox
	mvhd       *MovieHeaderBox
	tracks     []*Track
	selected   *Track
	replayFrom int64
	pending    *BasicBox
	moof       *fragment
	data       *stream.View
	tail       int64
	toEnd      bool
}

func NewDashReader(src io.Reader, opts ...Option) (*DashReader, error) {
	if err := stream.Require(src, "dash source", "read"); err != nil {
		return nil, err
	}
	o := newOptions(opts)
	return &DashReader{
		src: src,
		r:   stream.NewReader(src),
		log: o.logger.WithField("component", "mp4-reader"),
	}, nil
}

func (d *DashReader) Parse() error {
	if d.parsed {
		return errors.Wrap(stream.ErrState, "already parsed")
	}
	box, err := readBox(d.r)
	if err == io.EOF {
		return errors.Wrap(stream.ErrMalformed, "empty stream")
	} else if err != nil {
		return err
	}
	if box.Type != TypeFTYP {
		return errors.Wrapf(stream.ErrMalformed, "expected ftyp found %s", box.Type[:])
	}
	payload, err := d.payload(box)
	if err != nil {
		return err
	}
	d.ftyp = NewFileTypeBox()
	if _, err = d.ftyp.Decode(payload); err != nil {
		return err
	}
	if !d.ftyp.isDash() {
		return errors.Wrap(stream.ErrMalformed, "not a DASH container")
	}
	d.replayFrom = d.r.Position()

	for {
		box, err = readBox(d.r)
		if err == io.EOF {
			break
		} else if err != nil {
			return err
		}
		d.log.Debugf("box %s size %d at %d", box.Type[:], box.Size, box.Offset)
		switch box.Type {
		case TypeMOOV:
			if d.mvhd != nil {
				return errors.Wrap(stream.ErrMalformed, "second moov")
			}
			if err = d.parseMoov(box); err != nil {
				return err
			}
			continue
		case TypeMOOF:
			d.pending = box
		case TypeMDAT:
			return errors.Wrap(stream.ErrInvariant, "mdat without preceding moof")
		default:
			if !skippable(box) {
				d.log.Warnf("unexpected %s box at %d skipped", box.Type[:], box.Offset)
			}
			if err = d.skip(box); err != nil {
				return err
			}
			continue
		}
		break
	}
	if d.mvhd == nil {
		return errors.Wrap(stream.ErrMalformed, "moov not found")
	}
	d.parsed = true
	for _, track := range d.tracks {
		d.log.Infof("track %d %s codec %s timescale %d", track.TrackID, track.Kind, track.Codec, track.Timescale)
	}
	return nil
}

func (d *DashReader) Tracks() []*Track {
	return d.tracks
}

// Brands returns the major brand then the compatible brands.
func (d *DashReader) Brands() []uint32 {
	if d.ftyp == nil {
		return nil
	}
	return d.ftyp.Brands()
}

func (d *DashReader) SelectTrack(index int) (*Track, error) {
	if !d.parsed {
		return nil, errors.Wrap(stream.ErrState, "select track before parse")
	}
	if index < 0 || index >= len(d.tracks) {
		return nil, errors.Wrapf(stream.ErrState, "track index %d out of %d tracks", index, len(d.tracks))
	}
	d.selected = d.tracks[index]
	return d.selected, nil
}

func (d *DashReader) Selected() *Track {
	return d.selected
}

// Rewind restarts chunk iteration from the box that follows ftyp.
func (d *DashReader) Rewind() error {
	if !d.parsed {
		return errors.Wrap(stream.ErrState, "rewind before parse")
	}
	if err := d.r.Rewind(); err != nil {
		return err
	}
	d.pending, d.moof, d.data = nil, nil, nil
	d.tail, d.toEnd = 0, false
	return d.r.Skip(d.replayFrom)
}

// NextChunk returns the next fragment of the selected track, io.EOF at the
// end of the stream. With infoOnly the sample data is skipped.
func (d *DashReader) NextChunk(infoOnly bool) (*Chunk, error) {
	if !d.parsed {
		return nil, errors.Wrap(stream.ErrState, "next chunk before parse")
	}
	if d.selected == nil {
		return nil, errors.Wrap(stream.ErrState, "no track selected")
	}
	if err := d.finishChunk(); err != nil {
		return nil, err
	}
	for {
		box, err := d.nextBox()
		if err == io.EOF {
			if d.moof != nil {
				d.log.Warnf("moof at %d has no mdat", d.moof.box.Offset)
				d.moof = nil
			}
			return nil, io.EOF
		} else if err != nil {
			return nil, err
		}
		switch box.Type {
		case TypeMOOF:
			if d.moof != nil {
				return nil, errors.Wrapf(stream.ErrInvariant, "moof at %d while moof at %d is unresolved", box.Offset, d.moof.box.Offset)
			}
			if d.moof, err = d.parseMoof(box); err != nil {
				return nil, err
			}
		case TypeMDAT:
			if d.moof == nil {
				return nil, errors.Wrapf(stream.ErrInvariant, "mdat at %d without preceding moof", box.Offset)
			}
			frag := d.moof
			d.moof = nil
			if frag.traf == nil {
				d.log.Debugf("moof %d has no traf for track %d", frag.sequence, d.selected.TrackID)
				if err = d.skip(box); err != nil {
					return nil, err
				}
				continue
			}
			return d.bindChunk(frag, box, infoOnly)
		default:
			if err = d.skip(box); err != nil {
				return nil, err
			}
		}
	}
}

func (d *DashReader) Close() error {
	d.data = nil
	return stream.Close(d.src)
}

func (d *DashReader) nextBox() (*BasicBox, error) {
	if d.pending != nil {
		box := d.pending
		d.pending = nil
		return box, nil
	}
	return readBox(d.r)
}

func (d *DashReader) finishChunk() error {
	if d.data == nil {
		return nil
	}
	if err := d.data.Close(); err != nil {
		return err
	}
	d.data = nil
	if d.toEnd {
		return d.drain()
	}
	return d.r.Skip(d.tail)
}

func (d *DashReader) bindChunk(frag *fragment, mdat *BasicBox, infoOnly bool) (*Chunk, error) {
	traf := frag.traf
	payloadStart := mdat.Offset + int64(mdat.HeaderSize)
	dataStart := payloadStart
	if traf.HasDataOffset {
		base := frag.box.Offset
		if traf.Tfhd.has(TF_FLAG_BASE_DATA_OFFSET) {
			base = int64(traf.Tfhd.BaseDataOffset)
		}
		dataStart = base + int64(traf.DataOffset)
	} else if traf.Tfhd.has(TF_FLAG_BASE_DATA_OFFSET) {
		dataStart = int64(traf.Tfhd.BaseDataOffset)
	}
	skip := dataStart - payloadStart
	payload := mdat.PayloadSize()
	if skip < 0 || (payload >= 0 && skip+int64(traf.ChunkSize) > payload) {
		return nil, errors.Wrapf(stream.ErrMalformed, "samples [%d,%d) outside mdat at %d", dataStart, dataStart+int64(traf.ChunkSize), mdat.Offset)
	}
	chunk := &Chunk{
		Sequence:   frag.sequence,
		MoofOffset: frag.box.Offset,
		Fragment:   traf,
	}
	if infoOnly {
		return chunk, d.skip(mdat)
	}
	if err := d.r.Skip(skip); err != nil {
		return nil, err
	}
	chunk.data = d.r.View(int64(traf.ChunkSize))
	d.data = chunk.data
	d.toEnd = mdat.ToEnd
	d.tail = payload - skip - int64(traf.ChunkSize)
	return chunk, nil
}

func (d *DashReader) parseMoof(box *BasicBox) (*fragment, error) {
	frag := &fragment{box: box}
	err := d.walk(box, func(child *BasicBox) error {
		switch child.Type {
		case TypeMFHD:
			payload, err := d.payload(child)
			if err != nil {
				return err
			}
			mfhd := &MovieFragmentHeaderBox{Box: NewFullBox(TypeMFHD, 0)}
			if _, err = mfhd.Decode(payload); err != nil {
				return err
			}
			frag.sequence = mfhd.SequenceNumber
		case TypeTRAF:
			if frag.traf != nil {
				return nil
			}
			traf, err := d.parseTraf(child)
			if err != nil {
				return err
			}
			frag.traf = traf
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return frag, nil
}

// parseTraf returns nil when the traf belongs to another track.
func (d *DashReader) parseTraf(box *BasicBox) (*TrackFragment, error) {
	var traf *TrackFragment
	var runs []*TrackRunBox
	err := d.walk(box, func(child *BasicBox) error {
		if child.Type != TypeTFHD && traf == nil {
			return nil
		}
		payload, err := d.payload(child)
		if err != nil {
			return err
		}
		switch child.Type {
		case TypeTFHD:
			tfhd := NewTrackFragmentHeaderBox()
			if _, err = tfhd.Decode(payload); err != nil {
				return err
			}
			if tfhd.Track_ID == d.selected.TrackID {
				traf = &TrackFragment{Tfhd: tfhd}
			}
		case TypeTFDT:
			tfdt := &TrackFragmentBaseMediaDecodeTimeBox{Box: NewFullBox(TypeTFDT, 0)}
			if _, err = tfdt.Decode(payload); err != nil {
				return err
			}
			traf.BaseMediaDecodeTime = tfdt.BaseMediaDecodeTime
			traf.HasDecodeTime = true
		case TypeTRUN:
			trun := NewTrackRunBox()
			if _, err = trun.Decode(payload); err != nil {
				return err
			}
			runs = append(runs, trun)
		}
		return nil
	})
	if err != nil || traf == nil {
		return nil, err
	}
	for _, trun := range runs {
		trun.resolve(traf.Tfhd, d.selected.Trex)
		if err = traf.addRun(trun); err != nil {
			return nil, err
		}
	}
	return traf, nil
}

func (d *DashReader) parseMoov(box *BasicBox) error {
	trexs := make(map[uint32]*TrackExtendsBox)
	err := d.walk(box, func(child *BasicBox) error {
		switch child.Type {
		case TypeMVHD:
			payload, err := d.payload(child)
			if err != nil {
				return err
			}
			d.mvhd = NewMovieHeaderBox()
			_, err = d.mvhd.Decode(payload)
			return err
		case TypeTRAK:
			track, err := d.parseTrak(child)
			if err != nil {
				return err
			}
			d.tracks = append(d.tracks, track)
		case TypeMVEX:
			return d.walk(child, func(box *BasicBox) error {
				if box.Type != TypeTREX {
					return nil
				}
				payload, err := d.payload(box)
				if err != nil {
					return err
				}
				trex := NewTrackExtendsBox(0)
				if _, err = trex.Decode(payload); err != nil {
					return err
				}
				trexs[trex.TrackID] = trex
				return nil
			})
		}
		return nil
	})
	if err != nil {
		return err
	}
	if d.mvhd == nil {
		return errors.Wrap(stream.ErrMalformed, "moov without mvhd")
	}
	if len(d.tracks) == 0 {
		return errors.Wrap(stream.ErrMalformed, "moov without trak")
	}
	for _, track := range d.tracks {
		if trex, ok := trexs[track.TrackID]; ok {
			track.Trex = trex
		} else {
			track.Trex = NewTrackExtendsBox(track.TrackID)
		}
	}
	return nil
}

func (d *DashReader) parseTrak(box *BasicBox) (*Track, error) {
	track := &Track{MediaRate: defaultMediaRate}
	var hasTkhd, hasHdlr bool
	err := d.walk(box, func(child *BasicBox) error {
		switch child.Type {
		case TypeTKHD:
			payload, err := d.payload(child)
			if err != nil {
				return err
			}
			tkhd := NewTrackHeaderBox()
			if _, err = tkhd.Decode(payload); err != nil {
				return err
			}
			hasTkhd = true
			track.TrackID = tkhd.Track_ID
			track.CreationTime = tkhd.Creation_time
			track.ModificationTime = tkhd.Modification_time
			track.Duration = tkhd.Duration
			track.Layer = tkhd.Layer
			track.AlternateGroup = tkhd.Alternate_group
			track.Volume = tkhd.Volume
			track.Matrix = tkhd.Matrix
			track.Width = tkhd.Width
			track.Height = tkhd.Height
		case TypeEDTS:
			return d.walk(child, func(box *BasicBox) error {
				if box.Type != TypeELST {
					return nil
				}
				payload, err := d.payload(box)
				if err != nil {
					return err
				}
				elst := NewEditListBox()
				if _, err = elst.Decode(payload); err != nil {
					return err
				}
				track.MediaTime = elst.MediaTime
				track.MediaRate = elst.MediaRate
				return nil
			})
		case TypeMDIA:
			return d.walk(child, func(box *BasicBox) error {
				switch box.Type {
				case TypeMDHD:
					raw, err := d.raw(box)
					if err != nil {
						return err
					}
					mdhd := NewMediaHeaderBox()
					if _, err = mdhd.Decode(raw[8:]); err != nil {
						return err
					}
					track.Mdhd = raw
					track.Timescale = mdhd.Timescale
				case TypeHDLR:
					payload, err := d.payload(box)
					if err != nil {
						return err
					}
					hdlr := NewHandlerBox(HandlerType{}, "")
					if _, err = hdlr.Decode(payload); err != nil {
						return err
					}
					hasHdlr = true
					track.Handler = hdlr.Handler_type
					track.HandlerPreDefined = hdlr.Pre_defined
					track.Kind = kindOf(hdlr.Handler_type)
				case TypeMINF:
					return d.parseMinf(box, track)
				}
				return nil
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	switch {
	case !hasTkhd:
		return nil, errors.Wrapf(stream.ErrMalformed, "trak at %d without tkhd", box.Offset)
	case track.Mdhd == nil:
		return nil, errors.Wrapf(stream.ErrMalformed, "trak %d without mdhd", track.TrackID)
	case !hasHdlr:
		return nil, errors.Wrapf(stream.ErrMalformed, "trak %d without hdlr", track.TrackID)
	case track.Stsd == nil:
		return nil, errors.Wrapf(stream.ErrMalformed, "trak %d without stsd", track.TrackID)
	}
	return track, nil
}

func (d *DashReader) parseMinf(box *BasicBox, track *Track) error {
	return d.walk(box, func(child *BasicBox) error {
		var err error
		switch child.Type {
		case TypeVMHD, TypeSMHD, TypeSTHD, TypeNMHD, [4]byte{'h', 'm', 'h', 'd'}:
			track.MediaHeader, err = d.raw(child)
		case TypeDINF:
			track.Dinf, err = d.raw(child)
		case TypeSTBL:
			err = d.walk(child, func(box *BasicBox) error {
				if box.Type != TypeSTSD {
					return nil
				}
				raw, err := d.raw(box)
				if err != nil {
					return err
				}
				stsd := NewSampleDescriptionBox()
				if _, err = stsd.Decode(raw); err != nil {
					return err
				}
				track.Stsd = raw
				track.Codec = CodecFromSampleEntry(stsd.Format)
				return nil
			})
		}
		return err
	})
}

// walk calls fn for every child of parent, then makes sure the cursor sits
// at the end of the child whatever fn consumed.
func (d *DashReader) walk(parent *BasicBox, fn func(*BasicBox) error) error {
	end := parent.End()
	for d.r.Position() < end {
		box, err := readBox(d.r)
		if err == io.EOF {
			return errors.Wrapf(stream.ErrTruncated, "%s ends at %d before %d", parent.Type[:], d.r.Position(), end)
		} else if err != nil {
			return err
		}
		if box.ToEnd {
			box.ToEnd = false
			box.Size = uint64(end - box.Offset)
		}
		if box.End() > end {
			return errors.Wrapf(stream.ErrMalformed, "box %s at %d overflows %s", box.Type[:], box.Offset, parent.Type[:])
		}
		if err = fn(box); err != nil {
			return err
		}
		if err = d.ensure(box); err != nil {
			return err
		}
	}
	return nil
}

func (d *DashReader) ensure(box *BasicBox) error {
	pos := d.r.Position()
	if pos > box.End() {
		return errors.Wrapf(stream.ErrMalformed, "box %s at %d overrun by %d bytes", box.Type[:], box.Offset, pos-box.End())
	}
	return d.r.Skip(box.End() - pos)
}

func (d *DashReader) payload(box *BasicBox) ([]byte, error) {
	size := box.PayloadSize()
	if size < 0 || size > maxLeafBoxSize {
		return nil, errors.Wrapf(stream.ErrMalformed, "box %s at %d has unsupported size %d", box.Type[:], box.Offset, box.Size)
	}
	return d.r.ReadBytes(size)
}

// raw returns the box with its 8 byte header.
func (d *DashReader) raw(box *BasicBox) ([]byte, error) {
	payload, err := d.payload(box)
	if err != nil {
		return nil, err
	}
	hdr := NewBasicBox(box.Type)
	hdr.Size = uint64(8 + len(payload))
	return append(hdr.Encode(), payload...), nil
}

// skippable reports whether box may sit between the moov and the
// fragments without comment.
func skippable(box *BasicBox) bool {
	for _, typ := range [][4]byte{TypeFREE, TypeSIDX, TypeMFRA, TypeSTYP, TypeUUID} {
		if box.Is(typ) {
			return true
		}
	}
	return false
}

func (d *DashReader) skip(box *BasicBox) error {
	if box.ToEnd {
		return d.drain()
	}
	return d.r.Skip(box.End() - d.r.Position())
}

func (d *DashReader) drain() error {
	buf := make([]byte, 32*1024)
	for {
		n, err := d.r.Read(buf)
		if err == io.EOF || (err == nil && n < len(buf)) {
			return nil
		} else if err != nil {
			return err
		}
	}
}
