package mp4

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/gomedia/remux/stream"
)

type stscEntry struct {
	firstChunk             uint32
	samplesPerChunk        uint32
	sampleDescriptionIndex uint32
}

// makeStscEntries splits samples into a first chunk of first samples,
// then chunks of successive samples and a last partial chunk. Rows with
// the same samples per chunk as the previous row are merged.
func makeStscEntries(samples, first, successive uint32) []stscEntry {
	if samples == 0 {
		return nil
	}
	if samples <= first {
		return []stscEntry{{1, samples, 1}}
	}
	entrys := []stscEntry{{1, first, 1}}
	rest := samples - first
	full := rest / successive
	if full > 0 && successive != first {
		entrys = append(entrys, stscEntry{2, successive, 1})
	}
	if remain := rest % successive; remain > 0 && remain != entrys[len(entrys)-1].samplesPerChunk {
		entrys = append(entrys, stscEntry{2 + full, remain, 1})
	}
	return entrys
}

func chunkCount(samples, first, successive uint32) uint32 {
	if samples == 0 {
		return 0
	}
	if samples <= first {
		return 1
	}
	rest := samples - first
	return 1 + (rest+successive-1)/successive
}

// runCounter groups consecutive equal values the way stts and ctts rows do.
type runCounter struct {
	runs    uint32
	count   uint32
	value   int64
	started bool
}

// add reports the run that value closed, if any.
func (rc *runCounter) add(value int64) (closed bool, count uint32, prev int64) {
	if rc.started && rc.count > 0 && value == rc.value {
		rc.count++
		return false, 0, 0
	}
	if rc.started && rc.count > 0 {
		closed, count, prev = true, rc.count, rc.value
	}
	rc.started = true
	rc.value = value
	rc.count = 1
	rc.runs++
	return
}

// flush closes the open run.
func (rc *runCounter) flush() (closed bool, count uint32, value int64) {
	if !rc.started || rc.count == 0 {
		return false, 0, 0
	}
	closed, count, value = true, rc.count, rc.value
	rc.count = 0
	return
}

// trackStats is what the info only pass learns about a track.
type trackStats struct {
	samples      uint32
	keyframes    uint32
	stts         runCounter
	ctts         runCounter
	hasCtts      bool
	negativeCtts bool
	firstSize    uint32
	sizeVaries   bool
	bytes        uint64
	duration     uint64
}

func (ts *trackStats) add(entry TrunEntry, composition bool) {
	if ts.samples == 0 {
		ts.firstSize = entry.SampleSize
	} else if entry.SampleSize != ts.firstSize {
		ts.sizeVaries = true
	}
	ts.samples++
	if entry.IsKeyframe() {
		ts.keyframes++
	}
	ts.stts.add(int64(entry.SampleDuration))
	offset := int64(0)
	if composition {
		ts.hasCtts = true
		offset = int64(entry.SampleCompositionTimeOffset)
		if offset < 0 {
			ts.negativeCtts = true
		}
	}
	ts.ctts.add(offset)
	ts.bytes += uint64(entry.SampleSize)
	ts.duration += uint64(entry.SampleDuration)
}

func (ts *trackStats) needStss() bool {
	return ts.keyframes < ts.samples
}

// tableRef is a reserved run of rows inside the moov. Rows are buffered
// and written in batches through a patcher.
type tableRef struct {
	offset  int64
	rowSize int
	rows    uint32
	written uint32
	pending []byte
}

func (t *tableRef) add(fields ...uint32) {
	for _, f := range fields {
		t.pending = binary.BigEndian.AppendUint32(t.pending, f)
	}
}

func (t *tableRef) add64(v uint64) {
	t.pending = binary.BigEndian.AppendUint64(t.pending, v)
}

func (t *tableRef) flush(p patcher) error {
	if t == nil || len(t.pending) == 0 {
		return nil
	}
	n := uint32(len(t.pending) / t.rowSize)
	if t.written+n > t.rows {
		return errors.Wrapf(stream.ErrInvariant, "table of %d rows got %d", t.rows, t.written+n)
	}
	if err := p.patch(t.offset+int64(t.written)*int64(t.rowSize), t.pending); err != nil {
		return err
	}
	t.written += n
	t.pending = t.pending[:0]
	return nil
}

func (t *tableRef) complete() bool {
	return t == nil || t.written == t.rows
}
