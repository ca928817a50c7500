package mp4

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/gomedia/remux/stream"
)

// boxWriter lays out a box tree. In simulation mode nothing is written: the
// cursor moves and the size of every container is recorded. The real pass
// replays the same calls and writes each container header with its final
// size straight away, so no header needs patching afterwards.
type boxWriter struct {
	w        io.Writer
	pos      int64
	simulate bool
	sizes    []uint32
	open     []openBox
	next     int
}

type openBox struct {
	index int
	start int64
	typ   [4]byte
}

var zeroPage = make([]byte, 64*1024)

func newSimulation() *boxWriter {
	return &boxWriter{simulate: true}
}

// replay turns a finished simulation into a real pass writing to w.
func (bw *boxWriter) replay(w io.Writer) {
	bw.w = w
	bw.pos = 0
	bw.simulate = false
	bw.next = 0
	bw.open = bw.open[:0]
}

func (bw *boxWriter) write(p []byte) error {
	if !bw.simulate {
		if _, err := bw.w.Write(p); err != nil {
			return errors.Wrap(err, "write box")
		}
	}
	bw.pos += int64(len(p))
	return nil
}

func (bw *boxWriter) zeros(n int64) error {
	if bw.simulate {
		bw.pos += n
		return nil
	}
	for n > 0 {
		chunk := n
		if chunk > int64(len(zeroPage)) {
			chunk = int64(len(zeroPage))
		}
		if err := bw.write(zeroPage[:chunk]); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

func (bw *boxWriter) begin(typ [4]byte) error {
	index := bw.next
	bw.next++
	if bw.simulate {
		bw.sizes = append(bw.sizes, 0)
	} else if index >= len(bw.sizes) {
		return errors.Wrapf(stream.ErrInvariant, "box %s was not simulated", typ[:])
	}
	bw.open = append(bw.open, openBox{index: index, start: bw.pos, typ: typ})
	hdr := make([]byte, 8)
	binary.BigEndian.PutUint32(hdr, bw.sizes[index])
	copy(hdr[4:], typ[:])
	return bw.write(hdr)
}

func (bw *boxWriter) end() error {
	top := bw.open[len(bw.open)-1]
	bw.open = bw.open[:len(bw.open)-1]
	size := bw.pos - top.start
	if size > 0xFFFFFFFF {
		return errors.Wrapf(stream.ErrCapacity, "box %s of %d bytes", top.typ[:], size)
	}
	if bw.simulate {
		bw.sizes[top.index] = uint32(size)
	} else if bw.sizes[top.index] != uint32(size) {
		return errors.Wrapf(stream.ErrInvariant, "box %s is %d bytes, simulated %d", top.typ[:], size, bw.sizes[top.index])
	}
	return nil
}

// reserve writes a box header followed by rows zeroed rows and returns the
// table the rows get patched through.
func (bw *boxWriter) reserve(header []byte, rows uint32, rowSize int) (*tableRef, error) {
	if err := bw.write(header); err != nil {
		return nil, err
	}
	ref := &tableRef{offset: bw.pos, rowSize: rowSize, rows: rows}
	return ref, bw.zeros(int64(rows) * int64(rowSize))
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

// patcher rewrites bytes that were already emitted.
type patcher interface {
	patch(off int64, p []byte) error
}

type memoryPatcher struct {
	buf []byte
}

func (mp *memoryPatcher) patch(off int64, p []byte) error {
	if off < 0 || off+int64(len(p)) > int64(len(mp.buf)) {
		return errors.Wrapf(stream.ErrInvariant, "patch [%d,%d) outside %d bytes", off, off+int64(len(p)), len(mp.buf))
	}
	copy(mp.buf[off:], p)
	return nil
}

// seekPatcher writes at base+off of a seekable output and goes back to
// the end of what was written.
type seekPatcher struct {
	out  io.WriteSeeker
	base int64
	cw   *countingWriter
}

func (sp *seekPatcher) patch(off int64, p []byte) error {
	if _, err := sp.out.Seek(sp.base+off, io.SeekStart); err != nil {
		return errors.Wrap(err, "seek to patch")
	}
	if _, err := sp.out.Write(p); err != nil {
		return errors.Wrap(err, "write patch")
	}
	if _, err := sp.out.Seek(sp.cw.n, io.SeekStart); err != nil {
		return errors.Wrap(err, "seek back after patch")
	}
	return nil
}

// rewindPatcher serves outputs that can rewind and skip but not seek.
type rewindPatcher struct {
	out  io.Writer
	base int64
	cw   *countingWriter
}

func (rp *rewindPatcher) skipTo(pos int64) error {
	if err := stream.Rewind(rp.out); err != nil {
		return err
	}
	n, err := rp.out.(stream.Skipper).Skip(pos)
	if err != nil {
		return errors.Wrap(err, "skip to patch")
	}
	if n != pos {
		return errors.Wrapf(stream.ErrTruncated, "skipped %d of %d bytes", n, pos)
	}
	return nil
}

func (rp *rewindPatcher) patch(off int64, p []byte) error {
	if err := rp.skipTo(rp.base + off); err != nil {
		return err
	}
	if _, err := rp.out.Write(p); err != nil {
		return errors.Wrap(err, "write patch")
	}
	return rp.skipTo(rp.cw.n)
}

// outputPatcher returns nil when out can neither seek nor rewind and skip.
func outputPatcher(out io.Writer, base int64, cw *countingWriter) patcher {
	if ws, ok := out.(io.WriteSeeker); ok {
		return &seekPatcher{out: ws, base: base, cw: cw}
	}
	_, rewinds := out.(stream.Rewinder)
	_, skips := out.(stream.Skipper)
	if rewinds && skips {
		return &rewindPatcher{out: out, base: base, cw: cw}
	}
	return nil
}
