package stream

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

const readerBufferSize = 128 * 1024

// Reader is a buffered big-endian reader over a readable stream. It tracks
// the logical position and hands out bounded views sharing its cursor.
type Reader struct {
	src io.Reader
	br  *bufio.Reader
	pos int64
	gen int
	tmp [8]byte
}

func NewReader(src io.Reader) *Reader {
	return &Reader{
		src: src,
		br:  bufio.NewReaderSize(src, readerBufferSize),
	}
}

// Source returns the wrapped stream.
func (r *Reader) Source() io.Reader {
	return r.src
}

func (r *Reader) Position() int64 {
	return r.pos
}

func (r *Reader) ReadByte() (byte, error) {
	b, err := r.br.ReadByte()
	if err != nil {
		return 0, err
	}
	r.pos++
	return b, nil
}

// Read fills p unless the stream ends first. io.EOF is returned only when
// nothing was read.
func (r *Reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n, err := io.ReadFull(r.br, p)
	r.pos += int64(n)
	switch err {
	case nil:
		return n, nil
	case io.ErrUnexpectedEOF:
		return n, nil
	case io.EOF:
		return 0, io.EOF
	}
	return n, errors.Wrap(err, "read")
}

// ReadFull reads exactly len(p) bytes or fails with ErrTruncated.
func (r *Reader) ReadFull(p []byte) error {
	n, err := r.Read(p)
	if err != nil && err != io.EOF {
		return err
	}
	if n < len(p) {
		return Truncated(len(p) - n)
	}
	return nil
}

func (r *Reader) fill(n int) ([]byte, error) {
	b := r.tmp[:n]
	if err := r.ReadFull(b); err != nil {
		return nil, err
	}
	return b, nil
}

func (r *Reader) ReadUint16() (uint16, error) {
	b, err := r.fill(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *Reader) ReadInt16() (int16, error) {
	v, err := r.ReadUint16()
	return int16(v), err
}

func (r *Reader) ReadUint32() (uint32, error) {
	b, err := r.fill(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *Reader) ReadInt32() (int32, error) {
	v, err := r.ReadUint32()
	return int32(v), err
}

func (r *Reader) ReadUint64() (uint64, error) {
	b, err := r.fill(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (r *Reader) ReadInt64() (int64, error) {
	v, err := r.ReadUint64()
	return int64(v), err
}

// ReadBytes reads a freshly allocated blob of n bytes.
func (r *Reader) ReadBytes(n int64) ([]byte, error) {
	if n < 0 {
		return nil, errors.Wrapf(ErrMalformed, "negative length %d", n)
	}
	b := make([]byte, n)
	if err := r.ReadFull(b); err != nil {
		return nil, err
	}
	return b, nil
}

// Skip moves the cursor n bytes forward. Seekable sources are seeked past
// the buffered bytes, others are read and discarded.
func (r *Reader) Skip(n int64) error {
	if n <= 0 {
		return nil
	}
	buffered := int64(r.br.Buffered())
	if sk, ok := r.src.(io.Seeker); ok && n > buffered {
		if _, err := r.br.Discard(int(buffered)); err != nil {
			return errors.Wrap(err, "skip")
		}
		if _, err := sk.Seek(n-buffered, io.SeekCurrent); err != nil {
			return errors.Wrap(err, "skip")
		}
		r.br.Reset(r.src)
		r.pos += n
		return nil
	}
	for n > 0 {
		chunk := n
		if chunk > readerBufferSize {
			chunk = readerBufferSize
		}
		d, err := r.br.Discard(int(chunk))
		r.pos += int64(d)
		n -= int64(d)
		if err != nil {
			if err == io.EOF {
				return Truncated(int(n))
			}
			return errors.Wrap(err, "skip")
		}
	}
	return nil
}

// Available reports whether at least one more byte can be read.
func (r *Reader) Available() bool {
	_, err := r.br.Peek(1)
	return err == nil
}

// Rewind moves back to the start of the source. Views taken before the
// rewind stop working.
func (r *Reader) Rewind() error {
	if !CanRewind(r.src) {
		return errors.Wrap(ErrCapability, "source cannot rewind")
	}
	if err := Rewind(r.src); err != nil {
		return errors.Wrap(err, "rewind")
	}
	r.br.Reset(r.src)
	r.pos = 0
	r.gen++
	return nil
}

// View returns a sub-reader limited to the next size bytes.
func (r *Reader) View(size int64) *View {
	return &View{r: r, gen: r.gen, size: size}
}

// View is a bounded window over a Reader. It shares the parent cursor, so
// reading from the parent while a view is open moves both.
type View struct {
	r        *Reader
	gen      int
	size     int64
	consumed int64
}

func (v *View) check() error {
	if v.gen != v.r.gen {
		return errors.Wrap(ErrState, "view invalidated by rewind")
	}
	return nil
}

// Size is the length of the window.
func (v *View) Size() int64 {
	return v.size
}

// Available is the number of bytes left in the window.
func (v *View) Available() int64 {
	return v.size - v.consumed
}

func (v *View) Read(p []byte) (int, error) {
	if err := v.check(); err != nil {
		return 0, err
	}
	left := v.Available()
	if left <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > left {
		p = p[:left]
	}
	n, err := v.r.Read(p)
	v.consumed += int64(n)
	if err == io.EOF {
		return 0, Truncated(int(left))
	}
	return n, err
}

// ReadFull reads exactly len(p) bytes of the window.
func (v *View) ReadFull(p []byte) error {
	if int64(len(p)) > v.Available() {
		return errors.Wrapf(ErrMalformed, "read of %d bytes overruns view of %d", len(p), v.Available())
	}
	if err := v.check(); err != nil {
		return err
	}
	n, err := v.r.Read(p)
	v.consumed += int64(n)
	if err != nil && err != io.EOF {
		return err
	}
	if n < len(p) {
		return Truncated(len(p) - n)
	}
	return nil
}

func (v *View) Skip(n int64) error {
	if err := v.check(); err != nil {
		return err
	}
	if n > v.Available() {
		n = v.Available()
	}
	if err := v.r.Skip(n); err != nil {
		return err
	}
	v.consumed += n
	return nil
}

// Close skips whatever is left of the window.
func (v *View) Close() error {
	if v.gen != v.r.gen {
		return nil
	}
	return v.Skip(v.Available())
}
