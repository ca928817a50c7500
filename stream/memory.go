package stream

import (
	"io"

	"github.com/pkg/errors"
)

// Memory is a growable in-memory stream that can read, write, seek and
// rewind. Writes past the end extend it with zeros.
type Memory struct {
	buf    []byte
	pos    int64
	closed bool
}

func NewMemory(b []byte) *Memory {
	return &Memory{buf: b}
}

func (m *Memory) Bytes() []byte {
	return m.buf
}

func (m *Memory) Len() int {
	return len(m.buf)
}

func (m *Memory) Read(p []byte) (int, error) {
	if m.closed {
		return 0, errors.Wrap(ErrState, "read on closed stream")
	}
	if m.pos >= int64(len(m.buf)) {
		return 0, io.EOF
	}
	n := copy(p, m.buf[m.pos:])
	m.pos += int64(n)
	return n, nil
}

func (m *Memory) Write(p []byte) (int, error) {
	if m.closed {
		return 0, errors.Wrap(ErrState, "write on closed stream")
	}
	end := m.pos + int64(len(p))
	if end > int64(len(m.buf)) {
		if end > int64(cap(m.buf)) {
			nb := make([]byte, end, end*2)
			copy(nb, m.buf)
			m.buf = nb
		} else {
			m.buf = m.buf[:end]
		}
	}
	copy(m.buf[m.pos:], p)
	m.pos = end
	return len(p), nil
}

func (m *Memory) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = m.pos + offset
	case io.SeekEnd:
		abs = int64(len(m.buf)) + offset
	default:
		return 0, errors.Errorf("invalid whence %d", whence)
	}
	if abs < 0 {
		return 0, errors.Errorf("negative position %d", abs)
	}
	m.pos = abs
	return abs, nil
}

func (m *Memory) Skip(n int64) (int64, error) {
	left := int64(len(m.buf)) - m.pos
	if n > left {
		n = left
	}
	m.pos += n
	return n, nil
}

func (m *Memory) Rewind() error {
	m.pos = 0
	return nil
}

func (m *Memory) Close() error {
	m.closed = true
	return nil
}
