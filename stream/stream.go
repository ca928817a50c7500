// Package stream holds the byte stream boundary used by the remuxers.
//
// A stream is any Go value; its capabilities are the standard io interfaces
// it implements (io.Reader, io.Writer, io.Seeker, io.Closer) plus Rewinder
// and Skipper. Components check what they need when they are constructed.
package stream

import (
	"io"
	"os"

	"github.com/pkg/errors"
)

type Rewinder interface {
	Rewind() error
}

// Skipper moves forward without reading the bytes in between.
type Skipper interface {
	Skip(n int64) (int64, error)
}

func CanRead(s any) bool {
	_, ok := s.(io.Reader)
	return ok
}

func CanWrite(s any) bool {
	_, ok := s.(io.Writer)
	return ok
}

func CanSeek(s any) bool {
	_, ok := s.(io.Seeker)
	return ok
}

// CanRewind is true for explicit Rewinders and for seekable streams.
func CanRewind(s any) bool {
	if _, ok := s.(Rewinder); ok {
		return true
	}
	return CanSeek(s)
}

func Rewind(s any) error {
	switch v := s.(type) {
	case Rewinder:
		return v.Rewind()
	case io.Seeker:
		_, err := v.Seek(0, io.SeekStart)
		return err
	}
	return errors.Wrap(ErrCapability, "stream cannot rewind")
}

func Close(s any) error {
	if c, ok := s.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Require fails with ErrCapability when s misses one of the named
// capabilities ("read", "write", "seek", "rewind").
func Require(s any, what string, caps ...string) error {
	for _, c := range caps {
		var ok bool
		switch c {
		case "read":
			ok = CanRead(s)
		case "write":
			ok = CanWrite(s)
		case "seek":
			ok = CanSeek(s)
		case "rewind":
			ok = CanRewind(s)
		}
		if !ok {
			return errors.Wrapf(ErrCapability, "%s stream cannot %s", what, c)
		}
	}
	return nil
}

// File is an *os.File with rewind support.
type File struct {
	*os.File
}

func OpenFile(path string) (*File, error) {
	fp, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	return &File{File: fp}, nil
}

func CreateFile(path string) (*File, error) {
	fp, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0666)
	if err != nil {
		return nil, errors.Wrapf(err, "create %s", path)
	}
	return &File{File: fp}, nil
}

func (f *File) Rewind() error {
	_, err := f.Seek(0, io.SeekStart)
	return err
}

type readOnly struct {
	r io.Reader
}

func (ro readOnly) Read(p []byte) (int, error) { return ro.r.Read(p) }

// ReadOnly hides every capability of r but reading.
func ReadOnly(r io.Reader) io.Reader {
	return readOnly{r: r}
}

type writeOnly struct {
	w io.Writer
}

func (wo writeOnly) Write(p []byte) (int, error) { return wo.w.Write(p) }

// WriteOnly hides every capability of w but writing, like a pipe.
func WriteOnly(w io.Writer) io.Writer {
	return writeOnly{w: w}
}
