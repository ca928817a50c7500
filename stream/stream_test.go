package stream

import (
	"bytes"
	"io"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapabilities(t *testing.T) {
	mem := NewMemory(nil)
	tests := []struct {
		name                      string
		s                         any
		read, write, seek, rewind bool
	}{
		{"memory", mem, true, true, true, true},
		{"read only", ReadOnly(mem), true, false, false, false},
		{"write only", WriteOnly(mem), false, true, false, false},
		{"bytes reader", bytes.NewReader(nil), true, false, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.read, CanRead(tt.s))
			assert.Equal(t, tt.write, CanWrite(tt.s))
			assert.Equal(t, tt.seek, CanSeek(tt.s))
			assert.Equal(t, tt.rewind, CanRewind(tt.s))
		})
	}

	err := Require(ReadOnly(mem), "output", "write")
	assert.True(t, errors.Is(err, ErrCapability))
	assert.NoError(t, Require(mem, "output", "read", "write", "seek", "rewind"))
}

func TestMemoryStream(t *testing.T) {
	m := NewMemory(nil)
	_, err := m.Write([]byte("hello world"))
	require.NoError(t, err)
	_, err = m.Seek(6, io.SeekStart)
	require.NoError(t, err)
	_, err = m.Write([]byte("there"))
	require.NoError(t, err)
	assert.Equal(t, "hello there", string(m.Bytes()))

	require.NoError(t, m.Rewind())
	got, err := io.ReadAll(m)
	require.NoError(t, err)
	assert.Equal(t, "hello there", string(got))

	_, err = m.Seek(20, io.SeekStart)
	require.NoError(t, err)
	_, err = m.Write([]byte{1})
	require.NoError(t, err)
	assert.Equal(t, 21, m.Len())
}

func TestFileStream(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.bin")
	f, err := CreateFile(path)
	require.NoError(t, err)
	_, err = f.Write([]byte{1, 2, 3})
	require.NoError(t, err)
	require.NoError(t, f.Rewind())
	b := make([]byte, 3)
	_, err = io.ReadFull(f, b)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, b)
	require.NoError(t, Close(f))

	_, err = OpenFile(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
