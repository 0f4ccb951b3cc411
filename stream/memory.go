package stream

import (
	"bytes"
	"io"

	"github.com/joeycumines/go-cancelio/cancellable"
	"github.com/joeycumines/go-cancelio/ioerr"
)

// NewMemory returns a seekable stream over the concatenation of data. The
// data is not copied, and must not be modified while the stream is in use.
func NewMemory(data ...[]byte) *Stream {
	var buf []byte
	if len(data) == 1 {
		buf = data[0]
	} else {
		buf = bytes.Join(data, nil)
	}
	return New(&memoryBackend{data: buf})
}

type memoryBackend struct {
	data []byte
	pos  int64
}

func (m *memoryBackend) Read(p []byte, c *cancellable.Cancellable) (int, error) {
	if m.pos >= int64(len(m.data)) {
		return 0, nil
	}
	n := copy(p, m.data[m.pos:])
	m.pos += int64(n)
	return n, nil
}

func (m *memoryBackend) Close(*cancellable.Cancellable) error { return nil }

func (m *memoryBackend) CanSeek() bool { return true }

func (m *memoryBackend) Tell() int64 { return m.pos }

func (m *memoryBackend) Seek(offset int64, whence int, _ *cancellable.Cancellable) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = m.pos + offset
	case io.SeekEnd:
		abs = int64(len(m.data)) + offset
	default:
		return 0, ioerr.Newf(ioerr.InvalidArgument, `Invalid whence %d`, whence)
	}
	if abs < 0 || abs > int64(len(m.data)) {
		return 0, ioerr.New(ioerr.InvalidArgument, `Invalid seek request`)
	}
	m.pos = abs
	return abs, nil
}
