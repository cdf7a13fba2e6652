package message

import (
	"io"
	"os"

	"github.com/pkg/errors"
)

// UnknownSize marks an entity whose length is not known up front.
// Such entities are framed with chunked transfer coding.
const UnknownSize int64 = -1

// Entity is the body payload of a message. The concrete type determines
// the strategy the engine uses to move its bytes without blocking.
type Entity interface {
	// Size returns the entity length in bytes, or [UnknownSize].
	Size() int64
}

// BufferEntity is an in-memory entity. All of its bytes are immediately
// available, so the engine can always copy without blocking.
type BufferEntity struct {
	data []byte
	off  int
}

var _ Entity = (*BufferEntity)(nil)

func NewBufferEntity(data []byte) *BufferEntity {
	return &BufferEntity{data: data}
}

func (e *BufferEntity) Size() int64 { return int64(len(e.data)) }

// Available reports how many bytes can be read without blocking.
func (e *BufferEntity) Available() int { return len(e.data) - e.off }

func (e *BufferEntity) Read(p []byte) (int, error) {
	if e.off >= len(e.data) {
		return 0, io.EOF
	}
	n := copy(p, e.data[e.off:])
	e.off += n
	return n, nil
}

// Bytes returns the full entity content.
func (e *BufferEntity) Bytes() []byte { return e.data }

// FileEntity is a file-backed entity. Reads are positional so a
// partially-sent entity resumes from its index without seeking.
type FileEntity struct {
	file *os.File
	size int64
}

var _ Entity = (*FileEntity)(nil)

func NewFileEntity(file *os.File) (*FileEntity, error) {
	info, err := file.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "sizing entity file")
	}
	return &FileEntity{file: file, size: info.Size()}, nil
}

func (e *FileEntity) Size() int64 { return e.size }

func (e *FileEntity) ReadAt(p []byte, off int64) (int, error) {
	return e.file.ReadAt(p, off)
}

func (e *FileEntity) Close() error { return e.file.Close() }

// StreamEntity wraps a generic reader. If the reader exposes its
// buffered length (e.g. [bytes.Reader]) the engine copies only what is
// immediately available; otherwise reads may block briefly.
type StreamEntity struct {
	r    io.Reader
	size int64
}

var _ Entity = (*StreamEntity)(nil)

// NewStreamEntity wraps r. Pass [UnknownSize] if the length is unknown.
func NewStreamEntity(r io.Reader, size int64) *StreamEntity {
	return &StreamEntity{r: r, size: size}
}

func (e *StreamEntity) Size() int64 { return e.size }

// Available reports the bytes readable without blocking,
// or -1 when the source gives no availability information.
func (e *StreamEntity) Available() int {
	if l, ok := e.r.(interface{ Len() int }); ok {
		return l.Len()
	}
	return -1
}

func (e *StreamEntity) Read(p []byte) (int, error) { return e.r.Read(p) }

// ChannelEntity is fed by a channel of byte slices. Receives are
// non-blocking; a closed channel ends the entity.
type ChannelEntity struct {
	c    <-chan []byte
	size int64
}

var _ Entity = (*ChannelEntity)(nil)

// NewChannelEntity wraps c. Pass [UnknownSize] if the length is unknown.
func NewChannelEntity(c <-chan []byte, size int64) *ChannelEntity {
	return &ChannelEntity{c: c, size: size}
}

func (e *ChannelEntity) Size() int64 { return e.size }

// TryRecv receives the next slice without blocking.
// done reports that the channel is closed and drained.
func (e *ChannelEntity) TryRecv() (b []byte, ok bool, done bool) {
	select {
	case b, open := <-e.c:
		if !open {
			return nil, false, true
		}
		return b, true, false
	default:
		return nil, false, false
	}
}
