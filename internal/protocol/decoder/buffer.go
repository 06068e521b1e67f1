package decoder

import "errors"

var ErrShortBuffer = errors.New("decoder: not enough buffered bytes")

// Buffer is a growable byte queue for callers that receive chunks from a
// transport and feed them to a Decoder.
type Buffer struct {
	buf []byte
	off int
}

func NewBuffer(capacity int) *Buffer {
	return &Buffer{buf: make([]byte, 0, capacity)}
}

// Write appends p. It never fails.
func (b *Buffer) Write(p []byte) (int, error) {
	if b.off > 0 && b.off == len(b.buf) {
		b.buf = b.buf[:0]
		b.off = 0
	} else if b.off > 0 && len(b.buf)+len(p) > cap(b.buf) {
		n := copy(b.buf, b.buf[b.off:])
		b.buf = b.buf[:n]
		b.off = 0
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *Buffer) Len() int { return len(b.buf) - b.off }

// Bytes returns the unconsumed bytes without copying.
func (b *Buffer) Bytes() []byte { return b.buf[b.off:] }

func (b *Buffer) Peek(n int) ([]byte, error) {
	if n > b.Len() {
		return b.buf[b.off:], ErrShortBuffer
	}
	return b.buf[b.off : b.off+n], nil
}

func (b *Buffer) Skip(n int) error {
	if n > b.Len() {
		b.off = len(b.buf)
		return ErrShortBuffer
	}
	b.off += n
	return nil
}

func (b *Buffer) Reset() {
	b.buf = b.buf[:0]
	b.off = 0
}
