package job

// Buffer is a fixed-capacity byte sink for one output stream.
// Len never exceeds Cap; when Room is zero the stream is not read,
// which blocks a chatty child on its pipe instead of growing memory.
type Buffer struct {
	data []byte
}

// NewBuffer creates a buffer holding at most capacity bytes.
func NewBuffer(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{data: make([]byte, 0, capacity)}
}

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int { return len(b.data) }

// Cap returns the buffer capacity.
func (b *Buffer) Cap() int { return cap(b.data) }

// Room returns how many more bytes fit.
func (b *Buffer) Room() int { return cap(b.data) - len(b.data) }

// Bytes returns a copy of the buffered bytes.
func (b *Buffer) Bytes() []byte {
	return append([]byte(nil), b.data...)
}

// Take returns the buffered bytes and empties the buffer.
func (b *Buffer) Take() []byte {
	out := b.Bytes()
	b.data = b.data[:0]
	return out
}

// Write appends as much of p as fits and returns the count stored.
func (b *Buffer) Write(p []byte) int {
	n := copy(b.space(), p)
	b.commit(n)
	return n
}

// space exposes the free tail for a direct read(2).
func (b *Buffer) space() []byte {
	return b.data[len(b.data):cap(b.data)]
}

func (b *Buffer) commit(n int) {
	b.data = b.data[:len(b.data)+n]
}
