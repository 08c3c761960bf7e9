package worker

import (
	"bytes"
	"sync"
)

// CappedBuffer keeps at most Limit bytes and silently discards the rest.
// Writes never fail, so a chatty process cannot break output copying.
type CappedBuffer struct {
	Limit int

	mu        sync.Mutex
	buf       bytes.Buffer
	truncated bool
}

// NewCappedBuffer returns a buffer that retains up to limit bytes.
func NewCappedBuffer(limit int) *CappedBuffer {
	return &CappedBuffer{Limit: limit}
}

func (b *CappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	room := b.Limit - b.buf.Len()
	if room <= 0 {
		b.truncated = b.truncated || len(p) > 0
		return len(p), nil
	}
	if len(p) > room {
		b.buf.Write(p[:room])
		b.truncated = true
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

// Bytes returns a copy of the retained bytes.
func (b *CappedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bytes.Clone(b.buf.Bytes())
}

func (b *CappedBuffer) String() string {
	return string(b.Bytes())
}

// Truncated reports whether any bytes were discarded.
func (b *CappedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}
