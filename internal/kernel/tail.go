package kernel

import (
	"strings"
	"sync"
)

// tailBuffer is a thread-safe circular buffer keeping the last size bytes
// of kernel stderr for diagnostics.
type tailBuffer struct {
	data []byte
	size int
	head int
	tail int
	full bool
	mu   sync.RWMutex
}

func newTailBuffer(size int) *tailBuffer {
	return &tailBuffer{
		data: make([]byte, size),
		size: size,
	}
}

// Write appends data, evicting the oldest bytes once full.
func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, c := range p {
		b.data[b.tail] = c
		b.tail = (b.tail + 1) % b.size

		if b.full {
			b.head = b.tail
		} else if b.tail == b.head {
			b.full = true
		}
	}

	return len(p), nil
}

// String returns the buffered bytes, oldest first, without draining.
func (b *tailBuffer) String() string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.full && b.head == b.tail {
		return ""
	}

	var sb strings.Builder
	if b.full || b.tail < b.head {
		sb.Write(b.data[b.head:])
		sb.Write(b.data[:b.tail])
	} else {
		sb.Write(b.data[b.head:b.tail])
	}
	return strings.TrimSpace(sb.String())
}
