package terminal

import "sync"

const defaultRingBytes = 1 << 20

// ring is a fixed-capacity byte ring holding the most recent shell
// output. Writers never block; once full, the oldest bytes fall off the
// front. Readers drain everything accumulated since the last drain,
// which matches a terminal pane polling for fresh output.
type ring struct {
	mu    sync.Mutex
	data  []byte
	start int
	count int
}

func newRing(size int) *ring {
	if size <= 0 {
		size = defaultRingBytes
	}
	return &ring{data: make([]byte, size)}
}

// Write appends p, discarding the oldest bytes once the ring is full.
// It never fails; the signature matches io.Writer so the PTY reader can
// hand bytes straight over.
func (r *ring) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(p)
	size := len(r.data)
	if n >= size {
		// Only the tail of p fits and everything older is displaced.
		copy(r.data, p[n-size:])
		r.start = 0
		r.count = size
		return n, nil
	}

	if over := r.count + n - size; over > 0 {
		r.start = (r.start + over) % size
		r.count -= over
	}

	end := (r.start + r.count) % size
	first := copy(r.data[end:], p)
	if first < n {
		copy(r.data, p[first:])
	}
	r.count += n
	return n, nil
}

// Drain returns the buffered bytes in arrival order and clears the ring.
func (r *ring) Drain() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 {
		return nil
	}
	out := make([]byte, r.count)
	first := copy(out, r.data[r.start:])
	if first < r.count {
		copy(out[first:], r.data[:r.count-first])
	}
	r.start = 0
	r.count = 0
	return out
}

// Len reports the number of buffered bytes.
func (r *ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}
