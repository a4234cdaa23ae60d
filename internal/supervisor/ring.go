package supervisor

import "sync"

// ring is a fixed-capacity byte buffer that keeps the newest bytes written
// to it. Readers get the retained tail as one string, so a snapshot may
// begin mid-line after the buffer has wrapped.
type ring struct {
	mu    sync.Mutex
	buf   []byte
	size  int
	start int
	count int
}

func newRing(size int) *ring {
	if size <= 0 {
		size = DefaultRingSize
	}
	return &ring{buf: make([]byte, size), size: size}
}

// Write appends bytes, evicting the oldest when over capacity. It always
// reports the full length written, satisfying io.Writer.
func (r *ring) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(p)
	if n >= r.size {
		copy(r.buf, p[n-r.size:])
		r.start = 0
		r.count = r.size
		return n, nil
	}

	pos := (r.start + r.count) % r.size
	wrote := copy(r.buf[pos:], p)
	if wrote < n {
		copy(r.buf, p[wrote:])
	}

	if r.count+n > r.size {
		r.start = (r.start + r.count + n - r.size) % r.size
		r.count = r.size
	} else {
		r.count += n
	}
	return n, nil
}

// String returns the retained bytes, oldest first.
func (r *ring) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]byte, r.count)
	if r.start+r.count <= r.size {
		copy(out, r.buf[r.start:r.start+r.count])
	} else {
		first := copy(out, r.buf[r.start:])
		copy(out[first:], r.buf[:r.count-first])
	}
	return string(out)
}

// Len returns the number of retained bytes.
func (r *ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}
