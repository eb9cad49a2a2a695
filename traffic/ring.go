package traffic

// Ring is a fixed-capacity FIFO of rates; pushing onto a full ring evicts
// the oldest value. It is not safe for concurrent use.
type Ring struct {
	buf   []uint64
	start int
	n     int
}

// NewRing creates an empty ring holding up to capacity values.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{buf: make([]uint64, capacity)}
}

// Push appends v, evicting the oldest value when full.
func (r *Ring) Push(v uint64) {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = v
		r.n++
		return
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
}

// Len returns the number of stored values.
func (r *Ring) Len() int { return r.n }

// Cap returns the capacity.
func (r *Ring) Cap() int { return len(r.buf) }

// Values returns the stored values, oldest first.
func (r *Ring) Values() []uint64 {
	out := make([]uint64, r.n)
	for i := range out {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

// Max returns the largest stored value, 0 when empty.
func (r *Ring) Max() uint64 {
	var m uint64
	for i := 0; i < r.n; i++ {
		if v := r.buf[(r.start+i)%len(r.buf)]; v > m {
			m = v
		}
	}
	return m
}
