package buffer

// Ring keeps the most recent entries up to a fixed capacity.
// It is not safe for concurrent use.
type Ring[T any] struct {
	entries []T
	start   int
	count   int
}

func NewRing[T any](size int) *Ring[T] {
	if size <= 0 {
		size = 1
	}
	return &Ring[T]{
		entries: make([]T, size),
	}
}

func (r *Ring[T]) Add(entry T) {
	if r == nil || len(r.entries) == 0 {
		return
	}

	if r.count < len(r.entries) {
		r.entries[(r.start+r.count)%len(r.entries)] = entry
		r.count++
		return
	}

	r.entries[r.start] = entry
	r.start = (r.start + 1) % len(r.entries)
}

func (r *Ring[T]) Len() int {
	if r == nil {
		return 0
	}
	return r.count
}

// List returns all retained entries, oldest first.
func (r *Ring[T]) List() []T {
	return r.Last(r.Len())
}

// Last returns up to n of the newest entries, oldest first.
func (r *Ring[T]) Last(n int) []T {
	if r == nil || r.count == 0 || n <= 0 {
		return nil
	}
	if n > r.count {
		n = r.count
	}

	out := make([]T, n)
	skip := r.count - n
	for i := 0; i < n; i++ {
		out[i] = r.entries[(r.start+skip+i)%len(r.entries)]
	}
	return out
}

// Reset drops every entry while keeping the capacity.
func (r *Ring[T]) Reset() {
	if r == nil {
		return
	}
	var zero T
	for i := range r.entries {
		r.entries[i] = zero
	}
	r.start = 0
	r.count = 0
}
