package shield

// History is a fixed-size ring of the most recent entries. Pushing beyond
// capacity evicts the oldest entry.
type History[T any] struct {
	entries []T
	size    int
	pos     int
	full    bool
}

func newHistory[T any](size int) *History[T] {
	if size <= 0 {
		size = 50
	}
	return &History[T]{entries: make([]T, size), size: size}
}

func (h *History[T]) push(v T) {
	h.entries[h.pos] = v
	h.pos = (h.pos + 1) % h.size
	if h.pos == 0 {
		h.full = true
	}
}

// Len is the number of retained entries, never more than the capacity.
func (h *History[T]) Len() int {
	if h.full {
		return h.size
	}
	return h.pos
}

func (h *History[T]) Cap() int { return h.size }

// Last returns up to n of the most recent entries, oldest first. n <= 0
// returns everything retained.
func (h *History[T]) Last(n int) []T {
	total := h.Len()
	if n <= 0 || n > total {
		n = total
	}
	out := make([]T, n)
	start := h.pos - n
	if start < 0 {
		start += h.size
	}
	for i := 0; i < n; i++ {
		out[i] = h.entries[(start+i)%h.size]
	}
	return out
}
