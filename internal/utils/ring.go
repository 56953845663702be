package utils

// Ring is a fixed-capacity FIFO that overwrites its oldest slot when full.
// It is not safe for concurrent use.
type Ring[T any] struct {
	buf  []T
	head int
	size int
}

func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

func (r *Ring[T]) Len() int { return r.size }

func (r *Ring[T]) Cap() int { return len(r.buf) }

// Push appends v and returns the value it displaced, if any.
func (r *Ring[T]) Push(v T) (T, bool) {
	var evicted T
	if r.size == len(r.buf) {
		evicted = r.buf[r.head]
		r.buf[r.head] = v
		r.head = (r.head + 1) % len(r.buf)
		return evicted, true
	}
	r.buf[(r.head+r.size)%len(r.buf)] = v
	r.size++
	return evicted, false
}

// At returns the i-th element, oldest first.
func (r *Ring[T]) At(i int) T {
	return r.buf[(r.head+i)%len(r.buf)]
}

// Front returns the oldest element.
func (r *Ring[T]) Front() (T, bool) {
	var zero T
	if r.size == 0 {
		return zero, false
	}
	return r.buf[r.head], true
}

// PopFront drops the oldest element.
func (r *Ring[T]) PopFront() {
	if r.size == 0 {
		return
	}
	var zero T
	r.buf[r.head] = zero
	r.head = (r.head + 1) % len(r.buf)
	r.size--
}

// Each visits elements oldest first until fn returns false.
func (r *Ring[T]) Each(fn func(T) bool) {
	for i := 0; i < r.size; i++ {
		if !fn(r.At(i)) {
			return
		}
	}
}

// Resize changes the capacity, keeping the newest elements.
func (r *Ring[T]) Resize(capacity int) {
	if capacity < 1 {
		capacity = 1
	}
	if capacity == len(r.buf) {
		return
	}
	keep := r.size
	if keep > capacity {
		keep = capacity
	}
	buf := make([]T, capacity)
	for i := 0; i < keep; i++ {
		buf[i] = r.At(r.size - keep + i)
	}
	r.buf = buf
	r.head = 0
	r.size = keep
}

func (r *Ring[T]) Reset() {
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.head = 0
	r.size = 0
}
