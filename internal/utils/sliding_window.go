package utils

import (
	"sync"
	"time"
)

const DefaultWindowCapacity = 64

type hit struct {
	at     time.Time
	weight int
}

type subjectWindow struct {
	mu   sync.Mutex
	hits *Ring[hit]
}

// prune drops hits older than cutoff from the front. Callers hold mu.
func (w *subjectWindow) prune(cutoff time.Time) {
	for {
		front, ok := w.hits.Front()
		if !ok || !front.at.Before(cutoff) {
			return
		}
		w.hits.PopFront()
	}
}

// sum adds the weights of hits inside [cutoff, now]. Callers hold mu.
func (w *subjectWindow) sum(cutoff time.Time) (total, live int) {
	w.hits.Each(func(h hit) bool {
		if !h.at.Before(cutoff) {
			total += h.weight
			live++
		}
		return true
	})
	return total, live
}

// SlidingWindow counts weighted hits per subject over a trailing time span.
// Each subject keeps at most capacity hits; the oldest is overwritten first.
type SlidingWindow struct {
	capacity int
	subjects *Shards[subjectWindow]
}

func NewSlidingWindow(capacity int) *SlidingWindow {
	if capacity <= 0 {
		capacity = DefaultWindowCapacity
	}
	return &SlidingWindow{capacity: capacity, subjects: NewShards[subjectWindow](DefaultShardCount)}
}

func (w *SlidingWindow) newSubject() *subjectWindow {
	return &subjectWindow{hits: NewRing[hit](w.capacity)}
}

func (w *SlidingWindow) Record(key string, at time.Time, weight int) {
	w.subjects.With(key, w.newSubject, func(s *subjectWindow) {
		s.mu.Lock()
		s.hits.Push(hit{at: at, weight: weight})
		s.mu.Unlock()
	})
}

// Add records a hit and returns the subject's windowed total including it.
// Both steps happen under the subject lock.
func (w *SlidingWindow) Add(key string, at time.Time, weight int, span time.Duration) int {
	total := 0
	cutoff := at.Add(-span)
	w.subjects.With(key, w.newSubject, func(s *subjectWindow) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.prune(cutoff)
		s.hits.Push(hit{at: at, weight: weight})
		total, _ = s.sum(cutoff)
	})
	return total
}

func (w *SlidingWindow) Count(key string, span time.Duration, now time.Time) int {
	total := 0
	cutoff := now.Add(-span)
	w.subjects.With(key, nil, func(s *subjectWindow) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.prune(cutoff)
		total, _ = s.sum(cutoff)
	})
	return total
}

// DistinctSubjects returns how many subjects have at least one live hit.
func (w *SlidingWindow) DistinctSubjects(span time.Duration, now time.Time) int {
	return len(w.Subjects(span, now))
}

// Subjects returns the keys with at least one live hit.
func (w *SlidingWindow) Subjects(span time.Duration, now time.Time) []string {
	cutoff := now.Add(-span)
	var keys []string
	w.subjects.Range(func(key string, s *subjectWindow) bool {
		s.mu.Lock()
		_, live := s.sum(cutoff)
		s.mu.Unlock()
		if live > 0 {
			keys = append(keys, key)
		}
		return true
	})
	return keys
}

// Entries returns the number of live hits across all subjects.
func (w *SlidingWindow) Entries(span time.Duration, now time.Time) int {
	cutoff := now.Add(-span)
	total := 0
	w.subjects.Range(func(_ string, s *subjectWindow) bool {
		s.mu.Lock()
		_, live := s.sum(cutoff)
		s.mu.Unlock()
		total += live
		return true
	})
	return total
}

// Sweep physically drops expired hits and subjects left empty.
func (w *SlidingWindow) Sweep(span time.Duration, now time.Time) int {
	cutoff := now.Add(-span)
	return w.subjects.Prune(func(_ string, s *subjectWindow) bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.prune(cutoff)
		return s.hits.Len() == 0
	})
}

func (w *SlidingWindow) Len() int {
	return w.subjects.Len()
}

func (w *SlidingWindow) Reset() {
	w.subjects.Clear()
}
