package testutil

import "sync"

// Seq is a thread-safe monotonic counter for tests.
//
// It backs deterministic server id and state token allocation in
// MemorySource, so the same scenario produces byte-identical traces on
// every run.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type Seq struct {
	mu sync.Mutex
	n  int64
}

// NewSeq creates a new sequence starting at 0.
//
// The first call to Next() returns 1.
func NewSeq() *Seq {
	return &Seq{}
}

// Next increments and returns the next value.
func (s *Seq) Next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return s.n
}

// Current returns the current value without incrementing.
func (s *Seq) Current() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}

// Reset resets the sequence to 0.
//
// Used for test reuse. After Reset(), the next call to Next() returns 1.
func (s *Seq) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n = 0
}
