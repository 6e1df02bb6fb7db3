package store

import "sync"

// Scheduler is an explicit task queue replacing run-loop batching.
//
// Tasks are keyed: scheduling a key that is already pending is a no-op, so
// repeated CommitChanges calls within one tick coalesce into a single
// outgoing batch. Flush drains the queue in FIFO order; tasks scheduled
// while flushing run in the same flush, which lets a commit acknowledgement
// schedule the follow-up commit for edits that accumulated in flight.
//
// The model is single-threaded and cooperative. The mutex only guards
// against accidental cross-goroutine scheduling; Flush must be called from
// one goroutine.
type Scheduler struct {
	mu    sync.Mutex
	order []string
	tasks map[string]func()
}

// NewScheduler creates an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{tasks: make(map[string]func())}
}

// Schedule enqueues fn under key. If the key is already pending the call
// is a no-op and the original task keeps its queue position.
func (s *Scheduler) Schedule(key string, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, pending := s.tasks[key]; pending {
		return
	}
	s.tasks[key] = fn
	s.order = append(s.order, key)
}

// Scheduled reports whether a task is pending under key.
func (s *Scheduler) Scheduled(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, pending := s.tasks[key]
	return pending
}

// Len returns the number of pending tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Flush runs pending tasks in FIFO order until the queue is empty,
// including tasks scheduled by the tasks themselves.
func (s *Scheduler) Flush() {
	for {
		s.mu.Lock()
		if len(s.order) == 0 {
			s.mu.Unlock()
			return
		}
		key := s.order[0]
		s.order = s.order[1:]
		fn := s.tasks[key]
		delete(s.tasks, key)
		s.mu.Unlock()

		if fn != nil {
			fn()
		}
	}
}
