// Package perkey runs work serially per key while different keys proceed
// concurrently.
//
// The notification adapters use it to keep deliveries to one registration in
// stamp order without letting a slow callback hold up the writer or any other
// registration.
package perkey

import "sync"

// Option configures a Scheduler.
type Option func(*config)

type config struct {
	maxPending int
}

// WithMaxPending bounds the number of queued tasks per key. When the bound is
// reached Go drops the oldest queued task. Zero (the default) means unbounded.
func WithMaxPending(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxPending = n
		}
	}
}

// Scheduler runs tasks such that for any key K tasks execute one at a time in
// submission order. A key's drain goroutine exits once its queue is empty, so
// idle keys hold no resources.
type Scheduler[K comparable] struct {
	mu         sync.Mutex
	queues     map[K]*queue
	closed     bool
	wg         sync.WaitGroup // running drain goroutines
	maxPending int
	dropped    int
}

type queue struct {
	tasks []func()
}

// New creates a new Scheduler.
func New[K comparable](opts ...Option) *Scheduler[K] {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}
	return &Scheduler[K]{
		queues:     make(map[K]*queue),
		maxPending: cfg.maxPending,
	}
}

// Go enqueues fn for key and returns without waiting for it to run.
func (s *Scheduler[K]) Go(key K, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSchedulerClosed
	}

	q, ok := s.queues[key]
	if !ok {
		q = &queue{}
		s.queues[key] = q
		s.wg.Add(1)
		go s.drain(key, q)
	}
	if s.maxPending > 0 && len(q.tasks) >= s.maxPending {
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		s.dropped++
	}
	q.tasks = append(q.tasks, fn)
	return nil
}

// Dropped reports how many tasks were discarded due to WithMaxPending.
func (s *Scheduler[K]) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close stops accepting tasks and waits until all queued tasks ran.
// Calling Close from inside a task deadlocks.
func (s *Scheduler[K]) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Scheduler[K]) drain(key K, q *queue) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		if len(q.tasks) == 0 {
			delete(s.queues, key)
			s.mu.Unlock()
			return
		}
		fn := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		s.mu.Unlock()

		fn()
	}
}

// ErrSchedulerClosed is returned when work is submitted to a closed scheduler.
var ErrSchedulerClosed = &SchedulerError{"scheduler is closed"}

// SchedulerError is a simple error implementation.
type SchedulerError struct {
	msg string
}

func (e *SchedulerError) Error() string { return e.msg }
