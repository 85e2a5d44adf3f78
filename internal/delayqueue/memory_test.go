package delayqueue

import (
	"context"
	"sort"
	"sync"
	"time"
)

// memoryStore mirrors RedisStore semantics in process for unit tests.
type memoryStore struct {
	mu      sync.Mutex
	jobs    map[string]Job
	delayed map[string]time.Time
	active  map[string]time.Time
	failed  map[string]time.Time
	err     error
	// writeErr fails Complete, Retry and Fail only.
	writeErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		jobs:    make(map[string]Job),
		delayed: make(map[string]time.Time),
		active:  make(map[string]time.Time),
		failed:  make(map[string]time.Time),
	}
}

func (s *memoryStore) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *memoryStore) Add(_ context.Context, job Job) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	if _, ok := s.jobs[job.ID]; ok {
		return false, nil
	}
	s.jobs[job.ID] = job
	s.delayed[job.ID] = job.ReadyAt
	return true, nil
}

func (s *memoryStore) Claim(_ context.Context, now, leaseUntil time.Time, limit int) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}

	ids := make([]string, 0)
	for id, at := range s.delayed {
		if !at.After(now) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return s.delayed[ids[i]].Before(s.delayed[ids[j]]) })
	if len(ids) > limit {
		ids = ids[:limit]
	}

	out := make([]Job, 0, len(ids))
	for _, id := range ids {
		delete(s.delayed, id)
		job := s.jobs[id]
		job.Attempts++
		job.State = JobActive
		s.jobs[id] = job
		s.active[id] = leaseUntil
		out = append(out, job)
	}
	return out, nil
}

func (s *memoryStore) setWriteErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErr = err
}

func (s *memoryStore) Complete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	delete(s.active, id)
	delete(s.jobs, id)
	return nil
}

func (s *memoryStore) Retry(_ context.Context, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	job.State = JobDelayed
	delete(s.active, job.ID)
	s.jobs[job.ID] = job
	s.delayed[job.ID] = job.ReadyAt
	return nil
}

func (s *memoryStore) Fail(_ context.Context, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	job.State = JobFailed
	delete(s.active, job.ID)
	s.jobs[job.ID] = job
	s.failed[job.ID] = time.Now()
	return nil
}

func (s *memoryStore) Recover(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	n := 0
	for id, until := range s.active {
		if until.After(now) {
			continue
		}
		delete(s.active, id)
		job := s.jobs[id]
		job.State = JobDelayed
		s.jobs[id] = job
		s.delayed[id] = now
		n++
	}
	return n, nil
}

func (s *memoryStore) NextReadyAt(_ context.Context) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var next time.Time
	found := false
	for _, at := range s.delayed {
		if !found || at.Before(next) {
			next, found = at, true
		}
	}
	return next, found, nil
}

func (s *memoryStore) Get(_ context.Context, id string) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return job, nil
}

func (s *memoryStore) Stats(_ context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Delayed: int64(len(s.delayed)),
		Active:  int64(len(s.active)),
		Failed:  int64(len(s.failed)),
	}, nil
}
