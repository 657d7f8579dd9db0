package api

import "sync"

// RunStore keeps completed runs in memory until deleted.
type RunStore struct {
	mu   sync.Mutex
	runs map[string]RunResponse
}

func NewRunStore() *RunStore {
	return &RunStore{
		runs: make(map[string]RunResponse),
	}
}

func (s *RunStore) Save(run RunResponse) {
	s.mu.Lock()
	s.runs[run.ID] = run
	s.mu.Unlock()
}

func (s *RunStore) Get(id string) (RunResponse, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	return run, ok
}

func (s *RunStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[id]; !ok {
		return false
	}
	delete(s.runs, id)
	return true
}

func (s *RunStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runs)
}
