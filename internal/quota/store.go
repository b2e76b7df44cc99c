package quota

import "sync"

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed bool
	Current int
	Limit   int
}

// Store tracks the number of in-flight generation jobs per client. The map is
// process-local: horizontally scaled deployments would each hold their own
// view, so a shared atomic counter should be swapped in behind this interface
// before scaling out.
type Store interface {
	// Check is a pure read; it never mutates state.
	Check(clientID string) Decision
	// Admit performs check-then-increment as one step so concurrent
	// submissions cannot both slip under the ceiling.
	Admit(clientID string) Decision
	Increment(clientID string)
	Decrement(clientID string)
	Clear()
}

// MemoryStore is the in-process Store implementation. Buckets are created
// lazily on first submission and never individually deleted; the janitor
// clears the whole map on a fixed interval instead.
type MemoryStore struct {
	mu     sync.Mutex
	limit  int
	active map[string]int
}

func NewMemoryStore(limit int) *MemoryStore {
	if limit <= 0 {
		limit = 1
	}
	return &MemoryStore{limit: limit, active: make(map[string]int)}
}

func (s *MemoryStore) Check(clientID string) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.active[clientID]
	return Decision{Allowed: current < s.limit, Current: current, Limit: s.limit}
}

func (s *MemoryStore) Admit(clientID string) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.active[clientID]
	if current >= s.limit {
		return Decision{Allowed: false, Current: current, Limit: s.limit}
	}
	s.active[clientID] = current + 1
	return Decision{Allowed: true, Current: current, Limit: s.limit}
}

func (s *MemoryStore) Increment(clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[clientID]++
}

// Decrement floors at zero: a duplicate terminal observation must not drive
// the counter negative.
func (s *MemoryStore) Decrement(clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active[clientID] > 0 {
		s.active[clientID]--
	}
}

func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = make(map[string]int)
}

var _ Store = (*MemoryStore)(nil)
