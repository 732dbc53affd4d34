package candidate

import (
	"fmt"
	"slices"
	"sync"
)

// Lineage is a read-only view of one lineage.
type Lineage struct {
	ID      LineageID
	Origin  ID // candidate this lineage was mutated from; empty for seeds
	Head    ID
	Members []ID
	Status  Status
}

type lineageRecord struct {
	origin  ID
	members []ID
	status  Status
}

// Store is the candidate arena.
//
// Candidates are keyed by ID and link to their parent by ID, so chains are
// walked by lookups rather than pointers. Each candidate may receive exactly
// one validation result.
//
// Thread-safety: Store is safe for concurrent use. In practice the engine's
// result loop is the only writer and validation workers only read.
type Store struct {
	mu         sync.RWMutex
	candidates map[ID]*Candidate
	results    map[ID]*Result
	lineages   map[LineageID]*lineageRecord
	order      []LineageID
}

// NewStore creates an empty arena.
func NewStore() *Store {
	return &Store{
		candidates: make(map[ID]*Candidate),
		results:    make(map[ID]*Result),
		lineages:   make(map[LineageID]*lineageRecord),
	}
}

// Add stores a candidate and returns the stored copy.
//
// Initial and mutated candidates open a new lineage in status Generated.
// A repaired candidate must name the current head of an existing lineage as
// its parent and becomes the new head. Add never changes lineage status.
func (s *Store) Add(c Candidate) (*Candidate, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if c.Fingerprint == "" {
		c.Fingerprint = Fingerprint(c.Source)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.candidates[c.ID]; exists {
		return nil, fmt.Errorf("candidate %s already stored", c.ID)
	}
	if c.Parent != "" {
		if _, ok := s.candidates[c.Parent]; !ok {
			return nil, fmt.Errorf("candidate %s: unknown parent %s", c.ID, c.Parent)
		}
	}

	rec, exists := s.lineages[c.Lineage]
	switch c.Kind {
	case KindRepaired:
		if !exists {
			return nil, fmt.Errorf("candidate %s: unknown lineage %s", c.ID, c.Lineage)
		}
		if head := rec.members[len(rec.members)-1]; head != c.Parent {
			return nil, fmt.Errorf("candidate %s: parent %s is not lineage head %s", c.ID, c.Parent, head)
		}
		rec.members = append(rec.members, c.ID)
	default:
		if exists {
			return nil, fmt.Errorf("candidate %s: lineage %s already exists", c.ID, c.Lineage)
		}
		s.lineages[c.Lineage] = &lineageRecord{
			origin:  c.Parent,
			members: []ID{c.ID},
			status:  StatusGenerated,
		}
		s.order = append(s.order, c.Lineage)
	}

	stored := c.clone()
	s.candidates[c.ID] = stored
	return stored.clone(), nil
}

// Get returns a copy of the candidate with the given id.
func (s *Store) Get(id ID) (*Candidate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.candidates[id]
	if !ok {
		return nil, false
	}
	return c.clone(), true
}

// Attach records the validation result for a candidate.
// A second attach for the same candidate is an error.
func (s *Store) Attach(id ID, r *Result) error {
	if r == nil {
		return fmt.Errorf("candidate %s: nil result", id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.candidates[id]; !ok {
		return fmt.Errorf("candidate %s not found", id)
	}
	if _, done := s.results[id]; done {
		return fmt.Errorf("candidate %s already has a result", id)
	}
	s.results[id] = r
	return nil
}

// Result returns the attached result, if any.
func (s *Store) Result(id ID) (*Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.results[id]
	return r, ok
}

// Lineage returns a snapshot of a lineage.
func (s *Store) Lineage(id LineageID) (Lineage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.lineages[id]
	if !ok {
		return Lineage{}, false
	}
	return Lineage{
		ID:      id,
		Origin:  rec.origin,
		Head:    rec.members[len(rec.members)-1],
		Members: slices.Clone(rec.members),
		Status:  rec.status,
	}, true
}

// Lineages returns lineage ids in creation order.
func (s *Store) Lineages() []LineageID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.order)
}

// Transition moves a lineage from one status to another.
//
// The current status must equal from and the pair must be legal per
// CanTransition; otherwise a *TransitionError is returned and nothing changes.
func (s *Store) Transition(id LineageID, from, to Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.lineages[id]
	if !ok {
		return fmt.Errorf("lineage %s not found", id)
	}
	if rec.status != from || !CanTransition(from, to) {
		return &TransitionError{Lineage: id, From: rec.status, To: to}
	}
	rec.status = to
	return nil
}

// Chain returns the candidates from id back to its root, newest first.
func (s *Store) Chain(id ID) []*Candidate {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var chain []*Candidate
	for cur := id; cur != ""; {
		c, ok := s.candidates[cur]
		if !ok {
			break
		}
		chain = append(chain, c.clone())
		if c.Kind != KindRepaired {
			break
		}
		cur = c.Parent
	}
	return chain
}

// Len returns the number of stored candidates.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.candidates)
}
