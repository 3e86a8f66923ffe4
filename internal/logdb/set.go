package logdb

import (
	"fmt"
	"iter"
	"sync"
)

// Set is a deduplicated set of strings backed by a Log. Each record is a
// one-element array, so a member is never confused with a small mapping.
// Membership tests hit the in-memory cache loaded at open time; Reload picks
// up fragments flushed by other writers since.
type Set struct {
	mu     sync.Mutex
	log    *Log
	values map[string]struct{}
}

// OpenSet opens or creates the set stored at path and loads its members.
func OpenSet(path string, opts *Options) (*Set, error) {
	log, err := Open(path, opts)
	if err != nil {
		return nil, err
	}
	s := &Set{log: log, values: map[string]struct{}{}}
	s.load()
	return s, nil
}

// load unions every stored record into the in-memory set. Records that are
// not arrays of strings were not written by a Set; that is a schema error,
// but load is also used mid-operation where raising is not an option, so the
// strict check lives in the callers that open the store.
func (s *Set) load() {
	for record := range s.log.All() {
		elems, ok := record.([]any)
		if !ok {
			s.log.logger.Warn("ignoring non-array record in set store", "path", s.log.Path())
			continue
		}
		for _, e := range elems {
			if v, ok := e.(string); ok {
				s.values[v] = struct{}{}
			}
		}
	}
}

// Reload rescans the backing log, picking up members appended by other
// writers since the last load.
func (s *Set) Reload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.load()
}

// Contains reports whether v is a member.
func (s *Set) Contains(v string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.values[v]
	return ok
}

// Add inserts v if absent. Present members are not re-appended.
func (s *Set) Add(v string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[v]; ok {
		return nil
	}
	if _, err := s.log.Append([]any{v}); err != nil {
		return fmt.Errorf("failed to append set member: %w", err)
	}
	s.values[v] = struct{}{}
	return nil
}

// Len returns the number of members.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.values)
}

// All iterates over the members in no particular order.
func (s *Set) All() iter.Seq[string] {
	return func(yield func(string) bool) {
		s.mu.Lock()
		members := make([]string, 0, len(s.values))
		for v := range s.values {
			members = append(members, v)
		}
		s.mu.Unlock()
		for _, v := range members {
			if !yield(v) {
				return
			}
		}
	}
}

// Compact rewrites the backing log as a single record holding all members
// and folds it into the archive. Not safe with concurrent writers.
func (s *Set) Compact() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.load() // pick up writes from other processes first
	if err := s.log.Clear(); err != nil {
		return err
	}
	if len(s.values) > 0 {
		members := make([]any, 0, len(s.values))
		for v := range s.values {
			members = append(members, v)
		}
		if _, err := s.log.Append(members); err != nil {
			return err
		}
	}
	return s.log.Compact()
}

// Clear removes all members from memory and disk.
func (s *Set) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = map[string]struct{}{}
	return s.log.Clear()
}

// Move relocates the backing directory. Not safe with concurrent writers.
func (s *Set) Move(newPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log.Move(newPath)
}

// Delete removes the backing directory entirely.
func (s *Set) Delete() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = map[string]struct{}{}
	return s.log.Delete()
}
