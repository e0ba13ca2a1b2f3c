package script

import (
	"sync"

	"go.starlark.net/starlark"
)

// State is the host-owned cross-call store surfaced to scripts as the
// state_get/state_set builtins. Module globals are frozen after load, so
// this is the only way a handler can leave state for a later call or for a
// background task.
//
// Values are frozen on insertion, making them safe to read from any
// interpreter thread.
type State struct {
	mu     sync.RWMutex
	values map[string]starlark.Value
}

// NewState creates an empty state store
func NewState() *State {
	return &State{values: make(map[string]starlark.Value)}
}

// Set stores value under key, freezing it first.
func (s *State) Set(key string, value starlark.Value) {
	value.Freeze()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

// Get returns the value under key, or fallback when absent.
func (s *State) Get(key string, fallback starlark.Value) starlark.Value {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.values[key]; ok {
		return v
	}
	return fallback
}

// Len returns the number of stored keys
func (s *State) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}
