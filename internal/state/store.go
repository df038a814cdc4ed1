package state

import "sync"

// Store serializes reductions over one state value and notifies subscribers
// after each change.
type Store[T any] struct {
	mu     sync.Mutex
	value  T
	reduce func(T, func(T) T) T
	subs   []func(prev, next T)
}

func NewStore[T any](initial T, reduce func(T, func(T) T) T) *Store[T] {
	if reduce == nil {
		reduce = func(s T, u func(T) T) T { return u(s) }
	}
	return &Store[T]{value: initial, reduce: reduce}
}

func (s *Store[T]) Get() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// Dispatch applies update and returns the new value. Subscribers run outside
// the lock in registration order.
func (s *Store[T]) Dispatch(update func(T) T) T {
	s.mu.Lock()
	prev := s.value
	next := s.reduce(prev, update)
	s.value = next
	subs := make([]func(prev, next T), len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	for _, fn := range subs {
		fn(prev, next)
	}
	return next
}

func (s *Store[T]) Subscribe(fn func(prev, next T)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

// NewSettingsStore keeps the max tokens clamp on every dispatch.
func NewSettingsStore(initial SettingsState) *Store[SettingsState] {
	return NewStore(ReduceSettings(initial), func(s SettingsState, u func(SettingsState) SettingsState) SettingsState {
		return ReduceSettings(s, u)
	})
}

func NewRunStore(initial RunState) *Store[RunState] {
	return NewStore(initial, func(s RunState, u func(RunState) RunState) RunState {
		return ReduceRun(s, u)
	})
}
