package provider

import (
	"context"
	"fmt"
	"sync"
)

// ScriptedTurn configures one provider answer in a scripted sequence.
type ScriptedTurn struct {
	Response Response
	Err      error
}

// Scripted is a deterministic Provider for tests. It answers calls in
// order from its script and records every request it receives.
type Scripted struct {
	mu       sync.Mutex
	index    int
	turns    []ScriptedTurn
	requests []Request
}

// NewScripted creates a Scripted provider from the given turns.
func NewScripted(turns ...ScriptedTurn) *Scripted {
	cloned := make([]ScriptedTurn, len(turns))
	copy(cloned, turns)
	return &Scripted{turns: cloned}
}

var _ Provider = (*Scripted)(nil)

// Send returns the next scripted turn.
func (s *Scripted) Send(_ context.Context, req Request) (Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, req)
	if s.index >= len(s.turns) {
		return Response{}, fmt.Errorf("script exhausted at call %d", s.index+1)
	}
	current := s.turns[s.index]
	s.index++
	if current.Err != nil {
		return current.Response, current.Err
	}
	return current.Response, nil
}

// Requests returns a copy of every request seen so far.
func (s *Scripted) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// Calls returns how many times Send was invoked.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}
