package probe

import (
	"context"
	"errors"
	"sync"
)

// Cancellation causes reported by context.Cause on a probe context.
var (
	ErrSuperseded = errors.New("probe superseded by a newer probe")
	ErrCanceled   = errors.New("probe canceled")
	ErrFinished   = errors.New("probe finished")
)

// Token identifies one Start call.
type Token struct {
	id  string
	seq uint64
}

// ID returns the probe id the token was issued for.
func (t Token) ID() string {
	return t.id
}

type slot struct {
	seq    uint64
	cancel context.CancelCauseFunc
}

// Scheduler tracks the running probe per id.
//
// Thread-safety: all methods are safe for concurrent use.
type Scheduler struct {
	mu         sync.Mutex
	seq        uint64
	slots      map[string]slot
	superseded map[uint64]struct{}
}

// NewScheduler creates an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{
		slots:      make(map[string]slot),
		superseded: make(map[uint64]struct{}),
	}
}

// Start registers a probe for id and returns its context. A probe already
// running for id is canceled with ErrSuperseded.
func (s *Scheduler) Start(parent context.Context, id string) (context.Context, Token) {
	ctx, cancel := context.WithCancelCause(parent)

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.slots[id]; ok {
		prev.cancel(ErrSuperseded)
		s.superseded[prev.seq] = struct{}{}
	}
	s.seq++
	s.slots[id] = slot{seq: s.seq, cancel: cancel}
	return ctx, Token{id: id, seq: s.seq}
}

// Cancel cancels the running probe for id. Returns false when none runs.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.slots[id]
	if !ok {
		return false
	}
	cur.cancel(ErrCanceled)
	delete(s.slots, id)
	return true
}

// Finish ends the probe identified by tok and releases its context. It
// clears the slot only if tok still owns it, so a superseded probe
// finishing late never clears its successor. It returns false when tok was
// superseded by a later Start for the same id; the caller then no longer
// owns whatever the successor is using.
func (s *Scheduler) Finish(tok Token) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.superseded[tok.seq]; ok {
		delete(s.superseded, tok.seq)
		return false
	}
	cur, ok := s.slots[tok.id]
	if !ok || cur.seq != tok.seq {
		return true
	}
	cur.cancel(ErrFinished)
	delete(s.slots, tok.id)
	return true
}

// Running reports whether a probe is registered for id.
func (s *Scheduler) Running(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.slots[id]
	return ok
}

// Len returns the number of running probes.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}
