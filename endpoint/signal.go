package endpoint

import (
	"context"

	"github.com/pkg/errors"
)

var (
	// ErrShutdown is returned by Manager operations attempted after
	// ShutdownConnection has been processed.
	ErrShutdown = errors.New("endpoint manager: connection shut down")
	// ErrUnknownEndpoint is returned when a queued command names an
	// EndpointID no longer (or never) present in the arena, and by
	// Signal.Wait when the calling thread is no longer registered.
	ErrUnknownEndpoint = errors.New("endpoint manager: unknown endpoint id")
	// ErrAlreadyRegistered is returned by RegisterThread when name is
	// already registered.
	ErrAlreadyRegistered = errors.New("endpoint manager: thread already registered")
)

// Signal is the per-thread handle returned by Manager.RegisterThread. A
// registered thread calls Wait at safe points in its own loop; per spec
// §4.5 the invariant is that the notification signal is set only while a
// state change is pending, and a thread observing it set must call
// thread_wait() promptly -- IsPending lets a thread check without parking,
// and Wait performs the actual park/release rendezvous (thread_wait()).
type Signal struct {
	mgr  *Manager
	name string
}

// RegisterThread registers a new participant thread (an application
// thread, by convention) with the Manager, returning its Signal. name must
// be unique among currently registered threads.
func (m *Manager) RegisterThread(name string) (*Signal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.threads[name]; ok {
		return nil, ErrAlreadyRegistered
	}
	m.threads[name] = &threadState{}
	return &Signal{mgr: m, name: name}, nil
}

// UnregisterThread removes name from the set the Manager waits on before
// processing a queued command.
func (m *Manager) UnregisterThread(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.threads, name)
	m.cond.Broadcast() // a pending wait may now be satisfiable.
}

// IsPending reports whether the Manager currently has a state change
// queued, without parking the calling thread.
func (s *Signal) IsPending() bool {
	s.mgr.mu.Lock()
	defer s.mgr.mu.Unlock()
	return s.mgr.pending
}

// Wait parks the calling thread (thread_wait()) until the Manager's
// currently pending operation completes, or ctx is done. It returns nil at
// once if no operation is pending -- callers loop on Wait from their own
// idle points, exactly as registered application threads do against the
// source's notification signal.
func (s *Signal) Wait(ctx context.Context) error {
	s.mgr.mu.Lock()
	var t, ok = s.mgr.threads[s.name]
	if !ok {
		s.mgr.mu.Unlock()
		return ErrUnknownEndpoint
	}
	if !s.mgr.pending {
		s.mgr.mu.Unlock()
		return nil
	}
	t.parked = true
	var release = s.mgr.release
	s.mgr.mu.Unlock()
	s.mgr.cond.Broadcast()

	defer func() {
		s.mgr.mu.Lock()
		t.parked = false
		s.mgr.mu.Unlock()
	}()

	select {
	case <-release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
