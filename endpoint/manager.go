// Package endpoint implements the Endpoint Manager of spec §4.5: the
// serializer of reset/start/shutdown operations on a connection's fabric
// endpoints with respect to the poll thread and application threads.
//
// Per the §9 redesign note, endpoints are addressed by a stable EndpointID
// minted from an arena owned by the Manager, rather than by pointer --
// cross-component references carry ids, never raw back-pointers.
package endpoint

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"go.cdi.dev/core/notify"
)

// EndpointID stably identifies one endpoint within a connection's arena.
type EndpointID uint64

// Resettable is the contract an owner of fabric resources (probe.Endpoint,
// in production) implements so the Manager can serialize state-affecting
// operations on it without knowing anything about probe state or fabric
// wire protocol. Both methods are blocking and return once the underlying
// fabric operation has completed or failed.
type Resettable interface {
	// Reset soft-reinitializes the endpoint's fabric resources.
	Reset(ctx context.Context) error
	// Start begins the endpoint's fabric probe sequence after a successful
	// reset/negotiation.
	Start(ctx context.Context) error
}

type cmdKind int

const (
	cmdReset cmdKind = iota
	cmdStart
	cmdShutdown
)

type managerCmd struct {
	kind cmdKind
	id   EndpointID
	done chan error
}

// Manager serializes Reset/Start/Shutdown operations on a connection's
// endpoints with respect to its registered threads, per spec §4.5.
type Manager struct {
	log      *log.Entry
	notifier *notify.Notifier

	cmdCh chan managerCmd

	mu        sync.Mutex
	cond      *sync.Cond
	nextID    EndpointID
	endpoints map[EndpointID]Resettable
	threads   map[string]*threadState
	pending   bool
	release   chan struct{}

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

type threadState struct {
	parked bool
}

// New returns a Manager that delivers connection-state changes to notifier.
func New(notifier *notify.Notifier, logger *log.Entry) *Manager {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	var m = &Manager{
		log:        logger,
		notifier:   notifier,
		cmdCh:      make(chan managerCmd, 8),
		endpoints:  make(map[EndpointID]Resettable),
		threads:    make(map[string]*threadState),
		release:    make(chan struct{}),
		shutdownCh: make(chan struct{}),
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// RegisterEndpoint mints a stable EndpointID for r and adds it to the
// connection's arena, making it visible to EndpointIter.
func (m *Manager) RegisterEndpoint(r Resettable) EndpointID {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	var id = m.nextID
	m.endpoints[id] = r
	return id
}

// UnregisterEndpoint removes id from the arena (eg on application close).
func (m *Manager) UnregisterEndpoint(id EndpointID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.endpoints, id)
}

// EndpointIter returns a snapshot of all endpoint ids currently owned by
// the connection, for the poll thread to iterate (spec §4.5: endpoint_iter()).
func (m *Manager) EndpointIter() []EndpointID {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids = make([]EndpointID, 0, len(m.endpoints))
	for id := range m.endpoints {
		ids = append(ids, id)
	}
	return ids
}

// Lookup resolves id to its registered Resettable, per the arena model of
// spec §9 (ids, not pointers, cross component boundaries).
func (m *Manager) Lookup(id EndpointID) (Resettable, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var r, ok = m.endpoints[id]
	return r, ok
}

// QueueEndpointReset enqueues a reset of id, to be executed once all
// registered threads are parked. It blocks until the reset completes.
func (m *Manager) QueueEndpointReset(ctx context.Context, id EndpointID) error {
	return m.enqueue(ctx, managerCmd{kind: cmdReset, id: id})
}

// QueueEndpointStart enqueues a start of id. It blocks until the start
// completes.
func (m *Manager) QueueEndpointStart(ctx context.Context, id EndpointID) error {
	return m.enqueue(ctx, managerCmd{kind: cmdStart, id: id})
}

// ShutdownConnection stops the Manager's processing loop and releases all
// parked threads with a final nil release, rather than leaving them
// blocked indefinitely (spec §5: "No unbounded waits exist").
func (m *Manager) ShutdownConnection(ctx context.Context) error {
	return m.enqueue(ctx, managerCmd{kind: cmdShutdown})
}

func (m *Manager) enqueue(ctx context.Context, cmd managerCmd) error {
	cmd.done = make(chan error, 1)
	select {
	case m.cmdCh <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdownCh:
		return ErrShutdown
	}
	select {
	case err := <-cmd.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConnectionStateChange forwards a single-writer connection state change
// to the application via the Manager's notify.Notifier (spec §4.5).
func (m *Manager) ConnectionStateChange(id EndpointID, state notify.ConnectionState, message string) {
	m.log.WithFields(log.Fields{"endpoint": id, "state": state}).Debug("connection state change")
	m.notifier.Post(state, message)
}

// Run drains the Manager's command queue until ctx is cancelled. It is the
// "privileged thread" of spec §4.5: only it parks/releases registered
// threads and invokes Reset/Start against the arena.
func (m *Manager) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			m.releaseAll()
			return nil
		case cmd := <-m.cmdCh:
			if cmd.kind == cmdShutdown {
				m.shutdownOnce.Do(func() { close(m.shutdownCh) })
				m.releaseAll()
				cmd.done <- nil
				return nil
			}
			cmd.done <- m.execute(ctx, cmd)
		}
	}
}

func (m *Manager) execute(ctx context.Context, cmd managerCmd) error {
	m.beginPending()
	m.waitForAllParked(ctx)
	defer m.endPending()

	var r, ok = m.Lookup(cmd.id)
	if !ok {
		return ErrUnknownEndpoint
	}
	switch cmd.kind {
	case cmdReset:
		return r.Reset(ctx)
	case cmdStart:
		return r.Start(ctx)
	default:
		return nil
	}
}

func (m *Manager) beginPending() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = true
}

func (m *Manager) endPending() {
	m.mu.Lock()
	m.pending = false
	var old = m.release
	m.release = make(chan struct{})
	m.mu.Unlock()
	close(old)
}

func (m *Manager) releaseAll() {
	m.mu.Lock()
	m.pending = false
	var old = m.release
	m.release = make(chan struct{})
	m.mu.Unlock()
	close(old)
}

// waitForAllParked blocks until every currently registered thread has
// called Signal.Wait (is "parked"), or ctx is done. Per spec §4.5: "the
// manager processes the queued command only after all registered threads
// are parked." It's invoked only from the Manager's own single processing
// goroutine (Run), so a single in-flight cond.Wait loop here never races
// with another call to waitForAllParked.
func (m *Manager) waitForAllParked(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for !m.allParkedLocked() {
		if ctx.Err() != nil {
			return
		}
		m.cond.Wait()
	}
}

func (m *Manager) allParkedLocked() bool {
	for _, t := range m.threads {
		if !t.parked {
			return false
		}
	}
	return true
}
