// Package session owns the single scraping session (browser or HTTP) a
// worker uses and decides when it has to be rebuilt.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"platescraper/internal/assert"
	"platescraper/internal/components/telemetry"

	random "github.com/mazen160/go-random"
)

const (
	report_manager_construct = "manager.construct"
	report_manager_teardown  = "manager.teardown"
)

// ErrConstruction wraps every failure to build a session.
var ErrConstruction = errors.New("session construction failed")

// Session is an opaque handle to a browser or HTTP session. Only the
// Manager that created it may close it.
type Session interface {
	// Tag identifies the session in logs.
	Tag() string
	Close() error
}

// Factory builds a ready session. tag is the identifier the session should
// report from Tag.
//
// note: fault injection point
type Factory interface {
	NewSession(ctx context.Context, tag string) (Session, error)
}

type FactoryFunc func(ctx context.Context, tag string) (Session, error)

func (f FactoryFunc) NewSession(ctx context.Context, tag string) (Session, error) {
	return f(ctx, tag)
}

type State int

const (
	StateUninitialized State = iota
	StateReady
	StateStale
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateStale:
		return "stale"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Manager struct {
	factory Factory
	tel     telemetry.API

	mutex       sync.Mutex
	current     Session
	state       State
	constructed int
}

func NewManager(factory Factory, tel telemetry.API) *Manager {
	assert.NotNil(factory)
	assert.NotNil(tel)
	return &Manager{
		factory: factory,
		tel:     telemetry.NewScopedAPI("session", tel),
	}
}

func newTag() string {
	tag, err := random.String(8)
	if err != nil {
		return "session"
	}
	return tag
}

// EnsureReady returns the current session when it is ready, otherwise it
// tears down whatever is left and builds exactly one new session. fresh
// reports whether the returned session was just built.
func (m *Manager) EnsureReady(ctx context.Context) (s Session, fresh bool, err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.state == StateReady && m.current != nil {
		return m.current, false, nil
	}
	m.teardown()

	tag := newTag()
	created, err := m.factory.NewSession(ctx, tag)
	if err != nil {
		m.tel.ReportWarning(report_manager_construct, err, tag)
		return nil, false, fmt.Errorf("%w: %w", ErrConstruction, err)
	}
	if created == nil {
		return nil, false, fmt.Errorf("%w: factory returned no session", ErrConstruction)
	}
	m.constructed++
	m.current = created
	m.state = StateReady
	m.tel.ReportDebug("session ready", "tag", created.Tag())
	return created, true, nil
}

// Invalidate marks the current session stale and tears it down. Calling it
// without a session, or twice, does nothing.
func (m *Manager) Invalidate() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.current == nil {
		return
	}
	m.teardown()
	m.state = StateStale
}

// Shutdown tears the session down and goes back to uninitialized.
func (m *Manager) Shutdown() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.teardown()
	m.state = StateUninitialized
}

func (m *Manager) State() State {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.state
}

// Constructed is the number of sessions successfully built so far.
func (m *Manager) Constructed() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.constructed
}

// teardown must be called with the mutex held.
func (m *Manager) teardown() {
	if m.current == nil {
		return
	}
	err := m.current.Close()
	if err != nil {
		m.tel.ReportWarning(report_manager_teardown, err, m.current.Tag())
	}
	m.current = nil
}
