package query

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/tordrt/dbkit/internal/driver"
	"github.com/tordrt/dbkit/internal/status"
)

// DriverLookup returns the driver registered for an engine name.
type DriverLookup func(engine string) (driver.Driver, error)

// Option changes the parameters of a clone.
type Option func(*Params)

func WithPrefix(prefix string) Option { return func(p *Params) { p.Prefix = prefix } }
func WithServer(server string) Option { return func(p *Params) { p.Server = server } }
func WithName(name string) Option     { return func(p *Params) { p.Name = name } }
func WithUser(user string) Option     { return func(p *Params) { p.User = user } }
func WithEngine(engine string) Option { return func(p *Params) { p.Engine = engine } }

func WithPassword(password string) Option {
	return func(p *Params) { p.Password = password }
}

// Manager owns the canonical handle and the clones made from it. A clone has
// its own connection, so it can be handed to another goroutine.
type Manager struct {
	reg    *status.Registry
	lookup DriverLookup
	log    logrus.FieldLogger
	st     *status.Tracker
	main   *Handle

	mu     sync.Mutex
	clones map[string]*Handle
}

// NewManager creates the canonical handle for p.
func NewManager(reg *status.Registry, lookup DriverLookup, p Params, log logrus.FieldLogger) (*Manager, error) {
	if err := RegisterCodes(reg); err != nil {
		return nil, fmt.Errorf("failed to register handle statuses: %w", err)
	}
	drv, err := lookup(p.Engine)
	if err != nil {
		return nil, err
	}
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		log = l
	}
	return &Manager{
		reg:    reg,
		lookup: lookup,
		log:    log,
		st:     status.NewTracker(reg, log.WithField("component", "manager")),
		main:   newHandle(reg, drv, p, log, false),
		clones: make(map[string]*Handle),
	}, nil
}

// Handle returns the canonical handle.
func (m *Manager) Handle() *Handle { return m.main }

// Registry returns the status registry handles report to.
func (m *Manager) Registry() *status.Registry { return m.reg }

// Clone creates a new handle with the parameters of h, changed by opts.
// Clones cannot be cloned themselves.
func (m *Manager) Clone(h *Handle, opts ...Option) (*Handle, error) {
	if h.IsClone() {
		return nil, m.st.Set(CloneOfClone, h.ID())
	}
	p := h.Params()
	for _, opt := range opts {
		opt(&p)
	}
	drv := h.drv
	if p.Engine != h.params.Engine {
		var err error
		if drv, err = m.lookup(p.Engine); err != nil {
			return nil, m.st.Fail(ConnectErr, err, p.Name, p.Server, p.User)
		}
	}
	c := newHandle(m.reg, drv, p, m.log, true)

	m.mu.Lock()
	m.clones[c.ID()] = c
	m.mu.Unlock()
	m.log.WithFields(logrus.Fields{"handle": c.ID(), "source": h.ID()}).Debug("handle cloned")
	return c, nil
}

// Release closes a clone and forgets it.
func (m *Manager) Release(ctx context.Context, h *Handle) error {
	m.mu.Lock()
	_, ok := m.clones[h.ID()]
	delete(m.clones, h.ID())
	m.mu.Unlock()
	if !ok {
		return m.st.Set(NotAClone, h.ID())
	}
	return h.Close(ctx)
}

// Clones returns the number of clones not yet released.
func (m *Manager) Clones() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clones)
}

// Close closes all clones and the canonical handle.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	clones := m.clones
	m.clones = make(map[string]*Handle)
	m.mu.Unlock()

	var errs []error
	for _, c := range clones {
		errs = append(errs, c.Close(ctx))
	}
	errs = append(errs, m.main.Close(ctx))
	return errors.Join(errs...)
}

// Status returns the name of the manager's current status.
func (m *Manager) Status() string { return m.st.Name() }
