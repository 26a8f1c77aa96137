package status

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrInvalidApp      = errors.New("invalid application id")
	ErrDuplicate       = errors.New("already registered")
	ErrUnknownClass    = errors.New("unknown status class")
	ErrUnknownCode     = errors.New("unknown status code")
	ErrInvalidSeverity = errors.New("invalid severity")
	ErrExhausted       = errors.New("no free values left")
)

// Core status names, registered by every new Registry.
const (
	StatusOK      = "OK"
	StatusUnknown = "UNKNOWN"
)

// Decl declares one status code for Registry.Declare.
type Decl struct {
	Name     string
	Severity Severity
	Message  string
}

type entry struct {
	name    string
	message string
}

type seqKey struct {
	class Code
	sev   Severity
}

// Registry maps symbolic status names to packed codes and back. Registration
// is append-only: once a name has a value it keeps it for the lifetime of the
// registry.
type Registry struct {
	mu sync.RWMutex

	runID   string
	app     Code
	apps    map[string]Code
	classes map[string]Code
	next    map[Code]Code // next class value per application
	seqs    map[seqKey]Code
	names   map[string]Code
	codes   map[Code]entry
}

// NewRegistry creates a registry for the given application and registers the
// core class.
func NewRegistry(appName string, appID uint8) (*Registry, error) {
	r := &Registry{
		runID:   uuid.NewString(),
		apps:    make(map[string]Code),
		classes: make(map[string]Code),
		next:    make(map[Code]Code),
		seqs:    make(map[seqKey]Code),
		names:   make(map[string]Code),
		codes:   make(map[Code]entry),
	}
	if err := r.RegisterApp(appName, appID); err != nil {
		return nil, err
	}
	err := r.Declare("core",
		Decl{Name: StatusOK, Severity: OK, Message: "ok"},
		Decl{Name: StatusUnknown, Severity: Bug, Message: "unknown status %s"},
	)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// RunID identifies this registry instance (and so this process run) in logs.
func (r *Registry) RunID() string { return r.runID }

// RegisterApp registers an application id and makes it current: classes
// registered afterwards belong to it.
func (r *Registry) RegisterApp(name string, id uint8) error {
	if id == 0 || id == 0xff {
		return fmt.Errorf("%w: %d", ErrInvalidApp, id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	app := Code(id) << 24
	if existing, ok := r.apps[name]; ok && existing != app {
		return fmt.Errorf("application %q: %w", name, ErrDuplicate)
	}
	for n, v := range r.apps {
		if v == app && n != name {
			return fmt.Errorf("application id %d: %w by %q", id, ErrDuplicate, n)
		}
	}
	r.apps[name] = app
	r.app = app
	return nil
}

// RegisterClass allocates the next class id for the current application.
// Registering an existing class name returns its value.
func (r *Registry) RegisterClass(name string) (Code, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registerClass(name)
}

func (r *Registry) registerClass(name string) (Code, error) {
	if c, ok := r.classes[name]; ok {
		return c, nil
	}
	last := r.next[r.app]
	if last == classMask {
		return 0, fmt.Errorf("class %q: %w", name, ErrExhausted)
	}
	c := last + classStep
	r.next[r.app] = c
	r.classes[name] = r.app | c
	return r.app | c, nil
}

// RegisterCode allocates a code of the given severity within class.
func (r *Registry) RegisterCode(class Code, name string, sev Severity, message string) (Code, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registerCode(class, name, sev, message)
}

func (r *Registry) registerCode(class Code, name string, sev Severity, message string) (Code, error) {
	if !sev.Valid() {
		return 0, fmt.Errorf("%w for %q: %d", ErrInvalidSeverity, name, sev)
	}
	if !r.knownClass(class) {
		return 0, fmt.Errorf("%w: %s", ErrUnknownClass, class)
	}
	if _, ok := r.names[name]; ok {
		return 0, fmt.Errorf("status %q: %w", name, ErrDuplicate)
	}
	key := seqKey{class: class, sev: sev}
	seq := r.seqs[key]
	if seq == sequenceMask {
		return 0, fmt.Errorf("%s codes in class %s: %w", sev, class, ErrExhausted)
	}
	seq += sequenceStep
	r.seqs[key] = seq

	code := class | seq | Code(sev)
	r.names[name] = code
	r.codes[code] = entry{name: name, message: message}
	return code, nil
}

func (r *Registry) knownClass(class Code) bool {
	for _, c := range r.classes {
		if c == class {
			return true
		}
	}
	return false
}

// Declare registers a class (if needed) and all of its codes in one go.
func (r *Registry) Declare(class string, decls ...Decl) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, err := r.registerClass(class)
	if err != nil {
		return err
	}
	for _, d := range decls {
		if _, err := r.registerCode(c, d.Name, d.Severity, d.Message); err != nil {
			return err
		}
	}
	return nil
}

// Code returns the value registered for name.
func (r *Registry) Code(name string) (Code, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	code, ok := r.names[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownCode, name)
	}
	return code, nil
}

// Name returns the symbolic name of code, or "" when it was never registered.
func (r *Registry) Name(code Code) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.codes[code].name
}

// Class returns the class id registered under name.
func (r *Registry) Class(name string) (Code, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.classes[name]
	return c, ok
}

// SeverityOf returns the severity registered for name.
func (r *Registry) SeverityOf(name string) (Severity, error) {
	code, err := r.Code(name)
	if err != nil {
		return 0, err
	}
	return code.Severity(), nil
}

// Message renders the message template of code with args.
func (r *Registry) Message(code Code, args ...any) string {
	r.mu.RLock()
	e, ok := r.codes[code]
	r.mu.RUnlock()
	if !ok {
		return fmt.Sprintf("status %s", code)
	}
	if e.message == "" {
		return e.name
	}
	if len(args) == 0 {
		return e.message
	}
	return fmt.Sprintf(e.message, args...)
}
