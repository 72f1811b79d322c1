package persistence

import (
	"sync"
	"time"

	"github.com/sunnymar/codepod/internal/vfs"
	"github.com/sunnymar/codepod/internal/vfs/codec"
)

// Mode selects one of spec.md §4.10's three persistence behaviors.
type Mode int

const (
	// Ephemeral: save/load always error. The default.
	Ephemeral Mode = iota
	// Session: manual SaveState/LoadState/ClearPersistedState only.
	Session
	// Persistent: state is loaded on Manager creation if present, and
	// autosaved (debounced) on every VFS change thereafter.
	Persistent
)

// ErrEphemeral is returned by Save/Load/Clear in Ephemeral mode.
var ErrEphemeral = errEphemeral{}

type errEphemeral struct{}

func (errEphemeral) Error() string { return "persistence: save/load not available in ephemeral mode" }

// Manager binds one VFS instance to a Backend under a fixed namespace and
// mode, per spec.md §4.10.
type Manager struct {
	mode      Mode
	namespace string
	backend   Backend
	v         *vfs.VFS
	mountPts  []string

	debounce time.Duration
	mu       sync.Mutex
	timer    *time.Timer
	envFn    func() map[string]string
}

// Options configures a Manager.
type Options struct {
	Mode        Mode
	Namespace   string
	Backend     Backend
	VFS         *vfs.VFS
	MountPoints []string
	// Debounce is how long Persistent mode waits after the last VFS
	// change before flushing a save. spec.md §4.10 leaves the exact
	// value to the embedder ("configurable ms").
	Debounce time.Duration
	// EnvFn returns the current guest environment to include in the
	// exported blob; env mutations are pushed back to the facade at
	// process exit per spec.md §5's ordering guarantees, so this is
	// called fresh on every save, not captured once.
	EnvFn func() map[string]string
}

// New constructs a Manager. In Persistent mode, it attempts to load an
// existing blob for the namespace immediately, and registers a VFS change
// listener that debounces autosave. The VFS's OnChange slot is single-
// occupancy (spec.md §3); a Manager in Persistent mode claims it.
func New(opts Options) (*Manager, error) {
	m := &Manager{
		mode:      opts.Mode,
		namespace: SanitizeNamespace(opts.Namespace),
		backend:   opts.Backend,
		v:         opts.VFS,
		mountPts:  opts.MountPoints,
		debounce:  opts.Debounce,
		envFn:     opts.EnvFn,
	}
	if m.debounce <= 0 {
		m.debounce = 500 * time.Millisecond
	}
	if m.mode == Persistent {
		if err := m.LoadState(); err != nil && err != ErrNoSavedState {
			return nil, err
		}
		m.v.OnChange(func(op, path string) {
			m.scheduleAutosave()
		})
	}
	return m, nil
}

// ErrNoSavedState is returned by LoadState when the namespace has no
// saved blob yet; this is not itself an error worth failing Manager
// construction over.
var ErrNoSavedState = errNoSavedState{}

type errNoSavedState struct{}

func (errNoSavedState) Error() string { return "persistence: no saved state for namespace" }

// SaveState exports v's current tree+env and writes it to the backend.
// Valid in Session and Persistent modes; Ephemeral always errors.
func (m *Manager) SaveState() error {
	if m.mode == Ephemeral {
		return ErrEphemeral
	}
	var env map[string]string
	if m.envFn != nil {
		env = m.envFn()
	}
	blob, err := codec.Encode(m.v, m.mountPts, env)
	if err != nil {
		return err
	}
	return m.backend.Save(m.namespace, blob)
}

// LoadState imports the namespace's saved blob into v, if one exists.
func (m *Manager) LoadState() error {
	if m.mode == Ephemeral {
		return ErrEphemeral
	}
	blob, ok, err := m.backend.Load(m.namespace)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoSavedState
	}
	decoded, err := codec.Decode(blob)
	if err != nil {
		return err
	}
	return m.v.WithWriteAccess(func() error {
		return codec.Apply(m.v, decoded)
	})
}

// ClearPersistedState deletes the namespace's saved blob.
func (m *Manager) ClearPersistedState() error {
	if m.mode == Ephemeral {
		return ErrEphemeral
	}
	return m.backend.Clear(m.namespace)
}

// scheduleAutosave (re)starts the debounce timer; only the trailing edge
// after a quiet period actually saves (leading-edge changes keep
// resetting the same timer).
func (m *Manager) scheduleAutosave() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(m.debounce, func() {
		_ = m.SaveState()
	})
}

// Dispose flushes any pending autosave synchronously before shutdown, per
// spec.md §4.10's "dispose flushes".
func (m *Manager) Dispose() error {
	m.mu.Lock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.mu.Unlock()
	if m.mode != Persistent {
		return nil
	}
	return m.SaveState()
}
