package vectorstore

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// Manager wraps a primary backend (the sidecar, when configured) and the
// always-available embedded backend, transparently falling back to the
// latter when the former is not ready (spec §4.2's "readiness and
// fallback"). Manager itself implements Store.
type Manager struct {
	primary  Store // nil if no sidecar configured
	embedded Store
	log      *slog.Logger
	fellBack atomic.Bool
}

// NewManager returns a Manager. primary may be nil when no sidecar is
// configured, in which case the embedded backend is used directly.
func NewManager(primary Store, embedded Store, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{primary: primary, embedded: embedded, log: log}
}

// active returns whichever backend should currently serve requests,
// logging once per transition into fallback.
func (m *Manager) active() Store {
	if m.primary != nil && m.primary.IsReady() {
		if m.fellBack.CompareAndSwap(true, false) {
			m.log.Info("vectorstore: recovered to primary backend", "backend", m.primary.Backend())
		}
		return m.primary
	}
	if m.primary != nil && m.fellBack.CompareAndSwap(false, true) {
		m.log.Warn("vectorstore: primary backend unavailable, falling back to embedded",
			"backend", m.primary.Backend())
	}
	return m.embedded
}

func (m *Manager) Backend() string { return m.active().Backend() }
func (m *Manager) IsReady() bool   { return m.active().IsReady() }

func (m *Manager) Upsert(ctx context.Context, id string, vector []float32, payload Payload) error {
	return m.active().Upsert(ctx, id, vector, payload)
}

func (m *Manager) Search(ctx context.Context, vector []float32, k int, filter Filter) ([]Result, error) {
	return m.active().Search(ctx, vector, k, filter)
}

func (m *Manager) Delete(ctx context.Context, id string) error {
	return m.active().Delete(ctx, id)
}

func (m *Manager) Count(ctx context.Context) (int, error) {
	return m.active().Count(ctx)
}

// Close closes both backends, returning the primary's error if both fail.
func (m *Manager) Close() error {
	var primaryErr error
	if m.primary != nil {
		primaryErr = m.primary.Close()
	}
	if err := m.embedded.Close(); err != nil && primaryErr == nil {
		return err
	}
	return primaryErr
}
