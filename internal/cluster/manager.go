package cluster

import (
	"context"
	"fmt"

	"github.com/cyburs/redisson/internal/logger"
)

// Manager is the package's public entry point: it owns the bootstrap
// result and the background reconciler, and exposes the read-only lookup
// surface command dispatch needs (spec §6).
type Manager struct {
	cfg         Config
	registry    *Registry
	reconciler  *Reconciler
	cancelTicks context.CancelFunc
}

// New bootstraps a cluster topology from cfg's seed list. The background
// reconciler is not running until Start is called. The returned Manager is
// ready for GetEntry calls as soon as New returns; bootstrap is synchronous
// so the caller never observes a Manager with an empty routing table.
func New(ctx context.Context, cfg Config) (*Manager, error) {
	registry, err := Bootstrap(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("cluster: manager startup: %w", err)
	}

	m := &Manager{
		cfg:        cfg,
		registry:   registry,
		reconciler: newReconciler(cfg, registry),
	}
	return m, nil
}

// Start launches the background reconciliation loop. Ticks run at a fixed
// delay of cfg.ScanIntervalMillis until ctx is canceled or Shutdown is
// called, whichever comes first.
func (m *Manager) Start(ctx context.Context) {
	tickCtx, cancel := context.WithCancel(ctx)
	m.cancelTicks = cancel
	m.reconciler.Start(tickCtx)
	logger.Info("cluster: reconciler started, scan interval %s", m.cfg.scanInterval())
}

// Shutdown stops the reconciler and tears down every entry and cached
// probe connection. It blocks until the reconciler's goroutine has
// observed the stop signal.
func (m *Manager) Shutdown() {
	if m.cancelTicks != nil {
		m.cancelTicks()
	}
	m.reconciler.Stop()
	m.registry.Close()
	logger.Info("cluster: manager shut down")
}

// CalcSlot hashes key to its owning slot, per the hash-tag-aware CRC16
// policy (spec §4.3).
func (m *Manager) CalcSlot(key string) int {
	return CalculateSlot(key)
}

// GetEntry returns the entry serving key's slot, if the slot is currently
// assigned to a known master.
func (m *Manager) GetEntry(key string) (*Entry, bool) {
	return m.registry.GetEntryBySlot(m.CalcSlot(key))
}

// GetEntryBySlot returns the entry serving slot directly.
func (m *Manager) GetEntryBySlot(slot int) (*Entry, bool) {
	return m.registry.GetEntryBySlot(slot)
}

// DumpTopology renders the current topology as YAML, for operational
// inspection (SPEC_FULL.md §12).
func (m *Manager) DumpTopology() ([]byte, error) {
	return m.registry.DumpTopology()
}
