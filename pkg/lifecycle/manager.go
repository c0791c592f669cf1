package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethpandaops/perception/pkg/metrics"
	"github.com/ethpandaops/perception/pkg/model"
	"github.com/ethpandaops/perception/pkg/timing"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// ErrUnknownInstance is returned for handles the manager does not hold.
var ErrUnknownInstance = errors.New("unknown lifecycle instance")

// Manager is the registry of active instances, one per test execution.
type Manager interface {
	StartLifecycle(ctx context.Context, test model.Test, clientID *string, mode timing.Mode) (*Instance, error)
	Get(id string) (*Instance, error)
	Toggle(ctx context.Context, id string) (Snapshot, error)
	Reset(ctx context.Context, id string) (Snapshot, error)
	Close(ctx context.Context, id string) error
	List() []Snapshot
	Reap(ctx context.Context, cutoff time.Time) int
	CloseAll(ctx context.Context)
}

type manager struct {
	log     logrus.FieldLogger
	adapter Adapter

	mu        sync.RWMutex
	instances map[string]*Instance
}

var _ Manager = (*manager)(nil)

// NewManager creates a manager executing effects through adapter.
func NewManager(log logrus.FieldLogger, adapter Adapter) Manager {
	return &manager{
		log:       log.WithField("component", "lifecycle-manager"),
		adapter:   adapter,
		instances: make(map[string]*Instance, 8),
	}
}

// StartLifecycle registers an IDLE instance for test and returns its
// handle.
func (m *manager) StartLifecycle(
	_ context.Context,
	test model.Test,
	clientID *string,
	mode timing.Mode,
) (*Instance, error) {
	if test.ID == "" {
		return nil, fmt.Errorf("starting lifecycle: %w", model.ErrMissingTestID)
	}

	if mode == timing.ModeContent && m.adapter.Channels == nil {
		return nil, fmt.Errorf("starting lifecycle: %w", ErrNoChannelOpener)
	}

	inst := NewInstance(m.log, ulid.Make().String(), test, clientID, mode, m.adapter)

	m.mu.Lock()
	m.instances[inst.ID()] = inst
	n := len(m.instances)
	m.mu.Unlock()

	metrics.SetActiveSessions(n)

	m.log.WithFields(logrus.Fields{
		"instance": inst.ID(),
		"test_id":  test.ID,
		"mode":     mode,
	}).Debug("Lifecycle started")

	return inst, nil
}

// Get returns the instance for id.
func (m *manager) Get(id string) (*Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inst, ok := m.instances[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownInstance, id)
	}

	return inst, nil
}

// Toggle advances instance id.
func (m *manager) Toggle(ctx context.Context, id string) (Snapshot, error) {
	inst, err := m.Get(id)
	if err != nil {
		return Snapshot{}, err
	}

	return inst.Toggle(ctx)
}

// Reset re-arms instance id.
func (m *manager) Reset(ctx context.Context, id string) (Snapshot, error) {
	inst, err := m.Get(id)
	if err != nil {
		return Snapshot{}, err
	}

	return inst.Reset(ctx)
}

// Close releases instance id and forgets it.
func (m *manager) Close(ctx context.Context, id string) error {
	m.mu.Lock()
	inst, ok := m.instances[id]
	delete(m.instances, id)
	n := len(m.instances)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownInstance, id)
	}

	metrics.SetActiveSessions(n)

	inst.Close(ctx)

	return nil
}

// List returns snapshots of every instance ordered by handle, which is
// creation order.
func (m *manager) List() []Snapshot {
	m.mu.RLock()
	out := make([]Snapshot, 0, len(m.instances))

	for _, inst := range m.instances {
		out = append(out, inst.Snapshot())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })

	return out
}

// Reap closes every instance idle since before cutoff and returns how many
// were closed.
func (m *manager) Reap(ctx context.Context, cutoff time.Time) int {
	m.mu.Lock()
	stale := make([]*Instance, 0)

	for id, inst := range m.instances {
		if inst.LastActive().Before(cutoff) {
			stale = append(stale, inst)
			delete(m.instances, id)
		}
	}

	n := len(m.instances)
	m.mu.Unlock()

	if len(stale) == 0 {
		return 0
	}

	metrics.SetActiveSessions(n)

	for _, inst := range stale {
		inst.Close(ctx)

		m.log.WithField("instance", inst.ID()).Debug("Reaped idle lifecycle")
	}

	return len(stale)
}

// CloseAll releases every instance.
func (m *manager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	all := m.instances
	m.instances = make(map[string]*Instance, 8)
	m.mu.Unlock()

	for _, inst := range all {
		inst.Close(ctx)
	}

	metrics.SetActiveSessions(0)
}
