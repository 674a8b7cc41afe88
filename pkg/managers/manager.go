// Package managers supervises families of workers. A manager owns its
// children as goroutines, restarts the dead ones when the health checker
// pings, and answers with an aggregate heartbeat enumerating children by
// liveness. Every actual (re)start is preceded by a ComponentReset
// control message so downstream dedup tables and store slices are purged
// before the child produces fresh state.
package managers

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/praetor-io/watchtower/pkg/alerts"
	"github.com/praetor-io/watchtower/pkg/broker"
	"github.com/praetor-io/watchtower/pkg/log"
	"github.com/praetor-io/watchtower/pkg/types"
)

// Child describes one supervised worker.
type Child struct {
	// Name is the component name, unique within the manager.
	Name string
	// Kind is the component type carried in the reset routing key.
	Kind string
	// ParentID scopes the reset to one chain.
	ParentID string
	// Run is the child's blocking loop. Returning ends the child; the
	// manager restarts it on the next ping.
	Run func(ctx context.Context) error
}

// handle is the runtime state of a started child. A child is alive while
// its goroutine runs; once done closes it counts as dead until the next
// ping restarts it.
type handle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (h *handle) alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Manager supervises a set of children and answers health-checker pings.
type Manager struct {
	name   string
	client *broker.Client
	pub    broker.Publisher
	logger zerolog.Logger

	mu       sync.Mutex
	specs    map[string]Child
	children map[string]*handle
}

// New builds a manager with no children yet.
func New(name string, client *broker.Client) *Manager {
	return &Manager{
		name:     name,
		client:   client,
		pub:      client,
		logger:   log.WithComponent(name),
		specs:    map[string]Child{},
		children: map[string]*handle{},
	}
}

// Name returns the manager's component name.
func (m *Manager) Name() string {
	return m.name
}

// AddChild registers a child. It is not started until StartChildren.
func (m *Manager) AddChild(spec Child) {
	m.mu.Lock()
	m.specs[spec.Name] = spec
	m.mu.Unlock()
}

// StartChildren starts every registered child that is missing or dead.
// It is idempotent: a live child is left alone, and exactly one
// ComponentReset goes out per actual (re)start, before the start.
func (m *Manager) StartChildren(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, spec := range m.specs {
		if h, ok := m.children[name]; ok && h.alive() {
			continue
		}
		m.publishReset(ctx, spec)
		m.startLocked(ctx, spec)
	}
}

// StopChild cancels a child and waits for it to exit. The registration
// is removed, so later pings do not resurrect it. No reset is emitted;
// callers that restart afterwards get one from StartChildren.
func (m *Manager) StopChild(name string) {
	m.mu.Lock()
	h, ok := m.children[name]
	delete(m.children, name)
	delete(m.specs, name)
	m.mu.Unlock()
	if !ok {
		return
	}
	h.cancel()
	<-h.done
}

// Liveness snapshots the children by state.
func (m *Manager) Liveness() (running, dead []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name := range m.specs {
		if h, ok := m.children[name]; ok && h.alive() {
			running = append(running, name)
		} else {
			dead = append(dead, name)
		}
	}
	sort.Strings(running)
	sort.Strings(dead)
	return running, dead
}

func (m *Manager) startLocked(ctx context.Context, spec Child) {
	childCtx, cancel := context.WithCancel(ctx)
	h := &handle{cancel: cancel, done: make(chan struct{})}
	m.children[spec.Name] = h
	m.logger.Info().Str("child", spec.Name).Msg("starting child")
	go func() {
		defer close(h.done)
		if err := spec.Run(childCtx); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Error().Err(err).Str("child", spec.Name).Msg("child exited")
		}
	}()
}

// publishReset emits the ComponentReset for a child about to (re)start.
// ErrNotDelivered means no consumer holds state for the child yet, which
// is exactly the case where there is nothing to purge.
func (m *Manager) publishReset(ctx context.Context, spec Child) {
	alert := alerts.NewComponentReset(float64(time.Now().Unix()), spec.Kind, spec.ParentID, spec.Name)
	body, err := json.Marshal(alert)
	if err != nil {
		m.logger.Error().Err(err).Str("child", spec.Name).Msg("encoding reset failed")
		return
	}
	key := broker.ResetKey(spec.Kind, spec.ParentID)
	if err := m.pub.PublishConfirm(ctx, broker.ExchangeAlert, key, body); err != nil {
		if errors.Is(err, broker.ErrNotDelivered) {
			return
		}
		m.logger.Warn().Err(err).Str("child", spec.Name).Msg("reset publish failed")
	}
}

// Run starts the children and answers pings until cancelled.
func (m *Manager) Run(ctx context.Context) error {
	for _, exchange := range []string{broker.ExchangeAlert, broker.ExchangeHealthCheck} {
		if err := m.client.DeclareExchange(exchange, "topic"); err != nil {
			return err
		}
	}
	queue := broker.QueuePingPrefix + m.name
	if _, err := m.client.DeclareQueue(queue); err != nil {
		return err
	}
	if err := m.client.Bind(queue, broker.ExchangeHealthCheck, broker.KeyPing); err != nil {
		return err
	}

	m.StartChildren(ctx)

	return m.client.Consume(ctx, queue, 1, func(d amqp.Delivery) {
		m.handlePing(ctx, d)
	})
}

// handlePing restarts dead children (reset first) and reports the
// post-restart liveness, so a restarted child answers as running.
func (m *Manager) handlePing(ctx context.Context, d amqp.Delivery) {
	m.StartChildren(ctx)
	m.Heartbeat(ctx)
	d.Ack(false)
}

// Heartbeat publishes the manager's aggregate liveness report.
func (m *Manager) Heartbeat(ctx context.Context) {
	running, dead := m.Liveness()
	hb := types.ManagerHeartbeat{
		ComponentName:    m.name,
		RunningProcesses: running,
		DeadProcesses:    dead,
		Timestamp:        float64(time.Now().Unix()),
	}
	body, _ := json.Marshal(hb)
	if err := m.pub.PublishConfirm(ctx, broker.ExchangeHealthCheck, broker.KeyManagerHeartbeat, body); err != nil {
		m.logger.Warn().Err(err).Msg("manager heartbeat publish failed")
	}
}
