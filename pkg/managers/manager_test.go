package managers

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praetor-io/watchtower/pkg/broker"
	"github.com/praetor-io/watchtower/pkg/types"
)

// eventLog keeps an ordered record of resets and child starts so tests
// can assert the reset-before-restart ordering.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func (l *eventLog) contains(e string) bool {
	for _, have := range l.snapshot() {
		if have == e {
			return true
		}
	}
	return false
}

type recordingPublisher struct {
	log *eventLog

	mu         sync.Mutex
	heartbeats []types.ManagerHeartbeat
}

func (p *recordingPublisher) PublishConfirm(_ context.Context, _, key string, body []byte) error {
	if key == broker.KeyManagerHeartbeat {
		var hb types.ManagerHeartbeat
		if err := json.Unmarshal(body, &hb); err != nil {
			return err
		}
		p.mu.Lock()
		p.heartbeats = append(p.heartbeats, hb)
		p.mu.Unlock()
		return nil
	}
	p.log.add("publish:" + key)
	return nil
}

func (p *recordingPublisher) lastHeartbeat(t *testing.T) types.ManagerHeartbeat {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(t, p.heartbeats)
	return p.heartbeats[len(p.heartbeats)-1]
}

func newTestManager(log *eventLog) (*Manager, *recordingPublisher) {
	pub := &recordingPublisher{log: log}
	return &Manager{
		name:     "system_monitors_manager",
		pub:      pub,
		logger:   zerolog.Nop(),
		specs:    map[string]Child{},
		children: map[string]*handle{},
	}, pub
}

// blockingChild runs until cancelled, logging each start.
func blockingChild(log *eventLog, name, kind, parentID string) Child {
	return Child{
		Name:     name,
		Kind:     kind,
		ParentID: parentID,
		Run: func(ctx context.Context) error {
			log.add("run:" + name)
			<-ctx.Done()
			return ctx.Err()
		},
	}
}

func TestStartChildren_Idempotent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := &eventLog{}
	m, _ := newTestManager(log)
	m.AddChild(blockingChild(log, "system_monitor_node_1", "system", "chain_1"))
	m.AddChild(blockingChild(log, "system_monitor_node_2", "system", "chain_1"))

	m.StartChildren(ctx)
	require.Eventually(t, func() bool {
		return log.contains("run:system_monitor_node_1") && log.contains("run:system_monitor_node_2")
	}, time.Second, 5*time.Millisecond)

	m.StartChildren(ctx)

	resets := 0
	for _, e := range log.snapshot() {
		if e == "publish:reset.system.chain_1" {
			resets++
		}
	}
	assert.Equal(t, 2, resets, "one reset per actual start, none for live children")

	running, dead := m.Liveness()
	assert.Equal(t, []string{"system_monitor_node_1", "system_monitor_node_2"}, running)
	assert.Empty(t, dead)
}

func TestPing_RestartsDeadChildAfterReset(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := &eventLog{}
	m, pub := newTestManager(log)

	var starts sync.WaitGroup
	starts.Add(1)
	first := true
	m.AddChild(Child{
		Name:     "github_monitor",
		Kind:     "github",
		ParentID: "general",
		Run: func(ctx context.Context) error {
			log.add("run:github_monitor")
			if first {
				first = false
				starts.Done()
				return nil // dies right away
			}
			<-ctx.Done()
			return ctx.Err()
		},
	})

	m.StartChildren(ctx)
	starts.Wait()
	require.Eventually(t, func() bool {
		_, dead := m.Liveness()
		return len(dead) == 1
	}, time.Second, 5*time.Millisecond)

	// The ping path: restart dead children, then report.
	m.StartChildren(ctx)
	m.Heartbeat(ctx)
	require.Eventually(t, func() bool {
		return countEvents(log.snapshot(), "run:github_monitor") == 2
	}, time.Second, 5*time.Millisecond)

	events := log.snapshot()
	require.Equal(t, []string{
		"publish:reset.github.general",
		"run:github_monitor",
		"publish:reset.github.general",
		"run:github_monitor",
	}, events, "every start is preceded by its reset")

	hb := pub.lastHeartbeat(t)
	assert.Equal(t, "system_monitors_manager", hb.ComponentName)
	assert.Equal(t, []string{"github_monitor"}, hb.RunningProcesses)
	assert.Empty(t, hb.DeadProcesses)
}

func TestStopChild_RemovesSpec(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := &eventLog{}
	m, _ := newTestManager(log)
	m.AddChild(blockingChild(log, "system_monitor_node_1", "system", "chain_1"))
	m.StartChildren(ctx)
	require.Eventually(t, func() bool {
		return log.contains("run:system_monitor_node_1")
	}, time.Second, 5*time.Millisecond)

	m.StopChild("system_monitor_node_1")

	running, dead := m.Liveness()
	assert.Empty(t, running)
	assert.Empty(t, dead, "a stopped child is forgotten, not reported dead")

	// A later ping does not resurrect it.
	m.StartChildren(ctx)
	events := log.snapshot()
	assert.Equal(t, 1, countEvents(events, "run:system_monitor_node_1"))
}

func countEvents(events []string, want string) int {
	n := 0
	for _, e := range events {
		if e == want {
			n++
		}
	}
	return n
}
