package channels

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praetor-io/watchtower/pkg/alerts"
)

func testAlert(origin string) alerts.Alert {
	return alerts.New(alerts.CodeSystemWentDown, alerts.MetricSystemIsDown,
		origin+" has been down for 60 seconds", alerts.Warning, 1060, "chain_1", origin)
}

func TestSpool_RoundTrip(t *testing.T) {
	spool, err := NewSpool(t.TempDir(), "slack")
	require.NoError(t, err)
	t.Cleanup(func() { spool.Close() })

	require.NoError(t, spool.Put(testAlert("system_1")))
	require.NoError(t, spool.Put(testAlert("system_2")))

	pending, err := spool.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 2)

	origins := map[string]bool{}
	var firstID string
	for id, alert := range pending {
		origins[alert.OriginID] = true
		firstID = id
	}
	assert.True(t, origins["system_1"])
	assert.True(t, origins["system_2"])

	require.NoError(t, spool.Delete(firstID))
	pending, err = spool.Pending()
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestSpool_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	spool, err := NewSpool(dir, "slack")
	require.NoError(t, err)
	require.NoError(t, spool.Put(testAlert("system_1")))
	require.NoError(t, spool.Close())

	reopened, err := NewSpool(dir, "slack")
	require.NoError(t, err)
	t.Cleanup(func() { reopened.Close() })

	pending, err := reopened.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	for _, alert := range pending {
		assert.Equal(t, "system_1", alert.OriginID)
		assert.Equal(t, alerts.CodeSystemWentDown, alert.AlertCode)
	}
}

// flakyHandler fails a fixed number of dispatches before recovering.
type flakyHandler struct {
	failures   int
	dispatched []alerts.Alert
}

func (h *flakyHandler) Name() string { return "flaky" }

func (h *flakyHandler) Dispatch(_ context.Context, alert alerts.Alert) error {
	if h.failures > 0 {
		h.failures--
		return errors.New("service unavailable")
	}
	h.dispatched = append(h.dispatched, alert)
	return nil
}

func TestWorker_RetriesSpooledBeforeNew(t *testing.T) {
	spool, err := NewSpool(t.TempDir(), "flaky")
	require.NoError(t, err)
	t.Cleanup(func() { spool.Close() })

	require.NoError(t, spool.Put(testAlert("system_1")))

	h := &flakyHandler{}
	w := &Worker{name: "flaky_channel_handler", handler: h, spool: spool}

	w.retrySpooled(context.Background())

	require.Len(t, h.dispatched, 1)
	assert.Equal(t, "system_1", h.dispatched[0].OriginID)
	pending, err := spool.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestWorker_StopsRetryWhileServiceDown(t *testing.T) {
	spool, err := NewSpool(t.TempDir(), "flaky")
	require.NoError(t, err)
	t.Cleanup(func() { spool.Close() })

	require.NoError(t, spool.Put(testAlert("system_1")))

	h := &flakyHandler{failures: 1}
	w := &Worker{name: "flaky_channel_handler", handler: h, spool: spool}

	w.retrySpooled(context.Background())

	assert.Empty(t, h.dispatched)
	pending, err := spool.Pending()
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}
