package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praetor-io/watchtower/pkg/store"
)

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	st := store.New(mr.Addr(), 0, "test_run")
	t.Cleanup(func() { st.Close() })
	return NewServer("127.0.0.1:0", st), st
}

func recordHeartbeat(t *testing.T, st *store.Store, name string, ts float64) {
	t.Helper()
	body := fmt.Sprintf(`{"component_name":%q,"is_alive":true,"timestamp":%v}`, name, ts)
	require.NoError(t, st.SetString(context.Background(), kindComponent, name, "heartbeat", body))
}

func TestHealthEndpoint_AllFresh(t *testing.T) {
	srv, st := newTestServer(t)
	now := float64(time.Now().Unix())
	recordHeartbeat(t, st, "system_monitors_manager", now)
	recordHeartbeat(t, st, "data_store", now-5)

	rec := httptest.NewRecorder()
	srv.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var report Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.True(t, report.Healthy)
	require.Len(t, report.Components, 2)
}

func TestHealthEndpoint_StaleComponent(t *testing.T) {
	srv, st := newTestServer(t)
	now := float64(time.Now().Unix())
	recordHeartbeat(t, st, "data_store", now)
	recordHeartbeat(t, st, "system_alerter", now-600)

	rec := httptest.NewRecorder()
	srv.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var report Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.False(t, report.Healthy)

	byName := map[string]bool{}
	for _, c := range report.Components {
		byName[c.Component] = c.Healthy
	}
	assert.True(t, byName["data_store"])
	assert.False(t, byName["system_alerter"])
}

func TestHealthEndpoint_NoComponents(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}
