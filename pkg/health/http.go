package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/praetor-io/watchtower/pkg/log"
	"github.com/praetor-io/watchtower/pkg/store"
)

// staleAfter is how old a component's last heartbeat may be before the
// probe reports it unhealthy.
const staleAfter = 90 * time.Second

// ComponentStatus is one row of the /health report.
type ComponentStatus struct {
	Component     string  `json:"component"`
	Healthy       bool    `json:"healthy"`
	LastHeartbeat float64 `json:"last_heartbeat"`
}

// Report is the /health response body.
type Report struct {
	Healthy    bool              `json:"healthy"`
	Components []ComponentStatus `json:"components"`
}

// Server exposes prometheus metrics and the component liveness probe.
type Server struct {
	addr   string
	store  *store.Store
	logger zerolog.Logger
}

// NewServer builds the health HTTP server.
func NewServer(addr string, st *store.Store) *Server {
	return &Server{
		addr:   addr,
		store:  st,
		logger: log.WithComponent("health_http"),
	}
}

// Run serves until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", s.handleHealth)

	srv := &http.Server{Addr: s.addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.logger.Info().Str("addr", s.addr).Msg("health server listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report, err := s.buildReport(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("health report failed")
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if !report.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(report)
}

func (s *Server) buildReport(ctx context.Context) (Report, error) {
	names, err := s.store.ListEntities(ctx, kindComponent)
	if err != nil {
		return Report{}, err
	}
	report := Report{Healthy: true}
	now := float64(time.Now().Unix())
	for _, name := range names {
		raw, err := s.store.GetString(ctx, kindComponent, name, "heartbeat")
		if err != nil {
			return Report{}, err
		}
		var hb struct {
			Timestamp float64 `json:"timestamp"`
		}
		if raw != "" {
			json.Unmarshal([]byte(raw), &hb)
		}
		healthy := now-hb.Timestamp <= staleAfter.Seconds()
		if !healthy {
			report.Healthy = false
		}
		report.Components = append(report.Components, ComponentStatus{
			Component:     name,
			Healthy:       healthy,
			LastHeartbeat: hb.Timestamp,
		})
	}
	return report, nil
}
