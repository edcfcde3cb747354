package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"
)

// HealthStatus is the probe response body.
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
	Uptime    int64     `json:"uptime_seconds,omitempty"`
}

// HealthChecker tracks readiness and liveness for the feed daemon.
type HealthChecker struct {
	ready     atomic.Bool
	live      atomic.Bool
	startTime time.Time
	version   string
	logger    *slog.Logger
}

func NewHealthChecker(logger *slog.Logger, version string) *HealthChecker {
	hc := &HealthChecker{
		startTime: time.Now(),
		version:   version,
		logger:    logger,
	}
	// Alive from the start, ready only once the feed server is up.
	hc.live.Store(true)
	hc.ready.Store(false)
	return hc
}

func (hc *HealthChecker) SetReady(ready bool) {
	hc.ready.Store(ready)
	if ready {
		hc.logger.Info("service marked as ready")
	} else {
		hc.logger.Warn("service marked as not ready")
	}
}

func (hc *HealthChecker) SetLive(live bool) {
	hc.live.Store(live)
	if !live {
		hc.logger.Error("service marked as not alive")
	}
}

func (hc *HealthChecker) IsReady() bool { return hc.ready.Load() }

func (hc *HealthChecker) IsLive() bool { return hc.live.Load() }

func (hc *HealthChecker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hc.writeStatus(w, hc.IsReady(), "ready", "not_ready")
	}
}

func (hc *HealthChecker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hc.writeStatus(w, hc.IsLive(), "alive", "not_alive")
	}
}

func (hc *HealthChecker) writeStatus(w http.ResponseWriter, ok bool, okStatus, failStatus string) {
	w.Header().Set("Content-Type", "application/json")
	if !ok {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(HealthStatus{
			Status:    failStatus,
			Timestamp: time.Now(),
		})
		return
	}
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(HealthStatus{
		Status:    okStatus,
		Timestamp: time.Now(),
		Version:   hc.version,
		Uptime:    int64(time.Since(hc.startTime).Seconds()),
	})
}
