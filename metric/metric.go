// Package metric provides Prometheus metrics collection for the
// coordinator.
package metric

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics contains the Prometheus metrics server and registered custom
// metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	httpServer *http.Server
	config     Config

	participants          prometheus.Gauge
	calls                 prometheus.Gauge
	placementFailures     prometheus.Counter
	placementRetries      prometheus.Counter
	memberStateWrites     prometheus.Counter
	activeSpeakerSwitches prometheus.Counter
}

// New creates a new Metrics instance with the specified configuration.
func New(config Config) *Metrics {
	return &Metrics{
		config: config,
		participants: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "groupcall_participants",
			Help: "Current number of (user, device) participants in the call.",
		}),
		calls: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "groupcall_calls",
			Help: "Current number of calls in the call graph.",
		}),
		placementFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "groupcall_placement_failures_total",
			Help: "Number of outbound call placements that failed.",
		}),
		placementRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "groupcall_placement_retries_total",
			Help: "Number of placement retries scheduled by the retry loop.",
		}),
		memberStateWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "groupcall_member_state_writes_total",
			Help: "Number of member-state events written.",
		}),
		activeSpeakerSwitches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "groupcall_active_speaker_switches_total",
			Help: "Number of active speaker changes.",
		}),
	}
}

// RegisterMetrics registers custom metrics with Prometheus.
func (m *Metrics) RegisterMetrics() {
	prometheus.MustRegister(m.participants)
	prometheus.MustRegister(m.calls)
	prometheus.MustRegister(m.placementFailures)
	prometheus.MustRegister(m.placementRetries)
	prometheus.MustRegister(m.memberStateWrites)
	prometheus.MustRegister(m.activeSpeakerSwitches)
}

// Start initializes and starts the metrics HTTP server. It blocks until
// stop is closed.
func (m *Metrics) Start(stop chan struct{}) {
	m.httpServer = &http.Server{
		Addr:        fmt.Sprintf(":%d", m.config.Port),
		ReadTimeout: 2 * time.Second,
		Handler:     promhttp.Handler(),
	}

	go func() {
		log.Info().Str("module", "metric").Int("port", m.config.Port).Str("path", m.config.Path).Msg("starting metrics server")
		if err := m.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Str("module", "metric").Err(err).Msg("metrics server failed")
		}
	}()

	<-stop
	if err := m.Stop(); err != nil {
		log.Error().Str("module", "metric").Err(err).Msg("failed to stop metrics server")
	}
}

// Stop gracefully shuts down the metrics server.
func (m *Metrics) Stop() error {
	if m.httpServer != nil {
		return m.httpServer.Close()
	}
	return nil
}

// SetParticipants records the participant count.
func (m *Metrics) SetParticipants(n int) {
	if m == nil {
		return
	}
	m.participants.Set(float64(n))
}

// SetCalls records the call graph size.
func (m *Metrics) SetCalls(n int) {
	if m == nil {
		return
	}
	m.calls.Set(float64(n))
}

// AddPlacementFailure counts one failed placement.
func (m *Metrics) AddPlacementFailure() {
	if m == nil {
		return
	}
	m.placementFailures.Inc()
}

// AddRetry counts one scheduled placement retry.
func (m *Metrics) AddRetry() {
	if m == nil {
		return
	}
	m.placementRetries.Inc()
}

// AddMemberStateWrite counts one member-state write.
func (m *Metrics) AddMemberStateWrite() {
	if m == nil {
		return
	}
	m.memberStateWrites.Inc()
}

// AddActiveSpeakerSwitch counts one active speaker change.
func (m *Metrics) AddActiveSpeakerSwitch() {
	if m == nil {
		return
	}
	m.activeSpeakerSwitches.Inc()
}
