package metrics

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Event metrics
	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrollguard_events_total",
			Help: "Total interaction events processed",
		},
		[]string{"kind"},
	)

	EventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrollguard_events_dropped_total",
			Help: "Events rejected before processing",
		},
		[]string{"reason"},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scrollguard_queue_depth",
			Help: "Events accepted but not yet processed",
		},
	)

	// Scroll metrics
	ScrollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrollguard_scrolls_total",
			Help: "Distinct content advances counted",
		},
		[]string{"group"},
	)

	ScrollsBlocked = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrollguard_scrolls_blocked_total",
			Help: "Scrolls intercepted by policy",
		},
		[]string{"group"},
	)

	// Session metrics
	SessionsCommitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrollguard_sessions_committed_total",
			Help: "Sessions merged into daily usage records",
		},
		[]string{"group"},
	)

	SessionsDiscarded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scrollguard_sessions_discarded_total",
			Help: "Sessions dropped for failing every validity threshold",
		},
	)

	CommitErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scrollguard_commit_errors_total",
			Help: "Failed usage record merges",
		},
	)

	TimeSpentSeconds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrollguard_time_spent_seconds_total",
			Help: "Committed time spent in tracked apps",
		},
		[]string{"group"},
	)

	CommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scrollguard_commit_duration_seconds",
			Help:    "Usage record merge duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	// Policy metrics
	PolicyRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrollguard_policy_refreshes_total",
			Help: "Policy snapshot refreshes by result",
		},
		[]string{"result"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		EventsTotal,
		EventsDropped,
		QueueDepth,
		ScrollsTotal,
		ScrollsBlocked,
		SessionsCommitted,
		SessionsDiscarded,
		CommitErrors,
		TimeSpentSeconds,
		CommitDuration,
		PolicyRefreshes,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	mux      *http.ServeMux
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := newMux()
	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		mux:    mux,
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// Handle registers an extra endpoint. It must be called before Start.
func (s *Server) Handle(pattern string, handler http.Handler) {
	s.mux.Handle(pattern, handler)
}

// Handler serves /metrics and /health.
func Handler() http.Handler {
	return newMux()
}

func newMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop gracefully stops the metrics server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Shutdown(ctx)
}
