package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/caedis/wine-game-updater/internal/stream"
)

type Metrics struct {
	stageDuration *prometheus.HistogramVec
	stageFailures *prometheus.CounterVec
	transferBytes *prometheus.CounterVec
	runs          *prometheus.CounterVec
	paused        prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	promFactory := promauto.With(reg)
	return &Metrics{
		stageDuration: promFactory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wine_game_updater_stage_duration_seconds",
				Help:    "Duration of each install pipeline stage",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
			},
			[]string{"stage"},
		),
		stageFailures: promFactory.NewCounterVec(prometheus.CounterOpts{
			Name: "wine_game_updater_stage_failures_total",
			Help: "Number of failed install pipeline stages",
		}, []string{"stage"}),
		transferBytes: promFactory.NewCounterVec(prometheus.CounterOpts{
			Name: "wine_game_updater_transfer_bytes_total",
			Help: "Bytes downloaded or unpacked, labelled by phase",
		}, []string{"phase"}),
		runs: promFactory.NewCounterVec(prometheus.CounterOpts{
			Name: "wine_game_updater_runs_total",
			Help: "Completed install runs labelled by result",
		}, []string{"result"}),
		paused: promFactory.NewGauge(prometheus.GaugeOpts{
			Name: "wine_game_updater_paused",
			Help: "1 while the active transfer is paused",
		}),
	}
}

// ObserveStage records how long a stage took and whether it failed. A nil
// receiver is a no-op so callers can leave metrics unset.
func (m *Metrics) ObserveStage(stage string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
	if err != nil {
		m.stageFailures.WithLabelValues(stage).Inc()
	}
}

func (m *Metrics) RunFinished(err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.runs.WithLabelValues(result).Inc()
}

func (m *Metrics) SetPaused(p bool) {
	if m == nil {
		return
	}
	if p {
		m.paused.Set(1)
		return
	}
	m.paused.Set(0)
}

// Sink returns a progress sink that counts transferred bytes per phase.
func (m *Metrics) Sink() stream.ProgressSink {
	if m == nil {
		return nil
	}
	return &byteSink{m: m, phase: stream.Downloading.String()}
}

type byteSink struct {
	m     *Metrics
	mu    sync.Mutex
	phase string
}

func (s *byteSink) DownloadStart() {
	s.mu.Lock()
	s.phase = stream.Downloading.String()
	s.mu.Unlock()
}

func (s *byteSink) UnpackStart() {
	s.mu.Lock()
	s.phase = stream.Unpacking.String()
	s.mu.Unlock()
}

func (s *byteSink) UnpackFinish() {}

func (s *byteSink) Progress(_, _, delta int64) {
	if delta <= 0 {
		return
	}
	s.mu.Lock()
	phase := s.phase
	s.mu.Unlock()
	s.m.transferBytes.WithLabelValues(phase).Add(float64(delta))
}
