// Package metrics exposes realtime-core counters on the prometheus registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AudioChunksTotal counts ingested audio chunks by outcome.
	// Labels: status (accepted/dropped/bad_payload)
	AudioChunksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_audio_chunks_total",
			Help: "Total number of audio chunks received on the signaling socket",
		},
		[]string{"status"},
	)

	// TranscriptEventsTotal counts recognition results by kind.
	// Labels: kind (interim/final)
	TranscriptEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_transcript_events_total",
			Help: "Total number of transcript events received from the recognition transport",
		},
		[]string{"kind"},
	)

	// ActiveSessions tracks live transcription sessions.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ledger_active_transcription_sessions",
			Help: "Number of currently running transcription sessions",
		},
	)

	// SessionDuration observes session lifetime from start to finalize.
	SessionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ledger_transcription_session_duration_seconds",
			Help:    "Transcription session duration from start to finalize",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
	)

	// BroadcastDeliveries counts per-member fanout results.
	// Labels: status (sent/dropped)
	BroadcastDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_broadcast_deliveries_total",
			Help: "Total number of per-connection event deliveries by outcome",
		},
		[]string{"status"},
	)
)

func RecordChunk(status string) {
	AudioChunksTotal.WithLabelValues(status).Inc()
}

func RecordTranscriptEvent(final bool) {
	kind := "interim"
	if final {
		kind = "final"
	}
	TranscriptEventsTotal.WithLabelValues(kind).Inc()
}
