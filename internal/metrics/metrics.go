// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesReceivedTotal counts MTP3 frames read from a linkset
	FramesReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "isup_frames_received_total",
			Help: "Total number of frames read from linksets",
		},
		[]string{"linkset"},
	)

	// FramesSentTotal counts MTP3 frames written to a linkset
	FramesSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "isup_frames_sent_total",
			Help: "Total number of frames written to linksets",
		},
		[]string{"linkset"},
	)

	// FramesDroppedTotal counts inbound frames discarded before decoding
	FramesDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "isup_frames_dropped_total",
			Help: "Total number of inbound frames dropped by routing checks or back-pressure",
		},
		[]string{"linkset", "reason"},
	)

	// DecodeErrorsTotal counts frames that failed label or message decoding
	DecodeErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "isup_decode_errors_total",
			Help: "Total number of decode failures",
		},
		[]string{"linkset", "reason"},
	)

	// EventsPublishedTotal counts events handed to the event bus
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "isup_events_published_total",
			Help: "Total number of events published",
		},
		[]string{"kind"},
	)

	// ListenerFailuresTotal counts listener errors and panics isolated by the bus
	ListenerFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "isup_listener_failures_total",
			Help: "Total number of listener failures during delivery",
		},
		[]string{"kind"},
	)

	// TimersStarted counts supervision timers started by name
	TimersStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "isup_timers_started_total",
			Help: "Total number of supervision timers started",
		},
		[]string{"timer"},
	)

	// TimersFired counts supervision timers that expired
	TimersFired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "isup_timers_fired_total",
			Help: "Total number of supervision timers that expired",
		},
		[]string{"timer"},
	)

	// TimersCancelled counts supervision timers cancelled before expiry
	TimersCancelled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "isup_timers_cancelled_total",
			Help: "Total number of supervision timers cancelled",
		},
		[]string{"timer"},
	)

	// TimersActive tracks currently scheduled timers
	TimersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "isup_timers_active",
			Help: "Number of scheduled supervision timers",
		},
	)

	// LinksetState tracks linkset lifecycle state (1 for the current state)
	LinksetState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "isup_linkset_state",
			Help: "Current linkset state (1 = in this state)",
		},
		[]string{"linkset", "state"},
	)

	// RxQueueDepth tracks frames waiting in a linkset receive queue
	RxQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "isup_rx_queue_depth",
			Help: "Number of frames waiting in the receive queue",
		},
		[]string{"linkset"},
	)

	// LinksInService tracks links able to carry traffic per linkset
	LinksInService = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "isup_links_in_service",
			Help: "Number of links in service",
		},
		[]string{"linkset"},
	)

	// ReporterRecordsTotal counts events exported by reporters
	ReporterRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "isup_reporter_records_total",
			Help: "Total number of events exported by reporters",
		},
		[]string{"reporter"},
	)

	// ReporterErrorsTotal counts reporter errors by name and error type
	ReporterErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "isup_reporter_errors_total",
			Help: "Total number of reporter errors",
		},
		[]string{"reporter", "error_type"},
	)
)

// SetLinksetState marks state as current for linkset and clears the others.
func SetLinksetState(linkset, state string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		LinksetState.WithLabelValues(linkset, s).Set(v)
	}
}
