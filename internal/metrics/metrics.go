// Package metrics exposes the pipeline's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LinesRead counts raw log lines consumed, per client.
	LinesRead = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifirc_lines_read_total",
		Help: "Raw log lines read from watched files",
	}, []string{"client"})

	// RecordsParsed counts lines a parser rule turned into records.
	RecordsParsed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifirc_records_parsed_total",
		Help: "Log lines parsed into records",
	}, []string{"client"})

	// EventsMatched counts event-rule matches.
	EventsMatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifirc_events_matched_total",
		Help: "Event rules matched by processed records",
	}, []string{"event"})

	// NotificationsDelivered counts successful sink deliveries.
	NotificationsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifirc_notifications_delivered_total",
		Help: "Notifications delivered, per sink",
	}, []string{"sink"})

	// NotificationsDropped counts drops by cause (rate_limit, error).
	NotificationsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifirc_notifications_dropped_total",
		Help: "Notifications dropped before or during delivery",
	}, []string{"sink", "reason"})

	// ConfigReloads counts reload outcomes.
	ConfigReloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifirc_config_reloads_total",
		Help: "Configuration reloads by result",
	}, []string{"result"})

	// WatchersActive tracks the current watcher count.
	WatchersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "notifirc_watchers_active",
		Help: "File watchers currently running",
	})
)
