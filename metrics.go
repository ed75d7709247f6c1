package wintray

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	notifications  *prometheus.CounterVec
	unhandled      prometheus.Counter
	callbackPanics *prometheus.CounterVec
	popups         prometheus.Counter
	popupDuration  prometheus.Histogram
	selections     prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wintray_notifications_total",
			Help: "Tray icon notifications delivered to a callback, by event.",
		}, []string{"event"}),
		unhandled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wintray_notifications_unhandled_total",
			Help: "Tray icon notifications for unknown icons or events without a callback.",
		}),
		callbackPanics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wintray_callback_panics_total",
			Help: "Callbacks that panicked and were recovered, by source.",
		}, []string{"source"}),
		popups: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wintray_menu_popups_total",
			Help: "Menus popped up.",
		}),
		popupDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "wintray_menu_popup_duration_seconds",
			Help:    "Time a menu stayed popped up.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		selections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wintray_menu_selections_total",
			Help: "Menu items selected from a popup.",
		}),
	}
	if reg == nil {
		return m
	}
	m.notifications = register(reg, m.notifications)
	m.unhandled = register(reg, m.unhandled)
	m.callbackPanics = register(reg, m.callbackPanics)
	m.popups = register(reg, m.popups)
	m.popupDuration = register(reg, m.popupDuration)
	m.selections = register(reg, m.selections)
	return m
}

// register returns the collector already known to reg when several trays
// share one registerer.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}
