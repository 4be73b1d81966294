// Package metrics exposes the bot's operational state in Prometheus text
// exposition format: session running flag, snapshot PnL and position count,
// poll iterations by mode, watchdog trips by kind and control API requests
// by status class.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	sessionRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hedgegram_session_running",
			Help: "Whether the strategy loop is currently running.",
		},
	)

	sessionPnL = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hedgegram_session_pnl",
			Help: "Total unrealized PnL of the current snapshot.",
		},
	)

	openPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hedgegram_open_positions",
			Help: "Open positions in the current snapshot.",
		},
	)

	pollIterations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hedgegram_poll_iterations_total",
			Help: "Strategy loop iterations completed.",
		},
		[]string{"mode"},
	)

	watchdogTrips = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hedgegram_watchdog_trips_total",
			Help: "Forced stops by watchdog kind.",
		},
		[]string{"kind"},
	)

	controlRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hedgegram_control_requests_total",
			Help: "Control API requests by HTTP status class.",
		},
		[]string{"class"},
	)
)

func init() {
	prometheus.MustRegister(
		sessionRunning,
		sessionPnL,
		openPositions,
		pollIterations,
		watchdogTrips,
		controlRequests,
	)
}

// SetRunning publishes the running flag.
func SetRunning(running bool) {
	if running {
		sessionRunning.Set(1)
	} else {
		sessionRunning.Set(0)
	}
}

// ObserveSnapshot publishes the totals of a freshly published snapshot.
func ObserveSnapshot(mode string, positions int, pnl float64) {
	pollIterations.WithLabelValues(mode).Inc()
	openPositions.Set(float64(positions))
	sessionPnL.Set(pnl)
}

// WatchdogTrip counts one forced stop.
func WatchdogTrip(kind string) {
	watchdogTrips.WithLabelValues(kind).Inc()
}

// ObserveRequest counts one control API response.
func ObserveRequest(status int) {
	controlRequests.WithLabelValues(fmt.Sprintf("%dxx", status/100)).Inc()
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
