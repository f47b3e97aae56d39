// Package metrics exposes the Prometheus instrumentation shared by the
// ingestion path and the decision engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReadingsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "irrigationd_readings_ingested_total",
		Help: "Moisture readings accepted, by transport.",
	}, []string{"transport"}) // "http" | "mqtt"

	Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "irrigationd_decisions_total",
		Help: "Decision engine outcomes per evaluation.",
	}, []string{"action"}) // "open" | "close" | "noop"

	Skips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "irrigationd_watering_skips_total",
		Help: "Low-moisture evaluations that did not open the valve, by reason.",
	}, []string{"reason"}) // "wait_time" | "cycle_cap" | "volume_cap" | "manual_override" | "disabled"

	ValveCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "irrigationd_valve_commands_total",
		Help: "Valve commands dispatched, by state and source.",
	}, []string{"state", "source"})

	CyclesCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "irrigationd_watering_cycles_completed_total",
		Help: "Watering cycles that ran to their timed close.",
	})

	ArchiveErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "irrigationd_archive_write_errors_total",
		Help: "Failed time-series archive writes.",
	})
)
