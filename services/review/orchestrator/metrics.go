// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package orchestrator

import "github.com/prometheus/client_golang/prometheus"

// metrics holds one run's counters in a private registry, rather than the
// global default one, so that constructing many Orchestrators (as the test
// suite does) never panics on duplicate registration. cmd/reviewd exposes
// Orchestrator.Metrics() to whoever wants to dump or push it at exit.
type metrics struct {
	registry    *prometheus.Registry
	iterations  prometheus.Counter
	patches     *prometheus.CounterVec
	errorRounds prometheus.Counter
	commandRuns *prometheus.HistogramVec
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		iterations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "reviewd",
			Subsystem: "orchestrator",
			Name:      "iterations_total",
			Help:      "Iteration-loop rounds started.",
		}),
		patches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reviewd",
			Subsystem: "orchestrator",
			Name:      "patches_applied_total",
			Help:      "Patches successfully applied, labeled by operation.",
		}, []string{"op"}),
		errorRounds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "reviewd",
			Subsystem: "orchestrator",
			Name:      "error_fix_rounds_total",
			Help:      "Error-fix rounds entered after a failing verification command.",
		}),
		commandRuns: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "reviewd",
			Subsystem: "orchestrator",
			Name:      "command_duration_seconds",
			Help:      "Verification command duration, labeled by whether it succeeded.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"success"}),
	}
	m.registry.MustRegister(m.iterations, m.patches, m.errorRounds, m.commandRuns)
	return m
}
