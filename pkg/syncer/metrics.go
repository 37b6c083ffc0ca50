// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package syncer

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "neuroatlas"
	metricsSubsystem = "sync"
)

// Metrics counts synchronizer activity.
type Metrics struct {
	SubjectsLabeled prometheus.Counter
	SubjectsCached  prometheus.Counter
	LabelFailures   prometheus.Counter
	DandisetsFailed prometheus.Counter
	LabelDuration   prometheus.Histogram
}

// NewMetrics registers the sync metrics on reg. A nil registerer
// yields unregistered collectors, which tests use to avoid global
// registry collisions.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SubjectsLabeled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "subjects_labeled_total",
			Help:      "Subjects labeled and appended to the cache.",
		}),
		SubjectsCached: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "subjects_cached_total",
			Help:      "Subjects skipped because the cache already represented them.",
		}),
		LabelFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "label_failures_total",
			Help:      "Labeling attempts that failed.",
		}),
		DandisetsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "dandisets_failed_total",
			Help:      "Dandisets skipped because asset listing failed.",
		}),
		LabelDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "label_duration_seconds",
			Help:      "Wall time of individual labeling requests.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.SubjectsLabeled, m.SubjectsCached, m.LabelFailures,
			m.DandisetsFailed, m.LabelDuration)
	}
	return m
}
