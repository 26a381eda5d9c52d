// Copyright 2024 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package actor

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	registeredActors = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tiactor",
			Subsystem: "actor",
			Name:      "number_of_actors",
			Help:      "The number of actors registered in an actor system.",
		}, []string{"system"})
	handledMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tiactor",
			Subsystem: "actor",
			Name:      "handled_messages_total",
			Help:      "The number of messages handled without error.",
		}, []string{"system"})
	failedDrains = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tiactor",
			Subsystem: "actor",
			Name:      "failed_drains_total",
			Help:      "The number of mailbox drains aborted by a failing message.",
		}, []string{"system"})
	supervisionVerdicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tiactor",
			Subsystem: "actor",
			Name:      "supervision_verdicts_total",
			Help:      "The number of supervision verdicts applied, by directive.",
		}, []string{"system", "directive"})
	drainDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tiactor",
			Subsystem: "actor",
			Name:      "drain_duration_seconds",
			Help:      "Bucketed histogram of a single mailbox drain duration.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 20), // 10us ~ 5s
		}, []string{"system"})
)

// InitMetrics registers all metrics in this file
func InitMetrics(registry *prometheus.Registry) {
	registry.MustRegister(registeredActors)
	registry.MustRegister(handledMessages)
	registry.MustRegister(failedDrains)
	registry.MustRegister(supervisionVerdicts)
	registry.MustRegister(drainDuration)
}

type systemMetrics struct {
	actors   prometheus.Gauge
	handled  prometheus.Counter
	failed   prometheus.Counter
	duration prometheus.Observer
}

func newSystemMetrics(id string) systemMetrics {
	return systemMetrics{
		actors:   registeredActors.WithLabelValues(id),
		handled:  handledMessages.WithLabelValues(id),
		failed:   failedDrains.WithLabelValues(id),
		duration: drainDuration.WithLabelValues(id),
	}
}

func deleteSystemMetrics(id string) {
	registeredActors.DeleteLabelValues(id)
	handledMessages.DeleteLabelValues(id)
	failedDrains.DeleteLabelValues(id)
	drainDuration.DeleteLabelValues(id)
	for _, d := range []Directive{DirectiveResume, DirectiveStop, DirectiveReinit} {
		supervisionVerdicts.DeleteLabelValues(id, d.String())
	}
}
