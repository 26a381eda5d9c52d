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

package threadpool

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	totalWorkers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tiactor",
			Subsystem: "threadpool",
			Name:      "number_of_workers",
			Help:      "The total number of workers in a thread pool.",
		}, []string{"kind"})
	workingWorkers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tiactor",
			Subsystem: "threadpool",
			Name:      "number_of_working_workers",
			Help:      "The number of workers that are running a task.",
		}, []string{"kind"})
	queuedTasks = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tiactor",
			Subsystem: "threadpool",
			Name:      "queued_tasks",
			Help:      "The number of tasks waiting in a thread pool queue.",
		}, []string{"kind", "priority"})
	taskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tiactor",
			Subsystem: "threadpool",
			Name:      "task_duration_seconds",
			Help:      "Bucketed histogram of a single task run duration.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 20), // 10us ~ 5s
		}, []string{"kind"})
	panickedTasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tiactor",
			Subsystem: "threadpool",
			Name:      "panicked_tasks_total",
			Help:      "The number of tasks that panicked.",
		}, []string{"kind"})
)

// InitMetrics registers all metrics in this file
func InitMetrics(registry *prometheus.Registry) {
	registry.MustRegister(totalWorkers)
	registry.MustRegister(workingWorkers)
	registry.MustRegister(queuedTasks)
	registry.MustRegister(taskDuration)
	registry.MustRegister(panickedTasks)
}
