/*
Copyright 2017 Caicloud authors. All rights reserved.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ProvisioningOps counts finished provisioning operations by
	// operation and terminal result.
	ProvisioningOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lbaas",
			Name:      "provisioning_ops_total",
			Help:      "Finished provisioning operations by operation and result.",
		},
		[]string{"operation", "result"},
	)
	// ProvisioningDuration observes how long a provisioning operation
	// stayed in flight, from acceptance to terminal status.
	ProvisioningDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lbaas",
			Name:      "provisioning_duration_seconds",
			Help:      "Time from operation acceptance to terminal status.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		},
		[]string{"operation"},
	)
	// RequestsTotal counts HTTP requests by method, route and code.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lbaas",
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code.",
		},
		[]string{"method", "route", "code"},
	)
)

func init() {
	prometheus.MustRegister(ProvisioningOps, ProvisioningDuration, RequestsTotal)
}
