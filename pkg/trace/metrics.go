// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package trace

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tracesPushed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flowtrace_traces_pushed_total",
		Help: "Total trace nodes pushed across all recorders",
	})

	tracesPopped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flowtrace_traces_popped_total",
		Help: "Total trace nodes popped across all recorders",
	})

	serializeFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flowtrace_serialize_fallbacks_total",
		Help: "Total values captured through the textual fallback because they failed structured serialization",
	})

	activeRecorders = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flowtrace_recorders_active",
		Help: "Recorders started and not yet ended",
	})

	streamsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flowtrace_streams_open",
		Help: "Streaming output proxies registered and not yet exhausted",
	})
)
