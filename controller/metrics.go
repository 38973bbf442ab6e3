// Copyright 2025 The packetd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package controller

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/telemetryd/telemetryd/common"
)

var (
	uptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: common.App,
			Name:      "uptime",
			Help:      "Uptime in seconds",
		},
	)

	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: common.App,
			Name:      "build_info",
			Help:      "Build information",
		},
		[]string{"version", "git_hash", "build_time"},
	)

	recordsRead = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: common.App,
			Name:      "records_read_total",
			Help:      "Telemetry records successfully decoded, including ones that later fail conversion",
		},
	)

	recordsFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: common.App,
			Name:      "records_failed_total",
			Help:      "Telemetry records dropped at any stage of the pipeline",
		},
	)

	bytesRead = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: common.App,
			Name:      "bytes_read_total",
			Help:      "Raw bytes read from watched input files",
		},
	)

	framesResynced = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: common.App,
			Name:      "frames_resynced_total",
			Help:      "Times the frame decoder had to resync past a malformed header",
		},
	)

	filesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: common.App,
			Name:      "files_in_flight",
			Help:      "Input files currently being ingested",
		},
	)
)
