/*
Copyright (c) Facebook, Inc. and its affiliates.

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

/*
Package stats exposes the counters and gauges of the PTP exchange over a
JSON monitoring endpoint, optionally re-exported as Prometheus gauges.
*/
package stats

import (
	"fmt"

	"github.com/ivnprad/ptp/protocol"
)

// counter key prefixes, compatible with the portstats naming scheme
const (
	PortStatsTxPrefix = "ptp.portstats.tx."
	PortStatsRxPrefix = "ptp.portstats.rx."
	FilterPrefix      = "ptp.filter."
)

// Stats is a collection of what we want to monitor at runtime
type Stats interface {
	// IncRX atomically adds 1 to the received counter of the message type
	IncRX(t protocol.MessageType)
	// IncTX atomically adds 1 to the sent counter of the message type
	IncTX(t protocol.MessageType)
	// IncMalformed counts datagrams dropped as undecodable or unknown
	IncMalformed()
	// IncUnmatched counts Follow_Up/Delay_Resp that found no timestamp set
	IncUnmatched()
	// SetCounter sets an arbitrary counter to the value
	SetCounter(key string, val int64)
	// SetFilter publishes the current filter state
	SetFilter(estimate, gain, measNoise, procNoise, uncertainty, nisMean float64)
	// SetTimestampSets publishes the current size of the correlation store
	SetTimestampSets(n int64)
	// Counters returns a snapshot of everything counted so far
	Counters() map[string]int64
}

func rxKey(t protocol.MessageType) string {
	return PortStatsRxPrefix + t.String()
}

func txKey(t protocol.MessageType) string {
	return PortStatsTxPrefix + t.String()
}

func filterKey(name string) string {
	return fmt.Sprintf("%s%s", FilterPrefix, name)
}
