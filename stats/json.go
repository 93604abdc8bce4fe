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

package stats

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/ivnprad/ptp/protocol"
)

// JSONStats is what we want to report as stats via http
type JSONStats struct {
	sync.Mutex

	counters map[string]int64
	gauges   map[string]float64
}

// NewJSONStats returns a new JSONStats
func NewJSONStats() *JSONStats {
	return &JSONStats{
		counters: map[string]int64{},
		gauges:   map[string]float64{},
	}
}

// Start runs http server on the monitoring port
func (s *JSONStats) Start(monitoringport int) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRequest)
	addr := fmt.Sprintf(":%d", monitoringport)
	log.Infof("Starting http json server on %s", addr)
	err := http.ListenAndServe(addr, mux) //#nosec G114
	if err != nil {
		log.Fatalf("Failed to start listener: %v", err)
	}
}

func (s *JSONStats) handleRequest(w http.ResponseWriter, _ *http.Request) {
	s.Lock()
	defer s.Unlock()
	report := map[string]float64{}
	for k, v := range s.counters {
		report[k] = float64(v)
	}
	for k, v := range s.gauges {
		report[k] = v
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(report); err != nil {
		log.Errorf("Failed to encode stats to json: %v", err)
	}
}

func (s *JSONStats) inc(key string) {
	s.Lock()
	defer s.Unlock()
	s.counters[key]++
}

// IncRX atomically adds 1 to the received counter of the message type
func (s *JSONStats) IncRX(t protocol.MessageType) {
	s.inc(rxKey(t))
}

// IncTX atomically adds 1 to the sent counter of the message type
func (s *JSONStats) IncTX(t protocol.MessageType) {
	s.inc(txKey(t))
}

// IncMalformed counts datagrams dropped as undecodable or unknown
func (s *JSONStats) IncMalformed() {
	s.inc("ptp.packets.malformed")
}

// IncUnmatched counts Follow_Up/Delay_Resp that found no timestamp set
func (s *JSONStats) IncUnmatched() {
	s.inc("ptp.packets.unmatched")
}

// SetCounter sets an arbitrary counter to the value
func (s *JSONStats) SetCounter(key string, val int64) {
	s.Lock()
	defer s.Unlock()
	s.counters[key] = val
}

// SetFilter publishes the current filter state
func (s *JSONStats) SetFilter(estimate, gain, measNoise, procNoise, uncertainty, nisMean float64) {
	s.Lock()
	defer s.Unlock()
	s.gauges[filterKey("mean_path_delay_us")] = estimate
	s.gauges[filterKey("gain")] = gain
	s.gauges[filterKey("measurement_noise")] = measNoise
	s.gauges[filterKey("process_noise")] = procNoise
	s.gauges[filterKey("uncertainty")] = uncertainty
	s.gauges[filterKey("nis_mean")] = nisMean
}

// SetTimestampSets publishes the current size of the correlation store
func (s *JSONStats) SetTimestampSets(n int64) {
	s.SetCounter("ptp.timestamp_sets", n)
}

// Counters returns a snapshot of everything counted so far
func (s *JSONStats) Counters() map[string]int64 {
	s.Lock()
	defer s.Unlock()
	out := make(map[string]int64, len(s.counters))
	for k, v := range s.counters {
		out[k] = v
	}
	return out
}

// Gauges returns a snapshot of the float-valued stats
func (s *JSONStats) Gauges() map[string]float64 {
	s.Lock()
	defer s.Unlock()
	out := make(map[string]float64, len(s.gauges))
	for k, v := range s.gauges {
		out[k] = v
	}
	return out
}
