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

package client

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/process"
	log "github.com/sirupsen/logrus"
)

var procStartTime = time.Now()

// collectRuntimeStats gathers process and go runtime statistics
func collectRuntimeStats() (map[string]uint64, error) {
	stats := make(map[string]uint64)
	m := &runtime.MemStats{}
	runtime.ReadMemStats(m)

	proc, err := process.NewProcess(int32(os.Getpid())) //#nosec G115
	if err != nil {
		return nil, err
	}
	stats["process.alive_since"] = uint64(procStartTime.Unix())
	stats["process.uptime"] = uint64(time.Now().Unix() - procStartTime.Unix())

	if val, err := proc.Percent(0); err == nil {
		stats["process.cpu_permil"] = uint64(val * 10)
	}
	if val, err := proc.MemoryInfo(); err == nil {
		stats["process.rss"] = val.RSS
		stats["process.vms"] = val.VMS
	}
	if val, err := proc.NumFDs(); err == nil {
		stats["process.num_fds"] = uint64(val)
	}
	if val, err := proc.NumThreads(); err == nil {
		stats["process.num_threads"] = uint64(val)
	}

	stats["runtime.cpu.goroutines"] = uint64(runtime.NumGoroutine())
	stats["runtime.mem.alloc"] = m.Alloc
	stats["runtime.mem.sys"] = m.Sys
	stats["runtime.mem.heap.inuse"] = m.HeapInuse
	stats["runtime.mem.gc.count"] = uint64(m.NumGC)
	stats["runtime.mem.gc.pause_total"] = m.PauseTotalNs
	return stats, nil
}

// runSysStats feeds process and runtime stats to the stats server on an
// interval
func (c *Client) runSysStats(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.SysStatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			collected, err := collectRuntimeStats()
			if err != nil {
				log.Warningf("failed to get system metrics: %v", err)
				continue
			}
			for k, v := range collected {
				c.stats.SetCounter(fmt.Sprintf("ptp.%s", k), int64(v)) //#nosec G115
			}
		}
	}
}
