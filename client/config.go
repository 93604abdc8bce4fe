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
	"fmt"
	"net"
	"time"

	"github.com/ivnprad/ptp/filter"
	"github.com/ivnprad/ptp/protocol"
)

// Supported path delay filters
const (
	FilterKalman     = "kalman"
	FilterKalmanBias = "kalmanbias"
)

// Config specifies Client run options
type Config struct {
	// ServerAddress is the host or IP of the master
	ServerAddress string
	// IP is the local IPv4 address to bind to
	IP net.IP
	// PortEvent is the UDP port for timing-critical messages
	PortEvent int
	// PortGeneral is the UDP port for everything else
	PortGeneral int
	// Interval between Delay_Req transmissions
	Interval time.Duration
	// GCInterval between cleanup passes over the correlation store
	GCInterval time.Duration
	// StaleTimeout after which an incomplete timestamp set is dropped
	StaleTimeout time.Duration
	// MaxSets bounds the correlation store
	MaxSets int
	// Filter selects the path delay estimator
	Filter string
	// Kalman configures the scalar estimator when Filter is FilterKalman
	Kalman filter.Kalman1DConfig
	// KalmanBias configures the two-state estimator when Filter is FilterKalmanBias
	KalmanBias filter.KalmanBiasConfig
	// MonitoringPort to run the json stats server on
	MonitoringPort int
	// SysStatsInterval between runtime stats collections, 0 disables them
	SysStatsInterval time.Duration
}

// DefaultConfig returns the client defaults
func DefaultConfig() *Config {
	return &Config{
		IP:               net.IPv4(127, 0, 0, 1),
		PortEvent:        protocol.PortEvent,
		PortGeneral:      protocol.PortGeneral,
		Interval:         protocol.DelayReqInterval,
		GCInterval:       protocol.CleanupInterval,
		StaleTimeout:     protocol.StaleTimeout,
		MaxSets:          protocol.MaxTimestampSets,
		Filter:           FilterKalmanBias,
		Kalman:           filter.DefaultKalman1DConfig(),
		KalmanBias:       filter.DefaultKalmanBiasConfig(),
		MonitoringPort:   8889,
		SysStatsInterval: time.Minute,
	}
}

func (c *Config) validate() error {
	if c.ServerAddress == "" {
		return fmt.Errorf("server address is required")
	}
	if c.IP == nil || c.IP.To4() == nil {
		return fmt.Errorf("local address must be an IPv4 address")
	}
	switch c.Filter {
	case FilterKalman, FilterKalmanBias:
	default:
		return fmt.Errorf("unsupported filter %q", c.Filter)
	}
	return nil
}

func (c *Config) newFilter() filter.Filter {
	if c.Filter == FilterKalman {
		return filter.NewKalman1D(c.Kalman)
	}
	return filter.NewKalmanBias(c.KalmanBias)
}

// ifaceByIP finds the network interface carrying the given address,
// needed to join the multicast groups on the right interface
func ifaceByIP(ip net.IP) (*net.Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	for i := range ifaces {
		addrs, err := ifaces[i].Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			if ipnet, ok := a.(*net.IPNet); ok && ipnet.IP.Equal(ip) {
				return &ifaces[i], nil
			}
		}
	}
	return nil, fmt.Errorf("no interface with address %s", ip)
}
