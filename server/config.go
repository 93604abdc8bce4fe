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

package server

import (
	"fmt"
	"net"
	"time"

	"github.com/ivnprad/ptp/protocol"
)

// Config specifies Server run options
type Config struct {
	// IP is the local IPv4 address to bind and send from
	IP net.IP
	// ClientIP is the unicast target used instead of the multicast
	// groups when IP is a loopback address (local testing)
	ClientIP net.IP
	// PortEvent is the UDP port for timing-critical messages
	PortEvent int
	// PortGeneral is the UDP port for everything else
	PortGeneral int
	// Interval between Sync broadcasts
	Interval time.Duration
	// MonitoringPort to run the json stats server on
	MonitoringPort int
}

// DefaultConfig returns the server defaults
func DefaultConfig() *Config {
	return &Config{
		ClientIP:       net.IPv4(127, 0, 0, 1),
		PortEvent:      protocol.PortEvent,
		PortGeneral:    protocol.PortGeneral,
		Interval:       protocol.BroadcastInterval,
		MonitoringPort: 8888,
	}
}

func (c *Config) validate() error {
	if c.IP == nil || c.IP.To4() == nil {
		return fmt.Errorf("local address must be an IPv4 address")
	}
	if c.Interval <= 0 {
		return fmt.Errorf("broadcast interval must be positive")
	}
	return nil
}

// ifaceByIP finds the network interface carrying the given address,
// needed to pick the outbound interface for multicast
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
