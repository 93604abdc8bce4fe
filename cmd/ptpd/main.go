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

package main

import (
	"context"
	"flag"
	"net"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ivnprad/ptp/client"
	"github.com/ivnprad/ptp/server"
	"github.com/ivnprad/ptp/stats"
)

func main() {
	var (
		ipAddress      string
		clientMode     bool
		localAddress   string
		filterName     string
		logLevel       string
		monitoringPort int
		promPort       int
		interval       time.Duration
	)

	flag.StringVar(&ipAddress, "IpAddress", "", "IP address of the server (required with -Client)")
	flag.BoolVar(&clientMode, "Client", false, "run as slave; server is the default")
	flag.StringVar(&localAddress, "LocalAddress", "", "local IPv4 address to bind (default 127.0.0.10 as server, 127.0.0.1 as client)")
	flag.StringVar(&filterName, "filter", client.FilterKalmanBias, "path delay filter, kalman or kalmanbias")
	flag.StringVar(&logLevel, "loglevel", "info", "set a log level. Can be: debug, info, warning, error")
	flag.IntVar(&monitoringPort, "monitoringport", 0, "port to start monitoring http server on (default 8888 as server, 8889 as client)")
	flag.IntVar(&promPort, "promport", 0, "port to export prometheus metrics on, disabled if 0")
	flag.DurationVar(&interval, "interval", 0, "broadcast interval (server) or delay request interval (client), 0 keeps the defaults")
	flag.Parse()

	switch logLevel {
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warning":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.Fatalf("Unrecognized log level: %v", logLevel)
	}

	if clientMode && ipAddress == "" {
		log.Fatal("-IpAddress is required when -Client is specified")
	}

	st := stats.NewJSONStats()

	ctx := context.Background()
	if clientMode {
		cfg := client.DefaultConfig()
		cfg.ServerAddress = ipAddress
		cfg.Filter = filterName
		if localAddress != "" {
			cfg.IP = net.ParseIP(localAddress)
		}
		if interval != 0 {
			cfg.Interval = interval
		}
		if monitoringPort != 0 {
			cfg.MonitoringPort = monitoringPort
		}
		go st.Start(cfg.MonitoringPort)
		if promPort != 0 {
			go stats.NewPrometheusExporter(st, promPort, time.Minute).Start()
		}

		c, err := client.New(cfg, st)
		if err != nil {
			log.Fatal(err)
		}
		if err := c.Run(ctx); err != nil {
			log.Fatal(err)
		}
		return
	}

	cfg := server.DefaultConfig()
	cfg.IP = net.IPv4(127, 0, 0, 10)
	if localAddress != "" {
		cfg.IP = net.ParseIP(localAddress)
	}
	if ipAddress != "" {
		// unicast fallback target for loopback testing
		cfg.ClientIP = net.ParseIP(ipAddress)
	}
	if interval != 0 {
		cfg.Interval = interval
	}
	if monitoringPort != 0 {
		cfg.MonitoringPort = monitoringPort
	}
	go st.Start(cfg.MonitoringPort)
	if promPort != 0 {
		go stats.NewPrometheusExporter(st, promPort, time.Minute).Start()
	}

	s := &server.Server{
		Config: cfg,
		Stats:  st,
	}
	log.Infof("starting PTP server on %s, broadcasting every %v", cfg.IP, cfg.Interval)
	if err := s.Run(ctx); err != nil {
		log.Fatal(err)
	}
}
