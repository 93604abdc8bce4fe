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
Package client implements the slave side of the simplified two-step
exchange. It listens for Sync and Follow_Up broadcasts, issues periodic
Delay_Req messages, correlates the four timestamps of every cycle by
sequence id and feeds completed path delay samples into an adaptive
Kalman filter.
*/
package client

import (
	"context"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/ivnprad/ptp/filter"
	"github.com/ivnprad/ptp/protocol"
	"github.com/ivnprad/ptp/stats"
)

// Client is the PTP slave
type Client struct {
	cfg   *Config
	stats stats.Stats

	eventConn   *net.UDPConn
	generalConn *net.UDPConn

	serverEventAddr *net.UDPAddr

	store *setStore
	flt   filter.Filter

	mu            sync.Mutex
	meanPathDelay float64
	hasDelay      bool
}

// New initializes a client from config
func New(cfg *Config, st stats.Stats) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Client{
		cfg:   cfg,
		stats: st,
		store: newSetStore(cfg.MaxSets, cfg.StaleTimeout),
		flt:   cfg.newFilter(),
	}, nil
}

// MeanPathDelay returns the current filtered path delay estimate in
// microseconds; false until the first completed measurement
func (c *Client) MeanPathDelay() (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.meanPathDelay, c.hasDelay
}

// Run binds the sockets and drives the listeners, the delay requester
// and the cleanup task until the context is cancelled or one of them
// fails
func (c *Client) Run(ctx context.Context) error {
	if err := c.setup(ctx); err != nil {
		return err
	}
	defer c.eventConn.Close()
	defer c.generalConn.Close()

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return c.listen(ctx, c.eventConn, c.handleEventPacket) })
	eg.Go(func() error { return c.listen(ctx, c.generalConn, c.handleGeneralPacket) })
	eg.Go(func() error { return c.runDelayRequester(ctx) })
	eg.Go(func() error { return c.runCleanup(ctx) })
	if c.cfg.SysStatsInterval > 0 {
		eg.Go(func() error { return c.runSysStats(ctx) })
	}
	return eg.Wait()
}

// reuseAddr lets multiple slaves share the well-known ports on one host
func reuseAddr(_, _ string, conn syscall.RawConn) error {
	var soerr error
	err := conn.Control(func(fd uintptr) {
		soerr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return soerr
}

func (c *Client) setup(ctx context.Context) error {
	serverEventAddr, err := net.ResolveUDPAddr("udp4",
		net.JoinHostPort(c.cfg.ServerAddress, fmt.Sprintf("%d", c.cfg.PortEvent)))
	if err != nil {
		return fmt.Errorf("resolving server endpoint: %w", err)
	}
	c.serverEventAddr = serverEventAddr
	log.Infof("PTP client will send delay requests to %v", serverEventAddr)

	lc := net.ListenConfig{Control: reuseAddr}
	c.eventConn, err = c.bind(ctx, &lc, c.cfg.PortEvent, protocol.MulticastEvent)
	if err != nil {
		return fmt.Errorf("event socket: %w", err)
	}
	c.generalConn, err = c.bind(ctx, &lc, c.cfg.PortGeneral, protocol.MulticastGeneral)
	if err != nil {
		return fmt.Errorf("general socket: %w", err)
	}
	return nil
}

func (c *Client) bind(ctx context.Context, lc *net.ListenConfig, port int, group net.IP) (*net.UDPConn, error) {
	pc, err := lc.ListenPacket(ctx, "udp4", net.JoinHostPort(c.cfg.IP.String(), fmt.Sprintf("%d", port)))
	if err != nil {
		return nil, fmt.Errorf("binding: %w", err)
	}
	conn := pc.(*net.UDPConn)
	if !c.cfg.IP.IsLoopback() {
		iface, err := ifaceByIP(c.cfg.IP)
		if err != nil {
			conn.Close()
			return nil, err
		}
		if err := ipv4.NewPacketConn(conn).JoinGroup(iface, &net.UDPAddr{IP: group}); err != nil {
			conn.Close()
			return nil, fmt.Errorf("joining %s on %s: %w", group, iface.Name, err)
		}
		log.Infof("joined multicast group %s on interface %s", group, iface.Name)
	}
	return conn, nil
}

// listen reads datagrams and hands each to the handler together with
// the local receive time
func (c *Client) listen(ctx context.Context, conn *net.UDPConn, handle func([]byte, protocol.Timestamp)) error {
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	buf := make([]byte, 1024)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("reading socket: %w", err)
		}
		rxts := protocol.Now()
		handle(buf[:n], rxts)
	}
}

// handleEventPacket processes datagrams from the event port. Only Sync
// opens a new timestamp set; everything else is dropped.
func (c *Client) handleEventPacket(b []byte, rxts protocol.Timestamp) {
	msgType, seq, _, err := protocol.Decode(b)
	if err != nil || msgType != protocol.MessageSync {
		c.stats.IncMalformed()
		log.Debugf("dropping event datagram: type %s, err %v", msgType, err)
		return
	}
	c.stats.IncRX(protocol.MessageSync)
	c.logReceive(protocol.MessageSync, "seq=%d, our receive time t2=%v", seq, rxts)

	c.store.addSync(seq, rxts, time.Now())
	c.stats.SetTimestampSets(int64(c.store.len()))
}

// handleGeneralPacket processes datagrams from the general port.
// Follow_Up and Delay_Resp are correlated by the sequence id they carry;
// ones that find no matching set are dropped and the next cycle retries.
func (c *Client) handleGeneralPacket(b []byte, _ protocol.Timestamp) {
	msgType, seq, ts, err := protocol.Decode(b)
	if err != nil {
		c.stats.IncMalformed()
		log.Debugf("dropping general datagram: %v", err)
		return
	}
	switch msgType {
	case protocol.MessageFollowUp:
		c.stats.IncRX(protocol.MessageFollowUp)
		c.logReceive(protocol.MessageFollowUp, "seq=%d, server sync transmit time t1=%v", seq, ts)
		if c.store.addFollowUp(seq, ts) == 0 {
			c.stats.IncUnmatched()
			log.Debugf("follow up seq=%d matches no timestamp set", seq)
		}
	case protocol.MessageDelayResp:
		c.stats.IncRX(protocol.MessageDelayResp)
		c.logReceive(protocol.MessageDelayResp, "seq=%d, server receive time t4=%v", seq, ts)
		if c.store.addDelayResp(seq, ts) == 0 {
			c.stats.IncUnmatched()
			log.Debugf("delay response seq=%d matches no timestamp set", seq)
			return
		}
		c.updateMeanPathDelay()
	default:
		c.stats.IncMalformed()
		log.Debugf("dropping general datagram of type %s", msgType)
	}
}

// runDelayRequester sends one Delay_Req per interval, carrying the
// sequence id of the latest Sync cycle
func (c *Client) runDelayRequester(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.sendDelayRequest(); err != nil {
				log.Errorf("sending delay request: %v", err)
			}
		}
	}
}

func (c *Client) sendDelayRequest() error {
	seq, ok := c.store.latestSeq()
	if !ok {
		// no Sync seen yet
		return nil
	}
	// t3 is recorded before the datagram leaves
	c.store.markDelayReqSent(seq, protocol.Now())
	b, err := protocol.Encode(protocol.MessageDelayReq, seq, protocol.Timestamp{})
	if err != nil {
		return err
	}
	if _, err := c.eventConn.WriteToUDP(b, c.serverEventAddr); err != nil {
		return err
	}
	c.stats.IncTX(protocol.MessageDelayReq)
	c.logSent(protocol.MessageDelayReq, "seq=%d", seq)
	return nil
}

// runCleanup periodically drops stale incomplete sets and enforces the
// capacity bound
func (c *Client) runCleanup(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.GCInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			stale, evicted := c.store.cleanup(time.Now())
			if stale > 0 || evicted > 0 {
				log.Infof("cleanup removed %d stale and %d overflow timestamp sets, %d left",
					stale, evicted, c.store.len())
			}
			c.stats.SetTimestampSets(int64(c.store.len()))
		}
	}
}

// updateMeanPathDelay recomputes delays over complete sets and feeds the
// latest sample into the filter
func (c *Client) updateMeanPathDelay() {
	delays := c.store.pathDelays()
	if len(delays) == 0 {
		return
	}
	estimate := c.flt.Update(delays[0])

	c.mu.Lock()
	c.meanPathDelay = estimate
	c.hasDelay = true
	c.mu.Unlock()

	c.publishFilterStats(estimate)
}

func (c *Client) publishFilterStats(estimate float64) {
	switch f := c.flt.(type) {
	case *filter.Kalman1D:
		c.stats.SetFilter(estimate, f.Gain(), f.MeasurementNoise(), f.ProcessNoise(), f.EstimateUncertainty(), f.NISMean())
	case *filter.KalmanBias:
		c.stats.SetFilter(estimate, f.Gain(), f.MeasurementNoise(), f.ProcessNoise(), f.EstimateUncertainty(), f.NISMean())
	}
}

// couple of helpers to log nice lines about happening communication
func (c *Client) logSent(t protocol.MessageType, msg string, v ...interface{}) {
	log.Infof(color.GreenString("client -> %s (%s)", t, fmt.Sprintf(msg, v...)))
}

func (c *Client) logReceive(t protocol.MessageType, msg string, v ...interface{}) {
	log.Infof(color.BlueString("server -> %s (%s)", t, fmt.Sprintf(msg, v...)))
}
