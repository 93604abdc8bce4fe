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
Package server implements the master side of the simplified two-step
exchange: a periodic Sync+Follow_Up broadcast and a Delay_Resp handler
that timestamps Delay_Req datagrams on arrival.
*/
package server

import (
	"context"
	"fmt"
	"net"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"
	"golang.org/x/sync/errgroup"

	"github.com/ivnprad/ptp/protocol"
	"github.com/ivnprad/ptp/stats"
)

// Server is the PTP master
type Server struct {
	Config *Config
	Stats  stats.Stats

	eventConn   *net.UDPConn
	generalConn *net.UDPConn

	eventDst   *net.UDPAddr
	generalDst *net.UDPAddr

	sequence uint16
	syncTS   protocol.Timestamp
}

// Run binds the sockets and drives the broadcast and receive loops until
// the context is cancelled or one of them fails
func (s *Server) Run(ctx context.Context) error {
	if err := s.setup(); err != nil {
		return err
	}
	defer s.eventConn.Close()
	defer s.generalConn.Close()

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return s.broadcast(ctx) })
	eg.Go(func() error { return s.receive(ctx) })
	return eg.Wait()
}

func (s *Server) setup() error {
	if err := s.Config.validate(); err != nil {
		return err
	}

	var err error
	s.eventConn, err = net.ListenUDP("udp4", &net.UDPAddr{IP: s.Config.IP, Port: s.Config.PortEvent})
	if err != nil {
		return fmt.Errorf("binding event socket: %w", err)
	}
	s.generalConn, err = net.ListenUDP("udp4", &net.UDPAddr{IP: s.Config.IP, Port: s.Config.PortGeneral})
	if err != nil {
		return fmt.Errorf("binding general socket: %w", err)
	}

	if s.Config.IP.IsLoopback() {
		// multicast doesn't leave a loopback adapter, fall back to unicast
		s.eventDst = &net.UDPAddr{IP: s.Config.ClientIP, Port: s.Config.PortEvent}
		s.generalDst = &net.UDPAddr{IP: s.Config.ClientIP, Port: s.Config.PortGeneral}
		log.Infof("loopback adapter, sending unicast to %s", s.Config.ClientIP)
	} else {
		iface, err := ifaceByIP(s.Config.IP)
		if err != nil {
			return err
		}
		if err := ipv4.NewPacketConn(s.eventConn).SetMulticastInterface(iface); err != nil {
			return fmt.Errorf("setting multicast interface on event socket: %w", err)
		}
		if err := ipv4.NewPacketConn(s.generalConn).SetMulticastInterface(iface); err != nil {
			return fmt.Errorf("setting multicast interface on general socket: %w", err)
		}
		s.eventDst = &net.UDPAddr{IP: protocol.MulticastEvent, Port: s.Config.PortEvent}
		s.generalDst = &net.UDPAddr{IP: protocol.MulticastGeneral, Port: s.Config.PortGeneral}
	}

	log.Infof("PTP server listening on event port %d and general port %d", s.Config.PortEvent, s.Config.PortGeneral)
	return nil
}

// broadcast sends a Sync followed by its Follow_Up on every tick. The
// sequence counter advances only after both messages went out.
func (s *Server) broadcast(ctx context.Context) error {
	ticker := time.NewTicker(s.Config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.broadcastOnce()
		}
	}
}

func (s *Server) broadcastOnce() {
	if err := s.sendSync(); err != nil {
		log.Errorf("sending sync: %v", err)
		return
	}
	// two-step semantics: the Follow_Up carries the Sync transmit time,
	// captured right after the send completed
	s.syncTS = protocol.Now()
	if err := s.sendFollowUp(); err != nil {
		log.Errorf("sending follow up: %v", err)
		return
	}
	s.sequence++
}

func (s *Server) sendSync() error {
	b, err := protocol.Encode(protocol.MessageSync, s.sequence, protocol.Timestamp{})
	if err != nil {
		return err
	}
	n, err := s.eventConn.WriteToUDP(b, s.eventDst)
	if err != nil {
		return err
	}
	if n != len(b) {
		return fmt.Errorf("short write: sent %d bytes, expected %d", n, len(b))
	}
	s.Stats.IncTX(protocol.MessageSync)
	return nil
}

func (s *Server) sendFollowUp() error {
	b, err := protocol.Encode(protocol.MessageFollowUp, s.sequence, s.syncTS)
	if err != nil {
		return err
	}
	n, err := s.generalConn.WriteToUDP(b, s.generalDst)
	if err != nil {
		return err
	}
	if n != len(b) {
		return fmt.Errorf("short write: sent %d bytes, expected %d", n, len(b))
	}
	s.Stats.IncTX(protocol.MessageFollowUp)
	return nil
}

// receive accepts datagrams on the event socket, timestamps each on
// arrival and hands it to a handler goroutine so the next datagram can
// be accepted immediately
func (s *Server) receive(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.eventConn.Close()
	}()
	for {
		buf := make([]byte, protocol.MessageLen)
		n, addr, err := s.eventConn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("reading event socket: %w", err)
		}
		t4 := protocol.Now()
		// the handler owns buf and addr
		go s.handleDelayReq(t4, buf[:n], addr)
	}
}

// handleDelayReq answers one Delay_Req with a Delay_Resp carrying the
// receive timestamp and echoing the request's own sequence id
func (s *Server) handleDelayReq(t4 protocol.Timestamp, b []byte, addr *net.UDPAddr) {
	msgType, seq, _, err := protocol.Decode(b)
	if err != nil || msgType != protocol.MessageDelayReq {
		s.Stats.IncMalformed()
		log.Debugf("ignoring datagram from %v: type %s, err %v", addr, msgType, err)
		return
	}
	s.Stats.IncRX(protocol.MessageDelayReq)

	resp, err := protocol.Encode(protocol.MessageDelayResp, seq, t4)
	if err != nil {
		log.Errorf("building delay response: %v", err)
		return
	}
	dst := &net.UDPAddr{IP: addr.IP, Port: s.Config.PortGeneral}
	if _, err := s.generalConn.WriteToUDP(resp, dst); err != nil {
		log.Errorf("sending delay response to %v: %v", dst, err)
		return
	}
	s.Stats.IncTX(protocol.MessageDelayResp)
	log.Debugf("answered delay request seq=%d from %v, t4=%v", seq, addr, t4)
}
