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
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivnprad/ptp/protocol"
	"github.com/ivnprad/ptp/stats"
)

func listenLoopback(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.Nil(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *net.UDPConn) (protocol.MessageType, uint16, protocol.Timestamp) {
	t.Helper()
	buf := make([]byte, protocol.MessageLen)
	require.Nil(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	n, _, err := conn.ReadFromUDP(buf)
	require.Nil(t, err)
	msgType, seq, ts, err := protocol.Decode(buf[:n])
	require.Nil(t, err)
	return msgType, seq, ts
}

func testServer(t *testing.T) (*Server, *net.UDPConn, *net.UDPConn) {
	t.Helper()
	eventRecv := listenLoopback(t)
	generalRecv := listenLoopback(t)

	eventConn := listenLoopback(t)
	generalConn := listenLoopback(t)

	s := &Server{
		Config: &Config{
			IP:          net.IPv4(127, 0, 0, 1),
			PortEvent:   eventRecv.LocalAddr().(*net.UDPAddr).Port,
			PortGeneral: generalRecv.LocalAddr().(*net.UDPAddr).Port,
			Interval:    protocol.BroadcastInterval,
		},
		Stats:       stats.NewJSONStats(),
		eventConn:   eventConn,
		generalConn: generalConn,
		eventDst:    eventRecv.LocalAddr().(*net.UDPAddr),
		generalDst:  generalRecv.LocalAddr().(*net.UDPAddr),
	}
	return s, eventRecv, generalRecv
}

func TestBroadcastOnce(t *testing.T) {
	s, eventRecv, generalRecv := testServer(t)
	s.sequence = 7

	s.broadcastOnce()

	msgType, seq, ts := readMessage(t, eventRecv)
	assert.Equal(t, protocol.MessageSync, msgType)
	assert.Equal(t, uint16(7), seq)
	assert.True(t, ts.Empty(), "sync body must be a zero timestamp")

	msgType, seq, ts = readMessage(t, generalRecv)
	assert.Equal(t, protocol.MessageFollowUp, msgType)
	assert.Equal(t, uint16(7), seq)
	assert.False(t, ts.Empty(), "follow up must carry the sync transmit time")

	assert.Equal(t, uint16(8), s.sequence)
}

func TestBroadcastSendFailureKeepsSequence(t *testing.T) {
	s, _, _ := testServer(t)
	s.sequence = 3
	// a closed socket makes the sync send fail
	s.eventConn.Close()

	s.broadcastOnce()
	assert.Equal(t, uint16(3), s.sequence)
}

func TestBroadcastSequenceWraps(t *testing.T) {
	s, eventRecv, generalRecv := testServer(t)
	s.sequence = 0xFFFF

	s.broadcastOnce()
	_, seq, _ := readMessage(t, eventRecv)
	assert.Equal(t, uint16(0xFFFF), seq)
	readMessage(t, generalRecv)
	assert.Equal(t, uint16(0), s.sequence)
}

func TestHandleDelayReqEchoesSequence(t *testing.T) {
	s, _, generalRecv := testServer(t)
	// the broadcast counter must never leak into a Delay_Resp
	s.sequence = 999

	req, err := protocol.Encode(protocol.MessageDelayReq, 0x0102, protocol.Timestamp{})
	require.Nil(t, err)
	t4 := protocol.NewTimestamp(100, 500)
	s.handleDelayReq(t4, req, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 12345})

	msgType, seq, ts := readMessage(t, generalRecv)
	assert.Equal(t, protocol.MessageDelayResp, msgType)
	assert.Equal(t, uint16(0x0102), seq)
	assert.Equal(t, t4, ts)
}

func TestHandleDelayReqDropsOtherTypes(t *testing.T) {
	s, _, generalRecv := testServer(t)

	b, err := protocol.Encode(protocol.MessageSync, 1, protocol.Timestamp{})
	require.Nil(t, err)
	s.handleDelayReq(protocol.Now(), b, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 12345})

	s.handleDelayReq(protocol.Now(), []byte{0x1}, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 12345})

	buf := make([]byte, protocol.MessageLen)
	require.Nil(t, generalRecv.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err = generalRecv.ReadFromUDP(buf)
	assert.Error(t, err, "no response may be sent for non Delay_Req datagrams")

	c := s.Stats.Counters()
	assert.Equal(t, int64(2), c["ptp.packets.malformed"])
}
