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
	"net"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivnprad/ptp/protocol"
	"github.com/ivnprad/ptp/stats"
)

func init() {
	log.SetLevel(log.ErrorLevel)
}

func testClient(t *testing.T) *Client {
	t.Helper()
	cfg := DefaultConfig()
	cfg.ServerAddress = "127.0.0.1"
	cfg.Filter = FilterKalman
	c, err := New(cfg, stats.NewJSONStats())
	require.Nil(t, err)
	return c
}

func encode(t *testing.T, msgType protocol.MessageType, seq uint16, ts protocol.Timestamp) []byte {
	t.Helper()
	b, err := protocol.Encode(msgType, seq, ts)
	require.Nil(t, err)
	return b
}

func TestClientFullExchange(t *testing.T) {
	c := testClient(t)

	// Sync opens the set with our receive time as t2
	c.handleEventPacket(encode(t, protocol.MessageSync, 7, protocol.Timestamp{}), nanos(150))
	// Follow_Up carries the real transmit time t1
	c.handleGeneralPacket(encode(t, protocol.MessageFollowUp, 7, nanos(100)), protocol.Timestamp{})
	// delay requester stamps t3 before sending
	require.Equal(t, 1, c.store.markDelayReqSent(7, nanos(1000)))
	// Delay_Resp completes the set and triggers the filter update
	c.handleGeneralPacket(encode(t, protocol.MessageDelayResp, 7, nanos(1080)), protocol.Timestamp{})

	got, ok := c.MeanPathDelay()
	require.True(t, ok)
	// a single 65ns sample through a fresh filter stays well below 1us
	assert.Greater(t, got, 0.0)
	assert.Less(t, got, 1.0)

	counters := c.stats.Counters()
	assert.Equal(t, int64(1), counters["ptp.portstats.rx.SYNC"])
	assert.Equal(t, int64(1), counters["ptp.portstats.rx.FOLLOW_UP"])
	assert.Equal(t, int64(1), counters["ptp.portstats.rx.DELAY_RESP"])
}

func TestClientDropsUnmatchedGeneral(t *testing.T) {
	c := testClient(t)

	c.handleGeneralPacket(encode(t, protocol.MessageFollowUp, 9, nanos(100)), protocol.Timestamp{})
	c.handleGeneralPacket(encode(t, protocol.MessageDelayResp, 9, nanos(100)), protocol.Timestamp{})

	_, ok := c.MeanPathDelay()
	assert.False(t, ok)
	assert.Equal(t, int64(2), c.stats.Counters()["ptp.packets.unmatched"])
}

func TestClientDropsMalformed(t *testing.T) {
	c := testClient(t)

	c.handleEventPacket([]byte{0x00, 0x01}, protocol.Now())
	c.handleGeneralPacket([]byte{0x08}, protocol.Timestamp{})
	// announce is valid PTP but nothing we process
	c.handleGeneralPacket(encode(t, protocol.MessageAnnounce, 1, protocol.Timestamp{}), protocol.Timestamp{})
	// delay_req on the event port is not a Sync
	c.handleEventPacket(encode(t, protocol.MessageDelayReq, 1, protocol.Timestamp{}), protocol.Now())

	assert.Equal(t, 0, c.store.len())
	assert.Equal(t, int64(4), c.stats.Counters()["ptp.packets.malformed"])
}

func TestClientNegativeDelayLeavesFilterAlone(t *testing.T) {
	c := testClient(t)

	c.handleEventPacket(encode(t, protocol.MessageSync, 5, protocol.Timestamp{}), nanos(100))
	c.handleGeneralPacket(encode(t, protocol.MessageFollowUp, 5, nanos(90)), protocol.Timestamp{})
	require.Equal(t, 1, c.store.markDelayReqSent(5, nanos(5000)))
	c.handleGeneralPacket(encode(t, protocol.MessageDelayResp, 5, nanos(95)), protocol.Timestamp{})

	_, ok := c.MeanPathDelay()
	assert.False(t, ok)
}

func TestClientSendDelayRequestWithoutSync(t *testing.T) {
	c := testClient(t)
	// nothing to request before the first Sync, and no socket is needed
	assert.Nil(t, c.sendDelayRequest())
}

func TestClientSendDelayRequest(t *testing.T) {
	c := testClient(t)

	recv, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.Nil(t, err)
	defer recv.Close()
	send, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.Nil(t, err)
	defer send.Close()
	c.eventConn = send
	c.serverEventAddr = recv.LocalAddr().(*net.UDPAddr)

	c.handleEventPacket(encode(t, protocol.MessageSync, 0x0102, protocol.Timestamp{}), nanos(150))
	require.Nil(t, c.sendDelayRequest())

	buf := make([]byte, protocol.MessageLen)
	require.Nil(t, recv.SetReadDeadline(time.Now().Add(time.Second)))
	n, _, err := recv.ReadFromUDP(buf)
	require.Nil(t, err)
	msgType, seq, ts, err := protocol.Decode(buf[:n])
	require.Nil(t, err)
	assert.Equal(t, protocol.MessageDelayReq, msgType)
	assert.Equal(t, uint16(0x0102), seq)
	assert.True(t, ts.Empty())

	// t3 was stamped on the set before the send
	c.store.Lock()
	assert.True(t, c.store.sets[0].t3Sent)
	c.store.Unlock()
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	assert.Error(t, cfg.validate(), "server address is required")

	cfg.ServerAddress = "192.168.0.1"
	assert.Nil(t, cfg.validate())

	cfg.Filter = "median"
	assert.Error(t, cfg.validate())

	cfg = DefaultConfig()
	cfg.ServerAddress = "192.168.0.1"
	cfg.IP = nil
	assert.Error(t, cfg.validate())
}
