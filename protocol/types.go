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

package protocol

import (
	"fmt"
	"net"
	"time"
)

// Version is what version of PTP protocol we implement
const Version uint8 = 2

/* UDP port numbers
Real PTP uses 319 for event messages and 320 for general messages.
We deliberately run on unprivileged ports so the daemon doesn't need
CAP_NET_BIND_SERVICE.
*/
const (
	PortEvent   = 1319
	PortGeneral = 1320
)

// Multicast groups for event and general messages, as per Annex C of the standard
var (
	MulticastEvent   = net.IPv4(224, 0, 1, 129)
	MulticastGeneral = net.IPv4(224, 0, 1, 130)
)

// Exchange cadences and correlation limits shared by server and client
const (
	BroadcastInterval = 250 * time.Millisecond
	DelayReqInterval  = 2 * time.Second
	CleanupInterval   = 5 * time.Second
	StaleTimeout      = 4 * time.Second
	MaxTimestampSets  = 20
)

// MessageType is type for Message Types
type MessageType uint8

// As per Table 36 Values of messageType field
const (
	MessageSync               MessageType = 0x0
	MessageDelayReq           MessageType = 0x1
	MessagePDelayReq          MessageType = 0x2
	MessagePDelayResp         MessageType = 0x3
	MessageFollowUp           MessageType = 0x8
	MessageDelayResp          MessageType = 0x9
	MessagePDelayRespFollowUp MessageType = 0xA
	MessageAnnounce           MessageType = 0xB
	MessageSignaling          MessageType = 0xC
	MessageManagement         MessageType = 0xD
	// MessageUnknown is what every unassigned nibble value decodes to
	MessageUnknown MessageType = 0xFF
)

// MessageTypeToString is a map from MessageType to string
var MessageTypeToString = map[MessageType]string{
	MessageSync:               "SYNC",
	MessageDelayReq:           "DELAY_REQ",
	MessagePDelayReq:          "PDELAY_REQ",
	MessagePDelayResp:         "PDELAY_RESP",
	MessageFollowUp:           "FOLLOW_UP",
	MessageDelayResp:          "DELAY_RESP",
	MessagePDelayRespFollowUp: "PDELAY_RESP_FOLLOW_UP",
	MessageAnnounce:           "ANNOUNCE",
	MessageSignaling:          "SIGNALING",
	MessageManagement:         "MANAGEMENT",
	MessageUnknown:            "UNKNOWN",
}

func (m MessageType) String() string {
	if s, ok := MessageTypeToString[m]; ok {
		return s
	}
	return fmt.Sprintf("UNKNOWN(%#x)", uint8(m))
}

// SdoIDAndMsgType is a uint8 where first 4 bits contain SdoID and last 4 bits MessageType
type SdoIDAndMsgType uint8

// MsgType extracts MessageType from SdoIDAndMsgType. Nibble values with
// no assigned message type map to MessageUnknown.
func (m SdoIDAndMsgType) MsgType() MessageType {
	t := MessageType(m & 0xf) // last 4 bits
	if _, ok := MessageTypeToString[t]; !ok {
		return MessageUnknown
	}
	return t
}

// NewSdoIDAndMsgType builds new SdoIDAndMsgType from MessageType and flags
func NewSdoIDAndMsgType(msgType MessageType, sdoID uint8) SdoIDAndMsgType {
	return SdoIDAndMsgType(sdoID<<4 | uint8(msgType))
}

// ProbeMsgType reads first 8 bits of data and tries to decode it to SdoIDAndMsgType, then return MessageType
func ProbeMsgType(data []byte) (msg MessageType, err error) {
	if len(data) < 1 {
		return 0, fmt.Errorf("not enough data to probe MsgType")
	}
	return SdoIDAndMsgType(data[0]).MsgType(), nil
}
