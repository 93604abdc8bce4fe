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
Package protocol implements a simplified PTP wire format: the common
message header reduced to fixed-size fields, plus an 8-byte timestamp
body shared by Sync, Follow_Up, Delay_Req and Delay_Resp.

All multi-byte header fields are big-endian on the wire. Messages are
serialized field by field with encoding/binary, never by memory
reinterpretation.
*/
package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Header is the simplified common PTP message header
type Header struct {
	SdoIDAndMsgType    SdoIDAndMsgType // first 4 bits are SdoID, last 4 bits are msgtype
	Version            uint8           // last 4 bits are PTP version
	MessageLength      uint16
	DomainNumber       uint8
	Reserved1          uint8
	FlagField          uint16
	CorrectionField    int64 // nanoseconds
	Reserved2          uint32
	SourcePortIdentity [10]uint8 // 8 bytes clockIdentity + 2 bytes portNumber, opaque here
	SequenceID         uint16
	ControlField       uint8 // the use of this field is obsolete according to IEEE
	LogMessageInterval int8  // log2(interval) between messages
}

// MessageType returns MessageType
func (p *Header) MessageType() MessageType {
	return p.SdoIDAndMsgType.MsgType()
}

// PTPVersion extracts the version number from the version octet
func (p *Header) PTPVersion() uint8 {
	return p.Version & 0xf
}

// Wire sizes. Every message we exchange is a header followed by one Timestamp.
const (
	HeaderLen  = 34
	MessageLen = HeaderLen + 8
)

var errTooShort = fmt.Errorf("message shorter than %d bytes", MessageLen)

// Encode produces the full wire form of a message: a zero-filled header
// carrying only the message type and the big-endian sequence id, followed
// by the timestamp body. Output is always exactly MessageLen bytes.
func Encode(msgType MessageType, seq uint16, ts Timestamp) ([]byte, error) {
	var buf bytes.Buffer
	head := Header{
		SdoIDAndMsgType: NewSdoIDAndMsgType(msgType, 0),
		SequenceID:      seq,
	}
	if err := binary.Write(&buf, binary.BigEndian, &head); err != nil {
		return nil, err
	}
	// Timestamp fields are already in network order, so they are written
	// using the host's own byte order to keep the bytes as-is.
	if err := binary.Write(&buf, hostOrder, &ts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses a datagram into message type, sequence id and timestamp
// body. Datagrams shorter than MessageLen are rejected. A header nibble
// with no assigned message type decodes as MessageUnknown; callers are
// expected to drop such messages.
func Decode(b []byte) (MessageType, uint16, Timestamp, error) {
	if len(b) < MessageLen {
		return MessageUnknown, 0, Timestamp{}, errTooShort
	}
	r := bytes.NewReader(b)
	head := &Header{}
	if err := binary.Read(r, binary.BigEndian, head); err != nil {
		return MessageUnknown, 0, Timestamp{}, err
	}
	var ts Timestamp
	if err := binary.Read(r, hostOrder, &ts); err != nil {
		return MessageUnknown, 0, Timestamp{}, err
	}
	return head.MessageType(), head.SequenceID, ts, nil
}
