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
	"encoding/binary"
	"math/bits"
	"unsafe"

	"golang.org/x/exp/constraints"
)

// hostOrder is the byte order of the machine we run on.
// Timestamp keeps its fields in network order, so serializing one with
// hostOrder produces big-endian bytes on any host.
var hostOrder binary.ByteOrder = binary.LittleEndian

// hostIsBigEndian is a flag determining if the host stores integers in Big Endian
var hostIsBigEndian bool

func init() {
	var i uint16 = 0x0100
	ptr := unsafe.Pointer(&i)
	if *(*byte)(ptr) == 0x01 {
		// we are on the big endian machine
		hostIsBigEndian = true
		hostOrder = binary.BigEndian
	}
}

// HostToNetwork converts an integral value between host and network byte
// order. On big-endian hosts it is the identity. The conversion is its own
// inverse, so the same function converts both directions.
func HostToNetwork[T constraints.Integer](v T) T {
	if hostIsBigEndian {
		return v
	}
	switch unsafe.Sizeof(v) {
	case 1:
		return v
	case 2:
		return T(bits.ReverseBytes16(uint16(v)))
	case 4:
		return T(bits.ReverseBytes32(uint32(v)))
	default:
		return T(bits.ReverseBytes64(uint64(v)))
	}
}

// NetworkToHost converts a value read off the wire to host byte order.
func NetworkToHost[T constraints.Integer](v T) T {
	return HostToNetwork(v)
}
