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
	"time"
)

/*
Timestamp is the 8-byte message body of Sync, Follow_Up, Delay_Req and
Delay_Resp. Real PTP carries 48-bit seconds; the 32-bit form here is a
deliberate simplification and wraps in 2106.

Both fields are kept in network byte order so the struct can be written
to a wire buffer as-is. Use Nanos() to get a host-order value.
*/
type Timestamp struct {
	Seconds     uint32
	Nanoseconds uint32
}

// NewTimestamp builds a Timestamp from host-order seconds and nanoseconds
func NewTimestamp(seconds, nanoseconds uint32) Timestamp {
	return Timestamp{
		Seconds:     HostToNetwork(seconds),
		Nanoseconds: HostToNetwork(nanoseconds),
	}
}

// Nanos returns the timestamp as total nanoseconds since epoch, in host order
func (t Timestamp) Nanos() int64 {
	return int64(NetworkToHost(t.Seconds))*1000000000 + int64(NetworkToHost(t.Nanoseconds))
}

// Empty reports whether the timestamp carries no value
func (t Timestamp) Empty() bool {
	return t.Seconds == 0 && t.Nanoseconds == 0
}

func (t Timestamp) String() string {
	return fmt.Sprintf("Timestamp(%d.%09d)", NetworkToHost(t.Seconds), NetworkToHost(t.Nanoseconds))
}

// Now returns the current wall clock as a wire-ready Timestamp
func Now() Timestamp {
	ns := time.Now().UnixNano()
	return NewTimestamp(uint32(ns/1000000000), uint32(ns%1000000000)) //#nosec G115
}
