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
	"sync"
	"time"

	"github.com/ivnprad/ptp/protocol"
)

// timestampSet collects the four timestamps of one Sync cycle:
// t1 master sends Sync (carried by Follow_Up), t2 slave receives Sync,
// t3 slave sends Delay_Req, t4 master receives Delay_Req (carried by
// Delay_Resp)
type timestampSet struct {
	seq        uint16
	t1         protocol.Timestamp
	t2         protocol.Timestamp
	t3         protocol.Timestamp
	t4         protocol.Timestamp
	t1Received bool
	t2Received bool
	t3Sent     bool
	t4Received bool
	createdAt  time.Time
}

func (s *timestampSet) complete() bool {
	return s.t1Received && s.t2Received && s.t3Sent && s.t4Received
}

// pathDelay is ((t4-t1) - (t3-t2)) / 2 in nanoseconds
func (s *timestampSet) pathDelay() float64 {
	t1 := s.t1.Nanos()
	t2 := s.t2.Nanos()
	t3 := s.t3.Nanos()
	t4 := s.t4.Nanos()
	return float64((t4-t1)-(t3-t2)) / 2.0
}

// setStore is the ordered collection of timestamp sets, oldest first.
// Incoming Follow_Up and Delay_Resp are correlated by the sequence id
// they carry; all sets with that id are updated.
type setStore struct {
	sync.Mutex

	sets         []*timestampSet
	maxSets      int
	staleTimeout time.Duration

	// latest sequence id seen in a Sync, stamped into outgoing Delay_Req
	lastSeq    uint16
	hasLastSeq bool
}

func newSetStore(maxSets int, staleTimeout time.Duration) *setStore {
	return &setStore{
		maxSets:      maxSets,
		staleTimeout: staleTimeout,
	}
}

// addSync opens a new set for the cycle announced by a Sync message
func (st *setStore) addSync(seq uint16, t2 protocol.Timestamp, now time.Time) {
	st.Lock()
	defer st.Unlock()
	st.sets = append(st.sets, &timestampSet{
		seq:        seq,
		t2:         t2,
		t2Received: true,
		createdAt:  now,
	})
	st.lastSeq = seq
	st.hasLastSeq = true
}

// addFollowUp attaches t1 to every set of the cycle, returns how many matched
func (st *setStore) addFollowUp(seq uint16, t1 protocol.Timestamp) int {
	st.Lock()
	defer st.Unlock()
	matched := 0
	for _, s := range st.sets {
		if s.seq == seq {
			s.t1 = t1
			s.t1Received = true
			matched++
		}
	}
	return matched
}

// addDelayResp attaches t4 to every set of the cycle, returns how many matched
func (st *setStore) addDelayResp(seq uint16, t4 protocol.Timestamp) int {
	st.Lock()
	defer st.Unlock()
	matched := 0
	for _, s := range st.sets {
		if s.seq == seq {
			s.t4 = t4
			s.t4Received = true
			matched++
		}
	}
	return matched
}

// markDelayReqSent records t3 on every set of the cycle we are about to
// request a delay measurement for
func (st *setStore) markDelayReqSent(seq uint16, t3 protocol.Timestamp) int {
	st.Lock()
	defer st.Unlock()
	matched := 0
	for _, s := range st.sets {
		if s.seq == seq {
			s.t3 = t3
			s.t3Sent = true
			matched++
		}
	}
	return matched
}

// latestSeq returns the sequence id of the most recent Sync, if any
func (st *setStore) latestSeq() (uint16, bool) {
	st.Lock()
	defer st.Unlock()
	return st.lastSeq, st.hasLastSeq
}

// cleanup drops incomplete sets older than the stale timeout, then
// evicts from the front until the capacity bound holds. Complete sets
// are only ever evicted by capacity.
func (st *setStore) cleanup(now time.Time) (stale, evicted int) {
	st.Lock()
	defer st.Unlock()
	kept := st.sets[:0]
	for _, s := range st.sets {
		if !s.complete() && now.Sub(s.createdAt) > st.staleTimeout {
			stale++
			continue
		}
		kept = append(kept, s)
	}
	st.sets = kept
	for len(st.sets) > st.maxSets {
		st.sets = st.sets[1:]
		evicted++
	}
	return stale, evicted
}

// pathDelays returns positive delays of complete sets in microseconds,
// newest first, at most maxSets of them
func (st *setStore) pathDelays() []float64 {
	st.Lock()
	defer st.Unlock()
	delays := []float64{}
	considered := 0
	for i := len(st.sets) - 1; i >= 0 && considered < st.maxSets; i-- {
		s := st.sets[i]
		if !s.complete() {
			continue
		}
		considered++
		d := s.pathDelay()
		if d <= 0 {
			continue
		}
		delays = append(delays, d/1000.0)
	}
	return delays
}

func (st *setStore) len() int {
	st.Lock()
	defer st.Unlock()
	return len(st.sets)
}
