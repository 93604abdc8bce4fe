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

package filter

import (
	"math"

	"container/ring"
)

// slidingWindow keeps the last N samples for windowed noise estimation
type slidingWindow struct {
	size        int
	currentSize int
	samples     *ring.Ring
}

func newSlidingWindow(size int) *slidingWindow {
	if size < 1 {
		size = 1
	}
	w := &slidingWindow{
		size:    size,
		samples: ring.New(size),
	}
	for i := 0; i < w.size; i++ {
		w.samples.Value = math.NaN()
		w.samples = w.samples.Next()
	}
	return w
}

func (w *slidingWindow) add(sample float64) {
	w.samples = w.samples.Next()
	if w.currentSize < w.size {
		w.currentSize++
	}
	w.samples.Value = sample
}

func (w *slidingWindow) len() int {
	return w.currentSize
}

func (w *slidingWindow) allSamples() []float64 {
	s := []float64{}
	r := w.samples
	for j := 0; j < w.size; j++ {
		v := r.Value.(float64)
		if !math.IsNaN(v) {
			s = append(s, v)
		}
		r = r.Prev()
	}
	return s
}

// variance is the unbiased sample variance of the window contents
func (w *slidingWindow) variance() float64 {
	return variance(w.allSamples())
}
