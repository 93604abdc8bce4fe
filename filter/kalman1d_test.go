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
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	// keep per-update observability lines out of test output
	log.SetLevel(log.ErrorLevel)
}

func TestKalman1DConstantInput(t *testing.T) {
	cfg := DefaultKalman1DConfig()
	cfg.InitialEstimate = 42.0
	f := NewKalman1D(cfg)

	for i := 0; i < 200; i++ {
		f.Update(42.0)
	}
	assert.InDelta(t, 42.0, f.Estimate(), 1e-9)
	assert.InDelta(t, cfg.QMin, f.ProcessNoise(), 1e-12)
	assert.Less(t, f.Gain(), 0.1)
}

func TestKalman1DStepInput(t *testing.T) {
	cfg := DefaultKalman1DConfig()
	f := NewKalman1D(cfg)

	for i := 0; i < 50; i++ {
		f.Update(0.0)
	}
	prev := f.Estimate()
	for i := 0; i < 10; i++ {
		got := f.Update(100.0)
		assert.GreaterOrEqual(t, got, prev)
		prev = got
	}
	assert.InDelta(t, 100.0, f.Estimate(), 5.0)
}

func TestKalman1DWindowBound(t *testing.T) {
	cfg := DefaultKalman1DConfig()
	f := NewKalman1D(cfg)

	for i := 0; i < cfg.WindowSize/2; i++ {
		f.Update(float64(i))
	}
	assert.Equal(t, cfg.WindowSize/2, f.WindowLen())

	for i := 0; i < 3*cfg.WindowSize; i++ {
		f.Update(float64(i))
	}
	assert.Equal(t, cfg.WindowSize, f.WindowLen())
}

func TestKalman1DNoiseBounds(t *testing.T) {
	cfg := DefaultKalman1DConfig()
	f := NewKalman1D(cfg)

	// deliberately wild inputs
	inputs := []float64{0, 1000, -1000, 3, 0.001, 500, 2, 2, 2, 900, -5}
	for i, z := range inputs {
		f.Update(z)
		assert.GreaterOrEqual(t, f.MeasurementNoise(), 1e-6)
		if i >= 1 {
			assert.GreaterOrEqual(t, f.ProcessNoise(), cfg.QMin)
			assert.LessOrEqual(t, f.ProcessNoise(), cfg.QMax)
		}
	}
}

func TestKalman1DFirstUpdateSkipsQ(t *testing.T) {
	f := NewKalman1D(DefaultKalman1DConfig())
	f.Update(10.0)
	// Q must keep its initial value on the very first update
	assert.Equal(t, 1.0, f.ProcessNoise())
}

func TestKalman1DDegradedStreak(t *testing.T) {
	f := NewKalman1D(DefaultKalman1DConfig())
	for i := 0; i < 20; i++ {
		f.Update(0.0)
	}
	require.False(t, f.Degraded())

	// alternating large jumps keep the innovation, and with it NIS, high
	for i := 0; i < 30; i++ {
		if i%2 == 0 {
			f.Update(1000.0)
		} else {
			f.Update(-1000.0)
		}
	}
	assert.True(t, f.Degraded())
}

func TestSlidingWindowVariance(t *testing.T) {
	w := newSlidingWindow(4)
	for _, v := range []float64{2, 4, 4, 6} {
		w.add(v)
	}
	// unbiased variance of {2,4,4,6} is 8/3
	assert.InDelta(t, 8.0/3.0, w.variance(), 1e-9)

	w.add(100)
	assert.Equal(t, 4, w.len())
	assert.NotContains(t, w.allSamples(), 2.0)
}
