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
Package filter provides the adaptive filters that smooth raw path delay
samples: a scalar Kalman filter with online process and measurement
noise estimation, and a two-state variant that additionally tracks a
slow-varying bias.

Measurements are path delays in microseconds.
*/
package filter

import (
	log "github.com/sirupsen/logrus"
)

const (
	// history bound for innovation and NIS diagnostics
	maxHistory = 50
	// consecutive high-NIS updates before the filter is considered degraded
	nisLimit       = 5.0
	nisStreakLimit = 5
)

// Filter is a scalar estimator fed with raw measurements
type Filter interface {
	Update(measurement float64) float64
	Estimate() float64
}

// Kalman1DConfig holds the tunables of the adaptive scalar filter
type Kalman1DConfig struct {
	InitialEstimate float64 // microseconds
	WindowSize      int     // samples used for measurement noise estimation
	QScale          float64 // scales squared estimate change into process noise
	QMin            float64
	QMax            float64
}

// DefaultKalman1DConfig returns the configuration used by the client
// unless overridden
func DefaultKalman1DConfig() Kalman1DConfig {
	return Kalman1DConfig{
		InitialEstimate: 0.0,
		WindowSize:      20,
		QScale:          0.01,
		QMin:            1e-6,
		QMax:            10.0,
	}
}

// Kalman1D is an adaptive scalar Kalman filter. Measurement noise R is
// re-estimated from a sliding window of raw samples, process noise Q from
// the change of the estimate between updates.
type Kalman1D struct {
	cfg Kalman1DConfig

	estimate    float64 // x
	uncertainty float64 // P
	measNoise   float64 // R
	procNoise   float64 // Q
	gain        float64 // K

	prevEstimate float64
	hasPrev      bool

	window      *slidingWindow
	innoHistory []float64
	nisHistory  []float64
	nisStreak   int
}

// NewKalman1D creates the filter with the given configuration
func NewKalman1D(cfg Kalman1DConfig) *Kalman1D {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultKalman1DConfig().WindowSize
	}
	return &Kalman1D{
		cfg:         cfg,
		estimate:    cfg.InitialEstimate,
		uncertainty: 1.0,
		measNoise:   1.0,
		procNoise:   1.0,
		window:      newSlidingWindow(cfg.WindowSize),
	}
}

// Update feeds one raw measurement through the filter and returns the
// new estimate
func (f *Kalman1D) Update(measurement float64) float64 {
	f.updateMeasurementNoise(measurement)
	f.updateProcessNoise()
	// covariance extrapolation for constant dynamics: p = p + q
	f.uncertainty += f.procNoise
	f.calculateGain()

	innovation := measurement - f.estimate
	f.estimate += f.gain * innovation
	// p = (1-K)p
	f.uncertainty *= 1 - f.gain

	f.updateDiagnostics(measurement, innovation)
	return f.estimate
}

// R is the windowed unbiased sample variance of raw measurements.
// The clamp keeps the gain responsive on quiet links and damped on
// noisy ones.
func (f *Kalman1D) updateMeasurementNoise(measurement float64) {
	const (
		minR = 1.0
		maxR = 5.0
	)
	f.window.add(measurement)
	if f.window.len() < 2 {
		return
	}
	f.measNoise = clamp(f.window.variance(), minR, maxR)
}

// Q follows the squared change of the estimate between updates
func (f *Kalman1D) updateProcessNoise() {
	if f.hasPrev {
		delta := f.estimate - f.prevEstimate
		f.procNoise = clamp(f.cfg.QScale*delta*delta, f.cfg.QMin, f.cfg.QMax)
	}
	f.prevEstimate = f.estimate
	f.hasPrev = true
}

func (f *Kalman1D) calculateGain() {
	const (
		minRatio = 0.1
		maxRatio = 10.0
	)
	ratio := clamp(f.uncertainty/f.measNoise, minRatio, maxRatio)
	f.gain = ratio / (1.0 + ratio)
}

func (f *Kalman1D) updateDiagnostics(measurement, innovation float64) {
	f.innoHistory = push(f.innoHistory, innovation, maxHistory)
	s := f.uncertainty + f.measNoise
	nis := innovation * innovation / s
	f.nisHistory = push(f.nisHistory, nis, maxHistory)

	if nis > nisLimit {
		f.nisStreak++
	} else {
		f.nisStreak = 0
	}
	if f.nisStreak == nisStreakLimit+1 {
		log.Warningf("filter degraded: NIS > %.0f for %d consecutive updates", nisLimit, f.nisStreak)
	}

	log.Infof("raw: %.3f us | estimate: %.3f us | K: %.7f | R: %.7f | Q: %.7f | P: %.7f | inno mean: %.3f stddev: %.3f | NIS mean: %.3f",
		measurement, f.estimate, f.gain, f.measNoise, f.procNoise, f.uncertainty,
		mean(f.innoHistory), stddev(f.innoHistory), mean(f.nisHistory))
}

// Estimate returns the current estimate without updating
func (f *Kalman1D) Estimate() float64 { return f.estimate }

// EstimateUncertainty returns P
func (f *Kalman1D) EstimateUncertainty() float64 { return f.uncertainty }

// MeasurementNoise returns R
func (f *Kalman1D) MeasurementNoise() float64 { return f.measNoise }

// ProcessNoise returns Q
func (f *Kalman1D) ProcessNoise() float64 { return f.procNoise }

// Gain returns K
func (f *Kalman1D) Gain() float64 { return f.gain }

// WindowLen returns how many raw samples the estimation window holds
func (f *Kalman1D) WindowLen() int { return f.window.len() }

// NISMean returns the mean of the recent NIS history
func (f *Kalman1D) NISMean() float64 { return mean(f.nisHistory) }

// Degraded reports whether NIS has stayed high for too many updates
func (f *Kalman1D) Degraded() bool { return f.nisStreak > nisStreakLimit }
