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
	log "github.com/sirupsen/logrus"
)

// KalmanBiasConfig holds the tunables of the two-state filter
type KalmanBiasConfig struct {
	InitialEstimate    float64 // microseconds
	InitialUncertainty float64
	ProcessNoise       float64
	MeasurementNoise   float64
	QScale             float64
	QMin               float64
	QMax               float64
}

// DefaultKalmanBiasConfig returns the configuration used by the client
// unless overridden
func DefaultKalmanBiasConfig() KalmanBiasConfig {
	return KalmanBiasConfig{
		InitialEstimate:    0.0,
		InitialUncertainty: 1000.0,
		ProcessNoise:       0.1,
		MeasurementNoise:   1.0,
		QScale:             0.1,
		QMin:               1e-6,
		QMax:               1.0,
	}
}

// KalmanBias tracks the pair (value, bias) under the observation model
// z = value + bias + noise. The bias state moves on a much smaller
// process noise, so it absorbs only the slow-varying component of the
// signal. R adapts from the mean of recent NIS values.
type KalmanBias struct {
	cfg KalmanBiasConfig

	estimate    float64 // x
	uncertainty float64 // P
	measNoise   float64 // R
	procNoise   float64 // Q
	gain        float64 // K

	bias          float64
	biasUncert    float64 // Pb
	biasProcNoise float64 // Qb, fixed
	biasGain      float64 // Kb

	prevEstimate float64
	hasPrev      bool

	innoHistory []float64
	nisHistory  []float64
}

// NewKalmanBias creates the filter with the given configuration
func NewKalmanBias(cfg KalmanBiasConfig) *KalmanBias {
	return &KalmanBias{
		cfg:           cfg,
		estimate:      cfg.InitialEstimate,
		uncertainty:   cfg.InitialUncertainty,
		measNoise:     cfg.MeasurementNoise,
		procNoise:     cfg.ProcessNoise,
		bias:          0.0,
		biasUncert:    1.0,
		biasProcNoise: 1e-6,
	}
}

// Update feeds one raw measurement through the filter and returns the
// new value estimate. The bias estimate is observable via Bias().
func (f *KalmanBias) Update(measurement float64) float64 {
	// covariance extrapolation for both states
	f.uncertainty += f.procNoise
	f.biasUncert += f.biasProcNoise

	s := f.uncertainty + f.biasUncert + f.measNoise
	f.gain = f.uncertainty / s
	f.biasGain = f.biasUncert / s

	innovation := measurement - (f.estimate + f.bias)
	f.innoHistory = push(f.innoHistory, innovation, maxHistory)
	nis := innovation * innovation / s
	f.nisHistory = push(f.nisHistory, nis, maxHistory)

	f.estimate += f.gain * innovation
	f.bias += f.biasGain * innovation

	f.uncertainty *= 1 - f.gain
	f.biasUncert *= 1 - f.biasGain

	f.updateProcessNoise()
	f.updateMeasurementNoise()

	log.Infof("raw: %.3f us | estimate: %.3f us | bias: %.3f | K: %.7f | R: %.7f | Q: %.6f | P: %.7f | inno mean: %.3f | NIS mean: %.3f",
		measurement, f.estimate, f.bias, f.gain, f.measNoise, f.procNoise, f.uncertainty,
		mean(f.innoHistory), mean(f.nisHistory))

	return f.estimate
}

func (f *KalmanBias) updateProcessNoise() {
	if f.hasPrev {
		delta := f.estimate - f.prevEstimate
		f.procNoise = clamp(f.cfg.QScale*delta*delta, f.cfg.QMin, f.cfg.QMax)
	}
	f.prevEstimate = f.estimate
	f.hasPrev = true
}

// R adaptation driven by the NIS consistency statistic: a mean NIS above
// one means innovations are larger than the model explains, so R grows;
// below one it shrinks. Extreme means indicate a transient, not noise,
// and are skipped.
func (f *KalmanBias) updateMeasurementNoise() {
	meanNIS := mean(f.nisHistory)
	if meanNIS > 0.01 && meanNIS < 100 {
		f.measNoise = clamp(f.measNoise*meanNIS, 1.0, 100.0)
	}
}

// Estimate returns the current value estimate without updating
func (f *KalmanBias) Estimate() float64 { return f.estimate }

// Bias returns the tracked bias state
func (f *KalmanBias) Bias() float64 { return f.bias }

// MeasurementNoise returns R
func (f *KalmanBias) MeasurementNoise() float64 { return f.measNoise }

// ProcessNoise returns Q for the value state
func (f *KalmanBias) ProcessNoise() float64 { return f.procNoise }

// Gain returns K for the value state
func (f *KalmanBias) Gain() float64 { return f.gain }

// EstimateUncertainty returns P for the value state
func (f *KalmanBias) EstimateUncertainty() float64 { return f.uncertainty }

// NISMean returns the mean of the recent NIS history
func (f *KalmanBias) NISMean() float64 { return mean(f.nisHistory) }
