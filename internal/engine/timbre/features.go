// Timbre - Acoustic Similarity Server for Personal Music Libraries
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timbre

package timbre

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
	"gonum.org/v1/gonum/dsp/fourier"
)

// Analysis parameters. Changing any of them changes FeatureVersion.
const (
	FrameSize      = 1024
	HopSize        = 512
	MelBands       = 36
	Coefficients   = 20
	FeatureVersion = 1

	// minFrames is the shortest usable analysis, about one second.
	minFrames = 2 * Coefficients

	// covariance ridge keeping every model positive definite
	ridge = 1e-3
)

var featureMagic = [4]byte{'T', 'M', 'B', 'R'}

// ErrTooShort is returned for audio with too few frames to model.
var ErrTooShort = errors.New("timbre: audio too short to analyse")

// ErrBadFeatures is returned for blobs this engine did not produce.
var ErrBadFeatures = errors.New("timbre: malformed feature blob")

// featureSize is the encoded blob length for d coefficients: header,
// mean, then the upper triangle of the covariance, all float32.
func featureSize(d int) int {
	return 8 + 4*(d+d*(d+1)/2)
}

// melFilterbank builds triangular filters over the FrameSize/2+1 power
// bins, equally spaced on the mel scale from 0 Hz to Nyquist.
func melFilterbank() [][]float64 {
	bins := FrameSize/2 + 1
	hzToMel := func(f float64) float64 { return 2595 * math.Log10(1+f/700) }
	melToHz := func(m float64) float64 { return 700 * (math.Pow(10, m/2595) - 1) }

	maxMel := hzToMel(SampleRate / 2)
	centers := make([]float64, MelBands+2)
	for i := range centers {
		hz := melToHz(maxMel * float64(i) / float64(MelBands+1))
		centers[i] = hz * float64(FrameSize) / SampleRate
	}

	bank := make([][]float64, MelBands)
	for b := range bank {
		lo, mid, hi := centers[b], centers[b+1], centers[b+2]
		f := make([]float64, bins)
		for k := range f {
			x := float64(k)
			switch {
			case x > lo && x <= mid:
				f[k] = (x - lo) / (mid - lo)
			case x > mid && x < hi:
				f[k] = (hi - x) / (hi - mid)
			}
		}
		bank[b] = f
	}
	return bank
}

var filterbank = melFilterbank()

// mfccFrames computes Coefficients MFCCs per frame.
func mfccFrames(samples []float64) [][]float64 {
	if len(samples) < FrameSize {
		return nil
	}
	win := window.Hann(FrameSize)
	dct := fourier.NewDCT(MelBands)
	frame := make([]float64, FrameSize)
	logMel := make([]float64, MelBands)
	coeffs := make([]float64, MelBands)
	power := make([]float64, FrameSize/2+1)

	n := (len(samples)-FrameSize)/HopSize + 1
	out := make([][]float64, 0, n)
	for f := 0; f < n; f++ {
		start := f * HopSize
		for i := range frame {
			frame[i] = samples[start+i] * win[i]
		}
		spec := fft.FFTReal(frame)
		for k := range power {
			a := cmplx.Abs(spec[k])
			power[k] = a * a
		}
		for b, filt := range filterbank {
			var e float64
			for k, w := range filt {
				if w != 0 {
					e += w * power[k]
				}
			}
			logMel[b] = math.Log(math.Max(e, 1e-10))
		}
		dct.Transform(coeffs, logMel)
		out = append(out, append([]float64(nil), coeffs[:Coefficients]...))
	}
	return out
}

// fitGaussian returns the mean and full covariance of frames.
func fitGaussian(frames [][]float64) (mean []float64, cov []float64) {
	d := len(frames[0])
	mean = make([]float64, d)
	for _, fr := range frames {
		for i, v := range fr {
			mean[i] += v
		}
	}
	n := float64(len(frames))
	for i := range mean {
		mean[i] /= n
	}

	cov = make([]float64, d*d)
	for _, fr := range frames {
		for i := 0; i < d; i++ {
			di := fr[i] - mean[i]
			for j := i; j < d; j++ {
				cov[i*d+j] += di * (fr[j] - mean[j])
			}
		}
	}
	denom := n - 1
	if denom < 1 {
		denom = 1
	}
	for i := 0; i < d; i++ {
		for j := i; j < d; j++ {
			v := cov[i*d+j] / denom
			if i == j {
				v += ridge
			}
			cov[i*d+j] = v
			cov[j*d+i] = v
		}
	}
	return mean, cov
}

// encodeFeatures serialises a model as float32 little-endian.
func encodeFeatures(mean, cov []float64) []byte {
	d := len(mean)
	buf := make([]byte, featureSize(d))
	copy(buf, featureMagic[:])
	binary.LittleEndian.PutUint16(buf[4:], FeatureVersion)
	binary.LittleEndian.PutUint16(buf[6:], uint16(d)) //nolint:gosec // d is Coefficients
	off := 8
	put := func(v float64) {
		binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(float32(v)))
		off += 4
	}
	for _, v := range mean {
		put(v)
	}
	for i := 0; i < d; i++ {
		for j := i; j < d; j++ {
			put(cov[i*d+j])
		}
	}
	return buf
}

// decodeFeatures is the inverse of encodeFeatures.
func decodeFeatures(b []byte) (mean, cov []float64, err error) {
	if len(b) < 8 || [4]byte(b[:4]) != featureMagic {
		return nil, nil, ErrBadFeatures
	}
	if v := binary.LittleEndian.Uint16(b[4:]); v != FeatureVersion {
		return nil, nil, fmt.Errorf("%w: version %d, want %d", ErrBadFeatures, v, FeatureVersion)
	}
	d := int(binary.LittleEndian.Uint16(b[6:]))
	if d == 0 || len(b) != featureSize(d) {
		return nil, nil, fmt.Errorf("%w: %d bytes for %d dimensions", ErrBadFeatures, len(b), d)
	}
	off := 8
	get := func() float64 {
		v := math.Float32frombits(binary.LittleEndian.Uint32(b[off:]))
		off += 4
		return float64(v)
	}
	mean = make([]float64, d)
	for i := range mean {
		mean[i] = get()
	}
	cov = make([]float64, d*d)
	for i := 0; i < d; i++ {
		for j := i; j < d; j++ {
			v := get()
			cov[i*d+j] = v
			cov[j*d+i] = v
		}
	}
	return mean, cov, nil
}
