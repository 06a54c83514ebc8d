// Timbre - Acoustic Similarity Server for Personal Music Libraries
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timbre

package timbre

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// gaussian is a single-Gaussian timbre model with its precomputed
// inverse covariance.
type gaussian struct {
	mean []float64
	cov  *mat.SymDense
	icov *mat.SymDense
}

func newGaussian(mean, cov []float64) (*gaussian, error) {
	d := len(mean)
	c := mat.NewSymDense(d, append([]float64(nil), cov...))
	var chol mat.Cholesky
	if ok := chol.Factorize(c); !ok {
		return nil, fmt.Errorf("%w: covariance not positive definite", ErrBadFeatures)
	}
	inv := mat.NewSymDense(d, nil)
	if err := chol.InverseTo(inv); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFeatures, err)
	}
	return &gaussian{mean: mean, cov: c, icov: inv}, nil
}

func gaussianFromBlob(b []byte) (*gaussian, error) {
	mean, cov, err := decodeFeatures(b)
	if err != nil {
		return nil, err
	}
	return newGaussian(mean, cov)
}

// traceProduct returns tr(a*b) for symmetric a and b.
func traceProduct(a, b *mat.SymDense) float64 {
	d := a.SymmetricDim()
	var t float64
	for i := 0; i < d; i++ {
		for j := 0; j < d; j++ {
			t += a.At(i, j) * b.At(j, i)
		}
	}
	return t
}

// skl is the symmetrised Kullback-Leibler divergence of two Gaussians.
func skl(a, b *gaussian) float64 {
	d := len(a.mean)
	tr := traceProduct(b.icov, a.cov) + traceProduct(a.icov, b.cov)

	diff := make([]float64, d)
	for i := range diff {
		diff[i] = a.mean[i] - b.mean[i]
	}
	var quad float64
	for i := 0; i < d; i++ {
		for j := 0; j < d; j++ {
			quad += diff[i] * (a.icov.At(i, j) + b.icov.At(i, j)) * diff[j]
		}
	}
	v := 0.25*(tr+quad) - float64(d)/2
	if v < 0 {
		// rounding on near-identical models
		v = 0
	}
	return v
}

// stats are a track's distance moments against the style set.
type stats struct {
	Mu    float64
	Sigma float64
}

func styleStats(g *gaussian, style []*gaussian) stats {
	if len(style) == 0 {
		return stats{}
	}
	var sum, sq float64
	n := 0
	for _, s := range style {
		d := skl(g, s)
		if math.IsNaN(d) || math.IsInf(d, 0) {
			continue
		}
		sum += d
		sq += d * d
		n++
	}
	if n == 0 {
		return stats{Mu: math.NaN(), Sigma: math.NaN()}
	}
	mu := sum / float64(n)
	variance := sq/float64(n) - mu*mu
	if variance < 0 {
		variance = 0
	}
	return stats{Mu: mu, Sigma: math.Sqrt(variance)}
}

// cdf is the normal CDF of x under s. A degenerate spread becomes a
// step at the mean.
func (s stats) cdf(x float64) float64 {
	if s.Sigma <= 0 || math.IsNaN(s.Sigma) {
		switch {
		case math.IsNaN(s.Mu):
			return math.NaN()
		case x < s.Mu:
			return 0
		case x > s.Mu:
			return 1
		default:
			return 0.5
		}
	}
	return distuv.Normal{Mu: s.Mu, Sigma: s.Sigma}.CDF(x)
}

// mutualProximity rescales a raw divergence into [0,1]: the chance that
// either track has a closer neighbour in the style set.
func mutualProximity(raw float64, a, b stats) float64 {
	return 1 - (1-a.cdf(raw))*(1-b.cdf(raw))
}
