package locate

import (
	"math"

	"github.com/golang/geo/r2"
)

const (
	weightEps = 1e-6 // keeps 1/d² finite
	rangeEps  = 1e-6 // floor for the solved range to a beacon
)

// Centroid returns the mean of the beacon positions.
func Centroid(beacons []r2.Point) r2.Point {
	var c r2.Point
	if len(beacons) == 0 {
		return c
	}
	for _, b := range beacons {
		c = c.Add(b)
	}
	return c.Mul(1 / float64(len(beacons)))
}

// Solve runs weighted gradient descent on the range equations
// |p - beacon_i| = ranges_i starting from start. Each beacon is weighted by
// the inverse square of its estimated range so near beacons dominate.
// It returns the converged point and the root-sum-square range residual.
func Solve(beacons []r2.Point, ranges []float64, start r2.Point, iterations int, step float64) (r2.Point, float64) {
	weights := make([]float64, len(ranges))
	for i, d := range ranges {
		weights[i] = 1.0 / (d*d + weightEps)
	}

	p := start
	for iter := 0; iter < iterations; iter++ {
		var grad r2.Point
		for i, b := range beacons {
			delta := p.Sub(b)
			ri := delta.Norm()
			if ri < rangeEps {
				ri = rangeEps
			}
			err := ri - ranges[i]
			grad = grad.Add(delta.Mul(weights[i] * err / ri))
		}
		p = p.Sub(grad.Mul(step))
	}

	return p, Residual(beacons, ranges, p)
}

// Residual is the root-sum-square of the range errors at p.
func Residual(beacons []r2.Point, ranges []float64, p r2.Point) float64 {
	sum := 0.0
	for i, b := range beacons {
		err := p.Sub(b).Norm() - ranges[i]
		sum += err * err
	}
	return math.Sqrt(sum)
}

// Confidence linearly de-rates a residual against the largest tolerable
// residual, clamped to [0,1].
func Confidence(residual, maxResidual float64) float64 {
	if maxResidual <= 0 {
		return 0
	}
	c := 1 - residual/maxResidual
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
