// Package locate turns smoothed beacon RSSI into a 2-D position estimate.
package locate

import (
	"fmt"
	"time"

	"github.com/golang/geo/r2"

	"swarmbot.klederson.com/internal/rssi"
)

// Estimate is the smoothed position of the bot. The zero value means no fix.
type Estimate struct {
	X          float64
	Y          float64
	Confidence float64 // [0,1]
	Residual   float64 // range residual of the raw solve (m)
	Seq        uint64  // increments on every solve
	At         time.Time
	Valid      bool
}

// Trusted reports whether consumers should act on the estimate.
func (e Estimate) Trusted(threshold float64) bool {
	return e.Valid && e.Confidence >= threshold
}

func (e Estimate) String() string {
	if !e.Valid {
		return "no fix"
	}
	return fmt.Sprintf("(%.2f, %.2f) conf=%d%% seq=%d", e.X, e.Y, int(e.Confidence*100), e.Seq)
}

// Params are the solver and smoothing constants.
type Params struct {
	Iterations  int
	Step        float64
	MaxResidual float64
	Alpha       float64
}

// Smoother is an exponential moving average over 2-D points. The first
// value initialises it directly.
type Smoother struct {
	Alpha float64
	value r2.Point
	set   bool
}

// Add blends p into the average and returns the new value.
func (s *Smoother) Add(p r2.Point) r2.Point {
	if !s.set {
		s.value = p
		s.set = true
		return p
	}
	s.value = p.Mul(s.Alpha).Add(s.value.Mul(1 - s.Alpha))
	return s.value
}

// Engine solves for position whenever the radio leaves the scan role.
type Engine struct {
	beacons  []r2.Point
	model    PathLoss
	params   Params
	smoother Smoother
	estimate Estimate
}

// NewEngine creates an engine for the given fixed beacon geometry.
func NewEngine(beacons []r2.Point, model PathLoss, params Params) *Engine {
	geo := make([]r2.Point, len(beacons))
	copy(geo, beacons)
	return &Engine{
		beacons:  geo,
		model:    model,
		params:   params,
		smoother: Smoother{Alpha: params.Alpha},
	}
}

// Update runs one solve on the sampler's averaged RSSI. When any beacon has
// no readings it returns false and leaves the previous estimate untouched.
func (e *Engine) Update(s *rssi.Sampler, now time.Time) (Estimate, bool) {
	if !s.Ready() {
		return e.estimate, false
	}
	strengths := make([]float64, len(e.beacons))
	for i := range strengths {
		strengths[i] = s.Average(i)
	}
	return e.Locate(strengths, now), true
}

// Locate solves from already averaged strengths, one per beacon.
func (e *Engine) Locate(strengths []float64, now time.Time) Estimate {
	ranges := make([]float64, len(strengths))
	for i, st := range strengths {
		ranges[i] = e.model.Distance(st)
	}

	p, residual := Solve(e.beacons, ranges, Centroid(e.beacons), e.params.Iterations, e.params.Step)
	smoothed := e.smoother.Add(p)

	e.estimate = Estimate{
		X:          smoothed.X,
		Y:          smoothed.Y,
		Confidence: Confidence(residual, e.params.MaxResidual),
		Residual:   residual,
		Seq:        e.estimate.Seq + 1,
		At:         now,
		Valid:      true,
	}
	return e.estimate
}

// Estimate returns the latest estimate.
func (e *Engine) Estimate() Estimate {
	return e.estimate
}
