package locomotion

import (
	"math"
	"math/rand"
	"time"
)

// PowerLaw draws intervals with density p(t) ∝ t^-Mu truncated to [Min, Max].
type PowerLaw struct {
	Min time.Duration
	Max time.Duration
	Mu  float64
}

// Sample draws one interval by inverting the truncated CDF.
func (p PowerLaw) Sample(rng *rand.Rand) time.Duration {
	a, b := p.Min.Seconds(), p.Max.Seconds()
	if b <= a {
		return p.Min
	}
	u := rng.Float64()

	var t float64
	if p.Mu == 1 {
		t = a * math.Pow(b/a, u)
	} else {
		k := 1 - p.Mu
		ak, bk := math.Pow(a, k), math.Pow(b, k)
		t = math.Pow(ak+u*(bk-ak), 1/k)
	}

	d := time.Duration(t * float64(time.Second))
	if d < p.Min {
		return p.Min
	}
	if d > p.Max {
		return p.Max
	}
	return d
}

// uniform draws an interval uniformly from [lo, hi].
func uniform(rng *rand.Rand, lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rng.Int63n(int64(hi-lo)+1))
}
