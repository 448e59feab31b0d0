package router

import (
	"math"
	"math/rand"
)

// sampleBeta draws one sample from Beta(alpha, beta) via two independent
// Gamma draws (X/(X+Y)). No dependency of this module provides a Beta
// distribution sampler, so it is implemented directly over math/rand.
func sampleBeta(alpha, beta float64) float64 {
	if alpha <= 0 {
		alpha = 1e-6
	}
	if beta <= 0 {
		beta = 1e-6
	}
	x := sampleGamma(alpha)
	y := sampleGamma(beta)
	if x+y == 0 {
		return 0.5
	}
	return x / (x + y)
}

// sampleGamma draws from Gamma(shape, 1) using the Marsaglia-Tsang method
// for shape >= 1, boosting sub-1 shapes via the standard u^(1/shape) trick.
func sampleGamma(shape float64) float64 {
	if shape < 1 {
		u := rand.Float64()
		return sampleGamma(shape+1) * math.Pow(u, 1/shape)
	}
	d := shape - 1.0/3.0
	c := 1.0 / math.Sqrt(9*d)
	for {
		var x, v float64
		for {
			x = rand.NormFloat64()
			v = 1 + c*x
			if v > 0 {
				break
			}
		}
		v = v * v * v
		u := rand.Float64()
		if u < 1-0.0331*x*x*x*x {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}
