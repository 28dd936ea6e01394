package kt

import (
	"math"

	"github.com/alfredjeanlab/hpit/internal/model"
)

// Trace applies one Bayesian Knowledge Tracing step to p given an observed
// outcome. Only PKnown changes; a zero denominator yields a zero posterior.
func Trace(p model.Priors, correct bool) model.Priors {
	var numer, denom float64
	if correct {
		numer = p.PKnown * (1 - p.PMistake)
		denom = numer + (1-p.PKnown)*p.PGuess
	} else {
		numer = p.PKnown * p.PMistake
		denom = numer + (1-p.PKnown)*(1-p.PGuess)
	}

	var posterior float64
	if denom != 0 {
		posterior = numer / denom
	}
	p.PKnown = clamp01(posterior + (1-posterior)*p.PLearned)
	return p
}

// ValidPriors reports whether every probability lies in [0, 1].
func ValidPriors(p model.Priors) bool {
	for _, v := range []float64{p.PKnown, p.PLearned, p.PGuess, p.PMistake} {
		if v < 0 || v > 1 || math.IsNaN(v) {
			return false
		}
	}
	return true
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
