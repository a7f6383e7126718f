package stats

import (
	"fmt"
	"math"
)

// RequiredSampleSize computes how many subjects are needed PER ARM to
// detect a relative lift over a baseline conversion rate with a
// two-proportion z-test at the given significance level and power
// (two-sided alpha, Wald approximation with unpooled variances).
// Callers that want a total across arms multiply by the arm count.
//
// Deterministic and side-effect free; used only to annotate
// progress-toward-significance, never to gate the pipeline.
func RequiredSampleSize(baselineRate, relativeLift, power, alpha float64) (int, error) {
	if baselineRate <= 0 || baselineRate >= 1 {
		return 0, fmt.Errorf("baseline rate must be in (0,1), got %v", baselineRate)
	}
	if relativeLift <= -1 {
		return 0, fmt.Errorf("relative lift must exceed -1, got %v", relativeLift)
	}
	if relativeLift == 0 {
		return 0, fmt.Errorf("relative lift must not be zero")
	}
	if power <= 0 || power >= 1 {
		return 0, fmt.Errorf("power must be in (0,1), got %v", power)
	}
	if alpha <= 0 || alpha >= 1 {
		return 0, fmt.Errorf("alpha must be in (0,1), got %v", alpha)
	}

	p1 := baselineRate
	p2 := baselineRate * (1 + relativeLift)
	if p2 <= 0 || p2 >= 1 {
		return 0, fmt.Errorf("lifted rate %v falls outside (0,1)", p2)
	}

	zAlpha := NormalQuantile(1 - alpha/2)
	zPower := NormalQuantile(power)
	pBar := (p1 + p2) / 2

	num := zAlpha*math.Sqrt(2*pBar*(1-pBar)) + zPower*math.Sqrt(p1*(1-p1)+p2*(1-p2))
	n := (num * num) / ((p2 - p1) * (p2 - p1))

	return int(math.Ceil(n)), nil
}
