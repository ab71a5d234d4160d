package learner

import "math"

// wilsonInterval returns the Wilson score confidence interval for a win rate
// observed as wins out of n trials, at critical value z (1.96 for 95%).
// Unlike the naive normal approximation it stays inside [0,1] and widens
// properly at small n, which is what makes it a usable gate against
// small-sample noise.
func wilsonInterval(wins, n int, z float64) (lower, upper float64) {
	if n <= 0 {
		return 0, 1
	}

	p := float64(wins) / float64(n)
	nf := float64(n)
	z2 := z * z

	denom := 1 + z2/nf
	center := p + z2/(2*nf)
	margin := z * math.Sqrt(p*(1-p)/nf+z2/(4*nf*nf))

	lower = (center - margin) / denom
	upper = (center + margin) / denom

	if lower < 0 {
		lower = 0
	}
	if upper > 1 {
		upper = 1
	}
	return lower, upper
}
