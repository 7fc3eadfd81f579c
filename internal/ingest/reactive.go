package ingest

import "math"

// ReactivePower derives reactive power in var from active power and power
// factor. Missing or degenerate inputs yield 0.
func ReactivePower(power, pf *float64) float64 {
	if power == nil || pf == nil || *power == 0 || *pf == 0 || *pf == 1 {
		return 0
	}
	apparent := *power / *pf
	q := apparent * math.Sqrt(math.Max(1-*pf**pf, 0))
	return math.Round(q*100) / 100
}
