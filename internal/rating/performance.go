package rating

import "math"

const (
	// PriorGames is the weight of the virtual-game prior mixed into a
	// performance estimate.
	PriorGames = 6

	maxPerformanceDelta = 800.0
	minScoreFraction    = 1e-6
)

// Performance estimates how strongly a player performed over a batch of
// games via capped logistic inversion around the average opponent rating.
// A positive prior mixes in PriorGames virtual games scored at the
// expected result against the prior rating, which keeps small samples
// from swinging to the ±800 caps; a zero prior disables the smoothing.
//
// With no games the prior is returned as-is (zero when absent).
func Performance(opponentRatings, scores []float64, prior float64) float64 {
	if len(opponentRatings) == 0 {
		return prior
	}

	n := float64(len(opponentRatings))
	var avgOpp, total float64
	for _, r := range opponentRatings {
		avgOpp += r
	}
	avgOpp /= n
	for _, s := range scores {
		total += s
	}
	total = math.Max(0, math.Min(total, n))

	effScore, effGames := total, n
	if prior > 0 {
		priorExpected := 1.0 / (1.0 + math.Pow(10, (avgOpp-prior)/400.0))
		effScore += PriorGames * priorExpected
		effGames += PriorGames
	}

	p := effScore / effGames
	p = math.Max(minScoreFraction, math.Min(p, 1-minScoreFraction))

	delta := -400.0 * math.Log10(1.0/p-1.0)
	delta = math.Max(-maxPerformanceDelta, math.Min(delta, maxPerformanceDelta))

	return avgOpp + delta
}
