// Package rating implements the Glicko-2 rating system and the capped
// performance-rating estimator used for tournament standings.
package rating

import "math"

const (
	// Scale converts between the public Elo-like scale and the internal
	// mu/phi scale (Glickman's constant).
	Scale = 173.7178

	// Tau bounds how quickly volatility can change between periods.
	Tau = 0.5

	// Epsilon is the convergence tolerance for the volatility solver.
	Epsilon = 1e-6

	center = 1500.0

	// MinDeviation and MaxDeviation clamp the public rating deviation.
	MinDeviation = 30.0
	MaxDeviation = 350.0

	// Defaults for newly registered players.
	DefaultRating     = 500.0
	DefaultDeviation  = 250.0
	DefaultVolatility = 0.06

	// ProvisionalGames is how many rated games a player needs before
	// their rating stops being flagged as provisional.
	ProvisionalGames = 20
)

// Rating is a player's Glicko-2 triple on the public scale.
type Rating struct {
	Value      float64
	Deviation  float64
	Volatility float64
}

// NewRating returns the starting triple for a fresh player.
func NewRating() Rating {
	return Rating{Value: DefaultRating, Deviation: DefaultDeviation, Volatility: DefaultVolatility}
}

// GameResult is a single counted game from the rated player's side.
// Score is 1 for a win, 0.5 for a draw, 0 for a loss.
type GameResult struct {
	OpponentRating    float64
	OpponentDeviation float64
	Score             float64
}

func toInternal(value, deviation float64) (mu, phi float64) {
	return (value - center) / Scale, deviation / Scale
}

func g(phi float64) float64 {
	return 1.0 / math.Sqrt(1.0+3.0*phi*phi/(math.Pi*math.Pi))
}

func expected(mu, muJ, phiJ float64) float64 {
	return 1.0 / (1.0 + math.Exp(-g(phiJ)*(mu-muJ)))
}

// Update applies one rating period to r. With no results the rating and
// volatility are preserved and only the deviation inflates. The returned
// deviation is always within [MinDeviation, MaxDeviation].
func Update(r Rating, results []GameResult) Rating {
	if len(results) == 0 {
		phiStar := math.Sqrt(r.Deviation*r.Deviation/(Scale*Scale) + r.Volatility*r.Volatility)
		return Rating{
			Value:      r.Value,
			Deviation:  math.Min(phiStar*Scale, MaxDeviation),
			Volatility: r.Volatility,
		}
	}

	mu, phi := toInternal(r.Value, r.Deviation)

	var vInv, sum float64
	for _, res := range results {
		muJ, phiJ := toInternal(res.OpponentRating, res.OpponentDeviation)
		gJ := g(phiJ)
		eJ := expected(mu, muJ, phiJ)
		vInv += gJ * gJ * eJ * (1 - eJ)
		sum += gJ * (res.Score - eJ)
	}
	v := math.Inf(1)
	if vInv != 0 {
		v = 1.0 / vInv
	}
	delta := v * sum

	sigma := solveVolatility(phi, r.Volatility, delta, v)
	phiStar := math.Sqrt(phi*phi + sigma*sigma)
	newPhi := 1.0 / math.Sqrt(1.0/(phiStar*phiStar)+1.0/v)
	newMu := mu + newPhi*newPhi*sum

	deviation := newPhi * Scale
	deviation = math.Min(math.Max(deviation, MinDeviation), MaxDeviation)

	return Rating{Value: newMu*Scale + center, Deviation: deviation, Volatility: sigma}
}

// solveVolatility finds the new volatility with the Illinois variant of
// regula falsi on the canonical f(x) from the Glicko-2 paper.
func solveVolatility(phi, sigma, delta, v float64) float64 {
	a := math.Log(sigma * sigma)
	deltaSq := delta * delta
	phiSq := phi * phi

	f := func(x float64) float64 {
		ex := math.Exp(x)
		num := ex * (deltaSq - phiSq - v - ex)
		den := 2 * (phiSq + v + ex) * (phiSq + v + ex)
		return num/den - (x-a)/(Tau*Tau)
	}

	A := a
	var B float64
	if deltaSq > phiSq+v {
		B = math.Log(deltaSq - phiSq - v)
	} else {
		k := 1.0
		for f(a-k*Tau) < 0 {
			k++
		}
		B = a - k*Tau
	}

	fa, fb := f(A), f(B)
	for math.Abs(B-A) > Epsilon {
		C := A + (A-B)*fa/(fb-fa)
		fc := f(C)
		if fc*fb < 0 {
			A, fa = B, fb
		} else {
			fa /= 2
		}
		B, fb = C, fc
	}
	return math.Exp(A / 2)
}

// ExpectedScore is the win probability of a against b under Glicko-2.
func ExpectedScore(a, b Rating) float64 {
	muA, _ := toInternal(a.Value, a.Deviation)
	muB, phiB := toInternal(b.Value, b.Deviation)
	return expected(muA, muB, phiB)
}
