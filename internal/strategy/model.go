package strategy

import (
	"fmt"
	"math"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

const (
	minProb = 0.01
	maxProb = 0.99
)

// SquashFunc maps an unbounded score monotonically into (0, 1).
type SquashFunc func(score float64) float64

// Logistic is the standard logistic function.
func Logistic(score float64) float64 {
	return 1 / (1 + math.Exp(-score))
}

// Tanh rescales tanh into (0, 1). It saturates faster than Logistic.
func Tanh(score float64) float64 {
	return (1 + math.Tanh(score)) / 2
}

// Model turns recent BTC prices into a probability that the window closes
// up. Momentum is the relative change over MomentumWindow samples;
// volatility is the standard deviation of log returns over VolWindow
// samples. The score momentum/volatility*Gain is squashed and clamped to
// [0.01, 0.99].
type Model struct {
	MomentumWindow int
	VolWindow      int
	Gain           float64
	Squash         SquashFunc
}

// Samples returns how many prices PUp needs.
func (m Model) Samples() int {
	return max(m.MomentumWindow, m.VolWindow) + 1
}

// PUp returns the model probability. Too few samples, non-positive prices
// or zero volatility yield domain.ErrInsufficientData.
func (m Model) PUp(prices []float64) (float64, error) {
	n := len(prices)
	if m.MomentumWindow < 1 || m.VolWindow < 2 || n < m.Samples() {
		return 0, fmt.Errorf("%w: have %d prices, need %d", domain.ErrInsufficientData, n, m.Samples())
	}

	base := prices[n-1-m.MomentumWindow]
	last := prices[n-1]
	if base <= 0 || last <= 0 {
		return 0, fmt.Errorf("%w: non-positive price", domain.ErrInsufficientData)
	}
	momentum := (last - base) / base

	vol, ok := logReturnStdDev(prices[n-1-m.VolWindow:])
	if !ok || vol == 0 || math.IsNaN(vol) {
		return 0, fmt.Errorf("%w: zero volatility", domain.ErrInsufficientData)
	}

	squash := m.Squash
	if squash == nil {
		squash = Logistic
	}
	gain := m.Gain
	if gain == 0 {
		gain = 1
	}
	return clampProb(squash(gain * momentum / vol)), nil
}

// logReturnStdDev returns the sample standard deviation of the log returns
// between consecutive prices.
func logReturnStdDev(prices []float64) (float64, bool) {
	if len(prices) < 3 {
		return 0, false
	}
	rets := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] <= 0 || prices[i] <= 0 {
			return 0, false
		}
		rets = append(rets, math.Log(prices[i]/prices[i-1]))
	}

	var mean float64
	for _, r := range rets {
		mean += r
	}
	mean /= float64(len(rets))

	var ss float64
	for _, r := range rets {
		ss += (r - mean) * (r - mean)
	}
	return math.Sqrt(ss / float64(len(rets)-1)), true
}

func clampProb(p float64) float64 {
	if math.IsNaN(p) {
		return 0.5
	}
	return math.Min(math.Max(p, minProb), maxProb)
}
