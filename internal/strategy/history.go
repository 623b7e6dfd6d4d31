package strategy

import "math"

// history is a bounded per-symbol price window. Appending beyond capacity
// evicts the oldest observation.
type history struct {
	prices []float64
	cap    int
}

func newHistory(capacity int) *history {
	return &history{prices: make([]float64, 0, capacity), cap: capacity}
}

func (h *history) push(price float64) {
	if len(h.prices) == h.cap {
		copy(h.prices, h.prices[1:])
		h.prices = h.prices[:h.cap-1]
	}
	h.prices = append(h.prices, price)
}

func (h *history) len() int { return len(h.prices) }

// sma averages the n most recent prices, optionally excluding the last
// `shift` observations (shift=1 gives the value one tick ago).
func (h *history) sma(n, shift int) float64 {
	end := len(h.prices) - shift
	start := end - n
	var sum float64
	for _, p := range h.prices[start:end] {
		sum += p
	}
	return sum / float64(n)
}

// meanStd returns the mean and standard deviation over the full window.
func (h *history) meanStd() (float64, float64) {
	n := float64(len(h.prices))
	var sum float64
	for _, p := range h.prices {
		sum += p
	}
	mean := sum / n
	var variance float64
	for _, p := range h.prices {
		d := p - mean
		variance += d * d
	}
	variance /= n
	return mean, math.Sqrt(variance)
}
