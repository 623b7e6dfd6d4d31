package sim

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/quantish/tradebot/internal/domain"
)

// RandomWalk is a synthetic tick source for paper sessions without a live
// feed. Each subscribed symbol follows an independent gaussian walk.
type RandomWalk struct {
	base     float64
	stepPct  float64
	interval time.Duration

	mu   sync.Mutex
	rng  *rand.Rand
	stop chan struct{}
}

// NewRandomWalk creates a walk starting every symbol at base, stepping by a
// gaussian with standard deviation stepPct of the current price every
// interval.
func NewRandomWalk(base, stepPct float64, interval time.Duration) *RandomWalk {
	return &RandomWalk{
		base:     base,
		stepPct:  stepPct,
		interval: interval,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		stop:     make(chan struct{}),
	}
}

// Connect is a no-op; the walk has nothing to dial.
func (w *RandomWalk) Connect(context.Context) error { return nil }

// Close stops all emitters.
func (w *RandomWalk) Close(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	select {
	case <-w.stop:
	default:
		close(w.stop)
	}
	return nil
}

// SubscribeTicks starts one emitter goroutine per symbol. Emission stops when
// the context is cancelled or the walk is closed.
func (w *RandomWalk) SubscribeTicks(ctx context.Context, symbols []string, onTick domain.TickHandler) error {
	for _, symbol := range symbols {
		go w.emit(ctx, symbol, onTick)
	}
	return nil
}

func (w *RandomWalk) emit(ctx context.Context, symbol string, onTick domain.TickHandler) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	price := w.base
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case now := <-ticker.C:
			w.mu.Lock()
			step := w.rng.NormFloat64() * w.stepPct * price
			w.mu.Unlock()
			price += step
			if price < 1 {
				price = 1
			}
			onTick(domain.Tick{Symbol: symbol, Price: price, Timestamp: now.UTC()})
		}
	}
}
