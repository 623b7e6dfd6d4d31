package domain

// Strategy is the decision port. Implementations are stateful per symbol
// (they maintain their own price history) and side-effect-free with respect
// to the core's trading state.
type Strategy interface {
	Name() string
	// OnTick consumes a price update and returns a signal when the strategy
	// wants to act. ok is false while the strategy has nothing to say
	// (warm-up, no crossover, hold).
	OnTick(symbol string, price float64) (sig Signal, ok bool)
}
