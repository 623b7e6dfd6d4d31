package domain

import "time"

// Signal is a trade intent produced by a strategy (entry) or by the position
// monitor (exit). Signals are ephemeral: they flow through the execution
// pipeline's channel and are never persisted directly.
type Signal struct {
	ID         string
	Symbol     string
	Action     Side
	Confidence float64
	// Price is the reference price at emission time.
	Price float64
	// Quantity is the requested size. Zero means "let the sizing policy
	// decide" (the normal case for entries). Exits carry the position size.
	Quantity int64
	// Closing marks the signal as an exit of an existing position; closing
	// orders skip the exposure-increase check.
	Closing   bool
	Source    string
	Reason    string
	CreatedAt time.Time
}
