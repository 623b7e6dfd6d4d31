// Package risk implements the authoritative guard over every state-changing
// trading action: the circuit breaker, the exposure ledger, the order rate
// limiter, and the open-position book. All of that state lives behind one
// mutex so exposure always equals the sum over open positions.
package risk

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quantish/tradebot/internal/domain"
)

// BreakerState is the circuit breaker latch.
type BreakerState string

const (
	BreakerNormal  BreakerState = "NORMAL"
	BreakerTripped BreakerState = "TRIPPED"
)

// Decision is the outcome of a pure risk check. A denied decision is an
// expected result, not an error.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(format string, args ...any) Decision {
	return Decision{Allowed: false, Reason: fmt.Sprintf(format, args...)}
}

// Limits holds the tunable parameters for the gate.
type Limits struct {
	MaxPositionSize      float64
	MaxTotalExposure     float64
	MaxLossPerDay        float64
	MaxOrdersPerMinute   int
	MinPrice             float64
	MaxPrice             float64
	MaxPriceDeviationPct float64
}

// Hours is the trading-hours window in a fixed location. Trading is allowed
// on weekdays between Start and End inclusive.
type Hours struct {
	Start time.Duration // offset from midnight, e.g. 9h15m
	End   time.Duration
	Loc   *time.Location
}

// ParseHours builds an Hours window from "HH:MM" strings.
func ParseHours(start, end string, loc *time.Location) (Hours, error) {
	s, err := time.Parse("15:04", start)
	if err != nil {
		return Hours{}, fmt.Errorf("risk: parse hours start %q: %w", start, err)
	}
	e, err := time.Parse("15:04", end)
	if err != nil {
		return Hours{}, fmt.Errorf("risk: parse hours end %q: %w", end, err)
	}
	if loc == nil {
		loc = time.Local
	}
	return Hours{
		Start: time.Duration(s.Hour())*time.Hour + time.Duration(s.Minute())*time.Minute,
		End:   time.Duration(e.Hour())*time.Hour + time.Duration(e.Minute())*time.Minute,
		Loc:   loc,
	}, nil
}

// contains reports whether t falls inside the window on a weekday.
func (h Hours) contains(t time.Time) bool {
	lt := t.In(h.Loc)
	switch lt.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	midnight := time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, h.Loc)
	offset := lt.Sub(midnight)
	return offset >= h.Start && offset <= h.End
}

// PriceRef answers the last accepted price for a symbol. Implemented by the
// market price book.
type PriceRef interface {
	LastPrice(symbol string) (price float64, ts time.Time, ok bool)
}

// rateWindow is the 60-second sliding window of order submission times.
const rateWindow = time.Minute

// Gate owns the process-wide risk state. A single instance exists per bot;
// the execution pipeline and the position monitor are its only callers.
type Gate struct {
	limits Limits
	hours  Hours
	prices PriceRef
	logger *slog.Logger
	now    func() time.Time

	mu sync.Mutex
	// State below is guarded by mu.
	day             string // trading day, YYYY-MM-DD in hours.Loc
	dailyRealized   float64
	dailyUnrealized float64
	totalExposure   float64
	orderTimes      []time.Time
	breaker         BreakerState
	tripDate        string
	positions       map[string]domain.Position
	pendingEntries  map[string]string // symbol -> order id awaiting entry fill
}

// NewGate creates a Gate with the given limits and trading-hours window.
func NewGate(limits Limits, hours Hours, prices PriceRef, logger *slog.Logger) *Gate {
	return &Gate{
		limits:         limits,
		hours:          hours,
		prices:         prices,
		logger:         logger.With(slog.String("component", "risk_gate")),
		now:            time.Now,
		breaker:        BreakerNormal,
		positions:      make(map[string]domain.Position),
		pendingEntries: make(map[string]string),
	}
}

// SetClock replaces the gate's time source. Tests only.
func (g *Gate) SetClock(now func() time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.now = now
}

// rolloverLocked resets daily state when the trading day changes. The breaker
// clears only when its trip date is behind the current day.
func (g *Gate) rolloverLocked(t time.Time) {
	day := t.In(g.hours.Loc).Format("2006-01-02")
	if day == g.day {
		return
	}
	g.day = day
	g.dailyRealized = 0
	g.dailyUnrealized = 0
	g.orderTimes = g.orderTimes[:0]
	if g.breaker == BreakerTripped && g.tripDate != day {
		g.breaker = BreakerNormal
		g.tripDate = ""
		g.logger.Info("circuit breaker reset on day rollover", slog.String("day", day))
	}
}

// evictWindowLocked drops order timestamps older than the sliding window.
func (g *Gate) evictWindowLocked(t time.Time) {
	cutoff := t.Add(-rateWindow)
	keep := g.orderTimes[:0]
	for _, ts := range g.orderTimes {
		if ts.After(cutoff) {
			keep = append(keep, ts)
		}
	}
	g.orderTimes = keep
}

// CanTrade checks the preconditions that apply to every new entry order:
// trading hours, the circuit breaker, and the order rate limit. Closing
// orders are never gated here. It mutates nothing beyond day rollover and
// window eviction.
func (g *Gate) CanTrade() Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	t := g.now()
	g.rolloverLocked(t)

	if !g.hours.contains(t) {
		return deny("outside trading hours")
	}
	if g.breaker == BreakerTripped {
		return deny("circuit breaker tripped (daily loss limit)")
	}
	g.evictWindowLocked(t)
	if len(g.orderTimes) >= g.limits.MaxOrdersPerMinute {
		return deny("order rate limit reached (%d in last 60s)", len(g.orderTimes))
	}
	return allow()
}

// ValidateOrder checks a specific order against position, exposure, balance,
// and price-sanity limits. Closing orders skip the exposure-increase checks.
// A negative quantity or price is a contract violation and returns an error.
func (g *Gate) ValidateOrder(req domain.OrderRequest, availableBalance float64) (Decision, error) {
	if req.Quantity <= 0 {
		return Decision{}, fmt.Errorf("risk: %w: quantity %d", domain.ErrInvalidOrder, req.Quantity)
	}
	if req.Price <= 0 {
		return Decision{}, fmt.Errorf("risk: %w: price %.4f", domain.ErrInvalidOrder, req.Price)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.rolloverLocked(g.now())

	notional := req.Notional()

	if !req.Closing {
		if notional > g.limits.MaxPositionSize {
			return deny("order notional %.2f exceeds per-trade cap %.2f", notional, g.limits.MaxPositionSize), nil
		}
		if g.totalExposure+notional > g.limits.MaxTotalExposure {
			return deny("exposure %.2f + order %.2f exceeds cap %.2f",
				g.totalExposure, notional, g.limits.MaxTotalExposure), nil
		}
		if notional > availableBalance {
			return deny("insufficient balance (%.2f < %.2f)", availableBalance, notional), nil
		}
	}

	if req.Price < g.limits.MinPrice || req.Price > g.limits.MaxPrice {
		return deny("price %.2f outside sane bounds [%.2f, %.2f]",
			req.Price, g.limits.MinPrice, g.limits.MaxPrice), nil
	}
	if g.prices != nil && g.limits.MaxPriceDeviationPct > 0 {
		if ref, _, ok := g.prices.LastPrice(req.Symbol); ok && ref > 0 {
			dev := (req.Price - ref) / ref
			if dev < 0 {
				dev = -dev
			}
			if dev > g.limits.MaxPriceDeviationPct {
				return deny("price %.2f deviates %.1f%% from last accepted %.2f",
					req.Price, dev*100, ref), nil
			}
		}
	}

	return allow(), nil
}

// CountOrder records an order submission in the sliding rate window. Called
// by the execution pipeline once per broker submission.
func (g *Gate) CountOrder() {
	g.mu.Lock()
	defer g.mu.Unlock()
	t := g.now()
	g.rolloverLocked(t)
	g.evictWindowLocked(t)
	g.orderTimes = append(g.orderTimes, t)
}

// ClaimEntry reserves the symbol for an in-flight entry order. It fails when
// a position is already open or another entry is pending, which is what
// enforces at-most-one open position per symbol under concurrent attempts.
func (g *Gate) ClaimEntry(symbol, orderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p, ok := g.positions[symbol]; ok && p.Status == domain.PositionStatusOpen {
		return domain.ErrPositionOpen
	}
	if _, ok := g.pendingEntries[symbol]; ok {
		return domain.ErrPositionOpen
	}
	g.pendingEntries[symbol] = orderID
	return nil
}

// ReleaseClaim drops a pending entry reservation after a rejected or failed
// submission.
func (g *Gate) ReleaseClaim(symbol string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.pendingEntries, symbol)
}

// RecordEntry converts a pending entry claim into an open position and adds
// its notional to the exposure ledger.
func (g *Gate) RecordEntry(pos domain.Position) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rolloverLocked(g.now())

	if p, ok := g.positions[pos.Symbol]; ok && p.Status == domain.PositionStatusOpen {
		return domain.ErrPositionOpen
	}
	pos.Status = domain.PositionStatusOpen
	g.positions[pos.Symbol] = pos
	delete(g.pendingEntries, pos.Symbol)
	g.totalExposure += pos.Notional()
	return nil
}

// RecordExit closes the open position for the symbol at the given fill
// price, updates exposure and daily realized PnL, and trips the circuit
// breaker when the combined daily loss reaches the limit. It returns the
// closed position, the realized PnL delta, and whether this fill tripped the
// breaker.
func (g *Gate) RecordExit(symbol string, exitPrice float64) (domain.Position, float64, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t := g.now()
	g.rolloverLocked(t)

	pos, ok := g.positions[symbol]
	if !ok || pos.Status != domain.PositionStatusOpen {
		return domain.Position{}, 0, false, domain.ErrNoPosition
	}

	realized := (exitPrice - pos.EntryPrice) * float64(pos.Quantity) * pos.Side.Sign()
	g.totalExposure -= pos.Notional()
	if g.totalExposure < 0 {
		// Float drift; exposure is always recomputable from open positions.
		g.totalExposure = 0
	}
	g.dailyRealized += realized

	pos.Status = domain.PositionStatusClosed
	delete(g.positions, symbol)

	tripped := g.checkBreakerLocked(t)
	return pos, realized, tripped, nil
}

// SeedDaily primes the day's realized PnL from persisted trades so the
// breaker survives a process restart. Returns true when the seeded loss
// already breaches the limit and trips the breaker.
func (g *Gate) SeedDaily(realized float64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	t := g.now()
	g.rolloverLocked(t)
	g.dailyRealized = realized
	return g.checkBreakerLocked(t)
}

// MarkUnrealized records the monitor's latest aggregate unrealized PnL and
// re-evaluates the breaker. Returns true when this update tripped it.
func (g *Gate) MarkUnrealized(total float64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	t := g.now()
	g.rolloverLocked(t)
	g.dailyUnrealized = total
	return g.checkBreakerLocked(t)
}

// checkBreakerLocked trips the breaker when daily realized plus unrealized
// losses reach the limit. The transition is terminal for the day.
func (g *Gate) checkBreakerLocked(t time.Time) bool {
	if g.breaker == BreakerTripped {
		return false
	}
	if g.dailyRealized+g.dailyUnrealized <= -g.limits.MaxLossPerDay {
		g.breaker = BreakerTripped
		g.tripDate = t.In(g.hours.Loc).Format("2006-01-02")
		g.logger.Error("circuit breaker tripped",
			slog.Float64("daily_realized", g.dailyRealized),
			slog.Float64("daily_unrealized", g.dailyUnrealized),
			slog.Float64("max_loss_per_day", g.limits.MaxLossPerDay),
		)
		return true
	}
	return false
}

// Reset clears a tripped breaker. Operator action only; the normal path back
// to NORMAL is the day rollover.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.breaker == BreakerTripped {
		g.breaker = BreakerNormal
		g.tripDate = ""
		g.logger.Warn("circuit breaker reset by operator")
	}
}

// HasOpen reports whether the symbol currently has an open position.
func (g *Gate) HasOpen(symbol string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.positions[symbol]
	return ok && p.Status == domain.PositionStatusOpen
}

// Position returns the open position for the symbol.
func (g *Gate) Position(symbol string) (domain.Position, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.positions[symbol]
	return p, ok
}

// OpenPositions returns a consistent snapshot of all open positions. The
// monitor's sweep iterates over this copy, never over live state.
func (g *Gate) OpenPositions() []domain.Position {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]domain.Position, 0, len(g.positions))
	for _, p := range g.positions {
		out = append(out, p)
	}
	return out
}

// Exposure returns the incrementally maintained total exposure.
func (g *Gate) Exposure() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.totalExposure
}

// Status is a point-in-time summary of the gate for status reporting.
type Status struct {
	Breaker         BreakerState
	DailyRealized   float64
	DailyUnrealized float64
	TotalExposure   float64
	OrdersInWindow  int
	OpenPositions   int
}

// Snapshot returns the current gate status.
func (g *Gate) Snapshot() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	t := g.now()
	g.rolloverLocked(t)
	g.evictWindowLocked(t)
	return Status{
		Breaker:         g.breaker,
		DailyRealized:   g.dailyRealized,
		DailyUnrealized: g.dailyUnrealized,
		TotalExposure:   g.totalExposure,
		OrdersInWindow:  len(g.orderTimes),
		OpenPositions:   len(g.positions),
	}
}
