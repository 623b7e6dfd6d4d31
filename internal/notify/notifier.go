// Package notify delivers operator alerts. Alerts carry the event type,
// severity, and labelled trading details (symbol, PnL, breaker state) as
// structured fields; each sender renders them for its own channel.
// Dispatch fans out to every registered sender and can be filtered by event
// type so operators receive only the alerts they care about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/quantish/tradebot/internal/domain"
)

// Sender is the interface each notification channel must implement.
type Sender interface {
	// Send renders and delivers one alert.
	Send(ctx context.Context, alert domain.Alert) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches alerts to one or more Senders. It maintains a set of
// allowed event types; Notify only forwards alerts whose event type is in the
// allowed set, while NotifyAll bypasses the filter.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier that delivers to the given senders. Only
// alerts whose event type appears in the events slice are forwarded by
// Notify; an empty slice allows every event type.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify sends the alert to all senders if its event type is allowed.
func (n *Notifier) Notify(ctx context.Context, alert domain.Alert) error {
	if len(n.events) > 0 && !n.events[alert.Event] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", alert.Event),
		)
		return nil
	}
	return n.dispatch(ctx, alert)
}

// NotifyAll sends the alert to all senders regardless of event type. Used for
// lifecycle messages such as startup and shutdown.
func (n *Notifier) NotifyAll(ctx context.Context, alert domain.Alert) error {
	return n.dispatch(ctx, alert)
}

// dispatch sends the alert to every sender. Errors from individual senders
// are collected and returned combined; one sender failing does not prevent
// delivery to the rest.
func (n *Notifier) dispatch(ctx context.Context, alert domain.Alert) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, alert); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "alert sent",
			slog.String("sender", s.Name()),
			slog.String("event", alert.Event),
			slog.String("severity", string(alert.Severity)),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
