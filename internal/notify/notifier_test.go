package notify

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantish/tradebot/internal/domain"
)

type recordingSender struct {
	name   string
	err    error
	alerts []domain.Alert
}

func (s *recordingSender) Send(_ context.Context, a domain.Alert) error {
	s.alerts = append(s.alerts, a)
	return s.err
}

func (s *recordingSender) Name() string { return s.name }

func testLogger() *slog.Logger {
	return slog.Default()
}

func breakerAlert() domain.Alert {
	return domain.NewAlert("circuit_breaker", "Circuit breaker tripped",
		"Daily loss limit reached.", domain.SeverityCritical).
		WithField("symbol", "INFY").
		WithField("realized", "-10500.00")
}

func TestNotifierFiltersByEventType(t *testing.T) {
	sender := &recordingSender{name: "test"}
	n := NewNotifier([]Sender{sender}, []string{"circuit_breaker"}, testLogger())

	rejected := domain.NewAlert("order_rejected", "Order rejected", "exposure cap", domain.SeverityWarning)
	require.NoError(t, n.Notify(context.Background(), rejected))
	assert.Empty(t, sender.alerts, "filtered event must not reach senders")

	require.NoError(t, n.Notify(context.Background(), breakerAlert()))
	require.Len(t, sender.alerts, 1)
	assert.Equal(t, "circuit_breaker", sender.alerts[0].Event)
	assert.Equal(t, domain.SeverityCritical, sender.alerts[0].Severity)
}

func TestNotifierEmptyFilterAllowsAll(t *testing.T) {
	sender := &recordingSender{name: "test"}
	n := NewNotifier([]Sender{sender}, nil, testLogger())

	require.NoError(t, n.Notify(context.Background(), domain.NewAlert("anything", "title", "", domain.SeverityInfo)))
	assert.Len(t, sender.alerts, 1)
}

func TestNotifyAllBypassesFilter(t *testing.T) {
	sender := &recordingSender{name: "test"}
	n := NewNotifier([]Sender{sender}, []string{"circuit_breaker"}, testLogger())

	started := domain.NewAlert("bot_started", "Bot started", "", domain.SeverityInfo).
		WithField("mode", "paper")
	require.NoError(t, n.NotifyAll(context.Background(), started))
	require.Len(t, sender.alerts, 1)
	assert.Equal(t, "Bot started", sender.alerts[0].Title)
}

func TestAlertFieldsPreserveOrder(t *testing.T) {
	a := breakerAlert()
	require.Len(t, a.Fields, 2)
	assert.Equal(t, domain.AlertField{Key: "symbol", Value: "INFY"}, a.Fields[0])
	assert.Equal(t, domain.AlertField{Key: "realized", Value: "-10500.00"}, a.Fields[1])
}

func TestNotifierCollectsSenderErrors(t *testing.T) {
	failing := &recordingSender{name: "broken", err: errors.New("boom")}
	working := &recordingSender{name: "ok"}
	n := NewNotifier([]Sender{failing, working}, nil, testLogger())

	err := n.Notify(context.Background(), breakerAlert())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	assert.Len(t, working.alerts, 1, "remaining senders still receive the alert")
}

func TestNotifierNoSendersIsNoop(t *testing.T) {
	n := NewNotifier(nil, nil, testLogger())
	require.NoError(t, n.Notify(context.Background(), breakerAlert()))
}
