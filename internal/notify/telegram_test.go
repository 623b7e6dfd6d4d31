package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantish/tradebot/internal/domain"
)

func TestTelegramSendRendersAlert(t *testing.T) {
	var (
		gotPath string
		payload map[string]string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("token123", "chat456")
	s.baseURL = srv.URL

	alert := domain.NewAlert("circuit_breaker", "Circuit breaker tripped",
		"Daily loss limit reached.", domain.SeverityCritical).
		WithField("symbol", "INFY").
		WithField("realized", "-10500.00")
	require.NoError(t, s.Send(context.Background(), alert))

	assert.Equal(t, "/bottoken123/sendMessage", gotPath)
	assert.Equal(t, "chat456", payload["chat_id"])
	assert.Contains(t, payload["text"], "*Circuit breaker tripped*")
	assert.Contains(t, payload["text"], "Daily loss limit reached.")
	assert.Contains(t, payload["text"], "symbol: INFY")
	assert.Contains(t, payload["text"], "realized: -10500.00")
}

func TestTelegramSendSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"ok":false}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s := NewTelegramSender("token", "chat")
	s.baseURL = srv.URL

	err := s.Send(context.Background(), domain.NewAlert("any", "title", "", domain.SeverityInfo))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestSeverityMarkers(t *testing.T) {
	markers := map[domain.EventSeverity]string{
		domain.SeverityInfo:     severityMarker(domain.SeverityInfo),
		domain.SeverityWarning:  severityMarker(domain.SeverityWarning),
		domain.SeverityError:    severityMarker(domain.SeverityError),
		domain.SeverityCritical: severityMarker(domain.SeverityCritical),
	}
	seen := make(map[string]bool)
	for sev, m := range markers {
		assert.NotEmpty(t, m, "severity %s", sev)
		assert.False(t, seen[m], "marker for %s reused", sev)
		seen[m] = true
	}
}
