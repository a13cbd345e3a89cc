package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"bond-alerts/internal/bond"
)

func newCandidate() bond.AlertCandidate {
	return bond.AlertCandidate{
		Instrument: bond.Instrument{ISIN: "RU000A100001", Name: "Альфа БО-01"},
		Current: bond.Snapshot{
			Instrument: bond.Instrument{ISIN: "RU000A100001", Name: "Альфа БО-01"},
			YieldPct:   decimal.RequireFromString("5.00"),
			Rating:     "BBB+",
			ObservedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		},
		Reason: bond.ReasonNewInstrument,
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("path should contain sendMessage, got %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())

	if err := notifier.Notify(context.Background(), newCandidate()); err != nil {
		t.Fatalf("notify should succeed: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("wrong chat_id: %#v", received)
	}
	if !strings.Contains(received["text"], "RU000A100001") {
		t.Fatalf("message should carry the ISIN: %q", received["text"])
	}
}

func TestTelegramNotifierOkFalse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())

	if err := notifier.Notify(context.Background(), newCandidate()); err == nil {
		t.Fatal("ok=false must be an error")
	}
}

func TestTelegramNotifierGarbageBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())

	if err := notifier.Notify(context.Background(), newCandidate()); err == nil {
		t.Fatal("2xx with an undecodable body is not a confirmed delivery")
	}
}

func TestTelegramNotifierHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())

	if err := notifier.Notify(context.Background(), newCandidate()); err == nil {
		t.Fatal("5xx must be an error")
	}
}

func TestRenderMessageNewInstrument(t *testing.T) {
	text := RenderMessage(newCandidate())

	for _, want := range []string{"New instrument", "RU000A100001", "Альфа БО-01", "5.00% YTM", "Rating: BBB+"} {
		if !strings.Contains(text, want) {
			t.Fatalf("message missing %q:\n%s", want, text)
		}
	}
}

func TestRenderMessageThresholdCrossed(t *testing.T) {
	prior := bond.Snapshot{
		Instrument: bond.Instrument{ISIN: "RU000A100001", Name: "Альфа БО-01"},
		YieldPct:   decimal.RequireFromString("5.00"),
	}
	candidate := newCandidate()
	candidate.Reason = bond.ReasonThresholdCrossed
	candidate.Prior = &prior
	candidate.Current.YieldPct = decimal.RequireFromString("5.15")
	candidate.DeltaPct = decimal.RequireFromString("0.15")

	text := RenderMessage(candidate)

	for _, want := range []string{"Yield move", "Prior: 5.00% YTM", "Current: 5.15% YTM", "+0.15 pp"} {
		if !strings.Contains(text, want) {
			t.Fatalf("message missing %q:\n%s", want, text)
		}
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
