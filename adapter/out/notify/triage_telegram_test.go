package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"triage_server/core/domain"
	"triage_server/pkg/apperr"
)

const testToken = "123:abc"

type fakeBotAPI struct {
	mu       sync.Mutex
	sent     []url.Values
	failCode int
}

func (f *fakeBotAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/bot"+testToken+"/getMe", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"ok":     true,
			"result": map[string]any{"id": 1, "is_bot": true, "first_name": "Triage", "username": "triage_bot"},
		})
	})
	mux.HandleFunc("/bot"+testToken+"/sendMessage", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		f.mu.Lock()
		f.sent = append(f.sent, r.Form)
		f.mu.Unlock()

		if f.failCode != 0 {
			w.WriteHeader(f.failCode)
			json.NewEncoder(w).Encode(map[string]any{
				"ok":          false,
				"error_code":  f.failCode,
				"description": "Bad Request: chat not found",
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"ok": true,
			"result": map[string]any{
				"message_id": 7,
				"date":       1700000000,
				"chat":       map[string]any{"id": 42, "type": "private"},
			},
		})
	})
	return mux
}

func newTestNotifier(t *testing.T, f *fakeBotAPI) *TelegramNotifier {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	n, err := NewTelegramNotifier(TelegramConfig{
		BotToken:    testToken,
		ChatID:      42,
		APIEndpoint: srv.URL + "/bot%s/%s",
		HTTPClient:  srv.Client(),
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return n
}

func testEscalation() *domain.Escalation {
	return domain.NewEscalation(&domain.EmailMessage{
		ID:       "m1",
		ThreadID: "t1",
		Sender:   "Jane <jane@example.com>",
		Subject:  "Parts & <accessories>",
		Body:     "Need a charger",
	}, domain.ReasonNoCatalogItems)
}

func TestNotifySendsHTMLMessage(t *testing.T) {
	f := &fakeBotAPI{}
	n := newTestNotifier(t, f)

	if err := n.Notify(context.Background(), testEscalation()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(f.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(f.sent))
	}
	form := f.sent[0]
	if form.Get("chat_id") != "42" {
		t.Errorf("unexpected chat_id %q", form.Get("chat_id"))
	}
	if form.Get("parse_mode") != "HTML" {
		t.Errorf("unexpected parse_mode %q", form.Get("parse_mode"))
	}
	text := form.Get("text")
	for _, want := range []string{
		"<b>From:</b> Jane &lt;jane@example.com&gt;",
		"<b>Subject:</b> Parts &amp; &lt;accessories&gt;",
		"<b>Gmail Msg ID:</b> m1",
		"<b>Reason:</b> No matching listings were found",
		"Need a charger...",
		"Reply to this email: jane@example.com",
		`<a href="https://mail.google.com/mail/u/0/#inbox/t1">View in Gmail</a>`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("message missing %q:\n%s", want, text)
		}
	}
}

func TestNotifyFailure(t *testing.T) {
	f := &fakeBotAPI{failCode: http.StatusBadRequest}
	n := newTestNotifier(t, f)

	err := n.Notify(context.Background(), testEscalation())
	if err == nil {
		t.Fatal("expected an error")
	}
	if !apperr.HasCode(err, apperr.CodeProviderRejected) {
		t.Errorf("expected rejected error, got %v", err)
	}
}

func TestNewTelegramNotifierRequiresConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  TelegramConfig
	}{
		{"no token", TelegramConfig{ChatID: 42}},
		{"no chat", TelegramConfig{BotToken: testToken}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTelegramNotifier(tt.cfg, zerolog.Nop())
			if !apperr.HasCode(err, apperr.CodeConfigError) {
				t.Errorf("expected config error, got %v", err)
			}
		})
	}
}

func TestFormatEscalationPlaceholders(t *testing.T) {
	e := domain.NewEscalation(&domain.EmailMessage{ID: "m9"}, domain.ReasonUnclassified)
	text := FormatEscalation(e)

	for _, want := range []string{"Unknown Sender", "No Subject", "#inbox/N/A"} {
		if !strings.Contains(text, want) {
			t.Errorf("message missing %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, "Reply to this email") {
		t.Error("reply line should be omitted without an address")
	}
}
