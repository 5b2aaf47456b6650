package bootstrap

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"triage_server/adapter/out/marketplace"
	"triage_server/adapter/out/notify"
	"triage_server/adapter/out/provider"
	"triage_server/config"
	"triage_server/core/service/triage"
	"triage_server/pkg/metrics"
)

const botToken = "123:abc"

type fakeUpstream struct {
	srv   *httptest.Server
	lists atomic.Int32
}

func newFakeUpstream(t *testing.T) *fakeUpstream {
	t.Helper()
	f := &fakeUpstream{}
	mux := http.NewServeMux()
	mux.HandleFunc("/gmail/v1/users/me/messages", func(w http.ResponseWriter, r *http.Request) {
		f.lists.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"resultSizeEstimate":0}`))
	})
	mux.HandleFunc("/gmail/v1/users/me/profile", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"emailAddress":"shop@example.com","historyId":"1"}`))
	})
	mux.HandleFunc("/bot"+botToken+"/getMe", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"Triage","username":"triage_bot"}}`))
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func testDeps(t *testing.T, cfg *config.Config, rdb *redis.Client) (*Dependencies, *fakeUpstream) {
	t.Helper()
	up := newFakeUpstream(t)
	log := zerolog.Nop()

	gmail, err := provider.NewGmailGateway(t.Context(), provider.GmailConfig{
		HTTPClient: up.srv.Client(),
		Endpoint:   up.srv.URL + "/",
	}, log)
	if err != nil {
		t.Fatalf("gmail: %v", err)
	}
	ebay, err := marketplace.NewClient(marketplace.Config{
		Environment: "sandbox",
		BaseURL:     up.srv.URL,
		TokenURL:    up.srv.URL + "/token",
		HTTPClient:  up.srv.Client(),
	}, log)
	if err != nil {
		t.Fatalf("ebay: %v", err)
	}
	notifier, err := notify.NewTelegramNotifier(notify.TelegramConfig{
		BotToken:    botToken,
		ChatID:      42,
		APIEndpoint: up.srv.URL + "/bot%s/%s",
		HTTPClient:  up.srv.Client(),
	}, log)
	if err != nil {
		t.Fatalf("telegram: %v", err)
	}

	stats := metrics.NewDispatchStats()
	deps := &Dependencies{
		Config:   cfg,
		Log:      log,
		Gmail:    gmail,
		Ebay:     ebay,
		Notifier: notifier,
		Redis:    rdb,
		Stats:    stats,
		Dispatcher: triage.NewDispatcher(triage.Dependencies{
			Mailbox:  gmail,
			Searcher: ebay,
			Notifier: notifier,
		}, log, triage.WithStats(stats)),
	}
	return deps, up
}

func pushRequest(data string) *http.Request {
	body := `{"message":{"data":"` + base64.StdEncoding.EncodeToString([]byte(data)) + `","messageId":"1"},"subscription":"s"}`
	req := httptest.NewRequest(http.MethodPost, "/webhook/gmail", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func baseConfig() *config.Config {
	return &config.Config{
		Port:               "0",
		Environment:        "test",
		IntakeMode:         config.IntakeDirect,
		PushAuthDisabled:   true,
		StreamName:         "triage:notifications",
		StreamGroup:        "triage-workers",
		WorkerID:           "w1",
		WorkerCount:        1,
		WatchRenewInterval: time.Hour,
	}
}

func TestServerDirectIntake(t *testing.T) {
	deps, up := testDeps(t, baseConfig(), nil)
	srv, err := NewServer(deps)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	app := srv.App()

	resp, err := app.Test(pushRequest(`{"emailAddress":"shop@example.com","historyId":5}`))
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	if up.lists.Load() != 1 {
		t.Errorf("expected one unread listing, got %d", up.lists.Load())
	}

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/ready", nil))
	if err != nil {
		t.Fatalf("ready: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected ready, got %d", resp.StatusCode)
	}

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/stats", nil))
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	var body struct {
		Data map[string]json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	for _, key := range []string{"dispatch", "webhook", "circuits"} {
		if _, ok := body.Data[key]; !ok {
			t.Errorf("stats missing %q", key)
		}
	}
	if _, ok := body.Data["pool"]; ok {
		t.Error("direct intake should not report pool stats")
	}
}

func TestServerQueuedIntake(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := baseConfig()
	cfg.IntakeMode = config.IntakeQueued
	deps, up := testDeps(t, cfg, rdb)

	srv, err := NewServer(deps)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	resp, err := srv.App().Test(pushRequest(`{"historyId":5}`))
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	n, err := rdb.XLen(t.Context(), cfg.StreamName).Result()
	if err != nil {
		t.Fatalf("xlen: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 queued notification, got %d", n)
	}
	if up.lists.Load() != 0 {
		t.Error("queued intake must not dispatch inline")
	}
}

func TestServerQueuedIntakeNeedsRedis(t *testing.T) {
	cfg := baseConfig()
	cfg.IntakeMode = config.IntakeQueued
	deps, _ := testDeps(t, cfg, nil)

	if _, err := NewServer(deps); err == nil {
		t.Fatal("expected error without redis")
	}
}
