package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"forex-trading-bot/internal/events"
	"forex-trading-bot/internal/logging"
)

type recordingServer struct {
	mu       sync.Mutex
	paths    []string
	payloads []map[string]interface{}
	status   int
}

func newRecordingServer(t *testing.T, status int) (*recordingServer, *httptest.Server) {
	t.Helper()
	rec := &recordingServer{status: status}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		rec.mu.Lock()
		rec.paths = append(rec.paths, r.URL.Path)
		rec.payloads = append(rec.payloads, body)
		rec.mu.Unlock()
		w.WriteHeader(rec.status)
	}))
	t.Cleanup(srv.Close)
	return rec, srv
}

func (r *recordingServer) snapshot() ([]string, []map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...), append([]map[string]interface{}(nil), r.payloads...)
}

type flakyNotifier struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyNotifier) Send(context.Context, *Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return errors.New("gateway timeout")
	}
	return nil
}

func (f *flakyNotifier) Name() string { return "flaky" }
func (f *flakyNotifier) IsEnabled() bool { return true }

func TestTelegramNotifier_Send(t *testing.T) {
	rec, srv := newRecordingServer(t, http.StatusOK)
	tg := NewTelegramNotifier(TelegramConfig{Enabled: true, BotToken: "123:abc", ChatID: "42", APIBase: srv.URL})

	err := tg.Send(context.Background(), &Notification{Kind: KindStopped, Title: "Bot stopped", Message: "Reason: manual"})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	paths, payloads := rec.snapshot()
	if len(paths) != 1 || paths[0] != "/bot123:abc/sendMessage" {
		t.Fatalf("Unexpected request paths %v", paths)
	}
	if payloads[0]["chat_id"] != "42" {
		t.Errorf("Expected chat id 42, got %v", payloads[0]["chat_id"])
	}
	if text, _ := payloads[0]["text"].(string); !strings.Contains(text, "Bot stopped") || !strings.Contains(text, "manual") {
		t.Errorf("Unexpected text %q", text)
	}
}

func TestTelegramNotifier_DisabledWithoutCredentials(t *testing.T) {
	tg := NewTelegramNotifier(TelegramConfig{Enabled: true, BotToken: "123:abc"})
	if tg.IsEnabled() {
		t.Error("Expected notifier disabled without a chat id")
	}
	if err := tg.Send(context.Background(), &Notification{}); err != nil {
		t.Errorf("Expected disabled send to be a no-op, got %v", err)
	}
}

func TestDiscordNotifier_Send(t *testing.T) {
	rec, srv := newRecordingServer(t, http.StatusNoContent)
	d := NewDiscordNotifier(DiscordConfig{Enabled: true, WebhookURL: srv.URL + "/webhook"})

	err := d.Send(context.Background(), &Notification{Kind: KindError, Title: "Bot error", Message: "feed down", Timestamp: time.Now()})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	_, payloads := rec.snapshot()
	embeds, _ := payloads[0]["embeds"].([]interface{})
	if len(embeds) != 1 {
		t.Fatalf("Expected one embed, got %v", payloads[0])
	}
	embed := embeds[0].(map[string]interface{})
	if embed["color"] != float64(0xFF0000) {
		t.Errorf("Expected red embed for errors, got %v", embed["color"])
	}
}

func TestDiscordNotifier_RejectsErrorStatus(t *testing.T) {
	_, srv := newRecordingServer(t, http.StatusTooManyRequests)
	d := NewDiscordNotifier(DiscordConfig{Enabled: true, WebhookURL: srv.URL})

	if err := d.Send(context.Background(), &Notification{Title: "x"}); err == nil {
		t.Error("Expected an error for status 429")
	}
}

func TestManager_DeliversBusEvents(t *testing.T) {
	rec, srv := newRecordingServer(t, http.StatusOK)
	m := NewManager(Config{}, logging.Nop())
	m.AddNotifier(NewTelegramNotifier(TelegramConfig{Enabled: true, BotToken: "t", ChatID: "c", APIBase: srv.URL}))
	if !m.Enabled() {
		t.Fatal("Expected manager enabled with a configured provider")
	}

	bus := events.NewBus()
	m.Attach(bus)
	bus.PublishTrade(events.Trade{Strategy: "gold-trend", Symbol: "XAUUSD", Side: "buy", Volume: 0.1, Price: 2350.3})
	bus.PublishStopped("error threshold reached")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m.Run(ctx)

	_, payloads := rec.snapshot()
	if len(payloads) != 2 {
		t.Fatalf("Expected 2 messages flushed on shutdown, got %d", len(payloads))
	}
	if text, _ := payloads[0]["text"].(string); !strings.Contains(text, "buy XAUUSD") {
		t.Errorf("Expected trade message first, got %q", text)
	}
	if m.Sent() != 2 {
		t.Errorf("Expected 2 deliveries, got %d", m.Sent())
	}
}

func TestManager_RetriesProvider(t *testing.T) {
	flaky := &flakyNotifier{failures: 2}
	m := NewManager(Config{MaxRetries: 3, RetryInterval: time.Millisecond}, logging.Nop())
	m.AddNotifier(flaky)

	if err := m.Send(context.Background(), &Notification{Title: "x"}); err != nil {
		t.Fatalf("Expected delivery after retries, got %v", err)
	}
	if flaky.calls != 3 {
		t.Errorf("Expected 3 attempts, got %d", flaky.calls)
	}
}

func TestManager_ReportsProviderFailure(t *testing.T) {
	m := NewManager(Config{}, logging.Nop())
	m.AddNotifier(&flakyNotifier{failures: 1})

	err := m.Send(context.Background(), &Notification{Title: "x"})
	if err == nil || !strings.Contains(err.Error(), "flaky") {
		t.Errorf("Expected provider-named error, got %v", err)
	}
}

func TestManager_ErrorCooldown(t *testing.T) {
	m := NewManager(Config{ErrorCooldown: time.Minute}, logging.Nop())
	base := time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)

	if !m.errorAllowed(base) {
		t.Error("Expected first error allowed")
	}
	if m.errorAllowed(base.Add(30 * time.Second)) {
		t.Error("Expected error inside cooldown suppressed")
	}
	if !m.errorAllowed(base.Add(61 * time.Second)) {
		t.Error("Expected error after cooldown allowed")
	}
}

func TestManager_DropsWhenQueueFull(t *testing.T) {
	m := NewManager(Config{Buffer: 1}, logging.Nop())
	bus := events.NewBus()
	m.Attach(bus)

	bus.PublishStopped("one")
	bus.PublishStopped("two")

	if m.Dropped() != 1 {
		t.Errorf("Expected 1 dropped notification, got %d", m.Dropped())
	}
}
