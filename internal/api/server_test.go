package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"

	"go-signal/internal/engine"
	"go-signal/internal/model"
)

type fakeEngine struct {
	mu       sync.Mutex
	commands []model.Command
	full     bool
	events   []model.Event
	evalErr  error
}

func (f *fakeEngine) StatusJSON() ([]byte, error) {
	return []byte(`{"mode":"RUNNING"}`), nil
}

func (f *fakeEngine) PushCommand(cmd model.Command) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full {
		return false
	}
	f.commands = append(f.commands, cmd)
	return true
}

func (f *fakeEngine) EvaluateNow(_ context.Context, symbol string) (engine.CycleResult, error) {
	if symbol != "MOODENGUSDT" {
		return engine.CycleResult{Symbol: symbol}, fmt.Errorf("%s: %w", symbol, engine.ErrUnknownSymbol)
	}
	ev := model.NewEvent(model.EventHold, symbol, 0.1, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)).WithScore(0.01)
	return engine.CycleResult{Symbol: symbol, Events: []model.Event{ev}}, f.evalErr
}

func (f *fakeEngine) RecentEvents(symbol string, n int) []model.Event {
	var out []model.Event
	for _, ev := range f.events {
		if symbol == "" || ev.Symbol == symbol {
			out = append(out, ev)
		}
	}
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

func newTestServer(t *testing.T, eng *fakeEngine, hub *Hub) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(NewServer("127.0.0.1:0", eng, hub, zaptest.NewLogger(t)).Handler())
	t.Cleanup(ts.Close)
	return ts
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
}

func getJSON(t *testing.T, url string) (int, envelope) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decoding %s: %v", url, err)
	}
	return resp.StatusCode, env
}

func TestHealthAndStatus(t *testing.T) {
	ts := newTestServer(t, &fakeEngine{}, nil)

	if code, _ := getJSON(t, ts.URL+"/api/health"); code != http.StatusOK {
		t.Fatalf("health status %d", code)
	}
	resp, err := http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	defer resp.Body.Close()
	var status map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil || status["mode"] != "RUNNING" {
		t.Fatalf("status body %v, err %v", status, err)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("CORS header missing")
	}
}

func TestEvaluateEndpoint(t *testing.T) {
	eng := &fakeEngine{}
	ts := newTestServer(t, eng, nil)

	code, env := getJSON(t, ts.URL+"/api/evaluate?symbol=moodengusdt")
	if code != http.StatusOK {
		t.Fatalf("status %d error %q", code, env.Error)
	}
	var body evaluateResponse
	if err := json.Unmarshal(env.Data, &body); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if len(body.Messages) != 1 || !strings.Contains(body.Messages[0], "HOLD - Score: 0.01") {
		t.Fatalf("messages=%q", body.Messages)
	}

	if code, _ := getJSON(t, ts.URL+"/api/evaluate"); code != http.StatusBadRequest {
		t.Fatalf("missing symbol: status %d want 400", code)
	}
	if code, _ := getJSON(t, ts.URL+"/api/evaluate?symbol=ZZZ"); code != http.StatusNotFound {
		t.Fatalf("unknown symbol: status %d want 404", code)
	}

	eng.evalErr = errors.New("exchange down")
	if code, env := getJSON(t, ts.URL+"/api/evaluate?symbol=MOODENGUSDT"); code != http.StatusBadGateway || env.Error == "" {
		t.Fatalf("failed cycle: status %d error %q", code, env.Error)
	}
}

func TestEventsEndpoint(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	eng := &fakeEngine{events: []model.Event{
		model.NewEvent(model.EventHold, "AAA", 1, at),
		model.NewEvent(model.EventHold, "BBB", 2, at),
		model.NewEvent(model.EventStrongBuy, "AAA", 3, at),
	}}
	ts := newTestServer(t, eng, nil)

	_, env := getJSON(t, ts.URL+"/api/events?symbol=AAA&n=1")
	var events []model.Event
	if err := json.Unmarshal(env.Data, &events); err != nil {
		t.Fatalf("decoding events: %v", err)
	}
	if len(events) != 1 || events[0].Kind != model.EventStrongBuy {
		t.Fatalf("unexpected events %+v", events)
	}
	if code, _ := getJSON(t, ts.URL+"/api/events?n=-1"); code != http.StatusBadRequest {
		t.Fatalf("negative n: status %d want 400", code)
	}
}

func postCommand(t *testing.T, url, body string) int {
	t.Helper()
	resp, err := http.Post(url+"/api/command", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST command: %v", err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

func TestCommandEndpoint(t *testing.T) {
	eng := &fakeEngine{}
	ts := newTestServer(t, eng, nil)

	tests := []struct {
		body string
		want int
	}{
		{`{"type":"PAUSE"}`, http.StatusAccepted},
		{`{"type":"CLOSE","symbol":"moodengusdt","reason":"manual"}`, http.StatusAccepted},
		{`{"type":"CLOSE"}`, http.StatusBadRequest},
		{`{"type":"FLIP"}`, http.StatusBadRequest},
		{`not json`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		if got := postCommand(t, ts.URL, tt.body); got != tt.want {
			t.Fatalf("%s: status %d want %d", tt.body, got, tt.want)
		}
	}
	if len(eng.commands) != 2 || eng.commands[1].Symbol != "MOODENGUSDT" || eng.commands[1].Time.IsZero() {
		t.Fatalf("unexpected queued commands %+v", eng.commands)
	}

	resp, err := http.Get(ts.URL + "/api/command")
	if err != nil {
		t.Fatalf("GET command: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET command: status %d want 405", resp.StatusCode)
	}

	eng.full = true
	if got := postCommand(t, ts.URL, `{"type":"RESUME"}`); got != http.StatusServiceUnavailable {
		t.Fatalf("full queue: status %d want 503", got)
	}
}

func TestWebSocketStreamsEvents(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t))
	ts := newTestServer(t, &fakeEngine{}, hub)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.ClientCount() != 1 {
		t.Fatalf("client was not registered")
	}

	ev := model.NewEvent(model.EventStrongSell, "PIPPINUSDT", 0.2, time.Now()).WithScore(-0.5)
	if err := hub.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish error: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Type string      `json:"type"`
		Data model.Event `json:"data"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != "event" || msg.Data.ID != ev.ID || msg.Data.Kind != model.EventStrongSell {
		t.Fatalf("unexpected message %+v", msg)
	}

	conn.Close()
	deadline = time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.ClientCount() != 0 {
		t.Fatalf("closed client was not removed")
	}
}
