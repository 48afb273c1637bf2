package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"factor-lab/internal/domain"
	"factor-lab/internal/observability"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.ReconnectDelay = 10 * time.Millisecond
	cfg.MaxReconnectDelay = 50 * time.Millisecond
	cfg.PingInterval = time.Hour
	cfg.ReadTimeout = 5 * time.Second
	cfg.WriteTimeout = time.Second
	return &cfg
}

func receive(t *testing.T, c *Client) *domain.Bar {
	t.Helper()
	select {
	case bar, ok := <-c.Bars():
		if !ok {
			t.Fatal("bar channel closed")
		}
		return bar
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for bar")
	}
	return nil
}

func TestClient_SubscribeAndReceive(t *testing.T) {
	var mu sync.Mutex
	var got subscribeRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer c.Close()

		_, msg, err := c.ReadMessage()
		if err != nil {
			return
		}
		mu.Lock()
		if err := json.Unmarshal(msg, &got); err != nil {
			t.Errorf("unmarshal subscribe: %v", err)
		}
		mu.Unlock()

		c.WriteMessage(websocket.TextMessage, []byte(`{"type":"subscribed"}`))
		c.WriteMessage(websocket.TextMessage, []byte(`{"type":"bar","symbol":"rb2405","exchange":"SHFE","ts":1700000000000,`+
			`"open":"101.5","high":"103","low":"100.25","close":"102","volume":1200,"turnover":"122400","open_interest":"5000"}`))

		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	client, err := Dial(context.Background(), wsURL(server), Subscription{Symbols: []string{"rb2405"}, Interval: "1m"}, testConfig())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	bar := receive(t, client)

	mu.Lock()
	if got.Op != "subscribe" || len(got.Symbols) != 1 || got.Symbols[0] != "rb2405" || got.Interval != "1m" {
		t.Errorf("unexpected subscribe request: %+v", got)
	}
	mu.Unlock()

	if bar.Symbol != "rb2405" || bar.Exchange != "SHFE" || bar.Interval != "1m" {
		t.Errorf("unexpected identity: %+v", bar)
	}
	if bar.TimestampMs != 1700000000000 {
		t.Errorf("ts: got %d", bar.TimestampMs)
	}
	if bar.Open != 101.5 || bar.High != 103 || bar.Low != 100.25 || bar.Close != 102 {
		t.Errorf("prices: %+v", bar)
	}
	if bar.Volume != 1200 || bar.Turnover != 122400 || bar.OpenInterest != 5000 {
		t.Errorf("volume fields: %+v", bar)
	}
}

func TestClient_BadMessagesSkipped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		if _, _, err := c.ReadMessage(); err != nil {
			return
		}

		c.WriteMessage(websocket.TextMessage, []byte(`not json`))
		c.WriteMessage(websocket.TextMessage, []byte(`{"type":"bar","ts":1}`))
		c.WriteMessage(websocket.TextMessage, []byte(`{"type":"error","message":"unknown symbol"}`))
		c.WriteMessage(websocket.TextMessage, []byte(`{"type":"bar","symbol":"ag2406","ts":60000,"open":1,"high":2,"low":1,"close":2,"volume":10}`))

		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics("test", reg)

	client, err := Dial(context.Background(), wsURL(server), Subscription{Symbols: []string{"ag2406"}, Interval: "1d"}, testConfig(),
		WithMetrics(metrics))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	bar := receive(t, client)
	if bar.Symbol != "ag2406" || bar.Interval != "1d" {
		t.Errorf("unexpected bar: %+v", bar)
	}
	// Missing turnover falls back to close * volume
	if bar.Turnover != 20 {
		t.Errorf("turnover: got %v, want 20", bar.Turnover)
	}
	if got := testutil.ToFloat64(metrics.FeedMessagesBad); got != 3 {
		t.Errorf("bad messages: got %v, want 3", got)
	}
	if got := testutil.ToFloat64(metrics.FeedConnected); got != 1 {
		t.Errorf("connected gauge: got %v, want 1", got)
	}
}

func TestClient_ReconnectResubscribes(t *testing.T) {
	var connections atomic.Int32
	var subscribes atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		n := connections.Add(1)

		if _, _, err := c.ReadMessage(); err != nil {
			return
		}
		subscribes.Add(1)

		if n == 1 {
			c.WriteMessage(websocket.TextMessage, []byte(`{"type":"bar","symbol":"rb2405","ts":60000,"open":1,"high":1,"low":1,"close":1,"volume":1}`))
			// Drop the first connection
			return
		}

		c.WriteMessage(websocket.TextMessage, []byte(`{"type":"bar","symbol":"rb2405","ts":120000,"open":2,"high":2,"low":2,"close":2,"volume":1}`))
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	client, err := Dial(context.Background(), wsURL(server), Subscription{Symbols: []string{"rb2405"}, Interval: "1m"}, testConfig())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	first := receive(t, client)
	second := receive(t, client)

	if first.TimestampMs != 60000 || second.TimestampMs != 120000 {
		t.Errorf("timestamps: got %d, %d", first.TimestampMs, second.TimestampMs)
	}
	if got := subscribes.Load(); got < 2 {
		t.Errorf("expected resubscribe after reconnect, got %d subscribes", got)
	}
	if client.Reconnects() < 1 {
		t.Errorf("expected at least one reconnect, got %d", client.Reconnects())
	}
}

func TestClient_DialError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := Dial(ctx, "ws://127.0.0.1:1", Subscription{Symbols: []string{"x"}}, testConfig()); err == nil {
		t.Fatal("expected dial error")
	}
}

func TestClient_CloseIdempotent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	client, err := Dial(context.Background(), wsURL(server), Subscription{Symbols: []string{"x"}}, testConfig())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, ok := <-client.Bars(); ok {
		t.Error("bar channel should be closed")
	}
}

func TestDecodeBar(t *testing.T) {
	bar, err := decodeBar([]byte(`{"type":"pong"}`), "1m")
	if err != nil || bar != nil {
		t.Errorf("control frame: got %v, %v", bar, err)
	}

	_, err = decodeBar([]byte(`{"type":"bar","symbol":"x","ts":1,"high":1,"low":2}`), "1m")
	if err == nil {
		t.Error("expected error for high below low")
	}

	_, err = decodeBar([]byte(`{"type":"error","message":"boom"}`), "1m")
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("server error: got %v", err)
	}
}
