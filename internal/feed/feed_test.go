package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"go-signal/internal/config"
	"go-signal/internal/model"
)

func klineRows(n int, start time.Time) string {
	var b strings.Builder
	b.WriteString("[")
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(",")
		}
		open := 1.0 + float64(i)*0.01
		fmt.Fprintf(&b, `[%d,"%.4f","%.4f","%.4f","%.4f","%.2f",%d,"1000"]`,
			start.Add(time.Duration(i)*5*time.Minute).UnixMilli(),
			open, open+0.02, open-0.01, open+0.01, 500.0+float64(i),
			start.Add(time.Duration(i+1)*5*time.Minute).UnixMilli()-1,
		)
	}
	b.WriteString("]")
	return b.String()
}

func TestMEXCClientCandles(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var gotQuery, gotKey, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotKey = r.Header.Get("X-MEXC-APIKEY")
		_, _ = w.Write([]byte(klineRows(3, start)))
	}))
	defer srv.Close()

	c := NewMEXCClient(srv.URL+"/", "key-1", time.Second)
	candles, err := c.Candles(context.Background(), "MOODENGUSDT", "5m", 3)
	if err != nil {
		t.Fatalf("Candles error: %v", err)
	}
	if gotPath != "/api/v3/klines" {
		t.Fatalf("path=%s", gotPath)
	}
	if gotQuery != "interval=5m&limit=3&symbol=MOODENGUSDT" {
		t.Fatalf("query=%s", gotQuery)
	}
	if gotKey != "key-1" {
		t.Fatalf("api key header=%q", gotKey)
	}
	if len(candles) != 3 {
		t.Fatalf("got %d candles want 3", len(candles))
	}
	first := candles[0]
	if !first.Time.Equal(start) || first.Open != 1 || first.High != 1.02 || first.Low != 0.99 || first.Close != 1.01 || first.Volume != 500 {
		t.Fatalf("unexpected first candle %+v", first)
	}
	if !candles[2].Time.Equal(start.Add(10 * time.Minute)) {
		t.Fatalf("candles out of order: %+v", candles)
	}
}

func TestMEXCClientOmitsEmptyKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.Header["X-Mexc-Apikey"]; ok {
			t.Errorf("api key header sent without a key")
		}
		_, _ = w.Write([]byte("[]"))
	}))
	defer srv.Close()

	candles, err := NewMEXCClient(srv.URL, "", time.Second).Candles(context.Background(), "X", "5m", 10)
	if err != nil || len(candles) != 0 {
		t.Fatalf("got %v, %v", candles, err)
	}
}

func TestMEXCClientErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `{"code":500}`},
		{"bad symbol", http.StatusBadRequest, `{"code":-1121,"msg":"Invalid symbol."}`},
		{"not json", http.StatusOK, `<html>`},
		{"short row", http.StatusOK, `[[1,"1","2","0.5"]]`},
		{"bad number", http.StatusOK, `[[1,"x","2","0.5","1","10"]]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			if _, err := NewMEXCClient(srv.URL, "", time.Second).Candles(context.Background(), "X", "5m", 1); err == nil {
				t.Fatalf("expected an error")
			}
		})
	}
}

func TestParseInterval(t *testing.T) {
	if d, err := ParseInterval("60m"); err != nil || d != time.Hour {
		t.Fatalf("60m -> %s, %v", d, err)
	}
	if _, err := ParseInterval("1h"); err == nil {
		t.Fatalf("1h is not a MEXC interval")
	}
}

func TestDemoSourceIsDeterministic(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 7, 0, 0, time.UTC)
	a, b := NewDemoSource(42), NewDemoSource(42)
	a.now = func() time.Time { return now }
	b.now = a.now

	ca, err := a.Candles(context.Background(), "AAA", "5m", 100)
	if err != nil {
		t.Fatalf("Candles error: %v", err)
	}
	cb, _ := b.Candles(context.Background(), "AAA", "5m", 100)
	if len(ca) != 100 {
		t.Fatalf("got %d candles want 100", len(ca))
	}
	for i := range ca {
		if ca[i] != cb[i] {
			t.Fatalf("candle %d differs for the same seed", i)
		}
		c := ca[i]
		if c.High < c.Open || c.High < c.Close || c.Low > c.Open || c.Low > c.Close || c.Low <= 0 {
			t.Fatalf("candle %d is not a valid bar: %+v", i, c)
		}
	}
	if last := ca[len(ca)-1].Time; !last.Equal(time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC)) {
		t.Fatalf("last candle at %s", last)
	}
	if _, err := a.Candles(context.Background(), "AAA", "7m", 10); err == nil {
		t.Fatalf("expected an error for an unknown interval")
	}
}

type stubSource struct {
	series   []model.Candle
	trend    []model.Candle
	err      error
	trendErr error
}

func (s *stubSource) Candles(_ context.Context, _ string, interval string, _ int) ([]model.Candle, error) {
	if interval == "60m" {
		return s.trend, s.trendErr
	}
	return s.series, s.err
}

func rising(n int, start time.Time, step time.Duration) []model.Candle {
	out := make([]model.Candle, n)
	for i := range out {
		p := 1 + float64(i)*0.01
		out[i] = model.Candle{
			Time: start.Add(time.Duration(i) * step), Open: p, High: p + 0.005,
			Low: p - 0.005, Close: p + 0.004, Volume: 100,
		}
	}
	return out
}

func newTestProvider(t *testing.T, src CandleSource, now time.Time) *Provider {
	t.Helper()
	p := NewProvider(src, config.Default(), zaptest.NewLogger(t))
	p.now = func() time.Time { return now }
	return p
}

func TestProviderMetrics(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	src := &stubSource{
		series: rising(100, now.Add(-100*5*time.Minute), 5*time.Minute),
		trend:  rising(50, now.Add(-50*time.Hour), time.Hour),
	}
	m, err := newTestProvider(t, src, now).Metrics(context.Background(), "AAA")
	if err != nil {
		t.Fatalf("Metrics error: %v", err)
	}
	if m.Symbol != "AAA" || m.Trend != model.TrendUp {
		t.Fatalf("unexpected metrics %+v", m)
	}
	if m.Close <= m.EMA50 || m.MoneyFlow <= 0 {
		t.Fatalf("a rising series should sit above its EMA with inflow: %+v", m)
	}
}

func TestProviderTrendFailureIsNeutral(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	src := &stubSource{
		series:   rising(100, now.Add(-100*5*time.Minute), 5*time.Minute),
		trendErr: errors.New("rate limited"),
	}
	m, err := newTestProvider(t, src, now).Metrics(context.Background(), "AAA")
	if err != nil {
		t.Fatalf("Metrics error: %v", err)
	}
	if m.Trend != model.TrendNeutral {
		t.Fatalf("trend=%s want NEUTRAL", m.Trend)
	}
}

func TestProviderPrimaryFailure(t *testing.T) {
	src := &stubSource{err: errors.New("connection reset")}
	if _, err := newTestProvider(t, src, time.Now()).Metrics(context.Background(), "AAA"); err == nil {
		t.Fatalf("expected an error when the primary series fails")
	}
}

func TestProviderShortSeries(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	src := &stubSource{series: rising(5, now, 5*time.Minute)}
	if _, err := newTestProvider(t, src, now).Metrics(context.Background(), "AAA"); err == nil {
		t.Fatalf("expected an error for a series shorter than the windows")
	}
}
