package marketdata

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomking/trading/internal/domain"
)

func cboeTestClient(baseURL string, cacheTTL time.Duration) *CBOEClient {
	return NewCBOEClient(CBOEConfig{
		BaseURL:  baseURL,
		RPS:      1000,
		Burst:    100,
		Timeout:  2 * time.Second,
		CacheTTL: cacheTTL,
	}, NewMemoryCache())
}

func TestCBOEClientParsesVIX(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/quotes/_VIX.json" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"data":{"symbol":"^VIX","current_price":17.44,"last_trade_time":"2026-01-07T11:59:58"}}`)
	}))
	defer srv.Close()

	vix, asOf, err := cboeTestClient(srv.URL, 0).VIX(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if vix != 17.44 {
		t.Errorf("vix = %v", vix)
	}
	// 11:59:58 New York is 16:59:58 UTC in winter.
	if asOf.UTC().Hour() != 16 || asOf.UTC().Minute() != 59 {
		t.Errorf("asOf = %v", asOf.UTC())
	}
}

func TestCBOEClientRejectsBadPayloads(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"not json", "<html>maintenance</html>"},
		{"zero price", `{"data":{"current_price":0,"last_trade_time":"2026-01-07T11:59:58"}}`},
		{"negative price", `{"data":{"current_price":-3,"last_trade_time":"2026-01-07T11:59:58"}}`},
		{"no trade time", `{"data":{"current_price":17.4,"last_trade_time":""}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tc.body)
			}))
			defer srv.Close()

			_, _, err := cboeTestClient(srv.URL, 0).VIX(context.Background())
			if !errors.Is(err, domain.ErrDataUnavailable) {
				t.Errorf("error = %v, want data-unavailable", err)
			}
		})
	}
}

func TestCBOEClientServesFromCache(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, `{"data":{"current_price":17.44,"last_trade_time":"2026-01-07T11:59:58"}}`)
	}))
	defer srv.Close()

	client := cboeTestClient(srv.URL, time.Hour)
	for i := 0; i < 3; i++ {
		if _, _, err := client.VIX(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if hits.Load() != 1 {
		t.Errorf("upstream hit %d times, want 1", hits.Load())
	}
}

func TestCBOEClientBreakerOpensOnRepeatedFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := cboeTestClient(srv.URL, 0)
	for i := 0; i < 4; i++ {
		if _, _, err := client.VIX(context.Background()); err == nil {
			t.Fatal("failing upstream produced a reading")
		}
	}
	if state := client.BreakerState(); state != "open" {
		t.Errorf("breaker state = %q after repeated failures", state)
	}
}

func TestCBOEClientQuotesFanOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/quotes/SPY.json":
			fmt.Fprint(w, `{"data":{"symbol":"SPY","current_price":610.25,"iv30":0.14,"iv30_rank":0.32,"last_trade_time":"2026-01-07T11:59:58"}}`)
		case "/quotes/TLT.json":
			fmt.Fprint(w, `{"data":{"symbol":"TLT","current_price":92.10,"iv30":0.11,"iv30_rank":0.20,"last_trade_time":"2026-01-07T11:59:55"}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	quotes, err := cboeTestClient(srv.URL, 0).Quotes(context.Background(), []string{"SPY", "TLT", "NOPE"})
	if err != nil {
		t.Fatal(err)
	}
	if len(quotes) != 2 {
		t.Fatalf("got %d quotes, want 2 (failed symbol dropped)", len(quotes))
	}
	if quotes["SPY"].Price.String() != "610.25" {
		t.Errorf("SPY price = %s", quotes["SPY"].Price)
	}
	if quotes["TLT"].IV != 0.11 {
		t.Errorf("TLT iv = %v", quotes["TLT"].IV)
	}
	if _, ok := quotes["NOPE"]; ok {
		t.Error("missing symbol should have been dropped")
	}
}

func TestCBOEClientQuotesAllFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := cboeTestClient(srv.URL, 0).Quotes(context.Background(), []string{"SPY", "TLT"})
	if !errors.Is(err, domain.ErrDataUnavailable) {
		t.Errorf("error = %v, want data-unavailable", err)
	}
}

func TestCBOEClientQuotesEmptySymbols(t *testing.T) {
	quotes, err := cboeTestClient("https://example.invalid", 0).Quotes(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(quotes) != 0 {
		t.Errorf("got %d quotes, want 0", len(quotes))
	}
}
