package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"github.com/tomking/trading/internal/domain"
	"github.com/tomking/trading/internal/net/ratelimit"
)

// CBOEConfig tunes the delayed-quote client.
type CBOEConfig struct {
	BaseURL  string        `yaml:"base_url"`
	RPS      float64       `yaml:"rps"`
	Burst    int           `yaml:"burst"`
	Timeout  time.Duration `yaml:"timeout"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// DefaultCBOEConfig returns the production endpoint settings.
func DefaultCBOEConfig() CBOEConfig {
	return CBOEConfig{
		BaseURL:  "https://cdn.cboe.com/api/global/delayed_quotes",
		RPS:      2,
		Burst:    4,
		Timeout:  5 * time.Second,
		CacheTTL: 30 * time.Second,
	}
}

// CBOEClient fetches the delayed VIX quote. Requests run through a
// per-endpoint rate limiter and a circuit breaker; payloads are cached
// briefly so several cycles inside one staleness budget share a fetch.
type CBOEClient struct {
	config  CBOEConfig
	http    *http.Client
	limiter *ratelimit.Limiter
	breaker *gobreaker.CircuitBreaker
	cache   Cache
}

// NewCBOEClient builds a client; a nil cache disables payload caching.
func NewCBOEClient(config CBOEConfig, cache Cache) *CBOEClient {
	if config.BaseURL == "" {
		config = DefaultCBOEConfig()
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	if cache == nil {
		cache = NewMemoryCache()
	}

	settings := gobreaker.Settings{
		Name:        "cboe",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= 3 {
				return true
			}
			if counts.Requests >= 10 {
				rate := float64(counts.TotalFailures) / float64(counts.Requests)
				return rate >= 0.5
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("quote feed circuit state changed")
		},
	}

	return &CBOEClient{
		config:  config,
		http:    &http.Client{Timeout: config.Timeout},
		limiter: ratelimit.NewLimiter(config.RPS, config.Burst),
		breaker: gobreaker.NewCircuitBreaker(settings),
		cache:   cache,
	}
}

type cboeQuote struct {
	Data struct {
		Symbol        string  `json:"symbol"`
		CurrentPrice  float64 `json:"current_price"`
		IV30          float64 `json:"iv30"`
		IV30Rank      float64 `json:"iv30_rank"`
		LastTradeTime string  `json:"last_trade_time"`
	} `json:"data"`
}

// VIX returns the delayed VIX level and its upstream timestamp. Any
// failure wraps domain.ErrDataUnavailable; the caller skips the cycle.
func (c *CBOEClient) VIX(ctx context.Context) (float64, time.Time, error) {
	payload, err := c.fetch(ctx, "quotes/_VIX.json")
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("%w: vix fetch: %v", domain.ErrDataUnavailable, err)
	}

	var quote cboeQuote
	if err := json.Unmarshal(payload, &quote); err != nil {
		return 0, time.Time{}, fmt.Errorf("%w: vix payload: %v", domain.ErrDataUnavailable, err)
	}
	if quote.Data.CurrentPrice <= 0 {
		return 0, time.Time{}, fmt.Errorf("%w: vix price %.2f out of range", domain.ErrDataUnavailable, quote.Data.CurrentPrice)
	}

	asOf, err := parseCBOETime(quote.Data.LastTradeTime)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("%w: vix trade time: %v", domain.ErrDataUnavailable, err)
	}
	return quote.Data.CurrentPrice, asOf, nil
}

// Quotes fetches delayed quotes for the given symbols concurrently.
// Symbols that fail are dropped: the provider tolerates missing quotes
// and only loses mark quality. The error is non-nil only when every
// symbol failed, wrapping domain.ErrDataUnavailable.
func (c *CBOEClient) Quotes(ctx context.Context, symbols []string) (map[string]domain.Quote, error) {
	quotes := make(map[string]domain.Quote, len(symbols))
	if len(symbols) == 0 {
		return quotes, nil
	}

	var mu sync.Mutex
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(4)

	for _, sym := range symbols {
		symbol := sym
		eg.Go(func() error {
			quote, err := c.quote(egCtx, symbol)
			if err != nil {
				log.Debug().Err(err).Str("symbol", symbol).Msg("quote fetch failed, symbol dropped")
				return nil
			}
			mu.Lock()
			quotes[symbol] = quote
			mu.Unlock()
			return nil
		})
	}
	_ = eg.Wait()

	if len(quotes) == 0 {
		return nil, fmt.Errorf("%w: all %d quote fetches failed", domain.ErrDataUnavailable, len(symbols))
	}
	return quotes, nil
}

func (c *CBOEClient) quote(ctx context.Context, symbol string) (domain.Quote, error) {
	payload, err := c.fetch(ctx, "quotes/"+symbol+".json")
	if err != nil {
		return domain.Quote{}, err
	}

	var quote cboeQuote
	if err := json.Unmarshal(payload, &quote); err != nil {
		return domain.Quote{}, fmt.Errorf("quote payload: %w", err)
	}
	if quote.Data.CurrentPrice <= 0 {
		return domain.Quote{}, fmt.Errorf("price %.2f out of range", quote.Data.CurrentPrice)
	}
	asOf, err := parseCBOETime(quote.Data.LastTradeTime)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("trade time: %w", err)
	}

	return domain.Quote{
		Symbol: symbol,
		Price:  decimal.NewFromFloat(quote.Data.CurrentPrice),
		IV:     quote.Data.IV30,
		IVRank: quote.Data.IV30Rank,
		AsOf:   asOf,
	}, nil
}

// LimiterStats exposes the endpoint buckets for the diagnostics surface.
func (c *CBOEClient) LimiterStats() map[string]ratelimit.EndpointStats {
	return c.limiter.Stats()
}

// BreakerState reports the circuit state for the diagnostics surface.
func (c *CBOEClient) BreakerState() string {
	return c.breaker.State().String()
}

func (c *CBOEClient) fetch(ctx context.Context, path string) ([]byte, error) {
	key := "cboe:" + path
	if cached, ok := c.cache.Get(key); ok {
		return cached, nil
	}

	full := c.config.BaseURL + "/" + path
	u, err := url.Parse(full)
	if err != nil {
		return nil, fmt.Errorf("bad endpoint %q: %w", full, err)
	}
	if err := c.limiter.Wait(ctx, u.Host); err != nil {
		return nil, err
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("upstream status %d", resp.StatusCode)
		}
		return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	})
	if err != nil {
		return nil, err
	}

	payload := result.([]byte)
	if c.config.CacheTTL > 0 {
		c.cache.Set(key, payload, c.config.CacheTTL)
	}
	return payload, nil
}

// parseCBOETime handles the upstream's timezone-less timestamps, which
// are quoted in US eastern time.
func parseCBOETime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty trade time")
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.Time{}, err
	}
	return time.ParseInLocation("2006-01-02T15:04:05", s, loc)
}
