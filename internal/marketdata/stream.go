package marketdata

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/tomking/trading/internal/domain"
)

// QuoteStream maintains the latest quote per symbol from a websocket
// feed. It reconnects forever with backoff until the context is done;
// consumers read the latest state, they never block on the socket.
type QuoteStream struct {
	url   string
	mu    sync.RWMutex
	last  map[string]domain.Quote
	conns int
}

// NewQuoteStream builds a stream for the given websocket URL.
func NewQuoteStream(url string) *QuoteStream {
	return &QuoteStream{
		url:  url,
		last: make(map[string]domain.Quote),
	}
}

// streamTick is the wire format of one quote update.
type streamTick struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	IV     float64 `json:"iv"`
	IVRank float64 `json:"iv_rank"`
	TS     int64   `json:"ts"` // unix milliseconds
}

// Run consumes the feed until ctx is done. Call it in its own goroutine.
func (s *QuoteStream) Run(ctx context.Context) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		if err := s.consume(ctx); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Str("url", s.url).Msg("quote stream dropped, reconnecting")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (s *QuoteStream) consume(ctx context.Context) error {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	s.mu.Lock()
	s.conns++
	s.mu.Unlock()
	log.Info().Str("url", s.url).Msg("quote stream connected")

	_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	})

	// The dialer has no ctx awareness after the handshake; close the
	// socket when the ctx ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))

		var tick streamTick
		if err := json.Unmarshal(msg, &tick); err != nil || tick.Symbol == "" || tick.Price <= 0 {
			continue
		}
		s.mu.Lock()
		s.last[tick.Symbol] = domain.Quote{
			Symbol: tick.Symbol,
			Price:  decimal.NewFromFloat(tick.Price),
			IV:     tick.IV,
			IVRank: tick.IVRank,
			AsOf:   time.UnixMilli(tick.TS).UTC(),
		}
		s.mu.Unlock()
	}
}

// Quotes snapshots the latest quote per symbol.
func (s *QuoteStream) Quotes() map[string]domain.Quote {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.Quote, len(s.last))
	for sym, q := range s.last {
		out[sym] = q
	}
	return out
}

// Connections reports how many times the stream has (re)connected.
func (s *QuoteStream) Connections() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conns
}
