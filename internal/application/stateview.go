package application

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tomking/trading/internal/domain"
	httpapi "github.com/tomking/trading/internal/interfaces/http"
	"github.com/tomking/trading/internal/marketdata"
)

// CachedState serves the monitoring endpoints from the redis snapshot
// when the HTTP server runs apart from the trading loop. The paper
// ledger is not shared through the cache, so the positions surface
// reports unavailable in this mode.
type CachedState struct {
	cache   *marketdata.SnapshotCache
	metrics *httpapi.MetricsRegistry
}

// NewCachedState wraps a snapshot cache. metrics may be nil.
func NewCachedState(cache *marketdata.SnapshotCache, metrics *httpapi.MetricsRegistry) *CachedState {
	return &CachedState{cache: cache, metrics: metrics}
}

// LatestSnapshot reads the runner's last published snapshot.
func (s *CachedState) LatestSnapshot() (*domain.MarketSnapshot, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	snap, err := s.cache.Latest(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("snapshot cache read failed")
	}
	if err != nil || snap == nil {
		if s.metrics != nil {
			s.metrics.RecordCacheMiss("snapshot")
		}
		return nil, false
	}
	if s.metrics != nil {
		s.metrics.RecordCacheHit("snapshot")
	}
	return snap, true
}

// LatestAccount always reports unavailable; account state lives with
// the runner.
func (s *CachedState) LatestAccount() (*domain.AccountState, bool) {
	return nil, false
}
