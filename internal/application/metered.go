package application

import (
	"strings"
	"time"

	httpapi "github.com/tomking/trading/internal/interfaces/http"
	"github.com/tomking/trading/internal/marketdata"
)

// meteredCache wraps a payload cache and counts hits and misses. The key
// decides the metric's cache type: the VIX payload is tracked apart from
// symbol quotes so a cold VIX cache is visible on its own.
type meteredCache struct {
	base    marketdata.Cache
	metrics *httpapi.MetricsRegistry
}

// meterCache decorates base with hit and miss counters. A nil registry
// returns base unchanged.
func meterCache(base marketdata.Cache, metrics *httpapi.MetricsRegistry) marketdata.Cache {
	if metrics == nil {
		return base
	}
	return &meteredCache{base: base, metrics: metrics}
}

func (c *meteredCache) Get(key string) ([]byte, bool) {
	val, ok := c.base.Get(key)
	if ok {
		c.metrics.RecordCacheHit(cacheTypeFor(key))
	} else {
		c.metrics.RecordCacheMiss(cacheTypeFor(key))
	}
	return val, ok
}

func (c *meteredCache) Set(key string, val []byte, ttl time.Duration) {
	c.base.Set(key, val, ttl)
}

func cacheTypeFor(key string) string {
	if strings.Contains(key, "_VIX") {
		return "vix"
	}
	return "quotes"
}
