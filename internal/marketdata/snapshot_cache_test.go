package marketdata

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"

	"github.com/tomking/trading/internal/domain"
)

func TestSnapshotCacheStoreAndLatest(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cache := NewSnapshotCache(db, time.Minute)
	ctx := context.Background()

	snap := &domain.MarketSnapshot{
		Timestamp: time.Date(2026, time.January, 7, 17, 0, 0, 0, time.UTC),
		VIX:       16.8,
		VIXAsOf:   time.Date(2026, time.January, 7, 16, 58, 0, 0, time.UTC),
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		t.Fatal(err)
	}

	t.Run("store publishes with ttl", func(t *testing.T) {
		mock.ExpectSet(snapshotKey, payload, time.Minute).SetVal("OK")
		if err := cache.Store(ctx, snap); err != nil {
			t.Fatalf("Store failed: %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("redis expectations not met: %v", err)
		}
	})

	t.Run("latest round-trips", func(t *testing.T) {
		mock.ExpectGet(snapshotKey).SetVal(string(payload))
		got, err := cache.Latest(ctx)
		if err != nil {
			t.Fatalf("Latest failed: %v", err)
		}
		if got == nil || got.VIX != 16.8 || !got.VIXAsOf.Equal(snap.VIXAsOf) {
			t.Errorf("round trip mangled snapshot: %+v", got)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("redis expectations not met: %v", err)
		}
	})

	t.Run("miss is not an error", func(t *testing.T) {
		mock.ExpectGet(snapshotKey).RedisNil()
		got, err := cache.Latest(ctx)
		if err != nil {
			t.Fatalf("miss should not error: %v", err)
		}
		if got != nil {
			t.Errorf("miss returned a snapshot: %+v", got)
		}
	})

	t.Run("redis failure surfaces", func(t *testing.T) {
		mock.ExpectGet(snapshotKey).SetErr(redis.TxFailedErr)
		if _, err := cache.Latest(ctx); err == nil {
			t.Error("redis failure swallowed")
		}
	})
}
