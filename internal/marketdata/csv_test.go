package marketdata

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeHistory(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history.csv")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const goodHistory = `timestamp,vix,symbol,price,iv,iv_rank
2026-01-07T15:00:00Z,16.2,ES,6120.25,0.142,0.31
2026-01-07T15:00:00Z,16.2,CL,74.10,0.33,0.55
2026-01-07T15:05:00Z,16.4,ES,6118.00,0.143,0.32
`

func TestLoadCSVMergesRowsByTimestamp(t *testing.T) {
	snaps, err := LoadCSV(writeHistory(t, goodHistory))
	if err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 2 {
		t.Fatalf("got %d snapshots, want 2", len(snaps))
	}

	first := snaps[0]
	if first.VIX != 16.2 {
		t.Errorf("first VIX = %v", first.VIX)
	}
	if len(first.Quotes) != 2 {
		t.Errorf("first snapshot has %d quotes, want 2", len(first.Quotes))
	}
	if !first.Quotes["ES"].Price.Equal(decimalFromString(t, "6120.25")) {
		t.Errorf("ES price = %s", first.Quotes["ES"].Price)
	}
	if !first.VIXAsOf.Equal(first.Timestamp) {
		t.Error("VIXAsOf should match the row timestamp")
	}

	if len(snaps[1].Quotes) != 1 || snaps[1].VIX != 16.4 {
		t.Errorf("second snapshot wrong: %+v", snaps[1])
	}
}

func TestLoadCSVRejectsBrokenFiles(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"wrong header", "time,vix,symbol,price,iv,iv_rank\n"},
		{"no rows", "timestamp,vix,symbol,price,iv,iv_rank\n"},
		{"bad timestamp", "timestamp,vix,symbol,price,iv,iv_rank\nyesterday,16,ES,6100,0.14,0.3\n"},
		{"bad vix", "timestamp,vix,symbol,price,iv,iv_rank\n2026-01-07T15:00:00Z,calm,ES,6100,0.14,0.3\n"},
		{"bad price", "timestamp,vix,symbol,price,iv,iv_rank\n2026-01-07T15:00:00Z,16,ES,cheap,0.14,0.3\n"},
		{"time reversal", goodHistory + "2026-01-07T14:00:00Z,16.0,ES,6100,0.14,0.3\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := LoadCSV(writeHistory(t, tc.body)); err == nil {
				t.Error("broken history accepted")
			}
		})
	}
}

func TestReplayProviderServesHistoryOnce(t *testing.T) {
	snaps, err := LoadCSV(writeHistory(t, goodHistory))
	if err != nil {
		t.Fatal(err)
	}
	replay := NewReplay(snaps)

	ctx := context.Background()
	first, err := replay.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if first.VIX != 16.2 {
		t.Errorf("first replayed VIX = %v", first.VIX)
	}
	if replay.Remaining() != 1 {
		t.Errorf("remaining = %d, want 1", replay.Remaining())
	}

	if _, err := replay.Snapshot(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := replay.Snapshot(ctx); !errors.Is(err, ErrHistoryExhausted) {
		t.Errorf("exhausted replay returned %v", err)
	}
}

func TestLoadCSVMissingFile(t *testing.T) {
	_, err := LoadCSV(filepath.Join(t.TempDir(), "absent.csv"))
	if err == nil || !strings.Contains(err.Error(), "failed to open") {
		t.Errorf("missing file error = %v", err)
	}
}
