package marketdata

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tomking/trading/internal/domain"
)

// ErrHistoryExhausted marks the end of a replayed CSV history.
var ErrHistoryExhausted = errors.New("csv history exhausted")

// csvHeader is the required column order.
var csvHeader = []string{"timestamp", "vix", "symbol", "price", "iv", "iv_rank"}

// LoadCSV reads a quote history file into ordered snapshots. Rows sharing
// a timestamp merge into one snapshot; timestamps must be non-decreasing.
//
//	timestamp,vix,symbol,price,iv,iv_rank
//	2026-01-07T15:00:00Z,16.2,ES,6120.25,0.142,0.31
func LoadCSV(path string) ([]domain.MarketSnapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open quote history: %w", err)
	}
	defer f.Close()
	snaps, err := parseCSV(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse quote history %s: %w", path, err)
	}
	return snaps, nil
}

func parseCSV(r io.Reader) ([]domain.MarketSnapshot, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("missing header: %w", err)
	}
	if len(header) != len(csvHeader) {
		return nil, fmt.Errorf("header has %d columns, want %d", len(header), len(csvHeader))
	}
	for i, want := range csvHeader {
		if header[i] != want {
			return nil, fmt.Errorf("column %d is %q, want %q", i, header[i], want)
		}
	}

	var snaps []domain.MarketSnapshot
	var current *domain.MarketSnapshot
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		line++

		ts, err := time.Parse(time.RFC3339, record[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: bad timestamp %q: %w", line, record[0], err)
		}
		vix, err := strconv.ParseFloat(record[1], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad vix %q: %w", line, record[1], err)
		}
		price, err := decimal.NewFromString(record[3])
		if err != nil {
			return nil, fmt.Errorf("line %d: bad price %q: %w", line, record[3], err)
		}
		iv, err := strconv.ParseFloat(record[4], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad iv %q: %w", line, record[4], err)
		}
		ivRank, err := strconv.ParseFloat(record[5], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad iv_rank %q: %w", line, record[5], err)
		}

		if current == nil || !current.Timestamp.Equal(ts) {
			if current != nil && ts.Before(current.Timestamp) {
				return nil, fmt.Errorf("line %d: timestamp %s goes backwards", line, record[0])
			}
			snaps = append(snaps, domain.MarketSnapshot{
				Timestamp: ts,
				VIX:       vix,
				VIXAsOf:   ts,
				Quotes:    make(map[string]domain.Quote),
			})
			current = &snaps[len(snaps)-1]
		}
		current.Quotes[record[2]] = domain.Quote{
			Symbol: record[2],
			Price:  price,
			IV:     iv,
			IVRank: ivRank,
			AsOf:   ts,
		}
	}
	if len(snaps) == 0 {
		return nil, errors.New("no data rows")
	}
	return snaps, nil
}

// ReplayProvider serves a loaded history one snapshot per call, for paper
// runs that consume recorded sessions instead of a live feed.
type ReplayProvider struct {
	mu    sync.Mutex
	snaps []domain.MarketSnapshot
	next  int
}

// NewReplay builds a replay provider over ordered snapshots.
func NewReplay(snaps []domain.MarketSnapshot) *ReplayProvider {
	return &ReplayProvider{snaps: snaps}
}

// Snapshot returns the next recorded snapshot, or ErrHistoryExhausted.
func (p *ReplayProvider) Snapshot(_ context.Context) (*domain.MarketSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.next >= len(p.snaps) {
		return nil, ErrHistoryExhausted
	}
	snap := p.snaps[p.next]
	p.next++
	return &snap, nil
}

// Remaining reports how many snapshots are left to replay.
func (p *ReplayProvider) Remaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.snaps) - p.next
}
