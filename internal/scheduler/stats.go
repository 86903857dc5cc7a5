package scheduler

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"
)

// statsRecord mirrors one row of the stats table written by the
// offline analytics pass, keyed per (market_id, outcome_id).
type statsRecord struct {
	MarketID    string  `parquet:"name=market_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	OutcomeID   string  `parquet:"name=outcome_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	AvgDepth    float64 `parquet:"name=avg_depth, type=DOUBLE"`
	AvgSpread   float64 `parquet:"name=avg_spread, type=DOUBLE"`
	UpdateCount int64   `parquet:"name=update_count, type=INT64"`
}

// StatsPath returns {root}/stats/venue={V}/date={D}/stats.parquet.
func StatsPath(root, venue string, now time.Time) string {
	return filepath.Join(
		root,
		"stats",
		"venue="+venue,
		"date="+now.UTC().Format("2006-01-02"),
		"stats.parquet",
	)
}

// LoadStats reads today's stats table and aggregates it per market:
// depth and spread are averaged across outcomes, update counts
// summed. A missing file is not an error — the scheduler simply runs
// stat-less until analytics produces one.
func LoadStats(root, venue string, now time.Time) (map[string]MarketStats, error) {
	path := StatsPath(root, venue, now)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat stats table: %w", err)
	}

	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, fmt.Errorf("open stats table: %w", err)
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, new(statsRecord), 4)
	if err != nil {
		return nil, fmt.Errorf("read stats table: %w", err)
	}
	defer pr.ReadStop()

	num := int(pr.GetNumRows())
	records := make([]statsRecord, num)
	if err := pr.Read(&records); err != nil {
		return nil, fmt.Errorf("decode stats rows: %w", err)
	}

	type agg struct {
		depth   float64
		spread  float64
		updates int64
		n       int
	}
	byMarket := make(map[string]*agg)
	for _, r := range records {
		if r.MarketID == "" {
			continue
		}
		a, ok := byMarket[r.MarketID]
		if !ok {
			a = &agg{}
			byMarket[r.MarketID] = a
		}
		a.depth += r.AvgDepth
		a.spread += r.AvgSpread
		a.updates += r.UpdateCount
		a.n++
	}

	out := make(map[string]MarketStats, len(byMarket))
	for id, a := range byMarket {
		out[id] = MarketStats{
			MarketID:    id,
			AvgDepth:    a.depth / float64(a.n),
			AvgSpread:   a.spread / float64(a.n),
			UpdateCount: a.updates,
		}
	}
	return out, nil
}
