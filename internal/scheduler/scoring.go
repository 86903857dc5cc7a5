package scheduler

import (
	"sort"
	"time"

	"github.com/rickgao/clobwatch/internal/model"
)

// MarketStats is one market's recent activity aggregated from the
// stats table written by the offline analytics pass.
type MarketStats struct {
	MarketID    string
	AvgDepth    float64
	AvgSpread   float64
	UpdateCount int64
}

// scoreMarket ranks a market for subscription priority. Update rate
// dominates; depth and inverse spread break ties among similarly
// active markets; markets closing soon and active markets get a
// recency boost. Without stats every market scores zero, so all tie
// and the ranking degrades to lexicographic order.
func scoreMarket(m model.MarketInfo, st *MarketStats, now time.Time) float64 {
	if st == nil {
		return 0
	}
	score := 0.0

	if m.CloseTS > 0 && m.CloseTS > now.UnixMilli() {
		daysUntilClose := float64(m.CloseTS-now.UnixMilli()) / (86400.0 * 1000.0)
		score += 1.0 / (1.0 + daysUntilClose/30.0)
	}
	if m.Status == "active" {
		score += 0.5
	}

	if st != nil {
		score += float64(st.UpdateCount) / 10000.0
		score += st.AvgDepth / 1000.0
		if st.AvgSpread > 0 {
			score += 1.0 / (1.0 + st.AvgSpread*100.0)
		}
	}
	return score
}

// rank orders markets by score descending, ties broken by market_id,
// and expands each market into its keys in outcome order. Keys
// without a token are skipped: they cannot be subscribed.
func rank(markets []model.MarketInfo, stats map[string]MarketStats, now time.Time, hasToken func(model.Key) bool) []model.Key {
	type scored struct {
		market model.MarketInfo
		score  float64
	}
	list := make([]scored, 0, len(markets))
	for _, m := range markets {
		var st *MarketStats
		if s, ok := stats[m.MarketID]; ok {
			st = &s
		}
		list = append(list, scored{market: m, score: scoreMarket(m, st, now)})
	}
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].score != list[j].score {
			return list[i].score > list[j].score
		}
		return list[i].market.MarketID < list[j].market.MarketID
	})

	var keys []model.Key
	for _, s := range list {
		outcomes := make([]string, len(s.market.OutcomeIDs))
		copy(outcomes, s.market.OutcomeIDs)
		sort.Strings(outcomes)
		for _, outcome := range outcomes {
			key := model.Key{MarketID: s.market.MarketID, OutcomeID: outcome}
			if hasToken(key) {
				keys = append(keys, key)
			}
		}
	}
	return keys
}
