// Package universe loads the venue market universe produced by the
// discovery step and builds the reversible token <-> (market, outcome)
// index shared by the venue adapter and the scheduler.
package universe

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rickgao/clobwatch/internal/model"
)

// Index holds the loaded universe and the token mapping. Immutable
// after construction, so it is safe to share across goroutines.
type Index struct {
	markets []model.MarketInfo
	byToken map[string]model.Key
	byKey   map[model.Key]string
}

// Path returns the universe file location for a venue and date:
// {root}/metadata/venue={V}/date={D}/universe.jsonl.
func Path(root, venue string, now time.Time) string {
	return filepath.Join(
		root,
		"metadata",
		"venue="+venue,
		"date="+now.UTC().Format("2006-01-02"),
		"universe.jsonl",
	)
}

// Load reads a universe.jsonl file (one JSON market entry per line)
// and builds the index. Blank lines are skipped; a malformed line is
// an error, since a truncated universe silently shrinks coverage.
func Load(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open universe file: %w", err)
	}
	defer f.Close()

	var markets []model.MarketInfo
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var m model.MarketInfo
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("parse universe line %d: %w", line, err)
		}
		markets = append(markets, m)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read universe file: %w", err)
	}

	return NewIndex(markets), nil
}

// NewIndex builds the token mapping from in-memory universe entries.
// TokenIDs[i] pairs with OutcomeIDs[i]; when a market carries more
// tokens than outcomes, the outcome falls back to the token's index.
func NewIndex(markets []model.MarketInfo) *Index {
	idx := &Index{
		markets: markets,
		byToken: make(map[string]model.Key),
		byKey:   make(map[model.Key]string),
	}
	for _, m := range markets {
		for i, tok := range m.TokenIDs {
			if tok == "" {
				continue
			}
			outcome := strconv.Itoa(i)
			if i < len(m.OutcomeIDs) {
				outcome = m.OutcomeIDs[i]
			}
			key := model.Key{MarketID: m.MarketID, OutcomeID: outcome}
			idx.byToken[tok] = key
			idx.byKey[key] = tok
		}
	}
	return idx
}

// Markets returns all universe entries in file order.
func (idx *Index) Markets() []model.MarketInfo {
	return idx.markets
}

// Resolve maps a venue token to its (market, outcome) key.
func (idx *Index) Resolve(token string) (model.Key, bool) {
	k, ok := idx.byToken[token]
	return k, ok
}

// Token maps a key back to its venue token.
func (idx *Index) Token(key model.Key) (string, bool) {
	t, ok := idx.byKey[key]
	return t, ok
}

// Tokens maps a key set to its token set, skipping keys with no
// token (they cannot be subscribed).
func (idx *Index) Tokens(keys map[model.Key]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(keys))
	for k := range keys {
		if t, ok := idx.byKey[k]; ok {
			out[t] = struct{}{}
		}
	}
	return out
}

// Len returns the number of mapped tokens.
func (idx *Index) Len() int {
	return len(idx.byToken)
}
