package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rickgao/clobwatch/internal/model"
)

// gamma REST shapes. Several list-valued fields arrive as JSON
// strings ("[\"Yes\",\"No\"]") rather than arrays, so they decode via
// stringArray.
type gammaMarket struct {
	ConditionID  string          `json:"conditionId"`
	Question     string          `json:"question"`
	Slug         string          `json:"slug"`
	EndDate      string          `json:"endDate"`
	Active       *bool           `json:"active"`
	Closed       *bool           `json:"closed"`
	Outcomes     json.RawMessage `json:"outcomes"`
	ClobTokenIDs json.RawMessage `json:"clobTokenIds"`
}

type gammaEvent struct {
	Title   string        `json:"title"`
	Active  *bool         `json:"active"`
	Closed  *bool         `json:"closed"`
	Markets []gammaMarket `json:"markets"`
}

// DiscoverMarkets pages the gamma events endpoint and flattens open
// markets into universe entries.
func (p *Polymarket) DiscoverMarkets(ctx context.Context) ([]model.MarketInfo, error) {
	client := &http.Client{Timeout: 30 * time.Second}

	const limit = 100
	var out []model.MarketInfo
	for offset := 0; ; offset += limit {
		url := fmt.Sprintf("%s/events?closed=false&limit=%d&offset=%d", p.restURL, limit, offset)
		events, err := fetchEvents(ctx, client, url)
		if err != nil {
			return nil, err
		}
		if len(events) == 0 {
			break
		}

		for _, ev := range events {
			if boolVal(ev.Closed) || (ev.Active != nil && !*ev.Active) {
				continue
			}
			for _, mkt := range ev.Markets {
				if boolVal(mkt.Closed) || (mkt.Active != nil && !*mkt.Active) {
					continue
				}
				out = append(out, marketInfo(mkt))
			}
		}

		if len(events) < limit {
			break
		}
	}

	p.logger.Info("discovered markets", "venue", p.name, "count", len(out))
	return out, nil
}

func fetchEvents(ctx context.Context, client *http.Client, url string) ([]gammaEvent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch events: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch events: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read events body: %w", err)
	}

	var events []gammaEvent
	if err := json.Unmarshal(body, &events); err == nil {
		return events, nil
	}

	// Some deployments wrap the list in a data envelope.
	var wrapped struct {
		Data []gammaEvent `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, fmt.Errorf("parse events response: %w", err)
	}
	return wrapped.Data, nil
}

func marketInfo(mkt gammaMarket) model.MarketInfo {
	info := model.MarketInfo{
		MarketID:   mkt.ConditionID,
		Title:      mkt.Question,
		OutcomeIDs: stringArray(mkt.Outcomes),
		Status:     "active",
		TokenIDs:   stringArray(mkt.ClobTokenIDs),
	}
	if len(info.OutcomeIDs) == 0 {
		info.OutcomeIDs = []string{"0", "1"}
	}
	if mkt.Slug != "" {
		info.Tags = []string{mkt.Slug}
	}
	if mkt.EndDate != "" {
		if t, err := time.Parse(time.RFC3339, mkt.EndDate); err == nil {
			info.CloseTS = t.UnixMilli()
		}
	}
	return info
}

// stringArray decodes either a JSON array of strings or a JSON string
// containing one.
func stringArray(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var direct []string
	if err := json.Unmarshal(raw, &direct); err == nil {
		return direct
	}
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return nil
	}
	var nested []string
	if err := json.Unmarshal([]byte(encoded), &nested); err != nil {
		return nil
	}
	return nested
}

func boolVal(b *bool) bool {
	return b != nil && *b
}
