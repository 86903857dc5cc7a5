// Package subs owns the live subscription set: reconciling it against
// the scheduler's desired set under the per-minute churn budget and
// issuing subscribe/unsubscribe batches to the venue adapter.
package subs

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/rickgao/clobwatch/internal/venue"
)

// Tier records why a token is currently subscribed. HOT tokens are
// never evicted to free budget; WARM tokens go first.
type Tier int

const (
	TierWarm Tier = iota
	TierHot
)

const churnWindow = time.Minute

// Manager is the single owner of the current token set. All
// mutations flow through Reconcile.
type Manager struct {
	venue  venue.Venue
	limit  int // churn budget per sliding minute
	logger *slog.Logger

	mu      sync.Mutex
	current map[string]Tier
	// events holds subscribe+unsubscribe timestamps inside the churn
	// window; pruned on every reconcile.
	events []time.Time

	now func() time.Time // test hook
}

// NewManager creates a manager bound to one venue adapter.
func NewManager(v venue.Venue, churnLimitPerMinute int, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		venue:   v,
		limit:   churnLimitPerMinute,
		logger:  logger,
		current: make(map[string]Tier),
		now:     time.Now,
	}
}

// Current returns a sorted copy of the subscribed token set.
func (m *Manager) Current() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	tokens := make([]string, 0, len(m.current))
	for t := range m.current {
		tokens = append(tokens, t)
	}
	sort.Strings(tokens)
	return tokens
}

// Count returns the subscribed token count.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.current)
}

// Reconcile moves the current set toward hot ∪ warm, spending at most
// the remaining churn budget. Removals run first (ex-WARM tokens
// before ex-HOT), then adds (HOT before WARM); whatever does not fit
// waits for the next cycle. Reconcile with no diff is a no-op and
// returns 0.
func (m *Manager) Reconcile(hot, warm map[string]struct{}) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.prune(now)
	budget := m.limit - len(m.events)
	if budget < 0 {
		budget = 0
	}

	var toRemove []string
	for tok := range m.current {
		_, inHot := hot[tok]
		_, inWarm := warm[tok]
		if !inHot && !inWarm {
			toRemove = append(toRemove, tok)
		}
	}
	// Ex-WARM first, then lexicographic for determinism.
	sort.Slice(toRemove, func(i, j int) bool {
		ti, tj := m.current[toRemove[i]], m.current[toRemove[j]]
		if ti != tj {
			return ti == TierWarm
		}
		return toRemove[i] < toRemove[j]
	})

	var toAdd []string
	var addTiers []Tier
	for _, want := range []struct {
		set  map[string]struct{}
		tier Tier
	}{{hot, TierHot}, {warm, TierWarm}} {
		var batch []string
		for tok := range want.set {
			if _, ok := m.current[tok]; !ok {
				batch = append(batch, tok)
			}
		}
		sort.Strings(batch)
		for _, tok := range batch {
			toAdd = append(toAdd, tok)
			addTiers = append(addTiers, want.tier)
		}
	}

	if len(toRemove) == 0 && len(toAdd) == 0 {
		m.retier(hot, warm)
		return 0, nil
	}

	if len(toRemove) > budget {
		toRemove = toRemove[:budget]
	}
	budget -= len(toRemove)
	if len(toAdd) > budget {
		toAdd = toAdd[:budget]
		addTiers = addTiers[:budget]
	}

	ops := 0
	if len(toRemove) > 0 {
		if err := m.venue.Unsubscribe(toRemove); err != nil {
			return ops, err
		}
		for _, tok := range toRemove {
			delete(m.current, tok)
			m.events = append(m.events, now)
		}
		ops += len(toRemove)
	}
	if len(toAdd) > 0 {
		if err := m.venue.Subscribe(toAdd); err != nil {
			return ops, err
		}
		for i, tok := range toAdd {
			m.current[tok] = addTiers[i]
			m.events = append(m.events, now)
		}
		ops += len(toAdd)
	}

	m.retier(hot, warm)

	if ops > 0 {
		m.logger.Info("reconciled subscriptions",
			"venue", m.venue.Name(),
			"removed", len(toRemove),
			"added", len(toAdd),
			"current", len(m.current),
			"churn_used", len(m.events),
		)
	}
	return ops, nil
}

// ChurnInWindow returns subscribe+unsubscribe events inside the
// sliding minute.
func (m *Manager) ChurnInWindow() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prune(m.now())
	return len(m.events)
}

func (m *Manager) prune(now time.Time) {
	cutoff := now.Add(-churnWindow)
	i := 0
	for ; i < len(m.events); i++ {
		if m.events[i].After(cutoff) {
			break
		}
	}
	m.events = m.events[i:]
}

// retier refreshes tier labels for tokens that stayed subscribed but
// moved between HOT and WARM.
func (m *Manager) retier(hot, warm map[string]struct{}) {
	for tok := range m.current {
		if _, ok := hot[tok]; ok {
			m.current[tok] = TierHot
		} else if _, ok := warm[tok]; ok {
			m.current[tok] = TierWarm
		}
	}
}
