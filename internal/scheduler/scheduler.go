package scheduler

import (
	"log/slog"
	"strings"
	"time"

	"github.com/rickgao/clobwatch/internal/model"
	"github.com/rickgao/clobwatch/internal/universe"
)

// Config holds the subscription capacity and universe filters.
type Config struct {
	MaxSubs        int
	HotSize        int
	RotationPeriod time.Duration

	// ExcludeTitlePatterns drops markets whose title contains any of
	// these substrings, case-insensitive.
	ExcludeTitlePatterns []string

	// MinHoursUntilClose drops markets resolving sooner than this.
	MinHoursUntilClose int
}

// Scheduler computes the desired HOT/WARM key sets. Not safe for
// concurrent use; the collector drives it from a single tick loop.
type Scheduler struct {
	cfg    Config
	venue  string
	index  *universe.Index
	logger *slog.Logger

	cursor       int
	lastRotation time.Time
	hot          map[model.Key]struct{}
	warm         map[model.Key]struct{}

	now func() time.Time // test hook
}

// New creates a scheduler over one venue's universe.
func New(cfg Config, venueName string, index *universe.Index, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HotSize < 1 {
		cfg.HotSize = 1
	}
	return &Scheduler{
		cfg:    cfg,
		venue:  venueName,
		index:  index,
		logger: logger,
		hot:    make(map[model.Key]struct{}),
		warm:   make(map[model.Key]struct{}),
		now:    time.Now,
	}
}

// ShouldRotate reports whether the rotation period has elapsed. The
// first call always rotates.
func (s *Scheduler) ShouldRotate() bool {
	if s.lastRotation.IsZero() {
		return true
	}
	return s.now().Sub(s.lastRotation) >= s.cfg.RotationPeriod
}

// MarkRotated records a completed rotation.
func (s *Scheduler) MarkRotated() {
	s.lastRotation = s.now()
}

// Desired computes the next HOT and WARM key sets. HOT is the top
// HotSize keys by score and only changes when the ranking does; WARM
// takes the next MaxSubs-HotSize keys starting at the rotation
// cursor, which advances by the number of keys taken and wraps.
func (s *Scheduler) Desired(stats map[string]MarketStats) (hot, warm map[model.Key]struct{}) {
	now := s.now()
	eligible := s.filter(s.index.Markets(), now)
	ranked := rank(eligible, stats, now, func(k model.Key) bool {
		_, ok := s.index.Token(k)
		return ok
	})

	hot = make(map[model.Key]struct{})
	warm = make(map[model.Key]struct{})

	hotN := s.cfg.HotSize
	if hotN > len(ranked) {
		hotN = len(ranked)
	}
	if hotN > s.cfg.MaxSubs {
		hotN = s.cfg.MaxSubs
	}
	for _, k := range ranked[:hotN] {
		hot[k] = struct{}{}
	}

	remaining := ranked[hotN:]
	warmCap := s.cfg.MaxSubs - hotN
	if len(remaining) > 0 && warmCap > 0 {
		start := s.cursor % len(remaining)
		taken := 0
		for i := 0; i < len(remaining) && taken < warmCap; i++ {
			k := remaining[(start+i)%len(remaining)]
			if _, dup := warm[k]; dup {
				continue
			}
			warm[k] = struct{}{}
			taken++
		}
		s.cursor = (start + taken) % len(remaining)
	}

	s.hot = hot
	s.warm = warm

	s.logger.Debug("computed desired sets",
		"venue", s.venue,
		"eligible_markets", len(eligible),
		"ranked_keys", len(ranked),
		"hot", len(hot),
		"warm", len(warm),
		"cursor", s.cursor,
	)
	return hot, warm
}

// Hot returns the last computed HOT set.
func (s *Scheduler) Hot() map[model.Key]struct{} { return s.hot }

// Warm returns the last computed WARM set.
func (s *Scheduler) Warm() map[model.Key]struct{} { return s.warm }

func (s *Scheduler) filter(markets []model.MarketInfo, now time.Time) []model.MarketInfo {
	minClose := now.Add(time.Duration(s.cfg.MinHoursUntilClose) * time.Hour).UnixMilli()

	var out []model.MarketInfo
	for _, m := range markets {
		if s.excludedTitle(m.Title) {
			continue
		}
		if s.cfg.MinHoursUntilClose > 0 && m.CloseTS > 0 && m.CloseTS < minClose {
			continue
		}
		out = append(out, m)
	}
	return out
}

func (s *Scheduler) excludedTitle(title string) bool {
	lower := strings.ToLower(title)
	for _, pat := range s.cfg.ExcludeTitlePatterns {
		if pat == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(pat)) {
			return true
		}
	}
	return false
}
