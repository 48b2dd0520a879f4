// Package stats aggregates closed response records into summaries,
// rankings and a live view of customers still waiting for a reply.
package stats

import (
	"context"
	"sort"
	"time"

	"github.com/soyeahso/chatpulse/internal/domain"
	"github.com/soyeahso/chatpulse/internal/logging"
	"github.com/soyeahso/chatpulse/internal/store"
)

// Defaults for the lookback window and waiting thresholds.
const (
	DefaultLookbackDays = 30
	DefaultRankingLimit = 10
	DefaultPendingLimit = 50
	DefaultUrgent       = 30 * time.Minute
	DefaultCritical     = 120 * time.Minute
)

// Histogram bucket upper bounds, inclusive, in milliseconds.
const (
	bucket2m  = int64(2 * time.Minute / time.Millisecond)
	bucket5m  = int64(5 * time.Minute / time.Millisecond)
	bucket15m = int64(15 * time.Minute / time.Millisecond)
	bucket60m = int64(60 * time.Minute / time.Millisecond)
)

// Distribution counts response records per response-time bucket.
type Distribution struct {
	UpTo2      int `json:"upTo2"`
	From2To5   int `json:"from2To5"`
	From5To15  int `json:"from5To15"`
	From15To60 int `json:"from15To60"`
	Over60     int `json:"over60"`
}

func (d *Distribution) add(ms int64) {
	switch {
	case ms <= bucket2m:
		d.UpTo2++
	case ms <= bucket5m:
		d.From2To5++
	case ms <= bucket15m:
		d.From5To15++
	case ms <= bucket60m:
		d.From15To60++
	default:
		d.Over60++
	}
}

// Summary describes the response records inside a lookback window.
// Minute values are rounded once from millisecond totals.
type Summary struct {
	Days           int          `json:"days"`
	Since          time.Time    `json:"since"`
	Count          int          `json:"count"`
	AverageMinutes int64        `json:"averageMinutes"`
	MinMinutes     int64        `json:"minMinutes"`
	MaxMinutes     int64        `json:"maxMinutes"`
	Distribution   Distribution `json:"distribution"`
}

// RankingEntry is one contact's average response time.
type RankingEntry struct {
	ContactPhone   string `json:"contactPhone"`
	ContactName    string `json:"contactName,omitempty"`
	Count          int    `json:"count"`
	AverageMinutes int64  `json:"averageMinutes"`

	averageMs float64
}

// PendingItem is an open entry annotated with how long it has waited.
type PendingItem struct {
	ID                        string    `json:"id"`
	ConversationKey           string    `json:"conversationKey"`
	ContactPhone              string    `json:"contactPhone"`
	ContactName               string    `json:"contactName,omitempty"`
	CustomerMessageTime       time.Time `json:"customerMessageTime"`
	CustomerMessageExternalID string    `json:"customerMessageExternalId"`
	CustomerMessageContent    string    `json:"customerMessageContent,omitempty"`
	IsFirstMessage            bool      `json:"isFirstMessage"`
	WaitingMs                 int64     `json:"waitingMs"`
	WaitingMinutes            int64     `json:"waitingMinutes"`
	IsUrgent                  bool      `json:"isUrgent"`
	IsCritical                bool      `json:"isCritical"`
}

// Aggregator runs read-only queries over the pending ledger.
type Aggregator struct {
	pending  *store.PendingStore
	lookback int
	urgent   time.Duration
	critical time.Duration
	now      func() time.Time
	log      *logging.Logger
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// WithLookbackDays sets the window used when a query passes days <= 0.
func WithLookbackDays(days int) Option {
	return func(a *Aggregator) {
		if days > 0 {
			a.lookback = days
		}
	}
}

// WithThresholds sets the waiting times after which an open entry is urgent
// or critical. Zero values keep the defaults.
func WithThresholds(urgent, critical time.Duration) Option {
	return func(a *Aggregator) {
		if urgent > 0 {
			a.urgent = urgent
		}
		if critical > 0 {
			a.critical = critical
		}
	}
}

// New creates an aggregator over the given pending store.
func New(pending *store.PendingStore, log *logging.Logger, opts ...Option) *Aggregator {
	a := &Aggregator{
		pending:  pending,
		lookback: DefaultLookbackDays,
		urgent:   DefaultUrgent,
		critical: DefaultCritical,
		now:      time.Now,
		log:      log.Sub("stats"),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *Aggregator) window(days int) (int, time.Time) {
	if days <= 0 {
		days = a.lookback
	}
	return days, a.now().UTC().AddDate(0, 0, -days)
}

// Overall summarizes every response record answered in the last days days.
func (a *Aggregator) Overall(ctx context.Context, days int) (*Summary, error) {
	return a.summary(ctx, days, "")
}

// PerContact summarizes the response records of one contact. phone may be
// written in any format NormalizePhone accepts.
func (a *Aggregator) PerContact(ctx context.Context, phone string, days int) (*Summary, error) {
	normalized := domain.NormalizePhone(phone)
	if normalized == "" {
		return nil, domain.NewValidationError("phone", "must contain digits")
	}
	return a.summary(ctx, days, normalized)
}

func (a *Aggregator) summary(ctx context.Context, days int, phone string) (*Summary, error) {
	days, since := a.window(days)
	records, err := a.pending.ListAnswered(ctx, since, phone)
	if err != nil {
		return nil, err
	}

	s := &Summary{Days: days, Since: since}
	var sum, lo, hi int64
	for i, r := range records {
		ms := *r.ResponseTimeMs
		if i == 0 || ms < lo {
			lo = ms
		}
		if i == 0 || ms > hi {
			hi = ms
		}
		sum += ms
		s.Distribution.add(ms)
	}
	s.Count = len(records)
	if s.Count > 0 {
		s.AverageMinutes = domain.AverageMinutes(sum, s.Count)
		s.MinMinutes = domain.RoundMinutes(lo)
		s.MaxMinutes = domain.RoundMinutes(hi)
	}

	a.log.Debug().Str("phone", phone).Int("days", days).Int("count", s.Count).Msg("summary computed")
	return s, nil
}

// Ranking groups response records by contact and returns the limit slowest
// contacts first.
func (a *Aggregator) Ranking(ctx context.Context, limit, days int) ([]RankingEntry, error) {
	if limit <= 0 {
		limit = DefaultRankingLimit
	}
	_, since := a.window(days)
	records, err := a.pending.ListAnswered(ctx, since, "")
	if err != nil {
		return nil, err
	}

	type acc struct {
		name  string
		count int
		sum   int64
	}
	byPhone := make(map[string]*acc)
	for _, r := range records {
		c, ok := byPhone[r.ContactPhone]
		if !ok {
			c = &acc{}
			byPhone[r.ContactPhone] = c
		}
		// Records are ordered by answer time, so the newest name wins.
		if r.ContactName != "" {
			c.name = r.ContactName
		}
		c.count++
		c.sum += *r.ResponseTimeMs
	}

	out := make([]RankingEntry, 0, len(byPhone))
	for phone, c := range byPhone {
		avg := float64(c.sum) / float64(c.count)
		out = append(out, RankingEntry{
			ContactPhone:   phone,
			ContactName:    c.name,
			Count:          c.count,
			AverageMinutes: domain.AverageMinutes(c.sum, c.count),
			averageMs:      avg,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].averageMs != out[j].averageMs {
			return out[i].averageMs > out[j].averageMs
		}
		return out[i].ContactPhone < out[j].ContactPhone
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PendingNow lists open entries, longest waiting first, with their live
// waiting time.
func (a *Aggregator) PendingNow(ctx context.Context, limit int) ([]PendingItem, error) {
	if limit <= 0 {
		limit = DefaultPendingLimit
	}
	open, err := a.pending.ListOpen(ctx, limit)
	if err != nil {
		return nil, err
	}

	now := a.now().UTC()
	out := make([]PendingItem, 0, len(open))
	for _, p := range open {
		waiting := now.Sub(p.CustomerMessageTime)
		if waiting < 0 {
			waiting = 0
		}
		out = append(out, PendingItem{
			ID:                        p.ID,
			ConversationKey:           p.ConversationKey,
			ContactPhone:              p.ContactPhone,
			ContactName:               p.ContactName,
			CustomerMessageTime:       p.CustomerMessageTime,
			CustomerMessageExternalID: p.CustomerMessageExternalID,
			CustomerMessageContent:    p.CustomerMessageContent,
			IsFirstMessage:            p.IsFirstMessage,
			WaitingMs:                 waiting.Milliseconds(),
			WaitingMinutes:            domain.RoundMinutes(waiting.Milliseconds()),
			IsUrgent:                  waiting > a.urgent,
			IsCritical:                waiting > a.critical,
		})
	}
	return out, nil
}
