package cache

import (
	"context"
	"errors"
	"fmt"

	"osint/internal/lookup/models"
)

// TierStats reports one tier. Hits, misses and errors are counted since start.
type TierStats struct {
	Hits    int64                      `json:"hits"`
	Misses  int64                      `json:"misses"`
	Errors  int64                      `json:"errors"`
	HitRate float64                    `json:"hit_rate"`
	Keys    map[models.QueryType]int64 `json:"keys"`
}

type Stats struct {
	L1        TierStats  `json:"l1"`
	L2        *TierStats `json:"l2,omitempty"`
	L2Breaker string     `json:"l2_breaker,omitempty"`
	TotalKeys int64      `json:"total_keys"`
	PhoneTTL  string     `json:"phone_ttl"`
	EmailTTL  string     `json:"email_ttl"`
}

// Stats gathers counters and live key counts per query type. Key counting
// errors are returned alongside the partial result.
func (t *Tiered) Stats(ctx context.Context) (Stats, error) {
	var errs []error
	s := Stats{
		PhoneTTL: t.ttls.Phone.String(),
		EmailTTL: t.ttls.Email.String(),
	}

	var err error
	s.L1, err = t.tierStats(ctx, 0, t.l1)
	if err != nil {
		errs = append(errs, fmt.Errorf("l1: %w", err))
	}
	for _, n := range s.L1.Keys {
		s.TotalKeys += n
	}

	if t.l2 != nil {
		l2, err := t.tierStats(ctx, 1, t.l2)
		if err != nil {
			errs = append(errs, fmt.Errorf("l2: %w", err))
		}
		s.L2 = &l2
		s.L2Breaker = t.breaker.State().String()
	}
	return s, errors.Join(errs...)
}

func (t *Tiered) tierStats(ctx context.Context, tier int, store Store) (TierStats, error) {
	c := &t.counters[tier]
	ts := TierStats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Errors: c.errors.Load(),
		Keys:   make(map[models.QueryType]int64, 2),
	}
	if lookups := ts.Hits + ts.Misses; lookups > 0 {
		ts.HitRate = float64(ts.Hits) / float64(lookups)
	}

	var errs []error
	for _, qt := range []models.QueryType{models.QueryTypePhone, models.QueryTypeEmail} {
		n, err := store.Count(ctx, TypePattern(qt))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		ts.Keys[qt] = n
	}
	return ts, errors.Join(errs...)
}
