// Package merge turns provider outcomes into a single consolidated profile.
//
// Each source's payload is mapped into raw sub-entity instances by a
// source-specific mapper. Instances of a kind are grouped by dedup key and
// folded into canonical records: sources are unioned, confidence is the group
// maximum, and fields are taken from the highest-confidence instance that has
// them. Consolidation is pure and independent of outcome order.
package merge

import (
	"fmt"
	"math"
	"sort"

	"osint/internal/lookup/models"
	pstrings "osint/pkg/platform/strings"
)

// Limits caps how many records of each kind a profile keeps.
type Limits struct {
	Phones            int
	Emails            int
	Addresses         int
	Employment        int
	Relatives         int
	LeakedCredentials int
	SocialAccounts    int
}

func DefaultLimits() Limits {
	return Limits{
		Phones:            20,
		Emails:            25,
		Addresses:         15,
		Employment:        15,
		Relatives:         20,
		LeakedCredentials: 20,
		SocialAccounts:    30,
	}
}

// trackedCategories is the denominator of completeness.
const trackedCategories = 10

type Merger struct {
	limits  Limits
	mappers map[string]mapper
}

type Option func(*Merger)

func WithLimits(l Limits) Option {
	return func(m *Merger) { m.limits = l }
}

func New(opts ...Option) *Merger {
	m := &Merger{
		limits:  DefaultLimits(),
		mappers: defaultMappers(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Consolidate merges outcomes into a profile for q. GeneratedAt is left zero;
// the caller stamps it.
func (m *Merger) Consolidate(q models.Query, outcomes []models.ProviderOutcome) *models.ConsolidatedProfile {
	var (
		succeeded []string
		failed    []string
		all       extraction
	)

	for _, o := range outcomes {
		if !o.Succeeded {
			failed = append(failed, o.SourceID)
			continue
		}
		payload, ok := decodeObject(o.Payload)
		if !ok {
			failed = append(failed, o.SourceID)
			continue
		}
		succeeded = append(succeeded, o.SourceID)
		x := m.extract(o.SourceID, payload)
		all.identities = append(all.identities, x.identities...)
		all.phones = append(all.phones, x.phones...)
		all.emails = append(all.emails, x.emails...)
		all.addresses = append(all.addresses, x.addresses...)
		all.employment = append(all.employment, x.employment...)
		all.relatives = append(all.relatives, x.relatives...)
		all.leaks = append(all.leaks, x.leaks...)
		all.accounts = append(all.accounts, x.accounts...)
	}

	p := &models.ConsolidatedProfile{
		Query:             q,
		Phones:            mergeKind(all.phones, phoneRules, m.limits.Phones),
		Emails:            mergeKind(all.emails, emailRules, m.limits.Emails),
		Addresses:         mergeKind(all.addresses, addressRules, m.limits.Addresses),
		Employment:        mergeKind(all.employment, employmentRules, m.limits.Employment),
		Relatives:         mergeKind(all.relatives, relativeRules, m.limits.Relatives),
		LeakedCredentials: mergeKind(all.leaks, leakRules, m.limits.LeakedCredentials),
		SocialAccounts:    mergeKind(all.accounts, accountRules, m.limits.SocialAccounts),
		Identity:          selectIdentity(all.identities),
	}

	succeeded = sortedUnique(succeeded)
	failed = sortedUnique(failed)
	p.Quality = models.Quality{
		Completeness:         completeness(p),
		SourceCount:          len(succeeded),
		SucceededSources:     succeeded,
		FailedSources:        failed,
		ProviderFailureCount: len(failed),
		NoSourcesSucceeded:   len(succeeded) == 0,
	}
	if p.Identity.Source != "" {
		p.Quality.OverallConfidence = p.Identity.Confidence
	}
	return p
}

func (m *Merger) extract(source string, payload obj) *extraction {
	x := &extraction{source: source, confidence: fallbackConfidence}
	if c, ok := defaultSourceConfidence[source]; ok {
		x.confidence = c
	}
	if c, ok := payload.num("confidence"); ok {
		x.confidence = normalizeConfidence(c)
	}
	if fn, ok := m.mappers[source]; ok {
		fn(x, payload)
	} else {
		mapGeneric(x, payload)
	}
	return x
}

// selectIdentity picks the highest-confidence, then most complete, candidate.
// Name variants are gathered from every candidate; spellings that differ only
// in case keep the one from the highest-ranked candidate.
func selectIdentity(candidates []identityCandidate) models.Identity {
	if len(candidates) == 0 {
		return models.Identity{}
	}
	sorted := make([]identityCandidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.confidence != b.confidence {
			return a.confidence > b.confidence
		}
		if a.filled() != b.filled() {
			return a.filled() > b.filled()
		}
		if a.source != b.source {
			return a.source < b.source
		}
		return fmt.Sprint(a) < fmt.Sprint(b)
	})
	best := sorted[0]

	// ranked order decides which spelling survives case folding
	var names []string
	for _, c := range sorted {
		names = append(names, c.name)
		names = append(names, c.names...)
	}
	names = pstrings.DedupeFold(names)
	sort.Strings(names)

	primary := best.name
	if primary == "" && len(names) > 0 {
		primary = names[0]
	}
	return models.Identity{
		PrimaryName:  primary,
		NameVariants: names,
		Age:          best.age,
		Gender:       best.gender,
		Birthdate:    best.birthdate,
		Source:       best.source,
		Confidence:   normalizeConfidence(best.confidence),
	}
}

func completeness(p *models.ConsolidatedProfile) float64 {
	filled := 0
	for _, ok := range []bool{
		p.Identity.PrimaryName != "",
		p.Identity.Age > 0,
		p.Identity.Gender != "",
		p.Phones.Total > 0,
		p.Emails.Total > 0,
		p.Addresses.Total > 0,
		p.Employment.Total > 0,
		p.Relatives.Total > 0,
		p.SocialAccounts.Total > 0,
		p.LeakedCredentials.Total > 0,
	} {
		if ok {
			filled++
		}
	}
	return math.Round(float64(filled)/trackedCategories*1000) / 10
}

func sortedUnique(values []string) []string {
	return pstrings.SortedUnique(values)
}
