package merge

import (
	"fmt"
	"sort"

	"osint/internal/lookup/models"
)

// rules describe how one record kind is canonicalized, keyed and combined.
type rules[F any] struct {
	canonical func(F) F
	key       func(F) string
	// fill copies src fields into dst where dst is empty.
	fill func(dst *F, src F)
}

// mergeKind groups instances by dedup key and folds each group into one record.
// The result depends only on the multiset of instances, never on their order.
func mergeKind[F any](instances []instance[F], r rules[F], limit int) models.RecordList[F] {
	groups := make(map[string][]instance[F])
	for _, inst := range instances {
		if r.canonical != nil {
			inst.fields = r.canonical(inst.fields)
		}
		k := r.key(inst.fields)
		if k == "" {
			continue
		}
		inst.confidence = normalizeConfidence(inst.confidence)
		groups[k] = append(groups[k], inst)
	}

	records := make([]models.CanonicalRecord[F], 0, len(groups))
	for k, group := range groups {
		records = append(records, foldGroup(k, group, r))
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].Confidence != records[j].Confidence {
			return records[i].Confidence > records[j].Confidence
		}
		return records[i].DedupKey < records[j].DedupKey
	})

	list := models.RecordList[F]{Total: len(records), Items: records}
	if limit > 0 && len(records) > limit {
		list.Items = records[:limit]
	}
	return list
}

func foldGroup[F any](key string, group []instance[F], r rules[F]) models.CanonicalRecord[F] {
	sort.Slice(group, func(i, j int) bool {
		a, b := group[i], group[j]
		if a.confidence != b.confidence {
			return a.confidence > b.confidence
		}
		if a.source != b.source {
			return a.source < b.source
		}
		return fmt.Sprintf("%v", a.fields) < fmt.Sprintf("%v", b.fields)
	})

	rec := models.CanonicalRecord[F]{DedupKey: key}
	seen := make(map[string]struct{}, len(group))
	for _, inst := range group {
		r.fill(&rec.Fields, inst.fields)
		if inst.confidence > rec.Confidence {
			rec.Confidence = inst.confidence
		}
		if _, ok := seen[inst.source]; !ok {
			seen[inst.source] = struct{}{}
			rec.Sources = append(rec.Sources, inst.source)
		}
	}
	sort.Strings(rec.Sources)
	return rec
}

func fillString(dst *string, src string) {
	if *dst == "" {
		*dst = src
	}
}
