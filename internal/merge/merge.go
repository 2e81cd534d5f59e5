package merge

import (
	"sort"
	"time"

	"price-ingest-alerts/internal/snapshot"
)

// Summary reports what a merge appended.
type Summary struct {
	// Added maps every product reported in the incoming snapshot to its count of
	// genuinely new observations. Zero means no change this cycle.
	Added       map[snapshot.Identity]int
	NewProducts []snapshot.Identity
}

// Total is the number of observations appended across all products.
func (s Summary) Total() int {
	total := 0
	for _, n := range s.Added {
		total += n
	}
	return total
}

// Changed lists products whose history grew, ordered by name then region.
func (s Summary) Changed() []snapshot.Identity {
	out := make([]snapshot.Identity, 0, len(s.Added))
	for id, n := range s.Added {
		if n > 0 {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Region < out[j].Region
	})
	return out
}

// Merge folds incoming into a copy of existing. Products missing from incoming are
// left untouched and nothing is ever removed beyond dedup collapses.
func Merge(existing, incoming *snapshot.Document, now time.Time) (*snapshot.Document, Summary) {
	merged := existing.Clone()
	summary := Summary{Added: make(map[snapshot.Identity]int)}
	if incoming == nil {
		return merged, summary
	}

	stamp := now.UTC()
	touched := false

	for _, reported := range incoming.Regions {
		id := reported.Identity()

		current, ok := merged.Find(id)
		if !ok {
			fresh := snapshot.Entry{
				Name:         reported.Name,
				Region:       reported.Region,
				Data:         snapshot.Dedup(reported.Data),
				LastMergedAt: &stamp,
			}
			merged.Regions = append(merged.Regions, fresh)
			summary.Added[id] += len(fresh.Data)
			summary.NewProducts = append(summary.NewProducts, id)
			touched = true
			continue
		}

		updated, added := snapshot.UpsertRecords(*current, reported.Data)
		if _, seen := summary.Added[id]; !seen {
			summary.Added[id] = 0
		}
		summary.Added[id] += added
		if added > 0 {
			updated.LastMergedAt = &stamp
			touched = true
		}
		*current = updated
	}

	if touched {
		merged.LastMergedAt = &stamp
	}
	return merged, summary
}
