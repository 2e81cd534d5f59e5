package snapshot

import "sort"

// Dedup collapses observations sharing a dedup key. The last occurrence wins and
// keeps the position of the first.
func Dedup(observations []Observation) []Observation {
	index := make(map[string]int, len(observations))
	out := make([]Observation, 0, len(observations))
	for _, obs := range observations {
		key := obs.Key()
		if pos, ok := index[key]; ok {
			out[pos] = obs
			continue
		}
		index[key] = len(out)
		out = append(out, obs)
	}
	return out
}

// UpsertRecords appends the incoming observations whose dedup key is not yet in
// entry and returns the rebuilt entry with the number of distinct keys added.
func UpsertRecords(entry Entry, incoming []Observation) (Entry, int) {
	known := make(map[string]struct{}, len(entry.Data))
	for _, obs := range entry.Data {
		known[obs.Key()] = struct{}{}
	}

	fresh := make([]Observation, 0, len(incoming))
	added := make(map[string]struct{})
	for _, obs := range incoming {
		key := obs.Key()
		if _, ok := known[key]; ok {
			continue
		}
		fresh = append(fresh, obs)
		added[key] = struct{}{}
	}

	updated := entry.clone()
	updated.Data = Dedup(append(updated.Data, fresh...))
	return updated, len(added)
}

// Chronological returns a copy of the entry's observations sorted by date and time.
func (e Entry) Chronological() []Observation {
	ordered := make([]Observation, len(e.Data))
	copy(ordered, e.Data)
	sort.SliceStable(ordered, func(i, j int) bool {
		di, dj := ordered[i].canonicalDate(), ordered[j].canonicalDate()
		if di != dj {
			return di < dj
		}
		return ordered[i].canonicalTime() < ordered[j].canonicalTime()
	})
	return ordered
}
