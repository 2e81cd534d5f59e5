package snapshot

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"price-ingest-alerts/internal/normalize"
)

// Identity is the natural key of a tracked commodity series.
type Identity struct {
	Name   string `json:"name"`
	Region string `json:"region"`
}

func (i Identity) String() string {
	return fmt.Sprintf("%s/%s", i.Name, i.Region)
}

// Observation is one sampled price point. Time is informational only.
type Observation struct {
	Date  string          `json:"date"`
	Time  string          `json:"time,omitempty"`
	Price decimal.Decimal `json:"priceValue"`
}

// Key returns the dedup key of the observation.
func (o Observation) Key() string {
	return normalize.DedupKey(o.Date, o.Price)
}

func (o Observation) canonicalDate() string {
	return normalize.NormalizeDate(o.Date)
}

func (o Observation) canonicalTime() string {
	return normalize.NormalizeTime(o.Time)
}

// Entry holds the merged history of one product.
type Entry struct {
	Name         string        `json:"name"`
	Region       string        `json:"region"`
	Data         []Observation `json:"data"`
	LastMergedAt *time.Time    `json:"lastMergedAt,omitempty"`
}

// Identity returns the entry's natural key.
func (e Entry) Identity() Identity {
	return Identity{Name: e.Name, Region: e.Region}
}

// Latest returns the most recent observation by date then time, later positions winning ties.
func (e Entry) Latest() (Observation, bool) {
	ordered := e.Chronological()
	if len(ordered) == 0 {
		return Observation{}, false
	}
	return ordered[len(ordered)-1], true
}

// Document is the durable master store.
type Document struct {
	Regions      []Entry    `json:"regions"`
	LastMergedAt *time.Time `json:"lastMergedAt,omitempty"`
	Version      int64      `json:"version"`
}

// NewDocument returns an empty store.
func NewDocument() *Document {
	return &Document{Regions: make([]Entry, 0)}
}

// Find locates an entry by identity.
func (d *Document) Find(id Identity) (*Entry, bool) {
	if d == nil {
		return nil, false
	}
	for i := range d.Regions {
		if d.Regions[i].Name == id.Name && d.Regions[i].Region == id.Region {
			return &d.Regions[i], true
		}
	}
	return nil, false
}

// ObservationCount sums observations across all entries.
func (d *Document) ObservationCount() int {
	if d == nil {
		return 0
	}
	total := 0
	for _, entry := range d.Regions {
		total += len(entry.Data)
	}
	return total
}

// Clone returns a deep copy.
func (d *Document) Clone() *Document {
	if d == nil {
		return NewDocument()
	}
	out := &Document{
		Regions:      make([]Entry, len(d.Regions)),
		LastMergedAt: cloneTime(d.LastMergedAt),
		Version:      d.Version,
	}
	for i, entry := range d.Regions {
		out.Regions[i] = entry.clone()
	}
	return out
}

func (e Entry) clone() Entry {
	data := make([]Observation, len(e.Data))
	copy(data, e.Data)
	return Entry{
		Name:         e.Name,
		Region:       e.Region,
		Data:         data,
		LastMergedAt: cloneTime(e.LastMergedAt),
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
