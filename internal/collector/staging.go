package collector

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"price-ingest-alerts/internal/normalize"
	"price-ingest-alerts/internal/snapshot"
)

type stagedDocument struct {
	Regions *[]stagedRegion `json:"regions"`
}

type stagedRegion struct {
	Name   string        `json:"name"`
	Region string        `json:"region"`
	Data   []stagedDatum `json:"data"`
}

type stagedDatum struct {
	Date       string           `json:"date"`
	Time       string           `json:"time"`
	PriceValue *decimal.Decimal `json:"priceValue"`
}

// ParseStaged validates a staged collector document and converts it into a
// snapshot. Any violation rejects the whole document.
func ParseStaged(raw []byte) (*snapshot.Document, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, &FormatError{Reason: "staged document is empty"}
	}

	var staged stagedDocument
	if err := json.Unmarshal(raw, &staged); err != nil {
		return nil, &FormatError{Reason: "decode staged document", Err: err}
	}
	if staged.Regions == nil {
		return nil, &FormatError{Reason: `missing "regions"`}
	}

	doc := snapshot.NewDocument()
	for i, region := range *staged.Regions {
		name := strings.TrimSpace(region.Name)
		area := strings.TrimSpace(region.Region)
		if name == "" || area == "" {
			return nil, &FormatError{Reason: fmt.Sprintf("regions[%d]: name and region are required", i)}
		}
		if hasControl(name) || hasControl(area) {
			return nil, &FormatError{Reason: fmt.Sprintf("regions[%d]: name and region must not contain control characters", i)}
		}

		observations := make([]snapshot.Observation, 0, len(region.Data))
		for j, datum := range region.Data {
			date, err := normalize.ParseDate(datum.Date)
			if err != nil {
				return nil, &FormatError{Reason: fmt.Sprintf("regions[%d].data[%d]: bad date", i, j), Err: err}
			}
			if datum.PriceValue == nil {
				return nil, &FormatError{Reason: fmt.Sprintf("regions[%d].data[%d]: missing priceValue", i, j)}
			}
			if datum.PriceValue.IsNegative() {
				return nil, &FormatError{Reason: fmt.Sprintf("regions[%d].data[%d]: negative priceValue %s", i, j, datum.PriceValue)}
			}
			observations = append(observations, snapshot.Observation{
				Date:  date,
				Time:  normalize.NormalizeTime(datum.Time),
				Price: *datum.PriceValue,
			})
		}

		id := snapshot.Identity{Name: name, Region: area}
		if existing, ok := doc.Find(id); ok {
			existing.Data = append(existing.Data, observations...)
			continue
		}
		doc.Regions = append(doc.Regions, snapshot.Entry{Name: name, Region: area, Data: observations})
	}
	return doc, nil
}

func hasControl(s string) bool {
	return strings.IndexFunc(s, unicode.IsControl) >= 0
}
