package storage

import (
	"github.com/shopspring/decimal"

	"price-ingest-alerts/internal/snapshot"
)

// HistoryRow is one price_history row.
type HistoryRow struct {
	Date  string
	Time  string
	Price decimal.Decimal
}

// ProductRow is the relational projection of one merged entry.
type ProductRow struct {
	Product       snapshot.Identity
	CurrentPrice  decimal.Decimal
	PreviousPrice *decimal.Decimal
	LastObserved  string
	History       []HistoryRow
}

// BuildProductRows projects the merged document onto product rows. Current and
// previous prices come from the two most recent observations; entries without
// observations are left out.
func BuildProductRows(doc *snapshot.Document) []ProductRow {
	if doc == nil {
		return nil
	}

	rows := make([]ProductRow, 0, len(doc.Regions))
	for _, entry := range doc.Regions {
		ordered := entry.Chronological()
		if len(ordered) == 0 {
			continue
		}

		latest := ordered[len(ordered)-1]
		row := ProductRow{
			Product:      entry.Identity(),
			CurrentPrice: latest.Price,
			LastObserved: latest.Date,
			History:      make([]HistoryRow, 0, len(ordered)),
		}
		if len(ordered) > 1 {
			prev := ordered[len(ordered)-2].Price
			row.PreviousPrice = &prev
		}
		for _, obs := range ordered {
			row.History = append(row.History, HistoryRow{Date: obs.Date, Time: obs.Time, Price: obs.Price})
		}
		rows = append(rows, row)
	}
	return rows
}
