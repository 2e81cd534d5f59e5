package normalize

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// EmptyDate is returned for blank input.
const EmptyDate = ""

const (
	canonicalLayout = "2006-01-02"
	dayFirstLayout  = "02/01/2006"
)

// NormalizeDate converts DD/MM/YYYY or YYYY-MM-DD into YYYY-MM-DD.
// Input in any other shape is returned trimmed and unchanged.
func NormalizeDate(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return EmptyDate
	}
	if canonical, err := ParseDate(trimmed); err == nil {
		return canonical
	}
	return trimmed
}

// ParseDate is the strict form of NormalizeDate used at ingestion boundaries.
func ParseDate(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return EmptyDate, fmt.Errorf("empty date")
	}

	layout := canonicalLayout
	if strings.Contains(trimmed, "/") {
		layout = dayFirstLayout
	}

	parsed, err := time.Parse(layout, trimmed)
	if err != nil {
		return EmptyDate, fmt.Errorf("invalid date %q: %w", trimmed, err)
	}
	return parsed.Format(canonicalLayout), nil
}

// DedupKey identifies an observation by canonical date and price.
func DedupKey(date string, price decimal.Decimal) string {
	return NormalizeDate(date) + "-" + price.String()
}

var timeLayouts = []struct{ parse, format string }{
	{"15:04:05", "15:04:05"},
	{"15:04", "15:04"},
}

// NormalizeTime zero-pads H:MM and H:MM:SS clock times so they order correctly
// as strings. Input in any other shape is returned trimmed and unchanged.
func NormalizeTime(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if canonical, err := ParseTime(trimmed); err == nil {
		return canonical
	}
	return trimmed
}

// ParseTime is the strict form of NormalizeTime. Blank input is allowed.
func ParseTime(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", nil
	}
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout.parse, trimmed); err == nil {
			return parsed.Format(layout.format), nil
		}
	}
	return "", fmt.Errorf("invalid time %q", trimmed)
}
