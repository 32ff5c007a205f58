package entity

import (
	"fmt"
	"strings"
	"time"
)

// Granularity is the length of a billing period.
type Granularity string

const (
	GranularityDaily   Granularity = "daily"
	GranularityMonthly Granularity = "monthly"
)

// Default period label layouts, in Go time format.
const (
	DailyLabelLayout   = "20060102"
	MonthlyLabelLayout = "200601"
)

// ParseGranularity converts a configuration value into a Granularity.
// An empty value means monthly.
func ParseGranularity(s string) (Granularity, error) {
	switch Granularity(strings.ToLower(strings.TrimSpace(s))) {
	case "", GranularityMonthly:
		return GranularityMonthly, nil
	case GranularityDaily:
		return GranularityDaily, nil
	default:
		return "", fmt.Errorf("unsupported granularity: %s", s)
	}
}

// BillingPeriod is a calendar interval [Start, End) over which consumption is
// reported. A period without granularity is a span: it covers the whole
// requested range and has no label.
type BillingPeriod struct {
	Start       time.Time   `json:"start"`
	End         time.Time   `json:"end"`
	Granularity Granularity `json:"granularity,omitempty"`
}

// IsSpan reports whether the period is a since..now span rather than a
// calendar day or month.
func (p BillingPeriod) IsSpan() bool {
	return p.Granularity == ""
}

// Label renders the period token used in upstream URLs and entity ids.
// An empty layout selects the default layout for the period granularity.
func (p BillingPeriod) Label(layout string) string {
	if p.IsSpan() || p.Start.IsZero() {
		return ""
	}
	if layout == "" {
		layout = MonthlyLabelLayout
		if p.Granularity == GranularityDaily {
			layout = DailyLabelLayout
		}
	}
	return p.Start.Format(layout)
}

func (p BillingPeriod) String() string {
	return fmt.Sprintf("%s..%s", p.Start.Format("2006-01-02"), p.End.Format("2006-01-02"))
}
