package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/diillson/billing-datasource-go/internal/domain/entity"
	"github.com/diillson/billing-datasource-go/internal/shared/types"
)

// timestampLayouts are the ISO-8601 shapes accepted for since and for date
// fields of upstream rows, most specific first.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"20060102",
	"01/02/2006",
}

// ParseTimestamp parses an ISO-8601-like timestamp. Values without a zone
// are taken as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// ParseSince parses the since parameter, falling back to def when s is empty.
func ParseSince(s, def string) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		s = def
	}
	t, err := ParseTimestamp(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", types.ErrInvalidSince, err)
	}
	return t, nil
}

// Periods returns the billing periods from the one containing since through
// the one containing now, in order. Monthly periods keep since's day of month,
// clamped to the last day of shorter months; the clamp is always taken from
// the original day, so Jan 31 is followed by Feb 28, Mar 31 and Apr 30.
// A since after now yields no periods.
func Periods(since, now time.Time, g entity.Granularity) []entity.BillingPeriod {
	if since.After(now) {
		return nil
	}
	since = truncateDay(since)
	now = truncateDay(now)

	var periods []entity.BillingPeriod
	switch g {
	case entity.GranularityDaily:
		for day := since; !day.After(now); day = day.AddDate(0, 0, 1) {
			periods = append(periods, entity.BillingPeriod{
				Start:       day,
				End:         day.AddDate(0, 0, 1),
				Granularity: entity.GranularityDaily,
			})
		}
	default:
		months := (now.Year()-since.Year())*12 + int(now.Month()) - int(since.Month())
		anchor := since.Day()
		for k := 0; k <= months; k++ {
			periods = append(periods, entity.BillingPeriod{
				Start:       clampedDate(since.Year(), since.Month()+time.Month(k), anchor),
				End:         clampedDate(since.Year(), since.Month()+time.Month(k+1), anchor),
				Granularity: entity.GranularityMonthly,
			})
		}
	}
	return periods
}

// Span returns the single since..now period used by account-scoped datatypes.
func Span(since, now time.Time) entity.BillingPeriod {
	return entity.BillingPeriod{Start: truncateDay(since), End: truncateDay(now).AddDate(0, 0, 1)}
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// clampedDate returns day of the given month, or the month's last day when
// day does not exist there. month may overflow; it is normalized first.
func clampedDate(year int, month time.Month, day int) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1).Day()
	if day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, time.UTC)
}
