package entity

import (
	"fmt"
	"time"
)

// TransitDatetimePrefix tags a string as a datetime in the transit encoding.
const TransitDatetimePrefix = "~t"

// FormatTransitDatetime renders t in UTC as "~tYYYY-MM-DDTHH:MM:SSZ". The year
// is always four digits, zero padded.
func FormatTransitDatetime(t time.Time) string {
	t = t.UTC()
	return TransitDatetimePrefix + fmt.Sprintf("%04d", t.Year()) + t.Format("-01-02T15:04:05Z")
}
