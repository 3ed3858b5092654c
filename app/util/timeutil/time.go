package timeutil

import "time"

const DateLayout = "2006-01-02"

// Rome is the clinic timezone; wall-clock decisions like "tomorrow" are
// made here, not in UTC.
var Rome = mustLoadRome()

func mustLoadRome() *time.Location {
	loc, err := time.LoadLocation("Europe/Rome")
	if err != nil {
		return time.UTC
	}
	return loc
}

// Tomorrow returns tomorrow's calendar date in clinic time.
func Tomorrow(now time.Time) string {
	return now.In(Rome).AddDate(0, 0, 1).Format(DateLayout)
}

// IsMorning reports whether t falls in the 08:00-12:00 morning window.
func IsMorning(t time.Time) bool {
	return t.Hour() >= 8 && t.Hour() < 12
}

// IsAfternoon reports whether t falls in the 12:00-19:00 afternoon window.
func IsAfternoon(t time.Time) bool {
	return t.Hour() >= 12 && t.Hour() < 19
}
