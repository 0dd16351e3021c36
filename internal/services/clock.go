package services

import "time"

const dayLayout = "2006-01-02"

// kst is the fixed UTC+9 zone that defines the quota day.
var kst = time.FixedZone("KST", 9*60*60)

// Clock lets tests pin "now".
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }

// DayKey returns the KST calendar date of t as YYYY-MM-DD.
func DayKey(t time.Time) string {
	return t.In(kst).Format(dayLayout)
}

// NextReset returns the next KST midnight after t.
func NextReset(t time.Time) time.Time {
	k := t.In(kst)
	return time.Date(k.Year(), k.Month(), k.Day()+1, 0, 0, 0, 0, kst)
}

// ParseDay parses a YYYY-MM-DD key as KST midnight.
func ParseDay(s string) (time.Time, error) {
	return time.ParseInLocation(dayLayout, s, kst)
}

// DayRange lists every day key from start to end inclusive.
func DayRange(start, end time.Time) []string {
	var out []string
	s := start.In(kst)
	d := time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, kst)
	last := DayKey(end)
	for {
		key := d.Format(dayLayout)
		out = append(out, key)
		if key >= last {
			break
		}
		d = d.AddDate(0, 0, 1)
	}
	return out
}

func remaining(limit, used int) int {
	if r := limit - used; r > 0 {
		return r
	}
	return 0
}
