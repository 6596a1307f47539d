package core

import "time"

// NextOccurrence advances a date by one interval using calendar arithmetic.
// Day-of-month is preserved where it exists; a target month with fewer days
// clamps to its last day (Jan 31 + 1 month = Feb 29 in a leap year, Feb 28
// otherwise; Feb 29 + 1 year = Feb 28). Time of day is preserved.
func NextOccurrence(from time.Time, interval Interval) time.Time {
	switch interval {
	case Daily:
		return from.AddDate(0, 0, 1)
	case Weekly:
		return from.AddDate(0, 0, 7)
	case Monthly:
		return addMonthsClamped(from, 1)
	case Yearly:
		return addMonthsClamped(from, 12)
	}
	return from
}

func addMonthsClamped(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	hour, min, sec := t.Clock()

	// Normalize the target month via day 1, which never overflows.
	target := time.Date(year, month+time.Month(months), 1, 0, 0, 0, 0, t.Location())
	if last := lastDayOfMonth(target.Year(), target.Month()); day > last {
		day = last
	}
	return time.Date(target.Year(), target.Month(), day, hour, min, sec, t.Nanosecond(), t.Location())
}

func lastDayOfMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// IsDue is the single definition of "due" shared by the discovery scan and
// the per-item processor: never processed, or the next occurrence date has
// arrived. Dueness is a date comparison, not elapsed-interval counting, so a
// missed run fires exactly once on the next scan.
func IsDue(lastProcessed, nextRecurringDate *time.Time, now time.Time) bool {
	if lastProcessed == nil {
		return true
	}
	if nextRecurringDate == nil {
		return false
	}
	return !nextRecurringDate.After(now)
}

// Due reports whether a transaction satisfies the recurrence due predicate.
// Only completed recurring transactions ever fire.
func (t Transaction) Due(now time.Time) bool {
	if !t.IsRecurring || t.Status != StatusCompleted {
		return false
	}
	return IsDue(t.LastProcessed, t.NextRecurringDate, now)
}

// MonthBounds returns the first and last instants of the calendar month
// containing ts, in ts's location.
func MonthBounds(ts time.Time) (start, end time.Time) {
	year, month, _ := ts.Date()
	start = time.Date(year, month, 1, 0, 0, 0, 0, ts.Location())
	end = start.AddDate(0, 1, 0).Add(-time.Nanosecond)
	return start, end
}

// SameMonth reports whether two instants fall in the same calendar month of
// the same year. Used for the budget alert watermark.
func SameMonth(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month()
}
