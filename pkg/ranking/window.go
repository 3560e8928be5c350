package ranking

import "time"

// Window boundaries are midnights in the reporting zone; stores normalize
// them to the storage zone before comparing.

func startOfDay(at time.Time) time.Time {
	year, month, day := at.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, at.Location())
}

// startOfWeek returns the most recent Monday midnight.
func startOfWeek(at time.Time) time.Time {
	day := startOfDay(at)
	diff := int(day.Weekday()) - int(time.Monday)
	if day.Weekday() == time.Sunday {
		diff = 6
	}
	return day.AddDate(0, 0, -diff)
}

func startOfMonth(at time.Time) time.Time {
	return time.Date(at.Year(), at.Month(), 1, 0, 0, 0, 0, at.Location())
}
