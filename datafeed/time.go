package datafeed

import "time"

// Accepted provider bar timestamp layouts.
var barDateLayouts = []string{"2006-01-02", "2006-01-02 15:04:05"}

// usEastern is the exchange-local zone equity timestamps arrive in.
// main embeds the tzdata package, so the lookup only fails on exotic
// platforms; the fixed offset keeps the feed running there.
var usEastern = loadEastern()

func loadEastern() *time.Location {
	loc, err := time.LoadLocation("US/Eastern")
	if err != nil {
		return time.FixedZone("EST", -5*3600)
	}
	return loc
}

// dateOf truncates a time to its UTC calendar day.
func dateOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// mondayOffset returns how many days t falls after its week's Monday.
func mondayOffset(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// firstOfMonth returns the first calendar day of t's month.
func firstOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
