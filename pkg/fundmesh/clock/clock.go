// Package clock implements the logical (date, time) tick broadcast by the
// registration directory (spec.md section 4.B), reproducing
// registrationServer.py's ServerDateTime.advance_time arithmetic exactly:
// advance by one hour; if the hour rolls past 16, jump to 08:00 the next
// day; if that next day is a Saturday, skip two more days.
package clock

import "time"

// Tick is the (date, time) pair forwarded from the registration directory
// down through super-peers to peers (spec.md section 3, "Logical time").
type Tick struct {
	Date string // "1/2/2016" layout, matching the original's strftime("%-m/%-d/%Y")
	Time string // "HH:MM"
}

const layout = "1/2/2006 15:04"

// New builds the initial tick for a directory boot.
func New(year, month, day, hour int) Tick {
	t := time.Date(year, time.Month(month), day, hour, 0, 0, 0, time.UTC)
	return fromTime(t)
}

// Advance returns the next tick after the given one, applying the
// original's rollover rules.
func Advance(t Tick) Tick {
	cur := toTime(t)
	cur = cur.Add(time.Hour)
	if cur.Hour() > 16 {
		cur = cur.Add(15 * time.Hour)
		if cur.Weekday() == time.Saturday {
			cur = cur.AddDate(0, 0, 2)
		}
	}
	return fromTime(cur)
}

func toTime(t Tick) time.Time {
	parsed, err := time.Parse(layout, t.Date+" "+t.Time)
	if err != nil {
		// Malformed ticks never originate from Advance/New; a bad value
		// here means a caller constructed a Tick by hand incorrectly.
		return time.Time{}
	}
	return parsed
}

func fromTime(t time.Time) Tick {
	return Tick{
		Date: t.Format("1/2/2006"),
		Time: t.Format("15:04"),
	}
}
