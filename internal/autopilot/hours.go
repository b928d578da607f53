package autopilot

import (
	"fmt"
	"strconv"
	"time"
)

// WorkHours limits scans to certain weekdays and times. The zero value
// allows every moment.
type WorkHours struct {
	Start string // "HH:MM"
	End   string
	// Days are ISO weekdays, 1 = Monday through 7 = Sunday.
	Days []int
}

func (w WorkHours) String() string {
	if w.zero() {
		return "always"
	}
	return fmt.Sprintf("%s-%s days %v", w.Start, w.End, w.Days)
}

func (w WorkHours) zero() bool {
	return w.Start == "" && w.End == "" && len(w.Days) == 0
}

func (w WorkHours) Contains(t time.Time) bool {
	if w.zero() {
		return true
	}
	weekday := int(t.Weekday())
	if weekday == 0 {
		weekday = 7 // Sunday = 7
	}

	if len(w.Days) > 0 {
		isWorkDay := false
		for _, d := range w.Days {
			if d == weekday {
				isWorkDay = true
				break
			}
		}
		if !isWorkDay {
			return false
		}
	}

	startH, startM := parseTime(w.Start, 0)
	endH, endM := parseTime(w.End, 24)

	nowMins := t.Hour()*60 + t.Minute()
	startMins := startH*60 + startM
	endMins := endH*60 + endM

	return nowMins >= startMins && nowMins <= endMins
}

func parseTime(s string, fallbackHour int) (int, int) {
	if len(s) == 5 && s[2] == ':' {
		h, errH := strconv.Atoi(s[:2])
		m, errM := strconv.Atoi(s[3:])
		if errH == nil && errM == nil {
			return h, m
		}
	}
	return fallbackHour, 0
}
