package calendar

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	ical "github.com/emersion/go-ical"

	"github.com/christopherklint97/billr/internal/billing"
)

// Event represents a parsed calendar event.
type Event struct {
	Summary   string
	StartTime time.Time
	EndTime   time.Time
}

// Fetch retrieves and parses iCalendar events from a URL or file path,
// returning events that overlap with the given time window.
func Fetch(ctx context.Context, source string, windowStart, windowEnd time.Time) ([]Event, error) {
	var r io.ReadCloser

	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetching calendar: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("calendar fetch returned status %d", resp.StatusCode)
		}
		r = resp.Body
	} else {
		f, err := os.Open(source)
		if err != nil {
			return nil, fmt.Errorf("opening calendar file: %w", err)
		}
		r = f
	}
	defer r.Close()

	dec := ical.NewDecoder(r)
	var events []Event

	for {
		cal, err := dec.Decode()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parsing calendar: %w", err)
		}

		for _, component := range cal.Children {
			if component.Name != ical.CompEvent {
				continue
			}
			event := ical.Event{Component: component}

			start, err := event.DateTimeStart(nil)
			if err != nil {
				continue // skip malformed events
			}
			end, err := event.DateTimeEnd(nil)
			if err != nil {
				continue
			}

			if start.Before(windowEnd) && end.After(windowStart) {
				summary, _ := event.Props.Text(ical.PropSummary)
				if summary != "" {
					events = append(events, Event{
						Summary:   summary,
						StartTime: start,
						EndTime:   end,
					})
				}
			}
		}
	}

	return events, nil
}

// ContextNotes renders events as one line each for AI prompts, e.g.
// "2026-03-02 10:00-11:00 Call with Acme GC".
func ContextNotes(events []Event) []string {
	notes := make([]string, 0, len(events))
	for _, e := range events {
		notes = append(notes, fmt.Sprintf("%s %s-%s %s",
			e.StartTime.Local().Format("2006-01-02"),
			e.StartTime.Local().Format("15:04"),
			e.EndTime.Local().Format("15:04"),
			e.Summary,
		))
	}
	return notes
}

// Export writes entries as VEVENTs ending at their creation time.
func Export(w io.Writer, entries []billing.Entry, now time.Time) error {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//billr//billable entries//EN")

	for _, e := range entries {
		end := e.CreatedAt
		if end.IsZero() {
			end = now
		}
		start := end.Add(-time.Duration(e.Hours * float64(time.Hour)))

		ev := ical.NewEvent()
		ev.Props.SetText(ical.PropUID, e.ID+"@billr")
		ev.Props.SetDateTime(ical.PropDateTimeStamp, now.UTC())
		ev.Props.SetDateTime(ical.PropDateTimeStart, start.UTC())
		ev.Props.SetDateTime(ical.PropDateTimeEnd, end.UTC())
		ev.Props.SetText(ical.PropSummary, fmt.Sprintf("[%s] %s", e.Matter, e.Description))
		ev.Props.SetText(ical.PropDescription, fmt.Sprintf("%.2fh at %.2f/h = %.2f (status: %s)",
			e.Hours, e.Rate, e.Amount(), e.Status))
		cal.Children = append(cal.Children, ev.Component)
	}

	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("encoding calendar: %w", err)
	}
	return nil
}
