package dealsync

import (
	"time"
)

// DateLayout is the date format of the source window query parameters
const DateLayout = "2006-01-02"

// IncrementalBuffer is subtracted from the last successful sync to pick up
// records that arrived late at the source.
const IncrementalBuffer = 24 * time.Hour

// Window is an inclusive date range used to query the source
type Window struct {
	Start time.Time
	End   time.Time
}

// StartDate returns the start formatted for the source query
func (w Window) StartDate() string {
	return w.Start.Format(DateLayout)
}

// EndDate returns the end formatted for the source query
func (w Window) EndDate() string {
	return w.End.Format(DateLayout)
}

// String returns "start..end"
func (w Window) String() string {
	return w.StartDate() + ".." + w.EndDate()
}

// Year returns the calendar year of the window start
func (w Window) Year() int {
	return w.Start.Year()
}

// SplitByCalendarYear splits [start, end] into calendar-year sub-windows, in
// chronological order. Each sub-window stays within one calendar year and so
// never exceeds the source's 12 month limit. Both bounds are truncated to
// their UTC calendar date.
func SplitByCalendarYear(start, end time.Time) ([]Window, error) {
	start = truncateDate(start)
	end = truncateDate(end)
	if end.Before(start) {
		return nil, ErrInvalidWindow
	}

	var windows []Window
	for year := start.Year(); year <= end.Year(); year++ {
		ws := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
		we := time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC)
		if ws.Before(start) {
			ws = start
		}
		if we.After(end) {
			we = end
		}
		windows = append(windows, Window{Start: ws, End: we})
	}
	return windows, nil
}

// WindowRequest describes the window an operator asked for
type WindowRequest struct {
	// Start is the requested start date; zero means "not specified"
	Start time.Time
	// End is the requested end date; zero means now
	End      time.Time
	FullSync bool
	// Epoch is the earliest possible record date at the source
	Epoch time.Time
}

// EffectiveWindow computes the window to fetch for a partition.
//
// A full sync fetches from the requested start, or the epoch when none was
// requested. An incremental sync of a partition with a recorded watermark
// starts IncrementalBuffer before it, but never later than an explicitly
// requested start. Without a watermark it falls back to the epoch.
func EffectiveWindow(req WindowRequest, lastSyncAt *time.Time, now time.Time) (Window, error) {
	end := req.End
	if end.IsZero() {
		end = now
	}

	var start time.Time
	switch {
	case req.FullSync:
		start = req.Start
		if start.IsZero() {
			start = req.Epoch
		}
	case lastSyncAt != nil && !lastSyncAt.IsZero():
		start = lastSyncAt.Add(-IncrementalBuffer)
		if !req.Start.IsZero() && req.Start.Before(start) {
			start = req.Start
		}
	default:
		start = req.Epoch
		if !req.Start.IsZero() && req.Start.Before(start) {
			start = req.Start
		}
	}

	w := Window{Start: truncateDate(start), End: truncateDate(end)}
	if w.End.Before(w.Start) {
		return Window{}, ErrInvalidWindow
	}
	return w, nil
}

// ParseDate parses a YYYY-MM-DD date in UTC
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}

func truncateDate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
