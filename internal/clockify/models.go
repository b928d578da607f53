package clockify

import "time"

const timeFormat = "2006-01-02T15:04:05Z"

type User struct {
	ID               string `json:"id"`
	Email            string `json:"email"`
	Name             string `json:"name"`
	ActiveWorkspace  string `json:"activeWorkspace"`
	DefaultWorkspace string `json:"defaultWorkspace"`
}

type Project struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Archived bool   `json:"archived"`
	Color    string `json:"color"`
	ClientID string `json:"clientId"`
}

type TimeEntryRequest struct {
	Start       string `json:"start"`
	End         string `json:"end"`
	ProjectID   string `json:"projectId"`
	Description string `json:"description"`
	Billable    bool   `json:"billable"`
}

type TimeEntry struct {
	ID           string `json:"id"`
	Description  string `json:"description"`
	ProjectID    string `json:"projectId"`
	Billable     bool   `json:"billable"`
	TimeInterval struct {
		Start time.Time `json:"start"`
		End   time.Time `json:"end"`
	} `json:"timeInterval"`
}

// Hours is the entry's duration, or 0 for a running timer.
func (e TimeEntry) Hours() float64 {
	if e.TimeInterval.End.IsZero() {
		return 0
	}
	return e.TimeInterval.End.Sub(e.TimeInterval.Start).Hours()
}
