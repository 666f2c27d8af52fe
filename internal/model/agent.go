package model

import (
	"time"
)

// TrackingLayout is the backend's tracking_date format, in local time.
const TrackingLayout = "2006-01-02 15:04:05"

// Agent is a roster entry from GET /vendedores.
type Agent struct {
	ID       ID     `json:"id"`
	FullName string `json:"full_name"`
}

// AgentPosition is an agent's most recent tracked location.
type AgentPosition struct {
	UserID       ID       `json:"user_id"`
	FullName     string   `json:"user_full_name,omitempty"`
	Name         string   `json:"nombre,omitempty"`
	Latitude     *float64 `json:"latitude,omitempty"`
	Longitude    *float64 `json:"longitude,omitempty"`
	TrackingDate string   `json:"tracking_date,omitempty"`
	BatteryLevel *float64 `json:"battery_level,omitempty"`
}

// DisplayName returns the best available label for the agent.
func (a AgentPosition) DisplayName() string {
	switch {
	case a.FullName != "":
		return a.FullName
	case a.Name != "":
		return a.Name
	default:
		return a.UserID.String()
	}
}

// Position returns [lng, lat] when both coordinates are present and finite.
func (a AgentPosition) Position() ([]float64, bool) {
	if a.Latitude == nil || a.Longitude == nil {
		return nil, false
	}
	if !finite(*a.Latitude) || !finite(*a.Longitude) {
		return nil, false
	}
	return []float64{*a.Longitude, *a.Latitude}, true
}

// TrackedAt parses the tracking timestamp in loc. RFC 3339 values carry their
// own offset.
func (a AgentPosition) TrackedAt(loc *time.Location) (time.Time, bool) {
	if a.TrackingDate == "" {
		return time.Time{}, false
	}
	if t, err := time.ParseInLocation(TrackingLayout, a.TrackingDate, loc); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, a.TrackingDate); err == nil {
		return t.In(loc), true
	}
	return time.Time{}, false
}

// DayBucket classifies a position relative to the current day.
type DayBucket string

const (
	BucketToday     DayBucket = "today"
	BucketYesterday DayBucket = "yesterday"
	BucketNone      DayBucket = ""
)

// BucketFor returns today or yesterday by calendar-day difference between t
// and now in now's location. Anything else is BucketNone.
func BucketFor(t, now time.Time) DayBucket {
	loc := now.Location()
	t = t.In(loc)
	tDay := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	nDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	switch nDay.Sub(tDay).Round(24 * time.Hour) {
	case 0:
		return BucketToday
	case 24 * time.Hour:
		return BucketYesterday
	default:
		return BucketNone
	}
}
