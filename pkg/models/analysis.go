package models

import "time"

// Group is the result of aggregating log records that share a key tuple.
type Group struct {
	Fields    []string  `json:"fields"`
	Values    []string  `json:"values"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	Count     int       `json:"count"`
}

// Value returns the group's value for field, or "" if the group was not keyed on it.
func (g Group) Value(field string) string {
	for i, f := range g.Fields {
		if f == field {
			return g.Values[i]
		}
	}
	return ""
}

// Gap is a period during which a device produced no log records.
type Gap struct {
	DeviceName      string    `json:"device_name"`
	Start           time.Time `json:"gap_start"`
	End             time.Time `json:"gap_end"`
	DurationMinutes float64   `json:"gap_duration_minutes"`
}

// SiteCount is the number of allowed queries for one root domain.
type SiteCount struct {
	Root  string `json:"root"`
	Count int    `json:"count"`
}

// DeviceSites lists a device's most queried root domains, highest count first.
type DeviceSites struct {
	DeviceName string      `json:"device_name"`
	Sites      []SiteCount `json:"sites"`
}

// UsageSummary backs the usage analytics section of a report.
type UsageSummary struct {
	TotalRecords   int           `json:"total_records"`
	AllowedRecords int           `json:"allowed_records"`
	Devices        []DeviceSites `json:"devices"`
}
