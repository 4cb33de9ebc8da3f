package models

import (
	"time"

	"github.com/google/uuid"
)

// ReportRun summarizes one daily report invocation.
// Only counters are kept; log records are never persisted.
type ReportRun struct {
	ID             uuid.UUID `db:"id"              json:"id"`
	ProfileID      string    `db:"profile_id"      json:"profile_id"`
	WindowStart    time.Time `db:"window_start"    json:"window_start"`
	WindowEnd      time.Time `db:"window_end"      json:"window_end"`
	Subject        string    `db:"subject"         json:"subject"`
	RecordsFetched int       `db:"records_fetched" json:"records_fetched"`
	CriticalCount  int       `db:"critical_count"  json:"critical_count"`
	WarningCount   int       `db:"warning_count"   json:"warning_count"`
	GapCount       int       `db:"gap_count"       json:"gap_count"`
	Sent           bool      `db:"sent"            json:"sent"`
	CreatedAt      time.Time `db:"created_at"      json:"created_at"`
}
