package cache

import (
	"fmt"
	"time"
)

// ReportSentKey marks that the report for one profile and day was mailed.
func ReportSentKey(profileID string, day time.Time) string {
	return fmt.Sprintf("report:sent:%s:%s", profileID, day.Format(time.DateOnly))
}

// StreamCheckpointKey holds the last event id delivered by the log stream.
func StreamCheckpointKey(profileID string) string {
	return fmt.Sprintf("stream:checkpoint:%s", profileID)
}

func RateLimitKey(client string) string {
	return fmt.Sprintf("ratelimit:%s", client)
}
