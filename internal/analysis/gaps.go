package analysis

import (
	"slices"
	"time"

	"github.com/kiranshivaraju/dnswatch/pkg/models"
)

// DetectGaps finds, per device, every pair of consecutive records further
// apart than thresholdMinutes. Records without a device name form their own
// group under "". The caller's slice is not reordered.
// Returns empty slice when nothing qualifies (never nil).
func DetectGaps(records []models.LogRecord, thresholdMinutes float64, loc *time.Location) []models.Gap {
	gaps := []models.Gap{}
	if loc == nil {
		loc = time.UTC
	}

	if len(records) == 0 {
		return gaps
	}
	sorted := slices.Clone(records)

	slices.SortStableFunc(sorted, func(a, b models.LogRecord) int {
		if a.DeviceName != b.DeviceName {
			if a.DeviceName < b.DeviceName {
				return -1
			}
			return 1
		}
		return a.Time.Compare(b.Time)
	})

	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		if prev.DeviceName != cur.DeviceName {
			continue
		}
		minutes := cur.Time.Sub(prev.Time).Minutes()
		if minutes > thresholdMinutes {
			gaps = append(gaps, models.Gap{
				DeviceName:      cur.DeviceName,
				Start:           prev.Time.In(loc),
				End:             cur.Time.In(loc),
				DurationMinutes: minutes,
			})
		}
	}

	return gaps
}
