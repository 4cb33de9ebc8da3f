package analysis

import (
	"slices"

	"github.com/kiranshivaraju/dnswatch/pkg/models"
)

// DefaultTopSites is the number of root domains reported per device.
const DefaultTopSites = 5

// TopSites returns, for each device in alphabetical order, its n most queried
// root domains among records that were not blocked. Ties keep root order.
// Devices left with no qualifying records are omitted.
func TopSites(records []models.LogRecord, n int) []models.DeviceSites {
	if n <= 0 {
		n = DefaultTopSites
	}

	counts := make(map[string]map[string]int)
	for _, rec := range records {
		if rec.Blocked() || rec.Root == "" {
			continue
		}
		perDevice, ok := counts[rec.DeviceName]
		if !ok {
			perDevice = make(map[string]int)
			counts[rec.DeviceName] = perDevice
		}
		perDevice[rec.Root]++
	}

	devices := make([]string, 0, len(counts))
	for d := range counts {
		devices = append(devices, d)
	}
	slices.Sort(devices)

	out := make([]models.DeviceSites, 0, len(devices))
	for _, d := range devices {
		sites := make([]models.SiteCount, 0, len(counts[d]))
		for root, c := range counts[d] {
			sites = append(sites, models.SiteCount{Root: root, Count: c})
		}
		slices.SortFunc(sites, func(a, b models.SiteCount) int {
			if a.Count != b.Count {
				return b.Count - a.Count
			}
			if a.Root < b.Root {
				return -1
			}
			if a.Root > b.Root {
				return 1
			}
			return 0
		})
		if len(sites) > n {
			sites = sites[:n]
		}
		out = append(out, models.DeviceSites{DeviceName: d, Sites: sites})
	}

	return out
}

// Usage summarizes the records for the analytics section of a report.
func Usage(records []models.LogRecord, n int) models.UsageSummary {
	allowed := 0
	for _, rec := range records {
		if !rec.Blocked() {
			allowed++
		}
	}
	return models.UsageSummary{
		TotalRecords:   len(records),
		AllowedRecords: allowed,
		Devices:        TopSites(records, n),
	}
}
