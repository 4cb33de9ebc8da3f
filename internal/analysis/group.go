package analysis

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/kiranshivaraju/dnswatch/pkg/models"
)

// Field names a LogRecord attribute that records can be grouped by.
type Field string

const (
	FieldReason   Field = "reason_name"
	FieldDevice   Field = "device_name"
	FieldRoot     Field = "root"
	FieldDomain   Field = "domain"
	FieldStatus   Field = "status"
	FieldProtocol Field = "protocol"
	FieldClientIP Field = "client_ip"
)

// Value returns the record's value for f.
func (f Field) Value(rec models.LogRecord) string {
	switch f {
	case FieldReason:
		return rec.ReasonName
	case FieldDevice:
		return rec.DeviceName
	case FieldRoot:
		return rec.Root
	case FieldDomain:
		return rec.Domain
	case FieldStatus:
		return rec.Status
	case FieldProtocol:
		return rec.Protocol
	case FieldClientIP:
		return rec.ClientIP
	default:
		panic(fmt.Sprintf("analysis: unknown group field %q", string(f)))
	}
}

// GroupBy groups records by the values of fields and reports first/last
// occurrence and count per group, with times converted to loc.
// Groups are ordered by their key values, so identical input always yields
// identical output. Returns empty slice for empty input (never nil).
func GroupBy(records []models.LogRecord, fields []Field, loc *time.Location) []models.Group {
	if len(records) == 0 {
		return []models.Group{}
	}
	if loc == nil {
		loc = time.UTC
	}

	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = string(f)
	}

	groups := make(map[string]*models.Group)
	for _, rec := range records {
		values := make([]string, len(fields))
		for i, f := range fields {
			values[i] = f.Value(rec)
		}
		key := strings.Join(values, "\x00")

		g, exists := groups[key]
		if !exists {
			g = &models.Group{
				Fields:    names,
				Values:    values,
				FirstSeen: rec.Time,
				LastSeen:  rec.Time,
			}
			groups[key] = g
		}

		g.Count++
		if rec.Time.Before(g.FirstSeen) {
			g.FirstSeen = rec.Time
		}
		if rec.Time.After(g.LastSeen) {
			g.LastSeen = rec.Time
		}
	}

	out := make([]models.Group, 0, len(groups))
	for _, g := range groups {
		g.FirstSeen = g.FirstSeen.In(loc)
		g.LastSeen = g.LastSeen.In(loc)
		out = append(out, *g)
	}

	slices.SortFunc(out, func(a, b models.Group) int {
		return slices.Compare(a.Values, b.Values)
	})

	return out
}

// FilterReasons keeps records whose joined reason name is one of categories.
func FilterReasons(records []models.LogRecord, categories []string) []models.LogRecord {
	return filterBy(records, FieldReason, categories)
}

// FilterRoots keeps records whose root domain is one of domains.
func FilterRoots(records []models.LogRecord, domains []string) []models.LogRecord {
	return filterBy(records, FieldRoot, domains)
}

func filterBy(records []models.LogRecord, f Field, values []string) []models.LogRecord {
	out := []models.LogRecord{}
	if len(values) == 0 {
		return out
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	for _, rec := range records {
		if _, ok := set[f.Value(rec)]; ok {
			out = append(out, rec)
		}
	}
	return out
}
