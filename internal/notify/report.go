// Package notify turns analysis results into the daily report and delivers it.
package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/kiranshivaraju/dnswatch/internal/analysis"
	"github.com/kiranshivaraju/dnswatch/pkg/models"
)

// Report subjects, from most to least severe.
const (
	SubjectCritical = "🔴 NextDNS Suspicious Activity Detected"
	SubjectWarning  = "🟠 NextDNS Warnings Detected"
	SubjectGaps     = "🟠 NextDNS Stoppages Detected"
	SubjectClear    = "🟢 No Suspicious NextDNS Activity"
)

const (
	rangeStartLayout = "01/02, 15:04"
	rangeEndLayout   = "15:04"
)

// ReportInput is everything BuildReport needs.
type ReportInput struct {
	Critical     []models.Group
	Warnings     []models.Group
	Gaps         []models.Gap
	Usage        models.UsageSummary
	GapThreshold int // minutes
	Location     *time.Location
}

// Report is a rendered notification.
type Report struct {
	Subject string
	Body    string
	Lines   []string
}

// BuildReport renders the subject and plain-text body. The subject reflects
// only the most severe non-empty section; the body contains every non-empty
// section followed by the usage analytics block.
func BuildReport(in ReportInput) Report {
	loc := in.Location
	if loc == nil {
		loc = time.UTC
	}

	var (
		subject string
		lines   []string
	)

	if len(in.Critical) > 0 {
		subject = SubjectCritical
		lines = append(lines, "The following requests in NextDNS are suspicious and you might want to discuss them: ")
		for _, g := range in.Critical {
			lines = append(lines, fmt.Sprintf("- %dx hits on domain %s in category '%s' on device %s between %s",
				g.Count,
				g.Value(string(analysis.FieldRoot)),
				g.Value(string(analysis.FieldReason)),
				g.Value(string(analysis.FieldDevice)),
				timeRange(g.FirstSeen, g.LastSeen, loc, "and"),
			))
		}
	}

	if len(in.Warnings) > 0 {
		if subject == "" {
			subject = SubjectWarning
		}
		lines = append(lines, "\nThe following requests were flagged as warnings:")
		for _, g := range in.Warnings {
			lines = append(lines, fmt.Sprintf("- %dx hits on monitored domain %s on device %s between %s",
				g.Count,
				g.Value(string(analysis.FieldRoot)),
				g.Value(string(analysis.FieldDevice)),
				timeRange(g.FirstSeen, g.LastSeen, loc, "and"),
			))
		}
	}

	if len(in.Gaps) > 0 {
		if subject == "" {
			subject = SubjectGaps
		}
		lines = append(lines, fmt.Sprintf("\nRequests stopped for more than %d minutes at the following time(s):", in.GapThreshold))
		for _, gap := range in.Gaps {
			lines = append(lines, fmt.Sprintf("- %s sent no logs for %.1f minutes from %s",
				gap.DeviceName,
				gap.DurationMinutes,
				timeRange(gap.Start, gap.End, loc, "to"),
			))
		}
	}

	if subject == "" {
		subject = SubjectClear
		lines = append(lines, "No notifications about NextDNS activity for yesterday.")
	}

	lines = append(lines, usageBlock(in.Usage))

	return Report{
		Subject: subject,
		Body:    strings.Join(lines, "\n"),
		Lines:   lines,
	}
}

func timeRange(start, end time.Time, loc *time.Location, sep string) string {
	return fmt.Sprintf("%s %s %s",
		start.In(loc).Format(rangeStartLayout), sep, end.In(loc).Format(rangeEndLayout))
}

func usageBlock(u models.UsageSummary) string {
	const header = "\n\n--- Usage Analytics ---"

	if u.TotalRecords == 0 {
		return header + "\nNo data available for analysis."
	}
	if u.AllowedRecords == 0 || len(u.Devices) == 0 {
		return header + "\nNo allowed requests found."
	}

	lines := []string{header}
	for _, d := range u.Devices {
		sites := make([]string, 0, len(d.Sites))
		for _, s := range d.Sites {
			sites = append(sites, fmt.Sprintf("%s: %d", s.Root, s.Count))
		}
		lines = append(lines, fmt.Sprintf("\n%s: %s", d.DeviceName, strings.Join(sites, ", ")))
	}
	return strings.Join(lines, "\n")
}
