// Package templates renders the HTML dashboard and provides its formatting
// helpers.
package templates

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/darshan-rambhia/diskmon/internal/model"
	"github.com/darshan-rambhia/diskmon/internal/smart"
)

// MachineRow is one line of the machines table.
type MachineRow struct {
	ID        string
	Hostname  string
	LastSeen  int64
	Stale     bool
	DiskCount int
	Failed    int
}

// DashboardData is everything the dashboard page shows.
type DashboardData struct {
	Machines    []MachineRow
	Disks       []model.DiskView
	Events      []model.IngestEvent
	Alerts      []model.AlertEntry
	GeneratedAt time.Time
}

// FormatBytes formats bytes into human-readable form.
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	units := []string{"KB", "MB", "GB", "TB", "PB"}
	return fmt.Sprintf("%.1f %s", float64(b)/float64(div), units[exp])
}

// FormatAge formats the time since a unix timestamp as "Xm", "Xh" or "Xd".
func FormatAge(unixTS int64, now time.Time) string {
	if unixTS == 0 {
		return "never"
	}
	age := now.Sub(time.Unix(unixTS, 0))
	if age < 0 {
		age = 0
	}
	if age < time.Hour {
		return fmt.Sprintf("%dm", int(age.Minutes()))
	}
	if age < 24*time.Hour {
		return fmt.Sprintf("%dh", int(age.Hours()))
	}
	return fmt.Sprintf("%dd", int(age.Hours()/24))
}

// FormatTime formats a unix timestamp.
func FormatTime(unixTS int64) string {
	if unixTS == 0 {
		return "--"
	}
	return time.Unix(unixTS, 0).UTC().Format("2006-01-02 15:04")
}

// DiskStatusClass returns a CSS class based on disk status.
func DiskStatusClass(status int) string {
	if status&model.StatusFailedSmart != 0 || status&model.StatusFailedScrutiny != 0 {
		return "status-critical"
	}
	if status&model.StatusWarnScrutiny != 0 {
		return "status-warning"
	}
	if status&model.StatusUnknown != 0 {
		return "status-unknown"
	}
	if status&model.StatusInternalError != 0 {
		return "status-error"
	}
	return "status-ok"
}

// HealthLabel is the short label shown next to a disk.
func HealthLabel(h model.DiskHealth) string {
	if h.Health == smart.HealthPassed && h.Status&model.StatusWarnScrutiny != 0 {
		return "WARN"
	}
	return h.Health
}

// OutcomeClass returns a CSS class for an ingest outcome.
func OutcomeClass(outcome string) string {
	switch outcome {
	case model.OutcomeMerged:
		return "status-ok"
	case model.OutcomeActivity:
		return "status-unknown"
	default:
		return "status-critical"
	}
}

// SeverityClass returns a CSS class for an alert severity.
func SeverityClass(severity string) string {
	switch severity {
	case "critical":
		return "status-critical"
	case "warning":
		return "status-warning"
	default:
		return "status-unknown"
	}
}

// StaleClass returns a CSS class for a machine's freshness.
func StaleClass(stale bool) string {
	if stale {
		return "status-warning"
	}
	return "status-ok"
}

// MachineRows builds the machines table, sorted by id. Machines whose
// lastSeen is older than staleAfter are marked stale.
func MachineRows(machines map[string]*model.MachineRecord, staleAfter time.Duration, now time.Time) []MachineRow {
	rows := make([]MachineRow, 0, len(machines))
	for id, m := range machines {
		row := MachineRow{
			ID:        id,
			LastSeen:  m.LastSeen(),
			DiskCount: len(m.Disks),
		}
		if h, ok := m.Info["hostname"].(string); ok {
			row.Hostname = h
		}
		row.Stale = IsStale(row.LastSeen, staleAfter, now)
		for _, payload := range m.Disks {
			if smart.Evaluate(payload).Health == smart.HealthFailed {
				row.Failed++
			}
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	return rows
}

// IsStale reports whether lastSeen is older than staleAfter. A machine that
// has never been stamped is not stale.
func IsStale(lastSeen int64, staleAfter time.Duration, now time.Time) bool {
	if lastSeen == 0 || staleAfter <= 0 {
		return false
	}
	return now.Sub(time.Unix(lastSeen, 0)) > staleAfter
}

// DiskViews flattens every stored disk into a view with evaluated health,
// sorted by machine then device. Payloads are only kept when withPayload.
func DiskViews(machines map[string]*model.MachineRecord, withPayload bool) []model.DiskView {
	var list []model.DiskView
	for id, m := range machines {
		last := m.LastSeen()
		for dev, payload := range m.Disks {
			v := model.DiskView{
				MachineID: id,
				Device:    dev,
				LastSeen:  last,
				Health:    smart.Evaluate(payload),
			}
			if withPayload {
				v.Payload = payload
			}
			list = append(list, v)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].MachineID != list[j].MachineID {
			return list[i].MachineID < list[j].MachineID
		}
		return list[i].Device < list[j].Device
	})
	return list
}

// CountDisks tallies disks by evaluated status.
func CountDisks(disks []model.DiskView) (passed, warning, failed, unknown int) {
	for _, d := range disks {
		switch {
		case d.Health.Status&(model.StatusFailedSmart|model.StatusFailedScrutiny) != 0:
			failed++
		case d.Health.Status&model.StatusWarnScrutiny != 0:
			warning++
		case d.Health.Status&model.StatusUnknown != 0:
			unknown++
		default:
			passed++
		}
	}
	return
}

// WearoutDisplay returns wearout as string or "--" for HDDs.
func WearoutDisplay(w *int) string {
	if w == nil {
		return "--"
	}
	return fmt.Sprintf("%d%%", *w)
}

// TempDisplay returns temperature as string or "--" if nil.
func TempDisplay(t *int) string {
	if t == nil {
		return "--"
	}
	return fmt.Sprintf("%dC", *t)
}

// HoursDisplay returns power on hours formatted or "--".
func HoursDisplay(h *int) string {
	if h == nil {
		return "--"
	}
	if *h >= 1000 {
		return fmt.Sprintf("%d,%03d", *h/1000, *h%1000)
	}
	return fmt.Sprintf("%d", *h)
}

// FailureRateDisplay formats an annualized failure rate or "--".
func FailureRateDisplay(r *float64) string {
	if r == nil {
		return "--"
	}
	return fmt.Sprintf("%.1f%%", *r*100)
}

// DeviceAnchor turns a device id into a DOM id.
func DeviceAnchor(machineID, device string) string {
	r := strings.NewReplacer("/", "-", " ", "-", ".", "-", ":", "-")
	return "disk-" + r.Replace(machineID) + "--" + r.Replace(device)
}
