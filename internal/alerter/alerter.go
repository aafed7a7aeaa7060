// Package alerter evaluates alert rules against the inventory and the ingest
// journal.
package alerter

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/darshan-rambhia/diskmon/internal/inventory"
	"github.com/darshan-rambhia/diskmon/internal/model"
	"github.com/darshan-rambhia/diskmon/internal/notify"
	"github.com/darshan-rambhia/diskmon/internal/smart"
)

// Alert types.
const (
	TypeDiskFailed     = "disk_failed"
	TypeDiskWarning    = "disk_warning"
	TypeMachineStale   = "machine_stale"
	TypeReportRejected = "report_rejected"
)

// AlertConfig holds configuration for alert rules. A nil rule is disabled.
type AlertConfig struct {
	StaleAfter     time.Duration
	DiskFailed     *Rule
	DiskWarning    *Rule
	MachineStale   *Rule
	ReportRejected *Rule
}

// Rule sets how an alert is reported and how often it may repeat.
type Rule struct {
	Severity string
	Cooldown time.Duration
}

// DefaultAlertConfig returns sensible alert defaults.
func DefaultAlertConfig() AlertConfig {
	return AlertConfig{
		StaleAfter:     24 * time.Hour,
		DiskFailed:     &Rule{Severity: "critical", Cooldown: 6 * time.Hour},
		DiskWarning:    &Rule{Severity: "warning", Cooldown: 24 * time.Hour},
		MachineStale:   &Rule{Severity: "warning", Cooldown: 6 * time.Hour},
		ReportRejected: &Rule{Severity: "warning", Cooldown: 1 * time.Hour},
	}
}

// Journal is the part of the ingest journal the alerter reads and writes.
type Journal interface {
	InsertAlert(ts int64, alertType, subject, message, severity string) error
	RejectedAfter(afterID int64, limit int) ([]model.IngestEvent, error)
	LatestID() (int64, error)
}

const rejectedPage = 500

// Alerter evaluates rules and sends notifications.
type Alerter struct {
	inv       *inventory.Inventory
	journal   Journal
	providers []notify.Provider
	config    AlertConfig
	interval  time.Duration
	now       func() time.Time

	// Deduplication: maps alert key → last fired time
	lastFired map[string]time.Time

	// Conditions currently true, so their clearing can be announced.
	active map[string]model.Notification

	// Highest ingest event id already considered for report_rejected.
	cursor int64
}

// NewAlerter creates a new alerter. journal may be nil, which disables
// report_rejected and the alert log.
func NewAlerter(inv *inventory.Inventory, j Journal, providers []notify.Provider, cfg AlertConfig) *Alerter {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultAlertConfig().StaleAfter
	}
	return &Alerter{
		inv:       inv,
		journal:   j,
		providers: providers,
		config:    cfg,
		interval:  30 * time.Second,
		now:       time.Now,
		lastFired: make(map[string]time.Time),
		active:    make(map[string]model.Notification),
	}
}

// Run starts the alerter evaluation loop. Reports rejected before startup
// are not alerted on.
func (a *Alerter) Run(ctx context.Context) error {
	slog.Info("alerter started", "interval", a.interval, "stale_after", a.config.StaleAfter)

	if a.journal != nil {
		id, err := a.journal.LatestID()
		if err != nil {
			slog.Error("reading journal position", "error", err)
		}
		a.cursor = id
	}

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("alerter stopped")
			return ctx.Err()
		case <-ticker.C:
			a.evaluate(ctx)
		}
	}
}

func (a *Alerter) cleanup(now time.Time) {
	const maxAge = 48 * time.Hour
	for key, t := range a.lastFired {
		if _, ok := a.active[key]; !ok && now.Sub(t) > maxAge {
			delete(a.lastFired, key)
		}
	}
}

func (a *Alerter) evaluate(ctx context.Context) {
	now := a.now()
	a.cleanup(now)

	seen := make(map[string]bool)
	snap := a.inv.Snapshot()

	ids := make([]string, 0, len(snap.Machines))
	for id := range snap.Machines {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		m := snap.Machines[id]
		a.checkStale(ctx, now, m, seen)
		a.checkDisks(ctx, now, m, seen)
	}

	a.resolve(ctx, now, seen)
	a.checkRejected(ctx, now)
}

func (a *Alerter) checkStale(ctx context.Context, now time.Time, m *model.MachineRecord, seen map[string]bool) {
	if a.config.MachineStale == nil {
		return
	}
	last := m.LastSeen()
	if last == 0 {
		return
	}
	age := now.Sub(time.Unix(last, 0))
	if age <= a.config.StaleAfter {
		return
	}
	key := fmt.Sprintf("machine_stale:%s", m.MachineID)
	seen[key] = true
	a.fire(ctx, now, key, a.config.MachineStale.Cooldown, model.Notification{
		AlertType: TypeMachineStale,
		Severity:  a.config.MachineStale.Severity,
		Title:     fmt.Sprintf("Machine Stale: %s", m.MachineID),
		Message:   fmt.Sprintf("[%s] no report for %.0fh", m.MachineID, age.Hours()),
		Subject:   m.MachineID,
		Timestamp: now,
		Metadata:  map[string]string{"last_seen": fmt.Sprintf("%d", last)},
	})
}

func (a *Alerter) checkDisks(ctx context.Context, now time.Time, m *model.MachineRecord, seen map[string]bool) {
	if a.config.DiskFailed == nil && a.config.DiskWarning == nil {
		return
	}
	devices := make([]string, 0, len(m.Disks))
	for dev := range m.Disks {
		devices = append(devices, dev)
	}
	sort.Strings(devices)

	for _, dev := range devices {
		h := smart.Evaluate(m.Disks[dev])
		subject := m.MachineID + "/" + dev
		meta := map[string]string{"model": h.Model, "serial": h.Serial, "status": fmt.Sprintf("%d", h.Status)}

		failed := h.Health == smart.HealthFailed || h.Status&model.StatusFailedSmart != 0
		if failed && a.config.DiskFailed != nil {
			key := fmt.Sprintf("disk_failed:%s", subject)
			seen[key] = true
			a.fire(ctx, now, key, a.config.DiskFailed.Cooldown, model.Notification{
				AlertType: TypeDiskFailed,
				Severity:  a.config.DiskFailed.Severity,
				Title:     fmt.Sprintf("Disk Failed: %s", subject),
				Message:   fmt.Sprintf("[%s] %s%s health: %s", m.MachineID, dev, describe(h), h.Health),
				Subject:   subject,
				Timestamp: now,
				Metadata:  meta,
			})
			continue
		}
		if h.Status&model.StatusWarnScrutiny != 0 && a.config.DiskWarning != nil {
			key := fmt.Sprintf("disk_warning:%s", subject)
			seen[key] = true
			a.fire(ctx, now, key, a.config.DiskWarning.Cooldown, model.Notification{
				AlertType: TypeDiskWarning,
				Severity:  a.config.DiskWarning.Severity,
				Title:     fmt.Sprintf("Disk Warning: %s", subject),
				Message:   fmt.Sprintf("[%s] %s%s has elevated SMART risk indicators", m.MachineID, dev, describe(h)),
				Subject:   subject,
				Timestamp: now,
				Metadata:  meta,
			})
		}
	}
}

// checkRejected raises one alert per machine for reports rejected since the
// previous evaluation.
func (a *Alerter) checkRejected(ctx context.Context, now time.Time) {
	if a.journal == nil || a.config.ReportRejected == nil {
		return
	}

	type group struct {
		count   int
		lastErr string
		files   []string
	}
	groups := make(map[string]*group)
	var order []string

	for {
		events, err := a.journal.RejectedAfter(a.cursor, rejectedPage)
		if err != nil {
			slog.Error("reading rejected reports", "error", err)
			return
		}
		for _, e := range events {
			a.cursor = e.ID
			subject := e.MachineID
			if subject == "" {
				subject = "unknown"
			}
			g, ok := groups[subject]
			if !ok {
				g = &group{}
				groups[subject] = g
				order = append(order, subject)
			}
			g.count++
			g.lastErr = e.Error
			if len(g.files) < 5 {
				g.files = append(g.files, e.File)
			}
		}
		if len(events) < rejectedPage {
			break
		}
	}

	for _, subject := range order {
		g := groups[subject]
		a.fire(ctx, now, "report_rejected:"+subject, a.config.ReportRejected.Cooldown, model.Notification{
			AlertType: TypeReportRejected,
			Severity:  a.config.ReportRejected.Severity,
			Title:     fmt.Sprintf("Reports Rejected: %s", subject),
			Message:   fmt.Sprintf("[%s] %d report(s) rejected, last error: %s", subject, g.count, g.lastErr),
			Subject:   subject,
			Timestamp: now,
			Metadata: map[string]string{
				"count": fmt.Sprintf("%d", g.count),
				"files": strings.Join(g.files, ","),
			},
		})
	}
}

// resolve announces conditions that were active on the previous evaluation
// and are no longer observed.
func (a *Alerter) resolve(ctx context.Context, now time.Time, seen map[string]bool) {
	keys := make([]string, 0, len(a.active))
	for key := range a.active {
		if !seen[key] {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	for _, key := range keys {
		prev := a.active[key]
		delete(a.active, key)
		delete(a.lastFired, key)

		notif := model.Notification{
			AlertType: prev.AlertType,
			Severity:  "info",
			Title:     "Resolved: " + prev.Title,
			Message:   fmt.Sprintf("[%s] %s cleared", prev.Subject, prev.AlertType),
			Subject:   prev.Subject,
			Timestamp: now,
			Resolved:  true,
		}
		a.send(ctx, notif)
		slog.Info("alert resolved", "type", prev.AlertType, "subject", prev.Subject)
	}
}

func (a *Alerter) fire(ctx context.Context, now time.Time, key string, cooldown time.Duration, notif model.Notification) {
	if notif.AlertType != TypeReportRejected {
		a.active[key] = notif
	}
	if last, ok := a.lastFired[key]; ok && now.Sub(last) < cooldown {
		return // still in cooldown
	}
	a.lastFired[key] = now

	if a.journal != nil {
		if err := a.journal.InsertAlert(now.Unix(), notif.AlertType, notif.Subject, notif.Message, notif.Severity); err != nil {
			slog.Error("storing alert", "type", notif.AlertType, "error", err)
		}
	}

	a.send(ctx, notif)

	slog.Warn("alert fired",
		"type", notif.AlertType,
		"severity", notif.Severity,
		"subject", notif.Subject,
		"title", notif.Title,
	)
}

func (a *Alerter) send(ctx context.Context, notif model.Notification) {
	if err := notify.Broadcast(ctx, a.providers, notif); err != nil {
		slog.Error("sending notification", "alert", notif.AlertType, "error", err)
	}
}

func describe(h model.DiskHealth) string {
	switch {
	case h.Model != "" && h.Serial != "":
		return fmt.Sprintf(" (%s, %s)", h.Model, h.Serial)
	case h.Model != "":
		return fmt.Sprintf(" (%s)", h.Model)
	default:
		return ""
	}
}

// FormatSeverity returns an uppercase severity string for templates.
func FormatSeverity(s string) string {
	return strings.ToUpper(s)
}
