package templates

import (
	"bytes"
	"context"
	"encoding/json"
	"io/fs"
	"testing"
	"time"

	"github.com/darshan-rambhia/diskmon/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		name     string
		input    int64
		expected string
	}{
		{"zero", 0, "0 B"},
		{"bytes", 500, "500 B"},
		{"kilobytes", 1536, "1.5 KB"},
		{"megabytes", 10_485_760, "10.0 MB"},
		{"gigabytes", 8_000_000_000, "7.5 GB"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatBytes(tt.input))
		})
	}
}

func TestFormatAge(t *testing.T) {
	tests := []struct {
		name string
		ts   int64
		want string
	}{
		{"never", 0, "never"},
		{"minutes", now.Add(-5 * time.Minute).Unix(), "5m"},
		{"hours", now.Add(-3 * time.Hour).Unix(), "3h"},
		{"days", now.Add(-50 * time.Hour).Unix(), "2d"},
		{"future clamps to zero", now.Add(time.Hour).Unix(), "0m"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatAge(tt.ts, now))
		})
	}
}

func TestFormatTime(t *testing.T) {
	assert.Equal(t, "2026-03-01 12:00", FormatTime(now.Unix()))
	assert.Equal(t, "--", FormatTime(0))
}

func TestDiskStatusClass(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   string
	}{
		{"passed", model.StatusPassed, "status-ok"},
		{"failed smart", model.StatusFailedSmart, "status-critical"},
		{"failed scrutiny", model.StatusFailedScrutiny, "status-critical"},
		{"warning", model.StatusWarnScrutiny, "status-warning"},
		{"unknown", model.StatusUnknown, "status-unknown"},
		{"internal error", model.StatusInternalError, "status-error"},
		{"failed beats warning", model.StatusFailedSmart | model.StatusWarnScrutiny, "status-critical"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DiskStatusClass(tt.status))
		})
	}
}

func TestHealthLabel(t *testing.T) {
	assert.Equal(t, "PASSED", HealthLabel(model.DiskHealth{Health: "PASSED"}))
	assert.Equal(t, "WARN", HealthLabel(model.DiskHealth{Health: "PASSED", Status: model.StatusWarnScrutiny}))
	assert.Equal(t, "FAILED", HealthLabel(model.DiskHealth{Health: "FAILED", Status: model.StatusFailedSmart}))
}

func TestOutcomeAndSeverityClass(t *testing.T) {
	assert.Equal(t, "status-ok", OutcomeClass(model.OutcomeMerged))
	assert.Equal(t, "status-unknown", OutcomeClass(model.OutcomeActivity))
	assert.Equal(t, "status-critical", OutcomeClass(model.OutcomeRejected))
	assert.Equal(t, "status-critical", SeverityClass("critical"))
	assert.Equal(t, "status-warning", SeverityClass("warning"))
	assert.Equal(t, "status-unknown", SeverityClass("info"))
}

func TestIsStale(t *testing.T) {
	assert.False(t, IsStale(0, time.Hour, now), "never stamped")
	assert.False(t, IsStale(now.Add(-2*time.Hour).Unix(), 0, now), "disabled")
	assert.False(t, IsStale(now.Add(-30*time.Minute).Unix(), time.Hour, now))
	assert.True(t, IsStale(now.Add(-2*time.Hour).Unix(), time.Hour, now))
}

func testMachines() map[string]*model.MachineRecord {
	a := model.NewMachineRecord("b-host")
	a.Info[model.LastSeenKey] = now.Add(-48 * time.Hour).Unix()
	a.Info["hostname"] = "backup"
	a.Disks["sdb"] = json.RawMessage(`{"health":"FAILED"}`)
	a.Disks["sda"] = json.RawMessage(`{"temp":30,"health":"OK"}`)

	b := model.NewMachineRecord("a-host")
	b.Info[model.LastSeenKey] = now.Add(-time.Minute).Unix()
	b.Disks["nvme0"] = json.RawMessage(`{"smart_status":{"passed":true}}`)
	return map[string]*model.MachineRecord{"b-host": a, "a-host": b}
}

func TestMachineRows(t *testing.T) {
	rows := MachineRows(testMachines(), 24*time.Hour, now)
	require.Len(t, rows, 2)

	assert.Equal(t, "a-host", rows[0].ID)
	assert.False(t, rows[0].Stale)
	assert.Equal(t, 1, rows[0].DiskCount)
	assert.Equal(t, 0, rows[0].Failed)

	assert.Equal(t, "b-host", rows[1].ID)
	assert.Equal(t, "backup", rows[1].Hostname)
	assert.True(t, rows[1].Stale)
	assert.Equal(t, 2, rows[1].DiskCount)
	assert.Equal(t, 1, rows[1].Failed)
}

func TestDiskViews(t *testing.T) {
	views := DiskViews(testMachines(), false)
	require.Len(t, views, 3)

	assert.Equal(t, "a-host", views[0].MachineID)
	assert.Equal(t, "nvme0", views[0].Device)
	assert.Equal(t, "b-host", views[1].MachineID)
	assert.Equal(t, "sda", views[1].Device)
	assert.Equal(t, "sdb", views[2].Device)
	assert.Equal(t, "FAILED", views[2].Health.Health)
	assert.Nil(t, views[2].Payload)

	withPayload := DiskViews(testMachines(), true)
	assert.JSONEq(t, `{"health":"FAILED"}`, string(withPayload[2].Payload))
}

func TestCountDisks(t *testing.T) {
	passed, warning, failed, unknown := CountDisks([]model.DiskView{
		{Health: model.DiskHealth{Status: model.StatusPassed}},
		{Health: model.DiskHealth{Status: model.StatusWarnScrutiny}},
		{Health: model.DiskHealth{Status: model.StatusFailedSmart}},
		{Health: model.DiskHealth{Status: model.StatusFailedScrutiny | model.StatusWarnScrutiny}},
		{Health: model.DiskHealth{Status: model.StatusUnknown}},
	})
	assert.Equal(t, 1, passed)
	assert.Equal(t, 1, warning)
	assert.Equal(t, 2, failed)
	assert.Equal(t, 1, unknown)
}

func TestDisplayHelpers(t *testing.T) {
	assert.Equal(t, "--", TempDisplay(nil))
	assert.Equal(t, "41C", TempDisplay(new(41)))
	assert.Equal(t, "--", HoursDisplay(nil))
	assert.Equal(t, "999", HoursDisplay(new(999)))
	assert.Equal(t, "12,345", HoursDisplay(new(12345)))
	assert.Equal(t, "--", WearoutDisplay(nil))
	assert.Equal(t, "97%", WearoutDisplay(new(97)))
	assert.Equal(t, "--", FailureRateDisplay(nil))
	assert.Equal(t, "2.5%", FailureRateDisplay(new(0.025)))
}

func TestDeviceAnchor(t *testing.T) {
	assert.Equal(t, "disk-nas-01--sda", DeviceAnchor("nas-01", "sda"))
	assert.Equal(t, "disk-host-lan---dev-disk-by-id-ata-X", DeviceAnchor("host.lan", "/dev/disk/by-id/ata:X"))
}

func TestDashboard_Renders(t *testing.T) {
	machines := testMachines()
	data := DashboardData{
		Machines: MachineRows(machines, 24*time.Hour, now),
		Disks:    DiskViews(machines, false),
		Events: []model.IngestEvent{
			{Timestamp: now.Unix(), File: "1.json", MachineID: "a-host", Outcome: model.OutcomeMerged},
			{Timestamp: now.Unix(), File: "<bad>.json", Outcome: model.OutcomeRejected, Error: "malformed"},
		},
		Alerts: []model.AlertEntry{
			{Timestamp: now.Unix(), AlertType: "disk_failed", Subject: "b-host/sdb", Severity: "critical", Message: "failed"},
		},
		GeneratedAt: now,
	}

	var buf bytes.Buffer
	require.NoError(t, Dashboard(data).Render(context.Background(), &buf))
	html := buf.String()

	assert.Contains(t, html, "<!DOCTYPE html>")
	assert.Contains(t, html, `<div id="disks">`)
	assert.Contains(t, html, "b-host/sdb")
	assert.Contains(t, html, `<td class="status-warning">stale</td>`)
	assert.Contains(t, html, "&lt;bad&gt;.json", "file names are escaped")
	assert.NotContains(t, html, "<bad>")
	assert.Contains(t, html, `<div class="status-critical"><span>1</span> failed</div>`)
}

func TestDashboard_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Dashboard(DashboardData{GeneratedAt: now}).Render(context.Background(), &buf))
	assert.Contains(t, buf.String(), "No machines have reported yet.")
	assert.Contains(t, buf.String(), "No disk reports yet.")
	assert.Contains(t, buf.String(), "No alerts.")
}

func TestDiskDetail_Renders(t *testing.T) {
	payload := json.RawMessage(`{"ata_smart_attributes":{"table":[
		{"id":5,"name":"Reallocated_Sector_Ct","value":100,"worst":100,"thresh":10,"raw":{"value":0,"string":"0"}}]},
		"smart_status":{"passed":true}}`)
	views := DiskViews(map[string]*model.MachineRecord{
		"m": {MachineID: "m", Info: map[string]any{}, Disks: map[string]json.RawMessage{"sda": payload}},
	}, true)
	require.Len(t, views, 1)

	var buf bytes.Buffer
	require.NoError(t, DiskDetail(views[0]).Render(context.Background(), &buf))
	html := buf.String()
	assert.Contains(t, html, "Reallocated_Sector_Ct")
	assert.Contains(t, html, "2.5%")
	assert.Contains(t, html, "<details><summary>Payload (")
	assert.Contains(t, html, "&#34;smart_status&#34;")
}

func TestStaticAssets(t *testing.T) {
	for _, name := range []string{"style.css", "app.js"} {
		data, err := fs.ReadFile(Static(), name)
		require.NoError(t, err, name)
		assert.NotEmpty(t, data)
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, assert.AnError }

func TestComponents_PropagateWriteErrors(t *testing.T) {
	assert.ErrorIs(t, Dashboard(DashboardData{}).Render(context.Background(), failingWriter{}), assert.AnError)
	assert.ErrorIs(t, DisksFragment(nil).Render(context.Background(), failingWriter{}), assert.AnError)
	assert.ErrorIs(t, DiskDetail(model.DiskView{}).Render(context.Background(), failingWriter{}), assert.AnError)
}
