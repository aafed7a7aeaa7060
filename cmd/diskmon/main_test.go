package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/darshan-rambhia/diskmon/internal/alerter"
	"github.com/darshan-rambhia/diskmon/internal/config"
	"github.com/darshan-rambhia/diskmon/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlertConfig_Defaults(t *testing.T) {
	assert.Equal(t, alerter.DefaultAlertConfig(), alertConfig(config.AlertsConfig{}))
}

func TestAlertConfig_Overlay(t *testing.T) {
	got := alertConfig(config.AlertsConfig{
		StaleAfter:     config.Duration{Duration: 2 * time.Hour},
		DiskFailed:     &config.AlertRule{Severity: "warning"},
		DiskWarning:    &config.AlertRule{Disabled: true},
		MachineStale:   &config.AlertRule{Cooldown: config.Duration{Duration: time.Hour}},
		ReportRejected: &config.AlertRule{},
	})
	def := alerter.DefaultAlertConfig()

	assert.Equal(t, 2*time.Hour, got.StaleAfter)

	require.NotNil(t, got.DiskFailed)
	assert.Equal(t, "warning", got.DiskFailed.Severity)
	assert.Equal(t, def.DiskFailed.Cooldown, got.DiskFailed.Cooldown)

	assert.Nil(t, got.DiskWarning)

	require.NotNil(t, got.MachineStale)
	assert.Equal(t, def.MachineStale.Severity, got.MachineStale.Severity)
	assert.Equal(t, time.Hour, got.MachineStale.Cooldown)

	assert.Equal(t, def.ReportRejected, got.ReportRejected)
}

func TestOverlayRule_DoesNotMutateDefault(t *testing.T) {
	def := &alerter.Rule{Severity: "critical", Cooldown: time.Hour}
	got := overlayRule(def, &config.AlertRule{Severity: "info"})

	assert.Equal(t, "info", got.Severity)
	assert.Equal(t, "critical", def.Severity)
}

func TestBuildProviders(t *testing.T) {
	providers := buildProviders([]config.NotificationConfig{
		{Type: "ntfy", URL: "https://ntfy.sh", Topic: "disks"},
		{Type: "webhook", URL: "https://example.com/hook"},
		{Type: "carrier-pigeon"},
	})
	require.Len(t, providers, 2)
	assert.IsType(t, &notify.NtfyProvider{}, providers[0])
	assert.IsType(t, &notify.WebhookProvider{}, providers[1])
	assert.Equal(t, "ntfy", providers[0].Name())
	assert.Equal(t, "webhook", providers[1].Name())
}

func TestLogHandler(t *testing.T) {
	ctx := context.Background()

	h := logHandler("debug", "json")
	assert.IsType(t, &slog.JSONHandler{}, h)
	assert.True(t, h.Enabled(ctx, slog.LevelDebug))

	h = logHandler("warn", "text")
	assert.IsType(t, &slog.TextHandler{}, h)
	assert.False(t, h.Enabled(ctx, slog.LevelInfo))
	assert.True(t, h.Enabled(ctx, slog.LevelWarn))

	h = logHandler("", "")
	assert.True(t, h.Enabled(ctx, slog.LevelInfo))
	assert.False(t, h.Enabled(ctx, slog.LevelDebug))

	assert.False(t, logHandler("error", "text").Enabled(ctx, slog.LevelWarn))
}

func TestBuildInfo(t *testing.T) {
	ver, sha, built, dirty := buildInfo()
	assert.Equal(t, "dev", ver)
	assert.NotEmpty(t, sha)
	assert.NotEmpty(t, built)
	assert.Contains(t, []string{"clean", "dirty"}, dirty)
}

func TestOpenJournal(t *testing.T) {
	assert.Nil(t, openJournal(""))

	j := openJournal(filepath.Join(t.TempDir(), "data", "journal.db"))
	require.NotNil(t, j)
	require.NoError(t, j.Close())

	// A regular file where the directory should be cannot be fixed by
	// MkdirAll; startup continues without a journal.
	blocker := filepath.Join(t.TempDir(), "data")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	assert.Nil(t, openJournal(filepath.Join(blocker, "journal.db")))
}
