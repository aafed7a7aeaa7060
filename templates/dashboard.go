package templates

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"strconv"
	"time"

	"github.com/a-h/templ"
	"github.com/darshan-rambhia/diskmon/internal/model"
)

//go:embed static
var static embed.FS

// Static returns the stylesheet and script served under /static/.
func Static() fs.FS {
	sub, err := fs.Sub(static, "static")
	if err != nil {
		panic(err)
	}
	return sub
}

// page accumulates the first write error so components can write freely.
type page struct {
	w   io.Writer
	err error
}

func (p *page) raw(s string) {
	if p.err == nil {
		_, p.err = io.WriteString(p.w, s)
	}
}

func (p *page) rawf(format string, args ...any) {
	if p.err == nil {
		_, p.err = fmt.Fprintf(p.w, format, args...)
	}
}

func (p *page) text(s string) {
	p.raw(templ.EscapeString(s))
}

// cell writes <td class="..">text</td>.
func (p *page) cell(class, s string) {
	if class == "" {
		p.raw("<td>")
	} else {
		p.rawf(`<td class="%s">`, templ.EscapeString(class))
	}
	p.text(s)
	p.raw("</td>")
}

// Dashboard renders the full page.
func Dashboard(d DashboardData) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		p := &page{w: w}
		p.raw(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8">`)
		p.raw(`<meta name="viewport" content="width=device-width, initial-scale=1">`)
		p.raw(`<title>diskmon</title><link rel="stylesheet" href="/static/style.css"></head><body>`)
		p.raw(`<header><h1>diskmon</h1><span class="muted">updated `)
		p.text(d.GeneratedAt.UTC().Format("2006-01-02 15:04:05 UTC"))
		p.raw(`</span></header><main>`)

		passed, warning, failed, unknown := CountDisks(d.Disks)
		p.raw(`<section class="summary">`)
		p.rawf(`<div><span>%d</span> machines</div>`, len(d.Machines))
		p.rawf(`<div><span>%d</span> disks</div>`, len(d.Disks))
		p.rawf(`<div class="status-ok"><span>%d</span> passed</div>`, passed)
		p.rawf(`<div class="status-warning"><span>%d</span> warning</div>`, warning)
		p.rawf(`<div class="status-critical"><span>%d</span> failed</div>`, failed)
		p.rawf(`<div class="status-unknown"><span>%d</span> unknown</div>`, unknown)
		p.raw(`</section>`)
		if p.err != nil {
			return p.err
		}

		p.raw(`<section><h2>Machines</h2>`)
		if err := MachinesFragment(d.Machines, d.GeneratedAt).Render(ctx, w); err != nil {
			return err
		}
		p.raw(`</section><section><h2>Disks</h2><div id="disks">`)
		if err := DisksFragment(d.Disks).Render(ctx, w); err != nil {
			return err
		}
		p.raw(`</div></section>`)

		p.raw(`<section><h2>Recent alerts</h2>`)
		if len(d.Alerts) == 0 {
			p.raw(`<p class="muted">No alerts.</p>`)
		} else {
			p.raw(`<table><thead><tr><th>Time</th><th>Severity</th><th>Type</th><th>Subject</th><th>Message</th></tr></thead><tbody>`)
			for _, a := range d.Alerts {
				p.raw("<tr>")
				p.cell("", FormatTime(a.Timestamp))
				p.cell(SeverityClass(a.Severity), a.Severity)
				p.cell("", a.AlertType)
				p.cell("", a.Subject)
				p.cell("", a.Message)
				p.raw("</tr>")
			}
			p.raw(`</tbody></table>`)
		}
		p.raw(`</section>`)

		p.raw(`<section><h2>Recent reports</h2>`)
		if len(d.Events) == 0 {
			p.raw(`<p class="muted">No reports ingested yet.</p>`)
		} else {
			p.raw(`<table><thead><tr><th>Time</th><th>File</th><th>Machine</th><th>Type</th><th>Device</th><th>Outcome</th><th>Error</th></tr></thead><tbody>`)
			for _, e := range d.Events {
				p.raw("<tr>")
				p.cell("", FormatTime(e.Timestamp))
				p.cell("", e.File)
				p.cell("", e.MachineID)
				p.cell("", e.ReportType)
				p.cell("", e.Device)
				p.cell(OutcomeClass(e.Outcome), e.Outcome)
				p.cell("muted", e.Error)
				p.raw("</tr>")
			}
			p.raw(`</tbody></table>`)
		}
		p.raw(`</section></main><script src="/static/app.js"></script></body></html>`)
		return p.err
	})
}

// MachinesFragment renders the machines table. Ages are measured against now.
func MachinesFragment(rows []MachineRow, now time.Time) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		p := &page{w: w}
		if len(rows) == 0 {
			p.raw(`<p class="muted">No machines have reported yet.</p>`)
			return p.err
		}
		p.raw(`<table><thead><tr><th>Machine</th><th>Hostname</th><th>Last seen</th><th>Disks</th><th>Failed</th><th>State</th></tr></thead><tbody>`)
		for _, r := range rows {
			p.raw("<tr>")
			p.cell("", r.ID)
			p.cell("muted", r.Hostname)
			p.cell("", FormatAge(r.LastSeen, now))
			p.cell("", strconv.Itoa(r.DiskCount))
			failedClass := ""
			if r.Failed > 0 {
				failedClass = "status-critical"
			}
			p.cell(failedClass, strconv.Itoa(r.Failed))
			state := "fresh"
			if r.Stale {
				state = "stale"
			}
			p.cell(StaleClass(r.Stale), state)
			p.raw("</tr>")
		}
		p.raw(`</tbody></table>`)
		return p.err
	})
}

// DisksFragment renders the disk health table.
func DisksFragment(disks []model.DiskView) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		p := &page{w: w}
		if len(disks) == 0 {
			p.raw(`<p class="muted">No disk reports yet.</p>`)
			return p.err
		}
		p.raw(`<table><thead><tr><th>Machine</th><th>Device</th><th>Model</th><th>Serial</th><th>Temp</th><th>Hours</th><th>Wear</th><th>Health</th></tr></thead><tbody>`)
		for _, d := range disks {
			p.rawf(`<tr id="%s">`, templ.EscapeString(DeviceAnchor(d.MachineID, d.Device)))
			p.cell("", d.MachineID)
			p.cell("", d.Device)
			p.cell("", d.Health.Model)
			p.cell("muted", d.Health.Serial)
			p.cell("", TempDisplay(d.Health.Temperature))
			p.cell("", HoursDisplay(d.Health.PowerOnHours))
			p.cell("", WearoutDisplay(d.Health.Wearout))
			p.cell(DiskStatusClass(d.Health.Status), HealthLabel(d.Health))
			p.raw("</tr>")
		}
		p.raw(`</tbody></table>`)
		return p.err
	})
}

// DiskDetail renders the SMART attributes and raw payload of one disk.
func DiskDetail(d model.DiskView) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		p := &page{w: w}
		p.raw(`<div class="disk-detail"><h3>`)
		p.text(d.MachineID + " " + d.Device)
		p.rawf(` <span class="%s">`, DiskStatusClass(d.Health.Status))
		p.text(HealthLabel(d.Health))
		p.raw(`</span></h3>`)

		if len(d.Health.Attributes) > 0 {
			p.raw(`<table><thead><tr><th>ID</th><th>Attribute</th><th>Value</th><th>Worst</th><th>Thresh</th><th>Raw</th><th>Failure rate</th></tr></thead><tbody>`)
			for _, a := range d.Health.Attributes {
				p.rawf(`<tr class="%s">`, DiskStatusClass(a.Status))
				p.cell("", strconv.Itoa(a.ID))
				p.cell("", a.Name)
				p.cell("", strconv.FormatInt(a.Value, 10))
				p.cell("", strconv.FormatInt(a.Worst, 10))
				p.cell("", strconv.FormatInt(a.Threshold, 10))
				raw := a.RawString
				if raw == "" {
					raw = strconv.FormatInt(a.RawValue, 10)
				}
				p.cell("", raw)
				p.cell("", FailureRateDisplay(a.FailureRate))
				p.raw("</tr>")
			}
			p.raw(`</tbody></table>`)
		}

		if len(d.Payload) > 0 {
			p.raw(`<details><summary>Payload (`)
			p.text(FormatBytes(int64(len(d.Payload))))
			p.raw(`)</summary><pre>`)
			p.text(indentJSON(d.Payload))
			p.raw(`</pre></details>`)
		}
		p.raw(`</div>`)
		return p.err
	})
}

func indentJSON(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(raw)
	}
	return string(out)
}
