// Package inbox drains report files from the drop directory into the
// inventory and persists the result once per batch.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/darshan-rambhia/diskmon/internal/inventory"
	"github.com/darshan-rambhia/diskmon/internal/metrics"
	"github.com/darshan-rambhia/diskmon/internal/model"
	"github.com/darshan-rambhia/diskmon/internal/report"
	"github.com/google/uuid"
)

// ErrTooLarge is recorded for report files above Config.MaxReportBytes.
var ErrTooLarge = errors.New("report too large")

// ErrNotRegular is recorded for entries that do not resolve to a regular file.
var ErrNotRegular = errors.New("not a regular file")

// Config controls the drop directory and loop timing.
type Config struct {
	Dir            string
	Pattern        string
	PollInterval   time.Duration
	ErrorCooldown  time.Duration
	Watch          bool
	MaxReportBytes int64
}

// DefaultConfig returns the defaults used when a field is left zero.
func DefaultConfig() Config {
	return Config{
		Dir:            "/app/inbox",
		Pattern:        "*.json",
		PollInterval:   2 * time.Second,
		ErrorCooldown:  30 * time.Second,
		Watch:          true,
		MaxReportBytes: 1 << 20,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Pattern == "" {
		c.Pattern = d.Pattern
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.ErrorCooldown <= 0 {
		c.ErrorCooldown = d.ErrorCooldown
	}
	if c.MaxReportBytes <= 0 {
		c.MaxReportBytes = d.MaxReportBytes
	}
	return c
}

// Saver persists the whole inventory.
type Saver interface {
	Save(machines map[string]*model.MachineRecord) error
}

// Recorder stores the outcome of every handled file.
type Recorder interface {
	Record(events []model.IngestEvent) error
}

// BatchResult summarizes one Poll.
type BatchResult struct {
	ID             string
	Handled        int
	Merged         int
	Activity       int
	Rejected       int
	RemoveFailures int
}

// Poller is the only writer of the inventory.
type Poller struct {
	cfg      Config
	inv      *inventory.Inventory
	saver    Saver
	recorder Recorder
	metrics  *metrics.Metrics
	now      func() time.Time
}

// New creates a poller. recorder and m may be nil.
func New(cfg Config, inv *inventory.Inventory, saver Saver, recorder Recorder, m *metrics.Metrics) *Poller {
	return &Poller{
		cfg:      cfg.withDefaults(),
		inv:      inv,
		saver:    saver,
		recorder: recorder,
		metrics:  m,
		now:      time.Now,
	}
}

// pending is one file read ahead of the merge.
type pending struct {
	name   string
	path   string
	data   []byte
	report model.Report
	err    error
}

// Poll runs one Scanning, Draining, Persisting cycle. Per-file failures are
// recorded and never returned; only a listing failure is.
func (p *Poller) Poll(ctx context.Context) (BatchResult, error) {
	var res BatchResult

	names, err := p.list()
	if err != nil {
		return res, err
	}
	if len(names) == 0 {
		return res, nil
	}

	start := p.now()
	res.ID = uuid.NewString()

	batch := make([]pending, 0, len(names))
	for _, name := range names {
		if ctx.Err() != nil {
			break
		}
		item, ok := p.read(name)
		if !ok {
			continue
		}
		batch = append(batch, item)
	}
	if len(batch) == 0 {
		return res, nil
	}

	changed := false
	p.inv.Batch(func(b *inventory.Batch) {
		for i := range batch {
			if batch[i].err != nil {
				continue
			}
			if b.Merge(batch[i].report) {
				changed = true
			}
		}
	})

	events := make([]model.IngestEvent, 0, len(batch))
	for _, item := range batch {
		ev := p.event(res.ID, item)
		events = append(events, ev)
		p.metrics.ObserveReport(ev.Outcome)

		switch ev.Outcome {
		case model.OutcomeMerged:
			res.Merged++
		case model.OutcomeActivity:
			res.Activity++
		default:
			res.Rejected++
			slog.Warn("discarding report", "file", item.name, "error", item.err, "batch", res.ID)
		}

		if err := os.Remove(item.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			res.RemoveFailures++
			slog.Error("removing report", "file", item.name, "error", err)
		}
		res.Handled++
	}

	if p.recorder != nil {
		if err := p.recorder.Record(events); err != nil {
			slog.Error("recording ingest events", "batch", res.ID, "error", err)
		}
	}

	if changed {
		if err := p.saver.Save(p.inv.Snapshot().Machines); err != nil {
			p.metrics.SaveFailed()
			slog.Error("saving state", "batch", res.ID, "error", err)
		}
	}

	p.metrics.SetMachines(p.inv.Len())
	p.metrics.ObserveBatch(p.now().Sub(start))
	slog.Info("batch processed",
		"batch", res.ID,
		"files", res.Handled,
		"merged", res.Merged,
		"activity", res.Activity,
		"rejected", res.Rejected,
	)
	return res, nil
}

// list returns the names of pending report files in ascending order.
func (p *Poller) list() ([]string, error) {
	entries, err := os.ReadDir(p.cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("listing inbox %s: %w", p.cfg.Dir, err)
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		// Dotfiles are in-flight writes. Symlinks and other non-directory
		// entries are candidates; read rejects what cannot be a report.
		if strings.HasPrefix(name, ".") || e.IsDir() {
			continue
		}
		if ok, _ := filepath.Match(p.cfg.Pattern, name); ok {
			names = append(names, name)
		}
	}
	// os.ReadDir already sorts by filename.
	return names, nil
}

// read loads and parses one file. It returns false when the entry vanished
// before it could be opened. The raw bytes are kept only for rejected files.
func (p *Poller) read(name string) (pending, bool) {
	item := pending{name: name, path: filepath.Join(p.cfg.Dir, name)}

	lfi, err := os.Lstat(item.path)
	if errors.Is(err, os.ErrNotExist) {
		return item, false
	}
	// Stat follows symlinks; a dangling link or a FIFO is rejected here so
	// that it is removed instead of blocking Open or lingering forever.
	fi, err := os.Stat(item.path)
	if errors.Is(err, os.ErrNotExist) && lfi != nil && lfi.Mode()&os.ModeSymlink == 0 {
		return item, false
	}
	if err != nil {
		item.err = fmt.Errorf("resolving report: %w", err)
		return item, true
	}
	if !fi.Mode().IsRegular() {
		item.err = fmt.Errorf("%w: %s", ErrNotRegular, fi.Mode().Type())
		return item, true
	}

	f, err := os.Open(item.path)
	if errors.Is(err, os.ErrNotExist) {
		return item, false
	}
	if err != nil {
		item.err = fmt.Errorf("opening report: %w", err)
		return item, true
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, p.cfg.MaxReportBytes+1))
	if err != nil {
		item.err = fmt.Errorf("reading report: %w", err)
		return item, true
	}
	item.data = data
	if int64(len(data)) > p.cfg.MaxReportBytes {
		item.err = fmt.Errorf("%w: over %d bytes", ErrTooLarge, p.cfg.MaxReportBytes)
		return item, true
	}

	item.report, item.err = report.Parse(data)
	if item.err == nil {
		item.data = nil
	}
	return item, true
}

func (p *Poller) event(batchID string, item pending) model.IngestEvent {
	ev := model.IngestEvent{
		Timestamp:  p.now().Unix(),
		BatchID:    batchID,
		File:       item.name,
		MachineID:  item.report.MachineID,
		ReportType: string(item.report.Type),
		Device:     item.report.Device,
	}
	switch {
	case item.err != nil:
		ev.Outcome = model.OutcomeRejected
		ev.Error = item.err.Error()
		ev.Payload = item.data
	case item.report.ActivityOnly():
		ev.Outcome = model.OutcomeActivity
	default:
		ev.Outcome = model.OutcomeMerged
	}
	return ev
}

// Run polls until ctx is cancelled. Listing errors and panics pause the loop
// for ErrorCooldown; an empty scan waits PollInterval, or less when a watched
// directory event arrives first.
func (p *Poller) Run(ctx context.Context) error {
	slog.Info("inbox poller started",
		"dir", p.cfg.Dir,
		"pattern", p.cfg.Pattern,
		"interval", p.cfg.PollInterval,
		"watch", p.cfg.Watch,
	)

	if err := os.MkdirAll(p.cfg.Dir, 0o755); err != nil {
		slog.Error("creating inbox", "dir", p.cfg.Dir, "error", err)
	}

	var wake <-chan struct{}
	if p.cfg.Watch {
		w, err := watch(ctx, p.cfg.Dir, p.cfg.Pattern)
		if err != nil {
			slog.Warn("inbox watch unavailable, polling only", "dir", p.cfg.Dir, "error", err)
		} else {
			wake = w
		}
	}

	for {
		res, err := p.safePoll(ctx)

		var wait time.Duration
		var wakeCh <-chan struct{}
		switch {
		case err != nil:
			p.metrics.InboxError()
			slog.Error("inbox poll failed", "error", err, "cooldown", p.cfg.ErrorCooldown)
			wait = p.cfg.ErrorCooldown
		case res.Handled == 0 || res.RemoveFailures > 0:
			wait = p.cfg.PollInterval
			wakeCh = wake
		}

		if err := sleep(ctx, wait, wakeCh); err != nil {
			slog.Info("inbox poller stopped")
			return err
		}
	}
}

func (p *Poller) safePoll(ctx context.Context) (res BatchResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in poll cycle: %v", r)
		}
	}()
	return p.Poll(ctx)
}

// sleep waits for d, a value on wake, or ctx cancellation. A zero d only
// checks ctx.
func sleep(ctx context.Context, d time.Duration, wake <-chan struct{}) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
	case <-wake:
	}
	return nil
}
