// Package api provides the HTTP query and upload surface of diskmon.
package api

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/a-h/templ"
	"github.com/darshan-rambhia/diskmon/internal/inventory"
	"github.com/darshan-rambhia/diskmon/internal/model"
	"github.com/darshan-rambhia/diskmon/internal/persist"
	"github.com/darshan-rambhia/diskmon/internal/report"
	"github.com/darshan-rambhia/diskmon/internal/smart"
	"github.com/darshan-rambhia/diskmon/templates"
	"github.com/google/uuid"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "github.com/darshan-rambhia/diskmon/docs/swagger"
)

const (
	defaultIngestLimit = 50
	maxIngestLimit     = 500
	dashboardRows      = 20
)

// Journal is the read side of the ingest journal.
type Journal interface {
	Recent(limit int) ([]model.IngestEvent, error)
	RecentAlerts(limit int) ([]model.AlertEntry, error)
}

// Options wires the optional collaborators of a Server.
type Options struct {
	Journal Journal      // nil disables /api/ingest and /api/alerts content
	Metrics http.Handler // nil leaves /metrics unregistered

	// Upload writes accepted bodies into UploadDir. An empty APIKey
	// disables POST /api/upload.
	UploadDir      string
	APIKey         string
	MaxUploadBytes int64

	StaleAfter time.Duration
}

// Server is the HTTP server for diskmon. It only reads the inventory; uploads
// are dropped into the inbox for the poller to merge.
type Server struct {
	inv    *inventory.Inventory
	opts   Options
	now    func() time.Time
	mux    *http.ServeMux
	server *http.Server
}

// NewServer creates a new HTTP server.
func NewServer(addr string, inv *inventory.Inventory, opts Options) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 1 << 20
	}
	srv := &Server{
		inv:  inv,
		opts: opts,
		now:  time.Now,
		mux:  http.NewServeMux(),
	}

	srv.registerRoutes()

	srv.server = &http.Server{
		Addr:         addr,
		Handler:      SecurityHeadersMiddleware(RecoveryMiddleware(LoggingMiddleware(srv.mux))),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return srv
}

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	slog.Info("HTTP server starting", "addr", s.server.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		slog.Info("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) registerRoutes() {
	s.mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(templates.Static())))

	// Full page
	s.mux.HandleFunc("GET /", s.handleDashboard)

	// Fragments refreshed by app.js
	s.mux.HandleFunc("GET /fragments/disks", s.handleDisksFragment)
	s.mux.HandleFunc("GET /fragments/disk/{id}/{device...}", s.handleDiskDetailFragment)

	// API endpoints (JSON)
	s.mux.HandleFunc("GET /api/machines", s.handleMachines)
	s.mux.HandleFunc("GET /api/machines/{id}", s.handleMachine)
	s.mux.HandleFunc("GET /api/machines/{id}/disks/{device...}", s.handleDisk)
	s.mux.HandleFunc("GET /api/disks", s.handleDisks)
	s.mux.HandleFunc("GET /api/ingest", s.handleIngest)
	s.mux.HandleFunc("GET /api/alerts", s.handleAlerts)
	s.mux.HandleFunc("GET /api/widget", s.handleWidget)
	s.mux.HandleFunc("POST /api/upload", s.handleUpload)

	s.mux.HandleFunc("GET /healthz", s.handleHealthz)

	if s.opts.Metrics != nil {
		s.mux.Handle("GET /metrics", s.opts.Metrics)
	}

	s.mux.Handle("GET /swagger/", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))
}

// renderHTML renders a templ component to a buffer first, then writes the
// buffer to the response. This ensures rendering errors can be returned as a
// proper 500 before any bytes reach the client.
func renderHTML(w http.ResponseWriter, r *http.Request, component templ.Component) {
	var buf bytes.Buffer
	if err := component.Render(r.Context(), &buf); err != nil {
		slog.Error("rendering component", "path", r.URL.Path, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := buf.WriteTo(w); err != nil {
		// Client disconnected after headers sent.
		slog.Debug("writing HTML response", "path", r.URL.Path, "error", err)
	}
}

// writeJSON marshals v to JSON into a buffer first, then writes it to the
// response. This ensures marshalling errors can be returned as a proper 500.
func writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	writeJSONStatus(w, r, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, r *http.Request, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("encoding JSON response", "path", r.URL.Path, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		slog.Debug("writing JSON response", "path", r.URL.Path, "error", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSONStatus(w, r, status, errorResponse{Error: msg})
}

func (s *Server) recentEvents(limit int) []model.IngestEvent {
	if s.opts.Journal == nil {
		return nil
	}
	events, err := s.opts.Journal.Recent(limit)
	if err != nil {
		slog.Error("querying ingest journal", "error", err)
		return nil
	}
	return events
}

func (s *Server) recentAlerts(limit int) []model.AlertEntry {
	if s.opts.Journal == nil {
		return nil
	}
	alerts, err := s.opts.Journal.RecentAlerts(limit)
	if err != nil {
		slog.Error("querying alert log", "error", err)
		return nil
	}
	return alerts
}

// @Summary Dashboard page
// @Description Full HTML dashboard page
// @Produce html
// @Success 200 {string} string "HTML page"
// @Router / [get]
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	now := s.now()
	machines := s.inv.Snapshot().Machines
	renderHTML(w, r, templates.Dashboard(templates.DashboardData{
		Machines:    templates.MachineRows(machines, s.opts.StaleAfter, now),
		Disks:       templates.DiskViews(machines, false),
		Events:      s.recentEvents(dashboardRows),
		Alerts:      s.recentAlerts(dashboardRows),
		GeneratedAt: now,
	}))
}

// @Summary Disk health fragment
// @Description Returns HTML fragment of the disk health table
// @Produce html
// @Success 200 {string} string "HTML fragment"
// @Router /fragments/disks [get]
func (s *Server) handleDisksFragment(w http.ResponseWriter, r *http.Request) {
	renderHTML(w, r, templates.DisksFragment(templates.DiskViews(s.inv.Snapshot().Machines, false)))
}

// @Summary Disk detail fragment
// @Description Returns HTML fragment with SMART details and the stored payload of one disk
// @Produce html
// @Param id path string true "Machine id"
// @Param device path string true "Device id"
// @Success 200 {string} string "HTML fragment"
// @Failure 404 {string} string "Disk not found"
// @Router /fragments/disk/{id}/{device} [get]
func (s *Server) handleDiskDetailFragment(w http.ResponseWriter, r *http.Request) {
	view, ok := s.diskView(r.PathValue("id"), r.PathValue("device"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	renderHTML(w, r, templates.DiskDetail(view))
}

func (s *Server) diskView(id, device string) (model.DiskView, bool) {
	m, ok := s.inv.Machine(id)
	if !ok {
		return model.DiskView{}, false
	}
	payload, ok := m.Disks[device]
	if !ok {
		return model.DiskView{}, false
	}
	return model.DiskView{
		MachineID: id,
		Device:    device,
		LastSeen:  m.LastSeen(),
		Health:    smart.Evaluate(payload),
		Payload:   payload,
	}, true
}

type machinesResponse struct {
	Machines map[string]*model.MachineRecord `json:"machines"`
	Stale    []string                        `json:"stale"`
}

// @Summary All machines
// @Description Returns the consolidated store and the ids of machines that have stopped reporting
// @Produce json
// @Success 200 {object} machinesResponse
// @Router /api/machines [get]
func (s *Server) handleMachines(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	machines := s.inv.Snapshot().Machines
	stale := make([]string, 0)
	for id, m := range machines {
		if templates.IsStale(m.LastSeen(), s.opts.StaleAfter, now) {
			stale = append(stale, id)
		}
	}
	sort.Strings(stale)
	writeJSON(w, r, machinesResponse{Machines: machines, Stale: stale})
}

type machineResponse struct {
	*model.MachineRecord
	Stale bool `json:"stale"`
}

// @Summary One machine
// @Description Returns the consolidated record of one machine
// @Produce json
// @Param id path string true "Machine id"
// @Success 200 {object} machineResponse
// @Failure 404 {object} errorResponse
// @Router /api/machines/{id} [get]
func (s *Server) handleMachine(w http.ResponseWriter, r *http.Request) {
	m, ok := s.inv.Machine(r.PathValue("id"))
	if !ok {
		writeError(w, r, http.StatusNotFound, "machine not found")
		return
	}
	writeJSON(w, r, machineResponse{
		MachineRecord: m,
		Stale:         templates.IsStale(m.LastSeen(), s.opts.StaleAfter, s.now()),
	})
}

// @Summary One disk
// @Description Returns the stored payload of one disk with its evaluated health
// @Produce json
// @Param id path string true "Machine id"
// @Param device path string true "Device id"
// @Success 200 {object} model.DiskView
// @Failure 404 {object} errorResponse
// @Router /api/machines/{id}/disks/{device} [get]
func (s *Server) handleDisk(w http.ResponseWriter, r *http.Request) {
	view, ok := s.diskView(r.PathValue("id"), r.PathValue("device"))
	if !ok {
		writeError(w, r, http.StatusNotFound, "disk not found")
		return
	}
	writeJSON(w, r, view)
}

// @Summary Disk list
// @Description Returns every stored disk with its evaluated health, without payloads
// @Produce json
// @Success 200 {array} model.DiskView
// @Router /api/disks [get]
func (s *Server) handleDisks(w http.ResponseWriter, r *http.Request) {
	views := templates.DiskViews(s.inv.Snapshot().Machines, false)
	if views == nil {
		views = []model.DiskView{}
	}
	writeJSON(w, r, views)
}

// @Summary Ingest journal
// @Description Returns the most recent handled report files, newest first
// @Produce json
// @Param limit query int false "Number of events (1-500)" default(50)
// @Success 200 {array} model.IngestEvent
// @Router /api/ingest [get]
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	limit := defaultIngestLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= maxIngestLimit {
			limit = v
		}
	}
	events := s.recentEvents(limit)
	if events == nil {
		events = []model.IngestEvent{}
	}
	writeJSON(w, r, events)
}

// @Summary Alert log
// @Description Returns the most recent alerts, newest first
// @Produce json
// @Success 200 {array} model.AlertEntry
// @Router /api/alerts [get]
func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	alerts := s.recentAlerts(defaultIngestLimit)
	if alerts == nil {
		alerts = []model.AlertEntry{}
	}
	writeJSON(w, r, alerts)
}

// widgetResponse is the response body for GET /api/widget.
type widgetResponse struct {
	Machines   widgetMachineStats `json:"machines"`
	Disks      widgetDiskStats    `json:"disks"`
	LastReport int64              `json:"last_report"`
}

type widgetMachineStats struct {
	Total int `json:"total"`
	Stale int `json:"stale"`
}

type widgetDiskStats struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Warning int `json:"warning"`
	Unknown int `json:"unknown"`
}

// @Summary Dashboard widget data
// @Description Returns summary counts for homepage-style dashboard widgets (Homepage, Glance, Dashy, etc.)
// @Produce json
// @Success 200 {object} widgetResponse
// @Router /api/widget [get]
func (s *Server) handleWidget(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	machines := s.inv.Snapshot().Machines
	var resp widgetResponse

	for _, m := range machines {
		resp.Machines.Total++
		last := m.LastSeen()
		if templates.IsStale(last, s.opts.StaleAfter, now) {
			resp.Machines.Stale++
		}
		if last > resp.LastReport {
			resp.LastReport = last
		}
	}

	disks := templates.DiskViews(machines, false)
	resp.Disks.Total = len(disks)
	resp.Disks.Passed, resp.Disks.Warning, resp.Disks.Failed, resp.Disks.Unknown = templates.CountDisks(disks)

	writeJSON(w, r, resp)
}

type uploadResponse struct {
	Status string `json:"status"`
	File   string `json:"file"`
}

// @Summary Upload a report
// @Description Accepts one JSON report and drops it into the inbox for the poller
// @Accept json
// @Produce json
// @Param X-API-Key header string true "Upload key"
// @Success 202 {object} uploadResponse
// @Failure 400 {object} errorResponse
// @Failure 403 {object} errorResponse
// @Failure 413 {object} errorResponse
// @Router /api/upload [post]
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.opts.APIKey == "" {
		http.NotFound(w, r)
		return
	}
	key := r.Header.Get("X-API-Key")
	if subtle.ConstantTimeCompare([]byte(key), []byte(s.opts.APIKey)) != 1 {
		writeError(w, r, http.StatusForbidden, "Unauthorized")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "report too large")
			return
		}
		writeError(w, r, http.StatusBadRequest, "reading body")
		return
	}

	// Same checks the poller applies, so a bad report fails here and not
	// only in the ingest journal.
	if _, err := report.Parse(body); err != nil {
		msg := err.Error()
		if errors.Is(err, report.ErrMalformedPayload) {
			msg = "Invalid JSON"
		}
		writeError(w, r, http.StatusBadRequest, msg)
		return
	}

	name := strconv.FormatInt(s.now().UnixNano(), 10) + "-upload-" + uuid.NewString() + ".json"
	if err := persist.WriteFileAtomic(filepath.Join(s.opts.UploadDir, name), body, 0o644); err != nil {
		slog.Error("writing uploaded report", "file", name, "error", err)
		writeError(w, r, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	slog.Info("report uploaded", "file", name, "bytes", len(body), "remote", r.RemoteAddr)
	writeJSONStatus(w, r, http.StatusAccepted, uploadResponse{Status: "accepted", File: name})
}

// @Summary Health check
// @Description Returns a fixed liveness response
// @Produce json
// @Success 200 {object} map[string]string "Health status"
// @Router /healthz [get]
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, map[string]string{"status": "ok"})
}
