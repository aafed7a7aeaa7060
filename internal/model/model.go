// Package model defines all shared domain types for diskmon.
package model

import (
	"encoding/json"
	"strconv"
	"time"
)

// ReportType discriminates what a report describes.
type ReportType string

const (
	ReportDisk       ReportType = "disk"
	ReportSystemInfo ReportType = "system_info"
)

// LastSeenKey is the info field holding the epoch seconds of the most recent
// accepted report for a machine.
const LastSeenKey = "lastSeen"

// Report is one decoded report file.
type Report struct {
	MachineID string
	Type      ReportType
	Device    string          // disk reports only
	Payload   json.RawMessage // disk reports only, opaque
	Info      map[string]any  // system_info reports only
}

// ActivityOnly reports whether r carries a type this server does not know.
// Such reports only refresh lastSeen.
func (r Report) ActivityOnly() bool {
	return r.Type != ReportDisk && r.Type != ReportSystemInfo
}

// MachineRecord is the consolidated state of one machine.
type MachineRecord struct {
	MachineID string                     `json:"machine_id"`
	Info      map[string]any             `json:"info"`
	Disks     map[string]json.RawMessage `json:"disks"`
}

// NewMachineRecord returns an empty record for id.
func NewMachineRecord(id string) *MachineRecord {
	return &MachineRecord{
		MachineID: id,
		Info:      make(map[string]any),
		Disks:     make(map[string]json.RawMessage),
	}
}

// LastSeen returns info.lastSeen as epoch seconds, or 0 if absent.
// Records decoded from disk carry json.Number or float64 rather than int64.
func (m *MachineRecord) LastSeen() int64 {
	switch v := m.Info[LastSeenKey].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
		if f, err := v.Float64(); err == nil {
			return int64(f)
		}
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return 0
}

// Clone returns a deep copy of m.
func (m *MachineRecord) Clone() *MachineRecord {
	cp := &MachineRecord{
		MachineID: m.MachineID,
		Info:      make(map[string]any, len(m.Info)),
		Disks:     make(map[string]json.RawMessage, len(m.Disks)),
	}
	for k, v := range m.Info {
		cp.Info[k] = cloneValue(v)
	}
	for dev, payload := range m.Disks {
		cp.Disks[dev] = append(json.RawMessage(nil), payload...)
	}
	return cp
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = cloneValue(e)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = cloneValue(e)
		}
		return s
	default:
		return v
	}
}

// Snapshot is an independent copy of the whole consolidated store.
type Snapshot struct {
	Machines map[string]*MachineRecord `json:"machines"`
}

// Ingest outcomes recorded for every handled report file.
const (
	OutcomeMerged   = "merged"
	OutcomeActivity = "activity"
	OutcomeRejected = "rejected"
)

// IngestEvent records what happened to one report file.
type IngestEvent struct {
	ID         int64  `json:"id,omitempty"`
	Timestamp  int64  `json:"ts"`
	BatchID    string `json:"batch_id"`
	File       string `json:"file"`
	MachineID  string `json:"machine_id,omitempty"`
	ReportType string `json:"report_type,omitempty"`
	Device     string `json:"device,omitempty"`
	Outcome    string `json:"outcome"`
	Error      string `json:"error,omitempty"`
	Payload    []byte `json:"-"` // kept for rejected reports only
}

// AlertEntry is one row of the alert log.
type AlertEntry struct {
	ID        int64  `json:"id"`
	Timestamp int64  `json:"ts"`
	AlertType string `json:"alert_type"`
	Subject   string `json:"subject"`
	Message   string `json:"message"`
	Severity  string `json:"severity"`
}

// SMART status bitfield values.
const (
	StatusPassed         = 0
	StatusFailedSmart    = 1
	StatusWarnScrutiny   = 2
	StatusFailedScrutiny = 4
	StatusUnknown        = 8
	StatusInternalError  = 16
)

// SMARTAttribute represents a single SMART attribute.
type SMARTAttribute struct {
	ID          int      `json:"id"`
	Name        string   `json:"name"`
	Value       int64    `json:"value"`
	Worst       int64    `json:"worst"`
	Threshold   int64    `json:"threshold"`
	RawValue    int64    `json:"raw_value"`
	RawString   string   `json:"raw_string"`
	Status      int      `json:"status"`
	FailureRate *float64 `json:"failure_rate,omitempty"`
}

// DiskHealth is the health view derived from a stored disk payload.
type DiskHealth struct {
	Protocol     string           `json:"protocol,omitempty"` // "ata", "nvme", "scsi"
	Model        string           `json:"model,omitempty"`
	Serial       string           `json:"serial,omitempty"`
	Health       string           `json:"health"` // "PASSED", "FAILED", "UNKNOWN"
	Status       int              `json:"status"` // bitfield
	Temperature  *int             `json:"temperature,omitempty"`
	PowerOnHours *int             `json:"power_on_hours,omitempty"`
	Wearout      *int             `json:"wearout,omitempty"`
	Attributes   []SMARTAttribute `json:"attributes,omitempty"`
}

// DiskView pairs a stored disk payload with its machine and derived health.
type DiskView struct {
	MachineID string          `json:"machine_id"`
	Device    string          `json:"device"`
	LastSeen  int64           `json:"last_seen"`
	Health    DiskHealth      `json:"health"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Notification represents a structured alert message.
type Notification struct {
	AlertType string            `json:"alert_type"`
	Severity  string            `json:"severity"` // "info", "warning", "critical"
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Subject   string            `json:"subject"`
	Timestamp time.Time         `json:"timestamp"`
	Resolved  bool              `json:"resolved"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}
