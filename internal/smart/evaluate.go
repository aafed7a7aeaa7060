// Package smart derives a health view from stored disk payloads. Payloads are
// smartctl --json output or simple {"temp": N, "health": "..."} objects;
// evaluation never modifies them.
package smart

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/darshan-rambhia/diskmon/internal/model"
)

// Health values.
const (
	HealthPassed  = "PASSED"
	HealthFailed  = "FAILED"
	HealthUnknown = "UNKNOWN"
)

// Protocols.
const (
	ProtocolATA  = "ata"
	ProtocolNVMe = "nvme"
	ProtocolSCSI = "scsi"
)

const failedMask = model.StatusFailedSmart | model.StatusFailedScrutiny

// EvaluateAttribute assesses a single attribute for the given protocol and
// sets its Status (and FailureRate for ATA). It returns the status bit.
func EvaluateAttribute(attr *model.SMARTAttribute, protocol string) int {
	var status int
	switch protocol {
	case ProtocolNVMe:
		status = evaluateNVMe(*attr)
	case ProtocolSCSI:
		status = evaluateSCSI(*attr)
	default:
		status = evaluateATA(attr)
	}
	attr.Status = status
	return status
}

// EvaluateAttributes evaluates every attribute and returns the bitwise OR.
func EvaluateAttributes(attrs []model.SMARTAttribute, protocol string) int {
	status := model.StatusPassed
	for i := range attrs {
		status |= EvaluateAttribute(&attrs[i], protocol)
	}
	return status
}

// Evaluate derives the health of one stored disk payload. Payloads it cannot
// interpret come back as HealthUnknown with StatusUnknown.
func Evaluate(payload json.RawMessage) model.DiskHealth {
	h := model.DiskHealth{Health: HealthUnknown, Status: model.StatusUnknown}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil || fields == nil {
		return h
	}

	h.Model = stringValue(fields["model_name"])
	h.Serial = stringValue(fields["serial_number"])
	h.Protocol = strings.ToLower(stringValue(field(fields["device"], "protocol")))

	if t, ok := temperature(fields); ok {
		h.Temperature = &t
	}
	if hours, ok := powerOnHours(fields); ok {
		h.PowerOnHours = &hours
	}

	known := false
	status := model.StatusPassed

	if raw, ok := fields["ata_smart_attributes"]; ok {
		var ata struct {
			Table json.RawMessage `json:"table"`
		}
		if json.Unmarshal(raw, &ata) == nil && ata.Table != nil {
			if attrs, err := ParseATATable(ata.Table); err == nil && len(attrs) > 0 {
				h.Protocol = ProtocolATA
				h.Attributes = attrs
			}
		}
	}
	if h.Attributes == nil {
		if raw, ok := fields["nvme_smart_health_information_log"]; ok {
			if attrs, err := ParseNVMeLog(raw); err == nil {
				h.Protocol = ProtocolNVMe
				h.Attributes = attrs
			}
		}
	}
	if h.Attributes == nil {
		if attrs := ParseSCSI(fields); len(attrs) > 0 {
			h.Protocol = ProtocolSCSI
			h.Attributes = attrs
		}
	}

	if len(h.Attributes) > 0 {
		known = true
		status |= EvaluateAttributes(h.Attributes, h.Protocol)
		fillFromAttributes(&h)
	}

	if passed, ok := smartPassed(fields); ok {
		known = true
		if !passed {
			status |= model.StatusFailedSmart
		}
	} else if s := strings.ToUpper(stringValue(fields["health"])); s != "" {
		known = true
		switch s {
		case HealthPassed, "OK", "GOOD":
		default:
			status |= model.StatusFailedSmart
		}
	}

	if !known {
		return h
	}
	h.Status = status
	h.Health = HealthPassed
	if status&failedMask != 0 {
		h.Health = HealthFailed
	}
	return h
}

// fillFromAttributes sets readings that only the attribute table carries.
func fillFromAttributes(h *model.DiskHealth) {
	var temp, hours int64 = -1, -1
	var wear int
	var hasWear bool
	switch h.Protocol {
	case ProtocolATA:
		temp = attrRaw(h.Attributes, ATATemperature)
		hours = attrRaw(h.Attributes, ATAPowerOnHours)
		wear, hasWear = ataWearout(h.Attributes)
	case ProtocolNVMe:
		temp = attrRaw(h.Attributes, NVMeTemperature)
		hours = attrRaw(h.Attributes, NVMePowerOnHours)
		wear, hasWear = nvmeWearout(h.Attributes)
	}
	if h.Temperature == nil && temp >= 0 {
		t := int(temp)
		h.Temperature = &t
	}
	if h.PowerOnHours == nil && hours >= 0 {
		p := int(hours)
		h.PowerOnHours = &p
	}
	if hasWear {
		h.Wearout = &wear
	}
}

func attrRaw(attrs []model.SMARTAttribute, id int) int64 {
	for _, a := range attrs {
		if a.ID == id {
			return a.RawValue
		}
	}
	return -1
}

// temperature reads smartctl's {"temperature":{"current":N}} or a plain
// "temperature"/"temp" number.
func temperature(fields map[string]json.RawMessage) (int, bool) {
	if raw, ok := fields["temperature"]; ok {
		if v, ok := intValue(raw); ok {
			return int(v), true
		}
		if v, ok := intValue(field(raw, "current")); ok {
			return int(v), true
		}
	}
	if v, ok := intValue(fields["temp"]); ok {
		return int(v), true
	}
	return 0, false
}

func powerOnHours(fields map[string]json.RawMessage) (int, bool) {
	if v, ok := intValue(field(fields["power_on_time"], "hours")); ok {
		return int(v), true
	}
	if v, ok := intValue(fields["power_on_hours"]); ok {
		return int(v), true
	}
	return 0, false
}

func smartPassed(fields map[string]json.RawMessage) (bool, bool) {
	var st struct {
		Passed *bool `json:"passed"`
	}
	raw, ok := fields["smart_status"]
	if !ok || json.Unmarshal(raw, &st) != nil || st.Passed == nil {
		return false, false
	}
	return *st.Passed, true
}

// field returns key from raw when raw is a JSON object.
func field(raw json.RawMessage, key string) json.RawMessage {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil
	}
	return obj[key]
}

func stringValue(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// intValue reads an integral JSON number, truncating fractions.
func intValue(raw json.RawMessage) (int64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || (raw[0] != '-' && (raw[0] < '0' || raw[0] > '9')) {
		return 0, false
	}
	if n, err := strconv.ParseInt(string(raw), 10, 64); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(string(raw), 64)
	if err != nil || f > 9.2e18 || f < -9.2e18 {
		return 0, false
	}
	return int64(f), true
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}
