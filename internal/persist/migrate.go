package persist

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// CurrentVersion is written into every saved document.
const CurrentVersion = 2

// ErrUnrecognizedLayout is returned when no migration step matches a document.
var ErrUnrecognizedLayout = errors.New("unrecognized state layout")

type document map[string]json.RawMessage

// migration recognizes one historical layout by shape and rewrites it into
// the next newer one.
type migration struct {
	name    string
	matches func(document) bool
	apply   func(document) (document, error)
}

// migrations is ordered most specific first: a {logs, disks} document would
// also pass as a flat map of objects.
var migrations = []migration{
	{name: "logs-disks", matches: isLogsDisksLayout, apply: fromLogsDisks},
	{name: "flat-disks", matches: isFlatLayout, apply: fromFlat},
}

// migrate applies steps until doc has the current shape. It returns the names
// of the steps applied.
func migrate(doc document) (document, []string, error) {
	var applied []string
	for range len(migrations) + 1 {
		if isCurrent(doc) {
			return doc, applied, nil
		}
		step, ok := findStep(doc)
		if !ok {
			return nil, applied, ErrUnrecognizedLayout
		}
		next, err := step.apply(doc)
		if err != nil {
			return nil, applied, fmt.Errorf("migration %s: %w", step.name, err)
		}
		applied = append(applied, step.name)
		doc = next
	}
	return nil, applied, fmt.Errorf("%w: migrations did not converge", ErrUnrecognizedLayout)
}

func findStep(doc document) (migration, bool) {
	for _, m := range migrations {
		if m.matches(doc) {
			return m, true
		}
	}
	return migration{}, false
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// isCurrent matches {"version": N, "machines": {...}}.
func isCurrent(doc document) bool {
	raw, ok := doc["machines"]
	return ok && isObject(raw)
}

// isLogsDisksLayout matches {"logs": ..., "disks": {id: payload}}.
func isLogsDisksLayout(doc document) bool {
	raw, ok := doc["disks"]
	if !ok || !isObject(raw) {
		return false
	}
	for k := range doc {
		if k != "logs" && k != "disks" {
			return false
		}
	}
	return true
}

// fromLogsDisks drops the log history and keeps the disk map, which has the
// flat layout.
func fromLogsDisks(doc document) (document, error) {
	var flat document
	if err := json.Unmarshal(doc["disks"], &flat); err != nil {
		return nil, err
	}
	if flat == nil {
		flat = document{}
	}
	return flat, nil
}

// isFlatLayout matches the oldest layout, {disk id: payload object}.
func isFlatLayout(doc document) bool {
	for _, v := range doc {
		if !isObject(v) {
			return false
		}
	}
	return true
}

// fromFlat turns every entry into its own machine holding one disk. The device
// name comes from the payload's "device" field when present, else the entry key.
func fromFlat(doc document) (document, error) {
	machines := make(map[string]legacyMachine, len(doc))
	for id, payload := range doc {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(payload, &fields); err != nil {
			return nil, fmt.Errorf("entry %q: %w", id, err)
		}

		device := id
		var s string
		if raw, ok := fields["device"]; ok && json.Unmarshal(raw, &s) == nil && s != "" {
			device = s
		}

		var lastSeen int64
		for _, key := range []string{"lastSeen", "last_seen", "timestamp"} {
			var n json.Number
			if raw, ok := fields[key]; ok && json.Unmarshal(raw, &n) == nil {
				if f, err := n.Float64(); err == nil {
					lastSeen = int64(f)
					break
				}
			}
		}

		machines[id] = legacyMachine{
			MachineID: id,
			Info:      map[string]int64{"lastSeen": lastSeen},
			Disks:     map[string]json.RawMessage{device: payload},
		}
	}

	raw, err := json.Marshal(machines)
	if err != nil {
		return nil, err
	}
	version, _ := json.Marshal(CurrentVersion)
	return document{"version": version, "machines": raw}, nil
}

type legacyMachine struct {
	MachineID string                     `json:"machine_id"`
	Info      map[string]int64           `json:"info"`
	Disks     map[string]json.RawMessage `json:"disks"`
}
