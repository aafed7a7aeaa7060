package smart

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/darshan-rambhia/diskmon/internal/model"
)

// ATA attribute ids read outside the threshold table.
const (
	ATAPowerOnHours = 9
	ATAWearLeveling = 177
	ATATemperature  = 194
	ATASSDLifeLeft  = 231
	ATAMediaWearout = 233
)

type ataEntry struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Value  int64  `json:"value"`
	Worst  int64  `json:"worst"`
	Thresh int64  `json:"thresh"`
	Raw    struct {
		Value  json.Number `json:"value"`
		String string      `json:"string"`
	} `json:"raw"`
}

// ParseATATable parses the "table" array of smartctl's ata_smart_attributes.
// Entries that do not decode are skipped; an error is returned only when the
// table itself is not an array.
func ParseATATable(raw json.RawMessage) ([]model.SMARTAttribute, error) {
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parsing ATA attribute table: %w", err)
	}

	attrs := make([]model.SMARTAttribute, 0, len(entries))
	for _, e := range entries {
		var entry ataEntry
		if err := json.Unmarshal(e, &entry); err != nil || entry.ID <= 0 {
			continue
		}
		attr := model.SMARTAttribute{
			ID:        entry.ID,
			Name:      entry.Name,
			Value:     entry.Value,
			Worst:     entry.Worst,
			Threshold: entry.Thresh,
			RawString: entry.Raw.String,
		}
		// The packed raw value of some attributes (194) carries min/max in the
		// upper bytes; the leading integer of the string form is the reading.
		if entry.Raw.String != "" {
			attr.RawValue = extractLeadingInt(entry.Raw.String)
		} else if n, err := entry.Raw.Value.Int64(); err == nil {
			attr.RawValue = n
			attr.RawString = strconv.FormatInt(n, 10)
		}
		attrs = append(attrs, attr)
	}
	return attrs, nil
}

// evaluateATA applies the manufacturer threshold, then the failure-rate buckets.
func evaluateATA(attr *model.SMARTAttribute) int {
	// A threshold of 0 means "always passing".
	if attr.Threshold > 0 && attr.Value > 0 && attr.Value <= attr.Threshold {
		return model.StatusFailedSmart
	}

	thresh, ok := LookupThreshold(attr.ID)
	if !ok {
		return model.StatusPassed
	}

	bucket := FindBucket(thresh, attr.RawValue)
	if bucket == nil {
		if thresh.Critical {
			return model.StatusWarnScrutiny
		}
		return model.StatusPassed
	}

	rate := bucket.AnnualFailureRate
	attr.FailureRate = &rate
	switch {
	case thresh.Critical && rate >= 0.10:
		return model.StatusFailedScrutiny
	case thresh.Critical:
		return model.StatusPassed
	case rate >= 0.20:
		return model.StatusFailedScrutiny
	case rate >= 0.10:
		return model.StatusWarnScrutiny
	}
	return model.StatusPassed
}

// ataWearout returns the remaining life percentage from the first wear
// attribute present, using its normalized value.
func ataWearout(attrs []model.SMARTAttribute) (int, bool) {
	for _, id := range []int{ATASSDLifeLeft, ATAMediaWearout, ATAWearLeveling} {
		for _, a := range attrs {
			if a.ID == id && a.Value > 0 && a.Value <= 100 {
				return int(a.Value), true
			}
		}
	}
	return 0, false
}

// extractLeadingInt extracts the leading integer from a string like "40 (Min/Max 25/55)".
func extractLeadingInt(s string) int64 {
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0
	}
	val, err := strconv.ParseInt(s[:end], 10, 64)
	if err != nil {
		return 0
	}
	return val
}
