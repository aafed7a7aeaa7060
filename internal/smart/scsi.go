package smart

import (
	"encoding/json"

	"github.com/darshan-rambhia/diskmon/internal/model"
)

// SCSI pseudo attribute IDs (high-range to avoid collision with ATA IDs 1-253).
const (
	SCSIGrownDefects     = 302
	SCSIReadUncorrected  = 303
	SCSIWriteUncorrected = 304
)

// A grown defect list this long marks the drive as failing.
const scsiDefectsFailAt = 50

// ParseSCSI extracts the grown defect list and uncorrected error counters
// from smartctl SCSI output. It returns nil when neither is present.
func ParseSCSI(fields map[string]json.RawMessage) []model.SMARTAttribute {
	var attrs []model.SMARTAttribute

	if v, ok := intValue(fields["scsi_grown_defect_list"]); ok {
		attrs = append(attrs, model.SMARTAttribute{
			ID: SCSIGrownDefects, Name: "Grown Defect List", Value: v, RawValue: v, RawString: formatInt(v),
		})
	}

	var counters struct {
		Read *struct {
			Uncorrected json.RawMessage `json:"total_uncorrected_errors"`
		} `json:"read"`
		Write *struct {
			Uncorrected json.RawMessage `json:"total_uncorrected_errors"`
		} `json:"write"`
	}
	if raw, ok := fields["scsi_error_counter_log"]; ok && json.Unmarshal(raw, &counters) == nil {
		if counters.Read != nil {
			if v, ok := intValue(counters.Read.Uncorrected); ok {
				attrs = append(attrs, model.SMARTAttribute{
					ID: SCSIReadUncorrected, Name: "Read Uncorrected Errors", Value: v, RawValue: v, RawString: formatInt(v),
				})
			}
		}
		if counters.Write != nil {
			if v, ok := intValue(counters.Write.Uncorrected); ok {
				attrs = append(attrs, model.SMARTAttribute{
					ID: SCSIWriteUncorrected, Name: "Write Uncorrected Errors", Value: v, RawValue: v, RawString: formatInt(v),
				})
			}
		}
	}
	return attrs
}

func evaluateSCSI(attr model.SMARTAttribute) int {
	switch attr.ID {
	case SCSIGrownDefects:
		switch {
		case attr.RawValue >= scsiDefectsFailAt:
			return model.StatusFailedScrutiny
		case attr.RawValue > 0:
			return model.StatusWarnScrutiny
		}
	case SCSIReadUncorrected, SCSIWriteUncorrected:
		if attr.RawValue > 0 {
			return model.StatusWarnScrutiny
		}
	}
	return model.StatusPassed
}
