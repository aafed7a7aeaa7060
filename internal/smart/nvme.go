package smart

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/darshan-rambhia/diskmon/internal/model"
)

// NVMe pseudo attribute IDs, mapped from the NVMe health log.
const (
	NVMeCriticalWarning  = 1
	NVMeTemperature      = 2
	NVMeAvailableSpare   = 3
	NVMePercentageUsed   = 5
	NVMeDataUnitsRead    = 6
	NVMeDataUnitsWritten = 7
	NVMePowerOnHours     = 8
	NVMeMediaErrors      = 9
	NVMeNumErrLogEntries = 10
)

// nvmeFields maps smartctl nvme_smart_health_information_log keys in display order.
var nvmeFields = []struct {
	key  string
	id   int
	name string
}{
	{"critical_warning", NVMeCriticalWarning, "Critical Warning"},
	{"temperature", NVMeTemperature, "Temperature"},
	{"available_spare", NVMeAvailableSpare, "Available Spare"},
	{"percentage_used", NVMePercentageUsed, "Percentage Used"},
	{"data_units_read", NVMeDataUnitsRead, "Data Units Read"},
	{"data_units_written", NVMeDataUnitsWritten, "Data Units Written"},
	{"power_on_hours", NVMePowerOnHours, "Power On Hours"},
	{"media_errors", NVMeMediaErrors, "Media Errors"},
	{"num_err_log_entries", NVMeNumErrLogEntries, "Error Log Entries"},
}

// ParseNVMeLog maps the NVMe health information log to pseudo attributes.
// The spare threshold travels as the Available Spare attribute's Threshold.
func ParseNVMeLog(raw json.RawMessage) ([]model.SMARTAttribute, error) {
	var log map[string]json.RawMessage
	if err := json.Unmarshal(raw, &log); err != nil || log == nil {
		return nil, errors.New("parsing NVMe health log: not an object")
	}

	attrs := make([]model.SMARTAttribute, 0, len(nvmeFields))
	for _, f := range nvmeFields {
		v, ok := intValue(log[f.key])
		if !ok {
			continue
		}
		attr := model.SMARTAttribute{
			ID:        f.id,
			Name:      f.name,
			Value:     v,
			RawValue:  v,
			RawString: string(bytes.TrimSpace(log[f.key])),
		}
		if f.id == NVMeAvailableSpare {
			attr.Threshold, _ = intValue(log["available_spare_threshold"])
		}
		attrs = append(attrs, attr)
	}
	if len(attrs) == 0 {
		return nil, errors.New("no NVMe health fields found")
	}
	return attrs, nil
}

func evaluateNVMe(attr model.SMARTAttribute) int {
	switch attr.ID {
	case NVMeCriticalWarning:
		if attr.RawValue != 0 {
			return model.StatusFailedSmart
		}
	case NVMeAvailableSpare:
		if attr.Threshold > 0 && attr.RawValue < attr.Threshold {
			return model.StatusFailedSmart
		}
	case NVMePercentageUsed:
		switch {
		case attr.RawValue >= 100:
			return model.StatusFailedScrutiny
		case attr.RawValue >= 90:
			return model.StatusWarnScrutiny
		}
	case NVMeMediaErrors:
		if attr.RawValue > 0 {
			return model.StatusWarnScrutiny
		}
	}
	return model.StatusPassed
}

// nvmeWearout is the remaining life derived from Percentage Used.
func nvmeWearout(attrs []model.SMARTAttribute) (int, bool) {
	for _, a := range attrs {
		if a.ID == NVMePercentageUsed {
			return int(max(0, 100-a.RawValue)), true
		}
	}
	return 0, false
}
