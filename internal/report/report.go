// Package report decodes report files dropped into the inbox.
package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/darshan-rambhia/diskmon/internal/model"
)

var (
	// ErrMalformedPayload is returned for bytes that are not a JSON object.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrMissingIdentity is returned when machine_id is absent, empty or not a string.
	ErrMissingIdentity = errors.New("missing machine_id")
	// ErrMissingDevice is returned for disk reports without a device name.
	ErrMissingDevice = errors.New("disk report missing device")
)

// payloadField holds the SMART payload of a disk report. Reports without it
// are stored whole.
const payloadField = "smart_data"

// Parse decodes one report. Unknown report types are accepted and come back
// with Report.ActivityOnly() == true.
func Parse(data []byte) (model.Report, error) {
	var rep model.Report

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return rep, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if fields == nil {
		return rep, fmt.Errorf("%w: not an object", ErrMalformedPayload)
	}

	id, ok := stringField(fields, "machine_id")
	if !ok || strings.TrimSpace(id) == "" {
		return rep, ErrMissingIdentity
	}
	rep.MachineID = id

	typ, _ := stringField(fields, "type")
	rep.Type = model.ReportType(typ)

	switch rep.Type {
	case model.ReportDisk:
		dev, ok := stringField(fields, "device")
		if !ok || dev == "" {
			return rep, ErrMissingDevice
		}
		rep.Device = dev
		payload, err := diskPayload(fields, data)
		if err != nil {
			return rep, err
		}
		rep.Payload = payload
	case model.ReportSystemInfo:
		info, err := decodeInfo(fields["info"])
		if err != nil {
			return rep, err
		}
		rep.Info = info
	}

	return rep, nil
}

func stringField(fields map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := fields[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func diskPayload(fields map[string]json.RawMessage, whole []byte) (json.RawMessage, error) {
	src := whole
	if raw, ok := fields[payloadField]; ok {
		src = raw
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, src); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return json.RawMessage(buf.Bytes()), nil
}

// decodeInfo keeps numbers as json.Number so integers survive a round trip.
func decodeInfo(raw json.RawMessage) (map[string]any, error) {
	info := make(map[string]any)
	if len(raw) == 0 || string(raw) == "null" {
		return info, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&info); err != nil {
		return nil, fmt.Errorf("%w: info: %v", ErrMalformedPayload, err)
	}
	if info == nil {
		info = make(map[string]any)
	}
	return info, nil
}
