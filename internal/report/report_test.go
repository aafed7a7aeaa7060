package report

import (
	"encoding/json"
	"testing"

	"github.com/darshan-rambhia/diskmon/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_DiskReport(t *testing.T) {
	rep, err := Parse([]byte(`{"machine_id":"m1","type":"disk","device":"sda","smart_data":{"temp": 40}}`))
	require.NoError(t, err)

	assert.Equal(t, "m1", rep.MachineID)
	assert.Equal(t, model.ReportDisk, rep.Type)
	assert.Equal(t, "sda", rep.Device)
	assert.JSONEq(t, `{"temp":40}`, string(rep.Payload))
	assert.False(t, rep.ActivityOnly())
}

func TestParse_DiskReportWithoutSmartDataStoresWholeReport(t *testing.T) {
	raw := `{"machine_id":"m1","type":"disk","device":"nvme0n1","model":"WD Blue"}`
	rep, err := Parse([]byte(raw))
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(rep.Payload))
}

func TestParse_SystemInfo(t *testing.T) {
	rep, err := Parse([]byte(`{"machine_id":"m1","type":"system_info","info":{"os":"linux","cores":8,"virt":false}}`))
	require.NoError(t, err)

	assert.Equal(t, model.ReportSystemInfo, rep.Type)
	assert.Equal(t, "linux", rep.Info["os"])
	assert.Equal(t, json.Number("8"), rep.Info["cores"])
	assert.Equal(t, false, rep.Info["virt"])
}

func TestParse_SystemInfoWithoutInfo(t *testing.T) {
	rep, err := Parse([]byte(`{"machine_id":"m1","type":"system_info"}`))
	require.NoError(t, err)
	assert.NotNil(t, rep.Info)
	assert.Empty(t, rep.Info)
}

func TestParse_UnknownTypeIsActivityOnly(t *testing.T) {
	for _, raw := range []string{
		`{"machine_id":"m1","type":"gpu"}`,
		`{"machine_id":"m1"}`,
		`{"machine_id":"m1","type":42}`,
	} {
		rep, err := Parse([]byte(raw))
		require.NoError(t, err, raw)
		assert.True(t, rep.ActivityOnly(), raw)
		assert.Equal(t, "m1", rep.MachineID)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"not json", `{"machine_id": `, ErrMalformedPayload},
		{"array", `[1,2,3]`, ErrMalformedPayload},
		{"null", `null`, ErrMalformedPayload},
		{"empty", ``, ErrMalformedPayload},
		{"trailing garbage", `{"machine_id":"m1"} x`, ErrMalformedPayload},
		{"no machine id", `{"type":"disk","device":"sda"}`, ErrMissingIdentity},
		{"empty machine id", `{"machine_id":"","type":"disk"}`, ErrMissingIdentity},
		{"blank machine id", `{"machine_id":"   "}`, ErrMissingIdentity},
		{"numeric machine id", `{"machine_id":7}`, ErrMissingIdentity},
		{"disk without device", `{"machine_id":"m1","type":"disk"}`, ErrMissingDevice},
		{"info not an object", `{"machine_id":"m1","type":"system_info","info":[1]}`, ErrMalformedPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.raw))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func FuzzParse(f *testing.F) {
	f.Add([]byte(`{"machine_id":"m1","type":"disk","device":"sda","smart_data":{"temp":40}}`))
	f.Add([]byte(`{"machine_id":"m1","type":"system_info","info":{"os":"linux"}}`))
	f.Add([]byte(`{"machine_id":"m1","type":"unknown"}`))
	f.Add([]byte(`not json`))
	f.Fuzz(func(t *testing.T, data []byte) {
		rep, err := Parse(data)
		if err != nil {
			return
		}
		if rep.MachineID == "" {
			t.Fatal("accepted report without machine id")
		}
		if rep.Type == model.ReportDisk && (rep.Device == "" || !json.Valid(rep.Payload)) {
			t.Fatalf("accepted disk report with device %q payload %q", rep.Device, rep.Payload)
		}
	})
}

func BenchmarkParse(b *testing.B) {
	data := []byte(`{"machine_id":"nas-01","type":"disk","device":"sda","smart_data":{"model_name":"WDC WD40EFRX","smart_status":{"passed":true},"temperature":{"current":34},"power_on_time":{"hours":21000}}}`)
	for b.Loop() {
		if _, err := Parse(data); err != nil {
			b.Fatal(err)
		}
	}
}
