package persist

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/darshan-rambhia/diskmon/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleMachines() map[string]*model.MachineRecord {
	m1 := model.NewMachineRecord("m1")
	m1.Info["os"] = "linux"
	m1.Info[model.LastSeenKey] = int64(1700000000)
	m1.Disks["sda"] = json.RawMessage(`{"temp":40}`)

	m2 := model.NewMachineRecord("m2")
	m2.Info[model.LastSeenKey] = int64(1700000100)
	m2.Disks["nvme0n1"] = json.RawMessage(`{"smart_status":{"passed":true}}`)

	return map[string]*model.MachineRecord{"m1": m1, "m2": m2}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	for _, compress := range []bool{false, true} {
		t.Run(map[bool]string{false: "plain", true: "zstd"}[compress], func(t *testing.T) {
			f := NewFile(filepath.Join(t.TempDir(), "nested", "disks.json"), compress)
			require.NoError(t, f.Save(sampleMachines()))

			loaded := f.Load()
			require.Len(t, loaded, 2)
			assert.Equal(t, "m1", loaded["m1"].MachineID)
			assert.Equal(t, "linux", loaded["m1"].Info["os"])
			assert.Equal(t, int64(1700000000), loaded["m1"].LastSeen())
			assert.JSONEq(t, `{"temp":40}`, string(loaded["m1"].Disks["sda"]))
			assert.JSONEq(t, `{"smart_status":{"passed":true}}`, string(loaded["m2"].Disks["nvme0n1"]))
		})
	}
}

func TestSave_CompressedOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disks.json")
	require.NoError(t, NewFile(path, true).Save(sampleMachines()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, zstdMagic, data[:4])

	// A plain reader still loads it.
	assert.Len(t, NewFile(path, false).Load(), 2)
}

func TestSave_WritesCurrentLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disks.json")
	require.NoError(t, NewFile(path, false).Save(sampleMachines()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc struct {
		Version  int                        `json:"version"`
		Machines map[string]json.RawMessage `json:"machines"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, CurrentVersion, doc.Version)
	assert.Len(t, doc.Machines, 2)
}

func TestSave_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	f := NewFile(filepath.Join(dir, "disks.json"), false)
	for range 3 {
		require.NoError(t, f.Save(sampleMachines()))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "disks.json", entries[0].Name())
}

func TestSave_FailureKeepsPreviousDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "disks.json")
	f := NewFile(path, false)
	require.NoError(t, f.Save(sampleMachines()))

	// Replace the target with a non-empty directory so the rename fails.
	blocked := filepath.Join(dir, "blocked")
	require.NoError(t, os.MkdirAll(filepath.Join(blocked, "child"), 0o755))
	err := NewFile(blocked, false).Save(sampleMachines())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "persisting state")

	assert.Len(t, f.Load(), 2)
}

func TestLoad_MissingFile(t *testing.T) {
	f := NewFile(filepath.Join(t.TempDir(), "absent.json"), false)
	machines := f.Load()
	assert.NotNil(t, machines)
	assert.Empty(t, machines)
}

func TestLoad_CorruptResetsToEmpty(t *testing.T) {
	for name, content := range map[string]string{
		"truncated":   `{"version":2,"machines":{"m1":`,
		"empty":       ``,
		"array":       `[1,2]`,
		"scalar flat": `{"a": 1}`,
		"bad zstd":    string(append(append([]byte{}, zstdMagic...), 0x00, 0x01)),
	} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "disks.json")
			require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

			machines := NewFile(path, false).Load()
			assert.Empty(t, machines)

			// Load never rewrites the document.
			after, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, content, string(after))
		})
	}
}

func TestLoad_DoesNotRewriteLegacyDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disks.json")
	legacy := `{"disk-1": {"id": "disk-1", "temp": 30}}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o644))

	assert.Len(t, NewFile(path, false).Load(), 1)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, legacy, string(after))
}

func TestSave_AtomicUnderConcurrentReaders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disks.json")
	f := NewFile(path, false)
	require.NoError(t, f.Save(sampleMachines()))

	var stop atomic.Bool
	var reads, partial atomic.Int64
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for !stop.Load() {
				data, err := os.ReadFile(path)
				if err != nil {
					partial.Add(1)
					continue
				}
				reads.Add(1)
				if _, _, err := Decode(data); err != nil {
					partial.Add(1)
				}
			}
		}()
	}

	big := sampleMachines()
	for i := range 200 {
		m := model.NewMachineRecord("bulk")
		m.Info["i"] = i
		for d := range 50 {
			m.Disks[fmt.Sprintf("sd%c%c", 'a'+d/26, 'a'+d%26)] = json.RawMessage(`{"temp":40,"attrs":[1,2,3,4,5,6,7,8,9,10]}`)
		}
		big["bulk"] = m
		require.NoError(t, f.Save(big))
	}
	stop.Store(true)
	wg.Wait()

	assert.Positive(t, reads.Load())
	assert.Zero(t, partial.Load(), "reader observed a partial document")
}

func TestWriteFileAtomic_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "report.json")
	require.NoError(t, WriteFileAtomic(path, []byte(`{}`), 0o600))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func BenchmarkEncode(b *testing.B) {
	machines := sampleMachines()
	for b.Loop() {
		if _, err := Encode(machines); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkSave(b *testing.B) {
	for _, compress := range []bool{false, true} {
		b.Run(fmt.Sprintf("compress=%v", compress), func(b *testing.B) {
			f := NewFile(filepath.Join(b.TempDir(), "disks.json"), compress)
			machines := sampleMachines()
			for b.Loop() {
				if err := f.Save(machines); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
