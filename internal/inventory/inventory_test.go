package inventory

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/darshan-rambhia/diskmon/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock returns successive seconds starting at start.
func fakeClock(start int64) func() time.Time {
	var mu sync.Mutex
	next := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := time.Unix(next, 0)
		next++
		return t
	}
}

func diskReport(id, dev, payload string) model.Report {
	return model.Report{MachineID: id, Type: model.ReportDisk, Device: dev, Payload: json.RawMessage(payload)}
}

func infoReport(id string, info map[string]any) model.Report {
	return model.Report{MachineID: id, Type: model.ReportSystemInfo, Info: info}
}

func TestNew(t *testing.T) {
	inv := New(nil)
	assert.Equal(t, 0, inv.Len())
	assert.Empty(t, inv.Snapshot().Machines)
}

func TestNew_NormalizesSeed(t *testing.T) {
	inv := New(map[string]*model.MachineRecord{"m1": {}})

	m, ok := inv.Machine("m1")
	require.True(t, ok)
	assert.Equal(t, "m1", m.MachineID)
	assert.NotNil(t, m.Info)
	assert.NotNil(t, m.Disks)
}

func TestMerge_CreatesMachine(t *testing.T) {
	inv := New(nil)
	inv.now = fakeClock(1000)

	changed := inv.Merge(diskReport("m1", "sda", `{"temp":40}`))
	assert.True(t, changed)

	m, ok := inv.Machine("m1")
	require.True(t, ok)
	assert.Equal(t, int64(1000), m.LastSeen())
	assert.JSONEq(t, `{"temp":40}`, string(m.Disks["sda"]))
}

func TestMerge_OverwritesDevice(t *testing.T) {
	inv := New(nil)
	inv.now = fakeClock(1000)

	inv.Merge(diskReport("m1", "sda", `{"temp":40}`))
	inv.Merge(diskReport("m1", "sda", `{"temp":45,"reallocated":2}`))

	m, _ := inv.Machine("m1")
	assert.JSONEq(t, `{"temp":45,"reallocated":2}`, string(m.Disks["sda"]))
	assert.Len(t, m.Disks, 1)
	assert.Equal(t, int64(1001), m.LastSeen())
}

func TestMerge_PartialInfo(t *testing.T) {
	inv := New(nil)
	inv.Merge(infoReport("m1", map[string]any{"os": "linux"}))
	inv.Merge(infoReport("m1", map[string]any{"cpu": "x86"}))

	m, _ := inv.Machine("m1")
	assert.Equal(t, "linux", m.Info["os"])
	assert.Equal(t, "x86", m.Info["cpu"])
	assert.Contains(t, m.Info, model.LastSeenKey)
	assert.Len(t, m.Info, 3)
}

func TestMerge_InfoLastWriteWins(t *testing.T) {
	inv := New(nil)
	inv.Merge(infoReport("m1", map[string]any{"os": "linux"}))
	inv.Merge(infoReport("m1", map[string]any{"os": "freebsd"}))

	m, _ := inv.Machine("m1")
	assert.Equal(t, "freebsd", m.Info["os"])
}

func TestMerge_ReportedLastSeenIgnored(t *testing.T) {
	inv := New(nil)
	inv.now = fakeClock(5000)
	inv.Merge(infoReport("m1", map[string]any{model.LastSeenKey: 1}))

	m, _ := inv.Machine("m1")
	assert.Equal(t, int64(5000), m.LastSeen())
}

func TestMerge_ActivityOnly(t *testing.T) {
	inv := New(nil)
	inv.now = fakeClock(42)

	assert.True(t, inv.Merge(model.Report{MachineID: "m1", Type: "gpu"}))

	m, ok := inv.Machine("m1")
	require.True(t, ok)
	assert.Empty(t, m.Disks)
	assert.Equal(t, map[string]any{model.LastSeenKey: int64(42)}, m.Info)
}

func TestMerge_EmptyIDIgnored(t *testing.T) {
	inv := New(nil)
	assert.False(t, inv.Merge(model.Report{Type: model.ReportDisk, Device: "sda"}))
	assert.Equal(t, 0, inv.Len())
}

func TestMerge_AdditiveGrowth(t *testing.T) {
	inv := New(nil)
	const n = 25
	for i := range n {
		inv.Merge(diskReport(fmt.Sprintf("m%02d", i), "sda", `{}`))
	}
	// Re-merging existing ids never shrinks the store.
	for i := range n {
		inv.Merge(infoReport(fmt.Sprintf("m%02d", i), map[string]any{"k": i}))
	}
	assert.Equal(t, n, inv.Len())
	assert.Len(t, inv.IDs(), n)
	assert.Equal(t, "m00", inv.IDs()[0])
}

func TestSnapshot_IsIndependent(t *testing.T) {
	inv := New(nil)
	inv.Merge(infoReport("m1", map[string]any{"os": "linux", "nested": map[string]any{"a": "b"}}))
	inv.Merge(diskReport("m1", "sda", `{"temp":40}`))

	snap := inv.Snapshot()
	snap.Machines["m1"].Info["os"] = "mutated"
	snap.Machines["m1"].Info["nested"].(map[string]any)["a"] = "mutated"
	snap.Machines["m1"].Disks["sda"][0] = '['
	delete(snap.Machines, "m1")

	m, ok := inv.Machine("m1")
	require.True(t, ok)
	assert.Equal(t, "linux", m.Info["os"])
	assert.Equal(t, "b", m.Info["nested"].(map[string]any)["a"])
	assert.JSONEq(t, `{"temp":40}`, string(m.Disks["sda"]))
}

func TestMachine_NotFound(t *testing.T) {
	inv := New(nil)
	_, ok := inv.Machine("missing")
	assert.False(t, ok)
}

func TestDisk(t *testing.T) {
	inv := New(nil)
	inv.Merge(diskReport("m1", "sda", `{"temp":40}`))

	payload, ok := inv.Disk("m1", "sda")
	require.True(t, ok)
	assert.JSONEq(t, `{"temp":40}`, string(payload))

	_, ok = inv.Disk("m1", "sdb")
	assert.False(t, ok)
	_, ok = inv.Disk("m2", "sda")
	assert.False(t, ok)
}

func TestBatch_AtomicForReaders(t *testing.T) {
	inv := New(nil)
	const batchSize = 50

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			n := inv.Len()
			assert.Zero(t, n%batchSize, "observed partial batch of %d machines", n)
		}
	}()

	for b := range 4 {
		inv.Batch(func(batch *Batch) {
			for i := range batchSize {
				assert.True(t, batch.Merge(diskReport(fmt.Sprintf("b%d-m%d", b, i), "sda", `{}`)))
			}
		})
	}
	close(stop)
	wg.Wait()

	assert.Equal(t, 4*batchSize, inv.Len())
}

func TestConcurrentMergeAndSnapshot(t *testing.T) {
	inv := New(nil)
	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			inv.Merge(diskReport(fmt.Sprintf("m%d", i), "sda", `{"temp":40}`))
		}()
		go func() {
			defer wg.Done()
			_ = inv.Snapshot()
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, inv.Len())
}

func BenchmarkMerge(b *testing.B) {
	inv := New(nil)
	reports := make([]model.Report, 0, 64)
	for i := range 64 {
		reports = append(reports, diskReport(fmt.Sprintf("m%d", i%8), fmt.Sprintf("sd%c", 'a'+i%8), `{"temp":40,"health":"OK"}`))
	}
	for b.Loop() {
		inv.Batch(func(batch *Batch) {
			for _, r := range reports {
				batch.Merge(r)
			}
		})
	}
}

func BenchmarkSnapshot(b *testing.B) {
	inv := New(nil)
	for i := range 64 {
		inv.Merge(diskReport(fmt.Sprintf("m%d", i%8), fmt.Sprintf("sd%c", 'a'+i%8), `{"temp":40,"health":"OK"}`))
	}
	for b.Loop() {
		inv.Snapshot()
	}
}
