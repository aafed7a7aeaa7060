// Package inventory holds the consolidated in-memory state of every machine
// that has sent an accepted report.
package inventory

import (
	"encoding/json"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/darshan-rambhia/diskmon/internal/model"
)

// Inventory is a thread-safe map of machine id to MachineRecord. Machines and
// devices are never removed.
type Inventory struct {
	mu       sync.RWMutex
	machines map[string]*model.MachineRecord
	now      func() time.Time
}

// New returns an Inventory seeded with machines, which may be nil. The map is
// owned by the Inventory afterwards.
func New(machines map[string]*model.MachineRecord) *Inventory {
	if machines == nil {
		machines = make(map[string]*model.MachineRecord)
	}
	for id, m := range machines {
		if m.MachineID == "" {
			m.MachineID = id
		}
		if m.Info == nil {
			m.Info = make(map[string]any)
		}
		if m.Disks == nil {
			m.Disks = make(map[string]json.RawMessage)
		}
	}
	return &Inventory{machines: machines, now: time.Now}
}

// Batch applies several merges under one exclusive lock acquisition, so
// readers never observe part of a batch.
type Batch struct {
	inv *Inventory
}

// Merge applies r inside the batch. See Inventory.Merge.
func (b *Batch) Merge(r model.Report) bool {
	return b.inv.merge(r)
}

// Batch runs fn while holding the write lock.
func (inv *Inventory) Batch(fn func(b *Batch)) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	fn(&Batch{inv: inv})
}

// Merge applies a single report and reports whether the store changed, which
// is always the case for a valid report since lastSeen moves.
func (inv *Inventory) Merge(r model.Report) bool {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.merge(r)
}

func (inv *Inventory) merge(r model.Report) bool {
	if r.MachineID == "" {
		return false
	}
	m, ok := inv.machines[r.MachineID]
	if !ok {
		m = model.NewMachineRecord(r.MachineID)
		inv.machines[r.MachineID] = m
	}

	switch r.Type {
	case model.ReportDisk:
		m.Disks[r.Device] = append(json.RawMessage(nil), r.Payload...)
	case model.ReportSystemInfo:
		maps.Copy(m.Info, r.Info)
	}

	// Set last so a reported lastSeen key can never win.
	m.Info[model.LastSeenKey] = inv.now().Unix()
	return true
}

// Snapshot returns a deep copy of every machine.
func (inv *Inventory) Snapshot() model.Snapshot {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	snap := model.Snapshot{Machines: make(map[string]*model.MachineRecord, len(inv.machines))}
	for id, m := range inv.machines {
		snap.Machines[id] = m.Clone()
	}
	return snap
}

// Machine returns a copy of one machine's record.
func (inv *Inventory) Machine(id string) (*model.MachineRecord, bool) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	m, ok := inv.machines[id]
	if !ok {
		return nil, false
	}
	return m.Clone(), true
}

// Disk returns a copy of the latest payload for one device of one machine.
func (inv *Inventory) Disk(id, device string) (json.RawMessage, bool) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	m, ok := inv.machines[id]
	if !ok {
		return nil, false
	}
	payload, ok := m.Disks[device]
	if !ok {
		return nil, false
	}
	return append(json.RawMessage(nil), payload...), true
}

// Len returns the number of known machines.
func (inv *Inventory) Len() int {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	return len(inv.machines)
}

// IDs returns the known machine ids in ascending order.
func (inv *Inventory) IDs() []string {
	inv.mu.RLock()
	ids := make([]string, 0, len(inv.machines))
	for id := range inv.machines {
		ids = append(ids, id)
	}
	inv.mu.RUnlock()

	sort.Strings(ids)
	return ids
}
