package smart

import "math"

// Bucket is a failure rate for raw values in [Low, High].
type Bucket struct {
	Low               int64
	High              int64
	AnnualFailureRate float64
}

// AttrThreshold holds the failure-rate buckets for one ATA attribute.
type AttrThreshold struct {
	ID       int
	Name     string
	Critical bool
	Buckets  []Bucket
}

const unbounded = math.MaxInt64

// ataThresholds are derived from Backblaze drive statistics.
var ataThresholds = []AttrThreshold{
	{ID: 5, Name: "Reallocated Sectors Count", Critical: true, Buckets: []Bucket{
		{0, 0, 0.025}, {1, 4, 0.027}, {4, 16, 0.075}, {16, 70, 0.236}, {70, unbounded, 0.50},
	}},
	{ID: 10, Name: "Spin Retry Count", Critical: true, Buckets: []Bucket{
		{0, 0, 0.025}, {1, 3, 0.15}, {3, unbounded, 0.35},
	}},
	{ID: 187, Name: "Reported Uncorrectable Errors", Critical: true, Buckets: []Bucket{
		{0, 0, 0.015}, {1, 10, 0.05}, {10, 50, 0.15}, {50, unbounded, 0.40},
	}},
	{ID: 188, Name: "Command Timeout", Critical: true, Buckets: []Bucket{
		{0, 0, 0.015}, {1, 100, 0.03}, {100, 1000, 0.08}, {1000, unbounded, 0.20},
	}},
	{ID: 196, Name: "Reallocate Event Count", Critical: true, Buckets: []Bucket{
		{0, 0, 0.025}, {1, 5, 0.05}, {5, unbounded, 0.25},
	}},
	{ID: 197, Name: "Current Pending Sector Count", Critical: true, Buckets: []Bucket{
		{0, 0, 0.025}, {1, 5, 0.10}, {5, unbounded, 0.35},
	}},
	{ID: 198, Name: "Offline Uncorrectable Sector Count", Critical: true, Buckets: []Bucket{
		{0, 0, 0.025}, {1, 5, 0.10}, {5, unbounded, 0.35},
	}},

	{ID: 1, Name: "Read Error Rate", Buckets: []Bucket{
		{0, 0, 0.02}, {1, 1000, 0.03}, {1000, 100000, 0.08}, {100000, unbounded, 0.15},
	}},
	{ID: 9, Name: "Power-On Hours", Buckets: []Bucket{
		{0, 10000, 0.02}, {10000, 20000, 0.025}, {20000, 40000, 0.03}, {40000, unbounded, 0.06},
	}},
	{ID: 194, Name: "Temperature", Buckets: []Bucket{
		{0, 35, 0.02}, {35, 45, 0.025}, {45, 55, 0.05}, {55, unbounded, 0.12},
	}},
	{ID: 199, Name: "UDMA CRC Error Count", Buckets: []Bucket{
		{0, 0, 0.025}, {1, 100, 0.03}, {100, unbounded, 0.10},
	}},
	{ID: 200, Name: "Multi-Zone Error Rate", Buckets: []Bucket{
		{0, 0, 0.02}, {1, 100, 0.05}, {100, unbounded, 0.15},
	}},
}

var thresholdIndex = func() map[int]AttrThreshold {
	m := make(map[int]AttrThreshold, len(ataThresholds))
	for _, t := range ataThresholds {
		m[t.ID] = t
	}
	return m
}()

// IsCritical reports whether the ATA attribute id is critical for health.
func IsCritical(id int) bool {
	return thresholdIndex[id].Critical
}

// LookupThreshold returns the buckets for the ATA attribute id, if any.
func LookupThreshold(id int) (AttrThreshold, bool) {
	t, ok := thresholdIndex[id]
	return t, ok
}

// FindBucket returns the first bucket containing raw, or nil.
func FindBucket(t AttrThreshold, raw int64) *Bucket {
	for i := range t.Buckets {
		b := &t.Buckets[i]
		if raw >= b.Low && raw <= b.High {
			return b
		}
	}
	return nil
}
