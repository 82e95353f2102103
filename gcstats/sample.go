// Package gcstats snapshots collector metrics, encodes them as CBOR and
// records them in SQLite for offline inspection.
package gcstats

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/chazu/tcvm/dmm"
)

// Sample is a point-in-time copy of one arena's metrics.
type Sample struct {
	Arena          uuid.UUID `cbor:"1,keyasint"`
	Step           int64     `cbor:"2,keyasint"`
	Time           time.Time `cbor:"3,keyasint"`
	Phase          string    `cbor:"4,keyasint"`
	TotalAllocated uint64    `cbor:"5,keyasint"`
	AllocatedBytes uint64    `cbor:"6,keyasint"`
	FreedBytes     uint64    `cbor:"7,keyasint"`
	MarkedBytes    uint64    `cbor:"8,keyasint"`
	SweptBytes     uint64    `cbor:"9,keyasint"`
	ExternalBytes  uint64    `cbor:"10,keyasint"`
	WakeupAmount   uint64    `cbor:"11,keyasint"`
	Debt           float64   `cbor:"12,keyasint"`
	Allocations    uint64    `cbor:"13,keyasint"`
	Frees          uint64    `cbor:"14,keyasint"`
	Cycles         uint64    `cbor:"15,keyasint"`
	Last           *Cycle    `cbor:"16,keyasint,omitempty"` // most recent finished cycle
}

// Cycle summarizes a finished collection cycle.
type Cycle struct {
	Number      uint64        `cbor:"1,keyasint"`
	MarkedBytes uint64        `cbor:"2,keyasint"`
	SweptBytes  uint64        `cbor:"3,keyasint"`
	FreedBytes  uint64        `cbor:"4,keyasint"`
	Remembered  uint64        `cbor:"5,keyasint"`
	Duration    time.Duration `cbor:"6,keyasint"`
}

// Live returns the bytes currently allocated in the arena.
func (s *Sample) Live() uint64 {
	return s.TotalAllocated - s.ExternalBytes
}

// Take snapshots the arena. It must not be called from inside Enter.
func Take[R dmm.Collect](a *dmm.Arena[R], step int64) Sample {
	m := a.Metrics()
	s := Sample{
		Arena:          a.ID(),
		Step:           step,
		Time:           time.Now().UTC(),
		Phase:          a.Phase().String(),
		TotalAllocated: m.TotalAllocated(),
		AllocatedBytes: m.AllocatedBytes(),
		FreedBytes:     m.FreedBytes(),
		MarkedBytes:    m.MarkedBytes(),
		SweptBytes:     m.SweptBytes(),
		ExternalBytes:  m.ExternalBytes(),
		WakeupAmount:   m.WakeupAmount(),
		Debt:           m.AllocationDebt(),
		Allocations:    m.Allocations(),
		Frees:          m.Frees(),
		Cycles:         m.Cycles(),
	}
	if s.Cycles > 0 {
		last := m.LastCycle()
		s.Last = &Cycle{
			Number:      last.Cycle,
			MarkedBytes: last.MarkedBytes,
			SweptBytes:  last.SweptBytes,
			FreedBytes:  last.FreedBytes,
			Remembered:  last.Remembered,
			Duration:    last.Duration,
		}
	}
	return s
}

var cborEncMode cbor.EncMode

func init() {
	opts := cbor.CanonicalEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	em, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("gcstats: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Marshal serializes a Sample to canonical CBOR.
func Marshal(s *Sample) ([]byte, error) {
	return cborEncMode.Marshal(s)
}

// Unmarshal deserializes a Sample from CBOR bytes.
func Unmarshal(data []byte) (*Sample, error) {
	var s Sample
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("gcstats: unmarshal sample: %w", err)
	}
	return &s, nil
}

// MarshalSeries serializes a run of samples as one CBOR array.
func MarshalSeries(samples []Sample) ([]byte, error) {
	return cborEncMode.Marshal(samples)
}

// UnmarshalSeries deserializes a run of samples.
func UnmarshalSeries(data []byte) ([]Sample, error) {
	var samples []Sample
	if err := cbor.Unmarshal(data, &samples); err != nil {
		return nil, fmt.Errorf("gcstats: unmarshal series: %w", err)
	}
	return samples, nil
}
