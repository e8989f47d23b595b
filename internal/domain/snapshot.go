// Package domain holds the engine's shared state: the latest sensor snapshot
// and the engine status reported to display collaborators.
package domain

import (
	"fmt"
	"sync"
	"time"

	"github.com/jkaberg/sensor-stream/internal/orientation"
	"github.com/jkaberg/sensor-stream/internal/sensors"
)

// Snapshot is the latest value of every sensor plus the fused orientation.
// It is a plain value; copies never alias the store's state.
type Snapshot struct {
	Accelerometer sensors.Vector3
	Gyroscope     sensors.Vector3
	Magnetometer  sensors.Vector3
	Orientation   orientation.Estimate

	// Captured is the time of the newest write and never moves backwards.
	Captured time.Time
	// Seq increases by one on every write.
	Seq uint64
}

// SnapshotStore holds the single shared Snapshot. Sensor callbacks write
// their own field; the transmitter reads whole copies. The critical section
// only covers a struct copy so writers and readers never wait on I/O.
type SnapshotStore struct {
	mu  sync.RWMutex
	cur Snapshot
}

// NewSnapshotStore returns a store holding the all-zero snapshot.
func NewSnapshotStore() *SnapshotStore { return &SnapshotStore{} }

// Load returns a consistent copy of the latest snapshot.
func (s *SnapshotStore) Load() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// SetVector overwrites the reading for one of the three vector sensors.
func (s *SnapshotStore) SetVector(t sensors.Type, v sensors.Vector3, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch t {
	case sensors.Accelerometer:
		s.cur.Accelerometer = v
	case sensors.Gyroscope:
		s.cur.Gyroscope = v
	case sensors.Magnetometer:
		s.cur.Magnetometer = v
	default:
		return fmt.Errorf("sensor type %q has no vector slot", t)
	}
	s.touch(at)
	return nil
}

// SetOrientation replaces the fused orientation estimate.
func (s *SnapshotStore) SetOrientation(e orientation.Estimate, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur.Orientation = e
	s.touch(at)
}

func (s *SnapshotStore) touch(at time.Time) {
	if at.After(s.cur.Captured) {
		s.cur.Captured = at
	}
	s.cur.Seq++
}
