// Package exercise holds the exercise snapshot model read by the uplink and the
// waypoint derivation applied to it on every cycle.
package exercise

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Status is the recorded state of an exercise session.
type Status int

const (
	StatusUnknown Status = iota
	StatusActive
	StatusPaused
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "ACTIVE"
	case StatusPaused:
		return "PAUSED"
	case StatusStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// ParseStatus maps a stored status label to a Status. Unrecognised and empty
// labels map to StatusUnknown.
func ParseStatus(label string) Status {
	switch strings.ToUpper(strings.TrimSpace(label)) {
	case "ACTIVE":
		return StatusActive
	case "PAUSED":
		return StatusPaused
	case "STOPPED":
		return StatusStopped
	default:
		return StatusUnknown
	}
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	*s = ParseStatus(string(b))
	return nil
}

// Snapshot is one point-in-time record of exercise metrics and location.
// Pointer fields are nullable in the source store; they encode as zero on the wire.
// Units: bearing in degrees (0-359), distance in metres, heart rate in bpm,
// speed in m/s.
type Snapshot struct {
	StartTime      int64    `json:"start_time"`      // epoch ms, identifies the exercise
	UpdateTime     int64    `json:"update_time"`     // epoch ms
	ActiveDuration int64    `json:"active_duration"` // ms, excludes paused time
	CurrentLat     *float64 `json:"curr_lat,omitempty"`
	CurrentLng     *float64 `json:"curr_lng,omitempty"`
	DestLat        *float64 `json:"dest_lat,omitempty"`
	DestLng        *float64 `json:"dest_lng,omitempty"`
	Bearing        int32    `json:"bearing"`
	Distance       *float64 `json:"distance,omitempty"`
	Calories       *float64 `json:"calories,omitempty"`
	HeartRate      *float64 `json:"heart_rate,omitempty"`
	HeartRateAvg   *float64 `json:"heart_rate_avg,omitempty"`
	Steps          *int32   `json:"steps,omitempty"`
	Speed          *float64 `json:"speed,omitempty"`
	SpeedAvg       *float64 `json:"speed_avg,omitempty"`
	Status         Status   `json:"current_status"`
}

// Clone returns a deep copy so callers can hand out snapshots without sharing
// the nullable fields.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	c := *s
	c.CurrentLat = cloneFloat(s.CurrentLat)
	c.CurrentLng = cloneFloat(s.CurrentLng)
	c.DestLat = cloneFloat(s.DestLat)
	c.DestLng = cloneFloat(s.DestLng)
	c.Distance = cloneFloat(s.Distance)
	c.Calories = cloneFloat(s.Calories)
	c.HeartRate = cloneFloat(s.HeartRate)
	c.HeartRateAvg = cloneFloat(s.HeartRateAvg)
	c.Speed = cloneFloat(s.Speed)
	c.SpeedAvg = cloneFloat(s.SpeedAvg)
	if s.Steps != nil {
		v := *s.Steps
		c.Steps = &v
	}
	return &c
}

// HasCurrentPosition reports whether both current coordinates are known.
func (s *Snapshot) HasCurrentPosition() bool {
	return s != nil && s.CurrentLat != nil && s.CurrentLng != nil
}

// HasDestination reports whether both destination coordinates are known.
func (s *Snapshot) HasDestination() bool {
	return s != nil && s.DestLat != nil && s.DestLng != nil
}

// MarshalSnapshot and UnmarshalSnapshot are the JSON form used by key/value
// backed sources.
func MarshalSnapshot(s *Snapshot) ([]byte, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("exercise: marshal snapshot: %w", err)
	}
	return b, nil
}

func UnmarshalSnapshot(b []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("exercise: unmarshal snapshot: %w", err)
	}
	return &s, nil
}

// Float returns a pointer to v, for filling nullable fields.
func Float(v float64) *float64 { return &v }

// Int32 returns a pointer to v.
func Int32(v int32) *int32 { return &v }

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
