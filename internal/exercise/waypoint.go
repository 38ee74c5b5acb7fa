package exercise

// Waypoint is a single lat/lng point sent to the server for routing.
type Waypoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Waypoints derives the waypoint list for a snapshot: the current position
// first, then the destination if both of its coordinates are known.
// It returns nil when the current position is unknown.
func Waypoints(s *Snapshot) []Waypoint {
	if !s.HasCurrentPosition() {
		return nil
	}
	out := make([]Waypoint, 0, 2)
	out = append(out, Waypoint{Lat: *s.CurrentLat, Lng: *s.CurrentLng})
	if s.HasDestination() {
		out = append(out, Waypoint{Lat: *s.DestLat, Lng: *s.DestLng})
	}
	return out
}

// Destination is the last destination handed to the server. Each coordinate
// is compared independently, with nil equal only to nil.
type Destination struct {
	Lat *float64
	Lng *float64
}

// DestinationOf captures the destination coordinates of s.
func DestinationOf(s *Snapshot) Destination {
	if s == nil {
		return Destination{}
	}
	return Destination{Lat: cloneFloat(s.DestLat), Lng: cloneFloat(s.DestLng)}
}

// Equal reports whether d and o name the same destination.
func (d Destination) Equal(o Destination) bool {
	return equalFloat(d.Lat, o.Lat) && equalFloat(d.Lng, o.Lng)
}

func equalFloat(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
