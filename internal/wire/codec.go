// Package wire implements the protobuf encode/decode layer of the uplink.
// Every frame on the socket is one SocketData envelope carrying a data type
// tag and the serialized ExerciseData or WaypointsList message.
package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	goproto "google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/gg-glitch-88/exercise-uplink/internal/exercise"
)

// DataType tags the payload carried by an envelope.
type DataType int32

const (
	DataTypeUnknown      DataType = 0
	DataTypeExerciseData DataType = 1 // ExerciseData
	DataTypeWaypoints    DataType = 2 // WaypointsList
)

func (d DataType) String() string {
	switch d {
	case DataTypeExerciseData:
		return "EXERCISE_DATA"
	case DataTypeWaypoints:
		return "WAYPOINTS"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int32(d))
	}
}

// Envelope is the outer wire structure pairing a type tag with payload bytes.
type Envelope struct {
	Type    DataType
	Payload []byte
}

// Codec encodes and decodes uplink frames.
type Codec struct {
	opts goproto.MarshalOptions
	json protojson.MarshalOptions
}

// New returns a ready Codec. Output is deterministic: the same input always
// produces the same bytes.
func New() *Codec {
	return &Codec{
		opts: goproto.MarshalOptions{Deterministic: true},
		json: protojson.MarshalOptions{UseProtoNames: true, EmitUnpopulated: true},
	}
}

// EncodeSnapshot serialises s as ExerciseData and wraps it in an envelope.
// A nil snapshot, and any nil field, encodes as zero; a missing status as UNKNOWN.
func (c *Codec) EncodeSnapshot(s *exercise.Snapshot) ([]byte, error) {
	payload, err := c.opts.Marshal(snapshotMessage(s))
	if err != nil {
		return nil, fmt.Errorf("wire: marshal exercise data: %w", err)
	}
	return c.Wrap(DataTypeExerciseData, payload)
}

// EncodeWaypoints serialises points as WaypointsList and wraps it in an envelope.
func (c *Codec) EncodeWaypoints(points []exercise.Waypoint) ([]byte, error) {
	if len(points) == 0 {
		return nil, fmt.Errorf("wire: waypoints list must not be empty")
	}
	msg := dynamicpb.NewMessage(waypointsListDesc)
	list := msg.Mutable(waypointsListDesc.Fields().ByName("waypoints")).List()
	for _, p := range points {
		el := list.NewElement()
		wp := el.Message()
		setFloat(wp, waypointDesc, "lat", p.Lat)
		setFloat(wp, waypointDesc, "lng", p.Lng)
		list.Append(el)
	}
	payload, err := c.opts.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal waypoints: %w", err)
	}
	return c.Wrap(DataTypeWaypoints, payload)
}

// Wrap builds the SocketData envelope around an already serialised payload.
func (c *Codec) Wrap(t DataType, payload []byte) ([]byte, error) {
	msg := dynamicpb.NewMessage(socketDataDesc)
	fields := socketDataDesc.Fields()
	msg.Set(fields.ByName("data_type"), protoreflect.ValueOfInt32(int32(t)))
	msg.Set(fields.ByName("data"), protoreflect.ValueOfBytes(payload))
	b, err := c.opts.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal envelope: %w", err)
	}
	return b, nil
}

// Unwrap parses a SocketData envelope.
func (c *Codec) Unwrap(b []byte) (Envelope, error) {
	msg := dynamicpb.NewMessage(socketDataDesc)
	if err := goproto.Unmarshal(b, msg); err != nil {
		return Envelope{}, fmt.Errorf("wire: unmarshal envelope: %w", err)
	}
	fields := socketDataDesc.Fields()
	return Envelope{
		Type:    DataType(msg.Get(fields.ByName("data_type")).Int()),
		Payload: msg.Get(fields.ByName("data")).Bytes(),
	}, nil
}

// DecodeSnapshot parses an ExerciseData payload. Fields that were zero on the
// wire come back as zero, never nil.
func (c *Codec) DecodeSnapshot(payload []byte) (*exercise.Snapshot, error) {
	msg := dynamicpb.NewMessage(exerciseDataDesc)
	if err := goproto.Unmarshal(payload, msg); err != nil {
		return nil, fmt.Errorf("wire: unmarshal exercise data: %w", err)
	}
	f := exerciseDataDesc.Fields()
	float := func(name string) *float64 {
		return exercise.Float(msg.Get(f.ByName(protoreflect.Name(name))).Float())
	}
	return &exercise.Snapshot{
		StartTime:      msg.Get(f.ByName("start_time")).Int(),
		UpdateTime:     msg.Get(f.ByName("update_time")).Int(),
		ActiveDuration: msg.Get(f.ByName("duration")).Int(),
		CurrentLat:     float("curr_lat"),
		CurrentLng:     float("curr_lng"),
		DestLat:        float("dest_lat"),
		DestLng:        float("dest_lng"),
		Bearing:        int32(msg.Get(f.ByName("bearing")).Int()),
		Distance:       float("distance"),
		Calories:       float("calories"),
		HeartRate:      float("heart_rate"),
		HeartRateAvg:   float("heart_rate_avg"),
		Steps:          exercise.Int32(int32(msg.Get(f.ByName("steps")).Int())),
		Speed:          float("speed"),
		SpeedAvg:       float("speed_avg"),
		Status:         exercise.ParseStatus(msg.Get(f.ByName("current_status")).String()),
	}, nil
}

// DecodeWaypoints parses a WaypointsList payload.
func (c *Codec) DecodeWaypoints(payload []byte) ([]exercise.Waypoint, error) {
	msg := dynamicpb.NewMessage(waypointsListDesc)
	if err := goproto.Unmarshal(payload, msg); err != nil {
		return nil, fmt.Errorf("wire: unmarshal waypoints: %w", err)
	}
	list := msg.Get(waypointsListDesc.Fields().ByName("waypoints")).List()
	out := make([]exercise.Waypoint, 0, list.Len())
	for i := 0; i < list.Len(); i++ {
		wp := list.Get(i).Message()
		out = append(out, exercise.Waypoint{
			Lat: wp.Get(waypointDesc.Fields().ByName("lat")).Float(),
			Lng: wp.Get(waypointDesc.Fields().ByName("lng")).Float(),
		})
	}
	return out, nil
}

// JSON renders an encoded envelope and its payload as JSON for debug logs.
func (c *Codec) JSON(frame []byte) (string, error) {
	env, err := c.Unwrap(frame)
	if err != nil {
		return "", err
	}
	var desc protoreflect.MessageDescriptor
	switch env.Type {
	case DataTypeExerciseData:
		desc = exerciseDataDesc
	case DataTypeWaypoints:
		desc = waypointsListDesc
	default:
		return "", fmt.Errorf("wire: unknown data type %s", env.Type)
	}
	msg := dynamicpb.NewMessage(desc)
	if err := goproto.Unmarshal(env.Payload, msg); err != nil {
		return "", fmt.Errorf("wire: unmarshal %s: %w", env.Type, err)
	}
	b, err := c.json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("wire: render %s: %w", env.Type, err)
	}
	return string(b), nil
}

// ── internal ──────────────────────────────────────────────────────────────

func snapshotMessage(s *exercise.Snapshot) *dynamicpb.Message {
	msg := dynamicpb.NewMessage(exerciseDataDesc)
	if s == nil {
		s = &exercise.Snapshot{}
	}
	d := exerciseDataDesc
	setInt64(msg, d, "start_time", s.StartTime)
	setInt64(msg, d, "update_time", s.UpdateTime)
	setInt64(msg, d, "duration", s.ActiveDuration)
	setFloat(msg, d, "curr_lat", orZero(s.CurrentLat))
	setFloat(msg, d, "curr_lng", orZero(s.CurrentLng))
	setInt32(msg, d, "bearing", s.Bearing)
	setFloat(msg, d, "distance", orZero(s.Distance))
	setFloat(msg, d, "calories", orZero(s.Calories))
	setFloat(msg, d, "heart_rate", orZero(s.HeartRate))
	setFloat(msg, d, "heart_rate_avg", orZero(s.HeartRateAvg))
	var steps int32
	if s.Steps != nil {
		steps = *s.Steps
	}
	setInt32(msg, d, "steps", steps)
	setFloat(msg, d, "speed", orZero(s.Speed))
	setFloat(msg, d, "speed_avg", orZero(s.SpeedAvg))
	msg.Set(d.Fields().ByName("current_status"), protoreflect.ValueOfString(s.Status.String()))
	setFloat(msg, d, "dest_lat", orZero(s.DestLat))
	setFloat(msg, d, "dest_lng", orZero(s.DestLng))
	return msg
}

func setFloat(m protoreflect.Message, d protoreflect.MessageDescriptor, name protoreflect.Name, v float64) {
	m.Set(d.Fields().ByName(name), protoreflect.ValueOfFloat64(v))
}

func setInt32(m protoreflect.Message, d protoreflect.MessageDescriptor, name protoreflect.Name, v int32) {
	m.Set(d.Fields().ByName(name), protoreflect.ValueOfInt32(v))
}

func setInt64(m protoreflect.Message, d protoreflect.MessageDescriptor, name protoreflect.Name, v int64) {
	m.Set(d.Fields().ByName(name), protoreflect.ValueOfInt64(v))
}

func orZero(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}
