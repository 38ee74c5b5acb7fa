package wire

import (
	"fmt"

	goproto "google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
)

// schemaPackage is the protobuf package of every uplink message.
// The layout mirrors proto/uplink.proto; field numbers must never change.
const schemaPackage = "uplink.v1"

var (
	schema = mustBuildSchema()

	exerciseDataDesc  = schema.Messages().ByName("ExerciseData")
	waypointDesc      = schema.Messages().ByName("Waypoint")
	waypointsListDesc = schema.Messages().ByName("WaypointsList")
	socketDataDesc    = schema.Messages().ByName("SocketData")
)

type fieldType = descriptorpb.FieldDescriptorProto_Type

const (
	typeDouble  = descriptorpb.FieldDescriptorProto_TYPE_DOUBLE
	typeInt32   = descriptorpb.FieldDescriptorProto_TYPE_INT32
	typeInt64   = descriptorpb.FieldDescriptorProto_TYPE_INT64
	typeString  = descriptorpb.FieldDescriptorProto_TYPE_STRING
	typeBytes   = descriptorpb.FieldDescriptorProto_TYPE_BYTES
	typeMessage = descriptorpb.FieldDescriptorProto_TYPE_MESSAGE
)

func field(name string, number int32, typ fieldType) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:   goproto.String(name),
		Number: goproto.Int32(number),
		Type:   typ.Enum(),
		Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
	}
}

func repeatedMessage(name string, number int32, typeName string) *descriptorpb.FieldDescriptorProto {
	f := field(name, number, typeMessage)
	f.Label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum()
	f.TypeName = goproto.String("." + schemaPackage + "." + typeName)
	return f
}

func message(name string, fields ...*descriptorpb.FieldDescriptorProto) *descriptorpb.DescriptorProto {
	return &descriptorpb.DescriptorProto{Name: goproto.String(name), Field: fields}
}

func schemaFile() *descriptorpb.FileDescriptorProto {
	return &descriptorpb.FileDescriptorProto{
		Name:    goproto.String("uplink/v1/uplink.proto"),
		Package: goproto.String(schemaPackage),
		Syntax:  goproto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			message("ExerciseData",
				field("start_time", 1, typeInt64),
				field("update_time", 2, typeInt64),
				field("duration", 3, typeInt64),
				field("curr_lat", 4, typeDouble),
				field("curr_lng", 5, typeDouble),
				field("bearing", 6, typeInt32),
				field("distance", 7, typeDouble),
				field("calories", 8, typeDouble),
				field("heart_rate", 9, typeDouble),
				field("heart_rate_avg", 10, typeDouble),
				field("steps", 11, typeInt32),
				field("speed", 12, typeDouble),
				field("speed_avg", 13, typeDouble),
				field("current_status", 14, typeString),
				field("dest_lat", 15, typeDouble),
				field("dest_lng", 16, typeDouble),
			),
			message("Waypoint",
				field("lat", 1, typeDouble),
				field("lng", 2, typeDouble),
			),
			message("WaypointsList",
				repeatedMessage("waypoints", 1, "Waypoint"),
			),
			message("SocketData",
				field("data_type", 1, typeInt32),
				field("data", 2, typeBytes),
			),
		},
	}
}

func mustBuildSchema() protoreflect.FileDescriptor {
	fd, err := protodesc.NewFile(schemaFile(), new(protoregistry.Files))
	if err != nil {
		panic(fmt.Sprintf("wire: build schema: %v", err))
	}
	return fd
}
