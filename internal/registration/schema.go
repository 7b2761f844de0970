package registration

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
)

const schemaPackage = "ecal.registration"

// Message descriptors of sample.proto
var (
	sampleDesc   protoreflect.MessageDescriptor
	topicDesc    protoreflect.MessageDescriptor
	dataTypeDesc protoreflect.MessageDescriptor
	layerDesc    protoreflect.MessageDescriptor
)

func init() {
	fd, err := protodesc.NewFile(sampleFile(), new(protoregistry.Files))
	if err != nil {
		panic(fmt.Sprintf("registration: invalid sample schema: %v", err))
	}
	msgs := fd.Messages()
	sampleDesc = msgs.ByName("Sample")
	topicDesc = msgs.ByName("TopicID")
	dataTypeDesc = msgs.ByName("DataType")
	layerDesc = msgs.ByName("Layer")
}

// sampleFile mirrors sample.proto
func sampleFile() *descriptorpb.FileDescriptorProto {
	const (
		i32  = descriptorpb.FieldDescriptorProto_TYPE_INT32
		i64  = descriptorpb.FieldDescriptorProto_TYPE_INT64
		u64  = descriptorpb.FieldDescriptorProto_TYPE_UINT64
		str  = descriptorpb.FieldDescriptorProto_TYPE_STRING
		byts = descriptorpb.FieldDescriptorProto_TYPE_BYTES
		bl   = descriptorpb.FieldDescriptorProto_TYPE_BOOL
	)

	return &descriptorpb.FileDescriptorProto{
		Name:    proto.String("internal/registration/sample.proto"),
		Package: proto.String(schemaPackage),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			message("TopicID",
				scalar("entity_id", 1, u64),
				scalar("host_name", 2, str),
				scalar("process_id", 3, i32),
				scalar("topic_name", 4, str),
			),
			message("DataType",
				scalar("name", 1, str),
				scalar("encoding", 2, str),
				scalar("descriptor", 3, byts),
			),
			message("Layer",
				scalar("layer", 1, i32),
				scalar("version", 2, i32),
				scalar("read_enabled", 3, bl),
				scalar("write_enabled", 4, bl),
				scalar("active", 5, bl),
				repeated(scalar("memory_files", 6, str)),
				scalar("group", 7, str),
				scalar("host", 8, str),
				scalar("port", 9, i32),
				scalar("parameter_layer", 10, i32),
			),
			message("Sample",
				scalar("type", 1, i32),
				embedded("topic", 2, "TopicID"),
				scalar("process_name", 3, str),
				embedded("data_type", 4, "DataType"),
				repeated(embedded("layers", 5, "Layer")),
				scalar("connections_local", 6, i32),
				scalar("connections_external", 7, i32),
				scalar("data_clock", 8, i64),
				scalar("data_frequency", 9, i32),
				scalar("topic_size", 10, i32),
			),
		},
	}
}

func message(name string, fields ...*descriptorpb.FieldDescriptorProto) *descriptorpb.DescriptorProto {
	return &descriptorpb.DescriptorProto{Name: proto.String(name), Field: fields}
}

func scalar(name string, number int32, typ descriptorpb.FieldDescriptorProto_Type) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(number),
		Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:   typ.Enum(),
	}
}

func embedded(name string, number int32, typeName string) *descriptorpb.FieldDescriptorProto {
	f := scalar(name, number, descriptorpb.FieldDescriptorProto_TYPE_MESSAGE)
	f.TypeName = proto.String("." + schemaPackage + "." + typeName)
	return f
}

func repeated(f *descriptorpb.FieldDescriptorProto) *descriptorpb.FieldDescriptorProto {
	f.Label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum()
	return f
}
