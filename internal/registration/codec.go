package registration

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/rmacdonaldsmith/ecal-go/internal/errs"
	registrationpkg "github.com/rmacdonaldsmith/ecal-go/pkg/registration"
	"github.com/rmacdonaldsmith/ecal-go/pkg/transport"
)

// Encode serializes a sample as an ecal.registration.Sample message. It
// fails on strings that are not valid UTF-8.
func Encode(s registrationpkg.Sample) ([]byte, error) {
	m := newWireMessage(sampleDesc)
	m.setInt("type", int64(s.Type))
	m.setMessage("topic", encodeTopic(s.Topic))
	m.setString("process_name", s.ProcessName)
	m.setMessage("data_type", encodeDataType(s.DataType))
	for _, l := range s.Layers {
		m.addMessage("layers", func(lm wireMessage) { encodeLayer(lm, l) })
	}
	m.setInt("connections_local", int64(s.ConnectionsLocal))
	m.setInt("connections_external", int64(s.ConnectionsExternal))
	m.setInt("data_clock", s.DataClock)
	m.setInt("data_frequency", int64(s.DataFrequency))
	m.setInt("topic_size", int64(s.TopicSize))

	b, err := proto.MarshalOptions{Deterministic: true}.Marshal(m.msg.Interface())
	if err != nil {
		return nil, fmt.Errorf("encode %s sample for %q: %w", s.Type, s.Topic.TopicName, err)
	}
	return b, nil
}

func encodeTopic(t registrationpkg.TopicID) wireMessage {
	m := newWireMessage(topicDesc)
	m.setUint("entity_id", t.Entity.ID)
	m.setString("host_name", t.Entity.HostName)
	m.setInt("process_id", int64(t.Entity.ProcessID))
	m.setString("topic_name", t.TopicName)
	return m
}

func encodeDataType(d registrationpkg.DataTypeInformation) wireMessage {
	m := newWireMessage(dataTypeDesc)
	m.setString("name", d.Name)
	m.setString("encoding", d.Encoding)
	m.setBytes("descriptor", d.Descriptor)
	return m
}

func encodeLayer(m wireMessage, l registrationpkg.LayerSample) {
	m.setInt("layer", int64(l.Layer))
	m.setInt("version", int64(l.Version))
	m.setBool("read_enabled", l.State.ReadEnabled)
	m.setBool("write_enabled", l.State.WriteEnabled)
	m.setBool("active", l.State.Active)
	for _, f := range l.Parameter.MemoryFiles {
		m.addString("memory_files", f)
	}
	m.setString("group", l.Parameter.Group)
	m.setString("host", l.Parameter.Host)
	m.setInt("port", int64(l.Parameter.Port))
	m.setInt("parameter_layer", int64(l.Parameter.Layer))
}

// Decode parses a sample produced by Encode. Unknown fields are skipped.
func Decode(b []byte) (registrationpkg.Sample, error) {
	msg := dynamicpb.NewMessage(sampleDesc)
	if err := proto.Unmarshal(b, msg); err != nil {
		return registrationpkg.Sample{}, fmt.Errorf("%w: %v", errs.ErrDecode, err)
	}
	m := wireMessage{msg: msg}

	s := registrationpkg.Sample{
		Type:                registrationpkg.SampleType(m.intField("type")),
		Topic:               decodeTopic(m.messageField("topic")),
		ProcessName:         m.stringField("process_name"),
		DataType:            decodeDataType(m.messageField("data_type")),
		ConnectionsLocal:    int32(m.intField("connections_local")),
		ConnectionsExternal: int32(m.intField("connections_external")),
		DataClock:           m.intField("data_clock"),
		DataFrequency:       int32(m.intField("data_frequency")),
		TopicSize:           int32(m.intField("topic_size")),
	}
	layers := m.listField("layers")
	for i := 0; i < layers.Len(); i++ {
		s.Layers = append(s.Layers, decodeLayer(wireMessage{msg: layers.Get(i).Message()}))
	}

	if s.Type <= registrationpkg.SampleNone || s.Type > registrationpkg.SampleUnregisterSubscriber {
		return registrationpkg.Sample{}, fmt.Errorf("%w: unknown sample type %d", errs.ErrDecode, int(s.Type))
	}
	if s.Topic.TopicName == "" {
		return registrationpkg.Sample{}, fmt.Errorf("%w: sample without topic name", errs.ErrDecode)
	}
	return s, nil
}

func decodeTopic(m wireMessage) registrationpkg.TopicID {
	return registrationpkg.TopicID{
		Entity: registrationpkg.EntityID{
			ID:        m.uintField("entity_id"),
			HostName:  m.stringField("host_name"),
			ProcessID: int32(m.intField("process_id")),
		},
		TopicName: m.stringField("topic_name"),
	}
}

func decodeDataType(m wireMessage) registrationpkg.DataTypeInformation {
	d := registrationpkg.DataTypeInformation{
		Name:     m.stringField("name"),
		Encoding: m.stringField("encoding"),
	}
	if b := m.bytesField("descriptor"); len(b) > 0 {
		d.Descriptor = append([]byte(nil), b...)
	}
	return d
}

func decodeLayer(m wireMessage) registrationpkg.LayerSample {
	l := registrationpkg.LayerSample{
		Layer:   transport.Layer(m.intField("layer")),
		Version: int32(m.intField("version")),
		State: transport.LayerState{
			ReadEnabled:  m.boolField("read_enabled"),
			WriteEnabled: m.boolField("write_enabled"),
			Active:       m.boolField("active"),
		},
		Parameter: transport.ConnectionParameter{
			Layer: transport.Layer(m.intField("parameter_layer")),
			Group: m.stringField("group"),
			Host:  m.stringField("host"),
			Port:  int(m.intField("port")),
		},
	}
	files := m.listField("memory_files")
	for i := 0; i < files.Len(); i++ {
		l.Parameter.MemoryFiles = append(l.Parameter.MemoryFiles, files.Get(i).String())
	}
	return l
}

// wireMessage reads and writes the fields of a schema message by name.
// Zero values are left unset, as proto3 does.
type wireMessage struct {
	msg protoreflect.Message
}

func newWireMessage(d protoreflect.MessageDescriptor) wireMessage {
	return wireMessage{msg: dynamicpb.NewMessage(d)}
}

func (m wireMessage) field(name protoreflect.Name) protoreflect.FieldDescriptor {
	fd := m.msg.Descriptor().Fields().ByName(name)
	if fd == nil {
		panic(fmt.Sprintf("registration: %s has no field %q", m.msg.Descriptor().FullName(), name))
	}
	return fd
}

func (m wireMessage) setInt(name protoreflect.Name, v int64) {
	if v == 0 {
		return
	}
	fd := m.field(name)
	if fd.Kind() == protoreflect.Int32Kind {
		m.msg.Set(fd, protoreflect.ValueOfInt32(int32(v)))
		return
	}
	m.msg.Set(fd, protoreflect.ValueOfInt64(v))
}

func (m wireMessage) setUint(name protoreflect.Name, v uint64) {
	if v != 0 {
		m.msg.Set(m.field(name), protoreflect.ValueOfUint64(v))
	}
}

func (m wireMessage) setBool(name protoreflect.Name, v bool) {
	if v {
		m.msg.Set(m.field(name), protoreflect.ValueOfBool(true))
	}
}

func (m wireMessage) setString(name protoreflect.Name, v string) {
	if v != "" {
		m.msg.Set(m.field(name), protoreflect.ValueOfString(v))
	}
}

func (m wireMessage) setBytes(name protoreflect.Name, v []byte) {
	if len(v) > 0 {
		m.msg.Set(m.field(name), protoreflect.ValueOfBytes(v))
	}
}

func (m wireMessage) setMessage(name protoreflect.Name, v wireMessage) {
	m.msg.Set(m.field(name), protoreflect.ValueOfMessage(v.msg))
}

func (m wireMessage) addString(name protoreflect.Name, v string) {
	m.msg.Mutable(m.field(name)).List().Append(protoreflect.ValueOfString(v))
}

// addMessage appends a new element to a repeated message field and lets
// fill populate it
func (m wireMessage) addMessage(name protoreflect.Name, fill func(wireMessage)) {
	list := m.msg.Mutable(m.field(name)).List()
	elem := list.NewElement()
	fill(wireMessage{msg: elem.Message()})
	list.Append(elem)
}

func (m wireMessage) intField(name protoreflect.Name) int64 {
	return m.msg.Get(m.field(name)).Int()
}

func (m wireMessage) uintField(name protoreflect.Name) uint64 {
	return m.msg.Get(m.field(name)).Uint()
}

func (m wireMessage) boolField(name protoreflect.Name) bool {
	return m.msg.Get(m.field(name)).Bool()
}

func (m wireMessage) stringField(name protoreflect.Name) string {
	return m.msg.Get(m.field(name)).String()
}

func (m wireMessage) bytesField(name protoreflect.Name) []byte {
	return m.msg.Get(m.field(name)).Bytes()
}

func (m wireMessage) messageField(name protoreflect.Name) wireMessage {
	return wireMessage{msg: m.msg.Get(m.field(name)).Message()}
}

func (m wireMessage) listField(name protoreflect.Name) protoreflect.List {
	return m.msg.Get(m.field(name)).List()
}
