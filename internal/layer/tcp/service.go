// Package tcp implements the TCP transport layer as a gRPC server stream.
//
// Each publisher runs a small gRPC server. A subscriber opens one
// Subscribe stream per publisher, naming the topic, and receives every
// encoded frame as a BytesValue message. Slow subscribers get frames
// dropped once their send queue is full; the publisher never blocks.
package tcp

import (
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	serviceName     = "ecal.tcp.v1.TopicStream"
	subscribeMethod = "/" + serviceName + "/Subscribe"
)

type topicStreamServer interface {
	Subscribe(req *wrapperspb.StringValue, stream grpc.ServerStream) error
}

func subscribeHandler(srv interface{}, stream grpc.ServerStream) error {
	req := new(wrapperspb.StringValue)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(topicStreamServer).Subscribe(req, stream)
}

var topicStreamDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*topicStreamServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       subscribeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "ecal/tcp/v1/topic_stream.proto",
}
