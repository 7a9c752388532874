package wire

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully-qualified gRPC service name for the worker
// connection protocol, standing in for what protoc-gen-go-grpc would
// derive from a .proto package + service declaration.
const ServiceName = "steelpipe.wire.WorkerService"

const executionChannelMethod = "/" + ServiceName + "/ExecutionChannel"

// WorkerServiceServer is implemented by pkg/streaming.Handler.
type WorkerServiceServer interface {
	ExecutionChannel(WorkerService_ExecutionChannelServer) error
}

// WorkerService_ExecutionChannelServer is the server-side view of the
// single bidirectional stream each connected worker holds open.
type WorkerService_ExecutionChannelServer interface {
	Send(*OrchestratorMessage) error
	Recv() (*WorkerMessage, error)
	grpc.ServerStream
}

type workerServiceExecutionChannelServer struct {
	grpc.ServerStream
}

func (x *workerServiceExecutionChannelServer) Send(m *OrchestratorMessage) error {
	return x.ServerStream.SendMsg(m)
}

func (x *workerServiceExecutionChannelServer) Recv() (*WorkerMessage, error) {
	m := new(WorkerMessage)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func executionChannelHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(WorkerServiceServer).ExecutionChannel(&workerServiceExecutionChannelServer{ServerStream: stream})
}

// ServiceDesc is the hand-written grpc.ServiceDesc for the worker
// connection protocol. Registering a streaming method this way needs
// no generated FileDescriptorProto — only this struct and the
// streaming handler function signature, exactly what
// protoc-gen-go-grpc would emit for a bidi-streaming rpc.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*WorkerServiceServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "ExecutionChannel",
			Handler:       executionChannelHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "pkg/wire/service.go",
}

// RegisterWorkerServiceServer wires srv into s, mirroring the
// generated RegisterXServer helpers.
func RegisterWorkerServiceServer(s *grpc.Server, srv WorkerServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// WorkerServiceClient is the worker-side stub for opening ExecutionChannel.
type WorkerServiceClient interface {
	ExecutionChannel(ctx context.Context, opts ...grpc.CallOption) (WorkerService_ExecutionChannelClient, error)
}

type workerServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewWorkerServiceClient wraps a dialed connection as a typed client.
func NewWorkerServiceClient(cc grpc.ClientConnInterface) WorkerServiceClient {
	return &workerServiceClient{cc: cc}
}

func (c *workerServiceClient) ExecutionChannel(ctx context.Context, opts ...grpc.CallOption) (WorkerService_ExecutionChannelClient, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], executionChannelMethod, opts...)
	if err != nil {
		return nil, err
	}
	return &workerServiceExecutionChannelClient{ClientStream: stream}, nil
}

// WorkerService_ExecutionChannelClient is the worker-side view of the
// stream.
type WorkerService_ExecutionChannelClient interface {
	Send(*WorkerMessage) error
	Recv() (*OrchestratorMessage, error)
	grpc.ClientStream
}

type workerServiceExecutionChannelClient struct {
	grpc.ClientStream
}

func (x *workerServiceExecutionChannelClient) Send(m *WorkerMessage) error {
	return x.ClientStream.SendMsg(m)
}

func (x *workerServiceExecutionChannelClient) Recv() (*OrchestratorMessage, error) {
	m := new(OrchestratorMessage)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
