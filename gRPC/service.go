package proto

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	ServiceName     = "emotiondet.EmotionService"
	ClassifyMethod  = "/emotiondet.EmotionService/Classify"
	ModelInfoMethod = "/emotiondet.EmotionService/ModelInfo"
)

// EmotionServiceServer is the server API for EmotionService.
//
//	service EmotionService {
//	  rpc Classify(google.protobuf.BytesValue) returns (google.protobuf.Struct);
//	  rpc ModelInfo(google.protobuf.Empty) returns (google.protobuf.Struct);
//	}
type EmotionServiceServer interface {
	Classify(context.Context, *wrapperspb.BytesValue) (*structpb.Struct, error)
	ModelInfo(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

func RegisterEmotionServiceServer(s grpc.ServiceRegistrar, srv EmotionServiceServer) {
	s.RegisterService(&EmotionServiceDesc, srv)
}

func classifyHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EmotionServiceServer).Classify(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ClassifyMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(EmotionServiceServer).Classify(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func modelInfoHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EmotionServiceServer).ModelInfo(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ModelInfoMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(EmotionServiceServer).ModelInfo(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

var EmotionServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*EmotionServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Classify", Handler: classifyHandler},
		{MethodName: "ModelInfo", Handler: modelInfoHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "emotiondet.proto",
}

type EmotionServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewEmotionServiceClient(cc grpc.ClientConnInterface) *EmotionServiceClient {
	return &EmotionServiceClient{cc: cc}
}

func (c *EmotionServiceClient) Classify(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, ClassifyMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *EmotionServiceClient) ModelInfo(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, ModelInfoMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
