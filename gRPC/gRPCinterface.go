package proto

import (
	"EmotionDet/logger"
	"EmotionDet/monitor"
	"EmotionDet/worker"
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type Server struct {
	Pool *worker.Pool
}

// Classify answers with the fields success, emotion, confidence and error.
func (s *Server) Classify(ctx context.Context, req *wrapperspb.BytesValue) (*structpb.Struct, error) {
	img := req.GetValue()
	if len(img) == 0 {
		return nil, status.Error(codes.InvalidArgument, "image data cannot be empty")
	}
	start := time.Now()
	res, err := s.Pool.Submit(ctx, img)
	if err != nil {
		if errors.Is(err, worker.ErrClosed) {
			return nil, status.Error(codes.Unavailable, err.Error())
		}
		return nil, status.FromContextError(err).Err()
	}
	monitor.ObserveResult("grpc", res, time.Since(start))
	if res.Failed() {
		logger.Log().Warn("Inference failed", zap.String("error", res.Error))
	}
	out, err := structpb.NewStruct(map[string]any{
		"success":    !res.Failed(),
		"emotion":    res.Emotion,
		"confidence": res.Confidence,
		"error":      res.Error,
	})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func (s *Server) ModelInfo(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	cfg := s.Pool.Config()
	labels := make([]any, len(cfg.Labels))
	for i, l := range cfg.Labels {
		labels[i] = l
	}
	out, err := structpb.NewStruct(map[string]any{
		"model_path":   cfg.ModelPath,
		"model_kind":   cfg.ModelKind,
		"cascade_path": cfg.CascadePath,
		"input_width":  cfg.InputWidth,
		"input_height": cfg.InputHeight,
		"use_hog":      cfg.UseHOG,
		"labels":       labels,
		"threshold":    cfg.Threshold,
		"workers":      s.Pool.Size(),
	})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// Serve registers srv on a new grpc.Server and serves lis in the background.
func Serve(lis net.Listener, srv *Server) *grpc.Server {
	s := grpc.NewServer()
	RegisterEmotionServiceServer(s, srv)
	go func() {
		logger.Log().Info("gRPC server listening", zap.String("addr", lis.Addr().String()))
		if err := s.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.Log().Error("Failed to serve gRPC server", zap.Error(err))
		}
	}()
	return s
}

func StartGRPCServer(port int, srv *Server) (*grpc.Server, error) {
	addr := fmt.Sprintf(":%d", port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	return Serve(lis, srv), nil
}
