package proto

import (
	iface "EmotionDet/interface"
	"EmotionDet/worker"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type MockBackend struct{}

func (m *MockBackend) Classify(img gocv.Mat) iface.Result {
	if img.Cols() < 64 {
		return iface.ErrorResult("No face detected")
	}
	return iface.Result{Emotion: "happy", Confidence: 91.5}
}

func (m *MockBackend) CheckConfig() iface.EngineConfig {
	return iface.EngineConfig{
		ModelPath:   "models/mock.json",
		ModelKind:   "random_forest",
		CascadePath: "data/mock.xml",
		InputWidth:  64,
		InputHeight: 64,
		UseHOG:      true,
		Labels:      []string{"angry", "happy"},
		Threshold:   40,
	}
}

func (m *MockBackend) Destroy() {}

func encode(t *testing.T, w, h int) []byte {
	t.Helper()
	img := gocv.NewMatWithSize(h, w, gocv.MatTypeCV8UC3)
	defer img.Close()
	buf, err := gocv.IMEncode(".jpg", img)
	require.NoError(t, err)
	defer buf.Close()
	return append([]byte(nil), buf.GetBytes()...)
}

func TestMockEngine(t *testing.T) {
	pool, err := worker.Start(2, func(int) (iface.Backend, error) { return &MockBackend{}, nil })
	require.NoError(t, err)
	defer pool.Close()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	server := Serve(lis, &Server{Pool: pool})
	defer server.GracefulStop()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	client := NewEmotionServiceClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	t.Run("Test Classify", func(t *testing.T) {
		resp, err := client.Classify(ctx, wrapperspb.Bytes(encode(t, 128, 128)))
		require.NoError(t, err)
		assert.True(t, resp.Fields["success"].GetBoolValue())
		assert.Equal(t, "happy", resp.Fields["emotion"].GetStringValue())
		assert.Equal(t, 91.5, resp.Fields["confidence"].GetNumberValue())
		assert.Empty(t, resp.Fields["error"].GetStringValue())
	})

	t.Run("Test Classify No Face", func(t *testing.T) {
		resp, err := client.Classify(ctx, wrapperspb.Bytes(encode(t, 32, 32)))
		require.NoError(t, err)
		assert.False(t, resp.Fields["success"].GetBoolValue())
		assert.Equal(t, iface.Unknown, resp.Fields["emotion"].GetStringValue())
		assert.Equal(t, "No face detected", resp.Fields["error"].GetStringValue())
	})

	t.Run("Test Classify Garbage", func(t *testing.T) {
		resp, err := client.Classify(ctx, wrapperspb.Bytes([]byte("not an image")))
		require.NoError(t, err)
		assert.False(t, resp.Fields["success"].GetBoolValue())
		assert.NotEmpty(t, resp.Fields["error"].GetStringValue())
	})

	t.Run("Test Classify Empty", func(t *testing.T) {
		_, err := client.Classify(ctx, &wrapperspb.BytesValue{})
		require.Error(t, err)
		assert.Equal(t, codes.InvalidArgument, status.Code(err))
	})

	t.Run("Test ModelInfo", func(t *testing.T) {
		info, err := client.ModelInfo(ctx, &emptypb.Empty{})
		require.NoError(t, err)
		assert.Equal(t, "random_forest", info.Fields["model_kind"].GetStringValue())
		assert.Equal(t, []any{"angry", "happy"}, info.Fields["labels"].GetListValue().AsSlice())
		assert.Equal(t, float64(64), info.Fields["input_width"].GetNumberValue())
		assert.True(t, info.Fields["use_hog"].GetBoolValue())
		assert.Equal(t, float64(40), info.Fields["threshold"].GetNumberValue())
		assert.Equal(t, float64(2), info.Fields["workers"].GetNumberValue())
	})
}

func TestClassifyAfterPoolClosed(t *testing.T) {
	pool, err := worker.Start(1, func(int) (iface.Backend, error) { return &MockBackend{}, nil })
	require.NoError(t, err)
	pool.Close()

	srv := &Server{Pool: pool}
	_, err = srv.Classify(context.Background(), wrapperspb.Bytes([]byte{1}))
	assert.Equal(t, codes.Unavailable, status.Code(err))
}
