package web

import (
	iface "EmotionDet/interface"
	"EmotionDet/worker"
	"bytes"
	"encoding/base64"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

// MockBackend reports an emotion chosen by the image width so tests can drive
// every response branch.
type MockBackend struct{}

func (m *MockBackend) Classify(img gocv.Mat) iface.Result {
	switch img.Cols() {
	case 10:
		return iface.ErrorResult("No face detected")
	case 20:
		return iface.Result{Emotion: iface.Unknown, Confidence: 31.2}
	case 30:
		return iface.Result{Emotion: "relaxed", Confidence: 77.777}
	}
	return iface.Result{Emotion: "sad", Confidence: 64.5}
}

func (m *MockBackend) CheckConfig() iface.EngineConfig {
	return iface.EngineConfig{ModelPath: "models/emotion_model_advanced.json", ModelKind: "random_forest", InputWidth: 64, InputHeight: 64, UseHOG: true, Labels: []string{"relaxed", "sad"}, Threshold: 40}
}

func (m *MockBackend) Destroy() {}

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	pool, err := worker.Start(1, func(int) (iface.Backend, error) { return &MockBackend{}, nil })
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return &Server{
		Pool:         pool,
		UploadDir:    t.TempDir(),
		AllowOrigins: []string{"http://localhost:3000"},
		Aliases:      map[string]string{"relaxed": "happy"},
		IdleTimeout:  time.Second,
	}
}

func pngBytes(t *testing.T, w int) []byte {
	t.Helper()
	img := gocv.NewMatWithSize(8, w, gocv.MatTypeCV8UC3)
	defer img.Close()
	buf, err := gocv.IMEncode(gocv.PNGFileExt, img)
	require.NoError(t, err)
	defer buf.Close()
	return append([]byte(nil), buf.GetBytes()...)
}

func upload(t *testing.T, router http.Handler, field, filename string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if field != "" {
		fw, err := mw.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/emotion-detect", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestEmotionDetect(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()

	t.Run("Detected", func(t *testing.T) {
		rec := upload(t, router, "image", "face.png", pngBytes(t, 40))
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "sad", body["emotion"])
		assert.Equal(t, 64.5, body["confidence"])
		assert.Equal(t, "Detected sad with 64.50% confidence", body["message"])
	})

	t.Run("Alias", func(t *testing.T) {
		rec := upload(t, router, "image", "face.JPG", pngBytes(t, 30))
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "happy", body["emotion"])
		assert.Equal(t, "Detected happy with 77.78% confidence", body["message"])
	})

	t.Run("Unknown", func(t *testing.T) {
		rec := upload(t, router, "image", "face.png", pngBytes(t, 20))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "No face or emotion detected in image", decode(t, rec)["error"])
	})

	t.Run("Error result", func(t *testing.T) {
		rec := upload(t, router, "image", "face.png", pngBytes(t, 10))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "No face detected", decode(t, rec)["error"])
	})

	t.Run("Wrong extension", func(t *testing.T) {
		rec := upload(t, router, "image", "face.gif", pngBytes(t, 40))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Only image files are allowed!", decode(t, rec)["error"])
	})

	t.Run("Missing file", func(t *testing.T) {
		rec := upload(t, router, "", "", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "No image uploaded", decode(t, rec)["error"])
	})

	t.Run("Uploads removed", func(t *testing.T) {
		entries, err := os.ReadDir(s.UploadDir)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}

func TestHealthModelAndNotFound(t *testing.T) {
	router := newTestServer(t).Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "OK", body["status"])
	_, err := time.Parse(time.RFC3339, body["timestamp"].(string))
	assert.NoError(t, err)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/model", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, "random_forest", body["model_kind"])
	assert.Equal(t, true, body["use_hog"])
	assert.Equal(t, []any{"relaxed", "sad"}, body["labels"])

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Endpoint not found", decode(t, rec)["error"])
}

func TestCORS(t *testing.T) {
	router := newTestServer(t).Router()

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDecodeBase64Image(t *testing.T) {
	raw := []byte{1, 2, 3, 4}
	enc := base64.StdEncoding.EncodeToString(raw)

	got, err := DecodeBase64Image(enc)
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	got, err = DecodeBase64Image("data:image/png;base64," + enc)
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	_, err = DecodeBase64Image("!!!")
	assert.Error(t, err)
	_, err = DecodeBase64Image("")
	assert.Error(t, err)
}

func TestStream(t *testing.T) {
	s := newTestServer(t)
	s.IdleTimeout = 300 * time.Millisecond
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws/stream", nil)
	require.NoError(t, err)
	defer conn.Close()

	var res iface.Result
	msg := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes(t, 40))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))
	require.NoError(t, conn.ReadJSON(&res))
	assert.Equal(t, "sad", res.Emotion)
	assert.Equal(t, 64.5, res.Confidence)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not base64 !")))
	res = iface.Result{}
	require.NoError(t, conn.ReadJSON(&res))
	assert.True(t, strings.HasPrefix(res.Error, "invalid image"))

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{1}))
	res = iface.Result{}
	require.NoError(t, conn.ReadJSON(&res))
	assert.Equal(t, "unsupported message type", res.Error)

	// Idle session is closed by the server.
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}
