package web

import (
	iface "EmotionDet/interface"
	"EmotionDet/logger"
	"EmotionDet/monitor"
	"encoding/base64"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// DecodeBase64Image strips an optional data URL prefix and decodes the
// payload.
func DecodeBase64Image(b64 string) ([]byte, error) {
	if i := strings.Index(b64, ","); i != -1 && strings.HasPrefix(b64, "data:") {
		b64 = b64[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(b64))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("empty image data")
	}
	return data, nil
}

// stream answers every text frame (a base64 image) with a JSON result. The
// session is closed after IdleTimeout without a message.
func (s *Server) stream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	sessionID := uuid.NewString()
	conn.SetReadLimit(20 * 1024 * 1024)
	logger.Log().Info("Stream session opened", zap.String("session", sessionID))

	for {
		if s.IdleTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.IdleTimeout))
		}
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "idle timeout, released"),
					time.Now().Add(time.Second))
				logger.Log().Info("Stream session idle", zap.String("session", sessionID))
				return
			}
			logger.Log().Info("Stream session closed", zap.String("session", sessionID), zap.Error(err))
			return
		}

		var res iface.Result
		switch mt {
		case websocket.TextMessage:
			data, err := DecodeBase64Image(string(msg))
			if err != nil {
				res = iface.ErrorResult("invalid image: " + err.Error())
				break
			}
			start := time.Now()
			res, err = s.Pool.Submit(c.Request.Context(), data)
			if err != nil {
				res = iface.ErrorResult(err.Error())
				break
			}
			monitor.ObserveResult("ws", res, time.Since(start))
		default:
			res = iface.ErrorResult("unsupported message type")
		}
		if err := conn.WriteJSON(res); err != nil {
			logger.Log().Warn("Stream write failed", zap.String("session", sessionID), zap.Error(err))
			return
		}
	}
}
