// Package web exposes the emotion classifier over HTTP: a multipart upload
// endpoint, model and health introspection, and a websocket stream of frames.
package web

import (
	iface "EmotionDet/interface"
	"EmotionDet/logger"
	"EmotionDet/monitor"
	"EmotionDet/worker"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var allowedExt = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

type Server struct {
	Pool         *worker.Pool
	UploadDir    string
	AllowOrigins []string
	// Aliases rename reported emotions, e.g. relaxed -> happy.
	Aliases     map[string]string
	IdleTimeout time.Duration
}

func zapMiddleware(c *gin.Context) {
	start := time.Now()
	c.Next()
	logger.Log().Info("HTTP request",
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Int("status", c.Writer.Status()),
		zap.Duration("latency", time.Since(start)),
		zap.String("client", c.ClientIP()),
	)
}

func (s *Server) Router() *gin.Engine {
	router := gin.New()
	_ = router.SetTrustedProxies([]string{})
	router.Use(gin.Recovery(), zapMiddleware)
	corsCfg := cors.Config{
		AllowOrigins:     s.AllowOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(s.AllowOrigins) == 0 {
		corsCfg.AllowOrigins = nil
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	}
	router.Use(cors.New(corsCfg))

	router.GET("/api/health", s.health)
	router.GET("/api/model", s.modelInfo)
	router.POST("/api/emotion-detect", s.emotionDetect)
	router.GET("/ws/stream", s.stream)
	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Endpoint not found"})
	})
	return router
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "OK", "timestamp": time.Now().UTC().Format(time.RFC3339)})
}

func (s *Server) modelInfo(c *gin.Context) {
	cfg := s.Pool.Config()
	c.JSON(http.StatusOK, gin.H{
		"model_path":   cfg.ModelPath,
		"model_kind":   cfg.ModelKind,
		"input_width":  cfg.InputWidth,
		"input_height": cfg.InputHeight,
		"use_hog":      cfg.UseHOG,
		"labels":       cfg.Labels,
		"threshold":    cfg.Threshold,
		"workers":      s.Pool.Size(),
	})
}

func (s *Server) emotionDetect(c *gin.Context) {
	file, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No image uploaded"})
		return
	}
	ext := strings.ToLower(filepath.Ext(file.Filename))
	if !allowedExt[ext] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Only image files are allowed!"})
		return
	}

	path := filepath.Join(s.UploadDir, uuid.NewString()+ext)
	if err := c.SaveUploadedFile(file, path); err != nil {
		logger.Log().Error("save upload", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Upload failed - file not saved"})
		return
	}
	defer func() {
		if err := os.Remove(path); err != nil {
			logger.Log().Warn("Error deleting uploaded file", zap.String("path", path), zap.Error(err))
		}
	}()
	logger.Log().Info("Processing image", zap.String("path", path), zap.String("filename", file.Filename), zap.Int64("size", file.Size))

	data, err := os.ReadFile(path)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Upload failed - file not saved"})
		return
	}
	start := time.Now()
	res, err := s.Pool.Submit(c.Request.Context(), data)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Emotion detection failed: " + err.Error()})
		return
	}
	monitor.ObserveResult("http", res, time.Since(start))

	if res.Failed() {
		c.JSON(http.StatusBadRequest, gin.H{"error": res.Error})
		return
	}
	if res.Emotion == "" || res.Emotion == iface.Unknown {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No face or emotion detected in image"})
		return
	}
	emotion := s.alias(res.Emotion)
	c.JSON(http.StatusOK, gin.H{
		"emotion":    emotion,
		"confidence": res.Confidence,
		"message":    fmt.Sprintf("Detected %s with %.2f%% confidence", emotion, res.Confidence),
	})
}

func (s *Server) alias(emotion string) string {
	if to, ok := s.Aliases[emotion]; ok {
		logger.Log().Debug("Mapping detected emotion", zap.String("from", emotion), zap.String("to", to))
		return to
	}
	return emotion
}

// Start serves the router on port until ctx is cancelled.
func (s *Server) Start(ctx context.Context, port int) error {
	if err := os.MkdirAll(s.UploadDir, 0o755); err != nil {
		return fmt.Errorf("create upload dir: %w", err)
	}
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.Router(),
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Log().Info("HTTP server listening", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
