// Package live runs the interactive camera loop: every frame is annotated with
// face boxes and labels, SPACE prints a classification of the current frame and
// ESC quits.
package live

import (
	"EmotionDet/engine"
	"EmotionDet/logger"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"io"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

const (
	KeyEsc   = 27
	KeySpace = 32
)

var boxColor = color.RGBA{G: 255, A: 255}

type FrameSource interface {
	Read(frame *gocv.Mat) bool
	Close() error
}

type Display interface {
	IMShow(img gocv.Mat)
	WaitKey(delay int) int
	Close() error
}

type Loop struct {
	Source   FrameSource
	Display  Display
	Detector *engine.Detector
	// Out receives one JSON result line per SPACE press.
	Out io.Writer
}

// Run blocks until ESC is pressed or ctx is cancelled. Source and Display are
// closed on return.
func (l *Loop) Run(ctx context.Context) error {
	defer func() {
		if err := l.Source.Close(); err != nil {
			logger.Log().Warn("release camera", zap.Error(err))
		}
		if err := l.Display.Close(); err != nil {
			logger.Log().Warn("close window", zap.Error(err))
		}
	}()

	enc := json.NewEncoder(l.Out)
	frame := gocv.NewMat()
	defer frame.Close()

	logger.Log().Info("Press SPACE to detect emotion, ESC to quit")
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if ok := l.Source.Read(&frame); !ok || frame.Empty() {
			if l.Display.WaitKey(1) == KeyEsc {
				return nil
			}
			continue
		}

		annotated := l.annotate(frame)
		l.Display.IMShow(annotated)
		annotated.Close()

		switch l.Display.WaitKey(1) {
		case KeyEsc:
			return nil
		case KeySpace:
			res := l.Detector.Classify(frame)
			if err := enc.Encode(res); err != nil {
				return fmt.Errorf("write result: %w", err)
			}
		}
	}
}

// annotate returns a copy of frame with a box per face and, above it, either
// the label and confidence or "Face Detected" when below the threshold.
func (l *Loop) annotate(frame gocv.Mat) gocv.Mat {
	out := frame.Clone()
	gray, rects := l.Detector.Locate(frame)
	defer gray.Close()

	for _, r := range rects {
		gocv.Rectangle(&out, r, boxColor, 2)
		text := "Face Detected"
		label, confidence, err := l.Detector.ClassifyFace(gray, r)
		if err != nil {
			logger.Log().Debug("classify face", zap.Error(err))
		} else if confidence >= l.Detector.Threshold {
			text = fmt.Sprintf("%s: %.1f%%", label, confidence)
		}
		gocv.PutText(&out, text, image.Pt(r.Min.X, r.Min.Y-10), gocv.FontHersheySimplex, 0.9, boxColor, 2)
	}
	return out
}
