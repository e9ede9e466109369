package engine

import (
	"errors"
	"fmt"
	"image"
	"os"

	"gocv.io/x/gocv"
)

var (
	ErrCascadeMissing = errors.New("Face detection model not found")
	ErrCascadeLoad    = errors.New("Failed to load face detector")
)

type DetectParams struct {
	ScaleFactor  float64
	MinNeighbors int
	MinSize      int
}

var DefaultDetectParams = DetectParams{ScaleFactor: 1.1, MinNeighbors: 4, MinSize: 30}

// FaceLocator finds face rectangles in a preprocessed grayscale frame.
type FaceLocator interface {
	Detect(gray gocv.Mat) []image.Rectangle
	Close() error
}

type CascadeLocator struct {
	Path       string
	params     DetectParams
	classifier gocv.CascadeClassifier
}

func NewCascadeLocator(path string, params DetectParams) (*CascadeLocator, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCascadeMissing, path)
	}
	classifier := gocv.NewCascadeClassifier()
	if !classifier.Load(path) {
		_ = classifier.Close()
		return nil, fmt.Errorf("%w: %s", ErrCascadeLoad, path)
	}
	return &CascadeLocator{Path: path, params: params, classifier: classifier}, nil
}

func (l *CascadeLocator) Detect(gray gocv.Mat) []image.Rectangle {
	return l.classifier.DetectMultiScaleWithParams(
		gray,
		l.params.ScaleFactor,
		l.params.MinNeighbors,
		0,
		image.Pt(l.params.MinSize, l.params.MinSize),
		image.Pt(0, 0),
	)
}

func (l *CascadeLocator) Close() error {
	return l.classifier.Close()
}

// Preprocess converts a frame to grayscale, equalizes its histogram and
// applies a 5x5 Gaussian blur. The caller owns the returned Mat.
func Preprocess(frame gocv.Mat) gocv.Mat {
	gray := gocv.NewMat()
	switch frame.Channels() {
	case 1:
		frame.CopyTo(&gray)
	case 4:
		gocv.CvtColor(frame, &gray, gocv.ColorBGRAToGray)
	default:
		gocv.CvtColor(frame, &gray, gocv.ColorBGRToGray)
	}
	gocv.EqualizeHist(gray, &gray)
	gocv.GaussianBlur(gray, &gray, image.Pt(5, 5), 0, 0, gocv.BorderDefault)
	return gray
}
