package engine

import (
	"EmotionDet/hog"
	iface "EmotionDet/interface"
	"EmotionDet/logger"
	"EmotionDet/model"
	"errors"
	"fmt"
	"image"
	"sync"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

const UNREGISTERED = 0x0001
const REGISTERED = 0x0002
const IDLE = 0x0003
const BUSY = 0x0004

// DefaultThreshold is the minimum confidence, in percent, for a label to be
// reported.
const DefaultThreshold = 40.0

var (
	ErrNoFace          = errors.New("No face detected")
	ErrUnreadableImage = errors.New("Could not read image")
	ErrNotLoaded       = errors.New("Model not loaded")
	ErrNotRegistered   = errors.New("Detector not registered")
	ErrBusy            = errors.New("Detector is busy")
)

// Detector runs the face -> features -> classifier pipeline. A Detector owns a
// cascade classifier and must not be shared between goroutines; the model
// bundle it points to is immutable and may be shared.
type Detector struct {
	mu        sync.Mutex
	State     int
	Threshold float64
	locator   FaceLocator
	bundle    *model.Bundle
	cascade   string
}

// New loads the cascade at cascadePath and registers the detector.
func (d *Detector) New(cascadePath string, params DetectParams) error {
	l, err := NewCascadeLocator(cascadePath, params)
	if err != nil {
		return err
	}
	d.UseLocator(l)
	d.cascade = cascadePath
	return nil
}

// UseLocator registers the detector with an already built locator.
func (d *Detector) UseLocator(l FaceLocator) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.locator = l
	if d.bundle != nil {
		d.State = IDLE
	} else {
		d.State = REGISTERED
	}
}

func (d *Detector) LoadModel(bundle *model.Bundle, threshold float64) error {
	if bundle == nil {
		return ErrNotLoaded
	}
	if threshold < 0 || threshold > 100 {
		return fmt.Errorf("threshold must be between 0 and 100, got %v", threshold)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bundle = bundle
	d.Threshold = threshold
	if d.locator != nil {
		d.State = IDLE
	}
	return nil
}

func (d *Detector) Bundle() *model.Bundle {
	return d.bundle
}

func (d *Detector) CheckConfig() iface.EngineConfig {
	cfg := iface.EngineConfig{CascadePath: d.cascade, Threshold: d.Threshold}
	if d.bundle != nil {
		cfg.ModelPath = d.bundle.Path
		cfg.ModelKind = d.bundle.Classifier.Kind()
		cfg.InputWidth = d.bundle.InputShape.Width
		cfg.InputHeight = d.bundle.InputShape.Height
		cfg.UseHOG = d.bundle.UsesHOG()
		cfg.Labels = d.bundle.Labels()
	}
	return cfg
}

func (d *Detector) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.locator != nil {
		if err := d.locator.Close(); err != nil {
			logger.Log().Warn("closing face locator", zap.Error(err))
		}
	}
	d.locator = nil
	d.bundle = nil
	d.cascade = ""
	d.Threshold = 0
	d.State = UNREGISTERED
}

func (d *Detector) acquire() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch d.State {
	case 0, UNREGISTERED:
		return ErrNotRegistered
	case REGISTERED:
		return ErrNotLoaded
	case BUSY:
		return ErrBusy
	}
	d.State = BUSY
	return nil
}

func (d *Detector) release() {
	d.mu.Lock()
	d.State = IDLE
	d.mu.Unlock()
}

// ClassifyFile reads an image from disk and classifies it.
func (d *Detector) ClassifyFile(path string) iface.Result {
	logger.Log().Info("Processing image", zap.String("path", path))
	img := gocv.IMRead(path, gocv.IMReadColor)
	defer img.Close()
	if img.Empty() {
		err := fmt.Errorf("%w at %s", ErrUnreadableImage, path)
		logger.Log().Error("read image", zap.Error(err))
		return iface.ErrorResult(err.Error())
	}
	logger.Log().Debug("Image shape", zap.Int("rows", img.Rows()), zap.Int("cols", img.Cols()), zap.Int("channels", img.Channels()))
	return d.Classify(img)
}

// Classify locates faces in a BGR (or grayscale) frame and classifies the
// first one.
func (d *Detector) Classify(img gocv.Mat) iface.Result {
	if err := d.acquire(); err != nil {
		return iface.ErrorResult(err.Error())
	}
	defer d.release()

	if img.Empty() {
		return iface.ErrorResult("empty image")
	}
	gray, rects := d.locate(img)
	defer gray.Close()
	logger.Log().Debug("Detected faces", zap.Int("count", len(rects)))
	if len(rects) == 0 {
		return iface.ErrorResult(ErrNoFace.Error())
	}

	label, confidence, err := d.ClassifyFace(gray, rects[0])
	if err != nil {
		logger.Log().Error("classify face", zap.Error(err))
		return iface.ErrorResult(err.Error())
	}
	logger.Log().Info("Predicted emotion", zap.String("emotion", label), zap.Float64("confidence", confidence))
	return d.result(label, confidence)
}

func (d *Detector) result(label string, confidence float64) iface.Result {
	if confidence < d.Threshold {
		return iface.Result{Emotion: iface.Unknown, Confidence: confidence}
	}
	return iface.Result{Emotion: label, Confidence: confidence}
}

// Locate preprocesses a frame and returns the grayscale image together with
// the detected face rectangles. The caller closes the returned Mat.
func (d *Detector) Locate(frame gocv.Mat) (gocv.Mat, []image.Rectangle) {
	return d.locate(frame)
}

func (d *Detector) locate(frame gocv.Mat) (gocv.Mat, []image.Rectangle) {
	gray := Preprocess(frame)
	if d.locator == nil {
		return gray, nil
	}
	return gray, d.locator.Detect(gray)
}

// ClassifyFace classifies one face rectangle of a preprocessed grayscale
// frame and returns the raw label with its confidence in percent. The
// threshold is not applied.
func (d *Detector) ClassifyFace(gray gocv.Mat, rect image.Rectangle) (string, float64, error) {
	if d.bundle == nil {
		return "", 0, ErrNotLoaded
	}
	x, err := d.features(gray, rect)
	if err != nil {
		return "", 0, err
	}
	clf := d.bundle.Classifier
	predicted, err := clf.Predict(x)
	if err != nil {
		return "", 0, err
	}
	proba, err := clf.PredictProba(x)
	if err != nil {
		return "", 0, err
	}
	label, err := d.bundle.Encoder.InverseTransform(predicted)
	if err != nil {
		return "", 0, err
	}
	var best float64
	for _, p := range proba {
		if p > best {
			best = p
		}
	}
	return label, best * 100, nil
}

func (d *Detector) features(gray gocv.Mat, rect image.Rectangle) ([]float64, error) {
	rect = rect.Intersect(image.Rect(0, 0, gray.Cols(), gray.Rows()))
	if rect.Empty() {
		return nil, fmt.Errorf("face rectangle outside the image")
	}
	roi := gray.Region(rect)
	defer roi.Close()

	shape := d.bundle.InputShape
	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(roi, &resized, image.Pt(shape.Width, shape.Height), 0, 0, gocv.InterpolationLinear)
	logger.Log().Debug("Resized face", zap.Stringer("shape", shape))

	return Extract(resized.ToBytes(), shape.Width, shape.Height, d.bundle.UsesHOG())
}

// Extract turns a resized grayscale face into the classifier input: a HOG
// descriptor when useHOG is set, raw pixel intensities otherwise.
func Extract(pix []uint8, width, height int, useHOG bool) ([]float64, error) {
	if useHOG {
		return hog.Compute(pix, width, height, hog.Default)
	}
	if len(pix) != width*height {
		return nil, fmt.Errorf("got %d pixels for a %dx%d face", len(pix), width, height)
	}
	x := make([]float64, len(pix))
	for i, p := range pix {
		x[i] = float64(p)
	}
	return x, nil
}
