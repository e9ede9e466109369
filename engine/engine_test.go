package engine

import (
	"EmotionDet/hog"
	iface "EmotionDet/interface"
	"EmotionDet/model"
	"image"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

type fixedLocator struct {
	rects  []image.Rectangle
	calls  int
	closed bool
}

func (f *fixedLocator) Detect(gray gocv.Mat) []image.Rectangle {
	f.calls++
	return f.rects
}

func (f *fixedLocator) Close() error {
	f.closed = true
	return nil
}

// constantBundle returns a logistic model whose output ignores the pixels: the
// intercepts alone decide the probabilities.
func constantBundle(t *testing.T, shape model.Shape, labels []string, intercept []float64) *model.Bundle {
	t.Helper()
	n := shape.Width * shape.Height
	if shape == model.HOGShape {
		n = hog.Default.Length(shape.Width, shape.Height)
	}
	coef := make([][]float64, len(labels))
	classes := make([]int, len(labels))
	for i := range coef {
		coef[i] = make([]float64, n)
		classes[i] = i
	}
	lr, err := model.NewLogisticRegression(coef, intercept, "multinomial", classes)
	require.NoError(t, err)
	return &model.Bundle{
		Classifier: lr,
		Encoder:    model.LabelEncoder{Classes: labels},
		InputShape: shape,
		Path:       "memory",
	}
}

func grayFrame(rows, cols int) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(90, 120, 150, 0), rows, cols, gocv.MatTypeCV8UC3)
}

func newDetector(t *testing.T, bundle *model.Bundle, rects ...image.Rectangle) (*Detector, *fixedLocator) {
	t.Helper()
	loc := &fixedLocator{rects: rects}
	d := &Detector{}
	d.UseLocator(loc)
	require.NoError(t, d.LoadModel(bundle, DefaultThreshold))
	return d, loc
}

func TestDetector_States(t *testing.T) {
	frame := grayFrame(100, 100)
	defer frame.Close()

	d := &Detector{}
	assert.Equal(t, iface.ErrorResult("Detector not registered"), d.Classify(frame))

	loc := &fixedLocator{rects: []image.Rectangle{image.Rect(10, 10, 60, 60)}}
	d.UseLocator(loc)
	assert.Equal(t, REGISTERED, d.State)
	assert.Equal(t, iface.ErrorResult("Model not loaded"), d.Classify(frame))

	bundle := constantBundle(t, model.Shape{Width: 48, Height: 48}, []string{"happy", "sad"}, []float64{2, 0})
	require.NoError(t, d.LoadModel(bundle, DefaultThreshold))
	assert.Equal(t, IDLE, d.State)

	cfg := d.CheckConfig()
	assert.Equal(t, "memory", cfg.ModelPath)
	assert.Equal(t, model.KindLogistic, cfg.ModelKind)
	assert.Equal(t, 48, cfg.InputWidth)
	assert.False(t, cfg.UseHOG)
	assert.Equal(t, []string{"happy", "sad"}, cfg.Labels)
	assert.Equal(t, DefaultThreshold, cfg.Threshold)

	d.Destroy()
	assert.True(t, loc.closed)
	assert.Equal(t, UNREGISTERED, d.State)
	assert.Nil(t, d.Bundle())
}

func TestDetector_LoadModelValidation(t *testing.T) {
	d := &Detector{}
	assert.ErrorIs(t, d.LoadModel(nil, 40), ErrNotLoaded)
	bundle := constantBundle(t, model.Shape{Width: 4, Height: 4}, []string{"a", "b"}, []float64{0, 0})
	assert.Error(t, d.LoadModel(bundle, 101))
}

func TestDetector_Classify(t *testing.T) {
	frame := grayFrame(120, 160)
	defer frame.Close()
	face := image.Rect(40, 20, 100, 80)

	t.Run("confident label", func(t *testing.T) {
		bundle := constantBundle(t, model.Shape{Width: 48, Height: 48}, []string{"happy", "sad"}, []float64{2, 0})
		d, loc := newDetector(t, bundle, face)
		res := d.Classify(frame)
		assert.Equal(t, "happy", res.Emotion)
		assert.InDelta(t, 88.0797, res.Confidence, 1e-3)
		assert.Empty(t, res.Error)
		assert.Equal(t, 1, loc.calls)
		assert.Equal(t, IDLE, d.State)
	})

	t.Run("below threshold reports unknown with confidence", func(t *testing.T) {
		bundle := constantBundle(t, model.Shape{Width: 48, Height: 48}, []string{"angry", "happy", "sad"}, []float64{0, 0, 0})
		d, _ := newDetector(t, bundle, face)
		res := d.Classify(frame)
		assert.Equal(t, iface.Unknown, res.Emotion)
		assert.InDelta(t, 100.0/3, res.Confidence, 1e-9)
		assert.Empty(t, res.Error)
	})

	t.Run("threshold boundary is inclusive", func(t *testing.T) {
		bundle := constantBundle(t, model.Shape{Width: 8, Height: 8}, []string{"happy", "sad"}, []float64{0, 0})
		d, _ := newDetector(t, bundle, face)
		require.NoError(t, d.LoadModel(bundle, 50))
		res := d.Classify(frame)
		assert.Equal(t, "happy", res.Emotion)
		assert.InDelta(t, 50, res.Confidence, 1e-9)
	})

	t.Run("no face", func(t *testing.T) {
		bundle := constantBundle(t, model.Shape{Width: 48, Height: 48}, []string{"happy", "sad"}, []float64{2, 0})
		d, _ := newDetector(t, bundle)
		res := d.Classify(frame)
		assert.Equal(t, iface.ErrorResult("No face detected"), res)
		assert.Zero(t, res.Confidence)
	})

	t.Run("hog model", func(t *testing.T) {
		bundle := constantBundle(t, model.HOGShape, []string{"happy", "sad"}, []float64{0, 3})
		d, _ := newDetector(t, bundle, face)
		res := d.Classify(frame)
		assert.Equal(t, "sad", res.Emotion)
		assert.True(t, d.CheckConfig().UseHOG)
	})

	t.Run("face partly outside the frame is clipped", func(t *testing.T) {
		bundle := constantBundle(t, model.Shape{Width: 48, Height: 48}, []string{"happy", "sad"}, []float64{2, 0})
		d, _ := newDetector(t, bundle, image.Rect(140, 100, 200, 160))
		res := d.Classify(frame)
		assert.Equal(t, "happy", res.Emotion)
	})

	t.Run("face outside the frame", func(t *testing.T) {
		bundle := constantBundle(t, model.Shape{Width: 48, Height: 48}, []string{"happy", "sad"}, []float64{2, 0})
		d, _ := newDetector(t, bundle, image.Rect(300, 300, 340, 340))
		res := d.Classify(frame)
		assert.True(t, res.Failed())
		assert.Equal(t, iface.Unknown, res.Emotion)
	})

	t.Run("deterministic", func(t *testing.T) {
		bundle := constantBundle(t, model.Shape{Width: 48, Height: 48}, []string{"happy", "sad"}, []float64{1, 0})
		d, _ := newDetector(t, bundle, face)
		assert.Equal(t, d.Classify(frame), d.Classify(frame))
	})

	t.Run("empty image", func(t *testing.T) {
		bundle := constantBundle(t, model.Shape{Width: 48, Height: 48}, []string{"happy", "sad"}, []float64{1, 0})
		d, _ := newDetector(t, bundle, face)
		empty := gocv.NewMat()
		defer empty.Close()
		assert.True(t, d.Classify(empty).Failed())
	})
}

func TestDetector_ClassifyFile(t *testing.T) {
	bundle := constantBundle(t, model.Shape{Width: 48, Height: 48}, []string{"happy", "sad"}, []float64{2, 0})
	d, _ := newDetector(t, bundle, image.Rect(10, 10, 60, 60))

	t.Run("unreadable", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "missing.jpg")
		res := d.ClassifyFile(path)
		assert.Equal(t, iface.ErrorResult("Could not read image at "+path), res)
	})

	t.Run("png on disk", func(t *testing.T) {
		frame := grayFrame(80, 80)
		defer frame.Close()
		path := filepath.Join(t.TempDir(), "face.png")
		require.True(t, gocv.IMWrite(path, frame))
		res := d.ClassifyFile(path)
		assert.Equal(t, "happy", res.Emotion)
	})
}

func TestExtract(t *testing.T) {
	pix := make([]uint8, 64*64)
	for i := range pix {
		pix[i] = uint8(i % 256)
	}

	t.Run("hog branch", func(t *testing.T) {
		x, err := Extract(pix, 64, 64, true)
		require.NoError(t, err)
		assert.Len(t, x, 1568)
	})

	t.Run("raw branch", func(t *testing.T) {
		x, err := Extract(pix, 64, 64, false)
		require.NoError(t, err)
		require.Len(t, x, 64*64)
		assert.Equal(t, 255.0, x[255])
		assert.Equal(t, 0.0, x[256])
	})

	t.Run("raw size mismatch", func(t *testing.T) {
		_, err := Extract(pix, 48, 48, false)
		assert.Error(t, err)
	})
}

func TestPreprocess(t *testing.T) {
	color := grayFrame(40, 40)
	defer color.Close()
	gray := Preprocess(color)
	defer gray.Close()
	assert.Equal(t, 1, gray.Channels())
	assert.Equal(t, 40, gray.Rows())
	assert.Equal(t, 40, gray.Cols())

	again := Preprocess(gray)
	defer again.Close()
	assert.Equal(t, 1, again.Channels())
}

func TestNewCascadeLocator_Missing(t *testing.T) {
	_, err := NewCascadeLocator(filepath.Join(t.TempDir(), "face.xml"), DefaultDetectParams)
	assert.ErrorIs(t, err, ErrCascadeMissing)
	assert.Equal(t, "Face detection model not found", ErrCascadeMissing.Error())

	d := &Detector{}
	assert.ErrorIs(t, d.New(filepath.Join(t.TempDir(), "face.xml"), DefaultDetectParams), ErrCascadeMissing)
}
