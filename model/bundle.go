// Package model loads the pre-trained emotion classifier bundle: the
// classifier itself, the label encoder and the input shape the classifier was
// trained on.
package model

import (
	"EmotionDet/hog"
	"EmotionDet/logger"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"
)

var ErrNoModel = errors.New("no usable model file")

type Shape struct {
	Width  int
	Height int
}

// HOGShape is the input shape of models trained on HOG descriptors; every
// other shape is fed raw pixel intensities.
var HOGShape = Shape{Width: 64, Height: 64}

func (s Shape) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

type Bundle struct {
	Classifier Classifier
	Encoder    LabelEncoder
	InputShape Shape
	Path       string
}

func (b *Bundle) UsesHOG() bool {
	return b.InputShape == HOGShape
}

// FeatureLength is the length of the vector the classifier expects for this
// bundle's input shape.
func (b *Bundle) FeatureLength() int {
	if b.UsesHOG() {
		return hog.Default.Length(b.InputShape.Width, b.InputShape.Height)
	}
	return b.InputShape.Width * b.InputShape.Height
}

func (b *Bundle) Labels() []string {
	return append([]string(nil), b.Encoder.Classes...)
}

func (b *Bundle) validate() error {
	if b.InputShape.Width <= 0 || b.InputShape.Height <= 0 {
		return fmt.Errorf("invalid input shape %s", b.InputShape)
	}
	if b.Classifier == nil {
		return errors.New("bundle has no classifier")
	}
	if got, want := b.Classifier.NumFeatures(), b.FeatureLength(); got != want {
		return fmt.Errorf("classifier expects %d features, input shape %s yields %d", got, b.InputShape, want)
	}
	for _, c := range b.Classifier.Classes() {
		if c < 0 || c >= len(b.Encoder.Classes) {
			return fmt.Errorf("class %d has no label in the encoder", c)
		}
	}
	return nil
}

// bundleFile is the on-disk JSON layout written by the training export step.
type bundleFile struct {
	Kind         string          `json:"kind"`
	InputShape   []int           `json:"input_shape"`
	LabelEncoder LabelEncoder    `json:"label_encoder"`
	Classes      []int           `json:"classes"`
	Model        json.RawMessage `json:"model"`
}

// Load reads and validates a bundle file.
func Load(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f bundleFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(f.InputShape) != 2 {
		return nil, fmt.Errorf("%s: input_shape must be [width, height]", path)
	}
	if len(f.LabelEncoder.Classes) == 0 {
		return nil, fmt.Errorf("%s: label encoder has no classes", path)
	}
	classes := f.Classes
	if len(classes) == 0 {
		classes = make([]int, len(f.LabelEncoder.Classes))
		for i := range classes {
			classes[i] = i
		}
	}

	var clf Classifier
	switch f.Kind {
	case KindLogistic:
		lr := &LogisticRegression{}
		if err := json.Unmarshal(f.Model, lr); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if err := lr.init(classes); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		clf = lr
	case KindForest:
		rf := &RandomForest{}
		if err := json.Unmarshal(f.Model, rf); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if err := rf.init(classes); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		clf = rf
	default:
		return nil, fmt.Errorf("%s: unsupported model kind %q", path, f.Kind)
	}

	b := &Bundle{
		Classifier: clf,
		Encoder:    f.LabelEncoder,
		InputShape: Shape{Width: f.InputShape[0], Height: f.InputShape[1]},
		Path:       path,
	}
	if err := b.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return b, nil
}

// LoadWithFallback prefers the advanced model and falls back to the default one
// when the advanced file is absent or broken.
func LoadWithFallback(advancedPath, defaultPath string) (*Bundle, error) {
	if advancedPath != "" {
		if _, err := os.Stat(advancedPath); err == nil {
			b, err := Load(advancedPath)
			if err == nil {
				logger.Log().Info("Successfully loaded advanced model", zap.String("path", advancedPath), zap.String("kind", b.Classifier.Kind()), zap.Stringer("inputShape", b.InputShape))
				return b, nil
			}
			logger.Log().Error("Failed to load advanced model, falling back", zap.String("path", advancedPath), zap.Error(err))
		}
	}
	b, err := Load(defaultPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoModel, err)
	}
	logger.Log().Info("Successfully loaded model", zap.String("path", defaultPath), zap.String("kind", b.Classifier.Kind()), zap.Stringer("inputShape", b.InputShape))
	return b, nil
}
