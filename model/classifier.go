package model

import (
	"errors"
	"fmt"
	"math"
)

const (
	KindLogistic = "logistic_regression"
	KindForest   = "random_forest"
)

var ErrFeatureCount = errors.New("feature vector length mismatch")

// Classifier is a pre-trained probabilistic classifier. Predict returns a
// class value from Classes(), PredictProba one probability per class in the
// same order.
type Classifier interface {
	Kind() string
	Classes() []int
	NumFeatures() int
	Predict(x []float64) (int, error)
	PredictProba(x []float64) ([]float64, error)
}

func argmax(v []float64) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}

func predictFromProba(c Classifier, x []float64) (int, error) {
	proba, err := c.PredictProba(x)
	if err != nil {
		return 0, err
	}
	return c.Classes()[argmax(proba)], nil
}

// LogisticRegression is a linear model exported from a fitted
// sklearn.linear_model.LogisticRegression. An empty MultiClass means the
// estimator's "auto" choice: sigmoid for binary models, softmax otherwise.
type LogisticRegression struct {
	Coef       [][]float64 `json:"coef"`
	Intercept  []float64   `json:"intercept"`
	MultiClass string      `json:"multi_class"`

	classes []int
}

func NewLogisticRegression(coef [][]float64, intercept []float64, multiClass string, classes []int) (*LogisticRegression, error) {
	lr := &LogisticRegression{Coef: coef, Intercept: intercept, MultiClass: multiClass}
	if err := lr.init(classes); err != nil {
		return nil, err
	}
	return lr, nil
}

func (lr *LogisticRegression) init(classes []int) error {
	lr.classes = classes
	if len(lr.Coef) == 0 {
		return errors.New("logistic regression has no coefficients")
	}
	if len(lr.Intercept) != len(lr.Coef) {
		return fmt.Errorf("logistic regression: %d intercepts for %d coefficient rows", len(lr.Intercept), len(lr.Coef))
	}
	n := len(lr.Coef[0])
	for i, row := range lr.Coef {
		if len(row) != n {
			return fmt.Errorf("logistic regression: coefficient row %d has %d values, want %d", i, len(row), n)
		}
	}
	switch {
	case len(lr.Coef) == 1 && len(classes) != 2:
		return fmt.Errorf("logistic regression: binary model with %d classes", len(classes))
	case len(lr.Coef) > 1 && len(lr.Coef) != len(classes):
		return fmt.Errorf("logistic regression: %d coefficient rows for %d classes", len(lr.Coef), len(classes))
	}
	switch lr.MultiClass {
	case "", "multinomial", "ovr":
	default:
		return fmt.Errorf("logistic regression: unsupported multi_class %q", lr.MultiClass)
	}
	return nil
}

func (lr *LogisticRegression) Kind() string     { return KindLogistic }
func (lr *LogisticRegression) Classes() []int   { return lr.classes }
func (lr *LogisticRegression) NumFeatures() int { return len(lr.Coef[0]) }

func (lr *LogisticRegression) decision(x []float64) ([]float64, error) {
	if len(x) != lr.NumFeatures() {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrFeatureCount, len(x), lr.NumFeatures())
	}
	scores := make([]float64, len(lr.Coef))
	for k, row := range lr.Coef {
		s := lr.Intercept[k]
		for i, w := range row {
			s += w * x[i]
		}
		scores[k] = s
	}
	return scores, nil
}

func (lr *LogisticRegression) PredictProba(x []float64) ([]float64, error) {
	scores, err := lr.decision(x)
	if err != nil {
		return nil, err
	}
	if len(scores) == 1 {
		// A binary multinomial fit is the softmax of [-d, d], i.e. sigmoid(2d).
		// ovr and the unset default use sigmoid(d).
		d := scores[0]
		if lr.MultiClass == "multinomial" {
			d *= 2
		}
		p := sigmoid(d)
		return []float64{1 - p, p}, nil
	}
	if lr.MultiClass == "ovr" {
		var sum float64
		for i, s := range scores {
			scores[i] = sigmoid(s)
			sum += scores[i]
		}
		for i := range scores {
			scores[i] /= sum
		}
		return scores, nil
	}
	return softmax(scores), nil
}

func (lr *LogisticRegression) Predict(x []float64) (int, error) {
	return predictFromProba(lr, x)
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

func softmax(scores []float64) []float64 {
	m := scores[argmax(scores)]
	var sum float64
	out := make([]float64, len(scores))
	for i, s := range scores {
		out[i] = math.Exp(s - m)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// Tree mirrors the node arrays of a fitted sklearn decision tree. A node is a
// leaf when ChildrenLeft is -1. Value holds per-class sample weights.
type Tree struct {
	ChildrenLeft  []int       `json:"children_left"`
	ChildrenRight []int       `json:"children_right"`
	Feature       []int       `json:"feature"`
	Threshold     []float64   `json:"threshold"`
	Value         [][]float64 `json:"value"`
}

func (t *Tree) validate(nFeatures, nClasses int) error {
	n := len(t.ChildrenLeft)
	if n == 0 {
		return errors.New("empty tree")
	}
	if len(t.ChildrenRight) != n || len(t.Feature) != n || len(t.Threshold) != n || len(t.Value) != n {
		return errors.New("tree node arrays differ in length")
	}
	for i := 0; i < n; i++ {
		if len(t.Value[i]) != nClasses {
			return fmt.Errorf("node %d has %d class values, want %d", i, len(t.Value[i]), nClasses)
		}
		if t.ChildrenLeft[i] == -1 {
			continue
		}
		l, r := t.ChildrenLeft[i], t.ChildrenRight[i]
		if l <= i || l >= n || r <= i || r >= n {
			return fmt.Errorf("node %d has children out of range", i)
		}
		if t.Feature[i] < 0 || t.Feature[i] >= nFeatures {
			return fmt.Errorf("node %d splits on feature %d of %d", i, t.Feature[i], nFeatures)
		}
	}
	return nil
}

// proba walks to a leaf and returns its normalised class weights. Inputs are
// rounded to float32 first, as sklearn trees compare float32 samples.
func (t *Tree) proba(x []float64) []float64 {
	node := 0
	for t.ChildrenLeft[node] != -1 {
		if float64(float32(x[t.Feature[node]])) <= t.Threshold[node] {
			node = t.ChildrenLeft[node]
		} else {
			node = t.ChildrenRight[node]
		}
	}
	leaf := t.Value[node]
	var sum float64
	for _, v := range leaf {
		sum += v
	}
	if sum == 0 {
		sum = 1
	}
	out := make([]float64, len(leaf))
	for i, v := range leaf {
		out[i] = v / sum
	}
	return out
}

// RandomForest averages the leaf distributions of its trees.
type RandomForest struct {
	Trees     []Tree `json:"trees"`
	NFeatures int    `json:"n_features"`

	classes []int
}

func NewRandomForest(trees []Tree, nFeatures int, classes []int) (*RandomForest, error) {
	rf := &RandomForest{Trees: trees, NFeatures: nFeatures}
	if err := rf.init(classes); err != nil {
		return nil, err
	}
	return rf, nil
}

func (rf *RandomForest) init(classes []int) error {
	rf.classes = classes
	if len(rf.Trees) == 0 {
		return errors.New("random forest has no trees")
	}
	if rf.NFeatures <= 0 {
		return errors.New("random forest: n_features must be positive")
	}
	for i := range rf.Trees {
		if err := rf.Trees[i].validate(rf.NFeatures, len(classes)); err != nil {
			return fmt.Errorf("random forest tree %d: %w", i, err)
		}
	}
	return nil
}

func (rf *RandomForest) Kind() string     { return KindForest }
func (rf *RandomForest) Classes() []int   { return rf.classes }
func (rf *RandomForest) NumFeatures() int { return rf.NFeatures }

func (rf *RandomForest) PredictProba(x []float64) ([]float64, error) {
	if len(x) != rf.NFeatures {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrFeatureCount, len(x), rf.NFeatures)
	}
	out := make([]float64, len(rf.classes))
	for i := range rf.Trees {
		for k, p := range rf.Trees[i].proba(x) {
			out[k] += p
		}
	}
	for k := range out {
		out[k] /= float64(len(rf.Trees))
	}
	return out, nil
}

func (rf *RandomForest) Predict(x []float64) (int, error) {
	return predictFromProba(rf, x)
}
