package iface

import "gocv.io/x/gocv"

// Unknown is reported when no face was found or the classifier was not
// confident enough.
const Unknown = "unknown"

// Result is the record printed for every inference, one JSON object per line.
type Result struct {
	Emotion    string  `json:"emotion"`
	Confidence float64 `json:"confidence"`
	Error      string  `json:"error,omitempty"`
}

func ErrorResult(msg string) Result {
	return Result{Emotion: Unknown, Confidence: 0, Error: msg}
}

func (r Result) Failed() bool {
	return r.Error != ""
}

type EngineConfig struct {
	ModelPath   string
	ModelKind   string
	CascadePath string
	InputWidth  int
	InputHeight int
	UseHOG      bool
	Labels      []string
	Threshold   float64
}

type Backend interface {
	Classify(image gocv.Mat) Result
	CheckConfig() EngineConfig
	Destroy()
}
