package model

import "fmt"

// LabelEncoder maps class indices to emotion names.
type LabelEncoder struct {
	Classes []string `json:"classes"`
}

func (e LabelEncoder) InverseTransform(idx int) (string, error) {
	if idx < 0 || idx >= len(e.Classes) {
		return "", fmt.Errorf("label index %d out of range [0, %d)", idx, len(e.Classes))
	}
	return e.Classes[idx], nil
}
