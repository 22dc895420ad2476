// Package classifier provides ClassifierProvider implementations backed by an
// exported ONNX model and its preprocessing artifacts.
package classifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ctgenie-cds-server/internal/domain"
)

// Artifact file names inside the model directory.
const (
	FeatureNamesFile = "feature_names.json"
	MetadataFile     = "model_metadata.json"
	ScalerFile       = "scaler.json"
)

// Metadata is the optional model description exported next to the model.
type Metadata struct {
	ModelType    string   `json:"model_type"`
	Version      string   `json:"version"`
	TestAccuracy *float64 `json:"test_accuracy,omitempty"`
	ClassNames   []string `json:"class_names,omitempty"`
}

// Scaler is a standard scaler exported as per-feature mean and scale.
type Scaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// Transform standardizes x in place. A zero scale leaves the centred value.
func (s *Scaler) Transform(x []float32) {
	if s == nil {
		return
	}
	for i := range x {
		if i >= len(s.Mean) || i >= len(s.Scale) {
			return
		}
		v := float64(x[i]) - s.Mean[i]
		if s.Scale[i] != 0 {
			v /= s.Scale[i]
		}
		x[i] = float32(v)
	}
}

// Artifacts holds everything needed to turn a feature map into model input.
type Artifacts struct {
	FeatureNames []string
	Metadata     Metadata
	Scaler       *Scaler
}

// LoadArtifacts reads the feature list (required), metadata and scaler
// (optional) from dir.
func LoadArtifacts(dir string) (*Artifacts, error) {
	a := &Artifacts{}

	if err := readJSON(filepath.Join(dir, FeatureNamesFile), &a.FeatureNames); err != nil {
		return nil, fmt.Errorf("feature names: %w", err)
	}
	if len(a.FeatureNames) == 0 {
		return nil, fmt.Errorf("feature names: %s is empty", FeatureNamesFile)
	}

	if err := readJSON(filepath.Join(dir, MetadataFile), &a.Metadata); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("metadata: %w", err)
	}

	var scaler Scaler
	switch err := readJSON(filepath.Join(dir, ScalerFile), &scaler); {
	case err == nil:
		if len(scaler.Mean) != len(a.FeatureNames) || len(scaler.Scale) != len(a.FeatureNames) {
			return nil, fmt.Errorf("scaler: %w: %d features, %d means, %d scales",
				domain.ErrLengthMismatch, len(a.FeatureNames), len(scaler.Mean), len(scaler.Scale))
		}
		a.Scaler = &scaler
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("scaler: %w", err)
	}

	return a, nil
}

// Inputs orders features by the model's feature list, substituting 0 for
// missing keys, and applies the scaler.
func (a *Artifacts) Inputs(features domain.FeatureVector) []float32 {
	x := make([]float32, len(a.FeatureNames))
	for i, name := range a.FeatureNames {
		x[i] = float32(features.Get(name, 0))
	}
	a.Scaler.Transform(x)
	return x
}

// MissingFeatures lists the expected features absent from features.
func (a *Artifacts) MissingFeatures(features domain.FeatureVector) []string {
	var missing []string
	for _, name := range a.FeatureNames {
		if _, ok := features[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	return nil
}
