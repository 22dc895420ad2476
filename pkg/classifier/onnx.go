package classifier

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/ctgenie-cds-server/internal/domain"
)

const numClasses = 3

// ONNXClassifier runs an exported three-class CTG model through ONNX Runtime.
// The model yields probabilities only, so attributions are never produced.
type ONNXClassifier struct {
	cfg       domain.ClassifierConfig
	logger    *logrus.Logger
	artifacts *Artifacts

	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	loaded  bool
}

// NewONNXClassifier creates a classifier; call Load before predicting.
func NewONNXClassifier(cfg domain.ClassifierConfig, logger *logrus.Logger) *ONNXClassifier {
	return &ONNXClassifier{cfg: cfg, logger: logger}
}

// ModelPath returns the resolved path of the ONNX file.
func (c *ONNXClassifier) ModelPath() string {
	return filepath.Join(c.cfg.ModelDir, c.cfg.ModelFile)
}

// Load reads the artifacts, initializes the ONNX Runtime environment and
// creates the inference session.
func (c *ONNXClassifier) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.loaded {
		return nil
	}

	if _, err := os.Stat(c.ModelPath()); err != nil {
		return fmt.Errorf("model not found at %s: %w", c.ModelPath(), err)
	}

	artifacts, err := LoadArtifacts(c.cfg.ModelDir)
	if err != nil {
		return err
	}
	if artifacts.Scaler == nil {
		c.logger.Warn("Scaler not found, using raw features")
	}

	if !ort.IsInitialized() {
		if c.cfg.SharedLibraryPath != "" {
			ort.SetSharedLibraryPath(c.cfg.SharedLibraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("failed to initialize onnxruntime: %w", err)
		}
	}

	input, err := ort.NewTensor(ort.NewShape(1, int64(len(artifacts.FeatureNames))), make([]float32, len(artifacts.FeatureNames)))
	if err != nil {
		return fmt.Errorf("failed to create input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, numClasses))
	if err != nil {
		input.Destroy()
		return fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(c.ModelPath(),
		[]string{c.cfg.InputName}, []string{c.cfg.OutputName},
		[]ort.Value{input}, []ort.Value{output}, nil)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return fmt.Errorf("failed to create session: %w", err)
	}

	c.artifacts = artifacts
	c.input = input
	c.output = output
	c.session = session
	c.loaded = true

	c.logger.WithFields(logrus.Fields{
		"model":    c.ModelPath(),
		"features": len(artifacts.FeatureNames),
		"version":  artifacts.Metadata.Version,
	}).Info("Loaded ONNX classifier")

	return nil
}

// Loaded reports whether a session is ready.
func (c *ONNXClassifier) Loaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loaded
}

// Predict scores one feature vector. The session is shared, so calls are serialized.
func (c *ONNXClassifier) Predict(ctx context.Context, features domain.FeatureVector) (*domain.ClassifierOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.loaded {
		return nil, domain.ErrClassifierUnavailable
	}

	copy(c.input.GetData(), c.artifacts.Inputs(features))
	if err := c.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	probs := make([]float64, numClasses)
	for i, p := range c.output.GetData() {
		if i < numClasses {
			probs[i] = float64(p)
		}
	}

	names := make([]string, len(c.artifacts.FeatureNames))
	copy(names, c.artifacts.FeatureNames)

	return &domain.ClassifierOutput{
		Class:         argmax(probs),
		Probabilities: probs,
		FeatureNames:  names,
	}, nil
}

// MissingFeatures lists the model features absent from features.
func (c *ONNXClassifier) MissingFeatures(features domain.FeatureVector) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.artifacts == nil {
		return nil
	}
	return c.artifacts.MissingFeatures(features)
}

// ModelInfo describes the loaded model.
func (c *ONNXClassifier) ModelInfo() domain.ModelInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	info := domain.ModelInfo{Loaded: c.loaded, ClassNames: domain.ClassNames()}
	if c.artifacts == nil {
		return info
	}
	info.ModelType = orDefault(c.artifacts.Metadata.ModelType, "onnx")
	info.Version = c.artifacts.Metadata.Version
	info.NFeatures = len(c.artifacts.FeatureNames)
	info.TestAccuracy = c.artifacts.Metadata.TestAccuracy
	if len(c.artifacts.Metadata.ClassNames) == numClasses {
		info.ClassNames = c.artifacts.Metadata.ClassNames
	}
	return info
}

// Close releases the session and tensors.
func (c *ONNXClassifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.loaded {
		return nil
	}
	var firstErr error
	for _, destroy := range []func() error{c.session.Destroy, c.input.Destroy, c.output.Destroy} {
		if err := destroy(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.loaded = false
	return firstErr
}

func argmax(probs []float64) domain.SeverityTier {
	best := 0
	for i, p := range probs {
		if p > probs[best] {
			best = i
		}
	}
	return domain.SeverityTier(best)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
