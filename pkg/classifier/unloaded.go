package classifier

import (
	"context"

	"github.com/ctgenie-cds-server/internal/domain"
)

// Unloaded is the provider used when no model is configured. Every prediction
// reports domain.ErrClassifierUnavailable.
type Unloaded struct{}

// Loaded always returns false.
func (Unloaded) Loaded() bool { return false }

// Predict always fails with domain.ErrClassifierUnavailable.
func (Unloaded) Predict(context.Context, domain.FeatureVector) (*domain.ClassifierOutput, error) {
	return nil, domain.ErrClassifierUnavailable
}

// ModelInfo describes an absent model.
func (Unloaded) ModelInfo() domain.ModelInfo {
	return domain.ModelInfo{ClassNames: domain.ClassNames()}
}
