package service

import (
	"encoding/json"
	"fmt"

	"github.com/ctgenie-cds-server/internal/domain"
)

// AssembleEvidence combines a label, ranked features and an optional model card
// into an evidence structure and validates it.
func AssembleEvidence(label string, features []domain.FeatureAnnotation, card *domain.ModelCard) (*domain.EvidenceStructure, error) {
	e := &domain.EvidenceStructure{
		Label:       label,
		TopFeatures: features,
		ModelCard:   card,
	}
	if err := ValidateEvidence(e); err != nil {
		return nil, err
	}
	return e, nil
}

// ValidateEvidence returns a *domain.ValidationError naming the first missing field.
func ValidateEvidence(e *domain.EvidenceStructure) error {
	if e == nil {
		return domain.NewValidationError("evidence", "evidence is required")
	}
	if e.Label == "" {
		return domain.NewValidationError("label", "evidence missing 'label'")
	}
	if len(e.TopFeatures) == 0 {
		return domain.NewValidationError("top_features", "'top_features' must be a non-empty list")
	}
	for i, f := range e.TopFeatures {
		if f.NameRaw == "" && f.NameParent == "" && f.NameDoctor == "" {
			return domain.NewFeatureValidationError(i, "name", "must include at least one of name_raw/name_parent/name_doctor")
		}
		if f.Value == nil {
			return domain.NewFeatureValidationError(i, "value", "missing 'value'")
		}
		if f.Attribution == nil {
			return domain.NewFeatureValidationError(i, "shap", "missing 'shap'")
		}
		if f.Direction == "" {
			return domain.NewFeatureValidationError(i, "dir", "missing 'dir' ('↑' or '↓' or '?')")
		}
	}
	return nil
}

// DecodeEvidence parses an evidence structure from its JSON boundary form and
// validates it. Numbers in value are kept as float64, strings as string.
func DecodeEvidence(data []byte) (*domain.EvidenceStructure, error) {
	var raw struct {
		Label       *string            `json:"label"`
		TopFeatures *[]json.RawMessage `json:"top_features"`
		ModelCard   *domain.ModelCard  `json:"model_card"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, domain.NewValidationError("evidence", fmt.Sprintf("invalid JSON: %v", err))
	}
	if raw.Label == nil {
		return nil, domain.NewValidationError("label", "evidence missing 'label'")
	}
	if raw.TopFeatures == nil {
		return nil, domain.NewValidationError("top_features", "evidence missing 'top_features'")
	}

	features := make([]domain.FeatureAnnotation, 0, len(*raw.TopFeatures))
	for i, item := range *raw.TopFeatures {
		f, err := decodeFeature(i, item)
		if err != nil {
			return nil, err
		}
		features = append(features, f)
	}

	return AssembleEvidence(*raw.Label, features, raw.ModelCard)
}

func decodeFeature(index int, item json.RawMessage) (domain.FeatureAnnotation, error) {
	var f domain.FeatureAnnotation
	if err := json.Unmarshal(item, &f); err != nil {
		return f, domain.NewFeatureValidationError(index, "feature", fmt.Sprintf("invalid feature: %v", err))
	}
	switch f.Value.(type) {
	case nil, float64, string, bool:
	default:
		return f, domain.NewFeatureValidationError(index, "value", "'value' must be a number or string")
	}
	return f, nil
}
