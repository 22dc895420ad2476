package service

import (
	"github.com/ctgenie-cds-server/internal/domain"
)

// FallbackLabelSuffix marks labels produced by the rule-based classifier.
const FallbackLabelSuffix = " (Rule-based fallback)"

// Defaults applied when a fallback input omits a feature.
const (
	fallbackDefaultLB   = 120.0
	fallbackDefaultASTV = 50.0
	fallbackDefaultAC   = 2.0
	fallbackDefaultDP   = 0.0
)

var fallbackConfidence = map[domain.SeverityTier]float64{
	domain.TierNormal:       0.92,
	domain.TierSuspect:      0.68,
	domain.TierPathological: 0.85,
}

// fallbackAttributionOrder fixes the feature order of the synthetic attribution.
var fallbackAttributionOrder = []string{domain.FeatureASTV, domain.FeatureLB, domain.FeatureAC, domain.FeatureDP}

// RuleBasedClassify classifies a tracing with fixed thresholds when no trained
// model is available. It always produces a synthetic attribution.
func RuleBasedClassify(features domain.FeatureVector) *domain.ClassifierOutput {
	lb := features.Get(domain.FeatureLB, fallbackDefaultLB)
	astv := features.Get(domain.FeatureASTV, fallbackDefaultASTV)
	ac := features.Get(domain.FeatureAC, fallbackDefaultAC)
	dp := features.Get(domain.FeatureDP, fallbackDefaultDP)

	var tier domain.SeverityTier
	switch {
	case astv > 40 && ac > 0 && dp == 0:
		tier = domain.TierNormal
	case astv < 30 || dp > 2:
		tier = domain.TierPathological
	default:
		tier = domain.TierSuspect
	}

	confidence := fallbackConfidence[tier]
	remaining := (1.0 - confidence) / 2
	probs := []float64{remaining, remaining, remaining}
	probs[tier] = confidence

	synthetic := map[string]float64{
		domain.FeatureASTV: astv - 50,
		domain.FeatureLB:   (lb - 130) * 0.1,
		domain.FeatureAC:   ac * 5,
		domain.FeatureDP:   dp * -10,
	}
	names := make([]string, len(fallbackAttributionOrder))
	attributions := make([]float64, len(fallbackAttributionOrder))
	for i, name := range fallbackAttributionOrder {
		names[i] = name
		attributions[i] = synthetic[name]
	}

	return &domain.ClassifierOutput{
		Class:         tier,
		Probabilities: probs,
		FeatureNames:  names,
		Attributions:  attributions,
	}
}

// fallbackValues returns the feature values the rule-based classifier used,
// aligned with its attribution order.
func fallbackValues(features domain.FeatureVector) []any {
	defaults := map[string]float64{
		domain.FeatureASTV: fallbackDefaultASTV,
		domain.FeatureLB:   fallbackDefaultLB,
		domain.FeatureAC:   fallbackDefaultAC,
		domain.FeatureDP:   fallbackDefaultDP,
	}
	values := make([]any, len(fallbackAttributionOrder))
	for i, name := range fallbackAttributionOrder {
		values[i] = features.Get(name, defaults[name])
	}
	return values
}
