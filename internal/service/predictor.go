package service

import (
	"context"
	"errors"
	"math"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/ctgenie-cds-server/internal/domain"
	"github.com/ctgenie-cds-server/internal/reference"
)

// DefaultAttributionMapTopK bounds the attribution map in prediction responses.
const DefaultAttributionMapTopK = 10

// FeatureValidator is implemented by classifiers that can report which of their
// expected features are missing from a request.
type FeatureValidator interface {
	MissingFeatures(features domain.FeatureVector) []string
}

// PredictorOptions tunes the prediction pipeline.
type PredictorOptions struct {
	SimilarCasesK      int
	AttributionMapTopK int
	EvidenceTopK       int
}

// Predictor runs the prediction pipeline: classify, rank attribution, find
// similar cases, recommend actions and attach guidelines.
type Predictor struct {
	logger     *logrus.Logger
	classifier domain.ClassifierProvider
	data       *reference.Dataset
	cases      *CaseService
	engine     *RecommendationEngine
	opts       PredictorOptions
}

// NewPredictor creates a new predictor. classifier may be nil, in which case
// every prediction uses the rule-based fallback.
func NewPredictor(logger *logrus.Logger, classifier domain.ClassifierProvider, data *reference.Dataset, opts PredictorOptions) *Predictor {
	if opts.SimilarCasesK <= 0 {
		opts.SimilarCasesK = 3
	}
	if opts.AttributionMapTopK <= 0 {
		opts.AttributionMapTopK = DefaultAttributionMapTopK
	}
	if opts.EvidenceTopK <= 0 {
		opts.EvidenceTopK = DefaultEvidenceTopK
	}
	return &Predictor{
		logger:     logger,
		classifier: classifier,
		data:       data,
		cases:      NewCaseService(logger, data),
		engine:     NewRecommendationEngine(logger),
		opts:       opts,
	}
}

// Cases returns the case service backing the predictor.
func (p *Predictor) Cases() *CaseService {
	return p.cases
}

// Recommendations exposes the rule engine.
func (p *Predictor) Recommendations() *RecommendationEngine {
	return p.engine
}

// ModelInfo describes the configured classifier.
func (p *Predictor) ModelInfo() domain.ModelInfo {
	if p.classifier == nil {
		return domain.ModelInfo{ClassNames: domain.ClassNames()}
	}
	return p.classifier.ModelInfo()
}

// Predict classifies a feature vector and assembles the clinical context.
// Classifier failures degrade to the rule-based fallback.
func (p *Predictor) Predict(ctx context.Context, req *domain.PredictionRequest) (*domain.PredictionResponse, error) {
	if req == nil || len(req.Features) == 0 {
		return nil, domain.NewValidationError("features", "at least one CTG feature is required")
	}

	out, card, fallback := p.classify(ctx, req.Features)

	label := out.Class.String()
	values := make([]any, len(out.FeatureNames))
	if fallback {
		label += FallbackLabelSuffix
		values = fallbackValues(req.Features)
	} else {
		for i, name := range out.FeatureNames {
			values[i] = req.Features.Get(name, 0)
		}
	}

	recs, err := p.engine.Recommend(out.Class, req.Features, req.PatientContext)
	if err != nil {
		return nil, err
	}

	resp := &domain.PredictionResponse{
		Prediction:              out.Class,
		PredictionLabel:         label,
		Confidence:              out.Confidence(),
		Probabilities:           probabilityMap(out.Probabilities),
		Attributions:            topAttributionMap(out, p.opts.AttributionMapTopK),
		SimilarCases:            p.cases.CompactSimilarCases(req.Features, p.opts.SimilarCasesK),
		ClinicalRecommendations: recs,
		Guidelines:              RelevantGuidelines(p.data.Guidelines(), out.Class),
		Fallback:                fallback,
	}

	if v, ok := p.classifier.(FeatureValidator); ok && !fallback {
		resp.MissingFeatures = v.MissingFeatures(req.Features)
	}

	if out.AttributionAvailable() {
		evidence, err := BuildEvidenceFromArrays(label, out.Attributions, out.FeatureNames, values, RankOptions{
			TopK:            p.opts.EvidenceTopK,
			Glossary:        p.data.Glossary(),
			ReferenceRanges: p.data.ReferenceRanges(),
			ModelCard:       card,
		})
		if err != nil {
			p.logger.WithError(err).Warn("Could not assemble evidence for prediction")
		} else {
			resp.Evidence = evidence
		}
	}

	p.logger.WithFields(logrus.Fields{
		"prediction": label,
		"confidence": resp.Confidence,
		"fallback":   fallback,
		"similar":    len(resp.SimilarCases),
	}).Info("Completed CTG prediction")

	return resp, nil
}

func (p *Predictor) classify(ctx context.Context, features domain.FeatureVector) (*domain.ClassifierOutput, *domain.ModelCard, bool) {
	if p.classifier == nil || !p.classifier.Loaded() {
		return RuleBasedClassify(features), fallbackModelCard(), true
	}

	out, err := p.classifier.Predict(ctx, features)
	if err != nil || out == nil || !out.Class.Valid() {
		entry := p.logger.WithField("fallback", true)
		if err != nil {
			entry = entry.WithError(err)
		}
		if errors.Is(err, domain.ErrClassifierUnavailable) {
			entry.Warn("Classifier unavailable, using rule-based fallback")
		} else {
			entry.Error("Prediction failed, using rule-based fallback")
		}
		return RuleBasedClassify(features), fallbackModelCard(), true
	}

	info := p.classifier.ModelInfo()
	card := &domain.ModelCard{Name: info.ModelType, Version: info.Version, Accuracy: info.TestAccuracy}
	return out, card, false
}

func fallbackModelCard() *domain.ModelCard {
	return &domain.ModelCard{Name: "rule-based-fallback", Version: "v1"}
}

func probabilityMap(probs []float64) map[string]float64 {
	out := make(map[string]float64, len(probs))
	for i, name := range domain.ClassNames() {
		if i < len(probs) {
			out[name] = round3(probs[i])
		}
	}
	return out
}

// topAttributionMap keeps the k largest attributions by magnitude.
func topAttributionMap(out *domain.ClassifierOutput, k int) map[string]float64 {
	if !out.AttributionAvailable() || len(out.Attributions) != len(out.FeatureNames) {
		return nil
	}
	idx := make([]int, len(out.Attributions))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return math.Abs(out.Attributions[idx[a]]) > math.Abs(out.Attributions[idx[b]])
	})
	if len(idx) > k {
		idx = idx[:k]
	}
	m := make(map[string]float64, len(idx))
	for _, i := range idx {
		m[out.FeatureNames[i]] = out.Attributions[i]
	}
	return m
}
