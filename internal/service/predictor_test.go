package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ctgenie-cds-server/internal/domain"
	"github.com/ctgenie-cds-server/internal/reference"
)

type mockClassifier struct {
	mock.Mock
}

func (m *mockClassifier) Loaded() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *mockClassifier) Predict(ctx context.Context, features domain.FeatureVector) (*domain.ClassifierOutput, error) {
	args := m.Called(ctx, features)
	out, _ := args.Get(0).(*domain.ClassifierOutput)
	return out, args.Error(1)
}

func (m *mockClassifier) ModelInfo() domain.ModelInfo {
	args := m.Called()
	return args.Get(0).(domain.ModelInfo)
}

func (m *mockClassifier) MissingFeatures(features domain.FeatureVector) []string {
	args := m.Called(features)
	out, _ := args.Get(0).([]string)
	return out
}

func predictorDataset() *reference.Dataset {
	return reference.New(
		reference.WithCases(sampleCorpus()),
		reference.WithGuidelines(*sampleGuidelineBook()),
	)
}

func TestPredictor_RuleBasedFallback(t *testing.T) {
	logger, _ := test.NewNullLogger()
	p := NewPredictor(logger, nil, predictorDataset(), PredictorOptions{})

	resp, err := p.Predict(context.Background(), &domain.PredictionRequest{
		Features: domain.FeatureVector{"LB": 135, "AC": 4, "ASTV": 55, "DP": 0},
	})
	require.NoError(t, err)

	assert.True(t, resp.Fallback)
	assert.Equal(t, domain.TierNormal, resp.Prediction)
	assert.Equal(t, "Normal (Rule-based fallback)", resp.PredictionLabel)
	assert.Equal(t, 0.92, resp.Confidence)
	assert.Equal(t, map[string]float64{"Normal": 0.92, "Suspect": 0.04, "Pathological": 0.04}, resp.Probabilities)
	assert.Len(t, resp.ClinicalRecommendations, 3)
	assert.Len(t, resp.SimilarCases, 3)
	assert.Equal(t, []string{"CTG-005"}, guidelineIDs(resp.Guidelines))

	require.NotNil(t, resp.Evidence)
	assert.Equal(t, "Normal (Rule-based fallback)", resp.Evidence.Label)
	require.Len(t, resp.Evidence.TopFeatures, 4)
	assert.Equal(t, "AC", resp.Evidence.TopFeatures[0].NameRaw)
	assert.Equal(t, "rule-based-fallback", resp.Evidence.ModelCard.Name)
	assert.NoError(t, ValidateEvidence(resp.Evidence))
}

func TestPredictor_PathologicalFallback(t *testing.T) {
	logger, _ := test.NewNullLogger()
	p := NewPredictor(logger, nil, predictorDataset(), PredictorOptions{})

	resp, err := p.Predict(context.Background(), &domain.PredictionRequest{
		Features: domain.FeatureVector{"ASTV": 25, "DP": 3},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.TierPathological, resp.Prediction)
	assert.Equal(t, 0.85, resp.Confidence)
	assert.True(t, strings.HasPrefix(resp.ClinicalRecommendations[0], "🚨"))
	assert.Len(t, resp.ClinicalRecommendations, 8)
	assert.Equal(t, []string{"CTG-005", "CTG-002", "CTG-004"}, guidelineIDs(resp.Guidelines))
}

func TestPredictor_LoadedClassifier(t *testing.T) {
	logger, _ := test.NewNullLogger()
	accuracy := 0.94
	classifier := &mockClassifier{}
	features := domain.FeatureVector{"LB": 150, "ASTV": 70, "AC": 0}

	classifier.On("Loaded").Return(true)
	classifier.On("Predict", mock.Anything, features).Return(&domain.ClassifierOutput{
		Class:         domain.TierSuspect,
		Probabilities: []float64{0.1234, 0.7, 0.1766},
		FeatureNames:  []string{"LB", "ASTV", "AC"},
	}, nil)
	classifier.On("ModelInfo").Return(domain.ModelInfo{Loaded: true, ModelType: "onnx", Version: "1.0", TestAccuracy: &accuracy})
	classifier.On("MissingFeatures", features).Return([]string{"DP"})

	p := NewPredictor(logger, classifier, predictorDataset(), PredictorOptions{SimilarCasesK: 1})
	resp, err := p.Predict(context.Background(), &domain.PredictionRequest{Features: features})
	require.NoError(t, err)

	assert.False(t, resp.Fallback)
	assert.Equal(t, "Suspect", resp.PredictionLabel)
	assert.Equal(t, 0.7, resp.Confidence)
	assert.Equal(t, 0.123, resp.Probabilities["Normal"])
	assert.Nil(t, resp.Attributions)
	assert.Nil(t, resp.Evidence)
	assert.Equal(t, []string{"DP"}, resp.MissingFeatures)
	assert.Len(t, resp.SimilarCases, 1)
	classifier.AssertExpectations(t)
}

func TestPredictor_ClassifierAttribution(t *testing.T) {
	logger, _ := test.NewNullLogger()
	classifier := &mockClassifier{}
	features := domain.FeatureVector{"LB": 150, "ASTV": 70, "AC": 0}

	classifier.On("Loaded").Return(true)
	classifier.On("Predict", mock.Anything, features).Return(&domain.ClassifierOutput{
		Class:         domain.TierSuspect,
		Probabilities: []float64{0.2, 0.6, 0.2},
		FeatureNames:  []string{"LB", "ASTV", "AC"},
		Attributions:  []float64{0.1, -0.4, 0.3},
	}, nil)
	classifier.On("ModelInfo").Return(domain.ModelInfo{Loaded: true, ModelType: "gbm", Version: "2"})
	classifier.On("MissingFeatures", features).Return(nil)

	p := NewPredictor(logger, classifier, predictorDataset(), PredictorOptions{AttributionMapTopK: 2, EvidenceTopK: 2})
	resp, err := p.Predict(context.Background(), &domain.PredictionRequest{Features: features})
	require.NoError(t, err)

	assert.Equal(t, map[string]float64{"ASTV": -0.4, "AC": 0.3}, resp.Attributions)
	require.NotNil(t, resp.Evidence)
	require.Len(t, resp.Evidence.TopFeatures, 2)
	assert.Equal(t, "ASTV", resp.Evidence.TopFeatures[0].NameRaw)
	assert.Equal(t, 70.0, resp.Evidence.TopFeatures[0].Value)
	assert.Equal(t, "gbm", resp.Evidence.ModelCard.Name)
}

func TestPredictor_ClassifierErrorFallsBack(t *testing.T) {
	logger, hook := test.NewNullLogger()
	classifier := &mockClassifier{}
	features := domain.FeatureVector{"ASTV": 25}

	classifier.On("Loaded").Return(true)
	classifier.On("Predict", mock.Anything, features).Return(nil, errors.New("session run failed"))

	p := NewPredictor(logger, classifier, predictorDataset(), PredictorOptions{})
	resp, err := p.Predict(context.Background(), &domain.PredictionRequest{Features: features})
	require.NoError(t, err)

	assert.True(t, resp.Fallback)
	assert.Equal(t, "Pathological (Rule-based fallback)", resp.PredictionLabel)
	assert.Nil(t, resp.MissingFeatures)

	var sawError bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.ErrorLevel && e.Message == "Prediction failed, using rule-based fallback" {
			sawError = true
		}
	}
	assert.True(t, sawError)
}

func TestPredictor_UnloadedClassifier(t *testing.T) {
	logger, _ := test.NewNullLogger()
	classifier := &mockClassifier{}
	classifier.On("Loaded").Return(false)

	p := NewPredictor(logger, classifier, predictorDataset(), PredictorOptions{})
	resp, err := p.Predict(context.Background(), &domain.PredictionRequest{Features: domain.FeatureVector{"LB": 140}})
	require.NoError(t, err)

	assert.True(t, resp.Fallback)
	classifier.AssertNotCalled(t, "Predict", mock.Anything, mock.Anything)
}

func TestPredictor_EmptyFeatures(t *testing.T) {
	logger, _ := test.NewNullLogger()
	p := NewPredictor(logger, nil, predictorDataset(), PredictorOptions{})

	_, err := p.Predict(context.Background(), &domain.PredictionRequest{})

	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "features", ve.Field)
}

func TestPredictor_ModelInfoWithoutClassifier(t *testing.T) {
	logger, _ := test.NewNullLogger()
	p := NewPredictor(logger, nil, predictorDataset(), PredictorOptions{})

	info := p.ModelInfo()
	assert.False(t, info.Loaded)
	assert.Equal(t, []string{"Normal", "Suspect", "Pathological"}, info.ClassNames)
}
