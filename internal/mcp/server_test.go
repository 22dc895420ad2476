package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctgenie-cds-server/internal/app"
	"github.com/ctgenie-cds-server/internal/domain"
	"github.com/ctgenie-cds-server/internal/prompts"
	"github.com/ctgenie-cds-server/internal/reference"
	"github.com/ctgenie-cds-server/internal/service"
	"github.com/ctgenie-cds-server/pkg/classifier"
)

type echoCompletion struct{}

func (echoCompletion) Complete(_ context.Context, req domain.CompletionRequest) (string, error) {
	if req.Messages[0].Content == prompts.CaregiverSystem {
		return "caregiver text", nil
	}
	return "clinician text", nil
}

func newTestServer(t *testing.T, completion domain.CompletionProvider) *Server {
	t.Helper()
	logger, _ := test.NewNullLogger()

	data := reference.New(reference.WithCases([]domain.CaseRecord{
		{CaseID: "CTG-0001", CTGFeatures: domain.FeatureVector{"LB": 132, "ASTV": 48, "AC": 3}, NSPLabel: "Normal"},
	}))

	cfg := &domain.Config{}
	cfg.MCP = domain.MCPConfig{ServerName: "ctgenie", ServerVersion: "1.0.0"}
	cfg.LLM = domain.LLMConfig{Model: "gpt-4o-mini"}
	if completion != nil {
		cfg.LLM.APIKey = "sk-test"
	}

	a := &app.App{
		Config:     cfg,
		Logger:     logger,
		Data:       data,
		Classifier: classifier.Unloaded{},
		Predictor:  service.NewPredictor(logger, classifier.Unloaded{}, data, service.PredictorOptions{}),
		Explainer:  service.NewExplainer(logger, cfg.LLM, completion, nil),
	}

	s, err := NewServer(a)
	require.NoError(t, err)
	return s
}

func textOf(t *testing.T, result *mcp.CallToolResult, i int) string {
	t.Helper()
	require.Greater(t, len(result.Content), i)
	tc, ok := result.Content[i].(*mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestNewServer(t *testing.T) {
	s := newTestServer(t, nil)

	assert.NotNil(t, s.mcpServer)
	assert.NotNil(t, s.logger)
}

func TestHandlePredict(t *testing.T) {
	s := newTestServer(t, nil)

	result, _, err := s.handlePredict(context.Background(), nil, PredictParams{
		CTGFeatures: map[string]float64{"LB": 135, "AC": 4, "ASTV": 55, "DP": 0},
	})
	require.NoError(t, err)
	require.False(t, result.IsError)

	assert.Equal(t, "Prediction: Normal (Rule-based fallback) (confidence 0.92)", textOf(t, result, 0))

	var resp domain.PredictionResponse
	require.NoError(t, json.Unmarshal([]byte(textOf(t, result, 1)), &resp))
	assert.True(t, resp.Fallback)
	assert.Len(t, resp.ClinicalRecommendations, 3)
}

func TestHandlePredict_EmptyFeatures(t *testing.T) {
	s := newTestServer(t, nil)

	result, _, err := s.handlePredict(context.Background(), nil, PredictParams{})
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, textOf(t, result, 0), "Prediction failed")
}

func TestHandleSimilarCases(t *testing.T) {
	s := newTestServer(t, nil)

	result, _, err := s.handleSimilarCases(context.Background(), nil, SimilarCasesParams{
		CTGFeatures: map[string]float64{"LB": 130, "ASTV": 50, "AC": 2},
		TopK:        2,
	})
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out domain.SimilarCasesResult
	require.NoError(t, json.Unmarshal([]byte(textOf(t, result, 1)), &out))
	assert.Equal(t, 1, out.Count)
	assert.Equal(t, "CTG-0001", out.SimilarCases[0].CaseID)

	result, _, err = s.handleSimilarCases(context.Background(), nil, SimilarCasesParams{})
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleRecommend(t *testing.T) {
	s := newTestServer(t, nil)

	result, _, err := s.handleRecommend(context.Background(), nil, RecommendParams{
		PredictionLabel: "Suspect",
		PatientContext:  &domain.PatientContext{RiskFactors: []string{"Hypertension"}},
	})
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, textOf(t, result, 0), "📋 Note: Hypertensive disorder present - lower threshold for intervention")

	result, _, err = s.handleRecommend(context.Background(), nil, RecommendParams{PredictionLabel: "Category X"})
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleExplain(t *testing.T) {
	evidence := map[string]any{
		"label": "Normal",
		"top_features": []any{
			map[string]any{"name_raw": "ASTV", "value": 55, "shap": 5.0, "dir": "?"},
		},
	}

	t.Run("missing credential", func(t *testing.T) {
		s := newTestServer(t, nil)
		result, _, err := s.handleExplain(context.Background(), nil, ExplainParams{Evidence: evidence})
		require.NoError(t, err)
		assert.True(t, result.IsError)
		assert.Contains(t, textOf(t, result, 0), "OPENAI_API_KEY")
	})

	t.Run("invalid evidence", func(t *testing.T) {
		s := newTestServer(t, echoCompletion{})
		result, _, err := s.handleExplain(context.Background(), nil, ExplainParams{Evidence: map[string]any{"label": "Normal"}})
		require.NoError(t, err)
		assert.True(t, result.IsError)
		assert.Contains(t, textOf(t, result, 0), "top_features")
	})

	t.Run("index outside configured root", func(t *testing.T) {
		s := newTestServer(t, echoCompletion{})
		s.app.Config.Retrieval.IndexDir = t.TempDir()
		result, _, err := s.handleExplain(context.Background(), nil, ExplainParams{Evidence: evidence, RAGIndexDir: "../../etc"})
		require.NoError(t, err)
		assert.True(t, result.IsError)
		assert.Contains(t, textOf(t, result, 0), "rag_index_dir")
	})

	t.Run("success", func(t *testing.T) {
		s := newTestServer(t, echoCompletion{})
		result, _, err := s.handleExplain(context.Background(), nil, ExplainParams{Evidence: evidence})
		require.NoError(t, err)
		require.False(t, result.IsError)
		assert.Equal(t, "## For parents\n\ncaregiver text\n\n## For clinicians\n\nclinician text", textOf(t, result, 0))
	})
}
