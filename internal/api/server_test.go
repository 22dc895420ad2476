package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
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

type fakeCompletion struct{}

func (fakeCompletion) Complete(_ context.Context, req domain.CompletionRequest) (string, error) {
	if req.Messages[0].Content == prompts.CaregiverSystem {
		return "Your baby's heart rate looks reassuring.", nil
	}
	return "Category I tracing.", nil
}

func testDataset() *reference.Dataset {
	return reference.New(
		reference.WithCases([]domain.CaseRecord{
			{CaseID: "CTG-0001", CTGFeatures: domain.FeatureVector{"LB": 132, "ASTV": 48, "AC": 3}, NSPLabel: "Normal",
				Outcome: domain.Outcome{DeliveryMode: "Spontaneous vaginal delivery", Apgar1Min: 8, Apgar5Min: 9}},
			{CaseID: "CTG-0002", CTGFeatures: domain.FeatureVector{"LB": 160, "ASTV": 75, "AC": 0, "DP": 3}, NSPLabel: "Pathological",
				Outcome: domain.Outcome{DeliveryMode: "Emergency cesarean section", Apgar1Min: 4, Apgar5Min: 7}},
		}),
		reference.WithGuidelines(domain.GuidelineBook{
			Guidelines: []domain.Guideline{
				{GuidelineID: "CTG-002", Category: "variability"},
				{GuidelineID: "CTG-005", Category: "three_tier_classification"},
			},
			InterventionAlgorithms: []domain.InterventionAlgorithm{
				{AlgorithmID: "INT-002"},
			},
		}),
	)
}

func newTestServer(t *testing.T, data *reference.Dataset, completion domain.CompletionProvider) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger, _ := test.NewNullLogger()

	cfg := &domain.Config{}
	cfg.Server.AllowedOrigins = []string{"*"}
	cfg.Logging.Level = "info"
	cfg.LLM = domain.LLMConfig{Model: "gpt-4o-mini", CaregiverMaxTokens: 700, ClinicianMaxTokens: 900}
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
	return NewServer(a)
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decodeAPIError(t *testing.T, w *httptest.ResponseRecorder) domain.APIError {
	t.Helper()
	var apiErr domain.APIError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &apiErr))
	assert.NotEmpty(t, apiErr.RequestID)
	return apiErr
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, testDataset(), nil)

	w := doJSON(t, s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, float64(2), body["cases_loaded"])
	assert.Equal(t, true, body["guidelines_loaded"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestPredict(t *testing.T) {
	s := newTestServer(t, testDataset(), nil)

	w := doJSON(t, s, http.MethodPost, "/api/v1/predict", map[string]any{
		"ctg_features": map[string]float64{"LB": 135, "AC": 4, "ASTV": 55, "DP": 0},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp domain.PredictionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Normal (Rule-based fallback)", resp.PredictionLabel)
	assert.Equal(t, 0.92, resp.Confidence)
	assert.Len(t, resp.SimilarCases, 2)
	require.NotNil(t, resp.Evidence)
	assert.NotEmpty(t, resp.Evidence.TopFeatures)
}

func TestPredict_Invalid(t *testing.T) {
	s := newTestServer(t, testDataset(), nil)

	w := doJSON(t, s, http.MethodPost, "/api/v1/predict", "{not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, domain.ErrInvalidInput, decodeAPIError(t, w).Code)

	w = doJSON(t, s, http.MethodPost, "/api/v1/predict", map[string]any{"ctg_features": map[string]float64{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, domain.ErrValidation, decodeAPIError(t, w).Code)
}

func TestSimilarCases(t *testing.T) {
	s := newTestServer(t, testDataset(), nil)

	w := doJSON(t, s, http.MethodPost, "/api/v1/similar-cases", map[string]any{
		"ctg_features": map[string]float64{"LB": 158, "ASTV": 70, "AC": 0, "DP": 2},
		"top_k":        1,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var result domain.SimilarCasesResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, 1, result.Count)
	require.Len(t, result.SimilarCases, 1)
	assert.Equal(t, "CTG-0002", result.SimilarCases[0].CaseID)
	assert.Contains(t, result.CasesSummary, "Clinical Case Summary Analysis")
}

func TestGuidelines(t *testing.T) {
	s := newTestServer(t, testDataset(), nil)

	w := doJSON(t, s, http.MethodGet, "/api/v1/guidelines/variability", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "CTG-002")
	assert.Contains(t, w.Body.String(), `"source":"Unknown"`)

	w = doJSON(t, s, http.MethodGet, "/api/v1/guidelines/uterine_activity", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, domain.ErrNotFound, decodeAPIError(t, w).Code)

	empty := newTestServer(t, reference.New(), nil)
	w = doJSON(t, empty, http.MethodGet, "/api/v1/guidelines/variability", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestInterventionAlgorithm(t *testing.T) {
	s := newTestServer(t, testDataset(), nil)

	w := doJSON(t, s, http.MethodGet, "/api/v1/intervention-algorithm/abnormal", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var algorithm domain.InterventionAlgorithm
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &algorithm))
	assert.Equal(t, "INT-002", algorithm.AlgorithmID)

	w = doJSON(t, s, http.MethodGet, "/api/v1/intervention-algorithm/category_1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, s, http.MethodGet, "/api/v1/intervention-algorithm/indeterminate", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGuidelines_DocumentEntriesPassThrough(t *testing.T) {
	var book domain.GuidelineBook
	require.NoError(t, json.Unmarshal([]byte(`{
		"source": "FIGO 2015",
		"guidelines": [{"guideline_id": "CTG-002", "category": "variability", "thresholds": {"reduced": 5}}],
		"intervention_algorithms": [{"algorithm_id": "INT-002", "steps": ["Call obstetrician", "Prepare theatre"]}]
	}`), &book))
	s := newTestServer(t, reference.New(reference.WithGuidelines(book)), nil)

	w := doJSON(t, s, http.MethodGet, "/api/v1/guidelines/variability", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Source     string           `json:"source"`
		Guidelines []map[string]any `json:"guidelines"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "FIGO 2015", body.Source)
	require.Len(t, body.Guidelines, 1)
	assert.Equal(t, map[string]any{"reduced": float64(5)}, body.Guidelines[0]["thresholds"])

	w = doJSON(t, s, http.MethodGet, "/api/v1/intervention-algorithm/category_3", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var algorithm map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &algorithm))
	assert.Equal(t, []any{"Call obstetrician", "Prepare theatre"}, algorithm["steps"])
}

func TestEvidence(t *testing.T) {
	s := newTestServer(t, testDataset(), nil)

	w := doJSON(t, s, http.MethodPost, "/api/v1/evidence", map[string]any{
		"label":         "Suspect",
		"shap_values":   []float64{0.1, -0.5},
		"feature_names": []string{"LB", "ASTV"},
		"values":        []any{135, 55},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var evidence domain.EvidenceStructure
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &evidence))
	assert.Equal(t, "Suspect", evidence.Label)
	require.Len(t, evidence.TopFeatures, 2)
	assert.Equal(t, "ASTV", evidence.TopFeatures[0].NameRaw)

	w = doJSON(t, s, http.MethodPost, "/api/v1/evidence", map[string]any{
		"label":         "Suspect",
		"shap_values":   []float64{0.1},
		"feature_names": []string{"LB", "ASTV"},
		"values":        []any{135, 55},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, s, http.MethodPost, "/api/v1/evidence", map[string]any{
		"label":         "Suspect",
		"feature_names": []string{"LB"},
		"values":        []any{135},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

const explainBody = `{
  "label": "Normal",
  "top_features": [
    {"name_raw": "ASTV", "name_parent": "Short-term variability", "name_doctor": "ASTV",
     "value": 55, "shap": 5.0, "dir": "?"}
  ]
}`

func TestExplain(t *testing.T) {
	s := newTestServer(t, testDataset(), fakeCompletion{})

	w := doJSON(t, s, http.MethodPost, "/api/v1/explain", explainBody)
	require.Equal(t, http.StatusOK, w.Code)

	var result domain.ExplanationResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, "Your baby's heart rate looks reassuring.", result.ParentText)
	assert.Equal(t, "Category I tracing.", result.DoctorText)
}

func TestExplain_MissingCredential(t *testing.T) {
	s := newTestServer(t, testDataset(), nil)

	// The credential check runs before the evidence is validated.
	w := doJSON(t, s, http.MethodPost, "/api/v1/explain", `{"label": "Normal", "top_features": []}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	apiErr := decodeAPIError(t, w)
	assert.Equal(t, domain.ErrConfiguration, apiErr.Code)
	assert.Contains(t, apiErr.Details, "OPENAI_API_KEY")
}

func TestExplain_InvalidEvidence(t *testing.T) {
	s := newTestServer(t, testDataset(), fakeCompletion{})

	w := doJSON(t, s, http.MethodPost, "/api/v1/explain", `{"label": "Normal", "top_features": [{"name_raw": "LB", "value": 140, "dir": "?"}]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	apiErr := decodeAPIError(t, w)
	assert.Equal(t, domain.ErrValidation, apiErr.Code)
	assert.Contains(t, apiErr.Details, "top_features[0].shap")
}

type countingCompletion struct {
	calls *atomic.Int32
}

func (c countingCompletion) Complete(ctx context.Context, req domain.CompletionRequest) (string, error) {
	c.calls.Add(1)
	return fakeCompletion{}.Complete(ctx, req)
}

func TestExplain_IndexDirOutsideRootRejected(t *testing.T) {
	var calls atomic.Int32
	s := newTestServer(t, testDataset(), countingCompletion{calls: &calls})
	root := t.TempDir()
	s.app.Config.Retrieval.IndexDir = root

	for _, dir := range []string{t.TempDir(), "../secret", "/etc"} {
		t.Run(dir, func(t *testing.T) {
			w := doJSON(t, s, http.MethodPost, "/api/v1/explain?rag_index_dir="+url.QueryEscape(dir), explainBody)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			apiErr := decodeAPIError(t, w)
			assert.Equal(t, domain.ErrValidation, apiErr.Code)
			assert.Contains(t, apiErr.Details, "rag_index_dir")
		})
	}
	assert.Zero(t, calls.Load())
}

func TestExplain_IndexDirOverrideWithoutConfiguredRoot(t *testing.T) {
	s := newTestServer(t, testDataset(), fakeCompletion{})

	w := doJSON(t, s, http.MethodPost, "/api/v1/explain?rag_index_dir="+url.QueryEscape(t.TempDir()), explainBody)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	apiErr := decodeAPIError(t, w)
	assert.Contains(t, apiErr.Details, "rag_index_dir")
}

func TestExplain_IndexDirSubdirectoryAccepted(t *testing.T) {
	s := newTestServer(t, testDataset(), fakeCompletion{})
	root := t.TempDir()
	s.app.Config.Retrieval.IndexDir = root

	w := doJSON(t, s, http.MethodPost, "/api/v1/explain?rag_index_dir="+url.QueryEscape(filepath.Join(root, "figo")), explainBody)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestToAPIError_ProviderRateLimit(t *testing.T) {
	status, apiErr := toAPIError(&domain.ProviderError{StatusCode: 429, Body: "slow down"}, "req-1")
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, domain.ErrCodeRateLimited, apiErr.Code)

	status, apiErr = toAPIError(&domain.ProviderError{StatusCode: 500, Body: "boom"}, "req-1")
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, domain.ErrExternalAPI, apiErr.Code)
}
