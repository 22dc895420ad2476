package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ctgenie-cds-server/internal/domain"
	"github.com/ctgenie-cds-server/internal/service"
)

// Tool names
const (
	ToolPredict      = "predict_ctg"
	ToolSimilarCases = "find_similar_cases"
	ToolRecommend    = "recommend_actions"
	ToolExplain      = "explain_prediction"
)

// PredictParams defines parameters for the predict_ctg tool
type PredictParams struct {
	CTGFeatures    map[string]float64     `json:"ctg_features" jsonschema:"CTG feature values keyed by UCI abbreviation (LB, AC, ASTV, DP, ...)"`
	PatientContext *domain.PatientContext `json:"patient_context,omitempty" jsonschema:"optional patient context"`
}

// SimilarCasesParams defines parameters for the find_similar_cases tool
type SimilarCasesParams struct {
	CTGFeatures map[string]float64 `json:"ctg_features" jsonschema:"CTG feature values of the query tracing"`
	TopK        int                `json:"top_k,omitempty" jsonschema:"number of cases to return (default 5)"`
}

// RecommendParams defines parameters for the recommend_actions tool
type RecommendParams struct {
	PredictionLabel string                 `json:"prediction_label" jsonschema:"Normal, Suspect or Pathological"`
	CTGFeatures     map[string]float64     `json:"ctg_features,omitempty" jsonschema:"CTG feature values"`
	PatientContext  *domain.PatientContext `json:"patient_context,omitempty" jsonschema:"optional patient context"`
}

// ExplainParams defines parameters for the explain_prediction tool
type ExplainParams struct {
	Evidence    map[string]any `json:"evidence" jsonschema:"evidence structure with label and top_features"`
	RAGIndexDir string         `json:"rag_index_dir,omitempty" jsonschema:"reference index directory for grounding, inside the configured index directory"`
	RAGTopK     int            `json:"rag_top_k,omitempty" jsonschema:"number of passages to retrieve"`
}

// handlePredict handles the predict_ctg tool invocation
func (s *Server) handlePredict(ctx context.Context, req *mcp.CallToolRequest, params PredictParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", ToolPredict).Info("Tool invoked")

	resp, err := s.app.Predictor.Predict(ctx, &domain.PredictionRequest{
		Features:       domain.FeatureVector(params.CTGFeatures),
		PatientContext: params.PatientContext,
	})
	if err != nil {
		return s.createErrorResult("Prediction failed", err), nil, nil
	}

	summary := fmt.Sprintf("Prediction: %s (confidence %.2f)", resp.PredictionLabel, resp.Confidence)
	return s.createJSONResult(summary, resp), nil, nil
}

// handleSimilarCases handles the find_similar_cases tool invocation
func (s *Server) handleSimilarCases(ctx context.Context, req *mcp.CallToolRequest, params SimilarCasesParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", ToolSimilarCases).Info("Tool invoked")

	if len(params.CTGFeatures) == 0 {
		return s.createErrorResult("Missing required parameter", fmt.Errorf("ctg_features is required")), nil, nil
	}

	result := s.app.Predictor.Cases().SimilarCases(domain.FeatureVector(params.CTGFeatures), params.TopK)
	return s.createJSONResult(result.CasesSummary, result), nil, nil
}

// handleRecommend handles the recommend_actions tool invocation
func (s *Server) handleRecommend(ctx context.Context, req *mcp.CallToolRequest, params RecommendParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", ToolRecommend).Info("Tool invoked")

	tier, ok := domain.ParseTier(params.PredictionLabel)
	if !ok {
		return s.createErrorResult("Invalid prediction label", fmt.Errorf("unknown label %q", params.PredictionLabel)), nil, nil
	}

	recs, err := s.app.Predictor.Recommendations().Recommend(tier, domain.FeatureVector(params.CTGFeatures), params.PatientContext)
	if err != nil {
		return s.createErrorResult("Recommendation failed", err), nil, nil
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: strings.Join(recs, "\n")},
		},
	}, nil, nil
}

// handleExplain handles the explain_prediction tool invocation
func (s *Server) handleExplain(ctx context.Context, req *mcp.CallToolRequest, params ExplainParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", ToolExplain).Info("Tool invoked")

	if err := s.app.Explainer.CheckCredential(); err != nil {
		return s.createErrorResult("Explanations unavailable", err), nil, nil
	}

	raw, err := json.Marshal(params.Evidence)
	if err != nil {
		return s.createErrorResult("Invalid evidence", err), nil, nil
	}
	evidence, err := service.DecodeEvidence(raw)
	if err != nil {
		return s.createErrorResult("Invalid evidence", err), nil, nil
	}

	opts, err := s.app.ResolveExplainOptions(params.RAGIndexDir, params.RAGTopK)
	if err != nil {
		return s.createErrorResult("Invalid reference index", err), nil, nil
	}

	result, err := s.app.Explainer.GenerateExplanations(ctx, evidence, opts)
	if err != nil {
		return s.createErrorResult("Explanation failed", err), nil, nil
	}

	text := "## For parents\n\n" + result.ParentText + "\n\n## For clinicians\n\n" + result.DoctorText
	if result.RetrievalNote != "" {
		text += "\n\n" + result.RetrievalNote
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}, nil, nil
}

// createJSONResult returns a summary line followed by the JSON payload
func (s *Server) createJSONResult(summary string, payload any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return s.createErrorResult("Could not encode result", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: summary},
			&mcp.TextContent{Text: string(data)},
		},
	}
}

// createErrorResult creates a standardized error result for tool calls
func (s *Server) createErrorResult(message string, err error) *mcp.CallToolResult {
	errorText := fmt.Sprintf("Error: %s", message)
	if err != nil {
		errorText += fmt.Sprintf(" - %v", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: errorText},
		},
		IsError: true,
	}
}
