package api

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ctgenie-cds-server/internal/domain"
	"github.com/ctgenie-cds-server/internal/service"
)

type predictRequest struct {
	CTGFeatures    domain.FeatureVector   `json:"ctg_features" binding:"required"`
	PatientContext *domain.PatientContext `json:"patient_context,omitempty"`
}

type similarCasesRequest struct {
	CTGFeatures domain.FeatureVector `json:"ctg_features" binding:"required"`
	TopK        int                  `json:"top_k"`
}

type evidenceRequest struct {
	Label        string    `json:"label" binding:"required"`
	Attributions []float64 `json:"shap_values"`
	FeatureNames []string  `json:"feature_names" binding:"required"`
	Values       []any     `json:"values" binding:"required"`
	TopK         int       `json:"top_k"`
}

type explainQuery struct {
	IndexDir string `form:"rag_index_dir"`
	TopK     int    `form:"rag_top_k"`
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	body := gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"version":   Version,
	}
	for k, v := range s.app.Status() {
		body[k] = v
	}
	c.JSON(http.StatusOK, body)
}

// handlePredict classifies a tracing and attaches recommendations, similar
// cases, guidelines and evidence
func (s *Server) handlePredict(c *gin.Context) {
	var req predictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "Invalid prediction request", err)
		return
	}

	resp, err := s.app.Predictor.Predict(c.Request.Context(), &domain.PredictionRequest{
		Features:       req.CTGFeatures,
		PatientContext: req.PatientContext,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// handleSimilarCases returns full similar cases with an aggregate summary
func (s *Server) handleSimilarCases(c *gin.Context) {
	var req similarCasesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "Invalid similar-cases request", err)
		return
	}

	k := req.TopK
	if k <= 0 {
		k = service.DefaultSimilarCasesK
	}
	c.JSON(http.StatusOK, s.app.Predictor.Cases().SimilarCases(req.CTGFeatures, k))
}

// handleGuidelines returns the guidelines of one category with the document source
func (s *Server) handleGuidelines(c *gin.Context) {
	category := c.Param("category")
	book := s.app.Data.Guidelines()
	guidelines, err := service.GuidelinesByCategory(book, category)
	if err != nil {
		s.writeError(c, err)
		return
	}

	source := book.Source
	if source == "" {
		source = "Unknown"
	}
	c.JSON(http.StatusOK, gin.H{
		"category":   category,
		"guidelines": guidelines,
		"source":     source,
	})
}

// handleInterventionAlgorithm returns the algorithm for a tracing category
func (s *Server) handleInterventionAlgorithm(c *gin.Context) {
	algorithm, err := service.InterventionAlgorithmFor(s.app.Data.Guidelines(), c.Param("category"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, algorithm)
}

// handleEvidence ranks raw attribution arrays into an evidence structure
func (s *Server) handleEvidence(c *gin.Context) {
	var req evidenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "Invalid evidence request", err)
		return
	}
	if req.Attributions == nil {
		s.writeError(c, domain.ErrAttributionUnavailable)
		return
	}

	evidence, err := service.BuildEvidenceFromArrays(req.Label, req.Attributions, req.FeatureNames, req.Values, service.RankOptions{
		TopK:            req.TopK,
		Glossary:        s.app.Data.Glossary(),
		ReferenceRanges: s.app.Data.ReferenceRanges(),
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, evidence)
}

// handleExplain generates the caregiver and clinician explanations for an
// evidence document
func (s *Server) handleExplain(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		s.badRequest(c, "Could not read request body", err)
		return
	}

	var q explainQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		s.badRequest(c, "Invalid query parameters", err)
		return
	}

	if err := s.app.Explainer.CheckCredential(); err != nil {
		s.writeError(c, err)
		return
	}

	opts, err := s.app.ResolveExplainOptions(q.IndexDir, q.TopK)
	if err != nil {
		s.writeError(c, err)
		return
	}

	evidence, err := service.DecodeEvidence(body)
	if err != nil {
		s.writeError(c, err)
		return
	}

	result, err := s.app.Explainer.GenerateExplanations(c.Request.Context(), evidence, opts)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
