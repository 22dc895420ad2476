package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ctgenie-cds-server/internal/domain"
	"github.com/ctgenie-cds-server/internal/prompts"
)

// DefaultRetrievalTopK is the number of passages requested for grounding.
const DefaultRetrievalTopK = 5

// ExplainOptions controls optional grounding of the clinician explanation.
type ExplainOptions struct {
	IndexDir string
	TopK     int
}

// Explainer produces the caregiver and clinician explanations for an evidence
// structure.
type Explainer struct {
	logger     *logrus.Logger
	cfg        domain.LLMConfig
	completion domain.CompletionProvider
	retriever  domain.ContextRetriever
}

// NewExplainer creates a new explainer. completion may be nil when no
// credential is configured; retriever may be nil to disable grounding.
func NewExplainer(logger *logrus.Logger, cfg domain.LLMConfig, completion domain.CompletionProvider, retriever domain.ContextRetriever) *Explainer {
	return &Explainer{
		logger:     logger,
		cfg:        cfg,
		completion: completion,
		retriever:  retriever,
	}
}

// GenerateExplanations checks the credential, validates the evidence and issues
// the two completion calls concurrently. Retrieval failures never fail the call;
// the clinician prompt then carries a note instead of passages.
func (x *Explainer) GenerateExplanations(ctx context.Context, evidence *domain.EvidenceStructure, opts ExplainOptions) (*domain.ExplanationResult, error) {
	if err := x.CheckCredential(); err != nil {
		return nil, err
	}
	if err := ValidateEvidence(evidence); err != nil {
		return nil, err
	}

	pair := prompts.BuildPromptPair(evidence)
	result := &domain.ExplanationResult{}

	caregiverMessages := []domain.Message{
		{Role: domain.RoleSystem, Content: prompts.CaregiverSystem},
		{Role: domain.RoleUser, Content: pair.Caregiver},
	}

	clinicianMessages := []domain.Message{
		{Role: domain.RoleSystem, Content: prompts.ClinicianSystem},
	}
	if grounding := x.grounding(ctx, evidence, opts, result); grounding != "" {
		clinicianMessages = append(clinicianMessages, domain.Message{Role: domain.RoleSystem, Content: grounding})
	}
	clinicianMessages = append(clinicianMessages, domain.Message{Role: domain.RoleUser, Content: pair.Clinician})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		text, err := x.completion.Complete(gctx, domain.CompletionRequest{
			Model:       x.cfg.Model,
			Messages:    caregiverMessages,
			Temperature: x.cfg.CaregiverTemperature,
			MaxTokens:   x.cfg.CaregiverMaxTokens,
		})
		if err != nil {
			return fmt.Errorf("caregiver explanation: %w", err)
		}
		result.ParentText = text
		return nil
	})
	g.Go(func() error {
		text, err := x.completion.Complete(gctx, domain.CompletionRequest{
			Model:       x.cfg.Model,
			Messages:    clinicianMessages,
			Temperature: x.cfg.ClinicianTemperature,
			MaxTokens:   x.cfg.ClinicianMaxTokens,
		})
		if err != nil {
			return fmt.Errorf("clinician explanation: %w", err)
		}
		result.DoctorText = text
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	x.logger.WithFields(logrus.Fields{
		"label":    evidence.Label,
		"features": len(evidence.TopFeatures),
		"grounded": result.Grounded,
	}).Info("Generated explanations")

	return result, nil
}

// CheckCredential reports a *domain.ConfigurationError when no completion
// credential is configured.
func (x *Explainer) CheckCredential() error {
	if strings.TrimSpace(x.cfg.APIKey) == "" || x.completion == nil {
		return &domain.ConfigurationError{
			Setting: "OPENAI_API_KEY",
			Message: "completion provider credential is missing; set it in the environment or a .env file",
		}
	}
	return nil
}

// grounding returns the extra clinician system message, or "" when retrieval
// is not configured or found nothing.
func (x *Explainer) grounding(ctx context.Context, evidence *domain.EvidenceStructure, opts ExplainOptions, result *domain.ExplanationResult) string {
	if opts.IndexDir == "" || x.retriever == nil {
		return ""
	}
	if !x.retriever.Available(opts.IndexDir) {
		x.logger.WithField("index_dir", opts.IndexDir).Debug("Reference index not available, skipping retrieval")
		return ""
	}

	k := opts.TopK
	if k <= 0 {
		k = DefaultRetrievalTopK
	}

	passages, err := x.retriever.Retrieve(ctx, opts.IndexDir, evidence, k)
	if err != nil {
		x.logger.WithError(err).WithField("index_dir", opts.IndexDir).Warn("Retrieval failed, proceeding with evidence only")
		result.RetrievalNote = prompts.RetrievalUnavailableNote(err)
		return result.RetrievalNote
	}
	if len(passages) == 0 {
		return ""
	}

	result.Grounded = true
	return prompts.FormatPassages(passages)
}
