// Package app assembles the reference data, classifier, completion client and
// retriever into the services used by the HTTP, MCP and CLI front ends.
package app

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ctgenie-cds-server/internal/domain"
	"github.com/ctgenie-cds-server/internal/reference"
	"github.com/ctgenie-cds-server/internal/service"
	"github.com/ctgenie-cds-server/pkg/classifier"
	"github.com/ctgenie-cds-server/pkg/external"
)

// App holds the wired services.
type App struct {
	Config     *domain.Config
	Logger     *logrus.Logger
	Data       *reference.Dataset
	Classifier domain.ClassifierProvider
	Predictor  *service.Predictor
	Explainer  *service.Explainer

	closers []func() error
}

// Options overrides collaborators, mainly for tests.
type Options struct {
	Data       *reference.Dataset
	Classifier domain.ClassifierProvider
	Completion domain.CompletionProvider
	Retriever  domain.ContextRetriever
}

// Build wires the application from configuration. Missing optional pieces
// (model, API key, retrieval index) degrade instead of failing.
func Build(cm domain.ConfigManager, logger *logrus.Logger, opts Options) (*App, error) {
	cfg := cm.GetConfig()
	a := &App{Config: cfg, Logger: logger}

	a.Data = opts.Data
	if a.Data == nil {
		a.Data = reference.Load(cfg.Data, logger)
	}

	a.Classifier = opts.Classifier
	if a.Classifier == nil {
		a.Classifier = a.loadClassifier(cfg.Classifier)
	}

	completion := opts.Completion
	if completion == nil && cfg.LLM.APIKey != "" {
		client, err := external.NewOpenAIClient(cfg.LLM, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create completion client: %w", err)
		}
		completion = client
	}
	if completion == nil {
		logger.Warn("OPENAI_API_KEY not set, explanations are disabled")
	}

	retriever := opts.Retriever
	if retriever == nil {
		r, err := external.NewLocalIndexRetriever(external.RetrieverConfig{
			CacheSize:       cfg.Retrieval.CacheSize,
			MaxPassageChars: cfg.Retrieval.MaxPassageChars,
			BreakerFailures: cfg.Retrieval.BreakerFailures,
			BreakerTimeout:  cfg.Retrieval.BreakerTimeout,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create retriever: %w", err)
		}
		retriever = r
	}

	a.Predictor = service.NewPredictor(logger, a.Classifier, a.Data, service.PredictorOptions{
		SimilarCasesK:      cfg.Data.SimilarCasesK,
		AttributionMapTopK: cfg.Data.AttributionMapTopK,
		EvidenceTopK:       cfg.Data.EvidenceTopK,
	})
	a.Explainer = service.NewExplainer(logger, cfg.LLM, completion, retriever)

	logger.WithFields(logrus.Fields{
		"cases":             len(a.Data.Cases()),
		"guidelines_loaded": a.Data.Guidelines().Loaded(),
		"model_loaded":      a.Classifier.Loaded(),
		"explanations":      completion != nil,
		"index_dir":         cfg.Retrieval.IndexDir,
	}).Info("Application initialized")

	return a, nil
}

func (a *App) loadClassifier(cfg domain.ClassifierConfig) domain.ClassifierProvider {
	if !cfg.Enabled {
		a.Logger.Info("Classifier disabled, using rule-based fallback")
		return classifier.Unloaded{}
	}
	c := classifier.NewONNXClassifier(cfg, a.Logger)
	if err := c.Load(); err != nil {
		a.Logger.WithError(err).Warn("Model not loaded, using rule-based fallback")
		return classifier.Unloaded{}
	}
	a.closers = append(a.closers, c.Close)
	return c
}

// ExplainOptions returns the configured grounding options.
func (a *App) ExplainOptions() service.ExplainOptions {
	return service.ExplainOptions{
		IndexDir: a.Config.Retrieval.IndexDir,
		TopK:     a.Config.Retrieval.TopK,
	}
}

// ResolveExplainOptions applies caller overrides to the configured grounding
// options. An index directory override must name the configured index
// directory or a directory below it; anything else is a validation error, so
// remote callers cannot point retrieval at arbitrary server paths.
func (a *App) ResolveExplainOptions(indexDir string, topK int) (service.ExplainOptions, error) {
	opts := a.ExplainOptions()
	if topK > 0 {
		opts.TopK = topK
	}
	if indexDir == "" {
		return opts, nil
	}

	root := a.Config.Retrieval.IndexDir
	if root == "" {
		return opts, domain.NewValidationError("rag_index_dir", "index overrides are disabled because no reference index directory is configured")
	}
	dir := indexDir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(root, dir)
	}
	if !withinDir(root, dir) {
		return opts, domain.NewValidationError("rag_index_dir", "must be inside the configured reference index directory")
	}

	opts.IndexDir = filepath.Clean(dir)
	return opts, nil
}

// withinDir reports whether dir is root or below it, after resolving symlinks
// where the paths exist.
func withinDir(root, dir string) bool {
	root, dir = resolvePath(root), resolvePath(dir)
	rel, err := filepath.Rel(root, dir)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

func resolvePath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		return resolved
	}
	return filepath.Clean(p)
}

// Status summarizes what is loaded, for health reporting.
func (a *App) Status() map[string]any {
	return map[string]any{
		"model_info":        a.Predictor.ModelInfo(),
		"cases_loaded":      len(a.Data.Cases()),
		"guidelines_loaded": a.Data.Guidelines().Loaded(),
	}
}

// Close releases resources held by the collaborators.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
