// Package reference loads the read-only reference data used by the services:
// historical CTG cases, clinical guidelines, curated similar-case entries, the
// feature glossary and explicit reference ranges.
//
// A Dataset is built once at startup and never mutated afterwards, so it can be
// shared by concurrent requests without locking.
package reference

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ctgenie-cds-server/internal/domain"
	"github.com/sirupsen/logrus"
)

// Dataset is the immutable reference data snapshot.
type Dataset struct {
	cases      []domain.CaseRecord
	caseIndex  map[string]int
	guidelines domain.GuidelineBook
	curated    map[string]domain.CuratedSimilarCases
	glossary   domain.Glossary
	ranges     domain.ReferenceRanges
}

// Option customises a Dataset built with New.
type Option func(*Dataset)

// WithCases sets the historical case corpus.
func WithCases(cases []domain.CaseRecord) Option {
	return func(d *Dataset) { d.cases = cases }
}

// WithGuidelines sets the guideline book.
func WithGuidelines(book domain.GuidelineBook) Option {
	return func(d *Dataset) { d.guidelines = book }
}

// WithCurated sets the curated similar-case table.
func WithCurated(curated map[string]domain.CuratedSimilarCases) Option {
	return func(d *Dataset) { d.curated = curated }
}

// WithGlossary replaces the built-in glossary.
func WithGlossary(g domain.Glossary) Option {
	return func(d *Dataset) { d.glossary = g }
}

// WithReferenceRanges sets the explicit reference-range table.
func WithReferenceRanges(r domain.ReferenceRanges) Option {
	return func(d *Dataset) { d.ranges = r }
}

// New builds a Dataset from in-memory tables. Unset tables are empty, except
// the glossary which defaults to DefaultGlossary.
func New(opts ...Option) *Dataset {
	d := &Dataset{}
	for _, opt := range opts {
		opt(d)
	}
	if d.glossary == nil {
		d.glossary = DefaultGlossary()
	}
	if d.curated == nil {
		d.curated = map[string]domain.CuratedSimilarCases{}
	}
	if d.ranges == nil {
		d.ranges = domain.ReferenceRanges{}
	}
	d.caseIndex = make(map[string]int, len(d.cases))
	for i, c := range d.cases {
		if _, dup := d.caseIndex[c.CaseID]; !dup {
			d.caseIndex[c.CaseID] = i
		}
	}
	return d
}

// Load reads every configured reference file below cfg.Dir. A missing or
// unreadable file yields an empty table and a logged warning; loading never
// fails as a whole.
func Load(cfg domain.DataConfig, logger *logrus.Logger) *Dataset {
	var cases []domain.CaseRecord
	for _, name := range cfg.CaseBatches {
		var batch []domain.CaseRecord
		path := filepath.Join(cfg.Dir, name)
		if err := readJSON(path, &batch); err != nil {
			logLoadFailure(logger, "case batch", path, err)
			continue
		}
		logger.WithFields(logrus.Fields{"file": path, "cases": len(batch)}).Info("Loaded case batch")
		cases = append(cases, batch...)
	}

	var book domain.GuidelineBook
	if path := optionalPath(cfg.Dir, cfg.GuidelinesFile); path != "" {
		if err := readJSON(path, &book); err != nil {
			logLoadFailure(logger, "guidelines", path, err)
			book = domain.GuidelineBook{}
		} else {
			logger.WithFields(logrus.Fields{"file": path, "version": book.Version}).Info("Loaded clinical guidelines")
		}
	}

	curated := map[string]domain.CuratedSimilarCases{}
	if path := optionalPath(cfg.Dir, cfg.SimilarCasesFile); path != "" {
		if err := readJSON(path, &curated); err != nil {
			logLoadFailure(logger, "similar cases database", path, err)
			curated = map[string]domain.CuratedSimilarCases{}
		} else {
			logger.WithFields(logrus.Fields{"file": path, "patients": len(curated)}).Info("Loaded curated similar cases")
		}
	}

	var glossary domain.Glossary
	if path := optionalPath(cfg.Dir, cfg.GlossaryFile); path != "" {
		if err := readJSON(path, &glossary); err != nil {
			logLoadFailure(logger, "glossary", path, err)
			glossary = nil
		}
	}

	ranges := domain.ReferenceRanges{}
	if path := optionalPath(cfg.Dir, cfg.ReferenceRangesFile); path != "" {
		if err := readJSON(path, &ranges); err != nil {
			logLoadFailure(logger, "reference ranges", path, err)
			ranges = domain.ReferenceRanges{}
		}
	}

	d := New(
		WithCases(cases),
		WithGuidelines(book),
		WithCurated(curated),
		WithGlossary(glossary),
		WithReferenceRanges(ranges),
	)

	logger.WithFields(logrus.Fields{
		"cases":             len(d.cases),
		"guidelines_loaded": d.guidelines.Loaded(),
		"glossary_entries":  len(d.glossary),
		"reference_ranges":  len(d.ranges),
	}).Info("Reference data ready")

	return d
}

// Cases returns the case corpus. Callers must not modify the returned slice.
func (d *Dataset) Cases() []domain.CaseRecord {
	return d.cases
}

// CaseByID returns the case with the given id.
func (d *Dataset) CaseByID(id string) (domain.CaseRecord, bool) {
	i, ok := d.caseIndex[id]
	if !ok {
		return domain.CaseRecord{}, false
	}
	return d.cases[i], true
}

// Guidelines returns the guideline book.
func (d *Dataset) Guidelines() *domain.GuidelineBook {
	return &d.guidelines
}

// Curated returns the curated entry for a case id.
func (d *Dataset) Curated(caseID string) (domain.CuratedSimilarCases, bool) {
	c, ok := d.curated[caseID]
	return c, ok
}

// HasCurated reports whether any curated entries are loaded.
func (d *Dataset) HasCurated() bool {
	return len(d.curated) > 0
}

// Glossary returns the feature glossary.
func (d *Dataset) Glossary() domain.Glossary {
	return d.glossary
}

// ReferenceRanges returns the explicit reference-range table.
func (d *Dataset) ReferenceRanges() domain.ReferenceRanges {
	return d.ranges
}

func optionalPath(dir, name string) string {
	if name == "" {
		return ""
	}
	return filepath.Join(dir, name)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

func logLoadFailure(logger *logrus.Logger, what, path string, err error) {
	entry := logger.WithFields(logrus.Fields{"file": path, "error": err.Error()})
	if errors.Is(err, fs.ErrNotExist) {
		entry.Warnf("%s not found, skipping", what)
		return
	}
	entry.Warnf("Could not load %s", what)
}
