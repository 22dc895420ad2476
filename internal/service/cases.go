package service

import (
	"math"

	"github.com/sirupsen/logrus"

	"github.com/ctgenie-cds-server/internal/domain"
	"github.com/ctgenie-cds-server/internal/reference"
)

// CuratedSimilarityScore is the fixed score reported for curated similar cases.
const CuratedSimilarityScore = 0.95

// CaseService answers similar-case queries against the reference corpus.
type CaseService struct {
	logger *logrus.Logger
	data   *reference.Dataset
}

// NewCaseService creates a new case service
func NewCaseService(logger *logrus.Logger, data *reference.Dataset) *CaseService {
	return &CaseService{logger: logger, data: data}
}

// SimilarCases returns up to k similar cases in full form with an aggregate
// summary. A query matching a corpus case that has a curated entry returns the
// curated cases and summary; anything else uses cosine similarity.
func (s *CaseService) SimilarCases(query domain.FeatureVector, k int) *domain.SimilarCasesResult {
	if k <= 0 {
		k = DefaultSimilarCasesK
	}

	if result, ok := s.curatedCases(query, k); ok {
		return result
	}

	similar := FindSimilarCasesDetailed(query, s.data.Cases(), k)
	s.logger.WithFields(logrus.Fields{
		"k":       k,
		"matches": len(similar),
	}).Debug("Computed similar cases")

	return &domain.SimilarCasesResult{
		Query:        query,
		SimilarCases: similar,
		CasesSummary: SummarizeCases(similar),
		Count:        len(similar),
	}
}

// CompactSimilarCases returns the k most similar cases in compact form.
func (s *CaseService) CompactSimilarCases(query domain.FeatureVector, k int) []domain.SimilarCase {
	return FindSimilarCases(query, s.data.Cases(), k)
}

func (s *CaseService) curatedCases(query domain.FeatureVector, k int) (*domain.SimilarCasesResult, bool) {
	if !s.data.HasCurated() {
		return nil, false
	}
	patient, ok := s.matchPatient(query)
	if !ok {
		return nil, false
	}
	entry, ok := s.data.Curated(patient.CaseID)
	if !ok {
		return nil, false
	}

	ids := entry.SimilarCaseIDs
	if len(ids) > k {
		ids = ids[:k]
	}
	similar := make([]domain.SimilarCaseDetail, 0, len(ids))
	for _, id := range ids {
		if c, found := s.data.CaseByID(id); found {
			similar = append(similar, detailFor(c, CuratedSimilarityScore))
		}
	}

	s.logger.WithFields(logrus.Fields{
		"patient_case": patient.CaseID,
		"matches":      len(similar),
	}).Debug("Served curated similar cases")

	return &domain.SimilarCasesResult{
		Query:        query,
		SimilarCases: similar,
		CasesSummary: entry.Summary,
		Count:        len(similar),
		Curated:      true,
	}, true
}

// matchPatient finds the first corpus case whose LB, ASTV and AC are within a
// small tolerance of the query.
func (s *CaseService) matchPatient(query domain.FeatureVector) (domain.CaseRecord, bool) {
	qlb := query.Get(domain.FeatureLB, 0)
	qastv := query.Get(domain.FeatureASTV, 0)
	qac := query.Get(domain.FeatureAC, 0)

	for _, c := range s.data.Cases() {
		f := c.CTGFeatures
		if math.Abs(f.Get(domain.FeatureLB, 0)-qlb) < 1.0 &&
			math.Abs(f.Get(domain.FeatureASTV, 0)-qastv) < 1.0 &&
			math.Abs(f.Get(domain.FeatureAC, 0)-qac) < 0.01 {
			return c, true
		}
	}
	return domain.CaseRecord{}, false
}
