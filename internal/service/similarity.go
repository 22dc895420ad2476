package service

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/ctgenie-cds-server/internal/domain"
)

// DefaultSimilarCasesK is the number of cases returned by the similarity search.
const DefaultSimilarCasesK = 5

const clinicalSummaryChars = 200

// CosineSimilarity returns the cosine of the angle between a and b, or 0 when
// either vector has zero norm or the lengths differ.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	s := floats.Dot(a, b) / (na * nb)
	return math.Max(-1, math.Min(1, s))
}

type scoredCase struct {
	score  float64
	record *domain.CaseRecord
}

// rankCases scores every case against the query over the query's sorted keys.
// Keys missing from a case count as 0.
func rankCases(query domain.FeatureVector, corpus []domain.CaseRecord, k int) []scoredCase {
	if k <= 0 || len(corpus) == 0 {
		return nil
	}

	keys := query.SortedKeys()
	q := make([]float64, len(keys))
	for i, key := range keys {
		q[i] = query[key]
	}

	scored := make([]scoredCase, len(corpus))
	c := make([]float64, len(keys))
	for i := range corpus {
		for j, key := range keys {
			c[j] = corpus[i].CTGFeatures.Get(key, 0)
		}
		scored[i] = scoredCase{score: CosineSimilarity(q, c), record: &corpus[i]}
	}

	sort.SliceStable(scored, func(a, b int) bool {
		return scored[a].score > scored[b].score
	})
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored
}

// FindSimilarCases returns the k most similar cases in compact form.
func FindSimilarCases(query domain.FeatureVector, corpus []domain.CaseRecord, k int) []domain.SimilarCase {
	ranked := rankCases(query, corpus, k)
	out := make([]domain.SimilarCase, 0, len(ranked))
	for _, s := range ranked {
		out = append(out, domain.SimilarCase{
			CaseID:          s.record.CaseID,
			SimilarityScore: round3(s.score),
			NSPLabel:        s.record.NSPLabel,
			ClinicalSummary: truncateRunes(s.record.ClinicalNarrative, clinicalSummaryChars) + "...",
			Outcome:         s.record.Outcome.DeliveryMode,
			PatientAge:      s.record.Demographics.Age,
			GestationalAge:  s.record.Demographics.GestationalAgeWeeks,
		})
	}
	return out
}

// FindSimilarCasesDetailed returns the k most similar cases as full records,
// each with a generated case study essay.
func FindSimilarCasesDetailed(query domain.FeatureVector, corpus []domain.CaseRecord, k int) []domain.SimilarCaseDetail {
	ranked := rankCases(query, corpus, k)
	out := make([]domain.SimilarCaseDetail, 0, len(ranked))
	for _, s := range ranked {
		out = append(out, detailFor(*s.record, round3(s.score)))
	}
	return out
}

func detailFor(record domain.CaseRecord, score float64) domain.SimilarCaseDetail {
	return domain.SimilarCaseDetail{
		CaseRecord:      record,
		SimilarityScore: score,
		CaseStudyEssay:  CaseStudyEssay(record),
	}
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
