package service

import (
	"fmt"
	"strings"

	"github.com/ctgenie-cds-server/internal/domain"
)

const threeTierGuidelineID = "CTG-005"

var pathologicalGuidelineIDs = map[string]bool{"CTG-002": true, "CTG-004": true}

var algorithmByCategory = map[string]string{
	"category_2":    "INT-001",
	"indeterminate": "INT-001",
	"category_3":    "INT-002",
	"abnormal":      "INT-002",
}

// RelevantGuidelines returns the three-tier classification guideline and, for
// the pathological tier, the deceleration and variability guidelines.
func RelevantGuidelines(book *domain.GuidelineBook, tier domain.SeverityTier) []domain.Guideline {
	out := []domain.Guideline{}
	if !book.Loaded() {
		return out
	}
	for _, g := range book.Guidelines {
		if g.GuidelineID == threeTierGuidelineID {
			out = append(out, g)
		}
	}
	if tier == domain.TierPathological {
		for _, g := range book.Guidelines {
			if pathologicalGuidelineIDs[g.GuidelineID] {
				out = append(out, g)
			}
		}
	}
	return out
}

// GuidelinesByCategory returns every guideline whose category matches exactly.
func GuidelinesByCategory(book *domain.GuidelineBook, category string) ([]domain.Guideline, error) {
	if !book.Loaded() {
		return nil, domain.ErrGuidelinesNotLoaded
	}
	var out []domain.Guideline
	for _, g := range book.Guidelines {
		if g.Category == category {
			out = append(out, g)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no guidelines found for category %s", domain.ErrNotFoundInReference, category)
	}
	return out, nil
}

// InterventionAlgorithmFor maps a tracing category (category_2, indeterminate,
// category_3, abnormal) to its intervention algorithm.
func InterventionAlgorithmFor(book *domain.GuidelineBook, category string) (*domain.InterventionAlgorithm, error) {
	if !book.Loaded() {
		return nil, domain.ErrGuidelinesNotLoaded
	}
	id, ok := algorithmByCategory[strings.ToLower(category)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidPatternCategory, category)
	}
	for i := range book.InterventionAlgorithms {
		if book.InterventionAlgorithms[i].AlgorithmID == id {
			a := book.InterventionAlgorithms[i]
			return &a, nil
		}
	}
	return nil, fmt.Errorf("%w: algorithm not found for %s", domain.ErrNotFoundInReference, category)
}
