package service

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctgenie-cds-server/internal/domain"
)

func sampleGuidelineBook() *domain.GuidelineBook {
	return &domain.GuidelineBook{
		Version: "2024.1",
		Source:  "ACOG Practice Bulletin 106",
		Guidelines: []domain.Guideline{
			{GuidelineID: "CTG-001", Category: "baseline_heart_rate"},
			{GuidelineID: "CTG-002", Category: "variability"},
			{GuidelineID: "CTG-003", Category: "accelerations"},
			{GuidelineID: "CTG-004", Category: "decelerations"},
			{GuidelineID: "CTG-005", Category: "three_tier_classification"},
			{GuidelineID: "CTG-006", Category: "decelerations"},
		},
		InterventionAlgorithms: []domain.InterventionAlgorithm{
			{AlgorithmID: "INT-001"},
			{AlgorithmID: "INT-002"},
		},
	}
}

func guidelineIDs(gs []domain.Guideline) []string {
	ids := make([]string, len(gs))
	for i, g := range gs {
		ids[i] = g.GuidelineID
	}
	return ids
}

func TestRelevantGuidelines(t *testing.T) {
	book := sampleGuidelineBook()

	assert.Equal(t, []string{"CTG-005"}, guidelineIDs(RelevantGuidelines(book, domain.TierNormal)))
	assert.Equal(t, []string{"CTG-005"}, guidelineIDs(RelevantGuidelines(book, domain.TierSuspect)))
	assert.Equal(t, []string{"CTG-005", "CTG-002", "CTG-004"}, guidelineIDs(RelevantGuidelines(book, domain.TierPathological)))
	assert.Empty(t, RelevantGuidelines(&domain.GuidelineBook{}, domain.TierPathological))
}

func TestGuidelinesByCategory(t *testing.T) {
	book := sampleGuidelineBook()

	got, err := GuidelinesByCategory(book, "decelerations")
	require.NoError(t, err)
	assert.Equal(t, []string{"CTG-004", "CTG-006"}, guidelineIDs(got))

	_, err = GuidelinesByCategory(book, "uterine_activity")
	assert.True(t, errors.Is(err, domain.ErrNotFoundInReference))

	_, err = GuidelinesByCategory(&domain.GuidelineBook{}, "decelerations")
	assert.True(t, errors.Is(err, domain.ErrGuidelinesNotLoaded))
}

func TestInterventionAlgorithmFor(t *testing.T) {
	book := sampleGuidelineBook()

	tests := []struct {
		category string
		id       string
	}{
		{"category_2", "INT-001"},
		{"Indeterminate", "INT-001"},
		{"CATEGORY_3", "INT-002"},
		{"abnormal", "INT-002"},
	}
	for _, tt := range tests {
		t.Run(tt.category, func(t *testing.T) {
			a, err := InterventionAlgorithmFor(book, tt.category)
			require.NoError(t, err)
			assert.Equal(t, tt.id, a.AlgorithmID)
		})
	}

	_, err := InterventionAlgorithmFor(book, "category_1")
	assert.True(t, errors.Is(err, domain.ErrInvalidPatternCategory))

	partial := &domain.GuidelineBook{InterventionAlgorithms: []domain.InterventionAlgorithm{{AlgorithmID: "INT-001"}}}
	_, err = InterventionAlgorithmFor(partial, "abnormal")
	assert.True(t, errors.Is(err, domain.ErrNotFoundInReference))

	_, err = InterventionAlgorithmFor(&domain.GuidelineBook{}, "abnormal")
	assert.True(t, errors.Is(err, domain.ErrGuidelinesNotLoaded))
}
