package service

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/ctgenie-cds-server/internal/domain"
)

// DefaultEvidenceTopK is the number of ranked features kept in an evidence structure.
const DefaultEvidenceTopK = 5

const defaultRefText = "—"

// RankOptions controls glossary enrichment and truncation of the ranked list.
type RankOptions struct {
	TopK            int
	Glossary        domain.Glossary
	ReferenceRanges domain.ReferenceRanges
	NamesParent     map[string]string
	NamesDoctor     map[string]string
	ModelCard       *domain.ModelCard
}

// RankFeatures orders features by descending absolute attribution and annotates
// the first TopK. Ties keep their input order. A nil attributions slice means
// attribution is unavailable and yields an empty list.
func RankFeatures(attributions []float64, names []string, values []any, opts RankOptions) ([]domain.FeatureAnnotation, error) {
	if attributions == nil {
		return []domain.FeatureAnnotation{}, nil
	}
	if len(attributions) != len(names) || len(names) != len(values) {
		return nil, fmt.Errorf("%w: %d attributions, %d names, %d values",
			domain.ErrLengthMismatch, len(attributions), len(names), len(values))
	}

	k := opts.TopK
	if k <= 0 {
		k = DefaultEvidenceTopK
	}

	order := make([]int, len(attributions))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return math.Abs(attributions[order[a]]) > math.Abs(attributions[order[b]])
	})
	if len(order) > k {
		order = order[:k]
	}

	ranked := make([]domain.FeatureAnnotation, 0, len(order))
	for _, i := range order {
		ranked = append(ranked, annotate(names[i], values[i], attributions[i], opts))
	}
	return ranked, nil
}

// BuildEvidenceFromArrays ranks the attribution arrays and assembles a validated
// evidence structure labelled with label.
func BuildEvidenceFromArrays(label string, attributions []float64, names []string, values []any, opts RankOptions) (*domain.EvidenceStructure, error) {
	ranked, err := RankFeatures(attributions, names, values, opts)
	if err != nil {
		return nil, err
	}
	return AssembleEvidence(label, ranked, opts.ModelCard)
}

func annotate(raw string, value any, attribution float64, opts RankOptions) domain.FeatureAnnotation {
	a := domain.FeatureAnnotation{
		NameRaw:    raw,
		NameParent: lookupName(opts.NamesParent, raw),
		NameDoctor: lookupName(opts.NamesDoctor, raw),
		Value:      value,
		Ref:        defaultRefText,
	}

	if g, ok := opts.Glossary[raw]; ok {
		a.NameParent = orDefault(g.ParentName, a.NameParent)
		a.NameDoctor = orDefault(g.DoctorName, a.NameDoctor)
		a.DescParent = g.ParentDesc
		a.DescDoctor = g.DoctorDesc
		a.Unit = g.Unit
		a.Ref = orDefault(g.Ref, a.Ref)
		a.Low, a.High = g.Low, g.High
	}

	// an explicit range overrides the glossary reference text and bounds
	if r, ok := opts.ReferenceRanges[raw]; ok {
		a.Ref = orDefault(r.Ref, a.Ref)
		if r.Low != nil || r.High != nil {
			a.Low, a.High = r.Low, r.High
		}
	}

	attr := attribution
	a.Attribution = &attr
	a.Direction = DirectionFor(value, a.Low, a.High)
	return a
}

// DirectionFor returns ↑ when value exceeds high, ↓ when it is below low and ?
// otherwise, including when a bound is missing or the value is not numeric.
func DirectionFor(value any, low, high *float64) domain.Direction {
	v, ok := numericValue(value)
	if !ok || low == nil || high == nil {
		return domain.DirectionUnknown
	}
	if v > *high {
		return domain.DirectionAbove
	}
	if v < *low {
		return domain.DirectionBelow
	}
	return domain.DirectionUnknown
}

func numericValue(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func lookupName(names map[string]string, raw string) string {
	if n, ok := names[raw]; ok {
		return n
	}
	return raw
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
