// Package domain contains the core entities for cardiotocography (CTG) decision support:
// classifier output, ranked feature evidence, historical cases, reference data and the
// collaborator interfaces the services depend on.
//
// Feature abbreviations follow the UCI CTG dataset (LB, AC, FM, UC, DL, DS, DP, ASTV,
// MSTV, ALTV, MLTV, histogram statistics).
package domain

import (
	"sort"
	"strings"
)

// SeverityTier is the discrete three-way classifier output.
type SeverityTier int

const (
	TierNormal       SeverityTier = 0
	TierSuspect      SeverityTier = 1
	TierPathological SeverityTier = 2
)

var tierLabels = [...]string{"Normal", "Suspect", "Pathological"}

// ClassNames returns the class labels in tier order.
func ClassNames() []string {
	return []string{tierLabels[0], tierLabels[1], tierLabels[2]}
}

// String returns the class label of the tier.
func (t SeverityTier) String() string {
	if !t.Valid() {
		return "Unknown"
	}
	return tierLabels[t]
}

// Valid reports whether the tier is one of the three known tiers.
func (t SeverityTier) Valid() bool {
	return t >= TierNormal && t <= TierPathological
}

// ParseTier maps a class label to its tier. Labels carrying a suffix such as
// "Normal (Rule-based fallback)" resolve to the leading class name.
func ParseTier(label string) (SeverityTier, bool) {
	head := strings.TrimSpace(label)
	if i := strings.Index(head, " ("); i >= 0 {
		head = head[:i]
	}
	for i, name := range tierLabels {
		if strings.EqualFold(head, name) {
			return SeverityTier(i), true
		}
	}
	return TierNormal, false
}

// CTG feature keys used by the rules and templates.
const (
	FeatureLB   = "LB"
	FeatureAC   = "AC"
	FeatureFM   = "FM"
	FeatureUC   = "UC"
	FeatureDL   = "DL"
	FeatureDS   = "DS"
	FeatureDP   = "DP"
	FeatureASTV = "ASTV"
	FeatureMSTV = "MSTV"
	FeatureALTV = "ALTV"
	FeatureMLTV = "MLTV"
)

// FeatureVector maps CTG feature keys to numeric values.
type FeatureVector map[string]float64

// Get returns the value for key, or def when the key is absent.
func (f FeatureVector) Get(key string, def float64) float64 {
	if v, ok := f[key]; ok {
		return v
	}
	return def
}

// SortedKeys returns the feature keys in lexical order.
func (f FeatureVector) SortedKeys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// PatientContext carries optional clinical context for a prediction.
type PatientContext struct {
	PatientID           string   `json:"patient_id,omitempty"`
	Age                 int      `json:"age,omitempty"`
	GestationalAgeWeeks float64  `json:"gestational_age_weeks,omitempty"`
	Gravida             int      `json:"gravida,omitempty"`
	Para                int      `json:"para,omitempty"`
	RiskFactors         []string `json:"risk_factors,omitempty"`
}

// HasRiskFactor reports whether the named risk factor is present.
func (p *PatientContext) HasRiskFactor(name string) bool {
	if p == nil {
		return false
	}
	for _, rf := range p.RiskFactors {
		if rf == name {
			return true
		}
	}
	return false
}

// RecommendationList is an ordered list of clinical action statements.
type RecommendationList []string

// ClassifierOutput is the result of one classifier invocation.
// Attributions is nil when the provider cannot supply per-feature attribution;
// when present it is aligned with FeatureNames.
type ClassifierOutput struct {
	Class         SeverityTier `json:"class"`
	Probabilities []float64    `json:"probabilities"`
	FeatureNames  []string     `json:"feature_names"`
	Attributions  []float64    `json:"attributions,omitempty"`
}

// Confidence returns the probability of the predicted class.
func (o *ClassifierOutput) Confidence() float64 {
	if o == nil || int(o.Class) >= len(o.Probabilities) || o.Class < 0 {
		return 0
	}
	return o.Probabilities[o.Class]
}

// AttributionAvailable reports whether per-feature attribution was produced.
func (o *ClassifierOutput) AttributionAvailable() bool {
	return o != nil && o.Attributions != nil
}

// ModelInfo describes the loaded classifier.
type ModelInfo struct {
	Loaded               bool     `json:"loaded"`
	ModelType            string   `json:"model_type,omitempty"`
	Version              string   `json:"version,omitempty"`
	NFeatures            int      `json:"n_features"`
	TestAccuracy         *float64 `json:"test_accuracy,omitempty"`
	ClassNames           []string `json:"class_names"`
	AttributionAvailable bool     `json:"attribution_available"`
}

// PredictionRequest is the input of the prediction pipeline.
type PredictionRequest struct {
	Features       FeatureVector   `json:"features"`
	PatientContext *PatientContext `json:"patient_context,omitempty"`
}

// PredictionResponse is the output of the prediction pipeline.
type PredictionResponse struct {
	Prediction              SeverityTier       `json:"prediction"`
	PredictionLabel         string             `json:"prediction_label"`
	Confidence              float64            `json:"confidence"`
	Probabilities           map[string]float64 `json:"probabilities"`
	Attributions            map[string]float64 `json:"shap_values,omitempty"`
	SimilarCases            []SimilarCase      `json:"similar_cases"`
	ClinicalRecommendations RecommendationList `json:"clinical_recommendations"`
	Guidelines              []Guideline        `json:"guidelines"`
	Evidence                *EvidenceStructure `json:"evidence,omitempty"`
	Fallback                bool               `json:"fallback"`
	MissingFeatures         []string           `json:"missing_features,omitempty"`
}

// CompletionRequest is one chat completion call.
type CompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

// Message is a single chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Chat roles.
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// Passage is a retrieved reference excerpt.
type Passage struct {
	ID     string  `json:"id"`
	Source string  `json:"source"`
	Page   int     `json:"page,omitempty"`
	Text   string  `json:"text"`
	Score  float64 `json:"score,omitempty"`
}

// PromptPair holds the two audience prompts built from one evidence structure.
type PromptPair struct {
	Caregiver string `json:"caregiver"`
	Clinician string `json:"clinician"`
}

// ExplanationResult holds the two generated explanations.
type ExplanationResult struct {
	ParentText    string `json:"parent_text"`
	DoctorText    string `json:"doctor_text"`
	Grounded      bool   `json:"grounded"`
	RetrievalNote string `json:"retrieval_note,omitempty"`
}
