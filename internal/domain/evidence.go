package domain

// Direction marks where a feature value sits relative to its reference range.
type Direction string

const (
	DirectionAbove   Direction = "↑"
	DirectionBelow   Direction = "↓"
	DirectionUnknown Direction = "?"
)

// FeatureAnnotation is one ranked feature with glossary and reference-range enrichment.
// Value is a JSON scalar (number or string); nil means the value is missing.
// Attribution is nil when the attribution key was absent at the boundary.
type FeatureAnnotation struct {
	NameRaw     string    `json:"name_raw"`
	NameParent  string    `json:"name_parent"`
	NameDoctor  string    `json:"name_doctor"`
	DescParent  string    `json:"desc_parent"`
	DescDoctor  string    `json:"desc_doctor"`
	Unit        string    `json:"unit"`
	Value       any       `json:"value"`
	Ref         string    `json:"ref"`
	Low         *float64  `json:"low,omitempty"`
	High        *float64  `json:"high,omitempty"`
	Attribution *float64  `json:"shap"`
	Direction   Direction `json:"dir"`
}

// ModelCard identifies the model that produced the evidence.
type ModelCard struct {
	Name     string   `json:"name"`
	Version  string   `json:"version"`
	Accuracy *float64 `json:"accuracy,omitempty"`
}

// EvidenceStructure is the validated input of the explanation step.
type EvidenceStructure struct {
	Label       string              `json:"label"`
	TopFeatures []FeatureAnnotation `json:"top_features"`
	ModelCard   *ModelCard          `json:"model_card,omitempty"`
}

// GlossaryEntry holds audience-specific naming for one feature.
type GlossaryEntry struct {
	ParentName string `json:"parent_name"`
	DoctorName string `json:"doctor_name"`
	ParentDesc string `json:"parent_desc"`
	DoctorDesc string `json:"doctor_desc"`
	Unit       string `json:"unit"`
	Ref        string `json:"ref"`

	// Optional bounds; a reference range entry carrying a bound replaces them.
	Low  *float64 `json:"low,omitempty"`
	High *float64 `json:"high,omitempty"`
}

// Glossary maps raw feature keys to glossary entries.
type Glossary map[string]GlossaryEntry

// ReferenceRange is an explicit reference range for one feature.
type ReferenceRange struct {
	Ref  string   `json:"ref"`
	Low  *float64 `json:"low,omitempty"`
	High *float64 `json:"high,omitempty"`
}

// ReferenceRanges maps raw feature keys to reference ranges.
type ReferenceRanges map[string]ReferenceRange
