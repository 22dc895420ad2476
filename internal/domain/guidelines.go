package domain

import (
	"bytes"
	"encoding/json"
)

// Guideline is one entry of the guideline document. Only the keys used for
// lookup are typed; the entry itself is kept as decoded and returned verbatim.
type Guideline struct {
	GuidelineID string
	Category    string
	Raw         json.RawMessage
}

// UnmarshalJSON keeps the entry and extracts guideline_id and category. It
// never fails on well-formed JSON, so one odd entry cannot drop the document.
func (g *Guideline) UnmarshalJSON(data []byte) error {
	fields := objectFields(data)
	*g = Guideline{
		GuidelineID: stringField(fields, "guideline_id"),
		Category:    stringField(fields, "category"),
		Raw:         append(json.RawMessage(nil), data...),
	}
	return nil
}

// MarshalJSON returns the entry as loaded, or its keys when built in code.
func (g Guideline) MarshalJSON() ([]byte, error) {
	if len(g.Raw) > 0 {
		return g.Raw, nil
	}
	return json.Marshal(map[string]string{"guideline_id": g.GuidelineID, "category": g.Category})
}

// InterventionAlgorithm is one stepwise management algorithm; like Guideline
// only its id is typed.
type InterventionAlgorithm struct {
	AlgorithmID string
	Raw         json.RawMessage
}

// UnmarshalJSON keeps the entry and extracts algorithm_id.
func (a *InterventionAlgorithm) UnmarshalJSON(data []byte) error {
	*a = InterventionAlgorithm{
		AlgorithmID: stringField(objectFields(data), "algorithm_id"),
		Raw:         append(json.RawMessage(nil), data...),
	}
	return nil
}

// MarshalJSON returns the entry as loaded, or its id when built in code.
func (a InterventionAlgorithm) MarshalJSON() ([]byte, error) {
	if len(a.Raw) > 0 {
		return a.Raw, nil
	}
	return json.Marshal(map[string]string{"algorithm_id": a.AlgorithmID})
}

// GuidelineBook is the loaded guideline document.
type GuidelineBook struct {
	Version                string                  `json:"version"`
	Source                 string                  `json:"source"`
	Guidelines             []Guideline             `json:"guidelines"`
	InterventionAlgorithms []InterventionAlgorithm `json:"intervention_algorithms"`
}

// UnmarshalJSON requires a JSON object but tolerates any shape inside it: a
// section that is not a list is treated as empty.
func (b *GuidelineBook) UnmarshalJSON(data []byte) error {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}

	*b = GuidelineBook{
		Version: scalarText(doc["version"]),
		Source:  scalarText(doc["source"]),
	}
	for _, item := range listItems(doc["guidelines"]) {
		var g Guideline
		_ = g.UnmarshalJSON(item)
		b.Guidelines = append(b.Guidelines, g)
	}
	for _, item := range listItems(doc["intervention_algorithms"]) {
		var a InterventionAlgorithm
		_ = a.UnmarshalJSON(item)
		b.InterventionAlgorithms = append(b.InterventionAlgorithms, a)
	}
	return nil
}

// Loaded reports whether any guideline content is present.
func (b *GuidelineBook) Loaded() bool {
	return b != nil && (len(b.Guidelines) > 0 || len(b.InterventionAlgorithms) > 0 ||
		b.Version != "" || b.Source != "")
}

func objectFields(data []byte) map[string]json.RawMessage {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil
	}
	return fields
}

func listItems(data json.RawMessage) []json.RawMessage {
	var items []json.RawMessage
	if len(data) == 0 || json.Unmarshal(data, &items) != nil {
		return nil
	}
	return items
}

func stringField(fields map[string]json.RawMessage, key string) string {
	var s string
	if err := json.Unmarshal(fields[key], &s); err != nil {
		return ""
	}
	return s
}

// scalarText renders a string or number field as text.
func scalarText(data json.RawMessage) string {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s
	}
	if data[0] == '{' || data[0] == '[' {
		return ""
	}
	return string(data)
}
