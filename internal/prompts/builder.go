// Package prompts renders evidence structures into the caregiver and clinician
// prompts sent to the completion provider.
package prompts

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ctgenie-cds-server/internal/domain"
)

// CaregiverSystem is the system prompt for the plain-language explanation.
const CaregiverSystem = "You are a health communication assistant. " +
	"Use only the evidence provided. " +
	"No diagnosis or prescriptions. " +
	"Write for non-experts at middle-school reading level. " +
	"Explain why the model produced this label and suggest next-step actions " +
	"that should be discussed with a clinician. If evidence is insufficient, say so."

// ClinicianSystem is the system prompt for the clinician explanation.
const ClinicianSystem = "You are a clinical decision explanation assistant. " +
	"Use only the provided evidence; do not invent facts. " +
	"Be quantitative, traceable, and aligned with the given SHAP attributions. " +
	"Discuss potential limitations and confounders. " +
	"No prescriptions. Output is for clinician review and does not replace judgment."

// CaregiverMaxFeatures caps the features shown to caregivers.
const CaregiverMaxFeatures = 5

const (
	unknownLabel   = "UNKNOWN"
	unknownModel   = "UNKNOWN_MODEL"
	unknownVersion = "v0"
	notAvailable   = "NA"
)

var caregiverInstructions = []string{
	"Please produce:",
	"1) One-sentence summary of the situation (avoid absolute statements).",
	"2) Why the model produced this label (map to the factors above using everyday language).",
	"3) Next steps the family can take (e.g., what to prepare when talking to the clinician, harmless lifestyle considerations).",
	"4) Closing disclaimer: this is an explanation, not a diagnosis; defer to clinical judgment.",
}

var clinicianInstructions = []string{
	"Please produce:",
	"1) Interpretation of the discrete prediction and the primary drivers (factor-by-factor, mechanism hypotheses using general, conservative clinical knowledge).",
	"2) Potential confounders and model limitations (data bias, proxy variables, external validity).",
	"3) Suggested verification points for clinician review (tests to consider, follow-up indicators) without prescribing.",
	"4) Disclaimer: explanation based on local SHAP; does not replace clinical judgment.",
}

// BuildCaregiverPrompt renders the label and at most five features in plain language.
func BuildCaregiverPrompt(e *domain.EvidenceStructure) string {
	lines := []string{
		"Model label: " + orDefault(e.Label, unknownLabel),
		"Key factors (ordered by impact, up to 5):",
	}

	features := e.TopFeatures
	if len(features) > CaregiverMaxFeatures {
		features = features[:CaregiverMaxFeatures]
	}
	for _, f := range features {
		name := firstNonEmpty(f.NameParent, f.NameRaw, "feature")
		line := fmt.Sprintf("- %s%s: value %s (ref %s), direction %s.%s",
			name, unitPart(f.Unit), formatValue(f.Value), orDefault(f.Ref, notAvailable),
			direction(f.Direction), prefixed(" Meaning: ", f.DescParent))
		lines = append(lines, line)
	}

	return join(lines, caregiverInstructions)
}

// BuildClinicianPrompt renders the label, model identity and every feature with
// its attribution.
func BuildClinicianPrompt(e *domain.EvidenceStructure) string {
	name, version := unknownModel, unknownVersion
	if e.ModelCard != nil {
		name = orDefault(e.ModelCard.Name, unknownModel)
		version = orDefault(e.ModelCard.Version, unknownVersion)
	}

	lines := []string{
		"Discrete prediction (no probability provided): " + orDefault(e.Label, unknownLabel),
		fmt.Sprintf("Model: %s (%s)", name, version),
		"Top factors (with SHAP and direction):",
	}

	for _, f := range e.TopFeatures {
		fname := firstNonEmpty(f.NameDoctor, f.NameRaw, "feature")
		attribution := notAvailable
		if f.Attribution != nil {
			attribution = strconv.FormatFloat(*f.Attribution, 'f', -1, 64)
		}
		line := fmt.Sprintf("- %s%s = %s (ref %s), SHAP=%s, dir %s.%s",
			fname, unitPart(f.Unit), formatValue(f.Value), orDefault(f.Ref, notAvailable),
			attribution, direction(f.Direction), prefixed(" Note: ", f.DescDoctor))
		lines = append(lines, line)
	}

	return join(lines, clinicianInstructions)
}

// BuildPromptPair renders both audience prompts.
func BuildPromptPair(e *domain.EvidenceStructure) domain.PromptPair {
	return domain.PromptPair{
		Caregiver: BuildCaregiverPrompt(e),
		Clinician: BuildClinicianPrompt(e),
	}
}

// FormatPassages renders retrieved passages as a grounding system message.
func FormatPassages(passages []domain.Passage) string {
	var b strings.Builder
	b.WriteString("Reference passages (cite as [n] where used; do not rely on anything else):")
	for i, p := range passages {
		b.WriteString("\n")
		fmt.Fprintf(&b, "[%d] %s", i+1, orDefault(p.Source, "unknown source"))
		if p.Page > 0 {
			fmt.Fprintf(&b, " p.%d", p.Page)
		}
		b.WriteString(": " + strings.TrimSpace(p.Text))
	}
	return b.String()
}

// RetrievalUnavailableNote is the system message sent when retrieval fails.
func RetrievalUnavailableNote(err error) string {
	return fmt.Sprintf("[RAG unavailable: %v] Proceed with evidence only.", err)
}

func join(lines, instructions []string) string {
	all := make([]string, 0, len(lines)+1+len(instructions))
	all = append(all, lines...)
	all = append(all, "")
	all = append(all, instructions...)
	return strings.Join(all, "\n")
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return notAvailable
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	default:
		return fmt.Sprint(x)
	}
}

func direction(d domain.Direction) string {
	if d == "" {
		return string(domain.DirectionUnknown)
	}
	return string(d)
}

func unitPart(unit string) string {
	return prefixed(" ", unit)
}

func prefixed(prefix, s string) string {
	if s == "" {
		return ""
	}
	return prefix + s
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
