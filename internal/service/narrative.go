package service

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/montanaflynn/stats"

	"github.com/ctgenie-cds-server/internal/domain"
)

// NoSimilarCasesSummary is the aggregate summary for an empty case list.
const NoSimilarCasesSummary = "No similar cases available for analysis."

var ctgFindings = map[domain.SeverityTier]string{
	domain.TierNormal: "The tracing showed reassuring features with %s accelerations present and no concerning decelerations. " +
		"Moderate variability was maintained throughout the monitoring period, indicating good fetal oxygenation.",
	domain.TierSuspect: "The tracing demonstrated equivocal features with reduced accelerations and borderline variability. " +
		"Close observation was initiated with reassessment every 15-30 minutes. Conservative measures including maternal repositioning and hydration were implemented.",
	domain.TierPathological: "The tracing exhibited non-reassuring patterns concerning for fetal compromise. " +
		"Immediate intervention was required including continuous monitoring, maternal oxygen therapy, and preparation for potential expedited delivery.",
}

var learningPoints = map[domain.SeverityTier]string{
	domain.TierNormal:       "This case demonstrates appropriate management of a reassuring CTG pattern with successful vaginal delivery outcome.",
	domain.TierSuspect:      "This case highlights the importance of close surveillance with Category 2 tracings and timely conservative interventions to optimize fetal status.",
	domain.TierPathological: "This case emphasizes the critical need for rapid recognition and intervention in Category 3 patterns to prevent adverse neonatal outcomes.",
}

var summaryInsights = map[domain.SeverityTier][]string{
	domain.TierNormal: {
		"These cases demonstrate reassuring CTG patterns with good variability and appropriate baseline",
		"Most delivered vaginally with favorable neonatal outcomes",
	},
	domain.TierSuspect: {
		"Category 2 patterns require heightened surveillance and conservative management",
		"Early intervention with repositioning, hydration, and oxygen often beneficial",
		"Close reassessment every 15-30 minutes essential",
	},
	domain.TierPathological: {
		"Category 3 patterns demand immediate action and preparation for expedited delivery",
		"High rate of emergency interventions and NICU admissions reflects severity",
		"Rapid recognition and response critical for optimizing outcomes",
	},
}

// narrativeTier maps a case label to its template tier. Any label other than
// Normal or Suspect uses the pathological templates.
func narrativeTier(label string) domain.SeverityTier {
	switch label {
	case "Normal":
		return domain.TierNormal
	case "Suspect":
		return domain.TierSuspect
	default:
		return domain.TierPathological
	}
}

// CaseStudyEssay renders a case record as a markdown case study.
func CaseStudyEssay(c domain.CaseRecord) string {
	demo, out := c.Demographics, c.Outcome
	tier := narrativeTier(c.NSPLabel)

	var b strings.Builder

	fmt.Fprintf(&b, "**Case Presentation:** A %d-year-old G%dP%d patient at %s weeks gestation",
		demo.Age, demo.Gravida, demo.Para, formatNumber(demo.GestationalAgeWeeks))
	if rf := meaningfulRiskFactors(demo.RiskFactors); len(rf) > 0 {
		b.WriteString(" with " + strings.Join(rf, ", "))
	}
	fmt.Fprintf(&b, " was admitted on %s for continuous fetal monitoring.", demo.AdmissionDate)

	fmt.Fprintf(&b, "\n\n**CTG Analysis:** Initial assessment revealed a baseline fetal heart rate of %.0f bpm with %.0fms variability. ",
		math.RoundToEven(c.CTGFeatures.Get(domain.FeatureLB, 0)), math.RoundToEven(c.CTGFeatures.Get(domain.FeatureASTV, 0)))
	if tier == domain.TierNormal {
		fmt.Fprintf(&b, ctgFindings[tier], formatNumber(c.CTGFeatures.Get(domain.FeatureAC, 0)))
	} else {
		b.WriteString(ctgFindings[tier])
	}

	b.WriteString("\n\n**Clinical Course:** " + c.ClinicalNarrative)

	b.WriteString("\n\n**Management & Delivery:** ")
	if len(out.Interventions) > 0 {
		fmt.Fprintf(&b, "Interventions included: %s. ", strings.Join(out.Interventions, ", "))
	}
	mode := out.DeliveryMode
	if mode == "" {
		mode = "Unknown"
	}
	fmt.Fprintf(&b, "Delivery was accomplished via %s. ", strings.ToLower(mode))
	fmt.Fprintf(&b, "The neonate was born with Apgar scores of %s at 1 minute and %s at 5 minutes, weighing %sg.",
		formatNumber(out.Apgar1Min), formatNumber(out.Apgar5Min), formatNumber(out.BirthWeightGrams))
	if out.NICUAdmission {
		b.WriteString(" The infant required NICU admission for further observation and management.")
	} else {
		b.WriteString(" The infant was vigorous and did not require intensive care.")
	}

	if len(out.MaternalComplications) > 0 || len(out.NeonatalComplications) > 0 {
		b.WriteString("\n\n**Complications:** ")
		if len(out.MaternalComplications) > 0 {
			fmt.Fprintf(&b, "Maternal: %s. ", strings.Join(out.MaternalComplications, ", "))
		}
		if len(out.NeonatalComplications) > 0 {
			fmt.Fprintf(&b, "Neonatal: %s.", strings.Join(out.NeonatalComplications, ", "))
		}
	}

	b.WriteString("\n\n**Key Learning Points:** " + learningPoints[tier])

	return b.String()
}

// SummarizeCases synthesizes an aggregate markdown summary of similar cases.
func SummarizeCases(cases []domain.SimilarCaseDetail) string {
	if len(cases) == 0 {
		return NoSimilarCasesSummary
	}
	n := len(cases)

	labels := newCounter()
	risks := newCounter()
	deliveries := newCounter()
	interventions := newCounter()
	var lb, astv, ac, dl, ds, ga, apgar1, apgar5 stats.Float64Data
	nicu := 0

	for _, c := range cases {
		label := c.NSPLabel
		if label == "" {
			label = "Unknown"
		}
		labels.add(label)
		for _, rf := range meaningfulRiskFactors(c.Demographics.RiskFactors) {
			risks.add(rf)
		}
		mode := c.Outcome.DeliveryMode
		if mode == "" {
			mode = "Unknown"
		}
		deliveries.add(mode)
		for _, iv := range c.Outcome.Interventions {
			interventions.add(iv)
		}
		if c.Outcome.NICUAdmission {
			nicu++
		}

		lb = append(lb, c.CTGFeatures.Get(domain.FeatureLB, 0))
		astv = append(astv, c.CTGFeatures.Get(domain.FeatureASTV, 0))
		ac = append(ac, c.CTGFeatures.Get(domain.FeatureAC, 0))
		dl = append(dl, c.CTGFeatures.Get(domain.FeatureDL, 0))
		ds = append(ds, c.CTGFeatures.Get(domain.FeatureDS, 0))
		ga = append(ga, c.Demographics.GestationalAgeWeeks)
		apgar1 = append(apgar1, c.Outcome.Apgar1Min)
		apgar5 = append(apgar5, c.Outcome.Apgar5Min)
	}

	top := labels.mostCommon(1)[0]

	var b strings.Builder
	fmt.Fprintf(&b, "## Clinical Case Summary Analysis (%d Similar Cases)\n", n)

	b.WriteString("### Classification Pattern\n")
	fmt.Fprintf(&b, "- **Predominant Classification**: %s (%d/%d cases)\n", top.key, top.count, n)
	if len(labels.order) > 1 {
		fmt.Fprintf(&b, "- **Distribution**: %s\n", labels.joined())
	}

	b.WriteString("\n### CTG Pattern Characteristics\n")
	fmt.Fprintf(&b, "- **Average Baseline FHR**: %.1f bpm\n", mean(lb))
	fmt.Fprintf(&b, "- **Average Variability (ASTV)**: %.1f ms\n", mean(astv))
	fmt.Fprintf(&b, "- **Average Accelerations**: %.3f/sec\n", mean(ac))
	if avgDL, avgDS := mean(dl), mean(ds); avgDL > 0 || avgDS > 0 {
		fmt.Fprintf(&b, "- **Decelerations**: Light (%.2f/sec), Severe (%.2f/sec)\n", avgDL, avgDS)
	}

	if len(risks.order) > 0 {
		b.WriteString("\n### Common Risk Factors\n")
		for _, e := range risks.mostCommon(5) {
			fmt.Fprintf(&b, "- %s (%d/%d cases)\n", e.key, e.count, n)
		}
	}

	b.WriteString("\n### Outcomes & Management\n")
	fmt.Fprintf(&b, "- **Delivery Methods**: %s\n", deliveries.joined())
	fmt.Fprintf(&b, "- **NICU Admissions**: %d/%d cases\n", nicu, n)
	fmt.Fprintf(&b, "- **Average Apgar Scores**: 1-min: %.1f, 5-min: %.1f\n", mean(apgar1), mean(apgar5))

	if len(interventions.order) > 0 {
		b.WriteString("\n### Frequent Interventions\n")
		for _, e := range interventions.mostCommon(5) {
			fmt.Fprintf(&b, "- %s (%d occurrences)\n", e.key, e.count)
		}
	}

	b.WriteString("\n### Key Clinical Insights\n")
	for _, line := range summaryInsights[narrativeTier(top.key)] {
		b.WriteString("- " + line + "\n")
	}
	fmt.Fprintf(&b, "- Average gestational age: %.1f weeks\n", mean(ga))

	return b.String()
}

// meaningfulRiskFactors drops the ["None", ...] placeholder list.
func meaningfulRiskFactors(rf []string) []string {
	if len(rf) == 0 || rf[0] == "None" {
		return nil
	}
	return rf
}

func mean(data stats.Float64Data) float64 {
	m, err := stats.Mean(data)
	if err != nil {
		return 0
	}
	return m
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

type countEntry struct {
	key   string
	count int
}

// counter counts occurrences and remembers first-seen order for ties.
type counter struct {
	order  []string
	counts map[string]int
}

func newCounter() *counter {
	return &counter{counts: make(map[string]int)}
}

func (c *counter) add(key string) {
	if _, seen := c.counts[key]; !seen {
		c.order = append(c.order, key)
	}
	c.counts[key]++
}

func (c *counter) entries() []countEntry {
	out := make([]countEntry, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, countEntry{key: k, count: c.counts[k]})
	}
	return out
}

func (c *counter) mostCommon(n int) []countEntry {
	out := c.entries()
	sort.SliceStable(out, func(a, b int) bool { return out[a].count > out[b].count })
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func (c *counter) joined() string {
	parts := make([]string, 0, len(c.order))
	for _, e := range c.entries() {
		parts = append(parts, fmt.Sprintf("%s (%d)", e.key, e.count))
	}
	return strings.Join(parts, ", ")
}
