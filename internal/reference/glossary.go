package reference

import "github.com/ctgenie-cds-server/internal/domain"

const binaryRef = "0 = no, 1 = yes"

// DefaultGlossary returns the built-in audience naming table used when no
// glossary file is configured.
func DefaultGlossary() domain.Glossary {
	return domain.Glossary{
		"MSTV": {
			ParentName: "short-term heart rate variability",
			DoctorName: "MSTV",
			ParentDesc: "How much the baby's heart rate changes beat-to-beat over short periods.",
			DoctorDesc: "Mean short-term variability; lower values can indicate reduced autonomic responsiveness.",
			Unit:       "bpm (approx.)",
			Ref:        "—",
		},
		"ASTV": {
			ParentName: "time with abnormal short-term variability",
			DoctorName: "ASTV (%)",
			ParentDesc: "Percent of time with less healthy short-term changes in heart rate.",
			DoctorDesc: "Proportion of epochs with abnormal short-term variability; higher values may indicate compromise.",
			Unit:       "%",
			Ref:        "—",
		},
		"ALTV": {
			ParentName: "time with abnormal long-term variability",
			DoctorName: "ALTV (%)",
			ParentDesc: "Percent of time with less healthy longer swings of heart rate.",
			DoctorDesc: "Proportion of epochs with abnormal long-term variability.",
			Unit:       "%",
			Ref:        "—",
		},

		// SisPorto pattern flags
		"SUSP": {
			ParentName: "suspect pattern",
			DoctorName: "Suspect pattern",
			ParentDesc: "An in-between pattern that needs closer watching.",
			DoctorDesc: "SisPorto 'suspect' pattern flag; often correlates with intermediate risk.",
			Unit:       "0/1",
			Ref:        binaryRef,
		},
		"FS": {
			ParentName: "flat-sinusoidal pattern",
			DoctorName: "Flat-sinusoidal pattern (FS)",
			ParentDesc: "A concerning pattern that may signal problems.",
			DoctorDesc: "Associated with pathological states; sustained presence is worrisome.",
			Unit:       "0/1",
			Ref:        binaryRef,
		},
		"LD": {
			ParentName: "largely decelerative pattern",
			DoctorName: "Largely decelerative pattern (LD)",
			ParentDesc: "Frequent slowdowns in the baby's heart rate.",
			DoctorDesc: "Frequent/recurrent decelerations; may reflect hypoxic episodes.",
			Unit:       "0/1",
			Ref:        binaryRef,
		},
		"AD": {
			ParentName: "accelerative/decelerative pattern",
			DoctorName: "AD pattern",
			ParentDesc: "Ups and downs in the baby's heart rate.",
			DoctorDesc: "Mixed acceleration/deceleration pattern; context-dependent significance.",
			Unit:       "0/1",
			Ref:        binaryRef,
		},
		"DE": {
			ParentName: "decelerative pattern",
			DoctorName: "Decelerative pattern (DE)",
			ParentDesc: "More slowdowns than usual in heart rate.",
			DoctorDesc: "Predominant decelerations; consider relation to contractions and baseline.",
			Unit:       "0/1",
			Ref:        binaryRef,
		},

		// Histogram and baseline
		"LBE": {
			ParentName: "baseline heart rate (expert)",
			DoctorName: "Baseline FHR (expert)",
			ParentDesc: "Average heart rate between contractions when the baby is resting.",
			DoctorDesc: "Expert-estimated FHR baseline.",
			Unit:       "bpm",
			Ref:        "—",
		},
		"Mean": {
			ParentName: "histogram mean heart rate",
			DoctorName: "Histogram mean",
			ParentDesc: "Average heart rate across the exam.",
			DoctorDesc: "Mean of FHR distribution; proxy for baseline.",
			Unit:       "bpm",
			Ref:        "—",
		},
		"Variance": {
			ParentName: "heart rate spread",
			DoctorName: "Histogram variance",
			ParentDesc: "How spread-out the heart rate values are.",
			DoctorDesc: "Dispersion of FHR distribution; ties to variability.",
			Unit:       "bpm²",
			Ref:        "—",
		},

		// Counts and events
		"AC": {
			ParentName: "accelerations",
			DoctorName: "Accelerations (AC)",
			ParentDesc: "Moments when the baby's heart rate briefly speeds up.",
			DoctorDesc: "Number/rate of accelerations; reassuring when present.",
			Unit:       "count",
			Ref:        "—",
		},
		"FM": {
			ParentName: "fetal movements",
			DoctorName: "Fetal movement (FM)",
			ParentDesc: "How often the baby moves.",
			DoctorDesc: "Movement counts; context with FHR patterns.",
			Unit:       "count",
			Ref:        "—",
		},
		"UC": {
			ParentName: "uterine contractions",
			DoctorName: "Uterine contractions (UC)",
			ParentDesc: "How often the womb tightens.",
			DoctorDesc: "Frequency of uterine activity; align decelerations with contractions.",
			Unit:       "count",
			Ref:        "—",
		},
		"DL": {
			ParentName: "light decelerations",
			DoctorName: "Light decelerations (DL)",
			ParentDesc: "Small slowdowns in heart rate.",
			DoctorDesc: "Mild decelerations; significance depends on timing/morphology.",
			Unit:       "count",
			Ref:        "—",
		},
		"DP": {
			ParentName: "prolonged decelerations",
			DoctorName: "Prolonged decelerations (DP)",
			ParentDesc: "Longer slowdowns in heart rate.",
			DoctorDesc: "Prolonged decelerations; evaluate relation to uterine activity.",
			Unit:       "count",
			Ref:        "—",
		},
	}
}
