package domain

import "encoding/json"

// Demographics describes the patient of a historical case.
type Demographics struct {
	Age                 int      `json:"age"`
	Gravida             int      `json:"gravida"`
	Para                int      `json:"para"`
	GestationalAgeWeeks float64  `json:"gestational_age_weeks"`
	RiskFactors         []string `json:"risk_factors"`
	AdmissionDate       string   `json:"admission_date"`
}

// Outcome describes delivery and neonatal outcome of a historical case.
type Outcome struct {
	DeliveryMode          string   `json:"delivery_mode"`
	Apgar1Min             float64  `json:"apgar_1min"`
	Apgar5Min             float64  `json:"apgar_5min"`
	BirthWeightGrams      float64  `json:"birth_weight_grams"`
	NICUAdmission         bool     `json:"nicu_admission"`
	Interventions         []string `json:"interventions"`
	MaternalComplications []string `json:"maternal_complications"`
	NeonatalComplications []string `json:"neonatal_complications"`
}

// CaseRecord is one historical CTG case. The typed fields drive similarity and
// narratives; a record decoded from JSON keeps its source document, which is
// what it encodes back to, so corpus fields outside the struct survive.
type CaseRecord struct {
	CaseID            string        `json:"case_id"`
	CTGFeatures       FeatureVector `json:"ctg_features"`
	NSPLabel          string        `json:"nsp_label"`
	ClinicalNarrative string        `json:"clinical_narrative"`
	Demographics      Demographics  `json:"demographics"`
	Outcome           Outcome       `json:"outcome"`

	raw json.RawMessage
}

type plainCaseRecord CaseRecord

// UnmarshalJSON decodes the typed fields and keeps the source document.
func (c *CaseRecord) UnmarshalJSON(data []byte) error {
	var p plainCaseRecord
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*c = CaseRecord(p)
	c.raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON returns the source document when the record was decoded from
// JSON and the typed fields otherwise.
func (c CaseRecord) MarshalJSON() ([]byte, error) {
	if len(c.raw) > 0 {
		return c.raw, nil
	}
	return json.Marshal(plainCaseRecord(c))
}

// SimilarCase is the compact form of a retrieved case.
type SimilarCase struct {
	CaseID          string  `json:"case_id"`
	SimilarityScore float64 `json:"similarity_score"`
	NSPLabel        string  `json:"nsp_label"`
	ClinicalSummary string  `json:"clinical_summary"`
	Outcome         string  `json:"outcome"`
	PatientAge      int     `json:"patient_age"`
	GestationalAge  float64 `json:"gestational_age"`
}

// SimilarCaseDetail is the full form of a retrieved case: the entire record
// plus similarity_score and case_study_essay.
type SimilarCaseDetail struct {
	CaseRecord
	SimilarityScore float64 `json:"similarity_score"`
	CaseStudyEssay  string  `json:"case_study_essay"`
}

// MarshalJSON merges the score and essay into the record's object.
func (d SimilarCaseDetail) MarshalJSON() ([]byte, error) {
	record, err := json.Marshal(d.CaseRecord)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(record, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		fields = map[string]json.RawMessage{}
	}
	if fields["similarity_score"], err = json.Marshal(d.SimilarityScore); err != nil {
		return nil, err
	}
	if fields["case_study_essay"], err = json.Marshal(d.CaseStudyEssay); err != nil {
		return nil, err
	}
	return json.Marshal(fields)
}

// UnmarshalJSON splits the merged object back into record, score and essay.
func (d *SimilarCaseDetail) UnmarshalJSON(data []byte) error {
	var extra struct {
		SimilarityScore float64 `json:"similarity_score"`
		CaseStudyEssay  string  `json:"case_study_essay"`
	}
	if err := json.Unmarshal(data, &extra); err != nil {
		return err
	}
	if err := d.CaseRecord.UnmarshalJSON(data); err != nil {
		return err
	}
	d.SimilarityScore = extra.SimilarityScore
	d.CaseStudyEssay = extra.CaseStudyEssay
	return nil
}

// SimilarCasesResult is the full-mode retrieval result with its aggregate summary.
type SimilarCasesResult struct {
	Query        FeatureVector       `json:"query"`
	SimilarCases []SimilarCaseDetail `json:"similar_cases"`
	CasesSummary string              `json:"cases_summary"`
	Count        int                 `json:"count"`
	Curated      bool                `json:"curated"`
}

// CuratedSimilarCases is a precomputed similar-case entry for a known case.
type CuratedSimilarCases struct {
	SimilarCaseIDs []string `json:"similar_case_ids"`
	Summary        string   `json:"summary"`
}
