// Package ai implements the model-backed collaborators behind the matching
// pipeline, the radar scanner, and the consultation listener: a low-level
// Client for an OpenAI-compatible responses API, a typed Assistant exposing
// the clinical operations, and a deterministic Stub for development and
// tests (AI_MODE=stub).
//
// The wire types below are the shapes the assistant produces and the domain
// packages consume. Domain packages define their collaborator interfaces in
// terms of these types; *Assistant satisfies those interfaces implicitly.
package ai

import (
	"encoding/json"
	"fmt"
)

// ECOG is a performance-status grade. Payloads may carry it as a JSON number
// ("ecog": 1) or as free text ("ecog": "1-2, declining"); both decode to the
// verbatim string form, which is also how it is stored.
type ECOG string

func (e *ECOG) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*e = ECOG(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("ecog must be a number or a string")
	}
	*e = ECOG(n.String())
	return nil
}

// Location is a patient location. Country defaults to "India" upstream when
// a city is reported without one.
type Location struct {
	City    string   `json:"city"`
	Country string   `json:"country"`
	Lat     *float64 `json:"lat,omitempty"`
	Lng     *float64 `json:"lng,omitempty"`
}

// Profile is a structured oncology patient profile, either extracted from
// free text / document images or supplied directly by a clinician.
type Profile struct {
	Condition           string            `json:"condition"`
	ConditionNormalized string            `json:"condition_normalized,omitempty"`
	Histology           string            `json:"histology,omitempty"`
	Stage               string            `json:"stage,omitempty"`
	LineOfTherapy       string            `json:"line_of_therapy,omitempty"`
	PriorTreatments     []string          `json:"prior_treatments"`
	CurrentTreatments   []string          `json:"current_treatments,omitempty"`
	Biomarkers          map[string]string `json:"biomarkers"`
	ECOG                ECOG              `json:"ecog,omitempty"`
	Age                 *int              `json:"age,omitempty"`
	Sex                 string            `json:"sex,omitempty"`
	CNSInvolvement      *bool             `json:"cns_involvement,omitempty"`
	MetastaticSites     []string          `json:"metastatic_sites,omitempty"`
	Comorbidities       []string          `json:"comorbidities,omitempty"`
	OrganFunction       string            `json:"organ_function,omitempty"`
	Location            *Location         `json:"location,omitempty"`
}

// TrialCandidate is the slice of a trial record the evaluator needs.
type TrialCandidate struct {
	NCTID       string
	Title       string
	Phase       string
	Eligibility string
}

// TrialEvaluation is the evaluator's verdict for one candidate trial.
type TrialEvaluation struct {
	NCTID         string   `json:"nct_id"`
	FitScore      int      `json:"fit_score"`
	FitCategory   string   `json:"fit_category"`
	MeetsCriteria []string `json:"meets_criteria"`
	FailsCriteria []string `json:"fails_criteria"`
	MissingInfo   []string `json:"missing_info"`
	Explanation   string   `json:"explanation"`
}

// Finding is a single radar signal for a monitored drug. Date is the event
// date as reported, ISO formatted (YYYY-MM-DD). SourceURL is genuinely
// optional; absent values render as plain source text downstream.
type Finding struct {
	Drug        string `json:"drug"`
	Category    string `json:"category"`
	Severity    string `json:"severity"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Source      string `json:"source"`
	SourceURL   string `json:"source_url,omitempty"`
	Date        string `json:"date"`
}

// AccumulatedPatientInfo is the partial patient picture the listener builds
// up across consultation transcript chunks.
type AccumulatedPatientInfo struct {
	Condition       string            `json:"condition,omitempty"`
	PriorTreatments []string          `json:"prior_treatments,omitempty"`
	Biomarkers      map[string]string `json:"biomarkers,omitempty"`
	Age             *int              `json:"age,omitempty"`
	Sex             string            `json:"sex,omitempty"`
	Location        *Location         `json:"location,omitempty"`
}

// ListenerAnalysis is the listener's verdict on a consultation transcript.
type ListenerAnalysis struct {
	ShouldTrigger bool                   `json:"should_trigger"`
	Confidence    string                 `json:"confidence"`
	TriggerReason string                 `json:"trigger_reason,omitempty"`
	Accumulated   AccumulatedPatientInfo `json:"accumulated_patient_info"`
}
