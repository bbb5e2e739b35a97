package ai

import (
	"fmt"
	"strings"
)

// Schema names sent alongside structured-output requests. The stub keys its
// canned responses on these.
const (
	schemaPatientProfile   = "patient_profile"
	schemaTrialEvaluations = "trial_evaluations"
	schemaRadarFinding     = "radar_finding"
	schemaListenerAnalysis = "listener_analysis"
)

// eligibilityExcerptLimit caps how much of each trial's eligibility text is
// sent to the evaluator. Registry criteria run to tens of thousands of
// characters; the head carries the operative inclusion/exclusion lists.
const eligibilityExcerptLimit = 1500

const profileExtractionSystemPrompt = `You are a clinical data extraction system for oncology. Extract a structured patient profile from the oncologist's description or the attached medical document.

RULES:
- Expand medical abbreviations:
  - TNBC = triple-negative breast cancer
  - NSCLC = non-small cell lung cancer
  - osi/osimertinib/Tagrisso = osimertinib
  - pembro = pembrolizumab
  - AC-T = doxorubicin + cyclophosphamide followed by taxane
  - ECOG/PS = performance status
- Infer line of therapy from prior treatments count (1 prior = 2L, 2 priors = 3L+)
- Handle negations: "no brain mets" means cns_involvement false
- "Good PS" or "up and about" means ecog 0 or 1
- Report ecog as a string: "0", "1", or the stated grade
- If information is not mentioned, use null; do not guess
- If a city is given without a country, default the country to "India"

Return ONLY valid JSON matching the requested schema.`

func buildProfileExtractionUserPrompt(text string) string {
	return fmt.Sprintf("Extract the patient profile from: %q", text)
}

const profileImageUserPrompt = `Extract the patient profile from the attached medical document image.`

const trialEvaluationSystemPrompt = `You are a clinical trial eligibility evaluator. Given a patient profile and multiple trial eligibility criteria, evaluate each trial for patient fit.

For EACH trial, evaluate:
1. Does the patient meet the inclusion criteria?
2. Does the patient violate any exclusion criteria?
3. What information is missing?
4. Assign a fit score (0-100) and category.

FIT CATEGORIES:
- "strong" (80-100): Meets all criteria
- "moderate" (50-79): Meets most criteria
- "weak" (20-49): Significant gaps
- "ineligible" (0-19): Violates exclusions

Return one evaluation per trial, in the same order the trials are presented, as ONLY valid JSON matching the requested schema.`

func buildTrialEvaluationUserPrompt(profileJSON string, candidates []TrialCandidate) string {
	var b strings.Builder
	b.WriteString("PATIENT PROFILE:\n")
	b.WriteString(profileJSON)
	b.WriteString("\n")
	for i, c := range candidates {
		fmt.Fprintf(&b, "\nTRIAL %d:\n", i+1)
		fmt.Fprintf(&b, "- NCT ID: %s\n", c.NCTID)
		fmt.Fprintf(&b, "- Title: %s\n", c.Title)
		fmt.Fprintf(&b, "- Phase: %s\n", c.Phase)
		fmt.Fprintf(&b, "- Eligibility Criteria: %s\n", truncate(c.Eligibility, eligibilityExcerptLimit))
	}
	return b.String()
}

const radarScanSystemPrompt = `You are an oncology safety surveillance analyst. Report the latest clinical and safety update for the requested oncology drug or treatment.

Look for:
1. Recent FDA safety alerts, black box warnings, or adverse event reports
2. New regulatory approvals or label changes
3. Recent clinical trial results or readouts
4. Competitor drug developments in the same therapeutic area

Classify the single most important finding:
- category: "adverse_event" for safety signals, "regulatory" for approvals and label changes, "competitor" for rival drug developments and trial readouts
- severity: "high", "medium", or "low"
- date: the date of the update in YYYY-MM-DD format
- source: the publication or agency that reported it, with source_url when known (otherwise null)

If there is no significant recent update, set found_update to false and leave the other fields empty.

Return ONLY valid JSON matching the requested schema.`

func buildRadarScanUserPrompt(drug, today string) string {
	return fmt.Sprintf("Drug/treatment: %q. Focus on updates from the last week. Today's date is %s.", drug, today)
}

const briefingSystemPrompt = `You are "Clinical Radar", an AI assistant. Generate a morning briefing podcast script based on the new drug signals found overnight.

STYLE:
- Professional, concise, like "NPR News" for oncologists.
- Start with "Good morning, here is your Clinical Radar update."
- Group by severity.
- End with "Staying vigilant for your patients."
- Keep it under 200 words.

Output the pure text of the script.`

func buildBriefingUserPrompt(alertsJSON string) string {
	return "ALERTS:\n" + alertsJSON
}

const listenerSystemPrompt = `You are monitoring an oncology consultation transcript. Determine if the conversation has reached a point where clinical trial information would be valuable.

TRIGGER PHRASES (high confidence):
- "we've exhausted options"
- "nothing else is approved"
- "have you considered a clinical trial"
- "failed all standard treatments"
- "no other approved therapies"
- "what about experimental treatments"

TRIGGER PATTERNS (medium confidence):
- Multiple treatment failures mentioned plus the patient asking "what now?"
- The doctor expressing uncertainty about next steps
- Discussion of prognosis without treatment options

DO NOT TRIGGER on:
- Routine follow-up visits
- Treatment going well
- General medical history taking
- First-line treatment discussions

Collect any patient details mentioned so far into accumulated_patient_info.

Return ONLY valid JSON matching the requested schema.`

func buildListenerUserPrompt(transcript, contextJSON string) string {
	return fmt.Sprintf("TRANSCRIPT SO FAR:\n%s\n\nACCUMULATED CONTEXT:\n%s", transcript, contextJSON)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// -------------------- JSON schemas --------------------
//
// Strict structured-output mode requires every property listed under
// "required" and forbids free-form objects, so the name→value biomarker map
// travels as an array of {name, value} pairs and is folded back into a map
// when decoding.

func nullable(typ string) map[string]any {
	return map[string]any{"type": []string{typ, "null"}}
}

func stringEnum(values ...string) map[string]any {
	return map[string]any{"type": "string", "enum": values}
}

func stringArray() map[string]any {
	return map[string]any{"type": "array", "items": map[string]any{"type": "string"}}
}

func biomarkerPairsSchema() map[string]any {
	return map[string]any{
		"type": "array",
		"items": map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"required":             []string{"name", "value"},
			"properties": map[string]any{
				"name":  map[string]any{"type": "string"},
				"value": map[string]any{"type": "string"},
			},
		},
	}
}

func locationSchema() map[string]any {
	return map[string]any{
		"type":                 []string{"object", "null"},
		"additionalProperties": false,
		"required":             []string{"city", "country", "lat", "lng"},
		"properties": map[string]any{
			"city":    map[string]any{"type": "string"},
			"country": map[string]any{"type": "string"},
			"lat":     nullable("number"),
			"lng":     nullable("number"),
		},
	}
}

func profileSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required": []string{
			"condition", "stage", "line_of_therapy", "prior_treatments",
			"biomarkers", "ecog", "age", "sex", "cns_involvement",
			"metastatic_sites", "location",
		},
		"properties": map[string]any{
			"condition":        map[string]any{"type": "string"},
			"stage":            nullable("string"),
			"line_of_therapy":  nullable("string"),
			"prior_treatments": stringArray(),
			"biomarkers":       biomarkerPairsSchema(),
			"ecog":             nullable("string"),
			"age":              nullable("integer"),
			"sex":              nullable("string"),
			"cns_involvement":  nullable("boolean"),
			"metastatic_sites": stringArray(),
			"location":         locationSchema(),
		},
	}
}

func trialEvaluationsSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"evaluations"},
		"properties": map[string]any{
			"evaluations": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"required": []string{
						"nct_id", "fit_score", "fit_category", "meets_criteria",
						"fails_criteria", "missing_info", "explanation",
					},
					"properties": map[string]any{
						"nct_id":         map[string]any{"type": "string"},
						"fit_score":      map[string]any{"type": "integer"},
						"fit_category":   stringEnum("strong", "moderate", "weak", "ineligible"),
						"meets_criteria": stringArray(),
						"fails_criteria": stringArray(),
						"missing_info":   stringArray(),
						"explanation":    map[string]any{"type": "string"},
					},
				},
			},
		},
	}
}

func radarFindingSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required": []string{
			"drug", "found_update", "category", "severity", "title",
			"description", "source", "source_url", "date",
		},
		"properties": map[string]any{
			"drug":         map[string]any{"type": "string"},
			"found_update": map[string]any{"type": "boolean"},
			"category":     stringEnum("adverse_event", "regulatory", "competitor", ""),
			"severity":     stringEnum("high", "medium", "low", ""),
			"title":        map[string]any{"type": "string"},
			"description":  map[string]any{"type": "string"},
			"source":       map[string]any{"type": "string"},
			"source_url":   nullable("string"),
			"date":         map[string]any{"type": "string"},
		},
	}
}

func listenerAnalysisSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required": []string{
			"should_trigger", "confidence", "trigger_reason",
			"accumulated_patient_info",
		},
		"properties": map[string]any{
			"should_trigger": map[string]any{"type": "boolean"},
			"confidence":     stringEnum("high", "medium", "low"),
			"trigger_reason": nullable("string"),
			"accumulated_patient_info": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"required": []string{
					"condition", "prior_treatments", "biomarkers", "age",
					"sex", "location",
				},
				"properties": map[string]any{
					"condition":        nullable("string"),
					"prior_treatments": stringArray(),
					"biomarkers":       biomarkerPairsSchema(),
					"age":              nullable("integer"),
					"sex":              nullable("string"),
					"location":         locationSchema(),
				},
			},
		},
	}
}
