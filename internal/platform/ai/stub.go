package ai

import (
	"context"
	"fmt"
	"time"
)

// Stub is a deterministic Client used when AI_MODE=stub: development and
// tests run the full pipeline without network access or an API key. Canned
// responses are keyed on the schema name and travel through the same decode
// path as live responses.
type Stub struct{}

func NewStub() *Stub { return &Stub{} }

func (s *Stub) GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch schemaName {
	case schemaPatientProfile:
		return stubProfile(), nil
	case schemaTrialEvaluations:
		// An empty batch leaves every candidate to the pipeline's
		// reassembly padding.
		return map[string]any{"evaluations": []any{}}, nil
	case schemaRadarFinding:
		return stubFinding(), nil
	case schemaListenerAnalysis:
		return stubListenerAnalysis(), nil
	default:
		return nil, fmt.Errorf("ai stub: unknown schema %q", schemaName)
	}
}

func (s *Stub) GenerateText(ctx context.Context, system, user string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return stubBriefingScript, nil
}

func (s *Stub) GenerateTextWithImages(ctx context.Context, system, user string, images []ImageInput) (string, error) {
	return s.GenerateText(ctx, system, user)
}

func (s *Stub) GenerateJSONWithImages(ctx context.Context, system, user string, images []ImageInput, schemaName string, schema map[string]any) (map[string]any, error) {
	return s.GenerateJSON(ctx, system, user, schemaName, schema)
}

const stubBriefingScript = "Good morning, here is your Clinical Radar update. " +
	"One medium severity regulatory signal overnight: a routine label review is underway for a monitored treatment. " +
	"No high severity signals. " +
	"Staying vigilant for your patients."

func stubProfile() map[string]any {
	return map[string]any{
		"condition":          "triple-negative breast cancer",
		"stage":              "IV",
		"line_of_therapy":    "2L",
		"prior_treatments":   []any{"doxorubicin + cyclophosphamide followed by taxane"},
		"current_treatments": []any{"Pembrolizumab"},
		"biomarkers": []any{
			map[string]any{"name": "ER", "value": "negative"},
			map[string]any{"name": "PR", "value": "negative"},
			map[string]any{"name": "HER2", "value": "negative"},
		},
		"ecog":             "1",
		"age":              48,
		"sex":              "female",
		"cns_involvement":  false,
		"metastatic_sites": []any{"liver"},
		"location":         map[string]any{"city": "Mumbai", "country": "India"},
	}
}

func stubFinding() map[string]any {
	return map[string]any{
		"drug":         "",
		"found_update": true,
		"category":     "regulatory",
		"severity":     "medium",
		"title":        "Label review underway",
		"description": "The agency has opened a routine label review covering updated dosing guidance. " +
			"No change to current prescribing is required while the review completes.",
		"source":     "Stub Feed",
		"source_url": nil,
		"date":       time.Now().Format("2006-01-02"),
	}
}

func stubListenerAnalysis() map[string]any {
	return map[string]any{
		"should_trigger": false,
		"confidence":     "low",
		"trigger_reason": nil,
		"accumulated_patient_info": map[string]any{
			"condition":        nil,
			"prior_treatments": []any{},
			"biomarkers":       []any{},
			"age":              nil,
			"sex":              nil,
			"location":         nil,
		},
	}
}
