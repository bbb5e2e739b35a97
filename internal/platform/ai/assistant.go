package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Assistant exposes the clinical operations on top of a Client: profile
// extraction (text and image), batch trial evaluation, per-drug radar scans,
// briefing composition, and consultation transcript analysis. Its method set
// satisfies the collaborator interfaces the domain packages declare.
type Assistant struct {
	client Client
	logger zerolog.Logger
}

func NewAssistant(client Client, logger zerolog.Logger) *Assistant {
	return &Assistant{
		client: client,
		logger: logger.With().Str("component", "ai").Logger(),
	}
}

// ExtractProfile extracts a structured patient profile from a free-text
// clinical description.
func (a *Assistant) ExtractProfile(ctx context.Context, text string) (*Profile, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("ai: extraction text required")
	}

	obj, err := a.client.GenerateJSON(ctx,
		profileExtractionSystemPrompt,
		buildProfileExtractionUserPrompt(text),
		schemaPatientProfile, profileSchema())
	if err != nil {
		return nil, fmt.Errorf("extract profile: %w", err)
	}

	p, err := profileFromWire(obj)
	if err != nil {
		return nil, fmt.Errorf("extract profile: %w", err)
	}
	a.logger.Debug().Str("condition", p.Condition).Msg("patient profile extracted")
	return p, nil
}

// ExtractProfileFromImage extracts a structured patient profile from an
// image of a chart, report, or clinical note. mimeType defaults to image/png.
func (a *Assistant) ExtractProfileFromImage(ctx context.Context, image []byte, mimeType string) (*Profile, error) {
	if len(image) == 0 {
		return nil, errors.New("ai: image bytes required")
	}
	if strings.TrimSpace(mimeType) == "" {
		mimeType = "image/png"
	}

	obj, err := a.client.GenerateJSONWithImages(ctx,
		profileExtractionSystemPrompt,
		profileImageUserPrompt,
		[]ImageInput{{ImageURL: DataURL(mimeType, image)}},
		schemaPatientProfile, profileSchema())
	if err != nil {
		return nil, fmt.Errorf("extract profile from image: %w", err)
	}

	p, err := profileFromWire(obj)
	if err != nil {
		return nil, fmt.Errorf("extract profile from image: %w", err)
	}
	a.logger.Debug().Str("condition", p.Condition).Int("image_bytes", len(image)).Msg("patient profile extracted from image")
	return p, nil
}

// EvaluateTrials evaluates the patient against every candidate in a single
// model call and returns the evaluations as the model produced them, keyed
// by nct_id. Candidates the model skipped are absent; the pipeline pads
// them during reassembly.
func (a *Assistant) EvaluateTrials(ctx context.Context, profile *Profile, candidates []TrialCandidate) ([]TrialEvaluation, error) {
	if profile == nil {
		return nil, errors.New("ai: profile required")
	}
	if len(candidates) == 0 {
		return []TrialEvaluation{}, nil
	}

	profileJSON, err := json.MarshalIndent(profile, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("evaluate trials: %w", err)
	}

	obj, err := a.client.GenerateJSON(ctx,
		trialEvaluationSystemPrompt,
		buildTrialEvaluationUserPrompt(string(profileJSON), candidates),
		schemaTrialEvaluations, trialEvaluationsSchema())
	if err != nil {
		return nil, fmt.Errorf("evaluate trials: %w", err)
	}

	var w struct {
		Evaluations []TrialEvaluation `json:"evaluations"`
	}
	if err := decodeInto(obj, &w); err != nil {
		return nil, fmt.Errorf("evaluate trials: %w", err)
	}
	if w.Evaluations == nil {
		w.Evaluations = []TrialEvaluation{}
	}
	a.logger.Debug().
		Int("trials", len(candidates)).
		Int("evaluations", len(w.Evaluations)).
		Msg("batch evaluation complete")
	return w.Evaluations, nil
}

// ScanDrug looks for the most important recent safety/regulatory signal for
// one monitored drug. It returns nil when there is no significant update.
func (a *Assistant) ScanDrug(ctx context.Context, drug string) (*Finding, error) {
	drug = strings.TrimSpace(drug)
	if drug == "" {
		return nil, errors.New("ai: drug name required")
	}

	today := time.Now().Format("2006-01-02")
	obj, err := a.client.GenerateJSON(ctx,
		radarScanSystemPrompt,
		buildRadarScanUserPrompt(drug, today),
		schemaRadarFinding, radarFindingSchema())
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", drug, err)
	}

	var w struct {
		FoundUpdate bool `json:"found_update"`
		Finding
	}
	if err := decodeInto(obj, &w); err != nil {
		return nil, fmt.Errorf("scan %s: %w", drug, err)
	}
	if !w.FoundUpdate {
		a.logger.Debug().Str("drug", drug).Msg("no radar update")
		return nil, nil
	}

	f := w.Finding
	// The monitored target name is authoritative for the dedup key.
	f.Drug = drug
	a.logger.Debug().
		Str("drug", drug).
		Str("category", f.Category).
		Str("severity", f.Severity).
		Msg("radar finding")
	return &f, nil
}

// ComposeBriefing turns a batch of alerts into a short spoken-briefing
// script. An empty batch yields the fixed no-news script without a model
// call.
func (a *Assistant) ComposeBriefing(ctx context.Context, alerts []Finding) (string, error) {
	if len(alerts) == 0 {
		return "No new updates today.", nil
	}

	alertsJSON, err := json.MarshalIndent(alerts, "", "  ")
	if err != nil {
		return "", fmt.Errorf("compose briefing: %w", err)
	}

	script, err := a.client.GenerateText(ctx, briefingSystemPrompt, buildBriefingUserPrompt(string(alertsJSON)))
	if err != nil {
		return "", fmt.Errorf("compose briefing: %w", err)
	}
	script = strings.TrimSpace(script)
	a.logger.Debug().Int("alerts", len(alerts)).Int("chars", len(script)).Msg("briefing script composed")
	return script, nil
}

// AnalyzeTranscript checks a consultation transcript for the moment where
// trial information becomes relevant. accumulated may be nil on the first
// chunk.
func (a *Assistant) AnalyzeTranscript(ctx context.Context, transcript string, accumulated *AccumulatedPatientInfo) (*ListenerAnalysis, error) {
	if strings.TrimSpace(transcript) == "" {
		return nil, errors.New("ai: transcript required")
	}

	contextJSON := "{}"
	if accumulated != nil {
		raw, err := json.MarshalIndent(accumulated, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("analyze transcript: %w", err)
		}
		contextJSON = string(raw)
	}

	obj, err := a.client.GenerateJSON(ctx,
		listenerSystemPrompt,
		buildListenerUserPrompt(transcript, contextJSON),
		schemaListenerAnalysis, listenerAnalysisSchema())
	if err != nil {
		return nil, fmt.Errorf("analyze transcript: %w", err)
	}

	var w struct {
		ListenerAnalysis
		Accumulated struct {
			AccumulatedPatientInfo
			Biomarkers []biomarkerPair `json:"biomarkers"`
		} `json:"accumulated_patient_info"`
	}
	if err := decodeInto(obj, &w); err != nil {
		return nil, fmt.Errorf("analyze transcript: %w", err)
	}

	out := w.ListenerAnalysis
	out.Accumulated = w.Accumulated.AccumulatedPatientInfo
	out.Accumulated.Biomarkers = pairsToMap(w.Accumulated.Biomarkers)
	a.logger.Debug().
		Bool("should_trigger", out.ShouldTrigger).
		Str("confidence", out.Confidence).
		Msg("transcript analyzed")
	return &out, nil
}

// -------------------- wire decoding --------------------

// biomarkerPair is the strict-schema form of one biomarker entry; see the
// schema comment in prompts.go.
type biomarkerPair struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type wireProfile struct {
	Profile
	Biomarkers []biomarkerPair `json:"biomarkers"`
}

func profileFromWire(obj map[string]any) (*Profile, error) {
	var w wireProfile
	if err := decodeInto(obj, &w); err != nil {
		return nil, err
	}
	p := w.Profile
	p.Biomarkers = pairsToMap(w.Biomarkers)
	if p.PriorTreatments == nil {
		p.PriorTreatments = []string{}
	}
	return &p, nil
}

func pairsToMap(pairs []biomarkerPair) map[string]string {
	m := make(map[string]string, len(pairs))
	for _, p := range pairs {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			continue
		}
		m[name] = p.Value
	}
	return m
}

func decodeInto(obj map[string]any, out any) error {
	raw, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
