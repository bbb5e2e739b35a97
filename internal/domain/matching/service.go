package matching

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/trialsense/trialsense/internal/domain/trial"
	"github.com/trialsense/trialsense/internal/platform/ai"
)

// DefaultCandidateLimit bounds the fetch stage when the caller does not ask
// for a specific number of candidates. maxCandidateLimit mirrors the
// registry page cap so requests past it do not silently truncate later.
const (
	DefaultCandidateLimit = 10
	maxCandidateLimit     = 20

	// listenerCandidateLimit keeps ambient-consultation matches short; the
	// clinician is mid-conversation, not browsing.
	listenerCandidateLimit = 5
)

// ProfileExtractor turns clinician input into a structured profile.
type ProfileExtractor interface {
	ExtractProfile(ctx context.Context, text string) (*ai.Profile, error)
	ExtractProfileFromImage(ctx context.Context, image []byte, mimeType string) (*ai.Profile, error)
}

// EligibilityEvaluator scores a profile against a candidate batch in a
// single call. Evaluations come back keyed by nct_id; candidates it skipped
// are simply absent.
type EligibilityEvaluator interface {
	EvaluateTrials(ctx context.Context, profile *ai.Profile, candidates []ai.TrialCandidate) ([]ai.TrialEvaluation, error)
}

// TranscriptAnalyzer watches consultation transcripts for the moment trial
// information becomes relevant.
type TranscriptAnalyzer interface {
	AnalyzeTranscript(ctx context.Context, transcript string, accumulated *ai.AccumulatedPatientInfo) (*ai.ListenerAnalysis, error)
}

// CandidateSource is the fetch-stage boundary. The trial service implements
// it and persists every fetched study locally as a side effect, so matches
// and link-outs survive registry outages.
type CandidateSource interface {
	SearchTrials(ctx context.Context, q trial.SearchQuery) ([]trial.Trial, error)
}

// StageMetrics counts stage executions by outcome. Nil-safe via the
// service's stage helper.
type StageMetrics interface {
	PipelineStageCounter(stage, outcome string)
}

// Service runs the pipeline stages. Each stage primitive is independently
// callable; the Runner and the progressive HTTP operations compose them.
type Service struct {
	extractor ProfileExtractor
	evaluator EligibilityEvaluator
	analyzer  TranscriptAnalyzer
	trials    CandidateSource
	metrics   StageMetrics
	logger    zerolog.Logger
}

func NewService(extractor ProfileExtractor, evaluator EligibilityEvaluator, analyzer TranscriptAnalyzer, trials CandidateSource, metrics StageMetrics, logger zerolog.Logger) *Service {
	return &Service{
		extractor: extractor,
		evaluator: evaluator,
		analyzer:  analyzer,
		trials:    trials,
		metrics:   metrics,
		logger:    logger.With().Str("component", "matching").Logger(),
	}
}

func (s *Service) stage(stage Stage, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "completed"
	if err != nil {
		outcome = "failed"
	}
	s.metrics.PipelineStageCounter(string(stage), outcome)
}

// Extract runs stage one. Input validation errors come back bare (the
// request is wrong, not the pipeline); extractor failures and profiles with
// no primary condition come back as StageError wrapping ErrExtraction.
func (s *Service) Extract(ctx context.Context, in Input) (*ai.Profile, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	var (
		prof *ai.Profile
		err  error
	)
	if len(in.Image) > 0 {
		prof, err = s.extractor.ExtractProfileFromImage(ctx, in.Image, in.MimeType)
	} else {
		prof, err = s.extractor.ExtractProfile(ctx, in.Text)
	}
	if err == nil && strings.TrimSpace(prof.Condition) == "" {
		err = fmt.Errorf("no primary condition identified")
	}
	s.stage(StageExtract, err)
	if err != nil {
		return nil, failStage(StageExtract, ErrExtraction, err)
	}
	return prof, nil
}

// FetchCandidates runs stage two: a registry search derived from the
// profile. Zero results is a success, not an error.
func (s *Service) FetchCandidates(ctx context.Context, prof ai.Profile, limit int) ([]trial.Trial, error) {
	q := trial.SearchQuery{
		Condition: searchCondition(prof),
		Limit:     clampLimit(limit),
	}
	candidates, err := s.trials.SearchTrials(ctx, q)
	s.stage(StageFetch, err)
	if err != nil {
		return nil, failStage(StageFetch, ErrRegistry, err)
	}
	return candidates, nil
}

// Evaluate runs stage three: one batch evaluator call, then reassembly in
// candidate order. Candidates missing from the evaluator's response are
// padded rather than dropped, so the clinician sees every fetched trial.
// With rankByFit the list is stably re-sorted by fit_score descending,
// ties broken by nct_id ascending.
func (s *Service) Evaluate(ctx context.Context, prof ai.Profile, candidates []trial.Trial, rankByFit bool) ([]*Match, error) {
	if len(candidates) == 0 {
		return []*Match{}, nil
	}

	wire := make([]ai.TrialCandidate, len(candidates))
	for i := range candidates {
		wire[i] = ai.TrialCandidate{
			NCTID:       candidates[i].NCTID,
			Title:       candidates[i].Title,
			Phase:       candidates[i].Phase,
			Eligibility: candidates[i].EligibilityText,
		}
	}

	evals, err := s.evaluator.EvaluateTrials(ctx, &prof, wire)
	s.stage(StageEvaluate, err)
	if err != nil {
		return nil, failStage(StageEvaluate, ErrEvaluation, err)
	}

	byID := make(map[string]ai.TrialEvaluation, len(evals))
	for _, ev := range evals {
		byID[ev.NCTID] = ev
	}

	matches := make([]*Match, 0, len(candidates))
	for i := range candidates {
		t := &candidates[i]
		m := &Match{
			NCTID:         t.NCTID,
			Title:         t.Title,
			Phase:         t.Phase,
			OverallStatus: t.OverallStatus,
			StudyURL:      trial.StudyURL(t.NCTID),
		}
		if ev, ok := byID[t.NCTID]; ok {
			m.FitScore = ev.FitScore
			m.FitCategory = ResolveCategory(ev.FitCategory, ev.FitScore)
			m.MeetsCriteria = ev.MeetsCriteria
			m.FailsCriteria = ev.FailsCriteria
			m.MissingInfo = ev.MissingInfo
			m.Explanation = ev.Explanation
		} else {
			m.FitScore = paddedFitScore
			m.FitCategory = CategoryWeak
			m.MissingInfo = []string{paddedMissingInfo}
			m.Explanation = paddedExplanation
		}
		matches = append(matches, m)
	}

	if rankByFit {
		sort.SliceStable(matches, func(i, j int) bool {
			if matches[i].FitScore != matches[j].FitScore {
				return matches[i].FitScore > matches[j].FitScore
			}
			return matches[i].NCTID < matches[j].NCTID
		})
	}
	return matches, nil
}

// Match is the synchronous one-shot pipeline: all three stages, nothing
// retained.
func (s *Service) Match(ctx context.Context, in Input, limit int, rankByFit bool) (*Result, error) {
	prof, err := s.Extract(ctx, in)
	if err != nil {
		return nil, err
	}
	matches, err := s.MatchProfile(ctx, *prof, limit, rankByFit)
	if err != nil {
		return nil, err
	}
	return &Result{Profile: prof, Matches: matches}, nil
}

// MatchProfile runs the fetch and evaluate stages for an already-structured
// profile (saved patient, listener trigger, chart refresh).
func (s *Service) MatchProfile(ctx context.Context, prof ai.Profile, limit int, rankByFit bool) ([]*Match, error) {
	candidates, err := s.FetchCandidates(ctx, prof, limit)
	if err != nil {
		return nil, err
	}
	return s.Evaluate(ctx, prof, candidates, rankByFit)
}

// ListenerResult is the listener verdict plus, when triggered with enough
// accumulated context, a promoted profile and its best-fit matches.
type ListenerResult struct {
	ShouldTrigger  bool        `json:"should_trigger"`
	Confidence     string      `json:"confidence"`
	TriggerReason  string      `json:"trigger_reason,omitempty"`
	PatientProfile *ai.Profile `json:"patient_profile,omitempty"`
	Matches        []*Match    `json:"matches,omitempty"`
}

// AnalyzeTranscript checks one consultation transcript chunk. When the
// analyzer triggers and the accumulated picture names a condition, the
// fetch and evaluate stages run against the promoted profile; a matching
// failure at that point is logged and swallowed so the trigger itself still
// reaches the clinician.
func (s *Service) AnalyzeTranscript(ctx context.Context, transcript string, accumulated *ai.AccumulatedPatientInfo) (*ListenerResult, error) {
	if strings.TrimSpace(transcript) == "" {
		return nil, fmt.Errorf("transcript is required")
	}

	analysis, err := s.analyzer.AnalyzeTranscript(ctx, transcript, accumulated)
	if err != nil {
		return nil, fmt.Errorf("analyze transcript: %w", err)
	}

	res := &ListenerResult{
		ShouldTrigger: analysis.ShouldTrigger,
		Confidence:    analysis.Confidence,
		TriggerReason: analysis.TriggerReason,
	}
	if !analysis.ShouldTrigger {
		return res, nil
	}

	prof := promoteAccumulated(analysis.Accumulated)
	if strings.TrimSpace(prof.Condition) == "" {
		// Triggered without enough context to search on; report the moment
		// and let the clinician take it from there.
		return res, nil
	}
	res.PatientProfile = &prof

	matches, err := s.MatchProfile(ctx, prof, listenerCandidateLimit, true)
	if err != nil {
		s.logger.Warn().Err(err).Str("condition", prof.Condition).Msg("listener trigger matched no trials")
		return res, nil
	}
	res.Matches = matches
	return res, nil
}

// promoteAccumulated lifts the listener's partial patient picture into a
// pipeline profile.
func promoteAccumulated(acc ai.AccumulatedPatientInfo) ai.Profile {
	return ai.Profile{
		Condition:       acc.Condition,
		PriorTreatments: acc.PriorTreatments,
		Biomarkers:      acc.Biomarkers,
		Age:             acc.Age,
		Sex:             acc.Sex,
		Location:        acc.Location,
	}
}

// searchCondition prefers the normalized condition name when extraction
// produced one; registry search terms are literal.
func searchCondition(prof ai.Profile) string {
	if c := strings.TrimSpace(prof.ConditionNormalized); c != "" {
		return c
	}
	return strings.TrimSpace(prof.Condition)
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultCandidateLimit
	case limit > maxCandidateLimit:
		return maxCandidateLimit
	default:
		return limit
	}
}
