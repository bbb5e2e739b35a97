// Package matching orchestrates the three-stage trial matching pipeline:
// extract a structured profile from clinician input, fetch recruiting
// candidates from the registry, evaluate the profile against each candidate.
// It offers the pipeline both ways: a synchronous one-shot Match and an
// asynchronous Runner whose runs retain per-stage outputs so a failed stage
// can be retried without redoing the ones before it.
package matching

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trialsense/trialsense/internal/domain/trial"
	"github.com/trialsense/trialsense/internal/platform/ai"
)

// Stage names one pipeline stage.
type Stage string

const (
	StageExtract  Stage = "extract"
	StageFetch    Stage = "fetch"
	StageEvaluate Stage = "evaluate"
)

// State is the lifecycle state of an asynchronous run. A run moves
// Idle → Extracting → Fetching → Evaluating → Done; any non-terminal state
// can drop to Failed, which records the stage that broke.
type State string

const (
	StateIdle       State = "idle"
	StateExtracting State = "extracting"
	StateFetching   State = "fetching"
	StateEvaluating State = "evaluating"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// Terminal reports whether the state accepts no further transitions except
// a stage retry out of Failed.
func (s State) Terminal() bool { return s == StateDone || s == StateFailed }

// runningState maps a stage to the state a run is in while that stage
// executes.
func runningState(stage Stage) State {
	switch stage {
	case StageExtract:
		return StateExtracting
	case StageFetch:
		return StateFetching
	default:
		return StateEvaluating
	}
}

// Input is the first-stage payload. Exactly one of Text or Image must be
// set; runs started from a stored profile bypass the extract stage and
// carry no Input at all.
type Input struct {
	Text     string
	Image    []byte
	MimeType string
}

func (in Input) validate() error {
	hasText := strings.TrimSpace(in.Text) != ""
	hasImage := len(in.Image) > 0
	if hasText && hasImage {
		return fmt.Errorf("text and image are mutually exclusive")
	}
	if !hasText && !hasImage {
		return fmt.Errorf("text or image is required")
	}
	return nil
}

// Fit categories shown to clinicians. The first three are score bands; an
// explicit ineligible verdict from the evaluator overrides the score.
const (
	CategoryStrong     = "strong"
	CategoryModerate   = "moderate"
	CategoryWeak       = "weak"
	CategoryIneligible = "ineligible"
)

// ResolveCategory maps an evaluator verdict and score to the final fit
// category. Ineligible always wins; otherwise the score bands decide, so a
// verdict that disagrees with its own score is normalized away.
func ResolveCategory(verdict string, score int) string {
	if strings.EqualFold(strings.TrimSpace(verdict), CategoryIneligible) {
		return CategoryIneligible
	}
	switch {
	case score >= 80:
		return CategoryStrong
	case score >= 50:
		return CategoryModerate
	default:
		return CategoryWeak
	}
}

// Candidates the evaluator skipped are padded with these values during
// reassembly so every fetched trial appears in the match list.
const (
	paddedFitScore    = 40
	paddedMissingInfo = "Evaluation not completed"
	paddedExplanation = "Trial needs manual review."
)

// Match is one evaluated candidate: the trial's display fields plus the
// evaluator's verdict.
type Match struct {
	NCTID         string   `json:"nct_id"`
	Title         string   `json:"title"`
	Phase         string   `json:"phase"`
	OverallStatus string   `json:"overall_status,omitempty"`
	StudyURL      string   `json:"study_url"`
	FitScore      int      `json:"fit_score"`
	FitCategory   string   `json:"fit_category"`
	MeetsCriteria []string `json:"meets_criteria,omitempty"`
	FailsCriteria []string `json:"fails_criteria,omitempty"`
	MissingInfo   []string `json:"missing_info,omitempty"`
	Explanation   string   `json:"explanation"`
}

// Result is the outcome of a full pipeline pass.
type Result struct {
	Profile *ai.Profile `json:"profile"`
	Matches []*Match    `json:"matches"`
}

// Run is one asynchronous pipeline execution. Stage outputs accumulate on
// the run as stages complete and stay readable after a failure, which is
// what makes stage-level retry possible.
type Run struct {
	ID          uuid.UUID     `json:"id"`
	State       State         `json:"state"`
	FailedStage Stage         `json:"failed_stage,omitempty"`
	Error       string        `json:"error,omitempty"`
	RankByFit   bool          `json:"rank_by_fit"`
	Profile     *ai.Profile   `json:"profile,omitempty"`
	Candidates  []trial.Trial `json:"candidates,omitempty"`
	Matches     []*Match      `json:"matches,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`

	// input is retained for extract retries only; it never serializes.
	input Input
	limit int
}

// snapshot returns a copy safe to read without the runner's lock. Slice
// headers are copied; elements are never mutated after being set.
func (r *Run) snapshot() *Run {
	cp := *r
	cp.Candidates = append([]trial.Trial(nil), r.Candidates...)
	cp.Matches = append([]*Match(nil), r.Matches...)
	return &cp
}
