package patient

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/trialsense/trialsense/internal/domain/matching"
	"github.com/trialsense/trialsense/internal/domain/trial"
	"github.com/trialsense/trialsense/internal/platform/ai"
)

// maxSelections caps the trials saved against one patient. Requests with
// more entries keep the first maxSelections and drop the rest.
const maxSelections = 3

// chartMatchLimit bounds the candidate set when a chart view asks for a
// fresh match run.
const chartMatchLimit = 10

var ErrNotFound = errors.New("patient not found")

// Matcher re-runs the fetch and evaluate stages for a structured profile.
// Satisfied by the matching service.
type Matcher interface {
	MatchProfile(ctx context.Context, prof ai.Profile, limit int, rankByFit bool) ([]*matching.Match, error)
}

type Service struct {
	repo    Repository
	trials  TrialStore
	matcher Matcher
}

func NewService(repo Repository, trials TrialStore, matcher Matcher) *Service {
	return &Service{repo: repo, trials: trials, matcher: matcher}
}

func (s *Service) Create(ctx context.Context, p *Patient, sels []*TrialSelection) ([]*TrialSelection, error) {
	if p.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	if p.Condition == "" {
		return nil, fmt.Errorf("condition is required")
	}
	p.CurrentTreatments = NormalizeTreatments(p.CurrentTreatments)
	if p.Country == "" {
		p.Country = "India"
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}
	if len(sels) == 0 {
		return []*TrialSelection{}, nil
	}
	return s.saveSelections(ctx, p.ID, sels)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// ProfileByID loads a patient and converts it to the pipeline profile
// shape. Satisfies the matching handler's profile source.
func (s *Service) ProfileByID(ctx context.Context, id uuid.UUID) (ai.Profile, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return ai.Profile{}, err
	}
	return p.Profile(), nil
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, upd ProfileUpdate) (*Patient, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if upd.Name != nil {
		if *upd.Name == "" {
			return nil, fmt.Errorf("name is required")
		}
		p.Name = *upd.Name
	}
	if upd.Age != nil {
		p.Age = upd.Age
	}
	if upd.Sex != nil {
		p.Sex = *upd.Sex
	}
	if upd.Condition != nil {
		if *upd.Condition == "" {
			return nil, fmt.Errorf("condition is required")
		}
		p.Condition = *upd.Condition
	}
	if upd.Stage != nil {
		p.Stage = *upd.Stage
	}
	if upd.ECOG != nil {
		p.ECOG = *upd.ECOG
	}
	if upd.LineOfTherapy != nil {
		p.LineOfTherapy = *upd.LineOfTherapy
	}
	if upd.PriorTreatments != nil {
		p.PriorTreatments = upd.PriorTreatments
	}
	if upd.CurrentTreatments != nil {
		p.CurrentTreatments = NormalizeTreatments(upd.CurrentTreatments)
	}
	if upd.Biomarkers != nil {
		p.Biomarkers = upd.Biomarkers
	}
	if err := s.repo.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return s.repo.Delete(ctx, id)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*Summary, int, error) {
	return s.repo.List(ctx, limit, offset)
}

// ReplaceSelections swaps the patient's saved trials for the given set.
func (s *Service) ReplaceSelections(ctx context.Context, patientID uuid.UUID, sels []*TrialSelection) ([]*TrialSelection, error) {
	if _, err := s.Get(ctx, patientID); err != nil {
		return nil, err
	}
	return s.saveSelections(ctx, patientID, sels)
}

func (s *Service) saveSelections(ctx context.Context, patientID uuid.UUID, sels []*TrialSelection) ([]*TrialSelection, error) {
	if len(sels) > maxSelections {
		sels = sels[:maxSelections]
	}
	for _, sel := range sels {
		sel.NCTID = strings.TrimSpace(sel.NCTID)
		if sel.NCTID == "" {
			return nil, fmt.Errorf("nct_id is required")
		}
		if err := s.ensureTrial(ctx, sel); err != nil {
			return nil, err
		}
		sel.Selected = true
	}
	if err := s.repo.ReplaceSelections(ctx, patientID, sels); err != nil {
		return nil, err
	}
	return sels, nil
}

// ensureTrial stores a placeholder record when a selection references a
// trial the local store has not fetched yet, so chart views can resolve it.
func (s *Service) ensureTrial(ctx context.Context, sel *TrialSelection) error {
	_, err := s.trials.GetByNCTID(ctx, sel.NCTID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	return s.trials.Upsert(ctx, &trial.Trial{
		NCTID:         sel.NCTID,
		Title:         sel.Title,
		Phase:         sel.Phase,
		OverallStatus: "Active",
		Conditions:    []string{},
		Interventions: []string{},
		Sex:           "All",
		Sponsor:       "Unknown",
		Locations:     []trial.Site{},
		SourceURL:     trial.StudyURL(sel.NCTID),
		FetchedAt:     time.Now(),
	})
}

// Selections returns the patient's saved trials with title and phase
// resolved from the local trial store, best effort.
func (s *Service) Selections(ctx context.Context, patientID uuid.UUID) ([]*TrialSelection, error) {
	sels, err := s.repo.GetSelections(ctx, patientID)
	if err != nil {
		return nil, err
	}
	for _, sel := range sels {
		t, err := s.trials.GetByNCTID(ctx, sel.NCTID)
		if err != nil {
			continue
		}
		sel.Title = t.Title
		sel.Phase = t.Phase
	}
	return sels, nil
}

// Chart is the single-call clinician view: the stored profile, the saved
// trial selections, and optionally a fresh match run.
type Chart struct {
	Patient    *Patient          `json:"patient"`
	Selections []*TrialSelection `json:"selections"`
	Matches    []*matching.Match `json:"matches,omitempty"`
	Warnings   []string          `json:"warnings,omitempty"`
}

// Chart assembles the chart view. When refresh is set the matcher re-runs
// fetch and evaluate for the stored profile; a matcher failure degrades to
// a warning rather than failing the read.
func (s *Service) Chart(ctx context.Context, id uuid.UUID, refresh bool) (*Chart, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	sels, err := s.Selections(ctx, id)
	if err != nil {
		return nil, err
	}
	chart := &Chart{Patient: p, Selections: sels}
	if refresh {
		matches, err := s.matcher.MatchProfile(ctx, p.Profile(), chartMatchLimit, true)
		if err != nil {
			chart.Warnings = append(chart.Warnings, fmt.Sprintf("match refresh failed: %v", err))
		} else {
			chart.Matches = matches
		}
	}
	return chart, nil
}

// MonitoredTreatments is the union of normalized current treatments across
// all patients, sorted case-insensitively. The radar engine watches these.
func (s *Service) MonitoredTreatments(ctx context.Context) ([]string, error) {
	pts, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	var all []string
	for _, p := range pts {
		all = append(all, p.CurrentTreatments...)
	}
	targets := NormalizeTreatments(all)
	sort.Slice(targets, func(i, j int) bool {
		return strings.ToLower(targets[i]) < strings.ToLower(targets[j])
	})
	return targets, nil
}
