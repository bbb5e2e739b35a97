package radar

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/trialsense/trialsense/internal/platform/ai"
	"github.com/trialsense/trialsense/internal/platform/audiostore"
)

// Scanner produces at most one finding per monitored drug. A nil finding
// with a nil error means no significant update.
type Scanner interface {
	ScanDrug(ctx context.Context, drug string) (*ai.Finding, error)
}

// BriefingComposer turns a batch of findings into a short spoken script.
type BriefingComposer interface {
	ComposeBriefing(ctx context.Context, alerts []ai.Finding) (string, error)
}

// SpeechSynthesizer renders a script as MP3 audio.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// TargetSource yields the drugs to monitor. Satisfied by the patient
// service, which derives them from current treatments.
type TargetSource interface {
	MonitoredTreatments(ctx context.Context) ([]string, error)
}

// ScanMetrics counts per-target scan outcomes. Satisfied by the telemetry
// provider; a nil value disables counting.
type ScanMetrics interface {
	RadarScanCounter(target, outcome string)
}

// BriefingError marks a failed briefing step. Scan results are never
// rolled back over it; callers surface it as a warning.
type BriefingError struct {
	Step string
	Err  error
}

func (e *BriefingError) Error() string { return fmt.Sprintf("briefing %s: %v", e.Step, e.Err) }
func (e *BriefingError) Unwrap() error { return e.Err }

// Briefer runs the compose → synthesize → store pipeline and returns the
// script plus the public artifact URL.
type Briefer struct {
	composer BriefingComposer
	synth    SpeechSynthesizer
	store    audiostore.Store
	logger   zerolog.Logger
}

func NewBriefer(composer BriefingComposer, synth SpeechSynthesizer, store audiostore.Store, logger zerolog.Logger) *Briefer {
	return &Briefer{
		composer: composer,
		synth:    synth,
		store:    store,
		logger:   logger.With().Str("component", "briefing").Logger(),
	}
}

// Brief produces today's briefing artifact for the given alerts. The
// artifact name is fixed per day, so a later briefing the same day
// replaces the earlier one.
func (b *Briefer) Brief(ctx context.Context, alerts []*Alert) (script, podcastURL string, err error) {
	findings := make([]ai.Finding, 0, len(alerts))
	for _, a := range alerts {
		findings = append(findings, a.Finding())
	}

	script, err = b.composer.ComposeBriefing(ctx, findings)
	if err != nil {
		return "", "", &BriefingError{Step: "compose", Err: err}
	}
	audio, err := b.synth.Synthesize(ctx, script)
	if err != nil {
		return "", "", &BriefingError{Step: "synthesize", Err: err}
	}
	name := audiostore.BriefingName(time.Now())
	if err := b.store.Save(ctx, name, audio); err != nil {
		return "", "", &BriefingError{Step: "store", Err: err}
	}
	b.logger.Info().Str("artifact", name).Int("alerts", len(alerts)).Msg("briefing stored")
	return script, audiostore.URLPath(name), nil
}

type Service struct {
	repo            Repository
	targets         TargetSource
	scanner         Scanner
	briefer         *Briefer
	metrics         ScanMetrics
	scanConcurrency int
	logger          zerolog.Logger
}

// NewService wires the radar engine. briefer may be nil, which disables
// the briefing step of ScanAndBrief; metrics may be nil.
func NewService(repo Repository, targets TargetSource, scanner Scanner, briefer *Briefer,
	metrics ScanMetrics, scanConcurrency int, logger zerolog.Logger) *Service {
	if scanConcurrency < 1 {
		scanConcurrency = 1
	}
	return &Service{
		repo:            repo,
		targets:         targets,
		scanner:         scanner,
		briefer:         briefer,
		metrics:         metrics,
		scanConcurrency: scanConcurrency,
		logger:          logger.With().Str("component", "radar").Logger(),
	}
}

func (s *Service) count(target string, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "completed"
	if err != nil {
		outcome = "failed"
	}
	s.metrics.RadarScanCounter(target, outcome)
}

// MonitoredTargets returns the drugs the radar watches, the union of the
// normalized current treatments across all patients. No patients means an
// empty set, not an error.
func (s *Service) MonitoredTargets(ctx context.Context) ([]string, error) {
	return s.targets.MonitoredTreatments(ctx)
}

// ScanReport is what one scan pass produced. Warnings carry per-target
// scanner failures and rejected findings; they never abort the pass.
type ScanReport struct {
	Targets   []string `json:"targets"`
	NewAlerts []*Alert `json:"new_alerts"`
	Warnings  []string `json:"warnings,omitempty"`
}

// Scan fans out over the monitored targets with bounded concurrency,
// validates and ingests each finding, and returns only the alerts that
// were actually inserted. Findings the dedup index already holds count as
// seen, not as new.
func (s *Service) Scan(ctx context.Context) (*ScanReport, error) {
	targets, err := s.MonitoredTargets(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve targets: %w", err)
	}
	report := &ScanReport{Targets: targets, NewAlerts: []*Alert{}}
	if len(targets) == 0 {
		s.logger.Info().Msg("radar scan skipped: no monitored treatments")
		return report, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.scanConcurrency)
	for _, target := range targets {
		target := target
		g.Go(func() error {
			finding, err := s.scanner.ScanDrug(gctx, target)
			s.count(target, err)
			if err != nil {
				s.logger.Warn().Err(err).Str("drug", target).Msg("radar scan failed")
				mu.Lock()
				report.Warnings = append(report.Warnings, fmt.Sprintf("scan %s: %v", target, err))
				mu.Unlock()
				return nil
			}
			if finding == nil {
				return nil
			}
			alert, err := AlertFromFinding(*finding)
			if err != nil {
				s.logger.Warn().Err(err).Str("drug", target).Msg("radar finding rejected")
				mu.Lock()
				report.Warnings = append(report.Warnings, fmt.Sprintf("finding %s: %v", target, err))
				mu.Unlock()
				return nil
			}
			inserted, err := s.repo.Insert(gctx, alert)
			if err != nil {
				return fmt.Errorf("ingest %s: %w", target, err)
			}
			if !inserted {
				s.logger.Debug().Str("drug", target).Str("title", alert.Title).Msg("duplicate finding skipped")
				return nil
			}
			mu.Lock()
			report.NewAlerts = append(report.NewAlerts, alert)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.logger.Info().
		Int("targets", len(targets)).
		Int("new_alerts", len(report.NewAlerts)).
		Int("warnings", len(report.Warnings)).
		Msg("radar scan complete")
	return report, nil
}

func (s *Service) GetAlerts(ctx context.Context, limit, offset int) ([]*Alert, int, error) {
	return s.repo.List(ctx, limit, offset)
}

func (s *Service) MarkAsRead(ctx context.Context, ids []uuid.UUID) (int, error) {
	if len(ids) == 0 {
		return 0, fmt.Errorf("ids are required")
	}
	return s.repo.MarkRead(ctx, ids)
}

func (s *Service) CountUnread(ctx context.Context) (int, error) {
	return s.repo.CountUnread(ctx)
}

// BriefUnread builds a briefing over every currently unread alert. Unlike
// the post-scan briefing this is the caller's primary ask, so failures
// come back as errors rather than warnings.
func (s *Service) BriefUnread(ctx context.Context) (script, podcastURL string, err error) {
	if s.briefer == nil {
		return "", "", fmt.Errorf("briefing is not configured")
	}
	alerts, err := s.repo.ListNew(ctx)
	if err != nil {
		return "", "", err
	}
	return s.briefer.Brief(ctx, alerts)
}

// ScanAndBriefResult is the manual-trigger and scheduler payload.
type ScanAndBriefResult struct {
	NewAlerts  []*Alert `json:"new_alerts"`
	PodcastURL string   `json:"podcast_url,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
}

// ScanAndBrief runs a scan and, when it produced new alerts, a best-effort
// briefing over them. A briefing failure degrades to a warning; the
// persisted alerts are already committed by then.
func (s *Service) ScanAndBrief(ctx context.Context) (*ScanAndBriefResult, error) {
	report, err := s.Scan(ctx)
	if err != nil {
		return nil, err
	}
	result := &ScanAndBriefResult{NewAlerts: report.NewAlerts, Warnings: report.Warnings}
	if len(report.NewAlerts) == 0 || s.briefer == nil {
		return result, nil
	}
	_, url, err := s.briefer.Brief(ctx, report.NewAlerts)
	if err != nil {
		s.logger.Warn().Err(err).Msg("briefing failed")
		result.Warnings = append(result.Warnings, err.Error())
		return result, nil
	}
	result.PodcastURL = url
	return result, nil
}
