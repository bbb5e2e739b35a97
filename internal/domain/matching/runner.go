package matching

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trialsense/trialsense/internal/platform/ai"
)

const (
	// runTTL is how long terminal runs stay readable; the janitor drops
	// older ones so the in-memory store cannot grow without bound.
	runTTL          = time.Hour
	cleanupInterval = 10 * time.Minute
)

// Runner drives asynchronous pipeline runs. Runs live in memory only; a
// restart forgets them, which is acceptable for an interactive tool where
// the caller holds the run id and can simply start over.
type Runner struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]*Run
	svc  *Service
}

func NewRunner(svc *Service) *Runner {
	return &Runner{
		runs: make(map[uuid.UUID]*Run),
		svc:  svc,
	}
}

// Start registers a run for raw clinician input and begins processing in
// the background. Invalid input is rejected synchronously, before a run
// exists.
func (r *Runner) Start(in Input, limit int, rankByFit bool) (*Run, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	snap := r.register(rankByFit, limit, func(run *Run) { run.input = in })
	go r.advance(snap.ID, StageExtract)
	return snap, nil
}

// StartFromProfile registers a run for an already-structured profile. The
// extract stage is bypassed: the run begins at fetch with the profile
// pre-recorded.
func (r *Runner) StartFromProfile(prof ai.Profile, limit int, rankByFit bool) *Run {
	snap := r.register(rankByFit, limit, func(run *Run) { run.Profile = &prof })
	go r.advance(snap.ID, StageFetch)
	return snap
}

func (r *Runner) register(rankByFit bool, limit int, seed func(*Run)) *Run {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	run := &Run{
		ID:        uuid.New(),
		State:     StateIdle,
		RankByFit: rankByFit,
		CreatedAt: now,
		UpdatedAt: now,
		limit:     limit,
	}
	seed(run)
	r.runs[run.ID] = run
	return run.snapshot()
}

// Get returns a snapshot of a run. Callers inspect the copy without
// holding any lock.
func (r *Runner) Get(id uuid.UUID) (*Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	run, ok := r.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return run.snapshot(), nil
}

// RetryStage restarts a failed run at the stage that broke, reusing the
// outputs retained from the stages before it. The pipeline then continues
// forward as usual. Only failed runs can be retried.
func (r *Runner) RetryStage(id uuid.UUID) (*Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	if run.State != StateFailed {
		return nil, fmt.Errorf("run is %s; only failed runs can be retried", run.State)
	}

	stage := run.FailedStage
	run.FailedStage = ""
	run.Error = ""
	run.State = runningState(stage)
	run.UpdatedAt = time.Now().UTC()

	go r.advance(id, stage)
	return run.snapshot(), nil
}

// advance executes stages from `stage` onward, recording each output on the
// run as it lands. A stage error parks the run in Failed with the stage
// name; outputs already recorded stay readable.
func (r *Runner) advance(id uuid.UUID, stage Stage) {
	ctx := context.Background()

	if stage == StageExtract {
		run, ok := r.begin(id, StageExtract)
		if !ok {
			return
		}
		prof, err := r.svc.Extract(ctx, run.input)
		if err != nil {
			r.fail(id, StageExtract, err)
			return
		}
		r.record(id, func(run *Run) { run.Profile = prof })
		stage = StageFetch
	}

	if stage == StageFetch {
		run, ok := r.begin(id, StageFetch)
		if !ok {
			return
		}
		candidates, err := r.svc.FetchCandidates(ctx, *run.Profile, run.limit)
		if err != nil {
			r.fail(id, StageFetch, err)
			return
		}
		r.record(id, func(run *Run) { run.Candidates = candidates })
	}

	run, ok := r.begin(id, StageEvaluate)
	if !ok {
		return
	}
	matches, err := r.svc.Evaluate(ctx, *run.Profile, run.Candidates, run.RankByFit)
	if err != nil {
		r.fail(id, StageEvaluate, err)
		return
	}
	r.record(id, func(run *Run) {
		run.Matches = matches
		run.State = StateDone
	})
}

// begin flips the run into the stage's running state and returns a snapshot
// carrying the retained inputs and prior-stage outputs the stage needs.
func (r *Runner) begin(id uuid.UUID, stage Stage) (*Run, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[id]
	if !ok {
		return nil, false
	}
	run.State = runningState(stage)
	run.UpdatedAt = time.Now().UTC()
	return run.snapshot(), true
}

func (r *Runner) record(id uuid.UUID, apply func(*Run)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[id]
	if !ok {
		return
	}
	apply(run)
	run.UpdatedAt = time.Now().UTC()
}

func (r *Runner) fail(id uuid.UUID, stage Stage, err error) {
	var se *StageError
	if errors.As(err, &se) {
		stage = se.Stage
	}
	r.record(id, func(run *Run) {
		run.State = StateFailed
		run.FailedStage = stage
		run.Error = err.Error()
	})
}

// StartCleanup prunes terminal runs older than runTTL until ctx is
// cancelled. Started from serve alongside the other background loops.
func (r *Runner) StartCleanup(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.prune(time.Now().UTC().Add(-runTTL))
		}
	}
}

func (r *Runner) prune(cutoff time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, run := range r.runs {
		if run.State.Terminal() && run.UpdatedAt.Before(cutoff) {
			delete(r.runs, id)
		}
	}
}
