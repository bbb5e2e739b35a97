package patient

import (
	"context"

	"github.com/google/uuid"

	"github.com/trialsense/trialsense/internal/domain/trial"
)

type Repository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*Summary, int, error)
	ListAll(ctx context.Context) ([]*Patient, error)

	ReplaceSelections(ctx context.Context, patientID uuid.UUID, sels []*TrialSelection) error
	GetSelections(ctx context.Context, patientID uuid.UUID) ([]*TrialSelection, error)
}

// TrialStore is the slice of the trial domain the patient service needs:
// placeholder upserts when a selection references a trial the local store
// has not fetched yet, and title/phase enrichment for chart views.
type TrialStore interface {
	Upsert(ctx context.Context, t *trial.Trial) error
	GetByNCTID(ctx context.Context, nctID string) (*trial.Trial, error)
}
