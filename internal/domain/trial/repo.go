package trial

import (
	"context"
)

type Repository interface {
	Upsert(ctx context.Context, t *Trial) error
	GetByNCTID(ctx context.Context, nctID string) (*Trial, error)
	List(ctx context.Context, limit, offset int) ([]*Trial, int, error)
}

// RegistryGateway is the public trial registry boundary. Search returns
// recruiting studies in the registry's own order; Fetch retrieves a single
// study by NCT id. Implementations live under internal/platform.
type RegistryGateway interface {
	Search(ctx context.Context, q SearchQuery) ([]Trial, error)
	Fetch(ctx context.Context, nctID string) (*Trial, error)
}
