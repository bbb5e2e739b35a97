package trial

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// ErrNotFound is returned when a trial exists neither locally nor at the
// registry. The registry gateway wraps it on a miss.
var ErrNotFound = errors.New("trial not found")

type Service struct {
	repo    Repository
	gateway RegistryGateway
	logger  zerolog.Logger
}

func NewService(repo Repository, gateway RegistryGateway, logger zerolog.Logger) *Service {
	return &Service{
		repo:    repo,
		gateway: gateway,
		logger:  logger.With().Str("component", "trial").Logger(),
	}
}

// SearchTrials queries the registry and returns the studies in the
// registry's own order. Every study is upserted locally on the way through;
// an upsert failure is logged and skipped so a storage hiccup cannot eat
// search results.
func (s *Service) SearchTrials(ctx context.Context, q SearchQuery) ([]Trial, error) {
	if strings.TrimSpace(q.Condition) == "" && strings.TrimSpace(q.Term) == "" {
		return nil, fmt.Errorf("condition or term is required")
	}

	studies, err := s.gateway.Search(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("registry search: %w", err)
	}
	for i := range studies {
		if err := s.repo.Upsert(ctx, &studies[i]); err != nil {
			s.logger.Warn().Err(err).Str("nct_id", studies[i].NCTID).Msg("trial upsert failed")
		}
	}
	return studies, nil
}

// GetTrial returns the stored trial for an NCT id, fetching from the
// registry (and persisting) on a local miss.
func (s *Service) GetTrial(ctx context.Context, nctID string) (*Trial, error) {
	nctID = strings.ToUpper(strings.TrimSpace(nctID))
	if nctID == "" {
		return nil, fmt.Errorf("nct id is required")
	}

	t, err := s.repo.GetByNCTID(ctx, nctID)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	fetched, err := s.gateway.Fetch(ctx, nctID)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Upsert(ctx, fetched); err != nil {
		s.logger.Warn().Err(err).Str("nct_id", nctID).Msg("trial upsert failed")
	}
	return fetched, nil
}

// ListStored pages through the local trial store, most recently fetched
// first.
func (s *Service) ListStored(ctx context.Context, limit, offset int) ([]*Trial, int, error) {
	return s.repo.List(ctx, limit, offset)
}
