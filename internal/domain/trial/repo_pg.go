package trial

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/trialsense/trialsense/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const trialCols = `id, nct_id, title, phase, overall_status, conditions, interventions,
	eligibility_text, min_age, max_age, sex, sponsor, locations, source_url,
	registry_updated_at, fetched_at`

// Upsert inserts a trial or, when the NCT id is already stored, refreshes
// every registry-sourced column in place. The local row id survives a
// refresh so patient_trial links stay stable.
func (r *repoPG) Upsert(ctx context.Context, t *Trial) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.FetchedAt.IsZero() {
		t.FetchedAt = time.Now().UTC()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO trial (
			id, nct_id, title, phase, overall_status, conditions, interventions,
			eligibility_text, min_age, max_age, sex, sponsor, locations, source_url,
			registry_updated_at, fetched_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		ON CONFLICT (nct_id) DO UPDATE SET
			title=EXCLUDED.title, phase=EXCLUDED.phase,
			overall_status=EXCLUDED.overall_status, conditions=EXCLUDED.conditions,
			interventions=EXCLUDED.interventions, eligibility_text=EXCLUDED.eligibility_text,
			min_age=EXCLUDED.min_age, max_age=EXCLUDED.max_age, sex=EXCLUDED.sex,
			sponsor=EXCLUDED.sponsor, locations=EXCLUDED.locations,
			source_url=EXCLUDED.source_url, registry_updated_at=EXCLUDED.registry_updated_at,
			fetched_at=EXCLUDED.fetched_at`,
		t.ID, t.NCTID, t.Title, t.Phase, t.OverallStatus, t.Conditions, t.Interventions,
		t.EligibilityText, t.MinAge, t.MaxAge, t.Sex, t.Sponsor, t.Locations, t.SourceURL,
		t.RegistryUpdatedAt, t.FetchedAt,
	)
	return err
}

func (r *repoPG) GetByNCTID(ctx context.Context, nctID string) (*Trial, error) {
	return scanTrial(r.conn(ctx).QueryRow(ctx,
		`SELECT `+trialCols+` FROM trial WHERE nct_id = $1`, nctID))
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Trial, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM trial`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+trialCols+` FROM trial
		ORDER BY fetched_at DESC, nct_id ASC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var trials []*Trial
	for rows.Next() {
		t, err := collectTrial(rows)
		if err != nil {
			return nil, 0, err
		}
		trials = append(trials, t)
	}
	return trials, total, nil
}

func scanTrial(row pgx.Row) (*Trial, error) {
	var t Trial
	err := row.Scan(
		&t.ID, &t.NCTID, &t.Title, &t.Phase, &t.OverallStatus, &t.Conditions, &t.Interventions,
		&t.EligibilityText, &t.MinAge, &t.MaxAge, &t.Sex, &t.Sponsor, &t.Locations, &t.SourceURL,
		&t.RegistryUpdatedAt, &t.FetchedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func collectTrial(rows pgx.Rows) (*Trial, error) {
	var t Trial
	err := rows.Scan(
		&t.ID, &t.NCTID, &t.Title, &t.Phase, &t.OverallStatus, &t.Conditions, &t.Interventions,
		&t.EligibilityText, &t.MinAge, &t.MaxAge, &t.Sex, &t.Sponsor, &t.Locations, &t.SourceURL,
		&t.RegistryUpdatedAt, &t.FetchedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
