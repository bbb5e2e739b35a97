package patient

import (
	"context"

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

const patientCols = `id, name, condition, condition_normalized, histology, stage, line_of_therapy,
	prior_treatments, current_treatments, biomarkers,
	ecog, age, sex, cns_involvement,
	metastatic_sites, comorbidities, organ_function,
	city, country, lat, lng, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patient (
			id, name, condition, condition_normalized, histology, stage, line_of_therapy,
			prior_treatments, current_treatments, biomarkers,
			ecog, age, sex, cns_involvement,
			metastatic_sites, comorbidities, organ_function,
			city, country, lat, lng
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,
			$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21
		)`,
		p.ID, p.Name, p.Condition, p.ConditionNormalized, p.Histology, p.Stage, p.LineOfTherapy,
		p.PriorTreatments, p.CurrentTreatments, p.Biomarkers,
		p.ECOG, p.Age, p.Sex, p.CNSInvolvement,
		p.MetastaticSites, p.Comorbidities, p.OrganFunction,
		p.City, p.Country, p.Lat, p.Lng,
	)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, p *Patient) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE patient SET
			name=$2, condition=$3, condition_normalized=$4, histology=$5, stage=$6, line_of_therapy=$7,
			prior_treatments=$8, current_treatments=$9, biomarkers=$10,
			ecog=$11, age=$12, sex=$13, cns_involvement=$14,
			metastatic_sites=$15, comorbidities=$16, organ_function=$17,
			city=$18, country=$19, lat=$20, lng=$21, updated_at=NOW()
		WHERE id = $1`,
		p.ID, p.Name, p.Condition, p.ConditionNormalized, p.Histology, p.Stage, p.LineOfTherapy,
		p.PriorTreatments, p.CurrentTreatments, p.Biomarkers,
		p.ECOG, p.Age, p.Sex, p.CNSInvolvement,
		p.MetastaticSites, p.Comorbidities, p.OrganFunction,
		p.City, p.Country, p.Lat, p.Lng,
	)
	return err
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM patient WHERE id = $1`, id)
	return err
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Summary, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patient`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT p.id, p.name, p.condition, p.age, p.sex, p.stage,
			COUNT(pt.id) FILTER (WHERE pt.selected) AS trial_count
		FROM patient p
		LEFT JOIN patient_trial pt ON pt.patient_id = p.id
		GROUP BY p.id
		ORDER BY p.created_at DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var sums []*Summary
	for rows.Next() {
		var s Summary
		if err := rows.Scan(&s.ID, &s.Name, &s.Condition, &s.Age, &s.Sex, &s.Stage, &s.TrialCount); err != nil {
			return nil, 0, err
		}
		sums = append(sums, &s)
	}
	return sums, total, nil
}

func (r *repoPG) ListAll(ctx context.Context) ([]*Patient, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+patientCols+` FROM patient ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pts []*Patient
	for rows.Next() {
		p, err := collectPatient(rows)
		if err != nil {
			return nil, err
		}
		pts = append(pts, p)
	}
	return pts, nil
}

func (r *repoPG) ReplaceSelections(ctx context.Context, patientID uuid.UUID, sels []*TrialSelection) error {
	q := r.conn(ctx)
	if _, err := q.Exec(ctx, `DELETE FROM patient_trial WHERE patient_id = $1`, patientID); err != nil {
		return err
	}
	for _, s := range sels {
		s.ID = uuid.New()
		s.PatientID = patientID
		_, err := q.Exec(ctx, `
			INSERT INTO patient_trial (
				id, patient_id, nct_id, fit_score, fit_category,
				meets_criteria, fails_criteria, missing_info, explanation, selected
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			s.ID, s.PatientID, s.NCTID, s.FitScore, s.FitCategory,
			s.MeetsCriteria, s.FailsCriteria, s.MissingInfo, s.Explanation, s.Selected,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *repoPG) GetSelections(ctx context.Context, patientID uuid.UUID) ([]*TrialSelection, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, patient_id, nct_id, fit_score, fit_category,
			meets_criteria, fails_criteria, missing_info, explanation, selected, created_at
		FROM patient_trial
		WHERE patient_id = $1
		ORDER BY fit_score DESC, nct_id ASC`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sels []*TrialSelection
	for rows.Next() {
		var s TrialSelection
		err := rows.Scan(
			&s.ID, &s.PatientID, &s.NCTID, &s.FitScore, &s.FitCategory,
			&s.MeetsCriteria, &s.FailsCriteria, &s.MissingInfo, &s.Explanation, &s.Selected, &s.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		sels = append(sels, &s)
	}
	return sels, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(
		&p.ID, &p.Name, &p.Condition, &p.ConditionNormalized, &p.Histology, &p.Stage, &p.LineOfTherapy,
		&p.PriorTreatments, &p.CurrentTreatments, &p.Biomarkers,
		&p.ECOG, &p.Age, &p.Sex, &p.CNSInvolvement,
		&p.MetastaticSites, &p.Comorbidities, &p.OrganFunction,
		&p.City, &p.Country, &p.Lat, &p.Lng, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func collectPatient(rows pgx.Rows) (*Patient, error) {
	var p Patient
	err := rows.Scan(
		&p.ID, &p.Name, &p.Condition, &p.ConditionNormalized, &p.Histology, &p.Stage, &p.LineOfTherapy,
		&p.PriorTreatments, &p.CurrentTreatments, &p.Biomarkers,
		&p.ECOG, &p.Age, &p.Sex, &p.CNSInvolvement,
		&p.MetastaticSites, &p.Comorbidities, &p.OrganFunction,
		&p.City, &p.Country, &p.Lat, &p.Lng, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
