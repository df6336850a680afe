package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"patient-record-sharing/internal/domain/patients"
)

type PatientsRepo struct {
	db *DB
}

func NewPatientsRepo(db *DB) *PatientsRepo {
	return &PatientsRepo{db: db}
}

func (r *PatientsRepo) Create(ctx context.Context, p patients.Patient) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO patients (
			id, owner_user_id, full_name, birth_date, notes,
			created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
	`,
		p.ID,
		p.OwnerUserID,
		p.FullName,
		p.BirthDate,
		p.Notes,
		p.CreatedAt,
		p.UpdatedAt,
	)
	return err
}

func (r *PatientsRepo) GetByID(ctx context.Context, id string) (patients.Patient, error) {
	row := r.db.Pool.QueryRow(ctx, `
		SELECT id, owner_user_id, full_name, birth_date, notes, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)

	var p patients.Patient
	if err := row.Scan(
		&p.ID,
		&p.OwnerUserID,
		&p.FullName,
		&p.BirthDate,
		&p.Notes,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return patients.Patient{}, patients.ErrNotFound
		}
		return patients.Patient{}, err
	}
	return p, nil
}

func (r *PatientsRepo) ListByOwner(ctx context.Context, ownerUserID string) ([]patients.Patient, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, owner_user_id, full_name, birth_date, notes, created_at, updated_at
		FROM patients
		WHERE owner_user_id = $1
		ORDER BY created_at DESC
	`, ownerUserID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]patients.Patient, 0)
	for rows.Next() {
		var p patients.Patient
		if err := rows.Scan(
			&p.ID,
			&p.OwnerUserID,
			&p.FullName,
			&p.BirthDate,
			&p.Notes,
			&p.CreatedAt,
			&p.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
