package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"patient-record-sharing/internal/domain/shares"
)

type SharesRepo struct {
	db *DB
}

func NewSharesRepo(db *DB) *SharesRepo {
	return &SharesRepo{db: db}
}

const activeShareColumns = `
	id, patient_id, shared_by_user_id, shared_with_user_id,
	access_level, created_at, expires_at, revoked_at`

func (r *SharesRepo) CreateActive(ctx context.Context, g shares.PatientShare) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO patient_shares (
			id, patient_id, shared_by_user_id, shared_with_user_id,
			access_level, created_at, expires_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
	`,
		g.ID,
		g.PatientID,
		g.SharedByUserID,
		g.SharedWithUserID,
		string(g.AccessLevel),
		g.CreatedAt,
		g.ExpiresAt,
	)
	return err
}

func (r *SharesRepo) GetActiveByID(ctx context.Context, id string) (shares.PatientShare, error) {
	row := r.db.Pool.QueryRow(ctx, `
		SELECT`+activeShareColumns+`
		FROM patient_shares
		WHERE id = $1
	`, id)
	return scanShare(row)
}

func (r *SharesRepo) GetActiveForUser(ctx context.Context, patientID, userID string) (shares.PatientShare, error) {
	row := r.db.Pool.QueryRow(ctx, `
		SELECT`+activeShareColumns+`
		FROM patient_shares
		WHERE patient_id = $1
		  AND shared_with_user_id = $2
		  AND revoked_at IS NULL
		ORDER BY created_at DESC
		LIMIT 1
	`, patientID, userID)
	return scanShare(row)
}

func (r *SharesRepo) ListActiveByPatient(ctx context.Context, patientID string) ([]shares.PatientShare, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT`+activeShareColumns+`
		FROM patient_shares
		WHERE patient_id = $1
		  AND revoked_at IS NULL
		ORDER BY created_at DESC
	`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]shares.PatientShare, 0)
	for rows.Next() {
		g, err := scanShare(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// Revoke es condicional: solo gana quien encuentra revoked_at en null.
func (r *SharesRepo) Revoke(ctx context.Context, id string, at time.Time) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE patient_shares
		SET revoked_at = $2
		WHERE id = $1
		  AND revoked_at IS NULL
	`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shares.ErrNotFound
	}
	return nil
}

func (r *SharesRepo) CountActiveByLevel(ctx context.Context, now time.Time) (map[string]int, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT access_level, COUNT(*)
		FROM patient_shares
		WHERE revoked_at IS NULL
		  AND (expires_at IS NULL OR expires_at > $1)
		GROUP BY access_level
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var level string
		var n int
		if err := rows.Scan(&level, &n); err != nil {
			return nil, err
		}
		out[level] = n
	}
	return out, rows.Err()
}

const pendingShareColumns = `
	id, patient_id, email, access_level, shared_by_user_id,
	created_at, expires_at, claimed_at, claimed_by_user_id, expired_at`

func (r *SharesRepo) CreatePending(ctx context.Context, p shares.PendingShare) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO pending_shares (
			id, patient_id, email, access_level, shared_by_user_id,
			created_at, expires_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
	`,
		p.ID,
		p.PatientID,
		p.Email,
		string(p.AccessLevel),
		p.SharedByUserID,
		p.CreatedAt,
		p.ExpiresAt,
	)
	if err != nil {
		// Race contra el índice único parcial (invitación viva duplicada).
		if isUniqueViolation(err) {
			return shares.ErrDuplicatePending
		}
		return err
	}
	return nil
}

func (r *SharesRepo) GetPendingByID(ctx context.Context, id string) (shares.PendingShare, error) {
	row := r.db.Pool.QueryRow(ctx, `
		SELECT`+pendingShareColumns+`
		FROM pending_shares
		WHERE id = $1
	`, id)
	return scanPending(row)
}

func (r *SharesRepo) FindOpenPending(ctx context.Context, patientID, email string) (shares.PendingShare, error) {
	row := r.db.Pool.QueryRow(ctx, `
		SELECT`+pendingShareColumns+`
		FROM pending_shares
		WHERE patient_id = $1
		  AND email = $2
		  AND claimed_at IS NULL
		  AND expired_at IS NULL
		LIMIT 1
	`, patientID, email)
	return scanPending(row)
}

func (r *SharesRepo) ListPendingByPatient(ctx context.Context, patientID string) ([]shares.PendingShare, error) {
	return r.listPending(ctx, `
		SELECT`+pendingShareColumns+`
		FROM pending_shares
		WHERE patient_id = $1
		ORDER BY created_at DESC
	`, patientID)
}

func (r *SharesRepo) ListClaimableByEmail(ctx context.Context, email string, now time.Time) ([]shares.PendingShare, error) {
	return r.listPending(ctx, `
		SELECT`+pendingShareColumns+`
		FROM pending_shares
		WHERE email = $1
		  AND claimed_at IS NULL
		  AND expired_at IS NULL
		  AND (expires_at IS NULL OR expires_at > $2)
		ORDER BY created_at DESC
	`, email, now)
}

// ClaimPending es el update condicional que arbitra la carrera de claims:
// de N intentos concurrentes sobre la misma fila gana exactamente uno.
func (r *SharesRepo) ClaimPending(ctx context.Context, id, userID string, at time.Time) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE pending_shares
		SET claimed_at = $2, claimed_by_user_id = $3
		WHERE id = $1
		  AND claimed_at IS NULL
		  AND expired_at IS NULL
	`, id, at, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shares.ErrAlreadyClaimed
	}
	return nil
}

// MarkPendingExpired usa la misma precondición: un solo sweep marca la fila.
func (r *SharesRepo) MarkPendingExpired(ctx context.Context, id string, at time.Time) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE pending_shares
		SET expired_at = $2
		WHERE id = $1
		  AND claimed_at IS NULL
		  AND expired_at IS NULL
	`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shares.ErrAlreadyClaimed
	}
	return nil
}

func (r *SharesRepo) ListExpiredUnmarked(ctx context.Context, now time.Time) ([]shares.PendingShare, error) {
	return r.listPending(ctx, `
		SELECT`+pendingShareColumns+`
		FROM pending_shares
		WHERE claimed_at IS NULL
		  AND expired_at IS NULL
		  AND expires_at IS NOT NULL
		  AND expires_at <= $1
		ORDER BY created_at ASC
	`, now)
}

func (r *SharesRepo) listPending(ctx context.Context, sql string, args ...any) ([]shares.PendingShare, error) {
	rows, err := r.db.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]shares.PendingShare, 0)
	for rows.Next() {
		p, err := scanPending(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanShare(row pgx.Row) (shares.PatientShare, error) {
	var g shares.PatientShare
	var level string
	if err := row.Scan(
		&g.ID,
		&g.PatientID,
		&g.SharedByUserID,
		&g.SharedWithUserID,
		&level,
		&g.CreatedAt,
		&g.ExpiresAt,
		&g.RevokedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return shares.PatientShare{}, shares.ErrNotFound
		}
		return shares.PatientShare{}, err
	}
	g.AccessLevel = shares.AccessLevel(level)
	return g, nil
}

func scanPending(row pgx.Row) (shares.PendingShare, error) {
	var p shares.PendingShare
	var level string
	if err := row.Scan(
		&p.ID,
		&p.PatientID,
		&p.Email,
		&level,
		&p.SharedByUserID,
		&p.CreatedAt,
		&p.ExpiresAt,
		&p.ClaimedAt,
		&p.ClaimedByUserID,
		&p.ExpiredAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return shares.PendingShare{}, shares.ErrNotFound
		}
		return shares.PendingShare{}, err
	}
	p.AccessLevel = shares.AccessLevel(level)
	return p, nil
}
