package postgres

import (
	"context"
	"time"

	"patient-record-sharing/internal/domain/audit"
)

// AuditRepo escribe el log append-only. No existe UPDATE ni DELETE
// sobre share_audit_events; el schema tampoco los necesita.
type AuditRepo struct {
	db *DB
}

func NewAuditRepo(db *DB) *AuditRepo {
	return &AuditRepo{db: db}
}

func (r *AuditRepo) Append(ctx context.Context, e audit.Event) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO share_audit_events (
			id, patient_id, share_id, event_type, actor_user_id, occurred_at
		) VALUES ($1,$2,$3,$4,$5,$6)
	`,
		e.ID,
		e.PatientID,
		e.ShareID,
		string(e.Type),
		e.ActorUserID,
		e.OccurredAt,
	)
	return err
}

func (r *AuditRepo) List(ctx context.Context, f audit.ListFilter) ([]audit.Event, error) {
	const base = `
		SELECT id, patient_id, share_id, event_type, actor_user_id, occurred_at
		FROM share_audit_events`

	var (
		sql  string
		args []any
	)
	if f.PatientID != "" {
		sql = base + `
		WHERE patient_id = $1
		ORDER BY occurred_at DESC, id DESC
		LIMIT $2 OFFSET $3`
		args = []any{f.PatientID, f.Limit, f.Offset}
	} else {
		sql = base + `
		ORDER BY occurred_at DESC, id DESC
		LIMIT $1 OFFSET $2`
		args = []any{f.Limit, f.Offset}
	}

	rows, err := r.db.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]audit.Event, 0)
	for rows.Next() {
		var e audit.Event
		var typ string
		if err := rows.Scan(
			&e.ID,
			&e.PatientID,
			&e.ShareID,
			&typ,
			&e.ActorUserID,
			&e.OccurredAt,
		); err != nil {
			return nil, err
		}
		e.Type = audit.EventType(typ)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *AuditRepo) CountByTypeSince(ctx context.Context, t audit.EventType, since time.Time) (int, error) {
	var n int
	err := r.db.Pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM share_audit_events
		WHERE event_type = $1
		  AND occurred_at >= $2
	`, string(t), since).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n, nil
}
