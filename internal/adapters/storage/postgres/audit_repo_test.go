package postgres

import (
	"context"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"patient-record-sharing/internal/domain/audit"
)

func TestAuditRepo_Append(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewAuditRepo(db)

	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	e := audit.Event{
		ID:          "e1",
		PatientID:   "p1",
		ShareID:     "s1",
		Type:        audit.EventClaimed,
		ActorUserID: "bob",
		OccurredAt:  at,
	}

	mock.ExpectExec(`INSERT INTO share_audit_events`).
		WithArgs(e.ID, e.PatientID, e.ShareID, "claimed", e.ActorUserID, e.OccurredAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, r.Append(context.Background(), e))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepo_List_FilteredByPatient(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewAuditRepo(db)

	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	cols := []string{"id", "patient_id", "share_id", "event_type", "actor_user_id", "occurred_at"}
	mock.ExpectQuery(`SELECT(.|\s)+FROM share_audit_events(.|\s)+WHERE patient_id`).
		WithArgs("p1", 50, 0).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow("e2", "p1", "s1", "claimed", "bob", at).
			AddRow("e1", "p1", "s1", "created", "owner-1", at.Add(-time.Hour)))

	got, err := r.List(context.Background(), audit.ListFilter{PatientID: "p1", Limit: 50})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, audit.EventClaimed, got[0].Type)
	require.Equal(t, "e1", got[1].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepo_List_Global(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewAuditRepo(db)

	cols := []string{"id", "patient_id", "share_id", "event_type", "actor_user_id", "occurred_at"}
	mock.ExpectQuery(`SELECT(.|\s)+FROM share_audit_events(.|\s)+ORDER BY occurred_at DESC`).
		WithArgs(10, 20).
		WillReturnRows(pgxmock.NewRows(cols))

	got, err := r.List(context.Background(), audit.ListFilter{Limit: 10, Offset: 20})
	require.NoError(t, err)
	require.Empty(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepo_CountByTypeSince(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewAuditRepo(db)

	since := time.Date(2026, 4, 24, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT COUNT\(\*\)(.|\s)+FROM share_audit_events`).
		WithArgs("revoked", since).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(4))

	n, err := r.CountByTypeSince(context.Background(), audit.EventRevoked, since)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.NoError(t, mock.ExpectationsWereMet())
}
