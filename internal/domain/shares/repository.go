package shares

import (
	"context"
	"time"
)

// Repository persiste grants activos e invitaciones pendientes.
//
// Las mutaciones condicionales (ClaimPending, MarkPendingExpired, Revoke)
// son el único mecanismo de control de concurrencia: comparan contra el
// estado actual del row y devuelven ErrAlreadyClaimed / ErrNotFound cuando
// la precondición ya no se cumple. No hay locks entre requests.
type Repository interface {
	// Grants activos
	CreateActive(ctx context.Context, g PatientShare) error
	GetActiveByID(ctx context.Context, id string) (PatientShare, error)
	// GetActiveForUser devuelve el grant no revocado para (patient, user).
	// La expiración se evalúa lazy en el caller, no acá.
	GetActiveForUser(ctx context.Context, patientID, userID string) (PatientShare, error)
	ListActiveByPatient(ctx context.Context, patientID string) ([]PatientShare, error)
	// Revoke setea revoked_at solo si sigue en null.
	Revoke(ctx context.Context, id string, at time.Time) error
	// CountActiveByLevel cuenta grants activos no expirados por nivel.
	// Claves string para que el repo sirva también al rollup de auditoría.
	CountActiveByLevel(ctx context.Context, now time.Time) (map[string]int, error)

	// Invitaciones pendientes
	CreatePending(ctx context.Context, p PendingShare) error
	GetPendingByID(ctx context.Context, id string) (PendingShare, error)
	// FindOpenPending devuelve la invitación sin resolver (sin claim y sin
	// marca de expiración) para (paciente, email), vencida o no por reloj.
	FindOpenPending(ctx context.Context, patientID, email string) (PendingShare, error)
	ListPendingByPatient(ctx context.Context, patientID string) ([]PendingShare, error)
	ListClaimableByEmail(ctx context.Context, email string, now time.Time) ([]PendingShare, error)
	// ClaimPending setea claimed_at/claimed_by_user_id solo si claimed_at y
	// expired_at siguen en null. ErrAlreadyClaimed si otro request ganó.
	ClaimPending(ctx context.Context, id, userID string, at time.Time) error
	// MarkPendingExpired setea expired_at con la misma precondición que el
	// claim; garantiza un solo evento expired por invitación.
	MarkPendingExpired(ctx context.Context, id string, at time.Time) error
	ListExpiredUnmarked(ctx context.Context, now time.Time) ([]PendingShare, error)
}
