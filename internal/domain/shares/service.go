package shares

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"patient-record-sharing/internal/ports/notify"
)

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrForbidden      = errors.New("forbidden")
	ErrNotFound       = errors.New("not found")
	ErrAlreadyClaimed = errors.New("already claimed")
	// ErrDuplicatePending: ya existe una invitación viva para (paciente, email).
	ErrDuplicatePending = errors.New("pending invitation already exists")
)

// Tipos de evento de auditoría que emite este módulo.
const (
	EventCreated = "created"
	EventClaimed = "claimed"
	EventRevoked = "revoked"
	EventExpired = "expired"
)

// sweepActor identifica al sweep en los eventos expired.
const sweepActor = "system"

// PatientOwnerLookup evita importar el paquete patients (rompe ciclos).
// Contrato: paciente desconocido => ("", nil); un error es una falla de
// storage y el caller debe propagarlo, no tratarlo como deny.
type PatientOwnerLookup interface {
	OwnerOf(ctx context.Context, patientID string) (string, error)
}

// AuditRecorder registra transiciones de estado. El write del evento va
// antes del write de estado (write-ahead): si falla, la operación aborta.
type AuditRecorder interface {
	RecordEvent(ctx context.Context, patientID, shareID, eventType, actorUserID string) error
}

type Service struct {
	repo     Repository
	audit    AuditRecorder
	owners   PatientOwnerLookup
	notifier notify.Notifier
	now      func() time.Time
}

func NewService(repo Repository, audit AuditRecorder, owners PatientOwnerLookup, notifier notify.Notifier) *Service {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Service{
		repo:     repo,
		audit:    audit,
		owners:   owners,
		notifier: notifier,
		now:      time.Now,
	}
}

type CreatePendingInput struct {
	PatientID   string
	OwnerUserID string
	Email       string
	AccessLevel AccessLevel
	ExpiresAt   *time.Time
}

// CreatePendingShare crea una invitación dirigida a un email que aún no
// tiene cuenta. Emite el evento created antes de reportar éxito.
func (s *Service) CreatePendingShare(ctx context.Context, in CreatePendingInput) (PendingShare, error) {
	patientID := strings.TrimSpace(in.PatientID)
	ownerID := strings.TrimSpace(in.OwnerUserID)
	email := CanonicalEmail(in.Email)

	if patientID == "" || ownerID == "" || email == "" {
		return PendingShare{}, ErrInvalidInput
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return PendingShare{}, fmt.Errorf("malformed email: %w", ErrInvalidInput)
	}
	if !in.AccessLevel.Valid() {
		return PendingShare{}, fmt.Errorf("unknown access level %q: %w", in.AccessLevel, ErrInvalidInput)
	}

	now := s.now()
	if in.ExpiresAt != nil && !in.ExpiresAt.After(now) {
		return PendingShare{}, fmt.Errorf("expires_at in the past: %w", ErrInvalidInput)
	}

	ok, err := s.CanAccess(ctx, ownerID, patientID, LevelAdmin)
	if err != nil {
		return PendingShare{}, err
	}
	if !ok {
		return PendingShare{}, ErrForbidden
	}

	// No duplicar invitaciones vivas para el mismo (paciente, email).
	// La race residual la cierra el índice único parcial del store.
	// Si la abierta ya venció por reloj, se marca acá mismo: la expiración
	// es lazy y una invitación nueva no puede depender de que corra el sweep.
	if open, err := s.repo.FindOpenPending(ctx, patientID, email); err == nil {
		if open.Claimable(now) {
			return PendingShare{}, ErrDuplicatePending
		}
		if err := s.repo.MarkPendingExpired(ctx, open.ID, now); err == nil {
			if err := s.audit.RecordEvent(ctx, open.PatientID, open.ID, EventExpired, sweepActor); err != nil {
				return PendingShare{}, err
			}
		} else if !errors.Is(err, ErrAlreadyClaimed) {
			// ErrAlreadyClaimed: un claim o sweep concurrente resolvió la fila.
			return PendingShare{}, err
		}
	} else if !errors.Is(err, ErrNotFound) {
		return PendingShare{}, err
	}

	p := PendingShare{
		ID:             uuid.NewString(),
		PatientID:      patientID,
		Email:          email,
		AccessLevel:    in.AccessLevel,
		SharedByUserID: ownerID,
		CreatedAt:      now,
		ExpiresAt:      in.ExpiresAt,
	}

	// Write-ahead: el evento existe antes que el cambio de estado.
	if err := s.audit.RecordEvent(ctx, patientID, p.ID, EventCreated, ownerID); err != nil {
		return PendingShare{}, err
	}
	if err := s.repo.CreatePending(ctx, p); err != nil {
		return PendingShare{}, err
	}
	return p, nil
}

// RevokeShare revoca un grant activo. Solo el grantor original o alguien
// con acceso admin sobre el paciente puede revocar. Idempotente: revocar
// un grant ya revocado devuelve el estado actual sin nuevo evento.
func (s *Service) RevokeShare(ctx context.Context, shareID, actingUserID string) (PatientShare, error) {
	shareID = strings.TrimSpace(shareID)
	actingUserID = strings.TrimSpace(actingUserID)
	if shareID == "" || actingUserID == "" {
		return PatientShare{}, ErrInvalidInput
	}

	g, err := s.repo.GetActiveByID(ctx, shareID)
	if errors.Is(err, ErrNotFound) {
		// Revocar una invitación pendiente no es un revoke válido:
		// el revoke aplica solo a grants activos.
		if _, perr := s.repo.GetPendingByID(ctx, shareID); perr == nil {
			return PatientShare{}, fmt.Errorf("share %s is still pending: %w", shareID, ErrInvalidInput)
		}
		return PatientShare{}, ErrNotFound
	}
	if err != nil {
		return PatientShare{}, err
	}

	if g.RevokedAt != nil {
		return g, nil
	}

	if actingUserID != g.SharedByUserID {
		ok, err := s.CanAccess(ctx, actingUserID, g.PatientID, LevelAdmin)
		if err != nil {
			return PatientShare{}, err
		}
		if !ok {
			return PatientShare{}, ErrForbidden
		}
	}

	now := s.now()
	if err := s.audit.RecordEvent(ctx, g.PatientID, g.ID, EventRevoked, actingUserID); err != nil {
		return PatientShare{}, err
	}
	if err := s.repo.Revoke(ctx, g.ID, now); err != nil {
		return PatientShare{}, err
	}
	g.RevokedAt = &now

	// Best-effort; un fallo de entrega nunca revierte el revoke.
	s.notifier.Notify(ctx, notify.Notification{
		UserID:  g.SharedWithUserID,
		Type:    notify.TypeShareRevoked,
		Message: "Your access to a patient record was revoked",
		Data: map[string]string{
			notify.KeyPatientID:   g.PatientID,
			notify.KeyShareID:     g.ID,
			notify.KeyAccessLevel: string(g.AccessLevel),
		},
	})
	return g, nil
}

func (s *Service) ListSharesForPatient(ctx context.Context, patientID string) ([]PatientShare, error) {
	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return nil, ErrInvalidInput
	}
	return s.repo.ListActiveByPatient(ctx, patientID)
}

func (s *Service) ListPendingForPatient(ctx context.Context, patientID string) ([]PendingShare, error) {
	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return nil, ErrInvalidInput
	}
	return s.repo.ListPendingByPatient(ctx, patientID)
}

// ClaimForIdentity corre al autenticarse una identidad con email verificado:
// reclama todas las invitaciones vivas cuyo email matchea (case-insensitive)
// y las convierte en grants. Si otro request concurrente ganó un claim,
// esa invitación se saltea (el claim es idempotente a nivel identidad).
func (s *Service) ClaimForIdentity(ctx context.Context, userID, email string) ([]PatientShare, error) {
	userID = strings.TrimSpace(userID)
	email = CanonicalEmail(email)
	if userID == "" || email == "" {
		return nil, ErrInvalidInput
	}

	pending, err := s.repo.ListClaimableByEmail(ctx, email, s.now())
	if err != nil {
		return nil, err
	}

	claimed := make([]PatientShare, 0, len(pending))
	for _, p := range pending {
		g, err := s.ClaimPendingShare(ctx, p.ID, userID)
		if errors.Is(err, ErrAlreadyClaimed) {
			continue
		}
		if err != nil {
			return claimed, err
		}
		claimed = append(claimed, g)
	}
	return claimed, nil
}

// ClaimPendingShare reclama una invitación puntual. El update condicional
// del store es el árbitro: de N intentos concurrentes sobre el mismo id,
// exactamente uno gana y el resto recibe ErrAlreadyClaimed.
func (s *Service) ClaimPendingShare(ctx context.Context, pendingID, userID string) (PatientShare, error) {
	pendingID = strings.TrimSpace(pendingID)
	userID = strings.TrimSpace(userID)
	if pendingID == "" || userID == "" {
		return PatientShare{}, ErrInvalidInput
	}

	p, err := s.repo.GetPendingByID(ctx, pendingID)
	if err != nil {
		return PatientShare{}, err
	}

	now := s.now()
	if !p.Claimable(now) {
		return PatientShare{}, ErrAlreadyClaimed
	}

	// Punto de commit del claim.
	if err := s.repo.ClaimPending(ctx, p.ID, userID, now); err != nil {
		return PatientShare{}, err
	}

	if err := s.audit.RecordEvent(ctx, p.PatientID, p.ID, EventClaimed, userID); err != nil {
		return PatientShare{}, err
	}

	// Un grant nuevo supersede al existente para (paciente, usuario):
	// nunca conviven dos activos para el mismo par.
	if prev, err := s.repo.GetActiveForUser(ctx, p.PatientID, userID); err == nil && prev.RevokedAt == nil {
		if err := s.audit.RecordEvent(ctx, p.PatientID, prev.ID, EventRevoked, userID); err != nil {
			return PatientShare{}, err
		}
		if err := s.repo.Revoke(ctx, prev.ID, now); err != nil {
			return PatientShare{}, err
		}
	} else if err != nil && !errors.Is(err, ErrNotFound) {
		return PatientShare{}, err
	}

	g := PatientShare{
		ID:               uuid.NewString(),
		PatientID:        p.PatientID,
		SharedByUserID:   p.SharedByUserID,
		SharedWithUserID: userID,
		AccessLevel:      p.AccessLevel,
		CreatedAt:        now,
		ExpiresAt:        p.ExpiresAt,
	}
	if err := s.repo.CreateActive(ctx, g); err != nil {
		return PatientShare{}, err
	}

	s.notifier.Notify(ctx, notify.Notification{
		UserID:  p.SharedByUserID,
		Type:    notify.TypeShareClaimed,
		Message: "An invitation you sent was claimed",
		Data: map[string]string{
			notify.KeyPatientID:   g.PatientID,
			notify.KeyShareID:     g.ID,
			notify.KeyAccessLevel: string(g.AccessLevel),
		},
	})
	return g, nil
}

// SweepExpiredPending marca invitaciones vencidas (una sola vez por row,
// vía update condicional) y emite el evento expired. Los rows quedan:
// la historia no se borra. Devuelve cuántas marcó este sweep.
func (s *Service) SweepExpiredPending(ctx context.Context) (int, error) {
	now := s.now()
	expired, err := s.repo.ListExpiredUnmarked(ctx, now)
	if err != nil {
		return 0, err
	}

	marked := 0
	for _, p := range expired {
		if err := s.repo.MarkPendingExpired(ctx, p.ID, now); err != nil {
			if errors.Is(err, ErrAlreadyClaimed) || errors.Is(err, ErrNotFound) {
				// otro sweep o un claim llegó primero
				continue
			}
			return marked, err
		}
		if err := s.audit.RecordEvent(ctx, p.PatientID, p.ID, EventExpired, sweepActor); err != nil {
			return marked, err
		}
		marked++
	}
	return marked, nil
}

// CanAccess responde si userID puede ejecutar una acción de nivel `action`
// sobre la ficha de patientID. Lectura pura, sin efectos: el owner siempre
// tiene acceso total; si no, decide el único grant activo no expirado.
// La expiración se evalúa contra el reloj acá, no por un job de borrado.
func (s *Service) CanAccess(ctx context.Context, userID, patientID string, action AccessLevel) (bool, error) {
	userID = strings.TrimSpace(userID)
	patientID = strings.TrimSpace(patientID)
	if userID == "" || patientID == "" || !action.Valid() {
		return false, nil
	}

	// Paciente desconocido => deny. Un error acá es una falla de storage
	// y se propaga; nunca se degrada a un deny silencioso.
	ownerID, err := s.owners.OwnerOf(ctx, patientID)
	if err != nil {
		return false, err
	}
	if strings.TrimSpace(ownerID) == "" {
		return false, nil
	}
	if ownerID == userID {
		return true, nil
	}

	g, err := s.repo.GetActiveForUser(ctx, patientID, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if !g.Active(s.now()) {
		return false, nil
	}
	return g.AccessLevel.Allows(action), nil
}

// CanAdminister es el check que usan los handlers de administración
// (listar shares, ver auditoría por paciente).
func (s *Service) CanAdminister(ctx context.Context, userID, patientID string) (bool, error) {
	return s.CanAccess(ctx, userID, patientID, LevelAdmin)
}
