package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	// ErrStorage: el store no está disponible; la operación que disparó
	// el evento debe abortar sin writes parciales.
	ErrStorage = errors.New("audit store unavailable")
	// ErrNoSnapshot: todavía no se calculó ningún rollup.
	ErrNoSnapshot = errors.New("no snapshot computed yet")
)

// recentWindow define qué cuenta como "reciente" en el rollup.
const recentWindow = 7 * 24 * time.Hour

// GrantCounter aporta los grants vivos al snapshot sin acoplar este
// paquete al módulo de shares (misma técnica que PatientOwnerLookup).
type GrantCounter interface {
	CountActiveByLevel(ctx context.Context, now time.Time) (map[string]int, error)
}

type Service struct {
	repo   Repository
	grants GrantCounter
	now    func() time.Time

	mu     sync.RWMutex
	latest *Snapshot
}

func NewService(repo Repository, grants GrantCounter) *Service {
	return &Service{
		repo:   repo,
		grants: grants,
		now:    time.Now,
	}
}

// RecordEvent agrega un evento al log. Implementa shares.AuditRecorder.
// Solo falla por indisponibilidad del store; ese error se propaga para
// que el caller aborte la operación que lo disparó.
func (s *Service) RecordEvent(ctx context.Context, patientID, shareID, eventType, actorUserID string) error {
	patientID = strings.TrimSpace(patientID)
	shareID = strings.TrimSpace(shareID)
	actorUserID = strings.TrimSpace(actorUserID)
	if patientID == "" || shareID == "" || actorUserID == "" {
		return ErrInvalidInput
	}
	t, ok := ParseEventType(eventType)
	if !ok {
		return fmt.Errorf("unknown event type %q: %w", eventType, ErrInvalidInput)
	}

	e := Event{
		ID:          uuid.NewString(),
		PatientID:   patientID,
		ShareID:     shareID,
		Type:        t,
		ActorUserID: actorUserID,
		OccurredAt:  s.now(),
	}
	if err := s.repo.Append(ctx, e); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}

// ListAuditLog devuelve el log paginado, global o filtrado por paciente.
func (s *Service) ListAuditLog(ctx context.Context, f ListFilter) ([]Event, error) {
	return s.repo.List(ctx, f.Normalize())
}

// ComputeSnapshot recalcula el rollup y lo deja como "latest".
// Lee un corte consistente y nunca bloquea writers: el log append-only
// simplemente no incluye eventos posteriores al scan.
func (s *Service) ComputeSnapshot(ctx context.Context) (Snapshot, error) {
	now := s.now()

	byLevel, err := s.grants.CountActiveByLevel(ctx, now)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	active := 0
	for _, n := range byLevel {
		active += n
	}

	since := now.Add(-recentWindow)
	claims, err := s.repo.CountByTypeSince(ctx, EventClaimed, since)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	revocations, err := s.repo.CountByTypeSince(ctx, EventRevoked, since)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	snap := Snapshot{
		CalculatedAt:      now,
		ActiveCount:       active,
		ByAccessLevel:     byLevel,
		RecentClaims:      claims,
		RecentRevocations: revocations,
	}

	s.mu.Lock()
	s.latest = &snap
	s.mu.Unlock()

	return snap, nil
}

// LatestSnapshot devuelve el último rollup calculado, si existe.
func (s *Service) LatestSnapshot() (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return Snapshot{}, ErrNoSnapshot
	}
	return *s.latest, nil
}
