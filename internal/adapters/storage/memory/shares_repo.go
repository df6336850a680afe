package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"patient-record-sharing/internal/domain/shares"
)

// sharesRepo mantiene grants e invitaciones en mapas protegidos por mutex.
// Las mutaciones condicionales chequean la precondición bajo el lock, así
// el comportamiento de carreras es idéntico al del adapter de Postgres.
type sharesRepo struct {
	mu          sync.RWMutex
	activeByID  map[string]shares.PatientShare
	pendingByID map[string]shares.PendingShare
}

func NewSharesRepo() shares.Repository {
	return &sharesRepo{
		activeByID:  make(map[string]shares.PatientShare),
		pendingByID: make(map[string]shares.PendingShare),
	}
}

func (r *sharesRepo) CreateActive(ctx context.Context, g shares.PatientShare) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if g.ID == "" {
		return errors.New("share id required")
	}
	if _, exists := r.activeByID[g.ID]; exists {
		return errors.New("share already exists")
	}
	r.activeByID[g.ID] = g
	return nil
}

func (r *sharesRepo) GetActiveByID(ctx context.Context, id string) (shares.PatientShare, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.activeByID[id]
	if !ok {
		return shares.PatientShare{}, shares.ErrNotFound
	}
	return g, nil
}

// Defensivo: si por data sucia hubiera más de un grant no revocado para
// el par, devolvemos el más reciente por CreatedAt.
func (r *sharesRepo) GetActiveForUser(ctx context.Context, patientID, userID string) (shares.PatientShare, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var winner shares.PatientShare
	has := false
	for _, g := range r.activeByID {
		if g.PatientID != patientID || g.SharedWithUserID != userID {
			continue
		}
		if g.RevokedAt != nil {
			continue
		}
		if !has || g.CreatedAt.After(winner.CreatedAt) {
			winner = g
			has = true
		}
	}
	if !has {
		return shares.PatientShare{}, shares.ErrNotFound
	}
	return winner, nil
}

func (r *sharesRepo) ListActiveByPatient(ctx context.Context, patientID string) ([]shares.PatientShare, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]shares.PatientShare, 0)
	for _, g := range r.activeByID {
		if g.PatientID == patientID && g.RevokedAt == nil {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *sharesRepo) Revoke(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.activeByID[id]
	if !ok {
		return shares.ErrNotFound
	}
	if g.RevokedAt != nil {
		return shares.ErrNotFound
	}
	g.RevokedAt = &at
	r.activeByID[id] = g
	return nil
}

func (r *sharesRepo) CountActiveByLevel(ctx context.Context, now time.Time) (map[string]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]int)
	for _, g := range r.activeByID {
		if !g.Active(now) {
			continue
		}
		out[string(g.AccessLevel)]++
	}
	return out, nil
}

func (r *sharesRepo) CreatePending(ctx context.Context, p shares.PendingShare) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.ID == "" {
		return errors.New("pending share id required")
	}
	if _, exists := r.pendingByID[p.ID]; exists {
		return errors.New("pending share already exists")
	}
	// Índice único parcial del schema: una invitación viva por (paciente, email).
	for _, other := range r.pendingByID {
		if other.PatientID == p.PatientID &&
			other.Email == p.Email &&
			other.ClaimedAt == nil && other.ExpiredAt == nil {
			return shares.ErrDuplicatePending
		}
	}
	r.pendingByID[p.ID] = p
	return nil
}

func (r *sharesRepo) GetPendingByID(ctx context.Context, id string) (shares.PendingShare, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.pendingByID[id]
	if !ok {
		return shares.PendingShare{}, shares.ErrNotFound
	}
	return p, nil
}

func (r *sharesRepo) FindOpenPending(ctx context.Context, patientID, email string) (shares.PendingShare, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.pendingByID {
		if p.PatientID == patientID && p.Email == email &&
			p.ClaimedAt == nil && p.ExpiredAt == nil {
			return p, nil
		}
	}
	return shares.PendingShare{}, shares.ErrNotFound
}

func (r *sharesRepo) ListPendingByPatient(ctx context.Context, patientID string) ([]shares.PendingShare, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]shares.PendingShare, 0)
	for _, p := range r.pendingByID {
		if p.PatientID == patientID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *sharesRepo) ListClaimableByEmail(ctx context.Context, email string, now time.Time) ([]shares.PendingShare, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]shares.PendingShare, 0)
	for _, p := range r.pendingByID {
		if p.Email == email && p.Claimable(now) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *sharesRepo) ClaimPending(ctx context.Context, id, userID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pendingByID[id]
	if !ok {
		return shares.ErrNotFound
	}
	// Precondición del claim: claimed_at y expired_at en null.
	if p.ClaimedAt != nil || p.ExpiredAt != nil {
		return shares.ErrAlreadyClaimed
	}
	p.ClaimedAt = &at
	p.ClaimedByUserID = &userID
	r.pendingByID[id] = p
	return nil
}

func (r *sharesRepo) MarkPendingExpired(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pendingByID[id]
	if !ok {
		return shares.ErrNotFound
	}
	if p.ClaimedAt != nil || p.ExpiredAt != nil {
		return shares.ErrAlreadyClaimed
	}
	p.ExpiredAt = &at
	r.pendingByID[id] = p
	return nil
}

func (r *sharesRepo) ListExpiredUnmarked(ctx context.Context, now time.Time) ([]shares.PendingShare, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]shares.PendingShare, 0)
	for _, p := range r.pendingByID {
		if p.ClaimedAt != nil || p.ExpiredAt != nil {
			continue
		}
		if p.ExpiresAt != nil && !p.ExpiresAt.After(now) {
			out = append(out, p)
		}
	}
	return out, nil
}
