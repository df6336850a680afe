package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"patient-record-sharing/internal/domain/shares"
)

type recordingAudit struct {
	types []string
}

func (a *recordingAudit) RecordEvent(ctx context.Context, patientID, shareID, eventType, actorUserID string) error {
	a.types = append(a.types, eventType)
	return nil
}

type fixedOwners map[string]string

func (o fixedOwners) OwnerOf(ctx context.Context, patientID string) (string, error) {
	return o[patientID], nil
}

func TestService_ReinviteAfterExpiry_NoSweepNeeded(t *testing.T) {
	repo := NewSharesRepo()
	aud := &recordingAudit{}
	svc := shares.NewService(repo, aud, fixedOwners{"p1": "owner-1"}, nil)

	// Invitación ya vencida por reloj y sin sweep: el índice vivo del repo
	// todavía tiene la fila, la re-invitación debe liberarla sola.
	expired := time.Now().UTC().Add(-time.Hour)
	if err := repo.CreatePending(context.Background(), shares.PendingShare{
		ID:             "pend-stale",
		PatientID:      "p1",
		Email:          "bob@x.com",
		AccessLevel:    shares.LevelRead,
		SharedByUserID: "owner-1",
		CreatedAt:      expired.Add(-24 * time.Hour),
		ExpiresAt:      &expired,
	}); err != nil {
		t.Fatalf("CreatePending error: %v", err)
	}

	newExpires := time.Now().UTC().Add(24 * time.Hour)
	if _, err := svc.CreatePendingShare(context.Background(), shares.CreatePendingInput{
		PatientID:   "p1",
		OwnerUserID: "owner-1",
		Email:       "bob@x.com",
		AccessLevel: shares.LevelWrite,
		ExpiresAt:   &newExpires,
	}); err != nil {
		t.Fatalf("re-invitation after expiry should succeed without a sweep, got %v", err)
	}

	marks := 0
	for _, typ := range aud.types {
		if typ == shares.EventExpired {
			marks++
		}
	}
	if marks != 1 {
		t.Fatalf("expected one expired event from the inline mark, got %v", aud.types)
	}

	stale, err := repo.GetPendingByID(context.Background(), "pend-stale")
	if err != nil {
		t.Fatalf("GetPendingByID error: %v", err)
	}
	if stale.ExpiredAt == nil {
		t.Fatalf("stale invitation must be marked expired, not deleted")
	}
}

func TestClaimPending_ConcurrentAttemptsOneWinner(t *testing.T) {
	repo := NewSharesRepo()
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	p := shares.PendingShare{
		ID:             "pend-1",
		PatientID:      "p1",
		Email:          "bob@x.com",
		AccessLevel:    shares.LevelWrite,
		SharedByUserID: "owner-1",
		CreatedAt:      now,
	}
	if err := repo.CreatePending(context.Background(), p); err != nil {
		t.Fatalf("CreatePending error: %v", err)
	}

	// N claims concurrentes sobre el mismo id: el update condicional
	// deja pasar exactamente uno.
	const n = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, losses := 0, 0

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.ClaimPending(context.Background(), "pend-1", "bob", now.Add(time.Minute))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, shares.ErrAlreadyClaimed):
				losses++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 || losses != n-1 {
		t.Fatalf("wins=%d losses=%d, want 1/%d", wins, losses, n-1)
	}

	got, err := repo.GetPendingByID(context.Background(), "pend-1")
	if err != nil {
		t.Fatalf("GetPendingByID error: %v", err)
	}
	if got.ClaimedAt == nil || got.ClaimedByUserID == nil || *got.ClaimedByUserID != "bob" {
		t.Fatalf("pending not claimed exactly once: %#v", got)
	}
}

func TestClaimPending_AfterMarkExpiredLoses(t *testing.T) {
	repo := NewSharesRepo()
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	expires := now.Add(time.Hour)

	p := shares.PendingShare{
		ID:             "pend-1",
		PatientID:      "p1",
		Email:          "bob@x.com",
		AccessLevel:    shares.LevelRead,
		SharedByUserID: "owner-1",
		CreatedAt:      now,
		ExpiresAt:      &expires,
	}
	if err := repo.CreatePending(context.Background(), p); err != nil {
		t.Fatalf("CreatePending error: %v", err)
	}

	if err := repo.MarkPendingExpired(context.Background(), "pend-1", expires.Add(time.Minute)); err != nil {
		t.Fatalf("MarkPendingExpired error: %v", err)
	}
	// Expired es terminal: ni claim ni re-mark.
	if err := repo.ClaimPending(context.Background(), "pend-1", "bob", expires.Add(2*time.Minute)); !errors.Is(err, shares.ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed after expiry mark, got %v", err)
	}
	if err := repo.MarkPendingExpired(context.Background(), "pend-1", expires.Add(2*time.Minute)); !errors.Is(err, shares.ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed on double mark, got %v", err)
	}
}

func TestCreatePending_LiveDuplicateRejected(t *testing.T) {
	repo := NewSharesRepo()
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	base := shares.PendingShare{
		ID:             "pend-1",
		PatientID:      "p1",
		Email:          "bob@x.com",
		AccessLevel:    shares.LevelRead,
		SharedByUserID: "owner-1",
		CreatedAt:      now,
	}
	if err := repo.CreatePending(context.Background(), base); err != nil {
		t.Fatalf("CreatePending error: %v", err)
	}

	dup := base
	dup.ID = "pend-2"
	if err := repo.CreatePending(context.Background(), dup); !errors.Is(err, shares.ErrDuplicatePending) {
		t.Fatalf("expected ErrDuplicatePending, got %v", err)
	}

	// Claimed libera el slot (patient, email) para una invitación nueva.
	if err := repo.ClaimPending(context.Background(), "pend-1", "bob", now.Add(time.Minute)); err != nil {
		t.Fatalf("ClaimPending error: %v", err)
	}
	dup.CreatedAt = now.Add(2 * time.Minute)
	if err := repo.CreatePending(context.Background(), dup); err != nil {
		t.Fatalf("CreatePending after claim error: %v", err)
	}
}

func TestRevoke_ConditionalOnActive(t *testing.T) {
	repo := NewSharesRepo()
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	g := shares.PatientShare{
		ID:               "g1",
		PatientID:        "p1",
		SharedByUserID:   "owner-1",
		SharedWithUserID: "bob",
		AccessLevel:      shares.LevelWrite,
		CreatedAt:        now,
	}
	if err := repo.CreateActive(context.Background(), g); err != nil {
		t.Fatalf("CreateActive error: %v", err)
	}

	if err := repo.Revoke(context.Background(), "g1", now.Add(time.Minute)); err != nil {
		t.Fatalf("Revoke error: %v", err)
	}
	if err := repo.Revoke(context.Background(), "g1", now.Add(2*time.Minute)); !errors.Is(err, shares.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second revoke, got %v", err)
	}

	if _, err := repo.GetActiveForUser(context.Background(), "p1", "bob"); !errors.Is(err, shares.ErrNotFound) {
		t.Fatalf("revoked grant must not resolve for user")
	}
}

func TestListExpiredUnmarked_SkipsClaimedAndMarked(t *testing.T) {
	repo := NewSharesRepo()
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)

	mk := func(id, email string) shares.PendingShare {
		return shares.PendingShare{
			ID: id, PatientID: "p1", Email: email,
			AccessLevel: shares.LevelRead, SharedByUserID: "owner-1",
			CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: &past,
		}
	}
	for _, p := range []shares.PendingShare{mk("a", "a@x.com"), mk("b", "b@x.com"), mk("c", "c@x.com")} {
		if err := repo.CreatePending(context.Background(), p); err != nil {
			t.Fatalf("CreatePending error: %v", err)
		}
	}
	if err := repo.ClaimPending(context.Background(), "a", "alice", now.Add(-90*time.Minute)); err != nil {
		t.Fatalf("ClaimPending error: %v", err)
	}
	if err := repo.MarkPendingExpired(context.Background(), "b", now); err != nil {
		t.Fatalf("MarkPendingExpired error: %v", err)
	}

	due, err := repo.ListExpiredUnmarked(context.Background(), now)
	if err != nil {
		t.Fatalf("ListExpiredUnmarked error: %v", err)
	}
	if len(due) != 1 || due[0].ID != "c" {
		t.Fatalf("expected only c due, got %#v", due)
	}
}
