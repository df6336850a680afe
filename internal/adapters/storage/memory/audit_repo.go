package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"patient-record-sharing/internal/domain/audit"
)

// auditRepo es un log append-only en memoria. No hay update ni delete.
type auditRepo struct {
	mu     sync.RWMutex
	events []audit.Event
}

func NewAuditRepo() audit.Repository {
	return &auditRepo{events: make([]audit.Event, 0)}
}

func (r *auditRepo) Append(ctx context.Context, e audit.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e.ID == "" {
		return errors.New("event id required")
	}
	r.events = append(r.events, e)
	return nil
}

func (r *auditRepo) List(ctx context.Context, f audit.ListFilter) ([]audit.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]audit.Event, 0)
	for _, e := range r.events {
		if f.PatientID != "" && e.PatientID != f.PatientID {
			continue
		}
		out = append(out, e)
	}

	// occurred_at desc; a igual timestamp desempata id para orden estable.
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].OccurredAt.After(out[j].OccurredAt)
		}
		return out[i].ID > out[j].ID
	})

	if f.Offset >= len(out) {
		return []audit.Event{}, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *auditRepo) CountByTypeSince(ctx context.Context, t audit.EventType, since time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, e := range r.events {
		if e.Type == t && !e.OccurredAt.Before(since) {
			n++
		}
	}
	return n, nil
}
