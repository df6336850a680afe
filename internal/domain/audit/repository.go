package audit

import (
	"context"
	"time"
)

// Repository persiste el log append-only. Append es el único write;
// no existe update ni delete de eventos.
type Repository interface {
	Append(ctx context.Context, e Event) error
	// List devuelve eventos ordenados por occurred_at desc, id desc.
	List(ctx context.Context, f ListFilter) ([]Event, error)
	// CountByTypeSince cuenta eventos de un tipo desde `since` (inclusive).
	CountByTypeSince(ctx context.Context, t EventType, since time.Time) (int, error)
}
