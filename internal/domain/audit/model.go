package audit

import (
	"strings"
	"time"
)

// EventType es el set cerrado de transiciones del ciclo de vida de shares.
type EventType string

const (
	EventCreated EventType = "created"
	EventClaimed EventType = "claimed"
	EventRevoked EventType = "revoked"
	EventExpired EventType = "expired"
)

func ParseEventType(s string) (EventType, bool) {
	t := EventType(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case EventCreated, EventClaimed, EventRevoked, EventExpired:
		return t, true
	}
	return "", false
}

// Event es un registro inmutable de una transición de estado.
// Append-only: nunca se muta ni se borra. Orden estable:
// occurred_at y, a igual timestamp, id.
type Event struct {
	ID          string
	PatientID   string
	ShareID     string
	Type        EventType
	ActorUserID string
	OccurredAt  time.Time
}

// Snapshot es un rollup derivado y descartable: se reconstruye de la
// historia de eventos más los grants vivos, no es fuente de verdad.
type Snapshot struct {
	CalculatedAt      time.Time      `json:"calculated_at"`
	ActiveCount       int            `json:"active_count"`
	ByAccessLevel     map[string]int `json:"by_access_level"`
	RecentClaims      int            `json:"recent_claims"`
	RecentRevocations int            `json:"recent_revocations"`
}

// ListFilter pagina el log. PatientID vacío = log global.
type ListFilter struct {
	PatientID string
	Limit     int
	Offset    int
}

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// Normalize aplica defaults y topes de paginación.
func (f ListFilter) Normalize() ListFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultPageSize
	}
	if f.Limit > MaxPageSize {
		f.Limit = MaxPageSize
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	f.PatientID = strings.TrimSpace(f.PatientID)
	return f
}
