package shares

import (
	"strings"
	"time"
)

// AccessLevel define el nivel de acceso de un grant.
// Orden: read < write < admin.
type AccessLevel string

const (
	LevelRead  AccessLevel = "read"
	LevelWrite AccessLevel = "write"
	LevelAdmin AccessLevel = "admin"
)

var levelRank = map[AccessLevel]int{
	LevelRead:  1,
	LevelWrite: 2,
	LevelAdmin: 3,
}

func (l AccessLevel) Valid() bool {
	_, ok := levelRank[l]
	return ok
}

// Allows responde si este nivel cubre la acción pedida.
// Niveles desconocidos nunca autorizan nada.
func (l AccessLevel) Allows(action AccessLevel) bool {
	have, ok := levelRank[l]
	if !ok {
		return false
	}
	want, ok := levelRank[action]
	if !ok {
		return false
	}
	return have >= want
}

func ParseLevel(s string) (AccessLevel, bool) {
	l := AccessLevel(strings.ToLower(strings.TrimSpace(s)))
	return l, l.Valid()
}

// PatientShare es un grant activo: vincula un usuario resuelto
// con la ficha de un paciente a un nivel dado.
type PatientShare struct {
	ID        string
	PatientID string

	SharedByUserID   string // quien compartió
	SharedWithUserID string // cuenta resuelta del invitado

	AccessLevel AccessLevel

	CreatedAt time.Time
	ExpiresAt *time.Time
	RevokedAt *time.Time
}

// Expired evalúa expiración lazy: el row puede seguir existiendo.
func (g PatientShare) Expired(now time.Time) bool {
	return g.ExpiresAt != nil && !g.ExpiresAt.After(now)
}

// Active: no revocado y no expirado al momento de la consulta.
func (g PatientShare) Active(now time.Time) bool {
	return g.RevokedAt == nil && !g.Expired(now)
}

// PendingShare es una invitación dirigida a un email que todavía
// no está ligada a una cuenta.
//
// Invariante: ClaimedAt y ClaimedByUserID son ambos nil o ambos seteados,
// atómicamente. Una pending transiciona exactamente una vez a claimed
// (ClaimedAt) o expired (ExpiredAt); el row nunca se borra.
type PendingShare struct {
	ID        string
	PatientID string

	Email          string // canónico en minúsculas
	AccessLevel    AccessLevel
	SharedByUserID string

	CreatedAt time.Time
	ExpiresAt *time.Time

	ClaimedAt       *time.Time
	ClaimedByUserID *string

	ExpiredAt *time.Time // marcado por el sweep, no por un borrado
}

func (p PendingShare) Claimed() bool {
	return p.ClaimedAt != nil
}

// Claimable: sin reclamar, sin marcar como expirada y dentro de la ventana.
func (p PendingShare) Claimable(now time.Time) bool {
	if p.ClaimedAt != nil || p.ExpiredAt != nil {
		return false
	}
	return p.ExpiresAt == nil || p.ExpiresAt.After(now)
}

// CanonicalEmail normaliza para el match case-insensitive del claim.
func CanonicalEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
