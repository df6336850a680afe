package notify

import "context"

// Tipos de notificación que emite el ciclo de vida de shares.
const (
	TypeShareClaimed = "share_claimed"
	TypeShareRevoked = "share_revoked"
)

// Claves conocidas de Data por tipo de evento. Claves desconocidas se
// pasan al sink sin tocar (forward compatibility); el set conocido es
// cerrado y versionado acá.
const (
	KeyPatientID   = "patient_id"
	KeyShareID     = "share_id"
	KeyAccessLevel = "access_level"
)

// Notification es el payload que consume el componente externo de
// notificaciones.
type Notification struct {
	UserID  string            `json:"userId"`
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Data    map[string]string `json:"data,omitempty"`
}

// Notifier entrega notificaciones best-effort: no devuelve error porque
// un fallo de entrega jamás revierte el cambio de estado que lo originó.
// El adapter decide qué loggear.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// Nop descarta todo. Útil cuando no hay sink configurado y en tests.
type Nop struct{}

func (Nop) Notify(context.Context, Notification) {}
