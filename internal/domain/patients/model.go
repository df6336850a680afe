package patients

import "time"

// Patient es la ficha mínima que este servicio necesita: lo importante
// acá es OwnerUserID, la base del access control. El resto del perfil
// clínico vive en otros sistemas.
type Patient struct {
	ID          string
	OwnerUserID string

	FullName  string
	BirthDate *time.Time
	Notes     string

	CreatedAt time.Time
	UpdatedAt time.Time
}
