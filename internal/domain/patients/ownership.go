package patients

import (
	"context"
	"errors"
)

// OwnerOf expone el ownerUserID de un paciente.
// Implementa shares.PatientOwnerLookup sin generar ciclos de imports:
// paciente desconocido => ("", nil); otros errores son fallas de storage
// y se propagan tal cual.
func (s *Service) OwnerOf(ctx context.Context, patientID string) (string, error) {
	p, err := s.GetByID(ctx, patientID)
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidInput) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return p.OwnerUserID, nil
}
