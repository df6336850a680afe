package shares

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"patient-record-sharing/internal/middleware"

	"github.com/go-chi/chi/v5"
)

func RegisterRoutes(r chi.Router, svc *Service) {
	// Acciones del dueño/admin sobre un paciente
	r.Route("/patients/{patientID}/shares", func(sr chi.Router) {
		sr.Post("/", createShareHandler(svc))
		sr.Get("/", listSharesHandler(svc))
		sr.Get("/pending", listPendingHandler(svc))
	})

	r.Post("/shares/{shareID}/revoke", revokeShareHandler(svc))
	r.Post("/shares/sweep", sweepHandler(svc))

	// Claim al autenticarse: reclama todo lo pendiente para mi email
	r.Post("/me/claims", claimHandler(svc))
}

type createShareRequest struct {
	Email       string `json:"email"`
	AccessLevel string `json:"access_level"`
	ExpiresAt   string `json:"expires_at"` // RFC3339 opcional
}

type pendingShareResponse struct {
	ID              string      `json:"id"`
	PatientID       string      `json:"patient_id"`
	Email           string      `json:"email"`
	AccessLevel     AccessLevel `json:"access_level"`
	SharedByUserID  string      `json:"shared_by_user_id"`
	CreatedAt       time.Time   `json:"created_at"`
	ExpiresAt       *time.Time  `json:"expires_at,omitempty"`
	ClaimedAt       *time.Time  `json:"claimed_at,omitempty"`
	ClaimedByUserID *string     `json:"claimed_by_user_id,omitempty"`
	ExpiredAt       *time.Time  `json:"expired_at,omitempty"`
}

type shareResponse struct {
	ID               string      `json:"id"`
	PatientID        string      `json:"patient_id"`
	SharedByUserID   string      `json:"shared_by_user_id"`
	SharedWithUserID string      `json:"shared_with_user_id"`
	AccessLevel      AccessLevel `json:"access_level"`
	CreatedAt        time.Time   `json:"created_at"`
	ExpiresAt        *time.Time  `json:"expires_at,omitempty"`
	RevokedAt        *time.Time  `json:"revoked_at,omitempty"`
}

func createShareHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		patientID := chi.URLParam(r, "patientID")

		var req createShareRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		level, ok := ParseLevel(req.AccessLevel)
		if !ok {
			http.Error(w, "access_level must be read, write or admin", http.StatusBadRequest)
			return
		}

		var expiresAt *time.Time
		if strings.TrimSpace(req.ExpiresAt) != "" {
			t, err := time.Parse(time.RFC3339, req.ExpiresAt)
			if err != nil {
				http.Error(w, "expires_at must be RFC3339", http.StatusBadRequest)
				return
			}
			expiresAt = &t
		}

		p, err := svc.CreatePendingShare(r.Context(), CreatePendingInput{
			PatientID:   patientID,
			OwnerUserID: claims.UserID,
			Email:       req.Email,
			AccessLevel: level,
			ExpiresAt:   expiresAt,
		})
		if err != nil {
			writeShareError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toPendingResponse(p))
	}
}

func listSharesHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		patientID := chi.URLParam(r, "patientID")
		if !requireAdmin(w, r, svc, claims.UserID, patientID) {
			return
		}

		items, err := svc.ListSharesForPatient(r.Context(), patientID)
		if err != nil {
			writeShareError(w, err)
			return
		}

		out := make([]shareResponse, 0, len(items))
		for _, g := range items {
			out = append(out, toShareResponse(g))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func listPendingHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		patientID := chi.URLParam(r, "patientID")
		if !requireAdmin(w, r, svc, claims.UserID, patientID) {
			return
		}

		items, err := svc.ListPendingForPatient(r.Context(), patientID)
		if err != nil {
			writeShareError(w, err)
			return
		}

		out := make([]pendingShareResponse, 0, len(items))
		for _, p := range items {
			out = append(out, toPendingResponse(p))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func revokeShareHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		shareID := chi.URLParam(r, "shareID")
		g, err := svc.RevokeShare(r.Context(), shareID, claims.UserID)
		if err != nil {
			writeShareError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toShareResponse(g))
	}
}

func claimHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if strings.TrimSpace(claims.Email) == "" {
			http.Error(w, "verified email required", http.StatusBadRequest)
			return
		}

		granted, err := svc.ClaimForIdentity(r.Context(), claims.UserID, claims.Email)
		if err != nil {
			writeShareError(w, err)
			return
		}

		out := make([]shareResponse, 0, len(granted))
		for _, g := range granted {
			out = append(out, toShareResponse(g))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func sweepHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		n, err := svc.SweepExpiredPending(r.Context())
		if err != nil {
			writeShareError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"expired_count": n})
	}
}

func requireAdmin(w http.ResponseWriter, r *http.Request, svc *Service, userID, patientID string) bool {
	ok, err := svc.CanAdminister(r.Context(), userID, patientID)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return false
	}
	if !ok {
		http.Error(w, "forbidden", http.StatusForbidden)
		return false
	}
	return true
}

func writeShareError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrForbidden):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, ErrDuplicatePending):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ErrAlreadyClaimed):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func toPendingResponse(p PendingShare) pendingShareResponse {
	return pendingShareResponse{
		ID:              p.ID,
		PatientID:       p.PatientID,
		Email:           p.Email,
		AccessLevel:     p.AccessLevel,
		SharedByUserID:  p.SharedByUserID,
		CreatedAt:       p.CreatedAt,
		ExpiresAt:       p.ExpiresAt,
		ClaimedAt:       p.ClaimedAt,
		ClaimedByUserID: p.ClaimedByUserID,
		ExpiredAt:       p.ExpiredAt,
	}
}

func toShareResponse(g PatientShare) shareResponse {
	return shareResponse{
		ID:               g.ID,
		PatientID:        g.PatientID,
		SharedByUserID:   g.SharedByUserID,
		SharedWithUserID: g.SharedWithUserID,
		AccessLevel:      g.AccessLevel,
		CreatedAt:        g.CreatedAt,
		ExpiresAt:        g.ExpiresAt,
		RevokedAt:        g.RevokedAt,
	}
}

// writeJSON duplicado adrede por módulo, igual que en el resto de handlers.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
