package audit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"patient-record-sharing/internal/middleware"

	"github.com/go-chi/chi/v5"
)

// PatientAccess evita importar el paquete shares (rompe ciclos).
type PatientAccess interface {
	CanAdminister(ctx context.Context, userID, patientID string) (bool, error)
}

func RegisterRoutes(r chi.Router, svc *Service, access PatientAccess) {
	// Ojo al orden: las rutas estáticas van antes que {patientID}.
	r.Get("/shares/analytics", analyticsHandler(svc))
	r.Get("/shares", listGlobalAuditHandler(svc))
	r.Get("/shares/{patientID}/audit", listPatientAuditHandler(svc, access))
}

type eventResponse struct {
	ID          string    `json:"id"`
	PatientID   string    `json:"patient_id"`
	ShareID     string    `json:"share_id"`
	EventType   EventType `json:"event_type"`
	ActorUserID string    `json:"actor_user_id"`
	OccurredAt  time.Time `json:"occurred_at"`
}

type auditPageResponse struct {
	Items  []eventResponse `json:"items"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

func analyticsHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireUser(w, r) {
			return
		}

		snap, err := svc.LatestSnapshot()
		if err != nil {
			if errors.Is(err, ErrNoSnapshot) {
				http.Error(w, "no analytics snapshot available", http.StatusNotFound)
				return
			}
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

func listGlobalAuditHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireUser(w, r) {
			return
		}

		f := pageFilter(r)
		items, err := svc.ListAuditLog(r.Context(), f)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, toPage(items, f))
	}
}

func listPatientAuditHandler(svc *Service, access PatientAccess) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		patientID := chi.URLParam(r, "patientID")
		allowed, err := access.CanAdminister(r.Context(), claims.UserID, patientID)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if !allowed {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		f := pageFilter(r)
		f.PatientID = patientID
		items, err := svc.ListAuditLog(r.Context(), f)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, toPage(items, f))
	}
}

func requireUser(w http.ResponseWriter, r *http.Request) bool {
	claims, ok := middleware.GetClaims(r.Context())
	if !ok || strings.TrimSpace(claims.UserID) == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return false
	}
	return true
}

func pageFilter(r *http.Request) ListFilter {
	f := ListFilter{}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			f.Limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			f.Offset = n
		}
	}
	return f.Normalize()
}

func toPage(items []Event, f ListFilter) auditPageResponse {
	out := make([]eventResponse, 0, len(items))
	for _, e := range items {
		out = append(out, eventResponse{
			ID:          e.ID,
			PatientID:   e.PatientID,
			ShareID:     e.ShareID,
			EventType:   e.Type,
			ActorUserID: e.ActorUserID,
			OccurredAt:  e.OccurredAt,
		})
	}
	return auditPageResponse{Items: out, Limit: f.Limit, Offset: f.Offset}
}

// writeJSON duplicado adrede por módulo, igual que en el resto de handlers.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
