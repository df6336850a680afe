package router

import (
	"net/http"

	"go.uber.org/zap"

	webhooknotify "patient-record-sharing/internal/adapters/notify/webhook"
	mem "patient-record-sharing/internal/adapters/storage/memory"
	pg "patient-record-sharing/internal/adapters/storage/postgres"
	"patient-record-sharing/internal/domain/audit"
	"patient-record-sharing/internal/domain/patients"
	"patient-record-sharing/internal/domain/shares"
	"patient-record-sharing/internal/middleware"
	"patient-record-sharing/internal/platform/httpclient"
	"patient-record-sharing/internal/ports/auth"
	"patient-record-sharing/internal/ports/notify"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

type Options struct {
	AuthVerifier auth.AuthVerifier // puede ser nil (modo dev)

	// Opcional: si viene, usa Postgres. Si no, in-memory.
	DB *pg.DB

	// Opcional: webhook para notificaciones best-effort.
	NotifyWebhookURL string

	Logger *zap.Logger
}

// App expone el handler más los services que main necesita tener a mano
// (el ticker de snapshots recalcula contra Audit).
type App struct {
	Handler http.Handler
	Audit   *audit.Service
	Shares  *shares.Service
}

func New(opts Options) *App {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Use(middleware.AuthContext(opts.AuthVerifier))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	var (
		patientsRepo patients.Repository
		sharesRepo   shares.Repository
		auditRepo    audit.Repository
	)

	if opts.DB != nil {
		patientsRepo = pg.NewPatientsRepo(opts.DB)
		sharesRepo = pg.NewSharesRepo(opts.DB)
		auditRepo = pg.NewAuditRepo(opts.DB)
	} else {
		patientsRepo = mem.NewPatientsRepo()
		sharesRepo = mem.NewSharesRepo()
		auditRepo = mem.NewAuditRepo()
	}

	var notifier notify.Notifier = notify.Nop{}
	if opts.NotifyWebhookURL != "" {
		notifier = webhooknotify.New(
			opts.NotifyWebhookURL,
			httpclient.New(httpclient.DefaultTimeout),
			opts.Logger,
		)
	}

	// Services por módulo
	patientsSvc := patients.NewService(patientsRepo)
	auditSvc := audit.NewService(auditRepo, sharesRepo)
	sharesSvc := shares.NewService(sharesRepo, auditSvc, patientsSvc, notifier)

	// Rutas por módulo
	patients.RegisterRoutes(r, patientsSvc, sharesSvc)
	shares.RegisterRoutes(r, sharesSvc)
	audit.RegisterRoutes(r, auditSvc, sharesSvc)

	return &App{
		Handler: r,
		Audit:   auditSvc,
		Shares:  sharesSvc,
	}
}
