package webhook

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"patient-record-sharing/internal/platform/httpclient"
	"patient-record-sharing/internal/ports/notify"
)

// Sink postea cada notificación como JSON a un webhook externo.
// Best-effort: un fallo de entrega se loggea y se descarta; nunca
// revierte el cambio de estado que generó la notificación.
type Sink struct {
	client *httpclient.Client
	url    string
	log    *zap.Logger
}

func New(url string, client *httpclient.Client, log *zap.Logger) *Sink {
	if client == nil {
		client = httpclient.New(httpclient.DefaultTimeout)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Sink{
		client: client,
		url:    strings.TrimSpace(url),
		log:    log,
	}
}

func (s *Sink) Notify(ctx context.Context, n notify.Notification) {
	if s.url == "" {
		return
	}

	if err := s.client.DoJSON(ctx, http.MethodPost, s.url, n, nil); err != nil {
		s.log.Warn("notification delivery failed",
			zap.String("type", n.Type),
			zap.String("user_id", n.UserID),
			zap.Error(err),
		)
		return
	}
	s.log.Debug("notification delivered",
		zap.String("type", n.Type),
		zap.String("user_id", n.UserID),
	)
}
