package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/shaiso/mailqueue/internal/mq"
)

// HealthChecker — проверка соединения с брокером. Реализуется *mq.Supervisor.
type HealthChecker interface {
	HealthCheck(ctx context.Context) bool
	State() mq.ConnectionState
}

// Handler — служебный HTTP-обработчик процесса.
type Handler struct {
	broker  HealthChecker
	metrics http.Handler
	logger  *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Broker HealthChecker

	// Metrics — обработчик /metrics (например, promhttp.Handler()).
	// nil — маршрут не регистрируется.
	Metrics http.Handler

	Logger *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		broker:  cfg.Broker,
		metrics: cfg.Metrics,
		logger:  logger,
	}
}

// Health отвечает 200 "ok", если брокер доступен, иначе 503 с именем состояния.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	if h.broker.HealthCheck(r.Context()) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
		return
	}

	w.WriteHeader(http.StatusServiceUnavailable)
	w.Write([]byte(h.broker.State().String()))
}
