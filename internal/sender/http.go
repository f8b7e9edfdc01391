package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shaiso/mailqueue/internal/domain"
	"github.com/shaiso/mailqueue/internal/telemetry"
)

const defaultHTTPTimeout = 30 * time.Second

// HTTPConfig — конфигурация HTTPSender.
type HTTPConfig struct {
	// URL — endpoint отправки писем у провайдера.
	URL string

	// APIKey — bearer-токен провайдера. Пустой ключ: каждая отправка
	// завершается ErrNotConfigured.
	APIKey string

	// Templates — id шаблона провайдера по типу письма.
	// Если типа нет в карте, используется имя типа.
	Templates map[domain.JobKind]string

	// Timeout — таймаут одного запроса (default: 30s).
	Timeout time.Duration

	// Client — HTTP-клиент (default: новый http.Client).
	Client *http.Client
}

// HTTPSender отправляет письма через HTTP API провайдера.
type HTTPSender struct {
	url       string
	apiKey    string
	templates map[domain.JobKind]string
	timeout   time.Duration
	client    *http.Client
}

// NewHTTPSender создаёт HTTPSender.
func NewHTTPSender(cfg HTTPConfig) *HTTPSender {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}

	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}

	return &HTTPSender{
		url:       cfg.URL,
		apiKey:    cfg.APIKey,
		templates: cfg.Templates,
		timeout:   timeout,
		client:    client,
	}
}

// sendRequest — тело запроса к провайдеру.
type sendRequest struct {
	To       string `json:"to"`
	Template string `json:"template"`
	Data     any    `json:"data,omitempty"`
}

// Send отправляет письмо. HTTP >= 400 и ошибки транспорта возвращаются
// как ErrSendFailed.
func (s *HTTPSender) Send(ctx context.Context, destination string, msg domain.JobMessage) error {
	if s.apiKey == "" || s.url == "" {
		return ErrNotConfigured
	}

	body, err := json.Marshal(sendRequest{
		To:       destination,
		Template: s.template(msg),
		Data:     msg.Payload,
	})
	if err != nil {
		return fmt.Errorf("%w: marshal body: %v", ErrSendFailed, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: create request: %v", ErrSendFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrSendFailed, err)
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: HTTP %d: %s", ErrSendFailed, resp.StatusCode, telemetry.Truncate(string(respBody), 200))
	}

	telemetry.FromContext(ctx).Debug("email sent",
		"job_id", msg.JobID,
		"kind", msg.Kind,
		"status_code", resp.StatusCode,
	)
	return nil
}

// template выбирает шаблон провайдера.
// У транзакционного письма шаблон может прийти в самом сообщении.
func (s *HTTPSender) template(msg domain.JobMessage) string {
	if p, ok := msg.Payload.(domain.TransactionalPayload); ok && p.Template != "" {
		return p.Template
	}
	if t, ok := s.templates[msg.Kind]; ok {
		return t
	}
	return string(msg.Kind)
}
