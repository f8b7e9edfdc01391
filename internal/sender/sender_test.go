package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/mailqueue/internal/domain"
	"github.com/shaiso/mailqueue/internal/telemetry"
)

type captured struct {
	auth string
	body map[string]any
}

func newProvider(t *testing.T, status int) (*httptest.Server, *captured) {
	t.Helper()

	c := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&c.body))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"id":"msg-1"}`))
	}))
	t.Cleanup(srv.Close)

	return srv, c
}

func welcome() domain.JobMessage {
	return domain.JobMessage{
		JobID:       "A",
		Kind:        domain.JobKindWelcome,
		Destination: "x@y.com",
		Payload:     domain.WelcomePayload{Name: "Ann"},
	}
}

func TestHTTPSender_Send(t *testing.T) {
	srv, c := newProvider(t, http.StatusAccepted)

	s := NewHTTPSender(HTTPConfig{
		URL:       srv.URL,
		APIKey:    "secret",
		Templates: map[domain.JobKind]string{domain.JobKindWelcome: "tpl-welcome"},
	})

	err := s.Send(context.Background(), "x@y.com", welcome())
	require.NoError(t, err)

	assert.Equal(t, "Bearer secret", c.auth)
	assert.Equal(t, "x@y.com", c.body["to"])
	assert.Equal(t, "tpl-welcome", c.body["template"])
	assert.Equal(t, map[string]any{"name": "Ann"}, c.body["data"])
}

func TestHTTPSender_TemplateFallbacks(t *testing.T) {
	srv, c := newProvider(t, http.StatusOK)
	s := NewHTTPSender(HTTPConfig{URL: srv.URL, APIKey: "k"})

	msg := domain.JobMessage{
		JobID:   "B",
		Kind:    domain.JobKindTransactional,
		Payload: domain.TransactionalPayload{Subject: "Receipt", Template: "receipt-v2"},
	}
	require.NoError(t, s.Send(context.Background(), "x@y.com", msg))
	assert.Equal(t, "receipt-v2", c.body["template"])

	require.NoError(t, s.Send(context.Background(), "x@y.com", welcome()))
	assert.Equal(t, "welcome", c.body["template"])
}

func TestHTTPSender_ProviderError(t *testing.T) {
	srv, _ := newProvider(t, http.StatusInternalServerError)
	s := NewHTTPSender(HTTPConfig{URL: srv.URL, APIKey: "k"})

	err := s.Send(context.Background(), "x@y.com", welcome())
	assert.ErrorIs(t, err, ErrSendFailed)
	assert.Contains(t, err.Error(), "HTTP 500")
}

func TestHTTPSender_NotConfigured(t *testing.T) {
	srv, c := newProvider(t, http.StatusOK)
	s := NewHTTPSender(HTTPConfig{URL: srv.URL})

	err := s.Send(context.Background(), "x@y.com", welcome())
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.Nil(t, c.body, "no request without credentials")
}

func TestHTTPSender_TransportError(t *testing.T) {
	srv, _ := newProvider(t, http.StatusOK)
	url := srv.URL
	srv.Close()

	s := NewHTTPSender(HTTPConfig{URL: url, APIKey: "k"})
	err := s.Send(context.Background(), "x@y.com", welcome())
	assert.ErrorIs(t, err, ErrSendFailed)
}

func TestLogSender(t *testing.T) {
	var buf bytes.Buffer
	ctx := telemetry.WithLogger(context.Background(), telemetry.NewLogger(&buf, "json", slog.LevelInfo))

	s := NewLogSender()
	require.NoError(t, s.Send(ctx, "x@y.com", welcome()))

	assert.Contains(t, buf.String(), `"msg":"dry-run email"`)
	assert.Contains(t, buf.String(), `"job_id":"A"`)
}
