package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMalformedMessage — тело сообщения не является корректной задачей.
var ErrMalformedMessage = errors.New("malformed job message")

// Имена служебных полей плоского JSON сообщения.
const (
	fieldJobID       = "jobId"
	fieldKind        = "kind"
	fieldDestination = "destination"
)

// JobMessage — сообщение очереди задач.
//
// На проводе это плоский JSON-объект:
//
//	{"jobId": "...", "kind": "welcome", "destination": "x@y.com", ...поля типа}
//
// Сообщение декодируется один раз на границе очереди (DecodeJobMessage),
// дальше обработка работает с типизированным Payload.
type JobMessage struct {
	JobID       string
	Kind        JobKind
	Destination string
	Payload     Payload
}

// Payload — данные письма конкретного типа.
//
// Реализации: TransactionalPayload, WelcomePayload, PasswordResetPayload,
// NotificationPayload, GenericPayload.
type Payload interface {
	payloadKind() JobKind
}

// TransactionalPayload — транзакционное письмо (чеки, подтверждения).
type TransactionalPayload struct {
	Subject   string         `json:"subject"`
	Template  string         `json:"template,omitempty"`
	Variables map[string]any `json:"variables,omitempty"`
}

// WelcomePayload — приветственное письмо после регистрации.
type WelcomePayload struct {
	Name string `json:"name,omitempty"`
}

// PasswordResetPayload — письмо со ссылкой сброса пароля.
type PasswordResetPayload struct {
	ResetURL  string     `json:"resetUrl"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// NotificationPayload — уведомление пользователю.
type NotificationPayload struct {
	Title string `json:"title"`
	Body  string `json:"body,omitempty"`
}

// GenericPayload — письмо неизвестного или общего типа.
// Fields содержит все поля сообщения, кроме служебных.
type GenericPayload struct {
	Fields map[string]any `json:"-"`
}

func (TransactionalPayload) payloadKind() JobKind { return JobKindTransactional }
func (WelcomePayload) payloadKind() JobKind       { return JobKindWelcome }
func (PasswordResetPayload) payloadKind() JobKind { return JobKindPasswordReset }
func (NotificationPayload) payloadKind() JobKind  { return JobKindNotification }
func (GenericPayload) payloadKind() JobKind       { return JobKindGeneric }

// MarshalJSON сериализует GenericPayload как плоский объект полей.
func (p GenericPayload) MarshalJSON() ([]byte, error) {
	if p.Fields == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p.Fields)
}

// DecodeJobMessage разбирает тело сообщения.
//
// Отсутствие jobId, kind или destination — ErrMalformedMessage.
// Неизвестный kind не является ошибкой: payload становится GenericPayload,
// а Kind сохраняет исходное значение.
func DecodeJobMessage(body []byte) (JobMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return JobMessage{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	var msg JobMessage
	if err := requireString(fields, fieldJobID, &msg.JobID); err != nil {
		return JobMessage{}, err
	}
	var kind string
	if err := requireString(fields, fieldKind, &kind); err != nil {
		return JobMessage{}, err
	}
	msg.Kind = JobKind(kind)
	if err := requireString(fields, fieldDestination, &msg.Destination); err != nil {
		return JobMessage{}, err
	}

	payload, err := decodePayload(msg.Kind, body, fields)
	if err != nil {
		return JobMessage{}, err
	}
	msg.Payload = payload

	return msg, nil
}

func decodePayload(kind JobKind, body []byte, fields map[string]json.RawMessage) (Payload, error) {
	var (
		payload Payload
		err     error
	)

	switch kind {
	case JobKindTransactional:
		var p TransactionalPayload
		err = json.Unmarshal(body, &p)
		payload = p
	case JobKindWelcome:
		var p WelcomePayload
		err = json.Unmarshal(body, &p)
		payload = p
	case JobKindPasswordReset:
		var p PasswordResetPayload
		err = json.Unmarshal(body, &p)
		payload = p
	case JobKindNotification:
		var p NotificationPayload
		err = json.Unmarshal(body, &p)
		payload = p
	default:
		p := GenericPayload{Fields: make(map[string]any, len(fields))}
		for key, raw := range fields {
			if isEnvelopeField(key) {
				continue
			}
			var v any
			if err = json.Unmarshal(raw, &v); err != nil {
				break
			}
			p.Fields[key] = v
		}
		payload = p
	}

	if err != nil {
		return nil, fmt.Errorf("%w: %s payload: %v", ErrMalformedMessage, kind, err)
	}
	return payload, nil
}

// MarshalJSON сериализует сообщение обратно в плоский JSON.
// Результат декодируется DecodeJobMessage в эквивалентное сообщение.
func (m JobMessage) MarshalJSON() ([]byte, error) {
	flat := map[string]any{}

	if m.Payload != nil {
		raw, err := json.Marshal(m.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		if err := json.Unmarshal(raw, &flat); err != nil {
			return nil, fmt.Errorf("flatten payload: %w", err)
		}
	}

	flat[fieldJobID] = m.JobID
	flat[fieldKind] = string(m.Kind)
	flat[fieldDestination] = m.Destination

	return json.Marshal(flat)
}

func requireString(fields map[string]json.RawMessage, key string, dst *string) error {
	raw, ok := fields[key]
	if !ok {
		return fmt.Errorf("%w: missing %s", ErrMalformedMessage, key)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %s must be a string", ErrMalformedMessage, key)
	}
	if *dst == "" {
		return fmt.Errorf("%w: empty %s", ErrMalformedMessage, key)
	}
	return nil
}

func isEnvelopeField(key string) bool {
	return key == fieldJobID || key == fieldKind || key == fieldDestination
}
