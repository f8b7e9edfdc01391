package sender

import "errors"

// Ошибки отправки.
var (
	// ErrNotConfigured — у отправителя нет учётных данных провайдера.
	ErrNotConfigured = errors.New("email sender not configured")

	// ErrSendFailed — провайдер не принял письмо.
	ErrSendFailed = errors.New("email send failed")
)
