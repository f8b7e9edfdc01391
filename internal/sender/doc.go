// Package sender доставляет письма через внешнего почтового провайдера.
//
// HTTPSender отправляет письмо через HTTP API провайдера:
//
//	POST {EMAIL_API_URL}
//	Authorization: Bearer {EMAIL_API_KEY}
//
//	{"to": "x@y.com", "template": "welcome", "data": {...}}
//
// LogSender только пишет письмо в лог и используется при EMAIL_DRY_RUN=true.
package sender
