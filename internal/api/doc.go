// Package api содержит служебный HTTP сервер процесса.
//
// Структура:
//   - handler.go    — Handler с DI (проверка брокера, metrics, logger)
//   - routes.go     — регистрация маршрутов
//   - middleware.go — middleware (logging, recovery)
//
// Маршруты:
//   - GET /healthz — 200 "ok" или 503 с состоянием соединения
//   - GET /metrics — метрики Prometheus
package api
