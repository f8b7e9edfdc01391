package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Результаты для label "result".
const (
	ResultOK       = "ok"
	ResultError    = "error"
	ResultDropped  = "dropped"
	ResultRejected = "rejected"
	ResultRequeued = "requeued"
	ResultTerminal = "terminal"
)

var (
	// ConnectionState — текущее состояние соединения с брокером
	// (0=disconnected, 1=connecting, 2=connected, 3=degraded).
	ConnectionState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mailqueue_connection_state",
		Help: "Broker connection state (0=disconnected, 1=connecting, 2=connected, 3=degraded)",
	})

	// ConnectAttempts — попытки подключения к брокеру.
	ConnectAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mailqueue_connect_attempts_total",
		Help: "Broker connection attempts by result",
	}, []string{"result"})

	// PublishTotal — публикации по очередям.
	PublishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mailqueue_publish_total",
		Help: "Messages published by queue and result",
	}, []string{"queue", "result"})

	// ConsumeTotal — обработанные доставки по очередям.
	ConsumeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mailqueue_consume_total",
		Help: "Deliveries handled by queue and result",
	}, []string{"queue", "result"})

	// JobsTotal — итоги обработки задач по типам писем.
	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mailqueue_jobs_total",
		Help: "Email jobs processed by kind and result",
	}, []string{"kind", "result"})

	// RequeuesPending — запланированные, но ещё не выполненные requeue.
	RequeuesPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mailqueue_requeues_pending",
		Help: "Delayed requeues waiting to fire",
	})

	// SweptJobs — задачи, повторно опубликованные sweeper'ом.
	SweptJobs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mailqueue_swept_jobs_total",
		Help: "Stale queued jobs republished by the sweeper",
	})
)
