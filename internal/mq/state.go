package mq

// ConnectionState — состояние соединения с брокером.
//
// Жизненный цикл:
//
//	DISCONNECTED → CONNECTING → CONNECTED
//	                   ↓ ↺ (retry)    ↓ (разрыв)
//	               DEGRADED      DISCONNECTED → CONNECTING ...
//
// DEGRADED — попытки исчерпаны, процесс работает без очереди.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "DISCONNECTED"
	StateConnecting   ConnectionState = "CONNECTING"
	StateConnected    ConnectionState = "CONNECTED"
	StateDegraded     ConnectionState = "DEGRADED"
)

// Value возвращает числовое представление состояния для метрик.
func (s ConnectionState) Value() float64 {
	switch s {
	case StateConnecting:
		return 1
	case StateConnected:
		return 2
	case StateDegraded:
		return 3
	default:
		return 0
	}
}

// String возвращает строковое представление состояния.
func (s ConnectionState) String() string {
	return string(s)
}
