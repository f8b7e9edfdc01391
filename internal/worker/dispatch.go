package worker

import (
	"fmt"

	"github.com/shaiso/mailqueue/internal/domain"
	"github.com/shaiso/mailqueue/internal/sender"
)

// Registry — реестр отправителей по типу письма.
//
// Неизвестный тип обслуживается отправителем generic.
type Registry struct {
	senders map[domain.JobKind]sender.Sender
}

// NewRegistry создаёт реестр, в котором def обслуживает все известные типы.
// Отдельные типы можно переопределить через Register.
func NewRegistry(def sender.Sender) *Registry {
	r := &Registry{senders: make(map[domain.JobKind]sender.Sender)}
	if def != nil {
		for _, kind := range domain.KnownKinds {
			r.Register(kind, def)
		}
	}
	return r
}

// Register назначает отправителя для типа письма.
func (r *Registry) Register(kind domain.JobKind, s sender.Sender) {
	r.senders[kind] = s
}

// Get возвращает отправителя для типа письма.
func (r *Registry) Get(kind domain.JobKind) (sender.Sender, error) {
	if s, ok := r.senders[kind]; ok {
		return s, nil
	}
	if s, ok := r.senders[domain.JobKindGeneric]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNoSender, kind)
}
