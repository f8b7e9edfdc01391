package mq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/mailqueue/internal/telemetry"
)

// --- fake broker ---

type fakeBroker struct {
	mu         sync.Mutex
	failFirst  int
	failAlways bool
	dials      int
	conns      []*fakeConn
}

func (b *fakeBroker) dial(string) (Connection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.dials++
	if b.failAlways || b.dials <= b.failFirst {
		return nil, errors.New("dial tcp: connection refused")
	}

	conn := &fakeConn{}
	b.conns = append(b.conns, conn)
	return conn, nil
}

func (b *fakeBroker) setFailAlways(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failAlways = v
}

func (b *fakeBroker) Dials() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

func (b *fakeBroker) lastConn() *fakeConn {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.conns) == 0 {
		return nil
	}
	return b.conns[len(b.conns)-1]
}

// --- fake connection ---

type fakeConn struct {
	mu     sync.Mutex
	closed bool
	notify []chan *amqp.Error
	ch     *fakeChannel
}

func (c *fakeConn) Channel() (Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, amqp.ErrClosed
	}
	c.ch = newFakeChannel()
	return c.ch, nil
}

func (c *fakeConn) channel() *fakeChannel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ch
}

func (c *fakeConn) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		close(receiver)
		return receiver
	}
	c.notify = append(c.notify, receiver)
	return receiver
}

func (c *fakeConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) Close() error {
	c.closeWith(nil)
	return nil
}

// drop имитирует разрыв соединения со стороны брокера.
func (c *fakeConn) drop() {
	c.closeWith(&amqp.Error{Code: amqp.ConnectionForced, Reason: "CONNECTION_FORCED - broker shutdown"})
}

func (c *fakeConn) closeWith(reason *amqp.Error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	notify := c.notify
	c.notify = nil
	ch := c.ch
	c.mu.Unlock()

	if ch != nil {
		ch.shutdown(reason)
	}
	for _, n := range notify {
		if reason != nil {
			n <- reason
		}
		close(n)
	}
}

// --- fake channel ---

type published struct {
	key string
	msg amqp.Publishing
}

type fakeChannel struct {
	mu         sync.Mutex
	closed     bool
	notify     []chan *amqp.Error
	declared   []string
	durable    map[string]bool
	deleted    []string
	published  []published
	consumers  map[string]chan amqp.Delivery
	cancelled  []string
	prefetch   int
	publishErr error
	declareErr error
	tmpSeq     int
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		durable:   make(map[string]bool),
		consumers: make(map[string]chan amqp.Delivery),
	}
}

func (ch *fakeChannel) Qos(prefetchCount, _ int, _ bool) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.prefetch = prefetchCount
	return nil
}

func (ch *fakeChannel) QueueDeclare(name string, durable, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.closed {
		return amqp.Queue{}, amqp.ErrClosed
	}
	if ch.declareErr != nil {
		return amqp.Queue{}, ch.declareErr
	}
	if name == "" {
		ch.tmpSeq++
		name = fmt.Sprintf("amq.gen-%d", ch.tmpSeq)
	}
	ch.declared = append(ch.declared, name)
	ch.durable[name] = durable
	return amqp.Queue{Name: name}, nil
}

func (ch *fakeChannel) QueueDelete(name string, _, _, _ bool) (int, error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.deleted = append(ch.deleted, name)
	return 0, nil
}

func (ch *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.closed {
		return amqp.ErrClosed
	}
	if ch.publishErr != nil {
		return ch.publishErr
	}
	ch.published = append(ch.published, published{key: key, msg: msg})
	return nil
}

func (ch *fakeChannel) Consume(queue, consumer string, _, _, _, _ bool, _ amqp.Table) (<-chan amqp.Delivery, error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.closed {
		return nil, amqp.ErrClosed
	}
	deliveries := make(chan amqp.Delivery, 16)
	ch.consumers[consumer] = deliveries
	return deliveries, nil
}

func (ch *fakeChannel) Cancel(consumer string, _ bool) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	ch.cancelled = append(ch.cancelled, consumer)
	if d, ok := ch.consumers[consumer]; ok {
		delete(ch.consumers, consumer)
		close(d)
	}
	return nil
}

func (ch *fakeChannel) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed {
		close(receiver)
		return receiver
	}
	ch.notify = append(ch.notify, receiver)
	return receiver
}

func (ch *fakeChannel) Close() error {
	ch.shutdown(nil)
	return nil
}

func (ch *fakeChannel) shutdown(reason *amqp.Error) {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return
	}
	ch.closed = true
	notify := ch.notify
	ch.notify = nil
	consumers := ch.consumers
	ch.consumers = make(map[string]chan amqp.Delivery)
	ch.mu.Unlock()

	for _, d := range consumers {
		close(d)
	}
	for _, n := range notify {
		if reason != nil {
			n <- reason
		}
		close(n)
	}
}

// deliver отправляет сообщение первому consumer'у канала.
func (ch *fakeChannel) deliver(tag uint64, body []byte, ack amqp.Acknowledger) bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	for _, d := range ch.consumers {
		d <- amqp.Delivery{
			Acknowledger: ack,
			DeliveryTag:  tag,
			MessageId:    fmt.Sprintf("msg-%d", tag),
			Body:         body,
		}
		return true
	}
	return false
}

func (ch *fakeChannel) consumerCount() int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return len(ch.consumers)
}

func (ch *fakeChannel) publishedMessages() []published {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	out := make([]published, len(ch.published))
	copy(out, ch.published)
	return out
}

// --- fake acknowledger ---

type fakeAck struct {
	mu       sync.Mutex
	acked    []uint64
	nacked   []uint64
	requeued []bool
}

func (a *fakeAck) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked = append(a.acked, tag)
	return nil
}

func (a *fakeAck) Nack(tag uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacked = append(a.nacked, tag)
	a.requeued = append(a.requeued, requeue)
	return nil
}

func (a *fakeAck) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func (a *fakeAck) counts() (acked, nacked int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.acked), len(a.nacked)
}

// --- helpers ---

func newTestSupervisor(t *testing.T, broker *fakeBroker) *Supervisor {
	t.Helper()

	s := NewSupervisor(SupervisorConfig{
		URL:               "amqp://test",
		RetryDelay:        time.Millisecond,
		ReconnectCooldown: time.Millisecond,
		Dialer:            broker.dial,
		Logger:            telemetry.DiscardLogger(),
	})
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestGateway(s *Supervisor) *Gateway {
	return NewGateway(GatewayConfig{
		Supervisor: s,
		Logger:     telemetry.DiscardLogger(),
	})
}
