// Package realtime - слой распространения изменений: серверный брокер
// каналов, межинстансные релеи и клиентская лента с push/poll стратегиями.
package realtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"matchchat/internal/domain"
	"matchchat/pkg/logger"
)

var (
	// ErrSlowConsumer - подписчик не успевал читать и был отключен.
	// Клиент должен переподключиться и сверить состояние полным запросом.
	ErrSlowConsumer = errors.New("realtime: subscriber fell behind")
	ErrBrokerClosed = errors.New("realtime: broker closed")
	// ErrRelayInterrupted - чтение релея прерывалось, часть событий могла
	// пройти мимо. Клиент переподключается и сверяет состояние.
	ErrRelayInterrupted = errors.New("realtime: event relay interrupted")
)

const (
	relayRestartMin = 250 * time.Millisecond
	relayRestartMax = 10 * time.Second
)

// Envelope - событие вместе с каналами назначения; так оно ходит через релей.
type Envelope struct {
	Channels []string     `json:"channels"`
	Event    domain.Event `json:"event"`
}

// Relay доставляет конверты всем инстансам сервиса, включая отправителя.
type Relay interface {
	Publish(ctx context.Context, env Envelope) error
	// Run читает конверты до отмены ctx и передает их в deliver. ready
	// вызывается, когда чтение подтверждено; повторный вызов в том же Run
	// означает переподключение с возможным разрывом.
	Run(ctx context.Context, ready func(), deliver func(Envelope)) error
	Close() error
}

type Subscription struct {
	id      uint64
	channel string
	events  chan domain.Event
	broker  *Broker

	mu     sync.Mutex
	closed bool
	err    error
}

// Events закрывается при завершении подписки; причина - в Err.
func (s *Subscription) Events() <-chan domain.Event { return s.events }

func (s *Subscription) Channel() string { return s.channel }

// Err возвращает nil после Close и ErrSlowConsumer/ErrRelayInterrupted/ErrBrokerClosed при
// принудительном отключении.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close отписывает; повторный вызов безопасен.
func (s *Subscription) Close() {
	s.broker.remove(s, nil)
}

type Broker struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]*Subscription
	nextID uint64
	closed bool
	buffer int
	relay  Relay
	log    logger.Logger

	// relayUp - цикл чтения релея жив; пока он лежит, доставляем локально.
	relayUp    atomic.Bool
	restartMin time.Duration
	restartMax time.Duration
}

// NewBroker создает брокер; relay может быть nil для одного инстанса.
func NewBroker(buffer int, relay Relay, log logger.Logger) *Broker {
	if buffer < 1 {
		buffer = 1
	}
	return &Broker{
		subs:       make(map[string]map[uint64]*Subscription),
		buffer:     buffer,
		relay:      relay,
		log:        log.With("component", "broker"),
		restartMin: relayRestartMin,
		restartMax: relayRestartMax,
	}
}

// Publish реализует service.Publisher. С релеем событие уходит всем
// инстансам. Локальные подписчики получают его напрямую, если релей не
// принял событие или собственный цикл чтения релея сейчас не работает.
func (b *Broker) Publish(ctx context.Context, evt domain.Event, channels ...string) {
	if len(channels) == 0 {
		return
	}
	env := Envelope{Channels: channels, Event: evt}
	if b.relay != nil {
		err := b.relay.Publish(ctx, env)
		if err == nil && b.relayUp.Load() {
			return
		}
		if err != nil {
			b.log.Warn("Relay publish failed, delivering locally", "error", err, "event_id", evt.ID, "kind", evt.Kind)
		}
	}
	b.Deliver(env)
}

// RelayReady сообщает, читает ли инстанс события из релея.
func (b *Broker) RelayReady() bool {
	return b.relayUp.Load()
}

// Run держит цикл чтения релея до отмены ctx, перезапуская его с
// экспоненциальной задержкой. Без релея сразу возвращается.
func (b *Broker) Run(ctx context.Context) {
	if b.relay == nil {
		return
	}
	backoff := b.restartMin
	for {
		err := b.relay.Run(ctx, b.markRelayUp, b.Deliver)
		wasUp := b.relayUp.Swap(false)
		if ctx.Err() != nil || b.isClosed() {
			return
		}
		if wasUp {
			// Опубликованное в релей до падения могло не дойти до наших подписчиков.
			b.dropAll(ErrRelayInterrupted)
			backoff = b.restartMin
		}
		b.log.Error("Relay consumer stopped, delivering locally until restart", "error", err, "retry_in", backoff)
		if !sleepContext(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff, b.restartMax)
	}
}

func (b *Broker) markRelayUp() {
	if b.relayUp.Swap(true) {
		b.log.Warn("Relay reconnected, resetting subscribers")
		b.dropAll(ErrRelayInterrupted)
		return
	}
	b.log.Info("Relay consumer ready")
}

// dropAll отключает всех локальных подписчиков с причиной reason.
func (b *Broker) dropAll(reason error) {
	b.mu.RLock()
	var all []*Subscription
	for _, subs := range b.subs {
		for _, sub := range subs {
			all = append(all, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range all {
		b.remove(sub, reason)
	}
}

func (b *Broker) isClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

func (b *Broker) Subscribe(channel string) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBrokerClosed
	}
	b.nextID++
	sub := &Subscription{
		id:      b.nextID,
		channel: channel,
		events:  make(chan domain.Event, b.buffer),
		broker:  b,
	}
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[uint64]*Subscription)
	}
	b.subs[channel][sub.id] = sub
	b.log.Debug("Subscribed", "channel", channel, "subscription_id", sub.id)
	return sub, nil
}

// Deliver раздает конверт локальным подписчикам без блокировки.
// Переполненные подписки закрываются с ErrSlowConsumer, а не пропускают событие молча.
func (b *Broker) Deliver(env Envelope) {
	var slow []*Subscription
	b.mu.RLock()
	for _, channel := range env.Channels {
		for _, sub := range b.subs[channel] {
			select {
			case sub.events <- env.Event:
			default:
				slow = append(slow, sub)
			}
		}
	}
	b.mu.RUnlock()

	for _, sub := range slow {
		b.log.Warn("Dropping slow subscriber", "channel", sub.channel, "subscription_id", sub.id)
		b.remove(sub, ErrSlowConsumer)
	}
}

func (b *Broker) remove(sub *Subscription, reason error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return
	}
	sub.closed = true
	sub.err = reason
	close(sub.events)

	if subs := b.subs[sub.channel]; subs != nil {
		delete(subs, sub.id)
		if len(subs) == 0 {
			delete(b.subs, sub.channel)
		}
	}
}

// SubscriberCount - число локальных подписчиков канала.
func (b *Broker) SubscriberCount(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[channel])
}

// Close отключает всех подписчиков и закрывает релей.
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.dropAll(ErrBrokerClosed)
	if b.relay != nil {
		return b.relay.Close()
	}
	return nil
}
