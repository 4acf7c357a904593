package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"matchchat/internal/domain"
	"matchchat/pkg/logger"
)

type Strategy string

const (
	StrategyPush Strategy = "push"
	StrategyPoll Strategy = "poll"
)

func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyPush, StrategyPoll:
		return Strategy(s), nil
	default:
		return "", fmt.Errorf("unknown feed strategy %q", s)
	}
}

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	default:
		return "disconnected"
	}
}

const (
	DefaultPollInterval = 2 * time.Second
	defaultReconnectMin = 250 * time.Millisecond
	defaultReconnectMax = 10 * time.Second
)

type FeedOptions struct {
	Strategy     Strategy
	PollInterval time.Duration
	ReconnectMin time.Duration
	ReconnectMax time.Duration

	OnUpdate func(Snapshot)
	OnState  func(State)
	OnError  func(error)
}

// Feed держит актуальное состояние цели. В режиме push при разрыве потока
// переходит на опрос, переподключается с экспоненциальной задержкой и после
// каждой подписки сверяется полным запросом.
type Feed struct {
	target  Target
	fetcher Fetcher
	source  Source
	opts    FeedOptions
	log     logger.Logger

	mu            sync.Mutex
	messages      *MessageSet
	conversations []domain.ConversationView
	loaded        bool
	state         State
	fallback      *PollHandle
	cancel        context.CancelFunc
	started       bool
	stopped       bool

	// emitMu сериализует OnUpdate между циклом подписки и опросом.
	emitMu sync.Mutex
	wg     sync.WaitGroup
	stop   sync.Once
}

// NewFeed создает ленту; source нужен только для StrategyPush.
func NewFeed(target Target, fetcher Fetcher, source Source, opts FeedOptions, log logger.Logger) (*Feed, error) {
	if opts.Strategy == "" {
		opts.Strategy = StrategyPush
	}
	if _, err := ParseStrategy(string(opts.Strategy)); err != nil {
		return nil, err
	}
	if fetcher == nil {
		return nil, fmt.Errorf("feed requires a fetcher")
	}
	if opts.Strategy == StrategyPush && source == nil {
		return nil, fmt.Errorf("push feed requires a source")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.ReconnectMin <= 0 {
		opts.ReconnectMin = defaultReconnectMin
	}
	if opts.ReconnectMax < opts.ReconnectMin {
		opts.ReconnectMax = max(defaultReconnectMax, opts.ReconnectMin)
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Feed{
		target:   target,
		fetcher:  fetcher,
		source:   source,
		opts:     opts,
		log:      log.With("component", "feed", "target", target.String(), "strategy", string(opts.Strategy)),
		messages: NewMessageSet(),
	}, nil
}

func (f *Feed) Start(ctx context.Context) {
	f.mu.Lock()
	if f.started || f.stopped {
		f.mu.Unlock()
		return
	}
	f.started = true
	ctx, f.cancel = context.WithCancel(ctx)
	f.mu.Unlock()

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		if f.opts.Strategy == StrategyPoll {
			f.runPoll(ctx)
			return
		}
		f.runPush(ctx)
	}()
}

// Stop останавливает ленту и ждет все ее горутины. Повторный вызов безопасен.
func (f *Feed) Stop() {
	f.stop.Do(func() {
		f.mu.Lock()
		f.stopped = true
		cancel := f.cancel
		f.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		f.wg.Wait()
		f.stopFallback()
		f.setState(StateDisconnected)
	})
}

func (f *Feed) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *Feed) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshotLocked()
}

func (f *Feed) snapshotLocked() Snapshot {
	snap := Snapshot{Target: f.target}
	if f.target.Kind == TargetConversation {
		snap.Messages = f.messages.Messages()
		return snap
	}
	snap.Conversations = append([]domain.ConversationView(nil), f.conversations...)
	return snap
}

func (f *Feed) runPoll(ctx context.Context) {
	f.setState(StateConnecting)
	h := StartPolling(ctx, f.target, f.opts.PollInterval, f.fetcher, func(snap Snapshot, err error) {
		if err != nil {
			f.reportError(err)
			f.setState(StateConnecting)
			return
		}
		f.reconcile(snap)
		f.setState(StateSubscribed)
	})
	<-ctx.Done()
	h.Stop()
}

func (f *Feed) runPush(ctx context.Context) {
	backoff := f.opts.ReconnectMin
	for {
		f.setState(StateConnecting)
		stream, err := f.source.Subscribe(ctx, f.target)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			f.reportError(fmt.Errorf("subscribe %s: %w", f.target, err))
			f.startFallback(ctx)
			if !sleepContext(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, f.opts.ReconnectMax)
			continue
		}

		f.setState(StateSubscribed)
		f.stopFallback()
		backoff = f.opts.ReconnectMin
		// Подписка открыта до запроса, поэтому изменения за время разрыва
		// придут либо в ответе, либо событием; дубли отсекает слияние по ID.
		f.refresh(ctx)

		err = f.consume(ctx, stream)
		stream.Close()
		if ctx.Err() != nil {
			return
		}
		f.setState(StateDisconnected)
		f.reportError(err)
		f.startFallback(ctx)
		if !sleepContext(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff, f.opts.ReconnectMax)
	}
}

func (f *Feed) consume(ctx context.Context, stream Stream) error {
	events := stream.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				if err := stream.Err(); err != nil {
					return err
				}
				return ErrStreamClosed
			}
			f.apply(ctx, evt)
		}
	}
}

// apply: журнал матча сливается по событию, список матчей перезапрашивается целиком.
func (f *Feed) apply(ctx context.Context, evt domain.Event) {
	if f.target.Kind == TargetUser {
		f.refresh(ctx)
		return
	}
	if !evt.Kind.IsMessage() || evt.Message == nil || evt.Message.ConversationID != f.target.ConversationID {
		return
	}

	f.emitMu.Lock()
	defer f.emitMu.Unlock()
	f.mu.Lock()
	changed := f.messages.Apply(evt)
	snap := f.snapshotLocked()
	f.mu.Unlock()
	if changed {
		f.emit(snap)
	}
}

func (f *Feed) refresh(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, max(f.opts.PollInterval, minPollTimeout))
	defer cancel()
	snap, err := fetch(ctx, f.fetcher, f.target)
	if err != nil {
		if ctx.Err() == nil || ctx.Err() == context.DeadlineExceeded {
			f.reportError(fmt.Errorf("refresh %s: %w", f.target, err))
		}
		return
	}
	f.reconcile(snap)
}

func (f *Feed) reconcile(snap Snapshot) {
	f.emitMu.Lock()
	defer f.emitMu.Unlock()

	f.mu.Lock()
	changed := !f.loaded
	f.loaded = true
	if f.target.Kind == TargetConversation {
		if f.messages.Merge(snap.Messages) {
			changed = true
		}
	} else {
		f.conversations = snap.Conversations
		changed = true
	}
	out := f.snapshotLocked()
	f.mu.Unlock()

	if changed {
		f.emit(out)
	}
}

func (f *Feed) emit(snap Snapshot) {
	if f.opts.OnUpdate != nil {
		f.opts.OnUpdate(snap)
	}
}

func (f *Feed) startFallback(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fallback != nil {
		return
	}
	f.log.Info("Push stream lost, polling", "interval", f.opts.PollInterval)
	f.fallback = StartPolling(ctx, f.target, f.opts.PollInterval, f.fetcher, func(snap Snapshot, err error) {
		if err != nil {
			f.reportError(err)
			return
		}
		f.reconcile(snap)
	})
}

func (f *Feed) stopFallback() {
	f.mu.Lock()
	h := f.fallback
	f.fallback = nil
	f.mu.Unlock()
	if h != nil {
		h.Stop()
	}
}

func (f *Feed) setState(state State) {
	f.mu.Lock()
	if f.state == state {
		f.mu.Unlock()
		return
	}
	f.state = state
	f.mu.Unlock()

	f.log.Debug("Feed state changed", "state", state.String())
	if f.opts.OnState != nil {
		f.opts.OnState(state)
	}
}

func (f *Feed) reportError(err error) {
	f.log.Warn("Feed error", "error", err)
	if f.opts.OnError != nil {
		f.opts.OnError(err)
	}
}

func nextBackoff(current, limit time.Duration) time.Duration {
	return min(current*2, limit)
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
