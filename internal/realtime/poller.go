package realtime

import (
	"context"
	"sync"
	"time"
)

const minPollTimeout = time.Second

// PollHandle управляет циклом опроса, запущенным StartPolling.
type PollHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// StartPolling сразу делает полный запрос цели, затем повторяет его каждые
// interval до Stop или отмены ctx. onRefresh вызывается из одной горутины,
// ошибки запроса передаются туда же.
func StartPolling(ctx context.Context, target Target, interval time.Duration, fetcher Fetcher, onRefresh func(Snapshot, error)) *PollHandle {
	ctx, cancel := context.WithCancel(ctx)
	h := &PollHandle{cancel: cancel, done: make(chan struct{})}

	timeout := max(interval, minPollTimeout)
	poll := func() {
		fetchCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		snap, err := fetch(fetchCtx, fetcher, target)
		if ctx.Err() != nil {
			return
		}
		onRefresh(snap, err)
	}

	go func() {
		defer close(h.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		poll()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				poll()
			}
		}
	}()
	return h
}

// Stop останавливает опрос и ждет завершения горутины. Повторный вызов безопасен.
func (h *PollHandle) Stop() {
	h.once.Do(h.cancel)
	<-h.done
}

func (h *PollHandle) Done() <-chan struct{} { return h.done }
