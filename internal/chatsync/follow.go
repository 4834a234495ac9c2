package chatsync

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/pratsy91/periskope-chat/internal/gateway"
	"github.com/pratsy91/periskope-chat/internal/models"
)

// DefaultResubscribeDelay is the pause before reopening a dropped change
// subscription.
const DefaultResubscribeDelay = 2 * time.Second

// follower keeps a set of change subscriptions open for the lifetime of a
// context and hands every received event to onEvent. After each
// (re)subscription it calls onSubscribed so that changes made while no
// subscription was open are picked up.
type follower struct {
	gw     gateway.Gateway
	delay  time.Duration
	logger *zap.Logger

	onSubscribed func(ctx context.Context)
	onEvent      func(ctx context.Context, ev models.ChangeEvent)
}

func (f *follower) run(ctx context.Context, subs ...models.Subscription) error {
	delay := f.delay
	if delay <= 0 {
		delay = DefaultResubscribeDelay
	}

	for {
		handles, err := f.subscribe(ctx, subs)
		if err == nil {
			f.onSubscribed(ctx)
			f.consume(ctx, handles)
			for _, h := range handles {
				h.Close()
			}
		} else if ctx.Err() == nil {
			f.logger.Warn("Change subscription failed", zap.Error(err))
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Info("Change stream closed, resubscribing", zap.Duration("delay", delay))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (f *follower) subscribe(ctx context.Context, subs []models.Subscription) ([]gateway.Subscription, error) {
	handles := make([]gateway.Subscription, 0, len(subs))
	for _, sub := range subs {
		h, err := f.gw.Subscribe(ctx, sub)
		if err != nil {
			for _, open := range handles {
				open.Close()
			}
			return nil, err
		}
		handles = append(handles, h)
	}
	return handles, nil
}

// consume returns once ctx is done or any of the streams closes.
func (f *follower) consume(ctx context.Context, handles []gateway.Subscription) {
	merged := make(chan models.ChangeEvent)
	closed := make(chan struct{}, len(handles))
	stop := make(chan struct{})
	defer close(stop)

	for _, h := range handles {
		go func(events <-chan models.ChangeEvent) {
			for ev := range events {
				select {
				case merged <- ev:
				case <-stop:
					return
				}
			}
			closed <- struct{}{}
		}(h.Events())
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-closed:
			return
		case ev := <-merged:
			f.onEvent(ctx, ev)
		}
	}
}
