package eventbridge

import (
	"context"
)

// StageHandler is invoked once per stage_finished event.
type StageHandler func(ctx context.Context, evt Event)

// Dispatch subscribes to each stage and calls handle for every finished
// event until ctx is cancelled. Events for one stage are handled in order;
// stage_started events are ignored.
func Dispatch(ctx context.Context, router *Router, stages []string, handle StageHandler) {
	subs := make([]Subscription, 0, len(stages))
	for _, stage := range stages {
		subs = append(subs, router.Subscribe(stage))
	}
	done := make(chan struct{}, len(subs))
	for _, sub := range subs {
		go func(sub Subscription) {
			defer func() { done <- struct{}{} }()
			for {
				select {
				case <-ctx.Done():
					return
				case evt, ok := <-sub.Events:
					if !ok {
						return
					}
					if evt.Finished() {
						handle(ctx, evt)
					}
				}
			}
		}(sub)
	}
	<-ctx.Done()
	for _, sub := range subs {
		sub.Close()
	}
	for range subs {
		<-done
	}
}
