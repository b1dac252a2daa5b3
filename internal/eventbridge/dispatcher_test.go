package eventbridge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestDispatchHandlesFinishedEventsPerStage(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	router := NewRouter()
	// Buffered before Dispatch subscribes.
	router.Route(Event{EventID: "1", Stage: "assembleRelease", Type: TypeStageStarted})
	router.Route(Event{EventID: "2", Stage: "assembleRelease", Type: TypeStageFinished})

	var (
		mu  sync.Mutex
		got []string
	)
	handled := make(chan struct{}, 8)
	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		Dispatch(ctx, router, []string{"assembleRelease", "assembleDebug"}, func(_ context.Context, evt Event) {
			mu.Lock()
			got = append(got, evt.Stage+"#"+evt.EventID)
			mu.Unlock()
			handled <- struct{}{}
		})
	}()

	waitHandled(t, handled)
	router.Route(Event{EventID: "3", Stage: "assembleDebug", Type: TypeStageFinished})
	waitHandled(t, handled)
	router.Route(Event{EventID: "4", Stage: "compileKotlin", Type: TypeStageFinished})

	cancel()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("Dispatch did not return after cancellation")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"assembleRelease#2", "assembleDebug#3"}, got)
}

func TestDispatchReturnsImmediatelyWithoutStages(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	Dispatch(ctx, NewRouter(), nil, func(context.Context, Event) {
		t.Fatal("handler must not run")
	})
}

func waitHandled(t *testing.T, handled <-chan struct{}) {
	t.Helper()
	select {
	case <-handled:
	case <-time.After(2 * time.Second):
		require.FailNow(t, "handler was not invoked")
	}
}
