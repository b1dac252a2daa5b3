package eventbridge

import (
	"strings"
	"sync"
	"sync/atomic"
)

const (
	defaultSubscriberCapacity = 100
	defaultBacklogLimit       = 50
	defaultDedupeWindow       = 1024
)

// RouterOption customizes Router construction.
type RouterOption func(*Router)

// RouterStats counts what happened to routed events.
type RouterStats struct {
	Delivered  int64
	Buffered   int64
	Dropped    int64
	Duplicates int64
}

// Router fans stage events out to per-stage subscribers. Events for a stage
// nobody listens to yet are held in a bounded backlog and replayed to the
// first subscriber. Event IDs seen recently are delivered only once.
type Router struct {
	mu           sync.RWMutex
	subscribers  map[string]map[*subscriber]struct{}
	backlog      map[string][]Event
	seen         map[string]struct{}
	seenOrder    []string
	channelSize  int
	backlogLimit int
	dedupeWindow int
	logger       Logger
	stats        routerCounters
}

type routerCounters struct {
	delivered, buffered, dropped, duplicates atomic.Int64
}

// Subscription is an active stage subscription.
type Subscription struct {
	Events <-chan Event
	cancel func()
}

// Close terminates the subscription and closes Events.
func (s Subscription) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// NewRouter constructs a router with default capacities.
func NewRouter(opts ...RouterOption) *Router {
	r := &Router{
		subscribers:  map[string]map[*subscriber]struct{}{},
		backlog:      map[string][]Event{},
		seen:         map[string]struct{}{},
		channelSize:  defaultSubscriberCapacity,
		backlogLimit: defaultBacklogLimit,
		dedupeWindow: defaultDedupeWindow,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	r.seenOrder = make([]string, 0, r.dedupeWindow)
	return r
}

// RouterWithLogger injects a logger for drop messages.
func RouterWithLogger(logger Logger) RouterOption {
	return func(r *Router) {
		r.logger = logger
	}
}

// RouterWithSubscriberCapacity overrides the buffered channel size per subscriber.
func RouterWithSubscriberCapacity(n int) RouterOption {
	return func(r *Router) {
		if n > 0 {
			r.channelSize = n
		}
	}
}

// RouterWithBacklogLimit overrides how many events are held per unsubscribed stage.
func RouterWithBacklogLimit(limit int) RouterOption {
	return func(r *Router) {
		if limit > 0 {
			r.backlogLimit = limit
		}
	}
}

// RouterWithDedupeWindow controls how many recent event IDs are remembered.
func RouterWithDedupeWindow(size int) RouterOption {
	return func(r *Router) {
		if size > 0 {
			r.dedupeWindow = size
		}
	}
}

// Subscribe registers for events of one stage (case-insensitive). Any
// backlog for the stage is replayed into the new subscription.
func (r *Router) Subscribe(stageName string) Subscription {
	stage := normalizeStage(stageName)
	sub := &subscriber{ch: make(chan Event, r.channelSize), stage: stage, router: r}

	r.mu.Lock()
	if r.subscribers[stage] == nil {
		r.subscribers[stage] = map[*subscriber]struct{}{}
	}
	r.subscribers[stage][sub] = struct{}{}
	replay := r.backlog[stage]
	delete(r.backlog, stage)
	r.mu.Unlock()

	for _, event := range replay {
		sub.deliver(event)
	}
	return Subscription{
		Events: sub.ch,
		cancel: func() { r.unsubscribe(stage, sub) },
	}
}

// HandleEvent satisfies EventProcessor.
func (r *Router) HandleEvent(event Event) error {
	r.Route(event)
	return nil
}

// Route delivers the event to the stage's subscribers, or buffers it when
// there are none. Events without a stage are ignored.
func (r *Router) Route(event Event) {
	stage := normalizeStage(event.Stage)
	if stage == "" {
		return
	}
	if event.EventID != "" && !r.remember(event.EventID) {
		r.stats.duplicates.Add(1)
		return
	}
	r.mu.Lock()
	live := r.subscribers[stage]
	if len(live) == 0 {
		r.bufferLocked(stage, event)
		r.mu.Unlock()
		return
	}
	targets := make([]*subscriber, 0, len(live))
	for sub := range live {
		targets = append(targets, sub)
	}
	r.mu.Unlock()
	for _, sub := range targets {
		sub.deliver(event)
	}
}

// Stats returns a snapshot of the router counters.
func (r *Router) Stats() RouterStats {
	return RouterStats{
		Delivered:  r.stats.delivered.Load(),
		Buffered:   r.stats.buffered.Load(),
		Dropped:    r.stats.dropped.Load(),
		Duplicates: r.stats.duplicates.Load(),
	}
}

// Pending returns how many events are buffered for a stage with no subscriber.
func (r *Router) Pending(stageName string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.backlog[normalizeStage(stageName)])
}

func (r *Router) unsubscribe(stage string, sub *subscriber) {
	r.mu.Lock()
	if subs := r.subscribers[stage]; subs != nil {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(r.subscribers, stage)
		}
	}
	r.mu.Unlock()
	sub.close()
}

func (r *Router) bufferLocked(stage string, event Event) {
	queue := r.backlog[stage]
	if len(queue) >= r.backlogLimit {
		r.dropped(queue[0], "backlog full")
		queue = queue[1:]
	}
	r.backlog[stage] = append(queue, event)
	r.stats.buffered.Add(1)
}

// remember records id and reports whether it was new.
func (r *Router) remember(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.seen[id]; ok {
		return false
	}
	r.seen[id] = struct{}{}
	r.seenOrder = append(r.seenOrder, id)
	if len(r.seenOrder) > r.dedupeWindow {
		delete(r.seen, r.seenOrder[0])
		r.seenOrder = r.seenOrder[1:]
	}
	return true
}

func (r *Router) dropped(event Event, reason string) {
	r.stats.dropped.Add(1)
	if r.logger != nil {
		r.logger.Printf("eventbridge: dropped %s for %s (%s)", event.Type, event.Stage, reason)
	}
}

func normalizeStage(stage string) string {
	return strings.ToLower(strings.TrimSpace(stage))
}

type subscriber struct {
	ch     chan Event
	stage  string
	router *Router

	mu     sync.Mutex
	closed bool
}

// deliver never blocks. When the channel is full the less important of the
// oldest queued event and the incoming one is dropped; the survivors keep
// their arrival order.
func (s *subscriber) deliver(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- event:
		s.router.stats.delivered.Add(1)
		return
	default:
	}
	// Only deliver sends, and it holds s.mu, so everything drained here fits
	// back into the channel.
	queued := s.drain()
	switch {
	case len(queued) == 0:
	case outranks(event, queued[0]):
		s.router.dropped(queued[0], "queue overflow")
		queued = queued[1:]
	default:
		s.router.dropped(event, "queue overflow: incoming")
		s.refill(queued)
		return
	}
	s.refill(append(queued, event))
	s.router.stats.delivered.Add(1)
}

func (s *subscriber) drain() []Event {
	queued := make([]Event, 0, cap(s.ch))
	for {
		select {
		case e := <-s.ch:
			queued = append(queued, e)
		default:
			return queued
		}
	}
}

func (s *subscriber) refill(events []Event) {
	for _, e := range events {
		s.ch <- e
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// outranks reports whether incoming should replace oldest in a full queue.
// Finished events outrank started ones; otherwise the newer event wins.
func outranks(incoming, oldest Event) bool {
	return priority(incoming) >= priority(oldest)
}

func priority(e Event) int {
	switch strings.ToLower(strings.TrimSpace(e.Type)) {
	case TypeStageFinished:
		return 2
	case TypeStageStarted:
		return 0
	default:
		return 1
	}
}
