package multiagent

import (
	"context"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/carabistouflette/hive/observability"
)

// DefaultBusCapacity is the suggested bound for both the downstream
// broadcast channel and the upstream BusRequest queue.
const DefaultBusCapacity = 100

// dedupEstimatedItems and dedupFalsePositiveRate size the upstream dedup
// filter: a reconnecting worker resubmits only its most recent handful of
// in-flight responses, so the filter is sized for steady churn rather than
// the lifetime count of every response the engine will ever see.
const (
	dedupEstimatedItems    = 100000
	dedupFalsePositiveRate = 0.001
)

// busRequestID returns the identifier SubmitUpstream dedups on, or "" for a
// request with nothing to key on (skips the filter).
func busRequestID(req BusRequest) string {
	switch req.Kind {
	case BusRequestAgentResponse:
		if req.AgentResponse != nil {
			return req.AgentResponse.ID
		}
	case BusRequestGeneralMessage:
		return req.Message.ID
	}
	return ""
}

// BusRequestKind discriminates the two upstream BusRequest variants.
type BusRequestKind string

const (
	BusRequestGeneralMessage BusRequestKind = "GeneralMessage"
	BusRequestAgentResponse  BusRequestKind = "AgentResponse"
)

// BusRequest is an upstream submission from a worker to the orchestrator.
type BusRequest struct {
	Kind          BusRequestKind
	Message       Message        // set when Kind == BusRequestGeneralMessage
	AgentResponse *AgentResponse // set when Kind == BusRequestAgentResponse
}

// subscriber is one downstream broadcast receiver. ch is buffered to
// DefaultBusCapacity; a subscriber that falls behind has messages dropped
// for it rather than blocking the publisher.
type subscriber struct {
	ch     chan Message
	lagged uint64
}

// CommunicationBus is the passive transport: a broadcast
// fan-out for downstream messages and a single bounded queue for upstream
// BusRequests. It does not interpret content; routing lives in the
// orchestrator router.
type CommunicationBus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber

	upstream chan BusRequest

	dedupMu     sync.Mutex
	dedupFilter *bloom.BloomFilter

	logger  observability.Logger
	metrics *busMetrics
}

type busMetrics struct {
	mu            sync.Mutex
	published     int64
	delivered     int64
	lagEvents     int64
	upstreamSent  int64
	upstreamDedup int64
}

// NewCommunicationBus creates a bus with the default capacities.
func NewCommunicationBus(logger observability.Logger) *CommunicationBus {
	if logger == nil {
		logger = observability.NewNoOpLogger()
	}
	return &CommunicationBus{
		subscribers: make(map[string]*subscriber),
		upstream:    make(chan BusRequest, DefaultBusCapacity),
		dedupFilter: bloom.NewWithEstimates(dedupEstimatedItems, dedupFalsePositiveRate),
		logger:      logger,
		metrics:     &busMetrics{},
	}
}

// Subscribe registers a new downstream receiver and returns its id (used to
// Unsubscribe later) plus the channel to read broadcast Messages from.
func (b *CommunicationBus) Subscribe() (string, <-chan Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := newID()
	sub := &subscriber{ch: make(chan Message, DefaultBusCapacity)}
	b.subscribers[id] = sub
	return id, sub.ch
}

// Unsubscribe removes a downstream receiver and closes its channel.
func (b *CommunicationBus) Unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subscribers[subID]; ok {
		close(sub.ch)
		delete(b.subscribers, subID)
	}
}

// Publish fans a message out to every current subscriber. A subscriber
// whose channel is full observes a dropped message (counted as lag) instead
// of blocking the publisher — broadcast is best-effort.
func (b *CommunicationBus) Publish(msg Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	b.metrics.mu.Lock()
	b.metrics.published++
	b.metrics.mu.Unlock()

	for id, sub := range b.subscribers {
		select {
		case sub.ch <- msg:
			b.metrics.mu.Lock()
			b.metrics.delivered++
			b.metrics.mu.Unlock()
		default:
			sub.lagged++
			b.metrics.mu.Lock()
			b.metrics.lagEvents++
			b.metrics.mu.Unlock()
			b.logger.Warn("subscriber lagged, message dropped",
				observability.String("subscriber_id", id),
				observability.Int64("lagged_total", int64(sub.lagged)),
			)
		}
	}
}

// SubmitUpstream enqueues a BusRequest from a worker, blocking (cooperative
// backpressure) until the queue has capacity or ctx is done. A request whose
// id was already seen (a worker resubmitting after a reconnect) is dropped
// silently rather than routed a second time.
func (b *CommunicationBus) SubmitUpstream(ctx context.Context, req BusRequest) error {
	if id := busRequestID(req); id != "" {
		b.dedupMu.Lock()
		seen := b.dedupFilter.TestAndAdd([]byte(id))
		b.dedupMu.Unlock()
		if seen {
			b.metrics.mu.Lock()
			b.metrics.upstreamDedup++
			b.metrics.mu.Unlock()
			b.logger.Debug("dropped duplicate upstream request", observability.String("request_id", id))
			return nil
		}
	}
	select {
	case b.upstream <- req:
		b.metrics.mu.Lock()
		b.metrics.upstreamSent++
		b.metrics.mu.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Upstream exposes the receive side of the upstream queue for the
// orchestrator's single consumer.
func (b *CommunicationBus) Upstream() <-chan BusRequest {
	return b.upstream
}

// BusStats is a point-in-time snapshot of bus activity, consumed by health
// checks and metrics export.
type BusStats struct {
	Subscribers   int
	Published     int64
	Delivered     int64
	LagEvents     int64
	UpstreamSent  int64
	UpstreamDedup int64
	UpstreamLen   int
}

func (b *CommunicationBus) Stats() BusStats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	b.metrics.mu.Lock()
	defer b.metrics.mu.Unlock()
	return BusStats{
		Subscribers:   len(b.subscribers),
		Published:     b.metrics.published,
		Delivered:     b.metrics.delivered,
		LagEvents:     b.metrics.lagEvents,
		UpstreamSent:  b.metrics.upstreamSent,
		UpstreamDedup: b.metrics.upstreamDedup,
		UpstreamLen:   len(b.upstream),
	}
}

// publishDirected is a convenience for components that need to address a
// single receiver (the router's re-routing of RequestInformation,
// ReturnInformation, and DelegatedTaskCompletedNotification).
func (b *CommunicationBus) publishDirected(senderID, receiverID string, content MessageContent) {
	b.Publish(newMessage(senderID, receiverID, content))
}
