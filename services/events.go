package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"consenthub/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// EventType names a DSAR domain event
type EventType string

const (
	EventDSARCreated       EventType = "dsar.created"
	EventDSARStatusChanged EventType = "dsar.status_changed"
	EventDSARAssigned      EventType = "dsar.assigned"
	EventDSARVerified      EventType = "dsar.verified"
	EventDSARResponseReady EventType = "dsar.response_ready"
	EventDSAROverdue       EventType = "dsar.overdue"
	EventDSARDeleted       EventType = "dsar.deleted"
)

// DefaultEventChannel is the Redis channel events are fanned out on
const DefaultEventChannel = "dsar.events"

// Event is emitted after a DSAR write has been committed
type Event struct {
	Seq            uint64                 `json:"seq"`
	ID             string                 `json:"id"`
	Type           EventType              `json:"type"`
	RequestID      string                 `json:"requestId"`
	RequestType    models.DSARRequestType `json:"requestType,omitempty"`
	RequesterEmail string                 `json:"requesterEmail,omitempty"`
	RequesterName  string                 `json:"requesterName,omitempty"`
	AssigneeEmail  string                 `json:"assigneeEmail,omitempty"`
	FromStatus     models.DSARStatus      `json:"fromStatus,omitempty"`
	ToStatus       models.DSARStatus      `json:"toStatus,omitempty"`
	DueDate        time.Time              `json:"dueDate"`
	Actor          string                 `json:"actor,omitempty"`
	OccurredAt     time.Time              `json:"occurredAt"`
	Origin         string                 `json:"origin,omitempty"`
}

// NewEvent builds an event describing r
func NewEvent(t EventType, r *models.DSARRequest, from, to models.DSARStatus, actor string, at time.Time) Event {
	e := Event{
		Type:           t,
		RequestID:      r.RequestID,
		RequestType:    r.RequestType,
		RequesterEmail: r.RequesterEmail,
		RequesterName:  r.RequesterName,
		FromStatus:     from,
		ToStatus:       to,
		DueDate:        r.DueDate,
		Actor:          actor,
		OccurredAt:     at,
	}
	if r.AssignedTo != nil {
		e.AssigneeEmail = r.AssignedTo.Email
	}
	return e
}

// EventHandler consumes published events
type EventHandler func(ctx context.Context, e Event)

// EventBus decouples the DSAR workflow from its consumers
type EventBus interface {
	Publish(ctx context.Context, e Event) error
	Subscribe(h EventHandler)
	// Since returns retained events with Seq > seq, oldest first
	Since(seq uint64, limit int) []Event
}

// MemoryBus keeps the most recent events in a bounded ring buffer and fans
// them out synchronously to subscribers
type MemoryBus struct {
	mu       sync.RWMutex
	buf      []Event
	next     int
	size     int
	seq      uint64
	handlers []EventHandler
}

// DefaultEventBufferSize bounds the in-process event history
const DefaultEventBufferSize = 512

func NewMemoryBus(capacity int) *MemoryBus {
	if capacity <= 0 {
		capacity = DefaultEventBufferSize
	}
	return &MemoryBus{buf: make([]Event, capacity)}
}

func (b *MemoryBus) Subscribe(h EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

func (b *MemoryBus) Publish(ctx context.Context, e Event) error {
	stored := b.record(e)

	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.handlers...)
	b.mu.RUnlock()

	for _, h := range handlers {
		dispatch(ctx, h, stored)
	}
	return nil
}

// record stores e in the ring buffer without notifying subscribers
func (b *MemoryBus) record(e Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	e.Seq = b.seq
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}

	b.buf[b.next] = e
	b.next = (b.next + 1) % len(b.buf)
	if b.size < len(b.buf) {
		b.size++
	}
	return e
}

func (b *MemoryBus) Since(seq uint64, limit int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if limit <= 0 || limit > len(b.buf) {
		limit = len(b.buf)
	}

	events := make([]Event, 0)
	start := (b.next - b.size + len(b.buf)) % len(b.buf)
	for i := 0; i < b.size && len(events) < limit; i++ {
		e := b.buf[(start+i)%len(b.buf)]
		if e.Seq > seq {
			events = append(events, e)
		}
	}
	return events
}

// LastSeq returns the sequence number of the newest event
func (b *MemoryBus) LastSeq() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.seq
}

// dispatch isolates subscribers from each other
func dispatch(ctx context.Context, h EventHandler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			zap.S().Errorw("event handler panicked", "event", e.Type, "request_id", e.RequestID, "panic", r)
		}
	}()
	h(ctx, e)
}

// RedisBus publishes events to a Redis channel so every instance can serve them
// from its polling endpoint. Subscribers only run on the publishing instance;
// events received from other instances are recorded for polling.
type RedisBus struct {
	local   *MemoryBus
	client  *redis.Client
	channel string
	origin  string
}

func NewRedisBus(client *redis.Client, local *MemoryBus, channel string) *RedisBus {
	if channel == "" {
		channel = DefaultEventChannel
	}
	if local == nil {
		local = NewMemoryBus(DefaultEventBufferSize)
	}
	return &RedisBus{
		local:   local,
		client:  client,
		channel: channel,
		origin:  uuid.New().String()[:8],
	}
}

// NewRedisClient parses a redis:// URL and verifies the connection
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

func (b *RedisBus) Subscribe(h EventHandler) {
	b.local.Subscribe(h)
}

func (b *RedisBus) Since(seq uint64, limit int) []Event {
	return b.local.Since(seq, limit)
}

func (b *RedisBus) Publish(ctx context.Context, e Event) error {
	e.Origin = b.origin
	if err := b.local.Publish(ctx, e); err != nil {
		return err
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish event to redis: %w", err)
	}
	return nil
}

// Listen consumes the channel until ctx is cancelled
func (b *RedisBus) Listen(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.handleMessage(msg.Payload)
		}
	}
}

// handleMessage records events published by other instances
func (b *RedisBus) handleMessage(payload string) bool {
	var e Event
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		zap.S().Warnw("dropping malformed event", "channel", b.channel, "error", err)
		return false
	}
	if e.Origin == b.origin {
		return false
	}
	b.local.record(e)
	return true
}
