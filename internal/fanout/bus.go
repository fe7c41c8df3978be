// Package fanout routes session-scoped messages to websocket observers.
//
// Delivery is best effort: Publish never blocks, a full dispatch queue drops
// the message, and a subscriber whose buffer is full misses it. Nothing is
// replayed on reconnect.
package fanout

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/proctorwatch/internal/observability"
	"go.uber.org/zap"
)

const (
	defaultQueueSize        = 1024
	defaultSubscriberBuffer = 64
)

type Config struct {
	QueueSize        int
	SubscriberBuffer int
}

// Message is one outbound payload for a room. Type mirrors the payload's
// wire type and is used for metrics.
type Message struct {
	Room    string
	Type    string
	Payload any

	queuedAt time.Time
}

type Bus struct {
	mu        sync.Mutex
	rooms     map[string]map[int]chan Message
	nextSubID int
	subBuffer int

	queue   chan Message
	metrics *observability.Metrics
	logger  *zap.Logger
}

func NewBus(cfg Config, metrics *observability.Metrics, logger *zap.Logger) *Bus {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = defaultSubscriberBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		rooms:     make(map[string]map[int]chan Message),
		subBuffer: cfg.SubscriberBuffer,
		queue:     make(chan Message, cfg.QueueSize),
		metrics:   metrics,
		logger:    logger,
	}
}

// Subscribe joins room. Rooms need no matching session; a subscriber only
// sees messages published after it joined. The returned func leaves the room
// and closes the channel; it is safe to call more than once.
func (b *Bus) Subscribe(room string) (<-chan Message, func()) {
	room = strings.TrimSpace(room)
	if room == "" {
		ch := make(chan Message)
		close(ch)
		return ch, func() {}
	}

	ch := make(chan Message, b.subBuffer)
	b.mu.Lock()
	b.nextSubID++
	id := b.nextSubID
	if _, ok := b.rooms[room]; !ok {
		b.rooms[room] = make(map[int]chan Message)
	}
	b.rooms[room][id] = ch
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.rooms[room]
		if subs == nil {
			return
		}
		if c, ok := subs[id]; ok {
			delete(subs, id)
			close(c)
		}
		if len(subs) == 0 {
			delete(b.rooms, room)
		}
	}
}

// Publish enqueues a message for asynchronous delivery. It reports false when
// the dispatch queue is full and the message was dropped.
func (b *Bus) Publish(room, msgType string, payload any) bool {
	msg := Message{Room: room, Type: msgType, Payload: payload, queuedAt: time.Now()}
	select {
	case b.queue <- msg:
		return true
	default:
		b.metrics.FanoutDrop("queue_full")
		b.logger.Debug("fanout queue full, dropping message",
			zap.String("session_id", room),
			zap.String("type", msgType),
		)
		return false
	}
}

// Run dispatches queued messages until ctx is cancelled.
func (b *Bus) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-b.queue:
			b.deliver(msg)
		}
	}
}

func (b *Bus) deliver(msg Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.rooms[msg.Room] {
		select {
		case ch <- msg:
		default:
			b.metrics.FanoutDrop("slow_subscriber")
			b.logger.Debug("subscriber buffer full, dropping message",
				zap.String("session_id", msg.Room),
				zap.String("type", msg.Type),
			)
		}
	}
	if !msg.queuedAt.IsZero() {
		b.metrics.ObserveStage(observability.StageFanoutDelivery, time.Since(msg.queuedAt))
	}
}

func (b *Bus) Subscribers(room string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.rooms[room])
}
