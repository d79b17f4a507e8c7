// Package queue hands a normalized trigger event off to the durable
// delivery path (Pub/Sub, ordered per trigger) so the webhook receiver's
// HTTP response isn't blocked on downstream processing, falling back to
// an in-memory worker pool when Pub/Sub is unavailable.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
)

// Event is the normalized unit of work handed from the receiver to
// whatever consumes trigger events downstream.
type Event struct {
	TriggerEventID int64  `json:"trigger_event_id"`
	TriggerID      string `json:"trigger_id"`
	ProjectID      string `json:"project_id"`
	AppName        string `json:"app_name"`
	EventType      string `json:"event_type"`
	Payload        []byte `json:"payload"`
	ReceivedAt     time.Time `json:"received_at"`
}

// Publisher is the narrow surface the receiver needs.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// PubSubPublisher publishes with message ordering keyed on TriggerID, so
// two deliveries for the same trigger are processed in arrival order
// even though Pub/Sub delivers across a topic without a global order.
type PubSubPublisher struct {
	topic    *pubsub.Topic
	fallback *MemoryPublisher
	logger   *log.Logger
}

func NewPubSubPublisher(ctx context.Context, projectID, topicID string, fallback *MemoryPublisher) (*PubSubPublisher, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}

	topic := client.Topic(topicID)
	ok, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check topic exists: %w", err)
	}
	if !ok {
		topic, err = client.CreateTopic(ctx, topicID)
		if err != nil {
			return nil, fmt.Errorf("create topic: %w", err)
		}
	}
	topic.EnableMessageOrdering = true

	return &PubSubPublisher{
		topic:    topic,
		fallback: fallback,
		logger:   log.New(log.Writer(), "[QUEUE-PUBSUB] ", log.LstdFlags),
	}, nil
}

func (p *PubSubPublisher) Publish(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal queue event: %w", err)
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		OrderingKey: e.TriggerID,
	})

	if _, err := result.Get(ctx); err != nil {
		p.logger.Printf("pubsub publish failed, falling back to memory queue: %v", err)
		if p.fallback != nil {
			return p.fallback.Publish(ctx, e)
		}
		return fmt.Errorf("publish to pubsub: %w", err)
	}
	return nil
}

func (p *PubSubPublisher) Shutdown() {
	p.topic.Stop()
}

// Handler processes one dequeued Event.
type Handler func(ctx context.Context, e Event) error

// MemoryPublisher is an in-process buffered worker pool, used either as
// the Pub/Sub fallback or standalone in development/test.
type MemoryPublisher struct {
	queue   chan Event
	handler Handler
	wg      sync.WaitGroup
	logger  *log.Logger
}

func NewMemoryPublisher(workers int, handler Handler) *MemoryPublisher {
	if workers <= 0 {
		workers = 8
	}
	m := &MemoryPublisher{
		queue:   make(chan Event, 1000),
		handler: handler,
		logger:  log.New(log.Writer(), "[QUEUE-MEMORY] ", log.LstdFlags),
	}
	for i := 0; i < workers; i++ {
		m.wg.Add(1)
		go m.worker(i)
	}
	return m
}

func (m *MemoryPublisher) Publish(ctx context.Context, e Event) error {
	select {
	case m.queue <- e:
		return nil
	default:
		m.logger.Printf("queue full, dropping event trigger_id=%s", e.TriggerID)
		return fmt.Errorf("queue full")
	}
}

func (m *MemoryPublisher) worker(id int) {
	defer m.wg.Done()
	for e := range m.queue {
		if m.handler == nil {
			continue
		}
		if err := m.handler(context.Background(), e); err != nil {
			m.logger.Printf("worker %d: handler error for trigger_id=%s: %v", id, e.TriggerID, err)
		}
	}
}

func (m *MemoryPublisher) Shutdown() {
	close(m.queue)
	m.wg.Wait()
}
