// Package events carries workflow events between components in process.
package events

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Topic names an event type.
type Topic string

const (
	// StartAnalysis is emitted after an enrichment is approved.
	StartAnalysis Topic = "start_analysis"
	// AnalysisSent is emitted after a report is delivered.
	AnalysisSent Topic = "analysis_sent"
)

// Event is a published message.
type Event struct {
	Topic        Topic
	SubmissionID string
	EntityID     string
}

// Handler consumes an event. Errors are logged, never returned to the
// publisher.
type Handler func(ctx context.Context, ev Event) error

// Bus is a synchronous in-process pub/sub. Handlers run in subscription
// order on the publisher's goroutine; long work belongs on a job runner.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Topic][]Handler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[Topic][]Handler)}
}

// Subscribe registers h for topic.
func (b *Bus) Subscribe(topic Topic, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], h)
}

// Publish delivers ev to every handler of its topic.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	b.mu.RLock()
	hs := append([]Handler(nil), b.handlers[ev.Topic]...)
	b.mu.RUnlock()

	for _, h := range hs {
		if err := h(ctx, ev); err != nil {
			zap.L().Error("events: handler failed",
				zap.String("topic", string(ev.Topic)),
				zap.String("submission_id", ev.SubmissionID),
				zap.Error(err),
			)
		}
	}
}
