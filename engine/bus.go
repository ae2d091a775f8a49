package engine

import (
	"context"

	"sentinel/core"

	"go.uber.org/zap"
)

// EventBus decouples event producers from rule evaluation. Publish is
// fire-and-forget: the producer never waits on rule evaluation or
// delivery, matching the platform contract that triggering actions
// return before any notification work happens.
type EventBus struct {
	engine *Engine
	pool   *core.WorkerPool
	logger *zap.SugaredLogger
}

// NewEventBus creates an event bus over the given worker pool.
func NewEventBus(engine *Engine, pool *core.WorkerPool, logger *zap.SugaredLogger) *EventBus {
	return &EventBus{engine: engine, pool: pool, logger: logger}
}

// Publish validates the event and hands it to the rule engine on a
// worker. Only validation and queue-full errors surface to the caller;
// rule and delivery failures are logged and counted, never returned.
func (b *EventBus) Publish(event *core.Event) error {
	if err := event.Validate(); err != nil {
		return err
	}

	task := func() {
		if err := b.engine.HandleEvent(context.Background(), event); err != nil {
			b.logger.Errorf("Event %s handling failed: %v", event.EventType, err)
		}
	}
	if err := b.pool.Submit(task); err != nil {
		b.logger.Errorf("Failed to enqueue event %s: %v", event.EventType, err)
		return err
	}
	return nil
}
