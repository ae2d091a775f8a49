package engine

import (
	"context"
	"fmt"

	"sentinel/core"
	"sentinel/metrics"
	"sentinel/storage"

	"go.uber.org/zap"
)

// Engine turns domain events into notifications. For each event it loads
// the tenant's active rules for the event type, filters them through
// their conditions, renders the message template, and hands the created
// notification to the scheduler. One event may fire any number of rules.
type Engine struct {
	rules         storage.RuleStorageInterface
	notifications storage.NotificationStorageInterface
	renderer      *core.Renderer
	resolver      *Resolver
	scheduler     *Scheduler
	logger        *zap.SugaredLogger
}

// NewEngine creates a rule engine.
func NewEngine(
	rules storage.RuleStorageInterface,
	notifications storage.NotificationStorageInterface,
	renderer *core.Renderer,
	resolver *Resolver,
	scheduler *Scheduler,
	logger *zap.SugaredLogger,
) *Engine {
	return &Engine{
		rules:         rules,
		notifications: notifications,
		renderer:      renderer,
		resolver:      resolver,
		scheduler:     scheduler,
		logger:        logger,
	}
}

// HandleEvent evaluates every active rule for the event and fires the
// ones that match. A failure on one rule does not stop the others; the
// first error is returned after all rules have been tried.
func (e *Engine) HandleEvent(ctx context.Context, event *core.Event) error {
	if err := event.Validate(); err != nil {
		return err
	}
	metrics.EventsReceived.WithLabelValues(event.EventType).Inc()

	rules, err := e.rules.GetActiveRules(event.TenantID, event.EventType)
	if err != nil {
		return fmt.Errorf("failed to load rules for event %s: %w", event.EventType, err)
	}

	var firstErr error
	for i := range rules {
		rule := &rules[i]
		if !rule.MatchesEvent(event) {
			continue
		}
		metrics.RulesMatched.WithLabelValues(event.EventType).Inc()

		if err := e.fireRule(ctx, rule, event); err != nil {
			e.logger.Errorf("Rule %s failed for event %s: %v", rule.Name, event.EventType, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// fireRule renders the rule's template against the event subject,
// resolves recipients, persists the notification and schedules delivery.
func (e *Engine) fireRule(ctx context.Context, rule *core.NotificationRule, event *core.Event) error {
	templateContext := core.TemplateContext(event.Subject)
	title, message := e.renderer.RenderMessage(rule.Template, templateContext)
	if title == "" {
		title = rule.Name
	}

	category := core.CategoryForEventType(event.EventType)
	priority := core.PriorityForSubject(event.Subject)

	recipients, err := e.resolver.ResolveForRule(ctx, event, category)
	if err != nil {
		return fmt.Errorf("failed to resolve recipients: %w", err)
	}
	if len(recipients) == 0 {
		e.logger.Debugf("Rule %s matched but resolved no recipients, skipping", rule.Name)
		return nil
	}

	notification := core.NewNotification(event.TenantID, title, message, category, priority)
	notification.RuleID = rule.ID
	notification.Recipients = recipients
	if relatedID, ok := event.SubjectString("id"); ok {
		notification.RelatedType = category
		notification.RelatedID = relatedID
	}
	if err := notification.Validate(); err != nil {
		return err
	}

	if err := e.notifications.CreateNotification(notification); err != nil {
		return fmt.Errorf("failed to persist notification: %w", err)
	}
	metrics.NotificationsCreated.WithLabelValues(category, priority).Inc()
	e.logger.Infof("Rule %s fired notification %s for event %s", rule.Name, notification.ID, event.EventType)

	return e.scheduler.Schedule(ctx, notification, rule.ChannelIDs)
}

// Notify creates and schedules a manual notification outside the rule
// path, delivering through the given channels.
func (e *Engine) Notify(ctx context.Context, notification *core.Notification, channelIDs []string) error {
	if err := notification.Validate(); err != nil {
		return err
	}
	if len(channelIDs) == 0 {
		return core.ErrNoChannels
	}
	if err := e.notifications.CreateNotification(notification); err != nil {
		return fmt.Errorf("failed to persist notification: %w", err)
	}
	metrics.NotificationsCreated.WithLabelValues(notification.Category, notification.Priority).Inc()
	return e.scheduler.Schedule(ctx, notification, channelIDs)
}
