// Package notifier watches upcoming events and pushes lead-time reminders
// to each subscriber's registered browsers.
package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dayframe/calsync/models"
)

const (
	// DefaultInterval is the scan cadence. It is deliberately finer than
	// the sync cadence; the two loops never share a clock.
	DefaultInterval = time.Minute

	// windowHalf is half the matching window. The window is one scan
	// interval wide and centered on the exact lead time, so an event
	// falling between ticks is neither missed nor fired twice.
	windowHalf = 30 * time.Second

	// renotifyGuard suppresses a second reminder for the same event when
	// one already went out within this span before its start.
	renotifyGuard = time.Hour
)

// Scheduler matches upcoming events against subscriber alarm settings and
// dispatches push messages. It is process-wide state with an explicit
// lifecycle; Start on a running scheduler is a no-op.
type Scheduler struct {
	subscriptions models.PushSubscriptionRepository
	events        models.EventRepository
	logs          models.NotificationLogRepository
	sender        Sender
	interval      time.Duration
	logger        *zap.Logger
	now           func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// SchedulerOption configures optional Scheduler behavior.
type SchedulerOption func(*Scheduler)

// WithInterval overrides the scan cadence.
func WithInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.interval = d }
}

// WithLogger attaches a logger. Without it the scheduler stays silent.
func WithLogger(l *zap.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = l }
}

// WithClock replaces the time source, which window tests rely on.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// NewScheduler builds a notification scheduler.
func NewScheduler(
	subscriptions models.PushSubscriptionRepository,
	events models.EventRepository,
	logs models.NotificationLogRepository,
	sender Sender,
	opts ...SchedulerOption,
) *Scheduler {
	s := &Scheduler{
		subscriptions: subscriptions,
		events:        events,
		logs:          logs,
		sender:        sender,
		interval:      DefaultInterval,
		logger:        zap.NewNop(),
		now:           time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start launches the scan loop. Calling Start while the loop is running
// does nothing.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	s.cancel = cancel
	s.done = done

	go s.loop(loopCtx, done)

	s.logger.Info("notification scheduler started",
		zap.Duration("interval", s.interval),
	)
}

// Stop halts the loop and waits for an in-flight scan to finish. Stopping a
// scheduler that is not running does nothing.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	<-done

	s.logger.Info("notification scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Scan(ctx); err != nil {
				s.logger.Error("notification scan failed", zap.Error(err))
			}
		}
	}
}

// Scan runs one matching pass over every alarm-enabled subscription. A
// failure for one subscription is logged and does not stop the others.
func (s *Scheduler) Scan(ctx context.Context) error {
	subs, err := s.subscriptions.ListAlarmEnabled(ctx)
	if err != nil {
		return fmt.Errorf("list subscriptions: %w", err)
	}

	now := s.now()

	for i := range subs {
		if err := s.scanSubscription(ctx, &subs[i], now); err != nil {
			s.logger.Warn("subscription scan failed",
				zap.String("user_id", subs[i].UserID),
				zap.Error(err),
			)
		}
	}

	return nil
}

func (s *Scheduler) scanSubscription(ctx context.Context, sub *models.PushSubscription, now time.Time) error {
	minutes := sub.Alarm.MinutesBefore
	if minutes <= 0 {
		minutes = models.DefaultAlarmMinutesBefore
	}

	center := now.Add(time.Duration(minutes) * time.Minute)
	from, to := center.Add(-windowHalf), center.Add(windowHalf)

	events, err := s.events.ListUpcoming(ctx, sub.UserID, from, to)
	if err != nil {
		return fmt.Errorf("list upcoming events: %w", err)
	}

	for i := range events {
		event := &events[i]

		if alreadyNotified(event) {
			continue
		}

		s.deliver(ctx, sub, event, minutes, now)
	}

	return nil
}

// alreadyNotified reports whether a reminder for this event went out
// recently enough that another would be a duplicate. Windows from adjacent
// ticks and from multiple subscriptions overlap; exactly-once delivery is
// not assumed, so this guard does the deduplication.
func alreadyNotified(event *models.Event) bool {
	if event.LastNotificationSent == nil {
		return false
	}

	return event.StartDate.Sub(*event.LastNotificationSent) < renotifyGuard
}

type pushPayload struct {
	Title  string `json:"title"`
	Body   string `json:"body"`
	Tag    string `json:"tag,omitempty"`
	Silent bool   `json:"silent"`
}

func (s *Scheduler) deliver(ctx context.Context, sub *models.PushSubscription, event *models.Event, minutes int, now time.Time) {
	body := fmt.Sprintf("Starts in %s", leadPhrase(minutes))
	if event.Location != "" {
		body += " at " + event.Location
	}

	payload, err := json.Marshal(pushPayload{
		Title:  event.Title,
		Body:   body,
		Tag:    event.ID,
		Silent: !sub.Alarm.SoundEnabled,
	})
	if err != nil {
		s.logger.Error("marshal payload", zap.Error(err))
		return
	}

	sendErr := s.sender.Send(ctx, sub, payload)

	entry := &models.NotificationLog{
		UserID:    sub.UserID,
		EventID:   event.ID,
		Endpoint:  sub.Endpoint,
		Payload:   string(payload),
		Success:   sendErr == nil,
		CreatedAt: now,
	}

	switch {
	case sendErr == nil:
		if err := s.events.MarkNotified(ctx, event.ID, now); err != nil {
			s.logger.Error("mark notified",
				zap.String("event_id", event.ID),
				zap.Error(err),
			)
		}

		s.logger.Debug("notification sent",
			zap.String("user_id", sub.UserID),
			zap.String("event_id", event.ID),
		)
	case errors.Is(sendErr, ErrEndpointGone):
		entry.Error = sendErr.Error()

		if err := s.subscriptions.Delete(ctx, sub.UserID, sub.Endpoint); err != nil {
			s.logger.Error("prune dead subscription",
				zap.String("user_id", sub.UserID),
				zap.Error(err),
			)
		} else {
			s.logger.Info("pruned dead subscription",
				zap.String("user_id", sub.UserID),
				zap.String("endpoint", sub.Endpoint),
			)
		}
	default:
		// Transient failure: the subscription stays, but this reminder is
		// not redelivered. A late "starts in N minutes" would mislead.
		entry.Error = sendErr.Error()

		s.logger.Warn("notification delivery failed",
			zap.String("user_id", sub.UserID),
			zap.String("event_id", event.ID),
			zap.Error(sendErr),
		)
	}

	if err := s.logs.Append(ctx, entry); err != nil {
		s.logger.Error("append notification log", zap.Error(err))
	}
}

// SendTest pushes a fixed payload to the given subscription, bypassing the
// scheduling loop and touching no persisted state. The subscription does
// not need to be stored yet; clients use this to verify a registration.
func (s *Scheduler) SendTest(ctx context.Context, sub *models.PushSubscription) error {
	payload, err := json.Marshal(pushPayload{
		Title:  "Test notification",
		Body:   "Push notifications are working.",
		Silent: !sub.Alarm.SoundEnabled,
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	return s.sender.Send(ctx, sub, payload)
}

// leadPhrase renders a lead time the way a human says it.
func leadPhrase(minutes int) string {
	switch {
	case minutes >= 60 && minutes%60 == 0:
		hours := minutes / 60
		if hours == 1 {
			return "1 hour"
		}

		return fmt.Sprintf("%d hours", hours)
	case minutes == 1:
		return "1 minute"
	default:
		return fmt.Sprintf("%d minutes", minutes)
	}
}
