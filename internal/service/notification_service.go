package service

import (
	"context"
	"fmt"
	"html"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/assessment-api/internal/models"
	"github.com/noah-isme/assessment-api/pkg/jobs"
	"github.com/noah-isme/assessment-api/pkg/mailer"
)

const (
	notificationJobType   = "coupon_assigned"
	couponAssignedSubject = "You have been assigned a coupon!"
)

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

// NotificationService delivers coupon emails. Delivery is best-effort: failures are
// logged and counted, never returned to the caller that triggered them.
type NotificationService struct {
	sender  mailer.Sender
	queue   jobDispatcher
	metrics *MetricsService
	logger  *zap.Logger
}

// NewNotificationService builds the service. Without a queue, mail is sent inline.
func NewNotificationService(sender mailer.Sender, metrics *MetricsService, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{sender: sender, metrics: metrics, logger: logger}
}

// UseQueue routes deliveries through an asynchronous dispatcher.
func (s *NotificationService) UseQueue(queue jobDispatcher) {
	s.queue = queue
}

// CouponAssigned notifies every user of the coupon code and returns how many
// deliveries were accepted (queued or sent).
func (s *NotificationService) CouponAssigned(ctx context.Context, code string, users []models.User) int {
	accepted := 0
	for _, user := range users {
		msg := couponAssignedMessage(user.Email, code)
		if s.queue != nil {
			if err := s.queue.Enqueue(jobs.Job{ID: uuid.NewString(), Type: notificationJobType, Payload: msg}); err != nil {
				s.logger.Warn("failed to queue coupon email", zap.String("user_id", user.ID), zap.Error(err))
				s.metrics.RecordNotification("dropped")
				continue
			}
			s.metrics.RecordNotification("queued")
			accepted++
			continue
		}
		if err := s.deliver(ctx, msg); err != nil {
			s.logger.Warn("failed to send coupon email", zap.String("user_id", user.ID), zap.Error(err))
			continue
		}
		accepted++
	}
	return accepted
}

// HandleJob is the queue handler performing a single delivery.
func (s *NotificationService) HandleJob(ctx context.Context, job jobs.Job) error {
	msg, ok := job.Payload.(mailer.Message)
	if !ok {
		s.logger.Error("unexpected notification payload", zap.String("job_id", job.ID), zap.String("type", job.Type))
		return nil
	}
	return s.deliver(ctx, msg)
}

// HandleGiveUp records a delivery that exhausted its retries.
func (s *NotificationService) HandleGiveUp(job jobs.Job, err error) {
	s.metrics.RecordNotification("dropped")
	s.logger.Error("coupon email abandoned", zap.String("job_id", job.ID), zap.Int("attempts", job.Attempt), zap.Error(err))
}

func (s *NotificationService) deliver(ctx context.Context, msg mailer.Message) error {
	if s.sender == nil {
		return fmt.Errorf("no mail sender configured")
	}
	if err := s.sender.Send(ctx, msg); err != nil {
		s.metrics.RecordNotification("failed")
		return err
	}
	s.metrics.RecordNotification("sent")
	return nil
}

func couponAssignedMessage(to, code string) mailer.Message {
	return mailer.Message{
		To:      to,
		Subject: couponAssignedSubject,
		Text:    fmt.Sprintf("Your coupon code is: %s", code),
		HTML:    fmt.Sprintf("<p>Your coupon code is: <b>%s</b></p>", html.EscapeString(code)),
	}
}
