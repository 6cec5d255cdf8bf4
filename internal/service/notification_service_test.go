package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/assessment-api/internal/models"
	"github.com/noah-isme/assessment-api/pkg/jobs"
	"github.com/noah-isme/assessment-api/pkg/mailer"
)

type stubSender struct {
	mu     sync.Mutex
	sent   []mailer.Message
	failOn string
}

func (s *stubSender) Send(ctx context.Context, msg mailer.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.To == s.failOn {
		return errors.New("smtp unavailable")
	}
	s.sent = append(s.sent, msg)
	return nil
}

type stubDispatcher struct {
	jobs []jobs.Job
	err  error
}

func (d *stubDispatcher) Enqueue(job jobs.Job) error {
	if d.err != nil {
		return d.err
	}
	d.jobs = append(d.jobs, job)
	return nil
}

func testUsers(emails ...string) []models.User {
	out := make([]models.User, 0, len(emails))
	for i, email := range emails {
		out = append(out, models.User{ID: string(rune('a' + i)), Email: email})
	}
	return out
}

func TestNotificationServiceSendsInlineAndSwallowsFailures(t *testing.T) {
	sender := &stubSender{failOn: "bad@example.com"}
	svc := NewNotificationService(sender, NewMetricsService(), nil)

	accepted := svc.CouponAssigned(context.Background(), "VIP<1>", testUsers("ok@example.com", "bad@example.com"))

	assert.Equal(t, 1, accepted)
	require.Len(t, sender.sent, 1)
	msg := sender.sent[0]
	assert.Equal(t, "ok@example.com", msg.To)
	assert.Equal(t, "You have been assigned a coupon!", msg.Subject)
	assert.Equal(t, "Your coupon code is: VIP<1>", msg.Text)
	assert.Equal(t, "<p>Your coupon code is: <b>VIP&lt;1&gt;</b></p>", msg.HTML)
}

func TestNotificationServiceQueuesWhenConfigured(t *testing.T) {
	sender := &stubSender{}
	dispatcher := &stubDispatcher{}
	svc := NewNotificationService(sender, nil, nil)
	svc.UseQueue(dispatcher)

	accepted := svc.CouponAssigned(context.Background(), "VIP1", testUsers("a@example.com", "b@example.com"))

	assert.Equal(t, 2, accepted)
	assert.Empty(t, sender.sent)
	require.Len(t, dispatcher.jobs, 2)
	assert.Equal(t, "coupon_assigned", dispatcher.jobs[0].Type)

	require.NoError(t, svc.HandleJob(context.Background(), dispatcher.jobs[0]))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "a@example.com", sender.sent[0].To)
}

func TestNotificationServiceQueueRejection(t *testing.T) {
	svc := NewNotificationService(&stubSender{}, nil, nil)
	svc.UseQueue(&stubDispatcher{err: jobs.ErrQueueFull})

	assert.Equal(t, 0, svc.CouponAssigned(context.Background(), "VIP1", testUsers("a@example.com")))
}

func TestNotificationServiceHandleJobIgnoresUnknownPayload(t *testing.T) {
	svc := NewNotificationService(&stubSender{}, nil, nil)
	assert.NoError(t, svc.HandleJob(context.Background(), jobs.Job{ID: "1", Payload: "nope"}))
	svc.HandleGiveUp(jobs.Job{ID: "1", Attempt: 3}, errors.New("smtp unavailable"))
}

func TestNotificationServiceWithoutSender(t *testing.T) {
	svc := NewNotificationService(nil, nil, nil)
	assert.Equal(t, 0, svc.CouponAssigned(context.Background(), "VIP1", testUsers("a@example.com")))
}
