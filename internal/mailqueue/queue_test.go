package mailqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/idcore/internal/database/testutil"
	"github.com/charlesng35/idcore/internal/models"
	"github.com/charlesng35/idcore/pkg/mail"
)

type fakeMailer struct {
	mu       sync.Mutex
	sent     []mail.Message
	failures int
	err      error
}

func (m *fakeMailer) Send(ctx context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures > 0 {
		m.failures--
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *fakeMailer) Sent() []mail.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mail.Message(nil), m.sent...)
}

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func newTestQueue(t *testing.T, mailer mail.Mailer, clock *testClock) (*Queue, *gorm.DB) {
	t.Helper()
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	q, err := NewQueue(db, mailer,
		WithClock(clock.Now),
		WithConfig(Config{MaxRetries: 2, BaseDelay: time.Second, Parallelism: 2}),
	)
	require.NoError(t, err)
	return q, db
}

func TestNewQueueRequiresDependencies(t *testing.T) {
	_, err := NewQueue(nil, &fakeMailer{})
	require.Error(t, err)

	db := testutil.MustOpenTestDB(t)
	_, err = NewQueue(db, nil)
	require.Error(t, err)
}

func TestEnqueueValidatesMessage(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	q, _ := newTestQueue(t, &fakeMailer{}, clock)

	err := q.Enqueue(context.Background(), mail.Message{To: []string{"a@x.test"}})
	require.ErrorIs(t, err, ErrInvalidMessage)

	err = q.Enqueue(context.Background(), mail.Message{To: []string{" "}, Subject: "hi"})
	require.ErrorIs(t, err, ErrInvalidMessage)
}

func TestProcessOnceDeliversAndDeletes(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	mailer := &fakeMailer{}
	q, _ := newTestQueue(t, mailer, clock)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, mail.Message{To: []string{"a@x.test", "b@x.test"}, Subject: "Hello", Body: "body"}))

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, depth)

	stats, err := q.ProcessOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, stats.Claimed)
	require.Equal(t, 2, stats.Sent)
	require.Len(t, mailer.Sent(), 2)

	depth, err = q.Depth(ctx)
	require.NoError(t, err)
	require.Zero(t, depth)
}

func TestProcessOnceRetriesWithBackoffThenDeadLetters(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	mailer := &fakeMailer{failures: 10, err: errors.New("connection refused")}
	q, db := newTestQueue(t, mailer, clock)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, mail.Message{To: []string{"a@x.test"}, Subject: "Hello"}))

	stats, err := q.ProcessOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Retried)

	var msg models.OutboundMailMessage
	require.NoError(t, db.Take(&msg).Error)
	require.Equal(t, models.MailPending, msg.Status)
	require.Equal(t, 1, msg.RetryCount)
	require.True(t, msg.NextAttemptAt.Equal(clock.now.Add(time.Second)))

	stats, err = q.ProcessOnce(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.Claimed, "not due before backoff elapses")

	clock.now = clock.now.Add(time.Second)
	stats, err = q.ProcessOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Retried)

	require.NoError(t, db.Take(&msg).Error)
	require.True(t, msg.NextAttemptAt.Equal(clock.now.Add(2*time.Second)))

	clock.now = clock.now.Add(2 * time.Second)
	stats, err = q.ProcessOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Dead)

	require.NoError(t, db.Take(&msg).Error)
	require.Equal(t, models.MailDead, msg.Status)
	require.Equal(t, 3, msg.RetryCount)
	require.Equal(t, "connection refused", msg.LastError)

	purged, err := q.PurgeDead(ctx, time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	require.EqualValues(t, 1, purged)
}

func TestPermanentFailureIsDeadLetteredImmediately(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	mailer := &fakeMailer{failures: 1, err: mail.ErrInvalidAddress}
	q, _ := newTestQueue(t, mailer, clock)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, mail.Message{To: []string{"a@x.test"}, Subject: "Hello"}))

	stats, err := q.ProcessOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Dead)
}

func TestRequeueStuck(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	q, db := newTestQueue(t, &fakeMailer{}, clock)
	ctx := context.Background()

	claimed := clock.now.Add(-time.Hour)
	require.NoError(t, db.Create(&models.OutboundMailMessage{
		Recipient:     "a@x.test",
		Subject:       "Hello",
		Status:        models.MailSending,
		NextAttemptAt: claimed,
		ClaimedAt:     &claimed,
	}).Error)

	requeued, err := q.RequeueStuck(ctx, clock.now.Add(-10*time.Minute))
	require.NoError(t, err)
	require.EqualValues(t, 1, requeued)

	stats, err := q.ProcessOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Sent)
}

func TestRunDeliversAfterEnqueueAndStops(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	mailer := &fakeMailer{}
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	q, err := NewQueue(db, mailer, WithClock(clock.Now), WithConfig(Config{Interval: time.Hour}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- q.Run(ctx) }()

	require.NoError(t, q.Enqueue(context.Background(), mail.Message{To: []string{"a@x.test"}, Subject: "Hello"}))
	require.Eventually(t, func() bool { return len(mailer.Sent()) == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

// cancellingMailer delivers the first message and cancels the dispatch cycle while doing so.
type cancellingMailer struct {
	fakeMailer
	cancel context.CancelFunc
}

func (m *cancellingMailer) Send(ctx context.Context, msg mail.Message) error {
	m.cancel()
	if len(m.Sent()) > 0 {
		return ctx.Err()
	}
	return m.fakeMailer.Send(ctx, msg)
}

func TestProcessOnceReleasesClaimsWhenCancelled(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	mailer := &cancellingMailer{}
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	q, err := NewQueue(db, mailer,
		WithClock(clock.Now),
		WithConfig(Config{MaxRetries: 0, BaseDelay: time.Second, Parallelism: 1}),
	)
	require.NoError(t, err)

	require.NoError(t, q.Enqueue(context.Background(), mail.Message{
		To:      []string{"a@x.test", "b@x.test", "c@x.test"},
		Subject: "Hello",
	}))

	ctx, cancel := context.WithCancel(context.Background())
	mailer.cancel = cancel

	stats, err := q.ProcessOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, stats.Claimed)
	require.Equal(t, 1, stats.Sent)
	require.Equal(t, 2, stats.Released)
	require.Zero(t, stats.Dead)
	require.Zero(t, stats.Retried)

	var remaining []models.OutboundMailMessage
	require.NoError(t, db.Find(&remaining).Error)
	require.Len(t, remaining, 2)
	for _, msg := range remaining {
		require.Equal(t, models.MailPending, msg.Status)
		require.Zero(t, msg.RetryCount)
		require.Nil(t, msg.ClaimedAt)
		require.Empty(t, msg.LastError)
	}

	// The released messages go out on the next cycle.
	stats, err = q.ProcessOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, stats.Sent)
}
