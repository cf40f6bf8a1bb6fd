// Package mailqueue is the durable outbound mail queue. Producers append rows
// and return immediately; a dispatcher claims due rows and delivers them with
// bounded parallelism, retrying transient failures with exponential backoff.
package mailqueue

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/idcore/internal/models"
	"github.com/charlesng35/idcore/pkg/logger"
	"github.com/charlesng35/idcore/pkg/mail"
)

const (
	defaultInterval    = 10 * time.Second
	defaultMaxRetries  = 3
	defaultBaseDelay   = 5 * time.Second
	defaultMaxDelay    = time.Hour
	defaultBatchSize   = 100
	defaultSendTimeout = 30 * time.Second
)

// ErrInvalidMessage is returned by Enqueue for messages without recipients or subject.
var ErrInvalidMessage = errors.New("mail queue: invalid message")

// Config tunes delivery.
type Config struct {
	Interval    time.Duration
	MaxRetries  int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	BatchSize   int
	Parallelism int
	SendTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = defaultInterval
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = defaultBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = defaultMaxDelay
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.Parallelism <= 0 {
		c.Parallelism = 2 * runtime.NumCPU()
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = defaultSendTimeout
	}
	return c
}

// Option customises a Queue.
type Option func(*Queue)

// WithConfig overrides the delivery configuration.
func WithConfig(cfg Config) Option {
	return func(q *Queue) {
		q.cfg = cfg
	}
}

// WithClock injects a time source.
func WithClock(clock func() time.Time) Option {
	return func(q *Queue) {
		if clock != nil {
			q.now = clock
		}
	}
}

// WithLogger overrides the queue logger.
func WithLogger(log *zap.Logger) Option {
	return func(q *Queue) {
		if log != nil {
			q.log = log
		}
	}
}

// Queue persists outbound messages and delivers them through a mail.Mailer.
type Queue struct {
	db     *gorm.DB
	mailer mail.Mailer
	cfg    Config
	now    func() time.Time
	log    *zap.Logger
	wake   chan struct{}
}

// NewQueue constructs a Queue.
func NewQueue(db *gorm.DB, mailer mail.Mailer, opts ...Option) (*Queue, error) {
	if db == nil {
		return nil, errors.New("mail queue: db is required")
	}
	if mailer == nil {
		return nil, errors.New("mail queue: mailer is required")
	}

	q := &Queue{
		db:     db,
		mailer: mailer,
		cfg:    Config{MaxRetries: defaultMaxRetries},
		now:    func() time.Time { return time.Now().UTC() },
		log:    logger.WithModule("mailqueue"),
		wake:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.cfg = q.cfg.withDefaults()
	return q, nil
}

// Config returns the effective configuration.
func (q *Queue) Config() Config {
	return q.cfg
}

// Enqueue stores one queue row per recipient and nudges the dispatcher. It
// never waits for delivery.
func (q *Queue) Enqueue(ctx context.Context, msg mail.Message) error {
	subject := strings.TrimSpace(msg.Subject)
	if subject == "" {
		return fmt.Errorf("%w: subject is required", ErrInvalidMessage)
	}

	now := q.now()
	rows := make([]models.OutboundMailMessage, 0, len(msg.To))
	for _, recipient := range msg.To {
		recipient = strings.TrimSpace(recipient)
		if recipient == "" {
			continue
		}
		rows = append(rows, models.OutboundMailMessage{
			Recipient:     recipient,
			Subject:       subject,
			Body:          msg.Body,
			Status:        models.MailPending,
			NextAttemptAt: now,
		})
	}
	if len(rows) == 0 {
		return fmt.Errorf("%w: recipient is required", ErrInvalidMessage)
	}

	if err := q.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return fmt.Errorf("mail queue: enqueue: %w", err)
	}

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Depth counts messages that still await delivery.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	var count int64
	err := q.db.WithContext(ctx).
		Model(&models.OutboundMailMessage{}).
		Where("status IN ?", []string{models.MailPending, models.MailSending}).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("mail queue: depth: %w", err)
	}
	return count, nil
}

// RequeueStuck returns messages claimed before cutoff to the pending state.
// Claims are abandoned when the process dies mid-delivery.
func (q *Queue) RequeueStuck(ctx context.Context, cutoff time.Time) (int64, error) {
	res := q.db.WithContext(ctx).
		Model(&models.OutboundMailMessage{}).
		Where("status = ? AND claimed_at < ?", models.MailSending, cutoff).
		Updates(map[string]any{
			"status":          models.MailPending,
			"claimed_at":      nil,
			"next_attempt_at": q.now(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("mail queue: requeue stuck: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// PurgeDead deletes dead letters last updated before cutoff.
func (q *Queue) PurgeDead(ctx context.Context, cutoff time.Time) (int64, error) {
	res := q.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", models.MailDead, cutoff).
		Delete(&models.OutboundMailMessage{})
	if res.Error != nil {
		return 0, fmt.Errorf("mail queue: purge dead letters: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (q *Queue) backoff(retry int) time.Duration {
	delay := q.cfg.BaseDelay
	for i := 1; i < retry; i++ {
		delay *= 2
		if delay >= q.cfg.MaxDelay {
			return q.cfg.MaxDelay
		}
	}
	return delay
}
