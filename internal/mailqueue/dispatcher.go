package mailqueue

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/charlesng35/idcore/internal/models"
	"github.com/charlesng35/idcore/pkg/mail"
	"github.com/charlesng35/idcore/pkg/metrics"
)

// Stats summarises one dispatch cycle.
type Stats struct {
	Claimed int
	Sent    int
	Retried int
	Dead    int
	// Released counts claims handed back untouched because the cycle was cancelled.
	Released int
}

// Run dispatches due messages every interval, or sooner when Enqueue signals,
// until ctx is cancelled. Cycle failures are logged and the loop continues.
func (q *Queue) Run(ctx context.Context) error {
	ticker := time.NewTicker(q.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := q.ProcessOnce(ctx); err != nil && ctx.Err() == nil {
			q.log.Warn("mail dispatch cycle failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-q.wake:
		}
	}
}

// ProcessOnce claims up to one batch of due messages and delivers them.
func (q *Queue) ProcessOnce(ctx context.Context) (Stats, error) {
	var stats Stats

	claimed, err := q.claim(ctx)
	if err != nil {
		return stats, err
	}
	stats.Claimed = len(claimed)

	if depth, err := q.Depth(ctx); err == nil {
		metrics.MailQueueDepth.Set(float64(depth))
	}
	if len(claimed) == 0 {
		return stats, nil
	}

	// A bookkeeping failure on one message must not cancel its siblings.
	outcomes := make([]deliveryOutcome, len(claimed))
	var group errgroup.Group
	group.SetLimit(q.cfg.Parallelism)
	for i := range claimed {
		i := i
		group.Go(func() error {
			outcome, err := q.deliver(ctx, &claimed[i])
			outcomes[i] = outcome
			return err
		})
	}
	err = group.Wait()

	for _, outcome := range outcomes {
		switch outcome {
		case outcomeSent:
			stats.Sent++
		case outcomeRetry:
			stats.Retried++
		case outcomeDead:
			stats.Dead++
		case outcomeReleased:
			stats.Released++
		}
	}
	if stats.Sent+stats.Retried+stats.Dead+stats.Released > 0 {
		q.log.Info("mail dispatch cycle",
			zap.Int("sent", stats.Sent),
			zap.Int("retried", stats.Retried),
			zap.Int("dead", stats.Dead),
			zap.Int("released", stats.Released),
		)
	}
	return stats, err
}

func (q *Queue) claim(ctx context.Context) ([]models.OutboundMailMessage, error) {
	now := q.now()

	var due []models.OutboundMailMessage
	err := q.db.WithContext(ctx).
		Where("status = ? AND next_attempt_at <= ?", models.MailPending, now).
		Order("next_attempt_at ASC").
		Limit(q.cfg.BatchSize).
		Find(&due).Error
	if err != nil {
		return nil, fmt.Errorf("mail queue: load due messages: %w", err)
	}

	claimed := due[:0]
	for _, msg := range due {
		res := q.db.WithContext(ctx).
			Model(&models.OutboundMailMessage{}).
			Where("id = ? AND status = ?", msg.ID, models.MailPending).
			Updates(map[string]any{"status": models.MailSending, "claimed_at": now})
		if res.Error != nil {
			return nil, fmt.Errorf("mail queue: claim message: %w", res.Error)
		}
		if res.RowsAffected == 1 {
			msg.Status = models.MailSending
			msg.ClaimedAt = &now
			claimed = append(claimed, msg)
		}
	}
	return claimed, nil
}

type deliveryOutcome int

const (
	outcomeNone deliveryOutcome = iota
	outcomeSent
	outcomeRetry
	outcomeDead
	outcomeReleased
)

func (q *Queue) deliver(ctx context.Context, msg *models.OutboundMailMessage) (deliveryOutcome, error) {
	if ctx.Err() != nil {
		return q.release(ctx, msg)
	}

	sendCtx, cancel := context.WithTimeout(ctx, q.cfg.SendTimeout)
	sendErr := q.mailer.Send(sendCtx, mail.Message{
		To:      []string{msg.Recipient},
		Subject: msg.Subject,
		Body:    msg.Body,
	})
	cancel()

	// Bookkeeping must land even when the cycle context is cancelled.
	db := q.db.WithContext(context.WithoutCancel(ctx))

	if sendErr == nil {
		if err := db.Delete(&models.OutboundMailMessage{}, "id = ?", msg.ID).Error; err != nil {
			return outcomeSent, fmt.Errorf("mail queue: delete delivered message: %w", err)
		}
		metrics.MailDeliveries.WithLabelValues("sent").Inc()
		return outcomeSent, nil
	}

	// Cancellation of the cycle is not a delivery failure.
	if ctx.Err() != nil {
		return q.release(ctx, msg)
	}

	retries := msg.RetryCount + 1
	updates := map[string]any{
		"retry_count": retries,
		"claimed_at":  nil,
		"last_error":  truncate(sendErr.Error(), 512),
	}

	outcome := outcomeRetry
	if mail.IsPermanent(sendErr) || retries > q.cfg.MaxRetries {
		outcome = outcomeDead
		updates["status"] = models.MailDead
		q.log.Error("mail dead-lettered",
			zap.String("message_id", msg.ID),
			zap.Int("retries", retries),
			zap.Error(sendErr),
		)
		metrics.MailDeliveries.WithLabelValues("dead").Inc()
	} else {
		updates["status"] = models.MailPending
		updates["next_attempt_at"] = q.now().Add(q.backoff(retries))
		q.log.Warn("mail delivery failed, retry scheduled",
			zap.String("message_id", msg.ID),
			zap.Int("retries", retries),
			zap.Error(sendErr),
		)
		metrics.MailDeliveries.WithLabelValues("retry").Inc()
	}

	if err := db.Model(&models.OutboundMailMessage{}).Where("id = ?", msg.ID).Updates(updates).Error; err != nil {
		return outcome, fmt.Errorf("mail queue: record failure: %w", err)
	}
	return outcome, nil
}

// release hands a claimed message back to the queue without counting a retry.
func (q *Queue) release(ctx context.Context, msg *models.OutboundMailMessage) (deliveryOutcome, error) {
	err := q.db.WithContext(context.WithoutCancel(ctx)).
		Model(&models.OutboundMailMessage{}).
		Where("id = ? AND status = ?", msg.ID, models.MailSending).
		Updates(map[string]any{"status": models.MailPending, "claimed_at": nil}).Error
	if err != nil {
		return outcomeReleased, fmt.Errorf("mail queue: release claim: %w", err)
	}
	metrics.MailDeliveries.WithLabelValues("released").Inc()
	return outcomeReleased, nil
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit]
}
