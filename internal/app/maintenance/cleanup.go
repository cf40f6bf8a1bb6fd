package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	iauth "github.com/charlesng35/idcore/internal/auth"
	"github.com/charlesng35/idcore/internal/services"
	"github.com/charlesng35/idcore/internal/store"
	"github.com/charlesng35/idcore/pkg/logger"
	"github.com/charlesng35/idcore/pkg/metrics"
)

// Config controls the cleanup cadence and retention windows.
type Config struct {
	Interval            time.Duration
	CodeLifetime        time.Duration
	PendingGrace        time.Duration
	RecoveryRetention   time.Duration
	DeadLetterRetention time.Duration
	StuckSendingAfter   time.Duration
	AuditRetentionDays  int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = time.Hour
	}
	if c.CodeLifetime <= 0 {
		c.CodeLifetime = 10 * time.Minute
	}
	if c.PendingGrace <= 0 {
		c.PendingGrace = 24 * time.Hour
	}
	if c.RecoveryRetention <= 0 {
		c.RecoveryRetention = 24 * time.Hour
	}
	if c.DeadLetterRetention <= 0 {
		c.DeadLetterRetention = 7 * 24 * time.Hour
	}
	if c.StuckSendingAfter <= 0 {
		c.StuckSendingAfter = 10 * time.Minute
	}
	if c.AuditRetentionDays <= 0 {
		c.AuditRetentionDays = 90
	}
	return c
}

// ExpiredPurger removes rows whose expiry lies before now.
type ExpiredPurger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// MailMaintainer recovers stalled deliveries and drops old dead letters.
type MailMaintainer interface {
	RequeueStuck(ctx context.Context, cutoff time.Time) (int64, error)
	PurgeDead(ctx context.Context, cutoff time.Time) (int64, error)
}

// Cleaner runs the maintenance jobs on a fixed interval independent of request
// traffic. A failing job is logged and the remaining jobs still run.
type Cleaner struct {
	credentials *store.CredentialStore
	sessions    *iauth.SessionService
	audit       *services.AuditService
	mail        MailMaintainer
	tokens      ExpiredPurger
	cache       ExpiredPurger

	cfg  Config
	cron *cron.Cron
	now  func() time.Time
	log  *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used for cleanup comparisons.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithConfig sets the interval and retention windows.
func WithConfig(cfg Config) Option {
	return func(cleaner *Cleaner) {
		cleaner.cfg = cfg
	}
}

// WithMailQueue enables the outbound mail maintenance jobs.
func WithMailQueue(mail MailMaintainer) Option {
	return func(cleaner *Cleaner) {
		cleaner.mail = mail
	}
}

// WithTokenPurger enables removal of expired authorization codes and refresh tokens.
func WithTokenPurger(tokens ExpiredPurger) Option {
	return func(cleaner *Cleaner) {
		cleaner.tokens = tokens
	}
}

// WithCachePurger enables removal of expired database cache entries.
func WithCachePurger(cache ExpiredPurger) Option {
	return func(cleaner *Cleaner) {
		cleaner.cache = cache
	}
}

// WithLogger overrides the cleaner logger.
func WithLogger(log *zap.Logger) Option {
	return func(cleaner *Cleaner) {
		if log != nil {
			cleaner.log = log
		}
	}
}

// NewCleaner constructs a Cleaner. Any nil dependency results in the
// corresponding jobs being skipped.
func NewCleaner(credentials *store.CredentialStore, sessions *iauth.SessionService, audit *services.AuditService, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		credentials: credentials,
		sessions:    sessions,
		audit:       audit,
		now:         func() time.Time { return time.Now().UTC() },
		log:         logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}
	cleaner.cfg = cleaner.cfg.withDefaults()

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}
	return cleaner
}

type job struct {
	name string
	run  func(ctx context.Context, now time.Time) (int64, error)
}

func (c *Cleaner) jobs() []job {
	var jobs []job

	if c.credentials != nil {
		jobs = append(jobs,
			job{name: "pending_registrations", run: func(ctx context.Context, now time.Time) (int64, error) {
				return c.credentials.PurgeExpiredPending(ctx, now.Add(-c.cfg.CodeLifetime-c.cfg.PendingGrace))
			}},
			job{name: "recovery_codes", run: c.credentials.ClearExpiredRecoveryCodes},
			job{name: "recovery_requests", run: func(ctx context.Context, now time.Time) (int64, error) {
				return c.credentials.PurgeStaleRecoveryRequests(ctx, now.Add(-c.cfg.RecoveryRetention))
			}},
			job{name: "reset_tokens", run: c.credentials.PurgeResetTokens},
		)
	}
	if c.sessions != nil {
		jobs = append(jobs, job{name: "sessions", run: func(ctx context.Context, _ time.Time) (int64, error) {
			return c.sessions.CleanupExpired(ctx)
		}})
	}
	if c.tokens != nil {
		jobs = append(jobs, job{name: "oauth_tokens", run: c.tokens.PurgeExpired})
	}
	if c.mail != nil {
		jobs = append(jobs,
			job{name: "mail_stuck", run: func(ctx context.Context, now time.Time) (int64, error) {
				return c.mail.RequeueStuck(ctx, now.Add(-c.cfg.StuckSendingAfter))
			}},
			job{name: "mail_dead", run: func(ctx context.Context, now time.Time) (int64, error) {
				return c.mail.PurgeDead(ctx, now.Add(-c.cfg.DeadLetterRetention))
			}},
		)
	}
	if c.audit != nil {
		jobs = append(jobs, job{name: "audit_logs", run: func(ctx context.Context, _ time.Time) (int64, error) {
			return c.audit.CleanupOlderThan(ctx, c.cfg.AuditRetentionDays)
		}})
	}
	if c.cache != nil {
		jobs = append(jobs, job{name: "cache_entries", run: c.cache.PurgeExpired})
	}
	return jobs
}

// Start schedules the cleanup cycle and launches the scheduler. ctx bounds
// every cycle; Stop cancels it.
func (c *Cleaner) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(c.jobs()) == 0 {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	spec := fmt.Sprintf("@every %s", c.cfg.Interval)
	if _, err := c.cron.AddFunc(spec, func() {
		if err := c.RunOnce(runCtx); err != nil {
			c.log.Warn("cleanup cycle finished with errors", zap.Error(err))
		}
	}); err != nil {
		cancel()
		return fmt.Errorf("maintenance: schedule cleanup: %w", err)
	}

	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	c.cron.Start()
	return nil
}

// Stop cancels the running cycle and halts the scheduler. The returned
// context is done once running jobs have returned.
func (c *Cleaner) Stop() context.Context {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.mu.Unlock()

	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// Stats maps job names to the rows each removed or reset.
type Stats map[string]int64

// RunOnce executes every configured job in order. Failures are collected and
// do not stop the remaining jobs; cancellation stops before the next job.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	_, err := c.run(ctx)
	return err
}

// RunOnceWithStats is RunOnce returning per-job counts.
func (c *Cleaner) RunOnceWithStats(ctx context.Context) (Stats, error) {
	return c.run(ctx)
}

func (c *Cleaner) run(ctx context.Context) (Stats, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	stats := Stats{}
	now := c.now()
	var errs error

	for _, j := range c.jobs() {
		if err := ctx.Err(); err != nil {
			return stats, multierr.Append(errs, err)
		}

		removed, err := j.run(ctx, now)
		if err != nil {
			c.log.Warn("cleanup job failed", zap.String("job", j.name), zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", j.name, err))
			continue
		}

		stats[j.name] = removed
		if removed > 0 {
			metrics.CleanupRemovals.WithLabelValues(j.name).Add(float64(removed))
			c.log.Info("cleanup job removed rows", zap.String("job", j.name), zap.Int64("count", removed))
		} else {
			c.log.Debug("cleanup job found nothing", zap.String("job", j.name))
		}
	}
	return stats, errs
}
