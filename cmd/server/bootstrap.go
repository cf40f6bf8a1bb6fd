package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/charlesng35/idcore/internal/api"
	"github.com/charlesng35/idcore/internal/app"
	"github.com/charlesng35/idcore/internal/app/maintenance"
	iauth "github.com/charlesng35/idcore/internal/auth"
	"github.com/charlesng35/idcore/internal/cache"
	"github.com/charlesng35/idcore/internal/database"
	"github.com/charlesng35/idcore/internal/identity"
	"github.com/charlesng35/idcore/internal/mailqueue"
	"github.com/charlesng35/idcore/internal/middleware"
	"github.com/charlesng35/idcore/internal/monitoring"
	"github.com/charlesng35/idcore/internal/monitoring/checks"
	"github.com/charlesng35/idcore/internal/oidc"
	"github.com/charlesng35/idcore/internal/services"
	"github.com/charlesng35/idcore/internal/store"
	"github.com/charlesng35/idcore/pkg/logger"
	"github.com/charlesng35/idcore/pkg/mail"
)

// mailBacklogThreshold marks the readiness probe degraded when delivery falls behind.
const mailBacklogThreshold = 1000

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB           *gorm.DB
	Redis        *cache.RedisStore
	Cache        cache.Store
	Accounts     *store.CredentialStore
	SessionSvc   *iauth.SessionService
	AuditSvc     *services.AuditService
	MailQueue    *mailqueue.Queue
	Registration *services.RegistrationService
	Recovery     *services.RecoveryService
	Engine       *oidc.Engine
	Cleaner      *maintenance.Cleaner
	RateStore    middleware.RateStore
	Router       *gin.Engine

	workers *errgroup.Group
	cancel  context.CancelFunc
}

// bootstrapRuntime initialises databases, caches, services, background workers and the HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	// enable gin debug mod
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	if err := oidc.SeedScopes(ctx, stack.DB, cfg.OIDC.Scopes); err != nil {
		return nil, fmt.Errorf("seed scopes: %w", err)
	}
	if err := oidc.SeedClients(ctx, stack.DB, cfg.OIDC.Clients); err != nil {
		return nil, fmt.Errorf("seed clients: %w", err)
	}

	keyEncryptionKey, err := cfg.OIDC.SigningKeyEncryptionKey()
	if err != nil {
		return nil, err
	}
	signer, err := oidc.LoadSigner(ctx, stack.DB, keyEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("load signing key: %w", err)
	}

	dbStore := cache.NewDatabaseStore(stack.DB)
	stack.Cache = dbStore
	if cfg.Cache.Redis.Enabled {
		if stack.Redis, err = cache.NewRedisStore(ctx, cfg.Cache.RedisClientConfig()); err != nil {
			log.Warn("redis unavailable; falling back to database-backed cache", zap.Error(err))
			stack.Redis = nil
		} else {
			stack.Cache = stack.Redis
			log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
		}
	}

	stack.Accounts, err = store.NewCredentialStore(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise credential store: %w", err)
	}

	stack.AuditSvc, err = services.NewAuditService(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise audit service: %w", err)
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig(cfg.OIDC.Issuer))
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	stack.SessionSvc, err = iauth.NewSessionService(stack.DB, jwtSvc, iauth.SessionConfig{
		Cache: iauth.NewSessionCache(stack.Cache),
	})
	if err != nil {
		return nil, fmt.Errorf("initialise session service: %w", err)
	}

	loginCfg := cfg.Auth.LoginConfig()
	loginCfg.Audit = stack.AuditSvc
	login, err := iauth.NewLoginService(stack.Accounts, stack.SessionSvc, loginCfg)
	if err != nil {
		return nil, fmt.Errorf("initialise login service: %w", err)
	}

	mailer, err := newMailer(cfg, log)
	if err != nil {
		return nil, err
	}
	stack.MailQueue, err = mailqueue.NewQueue(stack.DB, mailer, mailqueue.WithConfig(cfg.Mail.QueueConfig()))
	if err != nil {
		return nil, fmt.Errorf("initialise mail queue: %w", err)
	}

	rules := identity.NewRules(cfg.Password.Policy())
	policy := cfg.Verification.Policy()

	stack.Registration, err = services.NewRegistrationService(stack.Accounts, rules, stack.MailQueue,
		services.WithRegistrationPolicy(policy),
		services.WithRegistrationAudit(stack.AuditSvc),
		services.WithRegistrationSiteName(cfg.Mail.SiteName),
	)
	if err != nil {
		return nil, fmt.Errorf("initialise registration service: %w", err)
	}

	stack.Recovery, err = services.NewRecoveryService(stack.Accounts, rules, stack.MailQueue,
		services.WithRecoveryPolicy(policy),
		services.WithRecoveryAudit(stack.AuditSvc),
		services.WithResetTokenTTL(cfg.Verification.ResetTokenTTL),
		services.WithSessionRevoker(stack.SessionSvc),
	)
	if err != nil {
		return nil, fmt.Errorf("initialise recovery service: %w", err)
	}

	stack.Engine, err = oidc.NewEngine(stack.DB, stack.Accounts, signer, cfg.OIDC.EngineConfig(), oidc.WithAudit(stack.AuditSvc))
	if err != nil {
		return nil, fmt.Errorf("initialise authorization engine: %w", err)
	}

	workerCtx, cancel := context.WithCancel(ctx)
	stack.cancel = cancel
	stack.workers, workerCtx = errgroup.WithContext(workerCtx)
	stack.workers.Go(func() error {
		return stack.MailQueue.Run(workerCtx)
	})

	stack.Cleaner = maintenance.NewCleaner(stack.Accounts, stack.SessionSvc, stack.AuditSvc,
		maintenance.WithConfig(cfg.Maintenance.CleanerConfig(policy)),
		maintenance.WithMailQueue(stack.MailQueue),
		maintenance.WithTokenPurger(stack.Engine),
		maintenance.WithCachePurger(dbStore),
	)
	if err := stack.Cleaner.Start(workerCtx); err != nil {
		return nil, fmt.Errorf("start maintenance jobs: %w", err)
	}

	stack.RateStore = middleware.NewCacheRateStore(stack.Cache)

	health := monitoring.NewHealthManager(0)
	health.Register(
		checks.Database(stack.DB),
		checks.Redis(redisPinger(stack.Redis), cfg.Cache.Redis.Enabled),
		checks.MailQueue(stack.MailQueue, mailBacklogThreshold),
	)

	stack.Router, err = api.NewRouter(api.Dependencies{
		DB:           stack.DB,
		Config:       cfg,
		Accounts:     stack.Accounts,
		Sessions:     stack.SessionSvc,
		Login:        login,
		Registration: stack.Registration,
		Recovery:     stack.Recovery,
		Engine:       stack.Engine,
		RateStore:    stack.RateStore,
		Health:       health,
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// Shutdown gracefully stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Cleaner != nil {
		<-s.Cleaner.Stop().Done()
	}

	if s.cancel != nil {
		s.cancel()
	}
	if s.workers != nil {
		if err := s.workers.Wait(); err != nil {
			log.Warn("background worker stopped with error", zap.Error(err))
		}
	}

	if s.Cleaner != nil {
		if err := s.Cleaner.RunOnce(ctx); err != nil {
			log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
		}
	}

	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			log.Warn("redis shutdown", zap.Error(err))
		}
	}

	if s.DB != nil {
		closeDatabase(s.DB, log)
	}
}

// redisPinger avoids handing the probe a typed nil.
func redisPinger(store *cache.RedisStore) checks.Pinger {
	if store == nil {
		return nil
	}
	return store
}

func newMailer(cfg *app.Config, log *zap.Logger) (mail.Mailer, error) {
	settings := cfg.Mail.SMTPSettings()
	if !settings.Enabled {
		log.Warn("smtp disabled; outbound mail is written to the log")
		return mail.NewLogMailer(logger.WithModule("mail")), nil
	}
	mailer, err := mail.NewSMTPMailer(settings)
	if err != nil {
		return nil, fmt.Errorf("initialise smtp mailer: %w", err)
	}
	return mailer, nil
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := convertDatabaseConfig(cfg)
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrateAndSeed(db); err != nil {
		closeDatabase(db, logger.WithModule("database"))
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", dbCfg.Driver))

	return db, nil
}

func convertDatabaseConfig(cfg *app.Config) database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(cfg.Database.Driver)),
		Path:   strings.TrimSpace(cfg.Database.Path),
		DSN:    strings.TrimSpace(cfg.Database.DSN),
	}

	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		dbCfg.Host = strings.TrimSpace(cfg.Database.Postgres.Host)
		dbCfg.Port = cfg.Database.Postgres.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.Postgres.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.Postgres.Username)
		dbCfg.Password = cfg.Database.Postgres.Password
	case "mysql", "mariadb":
		dbCfg.Driver = "mysql"
		dbCfg.Host = strings.TrimSpace(cfg.Database.MySQL.Host)
		dbCfg.Port = cfg.Database.MySQL.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.MySQL.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.MySQL.Username)
		dbCfg.Password = cfg.Database.MySQL.Password
	default:
		// Leave driver as-is to surface unsupported driver error during open.
	}

	return dbCfg
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
