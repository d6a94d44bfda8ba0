package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/errorparty/backend/internal/auth"
	"github.com/errorparty/backend/internal/chatbot"
	"github.com/errorparty/backend/internal/config"
	"github.com/errorparty/backend/internal/coordinator"
	"github.com/errorparty/backend/internal/db"
	"github.com/errorparty/backend/internal/handlers"
	"github.com/errorparty/backend/internal/middleware"
	"github.com/errorparty/backend/internal/reconnect"
	"github.com/errorparty/backend/internal/recorder"
	"github.com/errorparty/backend/internal/repositories"
	"github.com/errorparty/backend/internal/roster"
	"github.com/errorparty/backend/internal/storage"
	"github.com/errorparty/backend/internal/vendors/loopback"
)

// services is everything serve runs.
type services struct {
	Manager      *coordinator.Manager
	Reconciler   *roster.Reconciler
	Recorder     *recorder.Recorder
	AdminLimiter middleware.RateLimiter
	HTTP         handlers.Dependencies
}

// buildDependencies wires together the session, its sinks and the HTTP collaborators. The
// returned cleanup stops the session and drains the recorder.
func buildDependencies(ctx context.Context, pool db.Pool, cfg config.Config, logger *slog.Logger) (services, func(context.Context) error, error) {
	if logger == nil {
		logger = slog.Default()
	}

	admin, err := auth.NewAdminVerifier(cfg.AdminTokenHash)
	if err != nil {
		return services{}, nil, fmt.Errorf("admin token hash: %w", err)
	}

	var archive recorder.ArchiveStorage
	if cfg.ObjectStore.Bucket != "" {
		s3, err := storage.NewS3Storage(ctx, cfg.ObjectStore)
		if err != nil {
			return services{}, nil, err
		}
		archive = s3
	} else {
		logger.Info("raw match archive disabled, no bucket configured")
	}

	vendor, err := newVendor(cfg, logger)
	if err != nil {
		return services{}, nil, err
	}

	links := repositories.NewPostgresLinkRepository(pool, logger)
	matches := repositories.NewPostgresMatchRepository(pool)
	rec := recorder.New(matches, archive, recorder.Config{
		QueueSize: cfg.Recorder.QueueSize,
		Workers:   cfg.Recorder.Workers,
	}, logger)

	members := roster.New()

	// The reconciler needs the manager as its network, and the manager's ready hook needs
	// the reconciler; the hook only fires after Start.
	var reconciler *roster.Reconciler
	var chat *chatbot.Handler
	manager := coordinator.NewManager(vendor, members, coordinatorConfig(cfg),
		coordinator.WithLogger(logger),
		coordinator.WithMatchSink(rec),
		coordinator.WithReadyHook(func() { reconciler.Trigger() }),
		coordinator.WithChatHandler(chatHandlerFunc(func(ctx context.Context, accountID, text string) {
			chat.HandleChat(ctx, accountID, text)
		})),
	)
	chat = chatbot.New(manager, logger)
	reconciler = roster.NewReconciler(links, manager, members, roster.Config{
		PassInterval:  cfg.Roster.PassInterval,
		SweepInterval: cfg.Roster.SweepInterval,
		RequestDelay:  cfg.Roster.RequestDelay,
	}, logger)

	adminLimit := cfg.AdminRateLimit
	if adminLimit <= 0 {
		adminLimit = 10
	}

	svc := services{
		Manager:      manager,
		Reconciler:   reconciler,
		Recorder:     rec,
		AdminLimiter: middleware.NewIPRateLimiter(adminLimit*6, time.Minute, adminLimit, 10*time.Minute),
		HTTP: handlers.Dependencies{
			Bot:              manager,
			Admin:            admin,
			Matches:          matches,
			Links:            links,
			Roster:           members,
			Reconciler:       reconciler,
			ChallengeLimiter: middleware.NewIPRateLimiter(5, time.Minute, 5, 10*time.Minute),
		},
	}

	cleanup := func(ctx context.Context) error {
		manager.Stop()
		return rec.Shutdown(ctx)
	}

	return svc, cleanup, nil
}

func coordinatorConfig(cfg config.Config) coordinator.Config {
	c := cfg.Coordinator
	return coordinator.Config{
		Primary: coordinator.Credentials{
			AccountName: cfg.Primary.AccountName,
			Password:    cfg.Primary.Password,
			AuthCode:    cfg.Primary.AuthCode,
		},
		Backup: coordinator.Credentials{
			AccountName: cfg.Backup.AccountName,
			Password:    cfg.Backup.Password,
		},
		RequestTimeout: c.RequestTimeout,
		SyncTimeout:    c.SyncTimeout,
		ReadyTimeout:   c.ReadyTimeout,
		Policy: reconnect.Policy{
			Base:        c.BackoffBase,
			Ceiling:     c.BackoffCeiling,
			Cooldown:    c.RateLimitCooldown,
			SwitchDelay: c.SwitchDelay,
		},
		WelcomeMessage: c.WelcomeMessage,
		SubjectSlot:    c.SubjectSlot,
	}
}

func newVendor(cfg config.Config, logger *slog.Logger) (coordinator.Vendor, error) {
	switch cfg.Vendor {
	case config.VendorLoopback:
		return loopback.New(cfg.FixturesDir, logger), nil
	default:
		return nil, fmt.Errorf("unsupported vendor %q", cfg.Vendor)
	}
}

type chatHandlerFunc func(ctx context.Context, accountID, text string)

func (f chatHandlerFunc) HandleChat(ctx context.Context, accountID, text string) {
	f(ctx, accountID, text)
}
