package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/errorparty/backend/internal/config"
	"github.com/errorparty/backend/internal/coordinator"
)

type fakePool struct{}

func (fakePool) Acquire(context.Context) (*pgxpool.Conn, error) {
	return nil, errors.New("not implemented")
}

func (fakePool) Close() {}

func testConfig() config.Config {
	return config.Config{
		AdminRateLimit: 10,
		Vendor:         config.VendorLoopback,
		FixturesDir:    "testdata",
		Coordinator: config.CoordinatorConfig{
			RequestTimeout:    time.Second,
			SyncTimeout:       time.Second,
			ReadyTimeout:      time.Second,
			BackoffBase:       time.Second,
			BackoffCeiling:    time.Minute,
			RateLimitCooldown: time.Minute,
			SwitchDelay:       time.Millisecond,
		},
		Roster: config.RosterConfig{
			PassInterval:  time.Minute,
			SweepInterval: time.Minute,
			RequestDelay:  time.Millisecond,
		},
		Recorder: config.RecorderConfig{QueueSize: 4, Workers: 1},
	}
}

func TestBuildDependencies(t *testing.T) {
	cfg := testConfig()
	cfg.ObjectStore = config.ObjectStoreConfig{Bucket: "test-bucket", Endpoint: "http://localhost:9000", Region: "us-east-1"}

	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, cleanup, err := buildDependencies(context.Background(), fakePool{}, cfg, logger)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cleanup == nil {
		t.Fatal("expected cleanup function")
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := cleanup(ctx); err != nil {
			t.Errorf("cleanup: %v", err)
		}
	}()

	if svc.Manager == nil {
		t.Fatal("expected bot session to be configured")
	}
	if svc.Reconciler == nil {
		t.Fatal("expected roster reconciler to be configured")
	}
	if svc.Recorder == nil {
		t.Fatal("expected match recorder to be configured")
	}
	if svc.AdminLimiter == nil {
		t.Fatal("expected admin rate limiter to be configured")
	}
	if svc.HTTP.Bot == nil || svc.HTTP.Admin == nil || svc.HTTP.Matches == nil || svc.HTTP.Links == nil {
		t.Fatal("expected http dependencies to be configured")
	}
	if svc.HTTP.Roster == nil || svc.HTTP.Reconciler == nil || svc.HTTP.ChallengeLimiter == nil {
		t.Fatal("expected roster and limiter dependencies to be configured")
	}
	if got := svc.Manager.Status().State; got != coordinator.StateDisconnected {
		t.Fatalf("expected a fresh session to be disconnected, got %v", got)
	}
}

func TestBuildDependenciesWithoutArchive(t *testing.T) {
	svc, cleanup, err := buildDependencies(context.Background(), fakePool{}, testConfig(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer func() { _ = cleanup(context.Background()) }()

	if svc.Recorder == nil {
		t.Fatal("expected recorder even without a bucket")
	}
}

func TestBuildDependenciesRejectsBadAdminHash(t *testing.T) {
	cfg := testConfig()
	cfg.AdminTokenHash = "not-a-bcrypt-hash"

	if _, _, err := buildDependencies(context.Background(), fakePool{}, cfg, nil); err == nil {
		t.Fatal("expected an error for a malformed admin hash")
	}
}

func TestCoordinatorConfigMapsTimings(t *testing.T) {
	cfg := testConfig()
	cfg.Primary = config.Credentials{AccountName: "partybot", Password: "pw", AuthCode: "ABCDE"}
	cfg.Backup = config.Credentials{AccountName: "partybot2", Password: "pw2"}
	cfg.Coordinator.SubjectSlot = 2
	cfg.Coordinator.WelcomeMessage = "hello"

	got := coordinatorConfig(cfg)
	if got.Primary.AuthCode != "ABCDE" || got.Backup.AccountName != "partybot2" {
		t.Fatalf("credentials not mapped: %+v", got)
	}
	if got.Policy.Base != time.Second || got.Policy.Ceiling != time.Minute || got.Policy.SwitchDelay != time.Millisecond {
		t.Fatalf("policy not mapped: %+v", got.Policy)
	}
	if got.ReadyTimeout != time.Second {
		t.Fatalf("ready timeout not mapped: %s", got.ReadyTimeout)
	}
	if got.SubjectSlot != 2 || got.WelcomeMessage != "hello" {
		t.Fatalf("session settings not mapped: %+v", got)
	}
}
