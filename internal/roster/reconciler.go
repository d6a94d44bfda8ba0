package roster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// ErrSweepInProgress is returned by Sweep while another sweep is running.
var ErrSweepInProgress = errors.New("roster sweep already in progress")

// Config holds the reconciliation timings.
type Config struct {
	PassInterval  time.Duration
	SweepInterval time.Duration
	// RequestDelay is the minimum gap between two SyncMember calls.
	RequestDelay time.Duration
}

// DefaultConfig returns the production timings.
func DefaultConfig() Config {
	return Config{
		PassInterval:  5 * time.Minute,
		SweepInterval: 15 * time.Minute,
		RequestDelay:  3 * time.Second,
	}
}

// PassResult summarizes one reconciliation pass.
type PassResult struct {
	Accepted int
	Upserted int
	Dropped  int
}

// SweepResult summarizes one sync sweep.
type SweepResult struct {
	Attempted int
	Succeeded int
	Failed    int
}

// Reconciler converges the Roster on the should-link set and periodically asks the network
// for each member's recent matches.
type Reconciler struct {
	links   LinkSource
	network Network
	roster  *Roster
	cfg     Config
	logger  *slog.Logger
	limiter *rate.Limiter
	now     func() time.Time

	trigger  chan struct{}
	sweeping atomic.Bool
	wg       sync.WaitGroup
}

// NewReconciler wires a Reconciler. A nil logger falls back to slog.Default.
func NewReconciler(links LinkSource, network Network, roster *Roster, cfg Config, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultConfig()
	if cfg.PassInterval <= 0 {
		cfg.PassInterval = defaults.PassInterval
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaults.SweepInterval
	}

	limit := rate.Inf
	if cfg.RequestDelay > 0 {
		limit = rate.Every(cfg.RequestDelay)
	}

	return &Reconciler{
		links:   links,
		network: network,
		roster:  roster,
		cfg:     cfg,
		logger:  logger,
		limiter: rate.NewLimiter(limit, 1),
		now:     time.Now,
		trigger: make(chan struct{}, 1),
	}
}

// Trigger requests a pass followed by a sweep. It never blocks; triggers that arrive while one
// is queued are merged.
func (r *Reconciler) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Pass runs one reconciliation pass.
func (r *Reconciler) Pass(ctx context.Context) (PassResult, error) {
	links, err := r.links.ListLinks(ctx)
	if err != nil {
		return PassResult{}, fmt.Errorf("list links: %w", err)
	}
	live, err := r.network.Relationships(ctx)
	if err != nil {
		return PassResult{}, fmt.Errorf("load relationships: %w", err)
	}

	plan := PlanPass(links, live, r.roster.List())

	var result PassResult
	for _, id := range plan.Accept {
		if err := r.network.AcceptFriend(ctx, id); err != nil {
			r.logger.WarnContext(ctx, "accept friend request failed", "accountId", id, "error", err)
			continue
		}
		result.Accepted++
	}

	r.roster.Apply(plan, links)
	result.Upserted = len(plan.Upsert)
	result.Dropped = len(plan.Drop)

	r.logger.InfoContext(ctx, "roster pass complete",
		"links", len(links),
		"accepted", result.Accepted,
		"upserted", result.Upserted,
		"dropped", result.Dropped,
		"eligible", len(r.roster.Eligible()),
	)
	return result, nil
}

// Sweep syncs every eligible record once, pacing requests by the configured delay. Individual
// failures are recorded on the record and do not stop the sweep.
func (r *Reconciler) Sweep(ctx context.Context) (SweepResult, error) {
	if !r.sweeping.CompareAndSwap(false, true) {
		return SweepResult{}, ErrSweepInProgress
	}
	defer r.sweeping.Store(false)

	var result SweepResult
	for _, rec := range r.roster.Eligible() {
		if err := r.limiter.Wait(ctx); err != nil {
			return result, err
		}

		result.Attempted++
		err := r.network.SyncMember(ctx, rec.ExternalAccountID)
		r.roster.RecordSync(rec.ExternalAccountID, r.now(), err)
		if err != nil {
			result.Failed++
			r.logger.InfoContext(ctx, "roster member sync failed", "accountId", rec.ExternalAccountID, "error", err)
			continue
		}
		result.Succeeded++
	}

	r.logger.InfoContext(ctx, "roster sweep complete",
		"attempted", result.Attempted,
		"succeeded", result.Succeeded,
		"failed", result.Failed,
	)
	return result, nil
}

// Run drives passes and sweeps until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	passTicker := time.NewTicker(r.cfg.PassInterval)
	defer passTicker.Stop()
	sweepTicker := time.NewTicker(r.cfg.SweepInterval)
	defer sweepTicker.Stop()
	defer r.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.trigger:
			r.runPass(ctx)
			r.startSweep(ctx)
		case <-passTicker.C:
			r.runPass(ctx)
		case <-sweepTicker.C:
			r.startSweep(ctx)
		}
	}
}

func (r *Reconciler) runPass(ctx context.Context) {
	if _, err := r.Pass(ctx); err != nil && ctx.Err() == nil {
		r.logger.WarnContext(ctx, "roster pass failed", "error", err)
	}
}

func (r *Reconciler) startSweep(ctx context.Context) {
	if r.sweeping.Load() {
		r.logger.DebugContext(ctx, "roster sweep already running")
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if _, err := r.Sweep(ctx); err != nil && !errors.Is(err, ErrSweepInProgress) && ctx.Err() == nil {
			r.logger.WarnContext(ctx, "roster sweep failed", "error", err)
		}
	}()
}
