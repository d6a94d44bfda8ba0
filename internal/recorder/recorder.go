// Package recorder persists matches produced by the coordinator session off the session's
// hot path. It implements coordinator.MatchSink by queueing records for a small worker pool.
package recorder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/errorparty/backend/internal/coordinator"
	"github.com/errorparty/backend/internal/logging"
)

// MatchStore persists normalized matches.
type MatchStore interface {
	SaveMatch(ctx context.Context, rec coordinator.MatchRecord) error
}

// ArchiveStorage stores raw coordinator payloads.
type ArchiveStorage interface {
	Save(ctx context.Context, name string, r io.Reader) (string, error)
}

// Config controls the queue depth and worker count.
type Config struct {
	QueueSize int
	Workers   int
}

var _ coordinator.MatchSink = (*Recorder)(nil)

// ErrClosed is returned by HandleMatch after Shutdown.
var ErrClosed = errors.New("match recorder closed")

const writeTimeout = 5 * time.Second

// Recorder writes matches to the store and, when configured, the raw archive.
type Recorder struct {
	store   MatchStore
	archive ArchiveStorage
	logger  *slog.Logger

	// mu guards sends against close(jobs).
	mu     sync.RWMutex
	jobs   chan coordinator.MatchRecord
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// New starts the worker pool. archive may be nil.
func New(store MatchStore, archive ArchiveStorage, cfg Config, logger *slog.Logger) *Recorder {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	r := &Recorder{
		store:   store,
		archive: archive,
		logger:  logger.With("component", "recorder"),
		jobs:    make(chan coordinator.MatchRecord, cfg.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}

	r.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go r.worker()
	}

	return r
}

// HandleMatch queues rec. It blocks while the queue is full, until ctx ends.
func (r *Recorder) HandleMatch(ctx context.Context, rec coordinator.MatchRecord) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.ctx.Done():
		return ErrClosed
	default:
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.ctx.Done():
		return ErrClosed
	case r.jobs <- rec:
		return nil
	}
}

// Shutdown stops accepting records and waits for the workers to finish what they hold.
func (r *Recorder) Shutdown(ctx context.Context) error {
	r.once.Do(func() {
		r.cancel()
		r.mu.Lock()
		close(r.jobs)
		r.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (r *Recorder) worker() {
	defer r.wg.Done()

	for rec := range r.jobs {
		r.record(rec)
	}
}

func (r *Recorder) record(rec coordinator.MatchRecord) {
	base := logging.WithLogger(context.Background(), r.logger)
	spanCtx, span := logging.StartSpan(base, "record_match",
		slog.Uint64("matchId", rec.Match.MatchID),
		slog.String("source", string(rec.Source)),
	)
	var spanErr error
	defer func() { span.EndWithError(spanErr) }()
	logger := logging.FromContext(spanCtx)

	if r.archive != nil {
		if location, err := r.archiveRaw(rec); err != nil {
			logger.Warn("archive raw match", "error", err)
		} else {
			logger.Debug("raw match archived", "location", location)
		}
	}

	if r.store == nil {
		spanErr = errors.New("match recorder missing store")
		logger.Error(spanErr.Error())
		return
	}

	ctx, cancel := context.WithTimeout(spanCtx, writeTimeout)
	defer cancel()

	if err := r.store.SaveMatch(ctx, rec); err != nil {
		spanErr = err
		logger.Error("save match", "error", err)
		return
	}
	logger.Info("match recorded", "accountId", rec.AccountID, "map", rec.Match.Map)
}

func (r *Recorder) archiveRaw(rec coordinator.MatchRecord) (string, error) {
	payload, err := json.Marshal(rec.Raw)
	if err != nil {
		return "", fmt.Errorf("encode raw match: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	return r.archive.Save(ctx, ArchiveKey(rec), bytes.NewReader(payload))
}

// ArchiveKey is the object name a raw match is archived under.
func ArchiveKey(rec coordinator.MatchRecord) string {
	return fmt.Sprintf("matches/%d.json", rec.Match.MatchID)
}
