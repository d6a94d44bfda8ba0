package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/errorparty/backend/internal/coordinator"
	"github.com/errorparty/backend/internal/matchstats"
)

type matchStoreStub struct {
	mu    sync.Mutex
	saved []coordinator.MatchRecord
	err   error
}

func (s *matchStoreStub) SaveMatch(_ context.Context, rec coordinator.MatchRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, rec)
	return nil
}

func (s *matchStoreStub) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

type archiveStub struct {
	mu    sync.Mutex
	saved map[string][]byte
	err   error
}

func (s *archiveStub) Save(_ context.Context, name string, r io.Reader) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	if s.saved == nil {
		s.saved = make(map[string][]byte)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	s.saved[name] = data
	return fmt.Sprintf("s3://archive/%s", name), nil
}

func (s *archiveStub) get(name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.saved[name]
	return data, ok
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func record(id uint64) coordinator.MatchRecord {
	return coordinator.MatchRecord{
		Source:    coordinator.SourceShareCode,
		ShareCode: "CSGO-AMDcN-f9Vme-bVrxd-RMW9P-n76Sf",
		Match:     matchstats.NormalizedMatch{MatchID: id, Map: "de_ancient"},
		Raw:       matchstats.RawMatch{MatchID: matchstats.ID(id), Map: "de_ancient"},
	}
}

func shutdown(t *testing.T, r *Recorder) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestRecorderSavesAndArchives(t *testing.T) {
	store := &matchStoreStub{}
	archive := &archiveStub{}
	r := New(store, archive, Config{QueueSize: 1, Workers: 1}, quietLogger())

	if err := r.HandleMatch(context.Background(), record(123)); err != nil {
		t.Fatalf("handle match: %v", err)
	}

	waitForCondition(t, func() bool { return store.count() == 1 }, time.Second)
	shutdown(t, r)

	data, ok := archive.get("matches/123.json")
	if !ok {
		t.Fatalf("expected raw match archived, got keys %v", archive.saved)
	}
	var raw matchstats.RawMatch
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("decode archived payload: %v", err)
	}
	if raw.MatchID != 123 || raw.Map != "de_ancient" {
		t.Fatalf("unexpected archived payload: %+v", raw)
	}
}

func TestRecorderArchiveFailureStillSaves(t *testing.T) {
	store := &matchStoreStub{}
	archive := &archiveStub{err: errors.New("bucket unavailable")}
	r := New(store, archive, Config{}, quietLogger())

	if err := r.HandleMatch(context.Background(), record(7)); err != nil {
		t.Fatalf("handle match: %v", err)
	}

	waitForCondition(t, func() bool { return store.count() == 1 }, time.Second)
	shutdown(t, r)
}

func TestRecorderWithoutArchive(t *testing.T) {
	store := &matchStoreStub{}
	r := New(store, nil, Config{Workers: 2}, quietLogger())

	for id := uint64(1); id <= 5; id++ {
		if err := r.HandleMatch(context.Background(), record(id)); err != nil {
			t.Fatalf("handle match %d: %v", id, err)
		}
	}

	shutdown(t, r)
	if got := store.count(); got != 5 {
		t.Fatalf("expected queued matches drained on shutdown, saved %d", got)
	}
}

func TestRecorderRejectsAfterShutdown(t *testing.T) {
	r := New(&matchStoreStub{}, nil, Config{}, quietLogger())
	shutdown(t, r)

	if err := r.HandleMatch(context.Background(), record(1)); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	shutdown(t, r)
}

func TestRecorderHonoursCallerContext(t *testing.T) {
	block := make(chan struct{})
	store := &blockingStore{release: block}
	r := New(store, nil, Config{QueueSize: 1, Workers: 1}, quietLogger())
	defer func() {
		close(block)
		shutdown(t, r)
	}()

	// One record held by the worker, one in the queue.
	for id := uint64(1); id <= 2; id++ {
		if err := r.HandleMatch(context.Background(), record(id)); err != nil {
			t.Fatalf("handle match %d: %v", id, err)
		}
	}
	waitForCondition(t, store.started, time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := r.HandleMatch(ctx, record(3)); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded with full queue, got %v", err)
	}
}

func TestArchiveKey(t *testing.T) {
	if got := ArchiveKey(record(3230642215713767580)); got != "matches/3230642215713767580.json" {
		t.Fatalf("unexpected archive key %q", got)
	}
}

type blockingStore struct {
	release chan struct{}
	mu      sync.Mutex
	calls   int
}

func (s *blockingStore) SaveMatch(ctx context.Context, _ coordinator.MatchRecord) error {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	select {
	case <-s.release:
	case <-ctx.Done():
	}
	return nil
}

func (s *blockingStore) started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls > 0
}

func waitForCondition(t *testing.T, predicate func() bool, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if predicate() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}
