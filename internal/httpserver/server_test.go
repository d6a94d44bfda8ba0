package httpserver

import (
	"context"
	"net/http"
	"testing"
	"time"
)

type baseKey struct{}

func TestNewAppliesOptions(t *testing.T) {
	ctx := context.WithValue(context.Background(), baseKey{}, "base")
	srv := New(9191, http.NotFoundHandler(), WithWriteTimeout(45*time.Second), WithBaseContext(ctx))

	if srv.Addr() != ":9191" {
		t.Fatalf("unexpected addr %q", srv.Addr())
	}
	if srv.inner.WriteTimeout != 45*time.Second {
		t.Fatalf("expected write timeout override, got %s", srv.inner.WriteTimeout)
	}
	if srv.inner.BaseContext == nil || srv.inner.BaseContext(nil) != ctx {
		t.Fatal("expected base context to be installed")
	}
	if srv.inner.ReadHeaderTimeout != 5*time.Second {
		t.Fatalf("expected default read header timeout, got %s", srv.inner.ReadHeaderTimeout)
	}
}

func TestShutdownBeforeStart(t *testing.T) {
	srv := New(0, http.NotFoundHandler())
	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("expected closed server to start cleanly, got %v", err)
	}
}
