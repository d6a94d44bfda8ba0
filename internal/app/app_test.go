package app

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestDecodeCommand(t *testing.T) {
	out, err := execute(t, "decode", "CSGO-AMDcN-f9Vme-bVrxd-RMW9P-n76Sf")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, want := range []string{`"matchId": 123`, `"outcomeId": 456`, `"token": 789`} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %s in output, got %s", want, out)
		}
	}
}

func TestDecodeCommandRejectsInvalidCode(t *testing.T) {
	if _, err := execute(t, "decode", "CSGO-00000-00000-00000-00000-00000"); err == nil {
		t.Fatal("expected an error for an invalid share code")
	}
}

func TestEncodeCommand(t *testing.T) {
	out, err := execute(t, "encode", "--match", "123", "--outcome", "456", "--token", "789")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if strings.TrimSpace(out) != "CSGO-AMDcN-f9Vme-bVrxd-RMW9P-n76Sf" {
		t.Fatalf("unexpected share code %q", out)
	}
}

func TestAdminTokenCommandGenerates(t *testing.T) {
	out, err := execute(t, "admin-token")
	if err != nil {
		t.Fatalf("admin-token: %v", err)
	}

	var token, hash string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		key, value, _ := strings.Cut(line, ":")
		switch key {
		case "token":
			token = strings.TrimSpace(value)
		case "hash":
			hash = strings.TrimSpace(value)
		}
	}
	if token == "" || hash == "" {
		t.Fatalf("expected token and hash, got %q", out)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)); err != nil {
		t.Fatalf("hash does not match token: %v", err)
	}
}

func TestAdminTokenCommandHashesGivenToken(t *testing.T) {
	out, err := execute(t, "admin-token", "--token", "s3cret")
	if err != nil {
		t.Fatalf("admin-token: %v", err)
	}
	if strings.Contains(out, "token:") {
		t.Fatalf("did not expect a generated token, got %q", out)
	}
	hash := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(out), "hash:"))
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret")); err != nil {
		t.Fatalf("hash does not match token: %v", err)
	}
}

func TestMigrateRejectsUnknownAction(t *testing.T) {
	_, err := execute(t, "migrate", "down")
	if err == nil || !strings.Contains(err.Error(), "unknown migrate command") {
		t.Fatalf("expected unknown command error, got %v", err)
	}
}

func TestListMigrationsSortsSQLFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"0002_b.sql", "0001_a.sql", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "0003_dir.sql"), 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	names, abs, err := listMigrations(dir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if abs != dir {
		t.Fatalf("expected absolute dir %q, got %q", dir, abs)
	}
	if len(names) != 2 || names[0] != "0001_a.sql" || names[1] != "0002_b.sql" {
		t.Fatalf("unexpected migrations %v", names)
	}
}

func TestListMigrationsMissingDir(t *testing.T) {
	if _, _, err := listMigrations(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected an error for a missing directory")
	}
}

func TestShouldRetryMigration(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline", context.DeadlineExceeded, true},
		{"tx closed", pgx.ErrTxClosed, true},
		{"serialization", &pgconn.PgError{Code: "40001"}, true},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, true},
		{"lock", &pgconn.PgError{Code: "55P03"}, true},
		{"syntax", &pgconn.PgError{Code: "42601"}, false},
		{"other", errors.New("boom"), false},
	}
	for _, tc := range cases {
		if got := shouldRetryMigration(tc.err); got != tc.want {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestMigrationBackoff(t *testing.T) {
	if got := migrationBackoff(1); got != migrationBaseBackoff {
		t.Fatalf("first retry: got %s", got)
	}
	if got := migrationBackoff(3); got != 4*migrationBaseBackoff {
		t.Fatalf("third retry: got %s", got)
	}
	if got := migrationBackoff(20); got != migrationMaxBackoff {
		t.Fatalf("expected cap %s, got %s", migrationMaxBackoff, got)
	}
	if got := migrationBackoff(0); got != time.Duration(0) {
		t.Fatalf("expected no delay before the first attempt, got %s", got)
	}
}
