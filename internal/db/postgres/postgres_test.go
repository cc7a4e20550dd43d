package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestMigrateURL(t *testing.T) {
	tests := map[string]string{
		"postgres://u:p@db:5432/x?sslmode=disable":   "pgx5://u:p@db:5432/x?sslmode=disable",
		"postgresql://u:p@db:5432/x?sslmode=disable": "pgx5://u:p@db:5432/x?sslmode=disable",
		"pgx5://u:p@db/x":                            "pgx5://u:p@db/x",
	}
	for in, want := range tests {
		if got := MigrateURL(in); got != want {
			t.Errorf("MigrateURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) == 0 || len(entries)%2 != 0 {
		t.Fatalf("ожидали пары up/down, получили %d файлов", len(entries))
	}
}

func TestErrorClassifiers(t *testing.T) {
	if !IsNotFound(fmt.Errorf("wrap: %w", pgx.ErrNoRows)) {
		t.Error("IsNotFound must see wrapped ErrNoRows")
	}
	if !IsUniqueViolation(&pgconn.PgError{Code: "23505"}) {
		t.Error("23505 is a unique violation")
	}
	if IsUniqueViolation(errors.New("23505")) {
		t.Error("plain error is not a unique violation")
	}
	if !IsSerializationFailure(&pgconn.PgError{Code: "40P01"}) {
		t.Error("deadlock must be retried")
	}
}

func TestRetry(t *testing.T) {
	ctx := context.Background()

	calls := 0
	err := Retry(ctx, 3, func() error {
		calls++
		if calls < 3 {
			return &pgconn.PgError{Code: "40001"}
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("err = %v, calls = %d", err, calls)
	}

	calls = 0
	boom := errors.New("boom")
	err = Retry(ctx, 3, func() error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) || calls != 1 {
		t.Fatalf("non-retryable: err = %v, calls = %d", err, calls)
	}

	calls = 0
	err = Retry(ctx, 2, func() error {
		calls++
		return &pgconn.PgError{Code: "40001"}
	})
	if !IsSerializationFailure(err) || calls != 2 {
		t.Fatalf("exhausted: err = %v, calls = %d", err, calls)
	}
}
