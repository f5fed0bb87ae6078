package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/FranksOps/seedling/internal/audit/audittest"
)

func TestPostgresSink(t *testing.T) {
	// Only run this test if SEEDLING_TEST_PG_DSN is set
	dsn := os.Getenv("SEEDLING_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("Skipping Postgres sink test: SEEDLING_TEST_PG_DSN not set")
	}

	ctx := context.Background()
	s, err := New(ctx, dsn)
	if err != nil {
		t.Fatalf("Failed to create Postgres sink: %v", err)
	}
	defer s.Close()

	if _, err := s.(*postgresSink).pool.Exec(ctx, `TRUNCATE provider_calls`); err != nil {
		t.Fatalf("Failed to reset table: %v", err)
	}

	audittest.Run(t, s)
}
