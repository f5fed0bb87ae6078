package sqlite

import (
	"testing"

	"github.com/FranksOps/seedling/internal/audit/audittest"
)

func TestSQLiteSink(t *testing.T) {
	// Use an in-memory database for testing
	s, err := New("file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("Failed to create SQLite sink: %v", err)
	}
	defer s.Close()

	audittest.Run(t, s)
}
