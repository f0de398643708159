package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// openTestStore opens an in-memory SQLite database and runs migrations.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	sqlDB, err := sql.Open("sqlite", ":memory:?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		t.Fatalf("open in-memory db: %v", err)
	}
	s := &Store{db: sqlDB}
	if err := s.migrate(context.Background()); err != nil {
		sqlDB.Close()
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func d(str string) decimal.Decimal {
	v, err := decimal.NewFromString(str)
	if err != nil {
		panic(err)
	}
	return v
}
