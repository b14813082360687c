package db

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/chepyr/task-tracker-api/internal/models"
)

const testDSN = ":memory:?_foreign_keys=on"

// setupTestDB returns a migrated in-memory database closed at test end.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := Connect(DriverSQLite, testDSN)
	if err != nil {
		t.Fatalf("connect sqlite: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if err := Migrate(context.Background(), conn, DriverSQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

func TestConnect(t *testing.T) {
	tests := []struct {
		name          string
		driverName    string
		dsn           string
		expectedError bool
	}{
		{
			name:          "Successful connection with SQLite",
			driverName:    DriverSQLite,
			dsn:           ":memory:",
			expectedError: false,
		},
		{
			name:          "Failed connection with invalid DSN",
			driverName:    DriverSQLite,
			dsn:           "file::memory:?mode=invalid",
			expectedError: true,
		},
		{
			name:          "Unsupported driver",
			driverName:    "mysql",
			dsn:           "whatever",
			expectedError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, err := Connect(tt.driverName, tt.dsn)

			if tt.expectedError {
				if err == nil {
					t.Error("Expected error, got none")
				}
				if conn != nil {
					t.Error("Expected nil connection on error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			defer conn.Close()
			if got := conn.Stats().MaxOpenConnections; got != 1 {
				t.Errorf("Expected MaxOpenConnections to be 1 for sqlite, got %d", got)
			}
		})
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	conn := setupTestDB(t)

	if err := Migrate(context.Background(), conn, DriverSQLite); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	for _, table := range []string{"users", "tasks", "tags", "task_tags", "comments"} {
		var name string
		err := conn.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = $1`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestMigrate_UnknownDriver(t *testing.T) {
	conn := setupTestDB(t)
	if err := Migrate(context.Background(), conn, "oracle"); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestStore_InTx_RollsBackOnError(t *testing.T) {
	store := NewStore(setupTestDB(t), DriverSQLite)
	ctx := context.Background()

	err := store.InTx(ctx, func(r *Repositories) error {
		if err := r.Tags.Create(ctx, &models.Tag{Name: "urgent"}); err != nil {
			t.Fatalf("create tag: %v", err)
		}
		return ErrConflict
	})
	if err != ErrConflict {
		t.Fatalf("InTx error = %v, want ErrConflict", err)
	}

	tags, err := store.Repos().Tags.List(ctx)
	if err != nil {
		t.Fatalf("list tags: %v", err)
	}
	if len(tags) != 0 {
		t.Fatalf("expected rollback to discard tag, got %+v", tags)
	}
}

func TestStore_InTx_Commits(t *testing.T) {
	store := NewStore(setupTestDB(t), DriverSQLite)
	ctx := context.Background()

	err := store.InTx(ctx, func(r *Repositories) error {
		return r.Tags.Create(ctx, &models.Tag{Name: "home"})
	})
	if err != nil {
		t.Fatalf("InTx: %v", err)
	}
	exists, err := store.Repos().Tags.ExistsByName(ctx, "home")
	if err != nil || !exists {
		t.Fatalf("expected committed tag, exists=%v err=%v", exists, err)
	}
}

func TestStore_InTx_RollsBackOnPanic(t *testing.T) {
	store := NewStore(setupTestDB(t), DriverSQLite)
	ctx := context.Background()

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("expected panic to propagate")
			}
		}()
		_ = store.InTx(ctx, func(r *Repositories) error {
			if err := r.Tags.Create(ctx, &models.Tag{Name: "boom"}); err != nil {
				t.Fatalf("create tag: %v", err)
			}
			panic("handler blew up")
		})
	}()

	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	exists, err := store.Repos().Tags.ExistsByName(ctx, "boom")
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if exists {
		t.Fatal("expected tag to be rolled back after panic")
	}
}

func TestUnicodeLower(t *testing.T) {
	conn := setupTestDB(t)

	var folded string
	if err := conn.QueryRow(`SELECT LOWER('ÉTÉ Über ABC')`).Scan(&folded); err != nil {
		t.Fatalf("select lower: %v", err)
	}
	if folded != "été über abc" {
		t.Errorf("LOWER = %q, want %q", folded, "été über abc")
	}

	var isNull bool
	if err := conn.QueryRow(`SELECT LOWER(NULL) IS NULL`).Scan(&isNull); err != nil {
		t.Fatalf("select lower null: %v", err)
	}
	if !isNull {
		t.Error("LOWER(NULL) should stay NULL")
	}
}
