package db

import (
	"context"
	"database/sql"
	"fmt"
)

// Querier is the subset of *sql.DB and *sql.Tx used by the repositories.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Repositories groups the repositories bound to one Querier.
type Repositories struct {
	Users    *UserRepository
	Tasks    *TaskRepository
	Tags     *TagRepository
	Comments *CommentRepository
}

func newRepositories(q Querier) *Repositories {
	return &Repositories{
		Users:    NewUserRepository(q),
		Tasks:    NewTaskRepository(q),
		Tags:     NewTagRepository(q),
		Comments: NewCommentRepository(q),
	}
}

// Store is the application's handle on the relational database.
type Store struct {
	db     *sql.DB
	driver string
	repos  *Repositories
}

func NewStore(conn *sql.DB, driverName string) *Store {
	return &Store{db: conn, driver: driverName, repos: newRepositories(conn)}
}

// Repos returns repositories running outside of any transaction.
func (s *Store) Repos() *Repositories {
	return s.repos
}

func (s *Store) Driver() string {
	return s.driver
}

func (s *Store) Close() error {
	return s.db.Close()
}

// InTx runs fn inside a single transaction. The transaction commits when fn
// returns nil and rolls back when it returns an error or panics.
// fn must only use the repositories it is given.
func (s *Store) InTx(ctx context.Context, fn func(r *Repositories) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(newRepositories(tx)); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
