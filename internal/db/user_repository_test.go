package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chepyr/task-tracker-api/internal/models"
)

func insertUser(t *testing.T, repo *UserRepository, username, email string) *models.User {
	t.Helper()
	user := &models.User{Username: username, Email: email, CreatedAt: time.Now().UTC()}
	if err := repo.Create(context.Background(), user); err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	return user
}

func TestUserRepository_Create_GetByID_List(t *testing.T) {
	repo := NewUserRepository(setupTestDB(t))
	ctx := context.Background()

	alice := insertUser(t, repo, "alice", "alice@example.com")
	bob := insertUser(t, repo, "bob", "bob@example.com")
	if alice.ID == 0 || bob.ID == 0 || alice.ID == bob.ID {
		t.Fatalf("expected distinct generated ids, got %d and %d", alice.ID, bob.ID)
	}

	got, err := repo.GetByID(ctx, alice.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Username != "alice" || got.Email != "alice@example.com" {
		t.Errorf("GetByID mismatch: %+v", got)
	}

	list, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].ID != alice.ID || list[1].ID != bob.ID {
		t.Errorf("unexpected list: %+v", list)
	}
}

func TestUserRepository_GetByID_NonExistent(t *testing.T) {
	repo := NewUserRepository(setupTestDB(t))

	_, err := repo.GetByID(context.Background(), 42)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUserRepository_Create_Duplicate(t *testing.T) {
	repo := NewUserRepository(setupTestDB(t))
	insertUser(t, repo, "alice", "alice@example.com")

	tests := []struct {
		name     string
		username string
		email    string
	}{
		{"duplicate username", "alice", "other@example.com"},
		{"duplicate email", "other", "alice@example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user := &models.User{Username: tt.username, Email: tt.email, CreatedAt: time.Now().UTC()}
			err := repo.Create(context.Background(), user)
			if !errors.Is(err, ErrConflict) {
				t.Fatalf("expected ErrConflict, got %v", err)
			}
		})
	}
}

func TestUserRepository_Exists(t *testing.T) {
	repo := NewUserRepository(setupTestDB(t))
	ctx := context.Background()
	user := insertUser(t, repo, "alice", "alice@example.com")

	if ok, err := repo.ExistsByUsername(ctx, "alice"); err != nil || !ok {
		t.Errorf("ExistsByUsername(alice) = %v, %v", ok, err)
	}
	if ok, err := repo.ExistsByEmail(ctx, "nobody@example.com"); err != nil || ok {
		t.Errorf("ExistsByEmail(nobody) = %v, %v", ok, err)
	}
	if ok, err := repo.Exists(ctx, user.ID); err != nil || !ok {
		t.Errorf("Exists(%d) = %v, %v", user.ID, ok, err)
	}
}

func TestUserRepository_Delete_Cascades(t *testing.T) {
	conn := setupTestDB(t)
	store := NewStore(conn, DriverSQLite)
	repos := store.Repos()
	ctx := context.Background()

	owner := insertUser(t, repos.Users, "owner", "owner@example.com")
	other := insertUser(t, repos.Users, "other", "other@example.com")
	owned := insertTask(t, repos.Tasks, "owned", &owner.ID)
	kept := insertTask(t, repos.Tasks, "kept", &other.ID)

	tag := &models.Tag{Name: "shared"}
	if err := repos.Tags.Create(ctx, tag); err != nil {
		t.Fatalf("create tag: %v", err)
	}
	for _, id := range []int64{owned.ID, kept.ID} {
		if err := repos.Tasks.AddTag(ctx, id, tag.ID); err != nil {
			t.Fatalf("add tag: %v", err)
		}
	}
	if err := repos.Comments.Create(ctx, &models.Comment{Content: "hi", TaskID: owned.ID, CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("create comment: %v", err)
	}

	if err := store.InTx(ctx, func(r *Repositories) error {
		return r.Users.Delete(ctx, owner.ID)
	}); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, err := repos.Users.GetByID(ctx, owner.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("user still present: %v", err)
	}
	if _, err := repos.Tasks.GetByID(ctx, owned.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("owned task still present: %v", err)
	}
	comments, err := repos.Comments.ListByTaskID(ctx, owned.ID)
	if err != nil || len(comments) != 0 {
		t.Errorf("comments not removed: %+v, %v", comments, err)
	}
	got, err := repos.Tasks.GetByID(ctx, kept.ID)
	if err != nil {
		t.Fatalf("other user's task removed: %v", err)
	}
	if len(got.Tags) != 1 || got.Tags[0] != "shared" {
		t.Errorf("expected tag to survive on other task, got %v", got.Tags)
	}
	if ok, _ := repos.Tags.ExistsByName(ctx, "shared"); !ok {
		t.Error("tag should not be deleted with the user")
	}
}

func TestUserRepository_Delete_NonExistent(t *testing.T) {
	repo := NewUserRepository(setupTestDB(t))

	if err := repo.Delete(context.Background(), 7); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
