package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/chepyr/task-tracker-api/internal/db"
	"github.com/chepyr/task-tracker-api/internal/events"
	"github.com/chepyr/task-tracker-api/internal/models"
)

// CreateUser handles POST /users.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Username *string `json:"username"`
		Email    *string `json:"email"`
	}
	if err := decodeJSON(w, r, &input); err != nil {
		h.fail(w, r, err)
		return
	}
	if !present(input.Username) || !present(input.Email) {
		sendError(w, "Username and email are required", http.StatusBadRequest)
		return
	}

	ctx, cancel := h.requestContext(r)
	defer cancel()

	user := &models.User{
		Username:  *input.Username,
		Email:     *input.Email,
		CreatedAt: now(),
	}
	err := h.Store.InTx(ctx, func(repos *db.Repositories) error {
		if err := checkUserUnique(ctx, repos.Users, user); err != nil {
			return err
		}
		return repos.Users.Create(ctx, user)
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.logger(r).Info("user created", "user_id", user.ID)
	sendJSON(w, http.StatusCreated, user)
}

// checkUserUnique reports which unique field the new user collides on.
func checkUserUnique(ctx context.Context, users db.UserRepositoryInterface, user *models.User) error {
	taken, err := users.ExistsByUsername(ctx, user.Username)
	if err != nil {
		return err
	}
	if taken {
		return conflict("Username already exists")
	}
	taken, err = users.ExistsByEmail(ctx, user.Email)
	if err != nil {
		return err
	}
	if taken {
		return conflict("Email already exists")
	}
	return nil
}

// ListUsers handles GET /users.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	users, err := h.Store.Repos().Users.List(ctx)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, users)
}

// GetUser handles GET /users/{id}.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	ctx, cancel := h.requestContext(r)
	defer cancel()

	user, err := h.Store.Repos().Users.GetByID(ctx, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, user)
}

// DeleteUser handles DELETE /users/{id}. The user's tasks go with it.
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	ctx, cancel := h.requestContext(r)
	defer cancel()

	var removed []*models.Task
	err = h.Store.InTx(ctx, func(repos *db.Repositories) error {
		if _, err := repos.Users.GetByID(ctx, id); err != nil {
			return err
		}
		owned, err := repos.Tasks.List(ctx, models.TaskFilter{UserID: &id})
		if err != nil {
			return err
		}
		removed = owned
		return repos.Users.Delete(ctx, id)
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	for _, task := range removed {
		h.publish(events.TaskDeletedEvent(task))
	}
	h.logger(r).Info("user deleted", "user_id", id, "tasks_removed", len(removed))
	sendJSON(w, http.StatusOK, messageResponse{Message: "User deleted successfully"})
}

// now is the timestamp source for created_at and updated_at. Postgres keeps
// microseconds, so responses are truncated to match what is stored.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
