package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/chepyr/task-tracker-api/internal/db"
	"github.com/chepyr/task-tracker-api/internal/events"
	"github.com/chepyr/task-tracker-api/internal/models"
)

const invalidDueDate = "Invalid due_date format. Use ISO format"

// CreateTask handles POST /tasks.
func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Title       *string `json:"title"`
		Description *string `json:"description"`
		Status      *string `json:"status"`
		Priority    *string `json:"priority"`
		DueDate     *string `json:"due_date"`
		UserID      *int64  `json:"user_id"`
	}
	if err := decodeJSON(w, r, &input); err != nil {
		h.fail(w, r, err)
		return
	}
	if !present(input.Title) {
		sendError(w, "Title is required", http.StatusBadRequest)
		return
	}

	ts := now()
	task := &models.Task{
		Title:       *input.Title,
		Description: input.Description,
		Status:      models.DefaultTaskStatus,
		Priority:    models.DefaultTaskPriority,
		UserID:      input.UserID,
		Tags:        []string{},
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}
	if present(input.Status) {
		task.Status = *input.Status
	}
	if present(input.Priority) {
		task.Priority = *input.Priority
	}
	if input.DueDate != nil {
		due, ok := parseISODate(*input.DueDate)
		if !ok {
			sendError(w, invalidDueDate, http.StatusBadRequest)
			return
		}
		task.DueDate = &due
	}

	ctx, cancel := h.requestContext(r)
	defer cancel()

	err := h.Store.InTx(ctx, func(repos *db.Repositories) error {
		if err := checkAssignee(ctx, repos.Users, task.UserID); err != nil {
			return err
		}
		return repos.Tasks.Create(ctx, task)
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.publish(events.TaskEvent(events.TaskCreated, task))
	w.Header().Set("Location", "/tasks/"+strconv.FormatInt(task.ID, 10))
	sendJSON(w, http.StatusCreated, task)
}

// checkAssignee rejects a user_id that does not name an existing user.
func checkAssignee(ctx context.Context, users db.UserRepositoryInterface, userID *int64) error {
	if userID == nil {
		return nil
	}
	exists, err := users.Exists(ctx, *userID)
	if err != nil {
		return err
	}
	if !exists {
		return badRequest("user_id does not reference an existing user")
	}
	return nil
}

// ListTasks handles GET /tasks with optional status, priority, completed and
// user_id filters, all of which must match.
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	filter, err := parseTaskFilter(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	ctx, cancel := h.requestContext(r)
	defer cancel()

	tasks, err := h.Store.Repos().Tasks.List(ctx, filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, tasks)
}

// parseTaskFilter reads the listing filters. Empty values are ignored,
// except completed, where anything but "true" selects open tasks.
func parseTaskFilter(r *http.Request) (models.TaskFilter, error) {
	var filter models.TaskFilter
	query := r.URL.Query()

	if v := query.Get("status"); v != "" {
		filter.Status = &v
	}
	if v := query.Get("priority"); v != "" {
		filter.Priority = &v
	}
	if query.Has("completed") {
		completed := strings.EqualFold(strings.TrimSpace(query.Get("completed")), "true")
		filter.Completed = &completed
	}
	if v := query.Get("user_id"); v != "" {
		userID, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return filter, badRequest("user_id must be an integer")
		}
		filter.UserID = &userID
	}
	return filter, nil
}

// SearchTasks handles GET /tasks/search?q=.
func (h *Handler) SearchTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		sendError(w, `Query parameter "q" is required`, http.StatusBadRequest)
		return
	}

	ctx, cancel := h.requestContext(r)
	defer cancel()

	tasks, err := h.Store.Repos().Tasks.Search(ctx, q)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, tasks)
}

// GetTask handles GET /tasks/{id}.
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	ctx, cancel := h.requestContext(r)
	defer cancel()

	task, err := h.Store.Repos().Tasks.GetByID(ctx, id)
	if err != nil {
		h.fail(w, r, taskLookupErr(err))
		return
	}
	sendJSON(w, http.StatusOK, task)
}

// UpdateTask handles PUT /tasks/{id}. Only the supplied fields change.
func (h *Handler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var input struct {
		Title       optional[string] `json:"title"`
		Description optional[string] `json:"description"`
		Status      optional[string] `json:"status"`
		Priority    optional[string] `json:"priority"`
		Completed   optional[bool]   `json:"completed"`
		UserID      optional[int64]  `json:"user_id"`
		DueDate     optional[string] `json:"due_date"`
	}
	if err := decodeJSON(w, r, &input); err != nil {
		h.fail(w, r, err)
		return
	}

	ctx, cancel := h.requestContext(r)
	defer cancel()

	var task *models.Task
	err = h.Store.InTx(ctx, func(repos *db.Repositories) error {
		existing, err := repos.Tasks.GetByID(ctx, id)
		if err != nil {
			return taskLookupErr(err)
		}

		if input.Title.Set {
			if input.Title.Null || strings.TrimSpace(input.Title.Value) == "" {
				return badRequest("Title cannot be empty")
			}
			existing.Title = input.Title.Value
		}
		if input.Description.Set {
			existing.Description = nil
			if !input.Description.Null {
				desc := input.Description.Value
				existing.Description = &desc
			}
		}
		if input.Status.Set {
			if input.Status.Null || strings.TrimSpace(input.Status.Value) == "" {
				return badRequest("Status cannot be empty")
			}
			existing.Status = input.Status.Value
		}
		if input.Priority.Set {
			if input.Priority.Null || strings.TrimSpace(input.Priority.Value) == "" {
				return badRequest("Priority cannot be empty")
			}
			existing.Priority = input.Priority.Value
		}
		if input.Completed.Set {
			if input.Completed.Null {
				return badRequest("completed must be a boolean")
			}
			existing.Completed = input.Completed.Value
		}
		if input.UserID.Set {
			existing.UserID = nil
			if !input.UserID.Null {
				userID := input.UserID.Value
				if err := checkAssignee(ctx, repos.Users, &userID); err != nil {
					return err
				}
				existing.UserID = &userID
			}
		}
		if input.DueDate.Set {
			existing.DueDate = nil
			if !input.DueDate.Null {
				due, ok := parseISODate(input.DueDate.Value)
				if !ok {
					return badRequest(invalidDueDate)
				}
				existing.DueDate = &due
			}
		}

		existing.UpdatedAt = now()
		if err := repos.Tasks.Update(ctx, existing); err != nil {
			return err
		}
		task = existing
		return nil
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.publish(events.TaskEvent(events.TaskUpdated, task))
	sendJSON(w, http.StatusOK, task)
}

// DeleteTask handles DELETE /tasks/{id}. Comments and tag links go with the
// task; tags stay.
func (h *Handler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	ctx, cancel := h.requestContext(r)
	defer cancel()

	var task *models.Task
	err = h.Store.InTx(ctx, func(repos *db.Repositories) error {
		existing, err := repos.Tasks.GetByID(ctx, id)
		if err != nil {
			return taskLookupErr(err)
		}
		task = existing
		return repos.Tasks.Delete(ctx, id)
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.publish(events.TaskDeletedEvent(task))
	sendJSON(w, http.StatusOK, messageResponse{Message: "Task deleted successfully"})
}

// ToggleTaskCompletion handles PATCH /tasks/{id}/complete. Status is left
// as it is.
func (h *Handler) ToggleTaskCompletion(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	ctx, cancel := h.requestContext(r)
	defer cancel()

	var task *models.Task
	err = h.Store.InTx(ctx, func(repos *db.Repositories) error {
		existing, err := repos.Tasks.GetByID(ctx, id)
		if err != nil {
			return taskLookupErr(err)
		}
		existing.Completed = !existing.Completed
		existing.UpdatedAt = now()
		if err := repos.Tasks.Update(ctx, existing); err != nil {
			return err
		}
		task = existing
		return nil
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.publish(events.TaskEvent(events.TaskCompletionToggle, task))
	sendJSON(w, http.StatusOK, task)
}

// taskLookupErr names the missing task in the 404 body.
func taskLookupErr(err error) error {
	if errors.Is(err, db.ErrNotFound) {
		return notFound("Task not found")
	}
	return err
}
