package handlers

import (
	"errors"
	"net/http"

	"github.com/chepyr/task-tracker-api/internal/db"
	"github.com/chepyr/task-tracker-api/internal/events"
	"github.com/chepyr/task-tracker-api/internal/models"
)

// CreateTag handles POST /tags.
func (h *Handler) CreateTag(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Name *string `json:"name"`
	}
	if err := decodeJSON(w, r, &input); err != nil {
		h.fail(w, r, err)
		return
	}
	if !present(input.Name) {
		sendError(w, "Tag name is required", http.StatusBadRequest)
		return
	}

	ctx, cancel := h.requestContext(r)
	defer cancel()

	tag := &models.Tag{Name: *input.Name}
	err := h.Store.InTx(ctx, func(repos *db.Repositories) error {
		exists, err := repos.Tags.ExistsByName(ctx, tag.Name)
		if err != nil {
			return err
		}
		if exists {
			return conflict("Tag already exists")
		}
		return repos.Tags.Create(ctx, tag)
	})
	if errors.Is(err, db.ErrConflict) {
		// lost a race with a concurrent insert of the same name
		err = conflict("Tag already exists")
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sendJSON(w, http.StatusCreated, tag)
}

// ListTags handles GET /tags.
func (h *Handler) ListTags(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	tags, err := h.Store.Repos().Tags.List(ctx)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, tags)
}

// AddTagToTask handles POST /tasks/{id}/tags and answers with the updated
// task.
func (h *Handler) AddTagToTask(w http.ResponseWriter, r *http.Request) {
	taskID, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var input struct {
		TagID *int64 `json:"tag_id"`
	}
	if err := decodeJSON(w, r, &input); err != nil {
		h.fail(w, r, err)
		return
	}
	if input.TagID == nil {
		sendError(w, "Tag ID is required", http.StatusBadRequest)
		return
	}
	tagID := *input.TagID

	ctx, cancel := h.requestContext(r)
	defer cancel()

	var task *models.Task
	err = h.Store.InTx(ctx, func(repos *db.Repositories) error {
		exists, err := repos.Tasks.Exists(ctx, taskID)
		if err != nil {
			return err
		}
		if !exists {
			return notFound("Task not found")
		}
		if _, err := repos.Tags.GetByID(ctx, tagID); err != nil {
			if errors.Is(err, db.ErrNotFound) {
				return notFound("Tag not found")
			}
			return err
		}

		linked, err := repos.Tasks.HasTag(ctx, taskID, tagID)
		if err != nil {
			return err
		}
		if linked {
			return conflict("Tag already added to this task")
		}
		if err := repos.Tasks.AddTag(ctx, taskID, tagID); err != nil {
			if errors.Is(err, db.ErrConflict) {
				return conflict("Tag already added to this task")
			}
			return err
		}
		if err := repos.Tasks.Touch(ctx, taskID, now()); err != nil {
			return err
		}
		task, err = repos.Tasks.GetByID(ctx, taskID)
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.publish(events.TaskEvent(events.TaskTagAdded, task))
	sendJSON(w, http.StatusOK, task)
}

// RemoveTagFromTask handles DELETE /tasks/{id}/tags/{tag_id}.
func (h *Handler) RemoveTagFromTask(w http.ResponseWriter, r *http.Request) {
	taskID, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	tagID, err := pathID(r, "tag_id")
	if err != nil {
		sendError(w, "Tag not found", http.StatusNotFound)
		return
	}

	ctx, cancel := h.requestContext(r)
	defer cancel()

	var task *models.Task
	err = h.Store.InTx(ctx, func(repos *db.Repositories) error {
		exists, err := repos.Tasks.Exists(ctx, taskID)
		if err != nil {
			return err
		}
		if !exists {
			return notFound("Task not found")
		}
		if _, err := repos.Tags.GetByID(ctx, tagID); err != nil {
			if errors.Is(err, db.ErrNotFound) {
				return notFound("Tag not found")
			}
			return err
		}

		if err := repos.Tasks.RemoveTag(ctx, taskID, tagID); err != nil {
			if errors.Is(err, db.ErrNotFound) {
				return notFound("Tag not found on this task")
			}
			return err
		}
		if err := repos.Tasks.Touch(ctx, taskID, now()); err != nil {
			return err
		}
		task, err = repos.Tasks.GetByID(ctx, taskID)
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.publish(events.TaskEvent(events.TaskTagRemoved, task))
	sendJSON(w, http.StatusOK, task)
}
