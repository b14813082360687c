package handlers

import (
	"net/http"

	"github.com/chepyr/task-tracker-api/internal/db"
	"github.com/chepyr/task-tracker-api/internal/events"
	"github.com/chepyr/task-tracker-api/internal/models"
)

// AddComment handles POST /tasks/{id}/comments. A missing task is reported
// before a missing content.
func (h *Handler) AddComment(w http.ResponseWriter, r *http.Request) {
	taskID, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var input struct {
		Content *string `json:"content"`
	}
	if err := decodeJSON(w, r, &input); err != nil {
		h.fail(w, r, err)
		return
	}

	ctx, cancel := h.requestContext(r)
	defer cancel()

	var (
		comment *models.Comment
		task    *models.Task
	)
	err = h.Store.InTx(ctx, func(repos *db.Repositories) error {
		existing, err := repos.Tasks.GetByID(ctx, taskID)
		if err != nil {
			return taskLookupErr(err)
		}
		if !present(input.Content) {
			return badRequest("Comment content is required")
		}

		comment = &models.Comment{
			Content:   *input.Content,
			TaskID:    taskID,
			CreatedAt: now(),
		}
		if err := repos.Comments.Create(ctx, comment); err != nil {
			return err
		}
		task = existing
		return nil
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.publish(events.TaskEvent(events.TaskCommentAdded, task))
	sendJSON(w, http.StatusCreated, comment)
}

// ListComments handles GET /tasks/{id}/comments, oldest first.
func (h *Handler) ListComments(w http.ResponseWriter, r *http.Request) {
	taskID, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	ctx, cancel := h.requestContext(r)
	defer cancel()

	repos := h.Store.Repos()
	exists, err := repos.Tasks.Exists(ctx, taskID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !exists {
		sendError(w, "Task not found", http.StatusNotFound)
		return
	}

	comments, err := repos.Comments.ListByTaskID(ctx, taskID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, comments)
}
