package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/chepyr/task-tracker-api/internal/db"
	"github.com/chepyr/task-tracker-api/internal/events"
)

const (
	defaultRequestTimeout = 5 * time.Second
	maxBodyBytes          = 1 << 20 // 1MB
)

// EventFeed serves task event subscriptions and receives committed changes.
type EventFeed interface {
	http.Handler
	Publish(ev events.Event)
}

type Handler struct {
	Store *db.Store
	// Events is optional; when nil no task events are published.
	Events         EventFeed
	Logger         *slog.Logger
	RequestTimeout time.Duration
}

type errorResponse struct {
	Error string `json:"error"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// apiError is an error whose status and message go to the client verbatim.
type apiError struct {
	status  int
	message string
}

func (e *apiError) Error() string { return e.message }

func badRequest(msg string) *apiError { return &apiError{status: http.StatusBadRequest, message: msg} }
func notFound(msg string) *apiError   { return &apiError{status: http.StatusNotFound, message: msg} }
func conflict(msg string) *apiError   { return &apiError{status: http.StatusConflict, message: msg} }

var errInvalidJSON = badRequest("Invalid JSON body")

// Routes registers every endpoint and wraps them with the request middleware.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)

	mux.HandleFunc("POST /users", h.CreateUser)
	mux.HandleFunc("GET /users", h.ListUsers)
	mux.HandleFunc("GET /users/{id}", h.GetUser)
	mux.HandleFunc("DELETE /users/{id}", h.DeleteUser)

	mux.HandleFunc("POST /tasks", h.CreateTask)
	mux.HandleFunc("GET /tasks", h.ListTasks)
	mux.HandleFunc("GET /tasks/search", h.SearchTasks)
	mux.HandleFunc("GET /tasks/{id}", h.GetTask)
	mux.HandleFunc("PUT /tasks/{id}", h.UpdateTask)
	mux.HandleFunc("DELETE /tasks/{id}", h.DeleteTask)
	mux.HandleFunc("PATCH /tasks/{id}/complete", h.ToggleTaskCompletion)
	mux.HandleFunc("POST /tasks/{id}/tags", h.AddTagToTask)
	mux.HandleFunc("DELETE /tasks/{id}/tags/{tag_id}", h.RemoveTagFromTask)
	mux.HandleFunc("POST /tasks/{id}/comments", h.AddComment)
	mux.HandleFunc("GET /tasks/{id}/comments", h.ListComments)

	mux.HandleFunc("POST /tags", h.CreateTag)
	mux.HandleFunc("GET /tags", h.ListTags)

	if h.Events != nil {
		mux.Handle("GET /ws", h.Events)
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		sendError(w, "Resource not found", http.StatusNotFound)
	})

	return h.withRequestID(h.withLogging(h.withRecovery(mux)))
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// requestContext bounds the store work of one request.
func (h *Handler) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	timeout := h.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return context.WithTimeout(r.Context(), timeout)
}

func (h *Handler) publish(ev events.Event) {
	if h.Events != nil {
		h.Events.Publish(ev)
	}
}

// fail writes the response for err: client errors verbatim, store sentinels
// as their HTTP equivalents and anything else as a logged 500.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *apiError
	switch {
	case errors.As(err, &apiErr):
		sendError(w, apiErr.message, apiErr.status)
	case errors.Is(err, db.ErrNotFound):
		sendError(w, "Resource not found", http.StatusNotFound)
	case errors.Is(err, db.ErrConflict):
		sendError(w, "Resource already exists", http.StatusConflict)
	case errors.Is(err, db.ErrReference):
		sendError(w, "Referenced resource does not exist", http.StatusBadRequest)
	default:
		h.logger(r).Error("request failed", "err", err)
		sendError(w, "Internal server error", http.StatusInternalServerError)
	}
}

// decodeJSON reads the request body into dst. An empty body leaves dst
// untouched so required-field checks report what is missing.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return &apiError{status: http.StatusRequestEntityTooLarge, message: "Request body too large"}
		}
		return errInvalidJSON
	}
	if dec.More() {
		return errInvalidJSON
	}
	return nil
}

// pathID parses an integer path segment. Non-integer ids do not name any
// resource.
func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, notFound("Resource not found")
	}
	return id, nil
}

func sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func sendError(w http.ResponseWriter, message string, status int) {
	sendJSON(w, status, errorResponse{Error: message})
}
