package models

import "time"

const (
	DefaultTaskStatus   = "pending"
	DefaultTaskPriority = "medium"
)

// Task is serialized with the names of its tags; comments are never embedded.
type Task struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Description *string    `json:"description"`
	Status      string     `json:"status"`
	Priority    string     `json:"priority"`
	DueDate     *time.Time `json:"due_date"`
	Completed   bool       `json:"completed"`
	UserID      *int64     `json:"user_id"`
	Tags        []string   `json:"tags"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TaskFilter holds the exact-match conditions of a task listing.
// Nil fields are not applied.
type TaskFilter struct {
	Status    *string
	Priority  *string
	Completed *bool
	UserID    *int64
}
