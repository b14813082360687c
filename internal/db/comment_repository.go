package db

import (
	"context"

	"github.com/chepyr/task-tracker-api/internal/models"
)

type CommentRepositoryInterface interface {
	Create(ctx context.Context, comment *models.Comment) error
	ListByTaskID(ctx context.Context, taskID int64) ([]*models.Comment, error)
}

type CommentRepository struct {
	db Querier
}

func NewCommentRepository(db Querier) *CommentRepository {
	return &CommentRepository{db: db}
}

// Create inserts the comment. A task_id without a matching task fails with
// ErrReference when the database enforces foreign keys.
func (r *CommentRepository) Create(ctx context.Context, comment *models.Comment) error {
	query := `INSERT INTO comments (content, task_id, created_at) VALUES ($1, $2, $3) RETURNING id`
	err := r.db.QueryRowContext(ctx, query, comment.Content, comment.TaskID, comment.CreatedAt).Scan(&comment.ID)
	return classify(err)
}

// ListByTaskID returns the task's comments, oldest first.
func (r *CommentRepository) ListByTaskID(ctx context.Context, taskID int64) ([]*models.Comment, error) {
	query := `SELECT id, content, task_id, created_at FROM comments WHERE task_id = $1 ORDER BY created_at, id`
	rows, err := r.db.QueryContext(ctx, query, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	comments := []*models.Comment{}
	for rows.Next() {
		c := &models.Comment{}
		if err := rows.Scan(&c.ID, &c.Content, &c.TaskID, &c.CreatedAt); err != nil {
			return nil, err
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}
