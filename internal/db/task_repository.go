package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chepyr/task-tracker-api/internal/models"
)

// defines methods for task db operations
type TaskRepositoryInterface interface {
	Create(ctx context.Context, task *models.Task) error
	GetByID(ctx context.Context, id int64) (*models.Task, error)
	List(ctx context.Context, filter models.TaskFilter) ([]*models.Task, error)
	Search(ctx context.Context, text string) ([]*models.Task, error)
	Update(ctx context.Context, task *models.Task) error
	Delete(ctx context.Context, id int64) error
	Exists(ctx context.Context, id int64) (bool, error)
	AddTag(ctx context.Context, taskID, tagID int64) error
	HasTag(ctx context.Context, taskID, tagID int64) (bool, error)
	RemoveTag(ctx context.Context, taskID, tagID int64) error
	Touch(ctx context.Context, id int64, at time.Time) error
}

const taskColumns = `id, title, description, status, priority, due_date, completed, user_id, created_at, updated_at`

// tagBatchSize bounds the number of placeholders in one tag lookup.
const tagBatchSize = 500

type TaskRepository struct {
	db Querier
}

func NewTaskRepository(db Querier) *TaskRepository {
	return &TaskRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	task := &models.Task{Tags: []string{}}
	err := row.Scan(
		&task.ID, &task.Title, &task.Description, &task.Status, &task.Priority,
		&task.DueDate, &task.Completed, &task.UserID, &task.CreatedAt, &task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return task, nil
}

// Create inserts the task and fills in its generated id.
func (r *TaskRepository) Create(ctx context.Context, task *models.Task) error {
	query := `INSERT INTO tasks (title, description, status, priority, due_date, completed, user_id, created_at, updated_at)
	 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`

	err := r.db.QueryRowContext(
		ctx, query, task.Title, task.Description, task.Status, task.Priority, task.DueDate,
		task.Completed, task.UserID, task.CreatedAt, task.UpdatedAt,
	).Scan(&task.ID)
	if err != nil {
		return classify(err)
	}
	if task.Tags == nil {
		task.Tags = []string{}
	}
	return nil
}

func (r *TaskRepository) GetByID(ctx context.Context, id int64) (*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`
	task, err := scanTask(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, classify(err)
	}
	if err := r.attachTags(ctx, []*models.Task{task}); err != nil {
		return nil, err
	}
	return task, nil
}

// List returns the tasks matching every condition set in filter.
func (r *TaskRepository) List(ctx context.Context, filter models.TaskFilter) ([]*models.Task, error) {
	var (
		conds []string
		args  []any
	)
	where := func(column string, value any) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if filter.Status != nil {
		where("status", *filter.Status)
	}
	if filter.Priority != nil {
		where("priority", *filter.Priority)
	}
	if filter.Completed != nil {
		where("completed", *filter.Completed)
	}
	if filter.UserID != nil {
		where("user_id", *filter.UserID)
	}

	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY id`
	return r.queryTasks(ctx, query, args...)
}

// Search matches text as a case-insensitive substring of title or description.
func (r *TaskRepository) Search(ctx context.Context, text string) ([]*models.Task, error) {
	// both sides are folded by the database so they always agree
	pattern := "%" + escapeLike(text) + "%"
	query := `SELECT ` + taskColumns + ` FROM tasks
	 WHERE LOWER(title) LIKE LOWER($1) ESCAPE '\' OR LOWER(description) LIKE LOWER($1) ESCAPE '\'
	 ORDER BY id`
	return r.queryTasks(ctx, query, pattern)
}

func (r *TaskRepository) Update(ctx context.Context, task *models.Task) error {
	query := `UPDATE tasks SET title = $1, description = $2, status = $3, priority = $4,
	 due_date = $5, completed = $6, user_id = $7, updated_at = $8 WHERE id = $9`
	res, err := r.db.ExecContext(
		ctx, query, task.Title, task.Description, task.Status, task.Priority,
		task.DueDate, task.Completed, task.UserID, task.UpdatedAt, task.ID,
	)
	if err != nil {
		return classify(err)
	}
	return expectAffected(res)
}

// Delete removes the task, its comments and its tag links. Run it inside
// Store.InTx.
func (r *TaskRepository) Delete(ctx context.Context, id int64) error {
	exists, err := r.Exists(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}

	cascade := []string{
		`DELETE FROM comments WHERE task_id = $1`,
		`DELETE FROM task_tags WHERE task_id = $1`,
		`DELETE FROM tasks WHERE id = $1`,
	}
	for _, query := range cascade {
		if _, err := r.db.ExecContext(ctx, query, id); err != nil {
			return err
		}
	}
	return nil
}

func (r *TaskRepository) Exists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM tasks WHERE id = $1)`
	err := r.db.QueryRowContext(ctx, query, id).Scan(&exists)
	return exists, err
}

// AddTag links the tag to the task. A second link of the same pair fails
// with ErrConflict.
func (r *TaskRepository) AddTag(ctx context.Context, taskID, tagID int64) error {
	query := `INSERT INTO task_tags (task_id, tag_id) VALUES ($1, $2)`
	_, err := r.db.ExecContext(ctx, query, taskID, tagID)
	return classify(err)
}

func (r *TaskRepository) HasTag(ctx context.Context, taskID, tagID int64) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM task_tags WHERE task_id = $1 AND tag_id = $2)`
	err := r.db.QueryRowContext(ctx, query, taskID, tagID).Scan(&exists)
	return exists, err
}

func (r *TaskRepository) RemoveTag(ctx context.Context, taskID, tagID int64) error {
	query := `DELETE FROM task_tags WHERE task_id = $1 AND tag_id = $2`
	res, err := r.db.ExecContext(ctx, query, taskID, tagID)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

// Touch refreshes updated_at without changing any other column.
func (r *TaskRepository) Touch(ctx context.Context, id int64, at time.Time) error {
	query := `UPDATE tasks SET updated_at = $1 WHERE id = $2`
	res, err := r.db.ExecContext(ctx, query, at, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (r *TaskRepository) queryTasks(ctx context.Context, query string, args ...any) ([]*models.Task, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := []*models.Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// rows must be drained before the next query on a single-connection pool
	rows.Close()

	if err := r.attachTags(ctx, tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// attachTags loads the tag names of every task, in tag id order.
func (r *TaskRepository) attachTags(ctx context.Context, tasks []*models.Task) error {
	byID := make(map[int64]*models.Task, len(tasks))
	for _, task := range tasks {
		byID[task.ID] = task
	}

	for start := 0; start < len(tasks); start += tagBatchSize {
		end := min(start+tagBatchSize, len(tasks))
		batch := tasks[start:end]

		placeholders := make([]string, len(batch))
		args := make([]any, len(batch))
		for i, task := range batch {
			placeholders[i] = fmt.Sprintf("$%d", i+1)
			args[i] = task.ID
		}
		query := `SELECT tt.task_id, t.name FROM task_tags tt
		 JOIN tags t ON t.id = tt.tag_id
		 WHERE tt.task_id IN (` + strings.Join(placeholders, ", ") + `)
		 ORDER BY t.id`

		if err := r.scanTagNames(ctx, byID, query, args); err != nil {
			return err
		}
	}
	return nil
}

func (r *TaskRepository) scanTagNames(ctx context.Context, byID map[int64]*models.Task, query string, args []any) error {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			taskID int64
			name   string
		)
		if err := rows.Scan(&taskID, &name); err != nil {
			return err
		}
		if task, ok := byID[taskID]; ok {
			task.Tags = append(task.Tags, name)
		}
	}
	return rows.Err()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
