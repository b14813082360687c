package db

import (
	"context"

	"github.com/chepyr/task-tracker-api/internal/models"
)

type TagRepositoryInterface interface {
	Create(ctx context.Context, tag *models.Tag) error
	GetByID(ctx context.Context, id int64) (*models.Tag, error)
	List(ctx context.Context) ([]*models.Tag, error)
	ExistsByName(ctx context.Context, name string) (bool, error)
}

type TagRepository struct {
	db Querier
}

func NewTagRepository(db Querier) *TagRepository {
	return &TagRepository{db: db}
}

func (r *TagRepository) Create(ctx context.Context, tag *models.Tag) error {
	query := `INSERT INTO tags (name) VALUES ($1) RETURNING id`
	err := r.db.QueryRowContext(ctx, query, tag.Name).Scan(&tag.ID)
	return classify(err)
}

func (r *TagRepository) GetByID(ctx context.Context, id int64) (*models.Tag, error) {
	query := `SELECT id, name FROM tags WHERE id = $1`
	tag := &models.Tag{}
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&tag.ID, &tag.Name); err != nil {
		return nil, classify(err)
	}
	return tag, nil
}

func (r *TagRepository) List(ctx context.Context) ([]*models.Tag, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name FROM tags ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tags := []*models.Tag{}
	for rows.Next() {
		tag := &models.Tag{}
		if err := rows.Scan(&tag.ID, &tag.Name); err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

func (r *TagRepository) ExistsByName(ctx context.Context, name string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM tags WHERE name = $1)`
	err := r.db.QueryRowContext(ctx, query, name).Scan(&exists)
	return exists, err
}
