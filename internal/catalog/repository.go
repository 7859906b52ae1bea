package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrCategoryNotFound = errors.New("category not found")
	ErrCategoryExists   = errors.New("category already exists")
	ErrFoodNotFound     = errors.New("food not found")
)

type Repository interface {
	CreateCategory(ctx context.Context, name string) (*Category, error)
	ListCategories(ctx context.Context) ([]Category, error)
	DeleteCategory(ctx context.Context, id int64) error

	CreateFood(ctx context.Context, f *Food) error
	GetFood(ctx context.Context, id int64) (*Food, error)
	ListFood(ctx context.Context) ([]Food, error)
	UpdateFood(ctx context.Context, f *Food) error
	DeleteFood(ctx context.Context, id int64) error

	// FoodPrice returns the current price of an available item. The order
	// core snapshots this value at creation time; it is never re-read for
	// existing orders.
	FoodPrice(ctx context.Context, id int64) (int64, error)
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) CreateCategory(ctx context.Context, name string) (*Category, error) {
	query := `
		INSERT INTO categories (name, created_at)
		VALUES ($1, $2)
		RETURNING id, name, created_at
	`

	var c Category
	err := r.db.QueryRow(ctx, query, name, time.Now().UTC()).Scan(&c.ID, &c.Name, &c.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, ErrCategoryExists
		}
		return nil, fmt.Errorf("repository: failed to insert category: %w", err)
	}

	return &c, nil
}

func (r *postgresRepository) ListCategories(ctx context.Context) ([]Category, error) {
	query := `SELECT id, name, created_at FROM categories ORDER BY name`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query categories: %w", err)
	}
	defer rows.Close()

	categories := make([]Category, 0)
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("repository: failed to scan category: %w", err)
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating categories: %w", err)
	}

	return categories, nil
}

func (r *postgresRepository) DeleteCategory(ctx context.Context, id int64) error {
	cmdTag, err := r.db.Exec(ctx, `DELETE FROM categories WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("repository: failed to delete category %d: %w", id, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrCategoryNotFound
	}
	return nil
}

func (r *postgresRepository) CreateFood(ctx context.Context, f *Food) error {
	query := `
		INSERT INTO food (category_id, name, description, image_url, price, available, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		f.CategoryID, f.Name, f.Description, f.ImageURL, f.Price, f.Available, time.Now().UTC(),
	).Scan(&f.ID, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return ErrCategoryNotFound
		}
		return fmt.Errorf("repository: failed to insert food: %w", err)
	}

	return nil
}

func (r *postgresRepository) GetFood(ctx context.Context, id int64) (*Food, error) {
	query := `
		SELECT id, category_id, name, description, image_url, price, available, created_at, updated_at
		FROM food
		WHERE id = $1
	`

	var f Food
	err := r.db.QueryRow(ctx, query, id).Scan(
		&f.ID, &f.CategoryID, &f.Name, &f.Description, &f.ImageURL, &f.Price, &f.Available, &f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrFoodNotFound
		}
		return nil, fmt.Errorf("repository: failed to select food %d: %w", id, err)
	}

	return &f, nil
}

func (r *postgresRepository) ListFood(ctx context.Context) ([]Food, error) {
	query := `
		SELECT id, category_id, name, description, image_url, price, available, created_at, updated_at
		FROM food
		ORDER BY category_id, name
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query food: %w", err)
	}
	defer rows.Close()

	items := make([]Food, 0)
	for rows.Next() {
		var f Food
		if err := rows.Scan(&f.ID, &f.CategoryID, &f.Name, &f.Description, &f.ImageURL, &f.Price, &f.Available, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("repository: failed to scan food: %w", err)
		}
		items = append(items, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating food: %w", err)
	}

	return items, nil
}

func (r *postgresRepository) UpdateFood(ctx context.Context, f *Food) error {
	query := `
		UPDATE food
		SET category_id = $1, name = $2, description = $3, image_url = $4, price = $5, available = $6, updated_at = $7
		WHERE id = $8
	`

	cmdTag, err := r.db.Exec(ctx, query,
		f.CategoryID, f.Name, f.Description, f.ImageURL, f.Price, f.Available, time.Now().UTC(), f.ID,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to update food %d: %w", f.ID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrFoodNotFound
	}
	return nil
}

func (r *postgresRepository) DeleteFood(ctx context.Context, id int64) error {
	cmdTag, err := r.db.Exec(ctx, `DELETE FROM food WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("repository: failed to delete food %d: %w", id, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrFoodNotFound
	}
	return nil
}

func (r *postgresRepository) FoodPrice(ctx context.Context, id int64) (int64, error) {
	var price int64
	err := r.db.QueryRow(ctx, `SELECT price FROM food WHERE id = $1 AND available`, id).Scan(&price)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrFoodNotFound
		}
		return 0, fmt.Errorf("repository: failed to select price for food %d: %w", id, err)
	}
	return price, nil
}
