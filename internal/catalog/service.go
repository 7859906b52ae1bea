package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

type Service interface {
	CreateCategory(ctx context.Context, name string) (*Category, error)
	DeleteCategory(ctx context.Context, id int64) error
	CreateFood(ctx context.Context, f *Food) error
	UpdateFood(ctx context.Context, f *Food) error
	DeleteFood(ctx context.Context, id int64) error
	GetFood(ctx context.Context, id int64) (*Food, error)
	GetMenu(ctx context.Context) (*Menu, error)
}

type service struct {
	repo Repository
}

func NewService(repo Repository) Service {
	return &service{repo: repo}
}

func (s *service) CreateCategory(ctx context.Context, name string) (*Category, error) {
	if name == "" {
		return nil, errors.New("service: category name is required")
	}

	c, err := s.repo.CreateCategory(ctx, name)
	if err != nil {
		if errors.Is(err, ErrCategoryExists) {
			return nil, ErrCategoryExists
		}
		log.Error().Err(err).Str("name", name).Msg("service: failed to create category")
		return nil, fmt.Errorf("service: failed to create category: %w", err)
	}

	return c, nil
}

func (s *service) DeleteCategory(ctx context.Context, id int64) error {
	return s.repo.DeleteCategory(ctx, id)
}

func (s *service) CreateFood(ctx context.Context, f *Food) error {
	if f.Name == "" {
		return errors.New("service: food name is required")
	}
	if f.Price < 0 {
		return fmt.Errorf("service: food price cannot be negative, got %d", f.Price)
	}

	if err := s.repo.CreateFood(ctx, f); err != nil {
		if errors.Is(err, ErrCategoryNotFound) {
			return ErrCategoryNotFound
		}
		log.Error().Err(err).Str("name", f.Name).Msg("service: failed to create food")
		return fmt.Errorf("service: failed to create food: %w", err)
	}

	return nil
}

func (s *service) UpdateFood(ctx context.Context, f *Food) error {
	if f.Price < 0 {
		return fmt.Errorf("service: food price cannot be negative, got %d", f.Price)
	}
	return s.repo.UpdateFood(ctx, f)
}

func (s *service) DeleteFood(ctx context.Context, id int64) error {
	return s.repo.DeleteFood(ctx, id)
}

func (s *service) GetFood(ctx context.Context, id int64) (*Food, error) {
	return s.repo.GetFood(ctx, id)
}

func (s *service) GetMenu(ctx context.Context) (*Menu, error) {
	categories, err := s.repo.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("service: failed to list categories: %w", err)
	}

	items, err := s.repo.ListFood(ctx)
	if err != nil {
		return nil, fmt.Errorf("service: failed to list food: %w", err)
	}

	byCategory := make(map[int64][]Food, len(categories))
	for _, f := range items {
		byCategory[f.CategoryID] = append(byCategory[f.CategoryID], f)
	}

	menu := &Menu{Categories: make([]MenuCategory, 0, len(categories))}
	for _, c := range categories {
		menu.Categories = append(menu.Categories, MenuCategory{
			Category: c,
			Items:    byCategory[c.ID],
		})
	}

	return menu, nil
}
