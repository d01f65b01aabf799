package storage

import (
	"context"
	"fmt"

	"github.com/Ananth-NQI/orderbot-backend/internal/models"
	"github.com/Ananth-NQI/orderbot-backend/internal/utils"
)

// ScopedLister is the subset of catalog access fuzzy lookup needs
type ScopedLister interface {
	ListCategories(ctx context.Context, tenantID string, page, pageSize int) (*models.CategoryPage, error)
	ListItems(ctx context.Context, tenantID, categoryID string) ([]models.Item, error)
	ListBranches(ctx context.Context, tenantID string) ([]models.Branch, error)
}

// FuzzyFind matches free text against only the entities visible in scope, so
// an item sharing a category's name elsewhere can never be picked out of context.
func FuzzyFind(ctx context.Context, l ScopedLister, tenantID string, scope models.Scope, text string) (*models.Entity, error) {
	var candidates []utils.Candidate

	switch scope.Kind {
	case models.ScopeCategories:
		page, err := l.ListCategories(ctx, tenantID, 0, 0)
		if err != nil {
			return nil, err
		}
		for _, c := range page.Categories {
			candidates = append(candidates, utils.Candidate{ID: c.ID, Name: c.Name})
		}
	case models.ScopeItems:
		if scope.CategoryID == "" {
			return nil, fmt.Errorf("item scope requires a category")
		}
		items, err := l.ListItems(ctx, tenantID, scope.CategoryID)
		if err != nil {
			return nil, err
		}
		for _, it := range items {
			if it.Available {
				candidates = append(candidates, utils.Candidate{ID: it.ID, Name: it.Name})
			}
		}
	case models.ScopeBranches:
		branches, err := l.ListBranches(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		for _, b := range branches {
			candidates = append(candidates, utils.Candidate{ID: b.ID, Name: b.Name})
		}
	default:
		return nil, fmt.Errorf("unknown scope %q", scope.Kind)
	}

	m, ok := utils.BestMatch(text, candidates)
	if !ok {
		return nil, nil
	}
	return &models.Entity{Kind: scope.Kind, ID: m.ID, Name: m.Name, Score: m.Distance}, nil
}

// PageCategories slices a full listing into one page
func PageCategories(all []models.Category, page, pageSize int) *models.CategoryPage {
	if pageSize <= 0 {
		return &models.CategoryPage{Categories: all, Page: 0}
	}
	if page < 0 {
		page = 0
	}
	start := page * pageSize
	if start > len(all) {
		start = len(all)
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	return &models.CategoryPage{
		Categories: all[start:end],
		Page:       page,
		HasMore:    end < len(all),
	}
}
