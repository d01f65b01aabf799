package storage

import (
	"fmt"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/Ananth-NQI/orderbot-backend/internal/models"
)

// Seed is the tenant and menu data loaded into a fresh store
type Seed struct {
	Tenants    []models.Tenant   `koanf:"tenants"`
	Branches   []models.Branch   `koanf:"branches"`
	Categories []models.Category `koanf:"categories"`
	Items      []models.Item     `koanf:"items"`
}

// LoadSeed reads a TOML seed file
func LoadSeed(path string) (*Seed, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
		return nil, fmt.Errorf("error loading seed %s: %w", path, err)
	}

	var seed Seed
	if err := k.Unmarshal("", &seed); err != nil {
		return nil, fmt.Errorf("error unmarshalling seed: %w", err)
	}
	if err := seed.Validate(); err != nil {
		return nil, err
	}
	return &seed, nil
}

// Validate checks that every reference in the seed resolves
func (s *Seed) Validate() error {
	tenants := map[string]bool{}
	for _, t := range s.Tenants {
		if t.ID == "" {
			return fmt.Errorf("seed: tenant without id")
		}
		tenants[t.ID] = true
	}
	// Catalog ids only need to be unique within a tenant
	type ref struct{ tenantID, id string }
	categories := map[ref]bool{}
	for _, c := range s.Categories {
		if !tenants[c.TenantID] {
			return fmt.Errorf("seed: category %s references unknown tenant %s", c.ID, c.TenantID)
		}
		categories[ref{c.TenantID, c.ID}] = true
	}
	for _, b := range s.Branches {
		if !tenants[b.TenantID] {
			return fmt.Errorf("seed: branch %s references unknown tenant %s", b.ID, b.TenantID)
		}
	}
	for _, it := range s.Items {
		if !categories[ref{it.TenantID, it.CategoryID}] {
			return fmt.Errorf("seed: item %s of tenant %s references unknown category %s", it.ID, it.TenantID, it.CategoryID)
		}
		if it.Price < 0 {
			return fmt.Errorf("seed: item %s has negative price", it.ID)
		}
	}
	return nil
}
