package models

// Category groups menu items. IDs are unique within a tenant.
type Category struct {
	TenantID string `json:"tenant_id" gorm:"primaryKey;size:64" koanf:"tenant_id"`
	ID       string `json:"id" gorm:"primaryKey;size:64" koanf:"id"`
	Name     string `json:"name" koanf:"name"`
	Position int    `json:"position" koanf:"position"`
}

// Item is a sellable menu entry. Prices are in minor currency units.
type Item struct {
	TenantID    string `json:"tenant_id" gorm:"primaryKey;size:64" koanf:"tenant_id"`
	ID          string `json:"id" gorm:"primaryKey;size:64" koanf:"id"`
	CategoryID  string `json:"category_id" gorm:"index;size:64" koanf:"category_id"`
	Name        string `json:"name" koanf:"name"`
	Description string `json:"description" koanf:"description"`
	Price       int64  `json:"price" koanf:"price"`
	Available   bool   `json:"available" koanf:"available"`
	ImageURL    string `json:"image_url" koanf:"image_url"`
	Position    int    `json:"position" koanf:"position"`
}

// CategoryPage is one page of a paged category listing
type CategoryPage struct {
	Categories []Category `json:"categories"`
	Page       int        `json:"page"`
	HasMore    bool       `json:"has_more"`
}

// ScopeKind names what a fuzzy lookup is allowed to match
type ScopeKind string

const (
	ScopeCategories ScopeKind = "categories"
	ScopeItems      ScopeKind = "items"
	ScopeBranches   ScopeKind = "branches"
)

// Scope restricts fuzzy matching to the customer's current browsing context
type Scope struct {
	Kind       ScopeKind `json:"kind"`
	CategoryID string    `json:"category_id,omitempty"` // required for ScopeItems
}

// Entity is the result of a fuzzy catalog lookup
type Entity struct {
	Kind  ScopeKind `json:"kind"`
	ID    string    `json:"id"`
	Name  string    `json:"name"`
	Score int       `json:"score"` // edit distance, lower is closer
}
