package models

import "time"

// Criterion is one weighted, bounded grading dimension within a scale.
type Criterion struct {
	ID          string    `db:"id" json:"id"`
	ScaleID     string    `db:"scale_id" json:"scale_id"`
	Description string    `db:"description" json:"description"`
	Skill       string    `db:"skill" json:"skill"`
	MaxPoints   float64   `db:"max_points" json:"max_points"`
	Coefficient float64   `db:"coefficient" json:"coefficient"`
	Position    int       `db:"position" json:"position"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Scale is a named, ordered set of weighted grading criteria owned by a teacher or admin.
type Scale struct {
	ID          string      `db:"id" json:"id"`
	Title       string      `db:"title" json:"title"`
	Description *string     `db:"description" json:"description,omitempty"`
	CreatorID   string      `db:"creator_id" json:"creator_id"`
	Shared      bool        `db:"shared" json:"shared"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time   `db:"updated_at" json:"updated_at"`
	Criteria    []Criterion `json:"criteria,omitempty"`
}

// ScaleFilter scopes scale listings.
type ScaleFilter struct {
	CreatorID string
	Shared    *bool
	Search    string
	Page      int
	PageSize  int
}
