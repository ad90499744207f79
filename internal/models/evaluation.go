package models

import "time"

// EvaluationStatus is the lifecycle state of an evaluation.
type EvaluationStatus string

const (
	StatusDraft     EvaluationStatus = "draft"
	StatusPublished EvaluationStatus = "published"
	StatusArchived  EvaluationStatus = "archived"
)

// Valid reports whether the status is one of the three lifecycle states.
func (s EvaluationStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusPublished, StatusArchived:
		return true
	}
	return false
}

// Evaluation binds a student, a teacher and a scale with a lifecycle status.
// Version increments on every grade, comment or status mutation and backs
// optimistic concurrency checks.
type Evaluation struct {
	ID        string           `db:"id" json:"id"`
	Title     string           `db:"title" json:"title"`
	EvalDate  time.Time        `db:"eval_date" json:"eval_date"`
	StudentID string           `db:"student_id" json:"student_id"`
	TeacherID string           `db:"teacher_id" json:"teacher_id"`
	ScaleID   string           `db:"scale_id" json:"scale_id"`
	Status    EvaluationStatus `db:"status" json:"status"`
	Version   int64            `db:"version" json:"version"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt time.Time        `db:"updated_at" json:"updated_at"`
}

// Grade is the numeric value recorded for one criterion within one evaluation.
// Exactly one grade exists per (evaluation, criterion) pair.
type Grade struct {
	ID           string    `db:"id" json:"id"`
	EvaluationID string    `db:"evaluation_id" json:"evaluation_id"`
	CriterionID  string    `db:"criterion_id" json:"criterion_id"`
	Value        float64   `db:"value" json:"value"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Comment is an append-only teacher remark on an evaluation.
type Comment struct {
	ID           string    `db:"id" json:"id"`
	EvaluationID string    `db:"evaluation_id" json:"evaluation_id"`
	TeacherID    string    `db:"teacher_id" json:"teacher_id"`
	Text         string    `db:"text" json:"text"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// EvaluationFilter scopes evaluation listings.
type EvaluationFilter struct {
	TeacherID string
	StudentID string
	ScaleID   string
	Status    *EvaluationStatus
	// Statuses widens the filter to several statuses at once. Used for the
	// student default scope of published plus archived. Ignored when Status
	// is set.
	Statuses []EvaluationStatus
	Page     int
	PageSize int
}

// EvaluationDetail is the nested read model served by GET /evaluations/:id.
type EvaluationDetail struct {
	Evaluation
	Scale    *Scale            `json:"scale,omitempty"`
	Grades   []Grade           `json:"grades"`
	Comments []Comment         `json:"comments"`
	Summary  EvaluationSummary `json:"summary"`
}

// EvaluationSummary carries the derived numeric aggregates for an evaluation.
type EvaluationSummary struct {
	Total      float64          `json:"total"`
	Max        float64          `json:"max"`
	Percentage float64          `json:"percentage"`
	Progress   GradingProgress  `json:"progress"`
	Skills     []SkillBreakdown `json:"skills,omitempty"`
}

// GradingProgress tracks partial-completion of grading for an evaluation.
type GradingProgress struct {
	Total      int     `json:"total"`
	Graded     int     `json:"graded"`
	Percentage float64 `json:"percentage"`
}

// SkillBreakdown aggregates grades per associated-skill label.
type SkillBreakdown struct {
	Skill      string  `json:"skill"`
	Current    float64 `json:"current"`
	Max        float64 `json:"max"`
	Percentage float64 `json:"percentage"`
	Grades     []Grade `json:"grades,omitempty"`
}
