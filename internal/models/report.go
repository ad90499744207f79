package models

import "time"

// StudentPerformance aggregates a student's published and archived results.
type StudentPerformance struct {
	StudentID       string             `json:"student_id"`
	EvaluationCount int                `json:"evaluation_count"`
	AveragePercent  float64            `json:"average_percent"`
	Skills          []SkillPerformance `json:"skills"`
	Evaluations     []EvaluationResult `json:"evaluations"`
	GeneratedAt     time.Time          `json:"generated_at"`
}

// SkillPerformance sums a skill's points across a student's evaluations.
type SkillPerformance struct {
	Skill      string  `json:"skill"`
	Current    float64 `json:"current"`
	Max        float64 `json:"max"`
	Percentage float64 `json:"percentage"`
}

// EvaluationResult is one scored evaluation row in a performance report.
type EvaluationResult struct {
	EvaluationID string           `json:"evaluation_id"`
	Title        string           `json:"title"`
	EvalDate     time.Time        `json:"eval_date"`
	Status       EvaluationStatus `json:"status"`
	Total        float64          `json:"total"`
	Max          float64          `json:"max"`
	Percentage   float64          `json:"percentage"`
}

// TeacherDashboard summarises a teacher's evaluation workload.
type TeacherDashboard struct {
	TeacherID      string    `json:"teacher_id"`
	DraftCount     int       `json:"draft_count"`
	PublishedCount int       `json:"published_count"`
	ArchivedCount  int       `json:"archived_count"`
	ScaleCount     int       `json:"scale_count"`
	GeneratedAt    time.Time `json:"generated_at"`
}

// StatusCount is a per-status tally used by dashboards.
type StatusCount struct {
	Status EvaluationStatus `db:"status" json:"status"`
	Count  int              `db:"count" json:"count"`
}

// SystemMetrics is a lightweight snapshot of runtime counters.
type SystemMetrics struct {
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}

// AdminOverview aggregates platform-wide counts for administrators.
type AdminOverview struct {
	UserCount       int           `json:"user_count"`
	TeacherCount    int           `json:"teacher_count"`
	StudentCount    int           `json:"student_count"`
	ScaleCount      int           `json:"scale_count"`
	EvaluationCount int           `json:"evaluation_count"`
	ByStatus        []StatusCount `json:"by_status"`
	GeneratedAt     time.Time     `json:"generated_at"`
}
