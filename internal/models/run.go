package models

import "time"

type RunStatus string

const (
	RunStatusPending  RunStatus = "pending"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	// RunStatusDegraded marks a run whose final SQL attempt still failed.
	RunStatusDegraded RunStatus = "degraded"
	RunStatusFailed   RunStatus = "failed"
)

// Run is the persisted record of one question flowing through the workflow.
type Run struct {
	ID          int64      `json:"id"`
	RequestID   string     `json:"request_id"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Question    string     `json:"question"`
	FormatHint  string     `json:"format_hint"`
	Route       Route      `json:"route"`
	Status      RunStatus  `json:"status"`
	CurrentNode string     `json:"current_node"`
	SQLQuery    string     `json:"sql"`
	FinalAnswer string     `json:"final_answer"`
	Explanation string     `json:"explanation"`
	Confidence  float64    `json:"confidence"`
	Citations   []string   `json:"citations"`
	ErrorCount  int        `json:"error_count"`
}
