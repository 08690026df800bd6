package models

import "time"

type ExecStatus string

const (
	ExecStatusPending  ExecStatus = "pending"
	ExecStatusRunning  ExecStatus = "running"
	ExecStatusComplete ExecStatus = "complete"
	ExecStatusFailed   ExecStatus = "failed"
)

// Execution is one node visit inside a run.
type Execution struct {
	ID          int64          `json:"id"`
	RunID       int64          `json:"run_id"`
	Node        string         `json:"node"`
	Status      ExecStatus     `json:"status"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Detail      map[string]any `json:"detail,omitempty"`
	SequenceNum int            `json:"sequence_num"`
	Attempt     int            `json:"attempt,omitempty"` // SQL attempt number for sql_gen and executor visits
}
