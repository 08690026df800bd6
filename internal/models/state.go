package models

import "strings"

type Route string

const (
	RouteRAG    Route = "rag"
	RouteSQL    Route = "sql"
	RouteHybrid Route = "hybrid"
)

// ParseRoute normalizes raw classifier output. Anything that is not one of
// the three known routes becomes RouteHybrid.
func ParseRoute(raw string) Route {
	switch r := Route(strings.ToLower(strings.TrimSpace(raw))); r {
	case RouteRAG, RouteSQL, RouteHybrid:
		return r
	default:
		return RouteHybrid
	}
}

// UsesRetrieval reports whether the route includes document retrieval.
func (r Route) UsesRetrieval() bool {
	return r == RouteRAG || r == RouteHybrid
}

// UsesSQL reports whether the route includes the SQL path.
func (r Route) UsesSQL() bool {
	return r == RouteSQL || r == RouteHybrid
}

const DefaultFormatHint = "string"

// Request is a single question as submitted by a caller.
type Request struct {
	ID         string `json:"id"`
	Question   string `json:"question" validate:"required"`
	FormatHint string `json:"format_hint"`
}

// Hint returns the format hint, defaulting to "string".
func (r Request) Hint() string {
	if strings.TrimSpace(r.FormatHint) == "" {
		return DefaultFormatHint
	}
	return r.FormatHint
}

// Document is one retrievable chunk of the corpus.
type Document struct {
	ID      string `json:"doc_id"`
	Content string `json:"content"`
}

// SQLResult is the outcome of executing one query. Exactly one of Error or
// the result set is meaningful.
type SQLResult struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
	Error   string   `json:"error,omitempty"`
}

// Failed reports whether the execution produced an error.
func (r *SQLResult) Failed() bool {
	return r != nil && r.Error != ""
}

// State is the record threaded through every workflow step. Steps receive
// it by value and return the updated copy.
type State struct {
	Question   string
	FormatHint string

	Route     Route
	Documents []Document

	Constraints string
	SQLQuery    string
	SQLResult   *SQLResult
	ErrorCount  int
	SQLAttempts int

	FinalAnswer string
	Explanation string
	Confidence  float64
	Citations   []string
}

// NewState creates the initial state for a request.
func NewState(req Request) State {
	return State{
		Question:   req.Question,
		FormatHint: req.Hint(),
	}
}

// Output is the externally visible answer for one request.
type Output struct {
	ID          string   `json:"id"`
	FinalAnswer any      `json:"final_answer"`
	SQL         string   `json:"sql"`
	Confidence  float64  `json:"confidence"`
	Explanation string   `json:"explanation"`
	Citations   []string `json:"citations"`
}
