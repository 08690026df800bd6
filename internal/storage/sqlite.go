package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mpataki/analyst/internal/models"
	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("run not found")

type Storage struct {
	db *sql.DB
}

func New(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}
	// Batch runs write from several goroutines; serialize them on one
	// connection instead of fighting over the file lock.
	db.SetMaxOpenConns(1)

	s := &Storage{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		completed_at TIMESTAMP,
		question TEXT NOT NULL,
		format_hint TEXT NOT NULL DEFAULT 'string',
		route TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		current_node TEXT,
		sql_query TEXT,
		final_answer TEXT,
		explanation TEXT,
		confidence REAL NOT NULL DEFAULT 0,
		citations TEXT,
		error_count INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS executions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL REFERENCES runs(id),
		node TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		started_at TIMESTAMP,
		completed_at TIMESTAMP,
		detail TEXT,
		sequence_num INTEGER NOT NULL,
		attempt INTEGER NOT NULL DEFAULT 0,
		UNIQUE(run_id, sequence_num)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
	CREATE INDEX IF NOT EXISTS idx_runs_request ON runs(request_id);
	CREATE INDEX IF NOT EXISTS idx_executions_run ON executions(run_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

const runColumns = `id, request_id, created_at, completed_at, question, format_hint, route, status,
	current_node, sql_query, final_answer, explanation, confidence, citations, error_count`

func (s *Storage) CreateRun(run *models.Run) (int64, error) {
	citations, err := marshalJSON(run.Citations)
	if err != nil {
		return 0, err
	}

	result, err := s.db.Exec(
		`INSERT INTO runs (request_id, question, format_hint, route, status, current_node, citations)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.RequestID, run.Question, run.FormatHint, string(run.Route), run.Status, run.CurrentNode, citations,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*models.Run, error) {
	var run models.Run
	var completedAt sql.NullTime
	var route, currentNode, sqlQuery, finalAnswer, explanation, citations sql.NullString

	err := row.Scan(
		&run.ID, &run.RequestID, &run.CreatedAt, &completedAt, &run.Question, &run.FormatHint,
		&route, &run.Status, &currentNode, &sqlQuery, &finalAnswer, &explanation,
		&run.Confidence, &citations, &run.ErrorCount,
	)
	if err != nil {
		return nil, err
	}

	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	run.Route = models.Route(route.String)
	run.CurrentNode = currentNode.String
	run.SQLQuery = sqlQuery.String
	run.FinalAnswer = finalAnswer.String
	run.Explanation = explanation.String
	if citations.Valid && citations.String != "" {
		if err := json.Unmarshal([]byte(citations.String), &run.Citations); err != nil {
			return nil, fmt.Errorf("failed to decode citations for run %d: %w", run.ID, err)
		}
	}

	return &run, nil
}

func (s *Storage) GetRun(id int64) (*models.Run, error) {
	run, err := scanRun(s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return run, err
}

func (s *Storage) UpdateRun(run *models.Run) error {
	citations, err := marshalJSON(run.Citations)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(
		`UPDATE runs SET completed_at = ?, route = ?, status = ?, current_node = ?, sql_query = ?,
		 final_answer = ?, explanation = ?, confidence = ?, citations = ?, error_count = ?
		 WHERE id = ?`,
		run.CompletedAt, string(run.Route), run.Status, run.CurrentNode, run.SQLQuery,
		run.FinalAnswer, run.Explanation, run.Confidence, citations, run.ErrorCount, run.ID,
	)
	return err
}

func (s *Storage) ListRuns(limit int) ([]*models.Run, error) {
	rows, err := s.db.Query(
		`SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

func (s *Storage) CreateExecution(exec *models.Execution) (int64, error) {
	detail, err := marshalJSON(exec.Detail)
	if err != nil {
		return 0, err
	}

	result, err := s.db.Exec(
		`INSERT INTO executions (run_id, node, status, started_at, completed_at, detail, sequence_num, attempt)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.RunID, exec.Node, exec.Status, exec.StartedAt, exec.CompletedAt, detail, exec.SequenceNum, exec.Attempt,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *Storage) GetExecutionsForRun(runID int64) ([]*models.Execution, error) {
	rows, err := s.db.Query(
		`SELECT id, run_id, node, status, started_at, completed_at, detail, sequence_num, attempt
		 FROM executions WHERE run_id = ? ORDER BY sequence_num`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var execs []*models.Execution
	for rows.Next() {
		var exec models.Execution
		var detail sql.NullString
		var startedAt, completedAt sql.NullTime

		err := rows.Scan(
			&exec.ID, &exec.RunID, &exec.Node, &exec.Status,
			&startedAt, &completedAt, &detail, &exec.SequenceNum, &exec.Attempt,
		)
		if err != nil {
			return nil, err
		}

		if startedAt.Valid {
			exec.StartedAt = &startedAt.Time
		}
		if completedAt.Valid {
			exec.CompletedAt = &completedAt.Time
		}
		if detail.Valid {
			var d map[string]any
			if err := json.Unmarshal([]byte(detail.String), &d); err == nil {
				exec.Detail = d
			}
		}

		execs = append(execs, &exec)
	}

	return execs, rows.Err()
}

func (s *Storage) UpdateExecution(exec *models.Execution) error {
	detail, err := marshalJSON(exec.Detail)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(
		`UPDATE executions SET status = ?, started_at = ?, completed_at = ?, detail = ? WHERE id = ?`,
		exec.Status, exec.StartedAt, exec.CompletedAt, detail, exec.ID,
	)
	return err
}

func (s *Storage) DeleteRun(id int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM executions WHERE run_id = ?`, id); err != nil {
		return err
	}
	res, err := tx.Exec(`DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}

	return tx.Commit()
}

func marshalJSON(v any) (*string, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case []string:
		if val == nil {
			return nil, nil
		}
	case map[string]any:
		if val == nil {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	str := string(data)
	return &str, nil
}

// Helper to format time for display
func FormatTimeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return t.Format("Jan 2")
	}
}
