package sqltool

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/mpataki/analyst/internal/models"
	_ "modernc.org/sqlite"
)

// Tables is the allowlist exposed to the SQL generator and used for
// table citations.
var Tables = []string{"Orders", "Order Details", "Products", "Customers"}

type Option func(*Tool)

// WithReadOnly opens the database in read-only mode.
func WithReadOnly(readOnly bool) Option {
	return func(t *Tool) { t.readOnly = readOnly }
}

// WithQueryTimeout bounds every Schema and Execute call.
func WithQueryTimeout(d time.Duration) Option {
	return func(t *Tool) { t.timeout = d }
}

// Tool runs queries against the Northwind SQLite file. Every call opens
// and closes its own connection.
type Tool struct {
	path     string
	readOnly bool
	timeout  time.Duration
}

func New(path string, opts ...Option) *Tool {
	t := &Tool{path: path}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tool) Path() string {
	return t.path
}

func (t *Tool) dsn() string {
	if t.readOnly {
		return "file:" + t.path + "?mode=ro"
	}
	return t.path
}

func (t *Tool) open(ctx context.Context) (*sql.DB, context.Context, context.CancelFunc, error) {
	cancel := context.CancelFunc(func() {})
	if t.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
	}
	db, err := sql.Open("sqlite", t.dsn())
	if err != nil {
		cancel()
		return nil, nil, nil, err
	}
	db.SetMaxOpenConns(1)
	return db, ctx, cancel, nil
}

// Schema returns the CREATE statements of the allowlisted tables joined by
// blank lines. Missing tables are omitted. Failures are returned as text.
func (t *Tool) Schema(ctx context.Context) string {
	schema, err := t.schema(ctx)
	if err != nil {
		return fmt.Sprintf("Error retrieving schema: %v", err)
	}
	return schema
}

func (t *Tool) schema(ctx context.Context) (string, error) {
	db, ctx, cancel, err := t.open(ctx)
	if err != nil {
		return "", err
	}
	defer cancel()
	defer db.Close()

	var statements []string
	for _, table := range Tables {
		var stmt sql.NullString
		err := db.QueryRowContext(ctx,
			`SELECT sql FROM sqlite_master WHERE name = ? AND type IN ('table', 'view')`,
			table,
		).Scan(&stmt)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return "", err
		}
		if stmt.Valid {
			statements = append(statements, stmt.String)
		}
	}
	return strings.Join(statements, "\n\n"), nil
}

// Execute runs query and captures either its result set or its error. It
// never returns a Go error.
func (t *Tool) Execute(ctx context.Context, query string) (result *models.SQLResult) {
	defer func() {
		if r := recover(); r != nil {
			result = &models.SQLResult{Error: fmt.Sprintf("panic during query execution: %v", r)}
		}
	}()

	columns, rows, err := t.execute(ctx, query)
	if err != nil {
		return &models.SQLResult{Error: err.Error()}
	}
	return &models.SQLResult{Columns: columns, Rows: rows}
}

func (t *Tool) execute(ctx context.Context, query string) ([]string, [][]any, error) {
	db, ctx, cancel, err := t.open(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer cancel()
	defer db.Close()

	rs, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, nil, err
	}
	defer rs.Close()

	columns, err := rs.Columns()
	if err != nil {
		return nil, nil, err
	}

	var rows [][]any
	for rs.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rs.Scan(ptrs...); err != nil {
			return nil, nil, err
		}
		for i, v := range values {
			values[i] = normalize(v)
		}
		rows = append(rows, values)
	}
	if err := rs.Err(); err != nil {
		return nil, nil, err
	}

	if len(columns) == 0 {
		return []string{}, [][]any{}, nil
	}
	if rows == nil {
		rows = [][]any{}
	}
	return columns, rows, nil
}

func normalize(v any) any {
	switch val := v.(type) {
	case []byte:
		return string(val)
	case time.Time:
		if val.Hour() == 0 && val.Minute() == 0 && val.Second() == 0 {
			return val.Format("2006-01-02")
		}
		return val.Format("2006-01-02 15:04:05")
	default:
		return val
	}
}
