package workspace

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/analyst/internal/lua"
	"github.com/mpataki/analyst/internal/models"
)

func newWorkspace(t *testing.T) *Workspace {
	t.Helper()
	dir := t.TempDir()
	return New(dir, filepath.Join(dir, "docs"), filepath.Join(dir, "data", "northwind.sqlite"))
}

func TestCreate(t *testing.T) {
	w := newWorkspace(t)

	m, err := w.Create(false)
	require.NoError(t, err)
	assert.Equal(t, []string{"catalog.md", "kpi_definitions.md", "marketing_calendar.md", "product_policy.md"}, m.Documents)
	assert.Equal(t, 18, m.Orders)

	data, err := os.ReadFile(filepath.Join(w.DocsDir, "product_policy.md"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "Beverages unopened: 14 days")

	db, err := sql.Open("sqlite", w.NorthwindPath)
	require.NoError(t, err)
	defer db.Close()

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM Orders WHERE strftime('%Y', OrderDate) = '1997'`).Scan(&n))
	assert.Equal(t, 12, n)
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM [Order Details]`).Scan(&n))
	assert.Equal(t, 19, n)
	var name string
	require.NoError(t, db.QueryRow(`SELECT ProductName FROM Products WHERE ProductID = 4`).Scan(&name))
	assert.Equal(t, "Chef Anton's Cajun Seasoning", name)
}

func TestCreateKeepsExistingFiles(t *testing.T) {
	w := newWorkspace(t)
	_, err := w.Create(false)
	require.NoError(t, err)

	custom := filepath.Join(w.DocsDir, "catalog.md")
	require.NoError(t, os.WriteFile(custom, []byte("# Custom"), 0644))

	_, err = w.Create(false)
	require.NoError(t, err)
	data, _ := os.ReadFile(custom)
	assert.Equal(t, "# Custom", string(data))

	m, err := w.Create(true)
	require.NoError(t, err)
	data, _ = os.ReadFile(custom)
	assert.Contains(t, string(data), "Catalog Snapshot")
	assert.Equal(t, 18, m.Orders)
}

func TestOpen(t *testing.T) {
	w := newWorkspace(t)

	_, _, err := Open(w.Path)
	assert.ErrorContains(t, err, "has not been seeded")

	_, err = w.Create(false)
	require.NoError(t, err)

	opened, m, err := Open(w.Path)
	require.NoError(t, err)
	assert.Equal(t, w.NorthwindPath, opened.NorthwindPath)
	assert.Equal(t, w.PlannerPath, opened.PlannerPath)
	assert.Len(t, m.Documents, 4)
}

func TestExamplePlanner(t *testing.T) {
	w := newWorkspace(t)
	_, err := w.Create(false)
	require.NoError(t, err)

	p, err := lua.NewPlanner(w.PlannerPath, nil)
	require.NoError(t, err)

	got, err := p.Plan(context.Background(), models.State{
		Question: "Total revenue from Beverages during Summer Beverages 1997?",
		Documents: []models.Document{
			{ID: "marketing_calendar.md::chunk_1", Content: "Summer Beverages 1997\n- Dates: 1997-06-01 to 1997-06-30"},
			{ID: "marketing_calendar.md::chunk_2", Content: "Winter Classics 1997\n- Dates: 1997-12-01 to 1997-12-31"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Restrict OrderDate BETWEEN '1997-06-01' AND '1997-06-30'.",
		"Filter years with strftime('%Y', OrderDate) = '1997'.",
	}, got)
}
