package workspace

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite"
)

const manifestName = "workspace.json"

// Workspace is the on-disk layout the agent reads from: the document
// corpus, the Northwind database and an optional planner script.
type Workspace struct {
	Path          string
	DocsDir       string
	NorthwindPath string
	PlannerPath   string
}

type Manifest struct {
	SeededAt      time.Time `json:"seeded_at"`
	DocsDir       string    `json:"docs_dir"`
	NorthwindPath string    `json:"northwind_path"`
	PlannerPath   string    `json:"planner_path"`
	Documents     []string  `json:"documents"`
	Orders        int       `json:"orders"`
}

func New(path, docsDir, northwindPath string) *Workspace {
	return &Workspace{
		Path:          path,
		DocsDir:       docsDir,
		NorthwindPath: northwindPath,
		PlannerPath:   filepath.Join(path, "planner.lua"),
	}
}

// Create seeds the corpus, the database and an example planner script.
// Existing files are kept unless force is set.
func (w *Workspace) Create(force bool) (*Manifest, error) {
	dirs := []string{w.Path, w.DocsDir, filepath.Dir(w.NorthwindPath)}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	names := make([]string, 0, len(documents))
	for name, content := range documents {
		if err := writeFile(filepath.Join(w.DocsDir, name), content, force); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	sort.Strings(names)

	if err := writeFile(w.PlannerPath, examplePlanner, force); err != nil {
		return nil, err
	}

	if force {
		if err := os.Remove(w.NorthwindPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to remove database: %w", err)
		}
	}
	if _, err := os.Stat(w.NorthwindPath); errors.Is(err, fs.ErrNotExist) {
		if err := SeedNorthwind(w.NorthwindPath); err != nil {
			return nil, err
		}
	}

	orders, err := countOrders(w.NorthwindPath)
	if err != nil {
		return nil, err
	}

	m := &Manifest{
		SeededAt:      time.Now(),
		DocsDir:       w.DocsDir,
		NorthwindPath: w.NorthwindPath,
		PlannerPath:   w.PlannerPath,
		Documents:     names,
		Orders:        orders,
	}
	if err := w.WriteManifest(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Open loads a previously seeded workspace.
func Open(path string) (*Workspace, *Manifest, error) {
	data, err := os.ReadFile(filepath.Join(path, manifestName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fmt.Errorf("workspace %s has not been seeded", path)
		}
		return nil, nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	w := &Workspace{
		Path:          path,
		DocsDir:       m.DocsDir,
		NorthwindPath: m.NorthwindPath,
		PlannerPath:   m.PlannerPath,
	}
	return w, &m, nil
}

func (w *Workspace) WriteManifest(m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(w.Path, manifestName), data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", manifestName, err)
	}
	return nil
}

func writeFile(path, content string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// SeedNorthwind creates a small Northwind sample database at path.
func SeedNorthwind(path string) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return err
	}
	defer db.Close()

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(northwindSchema); err != nil {
		return fmt.Errorf("failed to create northwind schema: %w", err)
	}
	if _, err := tx.Exec(northwindData); err != nil {
		return fmt.Errorf("failed to insert northwind data: %w", err)
	}
	return tx.Commit()
}

func countOrders(path string) (int, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM Orders`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to inspect northwind database: %w", err)
	}
	return n, nil
}
