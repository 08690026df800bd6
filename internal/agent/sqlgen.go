package agent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mpataki/analyst/internal/llm"
)

const (
	// BaseConstraints is the dialect guidance sent with every generation.
	BaseConstraints = "Use SQLite syntax. Table names with spaces use [brackets]. Join tables appropriately. For date functions, use strftime (e.g., strftime('%Y', OrderDate) for year)."

	// PlaceholderQuery is emitted when generation itself fails. It executes
	// cleanly so the workflow can still reach synthesis.
	PlaceholderQuery = "SELECT 'Error generating query' AS error"

	sqlInstruction = `Generate a SQL query based on the question, database schema, and constraints.
Think step by step, then give only the SQL statement in the sql_query field.

Important: If CostOfGoods is missing, assume it is 0.7 * UnitPrice.`
)

// RepairConstraints appends the failing query and its error to the base
// constraints.
func RepairConstraints(constraints, query, execErr string) string {
	return fmt.Sprintf("%s\n\nPrevious query failed:\nQuery: %s\nError: %s\nPlease fix the error and generate a corrected query.",
		constraints, query, execErr)
}

type SQLGenerator struct {
	llm llm.Completer
	log *zap.Logger
}

func NewSQLGenerator(c llm.Completer, log *zap.Logger) *SQLGenerator {
	return &SQLGenerator{llm: c, log: named(log, "sqlgen")}
}

// Generate asks the model for a query and strips any markdown fencing.
// Failures yield PlaceholderQuery together with the cause.
func (g *SQLGenerator) Generate(ctx context.Context, question, schema, constraints string) (string, error) {
	out, err := g.llm.Complete(ctx, llm.Prompt{
		Name:        "sql_generator",
		Instruction: sqlInstruction,
		Inputs: []llm.Field{
			{Name: "question", Desc: "User's question requiring SQL query", Value: question},
			{Name: "schema", Desc: "Database schema with table definitions", Value: schema},
			{Name: "constraints", Desc: "Additional constraints or rules for query generation", Value: constraints},
		},
		Outputs: []llm.Field{
			{Name: "reasoning", Desc: "Step by step reasoning about the query", Optional: true},
			{Name: "sql_query", Desc: "Valid SQL query to answer the question"},
		},
	})
	if err != nil {
		g.log.Warn("sql generation failed, using placeholder",
			zap.String("category", "generation_failure"),
			zap.Error(err),
		)
		return PlaceholderQuery, err
	}

	query := CleanSQL(out.Get("sql_query"))
	if query == "" {
		g.log.Warn("sql generation returned no query, using placeholder",
			zap.String("category", "generation_failure"),
		)
		return PlaceholderQuery, fmt.Errorf("sql_generator: %w", llm.ErrEmptyResponse)
	}
	return query, nil
}

// CleanSQL removes a surrounding markdown code fence.
func CleanSQL(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```sql")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
