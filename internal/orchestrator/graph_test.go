package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mpataki/analyst/internal/models"
)

func TestNext(t *testing.T) {
	failed := &models.SQLResult{Error: "no such column: x"}
	ok := &models.SQLResult{Columns: []string{"n"}, Rows: [][]any{{int64(1)}}}

	tests := []struct {
		name  string
		node  Node
		state models.State
		want  Node
	}{
		{"router to retrieval for rag", NodeRouter, models.State{Route: models.RouteRAG}, NodeRetrieval},
		{"router to retrieval for hybrid", NodeRouter, models.State{Route: models.RouteHybrid}, NodeRetrieval},
		{"router to planner for sql", NodeRouter, models.State{Route: models.RouteSQL}, NodePlanner},
		{"retrieval to synthesizer for rag", NodeRetrieval, models.State{Route: models.RouteRAG}, NodeSynthesizer},
		{"retrieval to planner for hybrid", NodeRetrieval, models.State{Route: models.RouteHybrid}, NodePlanner},
		{"planner", NodePlanner, models.State{}, NodeSQLGen},
		{"sql_gen", NodeSQLGen, models.State{}, NodeExecutor},
		{"success", NodeExecutor, models.State{SQLResult: ok}, NodeSynthesizer},
		{"first failure repairs", NodeExecutor, models.State{SQLResult: failed, ErrorCount: 1}, NodeSQLGen},
		{"second failure repairs", NodeExecutor, models.State{SQLResult: failed, ErrorCount: 2}, NodeSQLGen},
		{"third failure gives up", NodeExecutor, models.State{SQLResult: failed, ErrorCount: 3}, NodeSynthesizer},
		{"synthesizer ends", NodeSynthesizer, models.State{}, NodeEnd},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Next(tt.node, tt.state))
		})
	}
}

func TestMermaid(t *testing.T) {
	out := Mermaid()
	assert.Contains(t, out, "graph TD")
	assert.Contains(t, out, "START([start]) --> router")
	assert.Contains(t, out, "synthesizer --> END([end])")
	assert.Contains(t, out, "executor -->|sql error and fewer than 2 repairs| sql_gen")
}

func TestCitations(t *testing.T) {
	docs := []models.Document{{ID: "b.md::chunk_1"}, {ID: "a.md::chunk_0"}, {ID: "b.md::chunk_1"}}

	tests := []struct {
		name  string
		state models.State
		want  []string
	}{
		{"empty", models.State{}, []string{}},
		{"docs sorted and deduplicated", models.State{Documents: docs}, []string{"a.md::chunk_0", "b.md::chunk_1"}},
		{
			"tables from successful query",
			models.State{
				SQLQuery:  `SELECT * FROM Orders o JOIN "Order Details" od ON o.OrderID = od.OrderID JOIN Products p`,
				SQLResult: &models.SQLResult{},
			},
			[]string{"Table: Order Details", "Table: Orders", "Table: Products"},
		},
		{
			"failed query cites no tables",
			models.State{SQLQuery: "SELECT * FROM Customers", SQLResult: &models.SQLResult{Error: "boom"}},
			[]string{},
		},
		{
			"docs and tables",
			models.State{Documents: docs[:1], SQLQuery: "SELECT * FROM Customers", SQLResult: &models.SQLResult{}},
			[]string{"Table: Customers", "b.md::chunk_1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Citations(tt.state))
		})
	}
}

func TestConfidence(t *testing.T) {
	docs := []models.Document{{ID: "a"}}
	assert.Equal(t, 0.3, Confidence(models.State{Documents: docs, SQLResult: &models.SQLResult{Error: "x"}}))
	assert.Equal(t, 0.9, Confidence(models.State{Documents: docs, SQLResult: &models.SQLResult{}}))
	assert.Equal(t, 0.9, Confidence(models.State{Documents: docs}))
	assert.Equal(t, 0.7, Confidence(models.State{SQLResult: &models.SQLResult{}}))
	assert.Equal(t, 0.7, Confidence(models.State{}))
}
