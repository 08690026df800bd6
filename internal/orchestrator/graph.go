package orchestrator

import (
	"fmt"
	"strings"

	"github.com/mpataki/analyst/internal/models"
)

type Node string

const (
	NodeRouter      Node = "router"
	NodeRetrieval   Node = "retrieval"
	NodePlanner     Node = "planner"
	NodeSQLGen      Node = "sql_gen"
	NodeExecutor    Node = "executor"
	NodeSynthesizer Node = "synthesizer"
	NodeEnd         Node = "END"
)

// MaxRepairs caps regenerations after a failed execution, so a request makes
// at most MaxRepairs+1 SQL attempts.
const MaxRepairs = 2

// Nodes lists the workflow steps in entry order.
var Nodes = []Node{NodeRouter, NodeRetrieval, NodePlanner, NodeSQLGen, NodeExecutor, NodeSynthesizer}

// Next is the transition function. It reads the state and never modifies it.
func Next(node Node, s models.State) Node {
	switch node {
	case NodeRouter:
		if s.Route.UsesRetrieval() {
			return NodeRetrieval
		}
		return NodePlanner
	case NodeRetrieval:
		if s.Route.UsesSQL() {
			return NodePlanner
		}
		return NodeSynthesizer
	case NodePlanner:
		return NodeSQLGen
	case NodeSQLGen:
		return NodeExecutor
	case NodeExecutor:
		if s.SQLResult.Failed() && repairsUsed(s) < MaxRepairs {
			return NodeSQLGen
		}
		return NodeSynthesizer
	default:
		return NodeEnd
	}
}

// repairsUsed is ErrorCount-1: ErrorCount counts failed executions, so the
// first failure has used no repairs yet.
func repairsUsed(s models.State) int {
	return s.ErrorCount - 1
}

type Edge struct {
	From, To Node
	When     string
}

// Edges describes the graph for display.
func Edges() []Edge {
	return []Edge{
		{NodeRouter, NodeRetrieval, "route is rag or hybrid"},
		{NodeRouter, NodePlanner, "route is sql"},
		{NodeRetrieval, NodePlanner, "route is sql or hybrid"},
		{NodeRetrieval, NodeSynthesizer, "route is rag"},
		{NodePlanner, NodeSQLGen, ""},
		{NodeSQLGen, NodeExecutor, ""},
		{NodeExecutor, NodeSQLGen, fmt.Sprintf("sql error and fewer than %d repairs", MaxRepairs)},
		{NodeExecutor, NodeSynthesizer, "success or repairs exhausted"},
		{NodeSynthesizer, NodeEnd, ""},
	}
}

// Mermaid renders the graph as a mermaid flowchart.
func Mermaid() string {
	var b strings.Builder
	b.WriteString("graph TD\n")
	b.WriteString("    START([start]) --> router\n")
	for _, e := range Edges() {
		to := string(e.To)
		if e.To == NodeEnd {
			to = "END([end])"
		}
		if e.When == "" {
			fmt.Fprintf(&b, "    %s --> %s\n", e.From, to)
		} else {
			fmt.Fprintf(&b, "    %s -->|%s| %s\n", e.From, e.When, to)
		}
	}
	return b.String()
}
