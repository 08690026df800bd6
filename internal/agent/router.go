package agent

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/mpataki/analyst/internal/llm"
	"github.com/mpataki/analyst/internal/models"
)

const routerInstruction = `Route the question to the appropriate tool: 'rag' for documentation lookup, 'sql' for database queries, or 'hybrid' for both.
Answer with exactly one word: rag, sql or hybrid.`

// Router classifies a question into a route. It never fails; anything it
// cannot classify becomes hybrid.
type Router struct {
	llm llm.Completer
	log *zap.Logger
}

func NewRouter(c llm.Completer, log *zap.Logger) *Router {
	return &Router{llm: c, log: named(log, "router")}
}

func (r *Router) Route(ctx context.Context, question string) models.Route {
	out, err := r.llm.Complete(ctx, llm.Prompt{
		Name:        "router",
		Instruction: routerInstruction,
		Inputs: []llm.Field{
			{Name: "question", Desc: "User's question about retail analytics", Value: question},
		},
		Outputs: []llm.Field{
			{Name: "tool_choice", Desc: "Tool to use: 'rag', 'sql', or 'hybrid'"},
		},
	})
	if err != nil {
		r.log.Warn("routing failed, defaulting to hybrid",
			zap.String("category", "routing_ambiguity"),
			zap.Error(err),
		)
		return models.RouteHybrid
	}

	raw := out.Get("tool_choice")
	route := models.ParseRoute(raw)
	if string(route) != normalized(raw) {
		r.log.Warn("unrecognised route, defaulting to hybrid",
			zap.String("category", "routing_ambiguity"),
			zap.String("raw", raw),
		)
	}
	return route
}

func named(log *zap.Logger, name string) *zap.Logger {
	if log == nil {
		return zap.NewNop()
	}
	return log.Named(name)
}

func normalized(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
