package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mpataki/analyst/internal/llm"
	"github.com/mpataki/analyst/internal/models"
)

const (
	DefaultSynthesisHint = "Provide a clear, concise answer."
	FallbackAnswer       = "Unable to generate answer due to processing error."

	synthInstruction = `Synthesize a final answer from SQL data and/or RAG context.
Think step by step. The final_answer must follow the format hint exactly and contain only the answer.`
)

type Synthesizer struct {
	llm llm.Completer
	log *zap.Logger
}

func NewSynthesizer(c llm.Completer, log *zap.Logger) *Synthesizer {
	return &Synthesizer{llm: c, log: named(log, "synthesizer")}
}

// Synthesize produces the answer text and its explanation. On failure it
// returns FallbackAnswer and the error in the explanation.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, result *models.SQLResult, docs []models.Document, formatHint string) (answer, explanation string) {
	if strings.TrimSpace(formatHint) == "" {
		formatHint = DefaultSynthesisHint
	}

	out, err := s.llm.Complete(ctx, llm.Prompt{
		Name:        "synthesizer",
		Instruction: synthInstruction,
		Inputs: []llm.Field{
			{Name: "question", Desc: "Original user question", Value: question},
			{Name: "sql_data", Desc: "Data retrieved from SQL query (as string)", Value: SQLData(result)},
			{Name: "context", Desc: "Relevant context chunks from documentation", Value: contextBlock(docs)},
			{Name: "format_hint", Desc: "Hint about desired output format", Value: formatHint},
		},
		Outputs: []llm.Field{
			{Name: "reasoning", Desc: "Step by step reasoning", Optional: true},
			{Name: "final_answer", Desc: "Complete answer to the question"},
			{Name: "explanation", Desc: "Explanation of how the answer was derived", Optional: true},
		},
	})
	if err != nil {
		s.log.Warn("synthesis failed",
			zap.String("category", "synthesis_failure"),
			zap.Error(err),
		)
		return FallbackAnswer, fmt.Sprintf("Error: %v", err)
	}
	return out.Get("final_answer"), out.Get("explanation")
}

// SQLData renders an execution result for the prompt: the error text when it
// failed, indented JSON of columns and rows otherwise, empty when no query
// ran.
func SQLData(result *models.SQLResult) string {
	if result == nil {
		return ""
	}
	if result.Failed() {
		return "SQL Error: " + result.Error
	}

	columns, rows := result.Columns, result.Rows
	if columns == nil {
		columns = []string{}
	}
	if rows == nil {
		rows = [][]any{}
	}
	data, err := json.MarshalIndent(struct {
		Columns []string `json:"columns"`
		Rows    [][]any  `json:"rows"`
	}{columns, rows}, "", "  ")
	if err != nil {
		return "SQL Error: " + err.Error()
	}
	return string(data)
}

func contextBlock(docs []models.Document) string {
	parts := make([]string, 0, len(docs))
	for i, d := range docs {
		parts = append(parts, fmt.Sprintf("[%d] (%s) %s", i+1, d.ID, d.Content))
	}
	return strings.Join(parts, "\n\n")
}
