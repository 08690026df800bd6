package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mpataki/analyst/internal/config"
)

func synthPrompt() Prompt {
	return Prompt{
		Name:        "synthesizer",
		Instruction: "Answer the question.",
		Inputs: []Field{
			{Name: "question", Desc: "the question", Value: "How many orders?"},
		},
		Outputs: []Field{
			{Name: "final_answer", Desc: "the answer"},
			{Name: "explanation", Desc: "how it was derived", Optional: true},
		},
	}
}

func TestRender(t *testing.T) {
	text := synthPrompt().Render()

	assert.Contains(t, text, "Answer the question.")
	assert.Contains(t, text, "- question: the question")
	assert.Contains(t, text, "[[ ## question ## ]]\nHow many orders?")
	assert.Contains(t, text, "[[ ## final_answer ## ]]")
	assert.Contains(t, text, "[[ ## completed ## ]]")
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		prompt  Prompt
		reply   string
		want    map[string]string
		wantErr error
	}{
		{
			name:   "marked sections",
			prompt: synthPrompt(),
			reply:  "[[ ## final_answer ## ]]\n14\n\n[[ ## explanation ## ]]\nCounted 1997 orders.\n[[ ## completed ## ]]",
			want:   map[string]string{"final_answer": "14", "explanation": "Counted 1997 orders."},
		},
		{
			name:   "labelled lines",
			prompt: synthPrompt(),
			reply:  "Final Answer: 14\nExplanation: counted\nrows in Orders",
			want:   map[string]string{"final_answer": "14", "explanation": "counted\nrows in Orders"},
		},
		{
			name:   "optional output missing",
			prompt: synthPrompt(),
			reply:  "[[ ## final_answer ## ]] 14",
			want:   map[string]string{"final_answer": "14"},
		},
		{
			name: "single output takes whole reply",
			prompt: Prompt{
				Name:    "router",
				Outputs: []Field{{Name: "tool_choice"}},
			},
			reply: "  SQL \n[[ ## completed ## ]]",
			want:  map[string]string{"tool_choice": "SQL"},
		},
		{
			name:   "sole required output takes whole reply",
			prompt: synthPrompt(),
			reply:  "14 orders",
			want:   map[string]string{"final_answer": "14 orders"},
		},
		{
			name: "required output missing",
			prompt: Prompt{
				Name:    "pair",
				Outputs: []Field{{Name: "final_answer"}, {Name: "explanation"}},
			},
			reply:   "I am not sure.",
			wantErr: ErrMissingField,
		},
		{
			name:    "empty reply",
			prompt:  synthPrompt(),
			reply:   " \n ",
			wantErr: ErrEmptyResponse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.prompt.Parse(tt.reply)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Fields)
			assert.Equal(t, tt.reply, got.Raw)
		})
	}
}

type generatorFunc func(ctx context.Context, prompt string) (string, error)

func (f generatorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

func TestClientComplete(t *testing.T) {
	var seen string
	c := NewClient(generatorFunc(func(ctx context.Context, prompt string) (string, error) {
		seen = prompt
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		return "[[ ## final_answer ## ]]\n42", nil
	}), time.Second, zap.NewNop())

	out, err := c.Complete(context.Background(), synthPrompt())
	require.NoError(t, err)
	assert.Equal(t, "42", out.Get("final_answer"))
	assert.Contains(t, seen, "How many orders?")
}

func TestClientCompleteErrors(t *testing.T) {
	boom := errors.New("connection refused")
	c := NewClient(generatorFunc(func(context.Context, string) (string, error) {
		return "", boom
	}), 0, nil)

	_, err := c.Complete(context.Background(), synthPrompt())
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "synthesizer completion")

	c = NewClient(generatorFunc(func(context.Context, string) (string, error) {
		return "", nil
	}), 0, nil)
	_, err = c.Complete(context.Background(), synthPrompt())
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestOpenAIGenerator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)

		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "test-model", body.Model)
		require.Len(t, body.Messages, 2)
		assert.Equal(t, "hello", body.Messages[1].Content)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"sql"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	gen := NewOpenAIGenerator("key", "test-model", srv.URL, 0)
	reply, err := gen.Generate(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "sql", reply)
}

func TestFactory(t *testing.T) {
	c, err := New(config.LLMConfig{Provider: "openai", Model: "gpt-4o-mini", APIKey: "k", Timeout: time.Second}, zap.NewNop())
	require.NoError(t, err)
	assert.NotNil(t, c)

	c, err = New(config.LLMConfig{Provider: "ollama", Model: "phi3.5", Timeout: time.Second}, nil)
	require.NoError(t, err)
	assert.NotNil(t, c)

	_, err = New(config.LLMConfig{Provider: "bedrock"}, nil)
	assert.ErrorContains(t, err, "unsupported LLM provider")
}
