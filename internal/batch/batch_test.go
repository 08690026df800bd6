package batch

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mpataki/analyst/internal/models"
)

type echo struct {
	mu       sync.Mutex
	seen     []string
	inFlight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
}

func (e *echo) Answer(_ context.Context, req models.Request) models.Output {
	n := e.inFlight.Add(1)
	defer e.inFlight.Add(-1)
	for {
		p := e.peak.Load()
		if n <= p || e.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(e.delay)

	e.mu.Lock()
	e.seen = append(e.seen, req.ID)
	e.mu.Unlock()
	return models.Output{
		ID:          req.ID,
		FinalAnswer: req.Question,
		Confidence:  0.7,
		Citations:   []string{},
	}
}

const input = `{"id": "a", "question": "How many orders in 1997?", "format_hint": "int"}

not json
{"id": "b", "question": ""}
{"question": "What is the return window?"}
{"id": "c", "question": "Top product?"}
`

func TestRead(t *testing.T) {
	r := NewRunner(&echo{}, 1, zap.NewNop())

	reqs, skipped, err := r.Read(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, 2, skipped)
	require.Len(t, reqs, 3)
	assert.Equal(t, "a", reqs[0].ID)
	assert.Equal(t, "int", reqs[0].FormatHint)
	assert.Equal(t, "5", reqs[1].ID)
	assert.Equal(t, "c", reqs[2].ID)
}

func TestReadSkipsOversizedLine(t *testing.T) {
	r := NewRunner(&echo{}, 1, zap.NewNop())
	huge := `{"id": "big", "question": "` + strings.Repeat("x", 2*maxLine) + `"}`
	in := `{"id": "a", "question": "first"}` + "\n" + huge + "\n" + `{"id": "c", "question": "last"}`

	reqs, skipped, err := r.Read(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)
	require.Len(t, reqs, 2)
	assert.Equal(t, "a", reqs[0].ID)
	assert.Equal(t, "c", reqs[1].ID)
	assert.Equal(t, "last", reqs[1].Question)
}

func TestRunPreservesOrder(t *testing.T) {
	e := &echo{delay: 5 * time.Millisecond}
	r := NewRunner(e, 3, nil)

	var out bytes.Buffer
	sum, err := r.Run(context.Background(), strings.NewReader(input), &out)
	require.NoError(t, err)
	assert.Equal(t, Summary{Processed: 3, Skipped: 2}, sum)

	var ids []string
	sc := bufio.NewScanner(&out)
	for sc.Scan() {
		var o map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &o))
		assert.ElementsMatch(t,
			[]string{"id", "final_answer", "sql", "confidence", "explanation", "citations"},
			keys(o),
		)
		ids = append(ids, o["id"].(string))
	}
	assert.Equal(t, []string{"a", "5", "c"}, ids)
	assert.Len(t, e.seen, 3)
}

func TestAnswerRespectsConcurrency(t *testing.T) {
	e := &echo{delay: 10 * time.Millisecond}
	r := NewRunner(e, 2, nil)

	reqs := make([]models.Request, 8)
	for i := range reqs {
		reqs[i] = models.Request{ID: string(rune('a' + i)), Question: "q"}
	}
	outs, err := r.Answer(context.Background(), reqs)
	require.NoError(t, err)
	require.Len(t, outs, 8)
	for i, o := range outs {
		assert.Equal(t, reqs[i].ID, o.ID)
	}
	assert.LessOrEqual(t, e.peak.Load(), int32(2))
}

func TestAnswerCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRunner(&echo{}, 1, nil).Answer(ctx, []models.Request{{ID: "x", Question: "q"}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWriteDoesNotEscapeHTML(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, Write(&out, []models.Output{{ID: "q", FinalAnswer: "a < b", Citations: []string{}}}))
	assert.Contains(t, out.String(), `"final_answer":"a < b"`)
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
