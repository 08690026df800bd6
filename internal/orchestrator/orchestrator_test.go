package orchestrator

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mpataki/analyst/internal/agent"
	"github.com/mpataki/analyst/internal/llm/llmtest"
	"github.com/mpataki/analyst/internal/lua"
	"github.com/mpataki/analyst/internal/metrics"
	"github.com/mpataki/analyst/internal/models"
	"github.com/mpataki/analyst/internal/retrieval"
	"github.com/mpataki/analyst/internal/sqltool"
	"github.com/mpataki/analyst/internal/storage"
	"github.com/mpataki/analyst/internal/workspace"
)

const count1997 = "SELECT COUNT(*) AS n FROM Orders WHERE strftime('%Y', OrderDate) = '1997'"

var corpus = []models.Document{
	{ID: "marketing_calendar.md::chunk_0", Content: "Summer Beverages 1997 campaign runs in June."},
	{ID: "product_policy.md::chunk_0", Content: "Beverages unopened may be returned within 14 days."},
	{ID: "kpi_definitions.md::chunk_0", Content: "Average order value is revenue divided by orders."},
	{ID: "catalog.md::chunk_0", Content: "Categories include Beverages, Condiments and Confections."},
}

type fixture struct {
	fake  *llmtest.Fake
	db    *sqltool.Tool
	store *storage.Storage
	orch  *Orchestrator
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	dir := t.TempDir()

	dbPath := filepath.Join(dir, "northwind.sqlite")
	require.NoError(t, workspace.SeedNorthwind(dbPath))
	addOrders(t, dbPath)

	store, err := storage.New(filepath.Join(dir, "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f := &fixture{
		fake:  llmtest.New(),
		db:    sqltool.New(dbPath, sqltool.WithReadOnly(true)),
		store: store,
	}
	deps := Deps{
		Router:      agent.NewRouter(f.fake, nil),
		Retriever:   retrieval.NewFromDocuments(corpus),
		Generator:   agent.NewSQLGenerator(f.fake, nil),
		Database:    f.db,
		Synthesizer: agent.NewSynthesizer(f.fake, nil),
	}
	opts = append([]Option{
		WithHistory(store),
		WithMetrics(metrics.New(prometheus.NewRegistry())),
		WithLogger(zap.NewNop()),
	}, opts...)
	f.orch = New(deps, opts...)
	return f
}

// addOrders brings the 1997 total to 14.
func addOrders(t *testing.T, path string) {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()
	_, err = db.Exec(`INSERT INTO Orders (OrderID, CustomerID, OrderDate, ShipperID) VALUES
		(10900, 'ALFKI', '1997-06-05', 1),
		(10901, 'ANTON', '1997-06-18', 2)`)
	require.NoError(t, err)
}

func synth(answer string) string {
	return "[[ ## final_answer ## ]]\n" + answer + "\n[[ ## explanation ## ]]\nDerived from the data.\n[[ ## completed ## ]]"
}

func TestAnswerSQLRoute(t *testing.T) {
	f := newFixture(t)
	f.fake.On("router", "sql").
		On("sql_generator", "[[ ## sql_query ## ]]\n```sql\n"+count1997+"\n```").
		On("synthesizer", synth("14"))

	out := f.orch.Answer(context.Background(), models.Request{ID: "q1", Question: "How many orders were placed in 1997?", FormatHint: "int"})

	assert.Equal(t, "q1", out.ID)
	assert.Equal(t, int64(14), out.FinalAnswer)
	assert.Equal(t, count1997, out.SQL)
	assert.Equal(t, 0.7, out.Confidence)
	assert.Equal(t, []string{"Table: Orders"}, out.Citations)
	assert.Equal(t, "Derived from the data.", out.Explanation)

	synthCalls := f.fake.Calls("synthesizer")
	require.Len(t, synthCalls, 1)
	assert.Contains(t, llmtest.Input(synthCalls[0], "sql_data"), "14")
	assert.Empty(t, llmtest.Input(synthCalls[0], "context"))
}

func TestRunRepairsFailedQuery(t *testing.T) {
	f := newFixture(t)
	f.fake.On("router", "sql").
		On("sql_generator",
			"[[ ## sql_query ## ]]\nSELECT Nope FROM Orders",
			"[[ ## sql_query ## ]]\n"+count1997,
		).
		On("synthesizer", synth("14"))

	res := f.orch.Run(context.Background(), models.Request{Question: "How many orders in 1997?", FormatHint: "int"})

	assert.Equal(t, models.RunStatusComplete, res.Status)
	assert.Equal(t, 1, res.State.ErrorCount)
	assert.Equal(t, 2, res.State.SQLAttempts)
	assert.Equal(t, count1997, res.State.SQLQuery)
	assert.False(t, res.State.SQLResult.Failed())

	gens := f.fake.Calls("sql_generator")
	require.Len(t, gens, 2)
	repair := llmtest.Input(gens[1], "constraints")
	assert.Contains(t, repair, "Previous query failed:")
	assert.Contains(t, repair, "SELECT Nope FROM Orders")
	assert.Contains(t, repair, "no such column")
	assert.Len(t, f.fake.Calls("synthesizer"), 1)
}

func TestRunRepairsAreBounded(t *testing.T) {
	f := newFixture(t)
	f.fake.On("router", "sql").
		On("sql_generator", "[[ ## sql_query ## ]]\nSELECT Nope FROM Orders").
		On("synthesizer", synth("unknown"))

	res := f.orch.Run(context.Background(), models.Request{Question: "How many orders?"})

	assert.Equal(t, models.RunStatusDegraded, res.Status)
	assert.Equal(t, MaxRepairs+1, res.State.SQLAttempts)
	assert.Equal(t, MaxRepairs+1, res.State.ErrorCount)
	assert.Len(t, f.fake.Calls("sql_generator"), MaxRepairs+1)
	assert.Equal(t, 0.3, res.State.Confidence)
	assert.Empty(t, res.State.Citations)

	synthCalls := f.fake.Calls("synthesizer")
	require.Len(t, synthCalls, 1)
	assert.Contains(t, llmtest.Input(synthCalls[0], "sql_data"), "SQL Error:")
}

func TestRunRAGRoute(t *testing.T) {
	f := newFixture(t)
	f.fake.On("router", "rag").
		On("synthesizer", synth("14"))

	res := f.orch.Run(context.Background(), models.Request{Question: "What is the return window for unopened Beverages?", FormatHint: "int"})

	assert.Equal(t, models.RouteRAG, res.State.Route)
	assert.Len(t, res.State.Documents, 3)
	assert.Empty(t, f.fake.Calls("sql_generator"))
	assert.Empty(t, res.State.SQLQuery)
	assert.Nil(t, res.State.SQLResult)
	assert.Equal(t, 0.9, res.State.Confidence)
	assert.Equal(t, "product_policy.md::chunk_0", res.State.Documents[0].ID)

	ids := make([]string, len(res.State.Documents))
	for i, d := range res.State.Documents {
		ids[i] = d.ID
	}
	assert.ElementsMatch(t, ids, res.State.Citations)
}

func TestRunHybridRouteWithPlanner(t *testing.T) {
	planner, err := lua.NewPlannerFromSource("plan.lua", `
function plan(question)
  local ctx = context()
  constraint("Documents seen: " .. #ctx.documents)
  return "Filter years with strftime."
end
`, nil)
	require.NoError(t, err)

	f := newFixture(t, WithPlanner(planner), WithRetrievalK(2))
	f.fake.On("router", "hybrid").
		On("sql_generator", "[[ ## sql_query ## ]]\n"+count1997).
		On("synthesizer", synth("14"))

	res := f.orch.Run(context.Background(), models.Request{Question: "How many Beverages orders in 1997?"})

	assert.Len(t, res.State.Documents, 2)
	gens := f.fake.Calls("sql_generator")
	require.Len(t, gens, 1)
	constraints := llmtest.Input(gens[0], "constraints")
	assert.True(t, len(constraints) > len(agent.BaseConstraints))
	assert.Contains(t, constraints, "Documents seen: 2\nFilter years with strftime.")
	assert.Equal(t, 0.9, res.State.Confidence)
	assert.Contains(t, res.State.Citations, "Table: Orders")
}

func TestRunPlannerFailureKeepsBaseConstraints(t *testing.T) {
	planner, err := lua.NewPlannerFromSource("plan.lua", `function plan(q) error("boom") end`, nil)
	require.NoError(t, err)

	f := newFixture(t, WithPlanner(planner))
	f.fake.On("router", "sql").
		On("sql_generator", "[[ ## sql_query ## ]]\n"+count1997).
		On("synthesizer", synth("14"))

	res := f.orch.Run(context.Background(), models.Request{Question: "How many orders in 1997?"})

	assert.Equal(t, models.RunStatusComplete, res.Status)
	assert.Equal(t, agent.BaseConstraints, res.State.Constraints)
}

func TestRunRecordsHistory(t *testing.T) {
	f := newFixture(t)
	f.fake.On("router", "sql").
		On("sql_generator",
			"[[ ## sql_query ## ]]\nSELECT Nope FROM Orders",
			"[[ ## sql_query ## ]]\n"+count1997,
		).
		On("synthesizer", synth("14"))

	res := f.orch.Run(context.Background(), models.Request{ID: "hist", Question: "How many orders in 1997?"})
	require.NotZero(t, res.RunID)

	run, err := f.orch.GetRun(res.RunID)
	require.NoError(t, err)
	assert.Equal(t, "hist", run.RequestID)
	assert.Equal(t, models.RunStatusComplete, run.Status)
	assert.Equal(t, string(NodeEnd), run.CurrentNode)
	assert.Equal(t, models.RouteSQL, run.Route)
	assert.Equal(t, []string{"Table: Orders"}, run.Citations)
	assert.NotNil(t, run.CompletedAt)

	execs, err := f.orch.GetExecutionsForRun(res.RunID)
	require.NoError(t, err)
	var nodes []string
	for _, e := range execs {
		nodes = append(nodes, e.Node)
	}
	assert.Equal(t, []string{"router", "planner", "sql_gen", "executor", "sql_gen", "executor", "synthesizer"}, nodes)
	assert.Equal(t, models.ExecStatusFailed, execs[3].Status)
	assert.Equal(t, 1, execs[3].Attempt)
	assert.Equal(t, 2, execs[5].Attempt)
	assert.Equal(t, models.ExecStatusComplete, execs[6].Status)

	runs, err := f.orch.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	require.NoError(t, f.orch.DeleteRun(res.RunID))
	_, err = f.orch.GetRun(res.RunID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

type panicRouter struct{}

func (panicRouter) Route(context.Context, string) models.Route { panic("router exploded") }

func TestAnswerRecoversPanics(t *testing.T) {
	o := New(Deps{Router: panicRouter{}})

	out := o.Answer(context.Background(), models.Request{ID: "p", Question: "q", FormatHint: "list"})

	assert.Equal(t, "p", out.ID)
	assert.Equal(t, []any{"Error: router exploded"}, out.FinalAnswer)
	assert.Equal(t, "An error occurred during processing.", out.Explanation)
	assert.Zero(t, out.Confidence)
	assert.Equal(t, []string{}, out.Citations)
}

func TestAnswerRecoversPanicsWithoutID(t *testing.T) {
	o := New(Deps{Router: panicRouter{}})

	out := o.Answer(context.Background(), models.Request{Question: "q"})

	assert.Len(t, out.ID, 36)
	assert.Equal(t, "Error: router exploded", out.FinalAnswer)
}

func TestAnswerWithoutHistory(t *testing.T) {
	fake := llmtest.New().On("router", "rag").On("synthesizer", synth("Summer Beverages 1997"))
	o := New(Deps{
		Router:      agent.NewRouter(fake, nil),
		Retriever:   retrieval.NewFromDocuments(corpus),
		Synthesizer: agent.NewSynthesizer(fake, nil),
	})

	out := o.Answer(context.Background(), models.Request{ID: "r", Question: "Which campaign runs in June?"})
	assert.Equal(t, "Summer Beverages 1997", out.FinalAnswer)

	runs, err := o.ListRuns(5)
	assert.NoError(t, err)
	assert.Empty(t, runs)
}
