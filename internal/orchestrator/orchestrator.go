package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mpataki/analyst/internal/agent"
	"github.com/mpataki/analyst/internal/coerce"
	"github.com/mpataki/analyst/internal/metrics"
	"github.com/mpataki/analyst/internal/models"
)

var tracer = otel.Tracer("analyst.orchestrator")

// maxSteps bounds the loop independently of Next. The longest legal path is
// router, retrieval, planner, three generate/execute pairs and synthesizer.
const maxSteps = 16

type Router interface {
	Route(ctx context.Context, question string) models.Route
}

type Retriever interface {
	Search(query string, k int) []models.Document
}

type Planner interface {
	Plan(ctx context.Context, state models.State) ([]string, error)
}

type SQLGenerator interface {
	Generate(ctx context.Context, question, schema, constraints string) (string, error)
}

type Database interface {
	Schema(ctx context.Context) string
	Execute(ctx context.Context, query string) *models.SQLResult
}

type Synthesizer interface {
	Synthesize(ctx context.Context, question string, result *models.SQLResult, docs []models.Document, formatHint string) (string, string)
}

// History persists runs and their node visits. *storage.Storage satisfies it.
type History interface {
	CreateRun(run *models.Run) (int64, error)
	UpdateRun(run *models.Run) error
	GetRun(id int64) (*models.Run, error)
	ListRuns(limit int) ([]*models.Run, error)
	DeleteRun(id int64) error
	CreateExecution(exec *models.Execution) (int64, error)
	UpdateExecution(exec *models.Execution) error
	GetExecutionsForRun(runID int64) ([]*models.Execution, error)
}

// Deps are the collaborators every workflow needs.
type Deps struct {
	Router      Router
	Retriever   Retriever
	Generator   SQLGenerator
	Database    Database
	Synthesizer Synthesizer
}

type Option func(*Orchestrator)

func WithHistory(h History) Option { return func(o *Orchestrator) { o.history = h } }
func WithMetrics(m *metrics.Metrics) Option { return func(o *Orchestrator) { o.metrics = m } }
func WithPlanner(p Planner) Option { return func(o *Orchestrator) { o.planner = p } }
func WithLogger(l *zap.Logger) Option { return func(o *Orchestrator) { o.log = l } }

// WithRetrievalK sets how many chunks retrieval returns.
func WithRetrievalK(k int) Option {
	return func(o *Orchestrator) {
		if k > 0 {
			o.k = k
		}
	}
}

type Orchestrator struct {
	deps    Deps
	planner Planner
	history History
	metrics *metrics.Metrics
	log     *zap.Logger
	k       int
}

func New(deps Deps, opts ...Option) *Orchestrator {
	o := &Orchestrator{deps: deps, k: 3}
	for _, opt := range opts {
		opt(o)
	}
	if o.log == nil {
		o.log = zap.NewNop()
	}
	o.log = o.log.Named("orchestrator")
	return o
}

// Result is the terminal state of one request.
type Result struct {
	State  models.State
	RunID  int64
	Status models.RunStatus
}

// Run drives one request from router to END. It does not return errors:
// every failure is folded into the state.
func (o *Orchestrator) Run(ctx context.Context, req models.Request) Result {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	ctx, span := tracer.Start(ctx, "workflow.Run",
		trace.WithAttributes(attribute.String("request.id", req.ID)),
	)
	defer span.End()

	log := o.log.With(zap.String("request_id", req.ID))
	state := models.NewState(req)
	run := o.startRun(req, log)

	node := NodeRouter
	for steps := 0; node != NodeEnd; steps++ {
		if steps >= maxSteps {
			err := fmt.Errorf("workflow exceeded %d steps at %s", maxSteps, node)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			log.Error("workflow aborted", zap.Error(err))
			return o.failRun(run, state, err, log)
		}

		run.CurrentNode = string(node)
		o.saveRun(run, log)

		state = o.step(ctx, run, steps+1, node, state, log)
		node = Next(node, state)
	}

	return o.completeRun(run, state, log)
}

// Answer runs the workflow and shapes the terminal state into an Output,
// coercing the answer by the request's format hint. A panic anywhere in the
// workflow still yields an output record.
func (o *Orchestrator) Answer(ctx context.Context, req models.Request) (out models.Output) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("workflow panicked", zap.String("request_id", req.ID), zap.Any("panic", r))
			o.metrics.RecordRequest(string(models.RunStatusFailed), 0, 0)
			out = models.Output{
				ID:          req.ID,
				FinalAnswer: coerce.Coerce(fmt.Sprintf("Error: %v", r), req.Hint()),
				Explanation: "An error occurred during processing.",
				Confidence:  0,
				Citations:   []string{},
			}
		}
	}()

	res := o.Run(ctx, req)
	return Output(req, res.State)
}

// Output builds the external record for a finished state.
func Output(req models.Request, s models.State) models.Output {
	citations := s.Citations
	if citations == nil {
		citations = []string{}
	}
	return models.Output{
		ID:          req.ID,
		FinalAnswer: coerce.Coerce(s.FinalAnswer, req.Hint()),
		SQL:         s.SQLQuery,
		Confidence:  s.Confidence,
		Explanation: s.Explanation,
		Citations:   citations,
	}
}

func (o *Orchestrator) step(ctx context.Context, run *models.Run, seq int, node Node, state models.State, log *zap.Logger) models.State {
	ctx, span := tracer.Start(ctx, "workflow."+string(node),
		trace.WithAttributes(attribute.String("workflow.node", string(node))),
	)
	defer span.End()

	exec := o.beginExecution(run, seq, node, state, log)
	start := time.Now()

	var detail map[string]any
	var stepErr error
	switch node {
	case NodeRouter:
		state, detail = o.route(ctx, state)
	case NodeRetrieval:
		state, detail = o.retrieve(state)
	case NodePlanner:
		state, detail, stepErr = o.plan(ctx, state, log)
	case NodeSQLGen:
		state, detail, stepErr = o.generate(ctx, state)
	case NodeExecutor:
		state, detail, stepErr = o.execute(ctx, state, log)
	case NodeSynthesizer:
		state, detail = o.synthesize(ctx, state, log)
	}

	elapsed := time.Since(start)
	o.metrics.ObserveNode(string(node), elapsed)
	if stepErr != nil {
		span.RecordError(stepErr)
		span.SetStatus(codes.Error, stepErr.Error())
	}
	log.Debug("node complete",
		zap.String("node", string(node)),
		zap.Duration("elapsed", elapsed),
		zap.Any("detail", detail),
	)

	o.finishExecution(exec, detail, stepErr, log)
	return state
}

func (o *Orchestrator) route(ctx context.Context, s models.State) (models.State, map[string]any) {
	s.Route = o.deps.Router.Route(ctx, s.Question)
	o.metrics.RecordRoute(string(s.Route))
	return s, map[string]any{"route": string(s.Route)}
}

func (o *Orchestrator) retrieve(s models.State) (models.State, map[string]any) {
	s.Documents = o.deps.Retriever.Search(s.Question, o.k)
	ids := make([]string, len(s.Documents))
	for i, d := range s.Documents {
		ids[i] = d.ID
	}
	return s, map[string]any{"documents": ids}
}

func (o *Orchestrator) plan(ctx context.Context, s models.State, log *zap.Logger) (models.State, map[string]any, error) {
	s.ErrorCount = 0
	s.Constraints = agent.BaseConstraints
	if o.planner == nil {
		return s, map[string]any{"constraints": 0}, nil
	}

	extra, err := o.planner.Plan(ctx, s)
	if err != nil {
		log.Warn("planner failed, using base constraints", zap.Error(err))
		return s, map[string]any{"constraints": 0, "error": err.Error()}, err
	}
	if len(extra) > 0 {
		s.Constraints += "\n" + strings.Join(extra, "\n")
	}
	return s, map[string]any{"constraints": len(extra)}, nil
}

func (o *Orchestrator) generate(ctx context.Context, s models.State) (models.State, map[string]any, error) {
	constraints := s.Constraints
	repair := s.SQLResult.Failed()
	if repair {
		constraints = agent.RepairConstraints(constraints, s.SQLQuery, s.SQLResult.Error)
	}

	schema := o.deps.Database.Schema(ctx)
	query, err := o.deps.Generator.Generate(ctx, s.Question, schema, constraints)
	s.SQLQuery = query

	detail := map[string]any{"sql": query, "repair": repair}
	if err != nil {
		detail["error"] = err.Error()
	}
	return s, detail, err
}

func (o *Orchestrator) execute(ctx context.Context, s models.State, log *zap.Logger) (models.State, map[string]any, error) {
	res := o.deps.Database.Execute(ctx, s.SQLQuery)
	s.SQLResult = res
	s.SQLAttempts++

	detail := map[string]any{"sql": s.SQLQuery, "columns": res.Columns, "rows": len(res.Rows)}
	if res.Failed() {
		s.ErrorCount++
		o.metrics.RecordSQLError()
		detail["error"] = res.Error
		detail["error_count"] = s.ErrorCount
		log.Warn("sql execution failed",
			zap.String("category", "execution_failure"),
			zap.Int("error_count", s.ErrorCount),
			zap.String("error", res.Error),
		)
		return s, detail, fmt.Errorf("sql execution: %s", res.Error)
	}
	return s, detail, nil
}

func (o *Orchestrator) synthesize(ctx context.Context, s models.State, log *zap.Logger) (models.State, map[string]any) {
	if s.SQLResult.Failed() {
		log.Warn("synthesizing with failed sql",
			zap.String("category", "repair_exhaustion"),
			zap.Int("error_count", s.ErrorCount),
		)
	}

	s.FinalAnswer, s.Explanation = o.deps.Synthesizer.Synthesize(ctx, s.Question, s.SQLResult, s.Documents, s.FormatHint)
	s.Citations = Citations(s)
	s.Confidence = Confidence(s)
	return s, map[string]any{"confidence": s.Confidence, "citations": s.Citations}
}

// Read methods for the TUI and HTTP server

func (o *Orchestrator) ListRuns(limit int) ([]*models.Run, error) {
	if o.history == nil {
		return nil, nil
	}
	return o.history.ListRuns(limit)
}

func (o *Orchestrator) GetRun(id int64) (*models.Run, error) {
	if o.history == nil {
		return nil, fmt.Errorf("run history is not configured")
	}
	return o.history.GetRun(id)
}

func (o *Orchestrator) GetExecutionsForRun(runID int64) ([]*models.Execution, error) {
	if o.history == nil {
		return nil, nil
	}
	return o.history.GetExecutionsForRun(runID)
}

func (o *Orchestrator) DeleteRun(runID int64) error {
	if o.history == nil {
		return fmt.Errorf("run history is not configured")
	}
	if _, err := o.history.GetRun(runID); err != nil {
		return fmt.Errorf("failed to get run: %w", err)
	}
	return o.history.DeleteRun(runID)
}
