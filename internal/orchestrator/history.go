package orchestrator

import (
	"time"

	"go.uber.org/zap"

	"github.com/mpataki/analyst/internal/agent"
	"github.com/mpataki/analyst/internal/models"
)

// History writes are best effort: a failing store is logged and the request
// carries on.

func (o *Orchestrator) startRun(req models.Request, log *zap.Logger) *models.Run {
	run := &models.Run{
		RequestID:   req.ID,
		CreatedAt:   time.Now(),
		Question:    req.Question,
		FormatHint:  req.Hint(),
		Status:      models.RunStatusRunning,
		CurrentNode: string(NodeRouter),
	}
	if o.history == nil {
		return run
	}

	id, err := o.history.CreateRun(run)
	if err != nil {
		log.Warn("failed to record run", zap.Error(err))
		return run
	}
	run.ID = id
	return run
}

func (o *Orchestrator) saveRun(run *models.Run, log *zap.Logger) {
	if o.history == nil || run.ID == 0 {
		return
	}
	if err := o.history.UpdateRun(run); err != nil {
		log.Warn("failed to update run", zap.Int64("run_id", run.ID), zap.Error(err))
	}
}

func (o *Orchestrator) beginExecution(run *models.Run, seq int, node Node, s models.State, log *zap.Logger) *models.Execution {
	now := time.Now()
	run.ErrorCount = s.ErrorCount
	exec := &models.Execution{
		RunID:       run.ID,
		Node:        string(node),
		Status:      models.ExecStatusRunning,
		StartedAt:   &now,
		SequenceNum: seq,
	}
	if node == NodeSQLGen || node == NodeExecutor {
		exec.Attempt = s.SQLAttempts + 1
	}
	if o.history == nil || run.ID == 0 {
		return exec
	}

	id, err := o.history.CreateExecution(exec)
	if err != nil {
		log.Warn("failed to record execution", zap.String("node", string(node)), zap.Error(err))
		return exec
	}
	exec.ID = id
	return exec
}

func (o *Orchestrator) finishExecution(exec *models.Execution, detail map[string]any, err error, log *zap.Logger) {
	now := time.Now()
	exec.CompletedAt = &now
	exec.Detail = detail
	exec.Status = models.ExecStatusComplete
	if err != nil {
		exec.Status = models.ExecStatusFailed
	}
	if o.history == nil || exec.ID == 0 {
		return
	}
	if err := o.history.UpdateExecution(exec); err != nil {
		log.Warn("failed to update execution", zap.Int64("execution_id", exec.ID), zap.Error(err))
	}
}

func (o *Orchestrator) completeRun(run *models.Run, s models.State, log *zap.Logger) Result {
	now := time.Now()
	run.CompletedAt = &now
	run.Status = models.RunStatusComplete
	if s.SQLResult.Failed() {
		run.Status = models.RunStatusDegraded
	}
	run.CurrentNode = string(NodeEnd)
	fillRun(run, s)
	o.saveRun(run, log)

	o.metrics.RecordRequest(string(run.Status), s.SQLAttempts, s.Confidence)
	log.Info("request complete",
		zap.String("route", string(s.Route)),
		zap.String("status", string(run.Status)),
		zap.Int("sql_attempts", s.SQLAttempts),
		zap.Float64("confidence", s.Confidence),
	)
	return Result{State: s, RunID: run.ID, Status: run.Status}
}

func (o *Orchestrator) failRun(run *models.Run, s models.State, reason error, log *zap.Logger) Result {
	now := time.Now()
	s.FinalAnswer = agent.FallbackAnswer
	s.Explanation = "Error: " + reason.Error()
	s.Citations = Citations(s)
	s.Confidence = Confidence(s)

	run.CompletedAt = &now
	run.Status = models.RunStatusFailed
	fillRun(run, s)
	o.saveRun(run, log)

	o.metrics.RecordRequest(string(run.Status), s.SQLAttempts, s.Confidence)
	return Result{State: s, RunID: run.ID, Status: run.Status}
}

func fillRun(run *models.Run, s models.State) {
	run.Route = s.Route
	run.SQLQuery = s.SQLQuery
	run.FinalAnswer = s.FinalAnswer
	run.Explanation = s.Explanation
	run.Confidence = s.Confidence
	run.Citations = s.Citations
	run.ErrorCount = s.ErrorCount
}
