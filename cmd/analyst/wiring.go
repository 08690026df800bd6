package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/mpataki/analyst/internal/agent"
	"github.com/mpataki/analyst/internal/config"
	"github.com/mpataki/analyst/internal/llm"
	"github.com/mpataki/analyst/internal/logger"
	"github.com/mpataki/analyst/internal/lua"
	"github.com/mpataki/analyst/internal/metrics"
	"github.com/mpataki/analyst/internal/orchestrator"
	"github.com/mpataki/analyst/internal/retrieval"
	"github.com/mpataki/analyst/internal/sqltool"
	"github.com/mpataki/analyst/internal/storage"
)

// env holds everything a command may need. Only what the command asks for
// is built.
type env struct {
	cfg      *config.Config
	log      *zap.Logger
	store    *storage.Storage
	registry *prometheus.Registry
	orch     *orchestrator.Orchestrator
}

func (e *env) Close() {
	if e.store != nil {
		e.store.Close()
	}
	if e.log != nil {
		e.log.Sync()
	}
}

// loadEnv reads configuration, builds the logger and opens run history.
func loadEnv() (*env, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	log, err := logger.New(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile, JSON: cfg.LogJSON})
	if err != nil {
		return nil, err
	}

	store, err := storage.New(cfg.DBPath)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &env{cfg: cfg, log: log, store: store}, nil
}

// loadAgentEnv additionally wires the full question answering workflow.
func loadAgentEnv() (*env, error) {
	e, err := loadEnv()
	if err != nil {
		return nil, err
	}
	if err := e.buildOrchestrator(); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

func (e *env) buildOrchestrator() error {
	cfg := e.cfg

	completer, err := llm.New(cfg.LLM, e.log)
	if err != nil {
		return err
	}

	retriever, err := retrieval.New(cfg.DocsDir, e.log)
	if err != nil {
		return fmt.Errorf("failed to build retriever: %w", err)
	}

	if _, err := os.Stat(cfg.NorthwindPath); errors.Is(err, fs.ErrNotExist) {
		e.log.Warn("northwind database not found, run 'analyst seed' first", zap.String("path", cfg.NorthwindPath))
	}
	db := sqltool.New(cfg.NorthwindPath,
		sqltool.WithReadOnly(cfg.ReadOnlyDB),
		sqltool.WithQueryTimeout(cfg.QueryTimeout),
	)

	e.registry = prometheus.NewRegistry()
	e.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	opts := []orchestrator.Option{
		orchestrator.WithHistory(e.store),
		orchestrator.WithMetrics(metrics.New(e.registry)),
		orchestrator.WithLogger(e.log),
		orchestrator.WithRetrievalK(cfg.RetrievalK),
	}

	planner, err := e.loadPlanner()
	if err != nil {
		return err
	}
	if planner != nil {
		opts = append(opts, orchestrator.WithPlanner(planner))
	}

	e.orch = orchestrator.New(orchestrator.Deps{
		Router:      agent.NewRouter(completer, e.log),
		Retriever:   retriever,
		Generator:   agent.NewSQLGenerator(completer, e.log),
		Database:    db,
		Synthesizer: agent.NewSynthesizer(completer, e.log),
	}, opts...)

	e.log.Debug("workflow ready",
		zap.String("provider", cfg.LLM.Provider),
		zap.String("model", cfg.LLM.Model),
		zap.Int("chunks", retriever.Len()),
		zap.Bool("planner", planner != nil),
	)
	return nil
}

// loadPlanner uses the configured script, or the seeded one when present.
func (e *env) loadPlanner() (*lua.Planner, error) {
	path := e.cfg.PlannerScript
	if path == "" {
		seeded := filepath.Join(e.cfg.DataDir, "planner.lua")
		if _, err := os.Stat(seeded); err != nil {
			return nil, nil
		}
		path = seeded
	}

	if !lua.IsLuaScript(path) {
		return nil, fmt.Errorf("not a Lua script: %s", path)
	}
	planner, err := lua.NewPlanner(path, e.log)
	if err != nil {
		return nil, err
	}
	e.log.Info("planner loaded", zap.String("path", path))
	return planner, nil
}
