package main

import (
	"log/slog"

	"github.com/becomeliminal/nim-bridge/bridge"
	"github.com/becomeliminal/nim-bridge/config"
	"github.com/becomeliminal/nim-bridge/consensus"
	"github.com/becomeliminal/nim-bridge/engine"
	"github.com/becomeliminal/nim-bridge/memory"
	"github.com/becomeliminal/nim-bridge/memory/embedder/mock"
	"github.com/becomeliminal/nim-bridge/memory/store/chromem"
	"github.com/becomeliminal/nim-bridge/memory/store/ristretto"
	"github.com/becomeliminal/nim-bridge/memory/store/sqlite"
	"github.com/becomeliminal/nim-bridge/orchestrator"
	"github.com/becomeliminal/nim-bridge/workers"
)

// wire builds the bridge from cfg. A backend that fails to open is left
// out and its tier runs on the in-process fallback.
func wire(cfg config.Config, logger *slog.Logger) *bridge.Bridge {
	mem := memory.NewUnified(memory.Config{
		WorkingBudget: cfg.Memory.WorkingBudget,
		SessionTTL:    cfg.Memory.SessionTTL,
	}, backends(cfg.Memory, logger), memory.WithLogger(logger))

	orchOpts := []orchestrator.Option{
		orchestrator.WithLogger(logger),
		orchestrator.WithMaxGoals(cfg.Orchestrator.MaxGoals),
	}
	poolOpts := []workers.Option{
		workers.WithLogger(logger),
		workers.WithRoles(cfg.Workers.Roles...),
		workers.WithWorkersPerRole(cfg.Workers.PerRole),
	}
	if cfg.Claude.Active() {
		eng := engine.NewFromAPIKey(cfg.Claude.APIKey,
			engine.WithModel(cfg.Claude.Model),
			engine.WithMaxTokens(cfg.Claude.MaxTokens),
			engine.WithLogger(logger))
		orchOpts = append(orchOpts, orchestrator.WithGenerator(eng))
		poolOpts = append(poolOpts, workers.WithDefaultExecutor(eng))
		logger.Info("claude engine enabled", "model", cfg.Claude.Model)
	}

	return bridge.New(bridge.Components{
		Consensus:    consensus.NewEngine(cfg.Consensus.MaxFaulty, consensus.WithLogger(logger)),
		Memory:       mem,
		Orchestrator: orchestrator.New(orchOpts...),
		Workers:      workers.New(poolOpts...),
	}, bridge.WithLogger(logger))
}

func backends(cfg config.Memory, logger *slog.Logger) memory.Backends {
	b := memory.Backends{Embedder: mock.NewWithDimensions(cfg.EmbeddingDims)}

	if cfg.SessionBackend == config.BackendRistretto {
		if kv, err := ristretto.New(ristretto.DefaultConfig()); err != nil {
			logger.Warn("session backend unavailable, using fallback", "backend", cfg.SessionBackend, "error", err)
		} else {
			b.KV = kv
		}
	}

	if cfg.SemanticBackend == config.BackendChromem {
		var (
			vs  *chromem.Store
			err error
		)
		if cfg.SemanticPath != "" {
			vs, err = chromem.NewPersistent(cfg.SemanticPath, chromem.WithLogger(logger))
		} else {
			vs, err = chromem.New(chromem.WithLogger(logger))
		}
		if err != nil {
			logger.Warn("semantic backend unavailable, using fallback", "backend", cfg.SemanticBackend, "error", err)
		} else {
			b.Vectors = vs
		}
	}

	if cfg.GraphBackend == config.BackendSQLite {
		if gs, err := sqlite.Open(cfg.GraphPath); err != nil {
			logger.Warn("graph backend unavailable, using fallback", "backend", cfg.GraphBackend, "path", cfg.GraphPath, "error", err)
		} else {
			b.Graph = gs
		}
	}
	return b
}
