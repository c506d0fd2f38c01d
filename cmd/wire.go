package cmd

import (
	"fmt"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/cursorclaw/agentcore/internal/approval"
	"github.com/cursorclaw/agentcore/internal/capability"
	"github.com/cursorclaw/agentcore/internal/config"
	"github.com/cursorclaw/agentcore/internal/guard"
	"github.com/cursorclaw/agentcore/internal/journal"
	"github.com/cursorclaw/agentcore/internal/memory"
	"github.com/cursorclaw/agentcore/internal/modeladapter"
	"github.com/cursorclaw/agentcore/internal/modeladapter/anthropic"
	"github.com/cursorclaw/agentcore/internal/modeladapter/cursoragent"
	"github.com/cursorclaw/agentcore/internal/modeladapter/fallback"
	"github.com/cursorclaw/agentcore/internal/modeladapter/ollama"
	"github.com/cursorclaw/agentcore/internal/modeladapter/openaicompat"
	"github.com/cursorclaw/agentcore/internal/privacy"
	"github.com/cursorclaw/agentcore/internal/run"
	"github.com/cursorclaw/agentcore/internal/sessions"
	"github.com/cursorclaw/agentcore/internal/tools"
	"github.com/cursorclaw/agentcore/internal/tracing"
	"github.com/cursorclaw/agentcore/internal/turn"
)

// wired bundles everything built from config.Config that chat and serve
// both need: the turn runtime plus the collaborators a caller may want to
// address directly (sessions, run store, lifecycle stream, tracer provider).
type wired struct {
	Runtime   *turn.Runtime
	Sessions  *sessions.Manager
	Runs      *run.Store
	Lifecycle *run.LifecycleStream
	Tracer    *sdktrace.TracerProvider
}

// buildRuntime wires one turn.Runtime from config, following the teacher's
// cmd/gateway.go top-level construction order: providers, tools, guard, and
// persistence first, then the runtime that composes them.
func buildRuntime(cfg *config.Config) (*wired, error) {
	var providers []modeladapter.Provider
	if cfg.Adapter.CursorAgent.Enabled {
		providers = append(providers, cursoragent.New(cfg.Adapter.CursorAgent.BinaryPath, nil, cfg.Adapter.DefaultModel))
	}
	if cfg.Adapter.Ollama.Enabled {
		providers = append(providers, ollama.New(cfg.Adapter.Ollama.BaseURL, cfg.Adapter.Ollama.Model))
	}
	if cfg.Adapter.Anthropic.Enabled {
		providers = append(providers, anthropic.New(cfg.Adapter.Anthropic.APIKey, cfg.Adapter.Anthropic.Model))
	}
	if cfg.Adapter.OpenAI.Enabled {
		providers = append(providers, openaicompat.New("openai", cfg.Adapter.OpenAI.APIKey, cfg.Adapter.OpenAI.BaseURL, cfg.Adapter.OpenAI.Model))
	}
	if cfg.Adapter.DashScope.Enabled {
		providers = append(providers, openaicompat.NewDashScope(cfg.Adapter.DashScope.APIKey, cfg.Adapter.DashScope.BaseURL, cfg.Adapter.DashScope.Model))
	}
	if cfg.Adapter.Fallback.Enabled {
		providers = append(providers, fallback.New())
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("config: no model providers enabled")
	}
	adapter := modeladapter.New(providers...)

	reg := tools.NewRegistry()
	if cfg.Tools.Exec.Enabled {
		reg.Register(tools.NewExecTool(config.ExpandHome(cfg.Tools.Exec.WorkingDir), cfg.Tools.Exec.AllowList))
	}
	if cfg.Tools.WebFetch.Enabled {
		reg.Register(tools.NewWebFetchTool())
	}
	caps := capability.New(nil)
	approvals := approval.New(caps, nil)
	router := tools.NewRouter(reg, caps, approvals)

	scrubber := privacy.New(cfg.Privacy.FailClosedOnError)

	runs := run.NewStore(config.ExpandHome(cfg.Run.Path))
	lifecycle := run.NewLifecycleStream()

	memLimits := memory.DefaultLimits()
	if cfg.Memory.MaxRecordsPerScope > 0 {
		memLimits.MaxRecords = cfg.Memory.MaxRecordsPerScope
	}
	memStore := memory.New(config.ExpandHome(cfg.Memory.Dir), memLimits, nil)

	jrnl := journal.New(config.ExpandHome(cfg.Journal.Path), cfg.Journal.MaxBytes)
	observations := journal.NewObservationStore(cfg.Journal.ObservationCapacity, "")

	failureGuard := guard.NewFailureLoopGuard(cfg.Guard.StepBackThreshold)
	reasoningReset := guard.NewReasoningResetController(cfg.Guard.DeepScanThreshold)
	deepScan := guard.NewDeepScanService(config.ExpandHome(cfg.Tools.Exec.WorkingDir), 0)

	sessionMgr := sessions.NewManager(config.ExpandHome(cfg.Sessions.Storage))

	tp := tracing.NewProvider("agentcore", jrnl)
	otel.SetTracerProvider(tp)
	tracer := tp.Tracer("turn")

	rt := turn.New(turn.Config{
		Adapter:   adapter,
		Router:    router,
		Scrubber:  scrubber,
		Runs:      runs,
		Lifecycle: lifecycle,

		MemoryStore:     memStore,
		SummaryProvider: sessionMgr.GetSummary,
		Journal:         jrnl,
		Observations:    observations,

		Guard:          failureGuard,
		ReasoningReset: reasoningReset,
		DeepScan:       deepScan,
		Tracer:         tracer,

		MaxMessagesPerTurn:   cfg.Turn.MaxMessagesPerTurn,
		MaxSystemPromptChars: cfg.Turn.MaxSystemPromptChars,
	})

	return &wired{Runtime: rt, Sessions: sessionMgr, Runs: runs, Lifecycle: lifecycle, Tracer: tp}, nil
}
