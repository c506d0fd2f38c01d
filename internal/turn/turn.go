// Package turn implements TurnRuntime (spec §4.6): the orchestrator of one
// user turn, composing the model adapter, tool router, memory, journal, and
// guard packages into the Think→Act→Observe cycle.
package turn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	noop "go.opentelemetry.io/otel/trace/noop"

	"github.com/cursorclaw/agentcore/internal/guard"
	"github.com/cursorclaw/agentcore/internal/journal"
	"github.com/cursorclaw/agentcore/internal/memory"
	"github.com/cursorclaw/agentcore/internal/modeladapter"
	"github.com/cursorclaw/agentcore/internal/privacy"
	"github.com/cursorclaw/agentcore/internal/run"
	"github.com/cursorclaw/agentcore/internal/tools"
)

const defaultMaxMessagesPerTurn = 40

// Config wires a Runtime's collaborators. All fields except Adapter, Router,
// Scrubber, Runs and Lifecycle are optional; a nil collaborator simply
// skips the context-assembly step it would have fed.
type Config struct {
	Adapter  *modeladapter.Adapter
	Router   *tools.Router
	Scrubber *privacy.Scrubber
	Runs     *run.Store
	Lifecycle *run.LifecycleStream

	Substrate       SubstrateProvider
	MemoryStore     *memory.Store
	AllowSecretMemory bool
	SummaryProvider func(sessionID string) string
	Journal         *journal.Journal
	Observations    *journal.ObservationStore
	ContextProvider ContextProviderFunc
	Continuity      *ContinuityConfig

	Guard          *guard.FailureLoopGuard
	ReasoningReset *guard.ReasoningResetController
	DeepScan       *guard.DeepScanService

	// Tracer records a span per turn and per tool call. A nil Tracer falls
	// back to a no-op implementation.
	Tracer trace.Tracer

	MaxMessagesPerTurn int
	MaxSystemPromptChars int
}

// Runtime orchestrates one turn at a time per session; callers serialize
// concurrent turns for the same session themselves (spec §5: no suspension
// inside approval/capability critical sections, enforced by each
// collaborator's own lock, not by Runtime).
type Runtime struct {
	adapter   *modeladapter.Adapter
	router    *tools.Router
	scrubber  *privacy.Scrubber
	runs      *run.Store
	lifecycle *run.LifecycleStream

	substrate         SubstrateProvider
	memoryStore       *memory.Store
	allowSecretMemory bool
	summaryProvider   func(sessionID string) string
	journal           *journal.Journal
	observations      *journal.ObservationStore
	contextProvider   ContextProviderFunc
	continuity        *ContinuityConfig

	guard          *guard.FailureLoopGuard
	reasoningReset *guard.ReasoningResetController
	deepScan       *guard.DeepScanService

	tracer trace.Tracer

	maxMessagesPerTurn   int
	maxSystemPromptChars int
}

func New(cfg Config) *Runtime {
	maxMsgs := cfg.MaxMessagesPerTurn
	if maxMsgs <= 0 {
		maxMsgs = defaultMaxMessagesPerTurn
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("turn")
	}
	return &Runtime{
		adapter:              cfg.Adapter,
		router:               cfg.Router,
		scrubber:             cfg.Scrubber,
		runs:                 cfg.Runs,
		lifecycle:            cfg.Lifecycle,
		substrate:            cfg.Substrate,
		memoryStore:          cfg.MemoryStore,
		allowSecretMemory:    cfg.AllowSecretMemory,
		summaryProvider:      cfg.SummaryProvider,
		journal:              cfg.Journal,
		observations:         cfg.Observations,
		contextProvider:      cfg.ContextProvider,
		continuity:           cfg.Continuity,
		guard:                cfg.Guard,
		reasoningReset:       cfg.ReasoningReset,
		deepScan:             cfg.DeepScan,
		tracer:               tracer,
		maxMessagesPerTurn:   maxMsgs,
		maxSystemPromptChars: cfg.MaxSystemPromptChars,
	}
}

// RunTurn executes the 6-step flow from spec §4.6 for one turn.
func (r *Runtime) RunTurn(ctx context.Context, in Input) (result *Result, err error) {
	sessionID := in.Session.ID
	maxIterations := r.maxMessagesPerTurn
	if in.MaxMessages > 0 {
		maxIterations = in.MaxMessages
	}

	ctx, span := r.tracer.Start(ctx, "turn.run", trace.WithAttributes(
		attribute.String("session.id", sessionID),
		attribute.String("profile.id", in.ProfileID),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	// Step 1: queued lifecycle + pending run record.
	rec := r.runs.Create(sessionID, in.ProfileID)
	runID := rec.RunID
	span.SetAttributes(attribute.String("run.id", runID))
	r.pushLifecycle(runID, "queued", "")

	// Step 2: assemble context.
	systemPrompt := r.assembleContext(in.Session, sessionID, r.maxSystemPromptChars)

	// Step 3: scrub assembled content.
	scrubbedSystem, err := r.scrubber.ScrubText(systemPrompt, runID)
	if err != nil {
		return r.fail(runID, sessionID, newError(ErrAuthInvalid, err))
	}

	messages := make([]modeladapter.Message, 0, len(in.Messages)+1)
	if scrubbedSystem != "" {
		messages = append(messages, modeladapter.Message{Role: modeladapter.RoleSystem, Content: scrubbedSystem})
	}
	for _, m := range in.Messages {
		scrubbed, err := r.scrubber.ScrubText(m.Content, runID)
		if err != nil {
			return r.fail(runID, sessionID, newError(ErrAuthInvalid, err))
		}
		m.Content = scrubbed
		messages = append(messages, m)
	}

	// Step 4: started.
	r.pushLifecycle(runID, "started", "")

	var finalText string
	var totalUsage modeladapter.Usage
	var asyncTools []string
	iteration := 0

	for {
		iteration++
		if iteration > maxIterations {
			return r.fail(runID, sessionID, newError(ErrTurnBudgetExceeded, nil))
		}

		events, err := r.adapter.SendTurn(ctx, modeladapter.SendTurnRequest{
			TurnID:   runID,
			Model:    in.Session.Model,
			Messages: messages,
			Tools:    r.toolDefinitions(),
		})
		if err != nil {
			return r.fail(runID, sessionID, newError(ErrAdapterTransport, err))
		}

		var accumulator string
		var toolCalls []modeladapter.ToolCall
		var turnErr error

	drain:
		for ev := range events {
			switch ev.Type {
			case modeladapter.EventAssistantDelta:
				accumulator += ev.Delta
			case modeladapter.EventToolCall:
				if ev.ToolCall != nil {
					toolCalls = append(toolCalls, *ev.ToolCall)
				}
			case modeladapter.EventUsage:
				if ev.Usage != nil {
					totalUsage.PromptTokens += ev.Usage.PromptTokens
					totalUsage.CompletionTokens += ev.Usage.CompletionTokens
					totalUsage.TotalTokens += ev.Usage.TotalTokens
				}
			case modeladapter.EventError:
				turnErr = ev.Err
				break drain
			case modeladapter.EventDone:
				break drain
			}
		}
		if turnErr != nil {
			return r.fail(runID, sessionID, newError(ErrAdapterTransport, turnErr))
		}

		if len(toolCalls) == 0 {
			finalText = accumulator
			break
		}

		assistantMsg := modeladapter.Message{Role: modeladapter.RoleAssistant, Content: accumulator}
		messages = append(messages, assistantMsg)

		for _, tc := range toolCalls {
			toolMsg, async, err := r.runToolCall(ctx, runID, sessionID, tc)
			if err != nil {
				return r.fail(runID, sessionID, err)
			}
			if async {
				asyncTools = append(asyncTools, tc.Name)
			}
			messages = append(messages, toolMsg)
		}
	}

	// Step 5: success path.
	scrubbedFinal, err := r.scrubber.ScrubText(finalText, runID)
	if err != nil {
		return r.fail(runID, sessionID, newError(ErrAuthInvalid, err))
	}

	if r.memoryStore != nil {
		_ = r.memoryStore.Append(memory.Record{
			ID:        runID,
			SessionID: sessionID,
			Category:  memory.CategoryTurnSummary,
			Text:      scrubbedFinal,
		})
	}
	if r.journal != nil {
		if err := r.journal.Append(journal.DecisionEntry{At: time.Now(), Type: "turn_completed", Summary: scrubbedFinal}); err != nil {
			slog.Warn("turn: journal append failed", "run_id", runID, "error", err)
		}
	}
	if err := r.runs.MarkCompleted(runID, scrubbedFinal); err != nil {
		slog.Warn("turn: mark completed failed", "run_id", runID, "error", err)
	}
	r.pushLifecycle(runID, "completed", "")
	if r.guard != nil {
		r.guard.RecordSuccess(sessionID)
	}
	if r.reasoningReset != nil {
		r.reasoningReset.RecordSuccess(sessionID)
	}

	return &Result{
		RunID:        runID,
		AssistantMsg: scrubbedFinal,
		Usage:        totalUsage,
		Iterations:   iteration,
		AsyncTools:   asyncTools,
	}, nil
}

// runToolCall scrubs the result of one tool invocation and returns the
// message to feed back to the model as role "tool".
func (r *Runtime) runToolCall(ctx context.Context, runID, sessionID string, tc modeladapter.ToolCall) (msg modeladapter.Message, async bool, err error) {
	ctx, span := r.tracer.Start(ctx, "turn.tool_call", trace.WithAttributes(
		attribute.String("tool.name", tc.Name),
		attribute.String("run.id", runID),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	var args map[string]interface{}
	if len(tc.Arguments) > 0 {
		if err := json.Unmarshal(tc.Arguments, &args); err != nil {
			return modeladapter.Message{}, false, newError(ErrToolSchemaInvalid, err)
		}
	}

	if r.observations != nil {
		scrubbedArgs, err := r.scrubber.ScrubUnknown(args, runID)
		if err != nil {
			slog.Warn("turn: failed to scrub tool args for observation", "tool", tc.Name, "error", err)
		} else {
			r.observations.Append(journal.ObservationEvent{
				SessionID: sessionID,
				Source:    "tool_call",
				Kind:      tc.Name,
				Payload:   scrubbedArgs,
			})
		}
	}

	result := r.router.Execute(ctx, tools.Call{Tool: tc.Name, Args: args, Provenance: "trusted"})

	scrubbedResult, err := r.scrubber.ScrubText(result.ForLLM, runID)
	if err != nil {
		return modeladapter.Message{}, false, newError(ErrAuthInvalid, err)
	}

	return modeladapter.Message{
		Role:       modeladapter.RoleTool,
		Content:    scrubbedResult,
		ToolCallID: tc.ID,
	}, result.Async, nil
}

func (r *Runtime) toolDefinitions() []modeladapter.ToolDefinition {
	if r.router == nil {
		return nil
	}
	specs := r.router.ProviderDefs()
	out := make([]modeladapter.ToolDefinition, 0, len(specs))
	for _, s := range specs {
		out = append(out, modeladapter.ToolDefinition{Name: s.Name, Description: s.Description, Parameters: s.Parameters})
	}
	return out
}

func (r *Runtime) pushLifecycle(runID, status, detail string) {
	if r.lifecycle == nil {
		return
	}
	r.lifecycle.Push(run.LifecycleEvent{RunID: runID, Status: run.Status(status), Detail: detail})
}

func (r *Runtime) fail(runID, sessionID string, cause error) (*Result, error) {
	var te *TurnError
	if !errors.As(cause, &te) {
		te = newError(ErrAdapterTransport, cause)
	}
	if r.guard != nil {
		r.guard.RecordFailure(sessionID, string(te.Kind), te.Error())
	}
	if r.reasoningReset != nil {
		r.reasoningReset.RecordFailedIteration(sessionID)
	}
	if r.journal != nil {
		if err := r.journal.Append(journal.DecisionEntry{At: time.Now(), Type: "turn_failed", Summary: te.Error()}); err != nil {
			slog.Warn("turn: journal append failed", "run_id", runID, "error", err)
		}
	}
	if err := r.runs.MarkFailed(runID, te.Error()); err != nil {
		slog.Warn("turn: mark failed failed", "run_id", runID, "error", err)
	}
	r.pushLifecycle(runID, "failed", te.Error())
	return nil, fmt.Errorf("turn %s: %w", runID, te)
}
