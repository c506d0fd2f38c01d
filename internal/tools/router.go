// Package tools implements ToolRouter (spec §4.3): schema-validated tool
// dispatch, intent classification, capability consumption, and the exec and
// web_fetch tools.
package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/cursorclaw/agentcore/internal/approval"
	"github.com/cursorclaw/agentcore/internal/capability"
)

// ReasonCode enumerates the structured decision outcomes.
type ReasonCode string

const (
	ReasonToolUnknown         ReasonCode = "TOOL_UNKNOWN"
	ReasonPolicyBlocked       ReasonCode = "TOOL_POLICY_BLOCKED"
	ReasonSchemaInvalid       ReasonCode = "TOOL_SCHEMA_INVALID"
	ReasonApprovalRequired    ReasonCode = "TOOL_APPROVAL_REQUIRED"
	ReasonExecDenied          ReasonCode = "TOOL_EXEC_DENIED"
	ReasonAllow               ReasonCode = "ALLOW"
)

// Decision is one structured audit log entry produced by the router.
type Decision struct {
	At       time.Time
	AuditID  string
	Tool     string
	Decision string // "allow" | "deny"
	Reason   ReasonCode
	Detail   string
}

// Call is a single model-requested tool invocation.
type Call struct {
	Tool       string
	Args       map[string]interface{}
	Provenance string // "trusted" | "untrusted"
}

// Router dispatches tool calls through the capability/approval gate.
type Router struct {
	registry        *Registry
	caps            *capability.Store
	approvals       *approval.Workflow
	isolationActive bool
	schemas         map[string]*jsonschema.Schema

	mu       sync.Mutex
	counters map[ReasonCode]int
	log      []Decision
}

func NewRouter(reg *Registry, caps *capability.Store, approvals *approval.Workflow) *Router {
	return &Router{
		registry: reg,
		caps:     caps,
		approvals: approvals,
		schemas:  make(map[string]*jsonschema.Schema),
		counters: make(map[ReasonCode]int),
	}
}

// ProviderDefs returns the tool specs a TurnRuntime should offer the model.
func (r *Router) ProviderDefs() []ToolSpec { return r.registry.ProviderDefs() }

// SetIsolationActive toggles tool-isolation mode: while active, any tool
// flagged high-risk (via RiskLeveler) is denied outright.
func (r *Router) SetIsolationActive(active bool) { r.isolationActive = active }

func (r *Router) compiledSchema(tool Tool) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(tool.Parameters())
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(raw)
	key := tool.Name() + ":" + hex.EncodeToString(sum[:])
	if s, ok := r.schemas[key]; ok {
		return s, nil
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(tool.Name()+".json", doc); err != nil {
		return nil, err
	}
	sch, err := c.Compile(tool.Name() + ".json")
	if err != nil {
		return nil, err
	}
	r.schemas[key] = sch
	return sch, nil
}

// Execute runs the 5-step pipeline from spec §4.3.
func (r *Router) Execute(ctx context.Context, call Call) *Result {
	auditID := uuid.NewString()

	// Step 1: lookup.
	tool, ok := r.registry.Get(call.Tool)
	if !ok {
		r.record(auditID, call.Tool, ReasonToolUnknown, "")
		return ErrorResult("unknown tool: " + call.Tool)
	}

	// Step 2: isolation mode blocks high-risk tools outright.
	if r.isolationActive {
		if rl, ok := tool.(RiskLeveler); ok && rl.RiskLevel() == "high" {
			r.record(auditID, call.Tool, ReasonPolicyBlocked, "tool isolation active")
			return ErrorResult("tool blocked by isolation policy")
		}
	}

	// Step 3: schema validation.
	sch, err := r.compiledSchema(tool)
	if err != nil {
		r.record(auditID, call.Tool, ReasonSchemaInvalid, err.Error())
		return ErrorResult("tool schema invalid: " + err.Error())
	}
	if err := sch.Validate(toJSONValue(call.Args)); err != nil {
		r.record(auditID, call.Tool, ReasonSchemaInvalid, err.Error())
		return ErrorResult("arguments failed schema validation: " + err.Error())
	}

	// Step 4: capability/approval gate.
	intent, required, plan := r.classify(tool, call)
	scope := scopeFor(call.Tool, intent, call.Provenance)

	if rl, ok := tool.(RiskLeveler); ok && rl.RiskLevel() == "high" {
		required = append(required, capability.ToolHighRisk)
	}

	needsApproval := false
	if execPlan, isExec := plan.(Plan); isExec {
		needsApproval = execPlan.RequiresApproval()
	} else if len(required) > 0 {
		needsApproval = true
	}

	if len(required) > 0 {
		if !r.caps.ConsumeRequired(scope, required) {
			if needsApproval {
				req := r.approvals.Request(approval.Input{
					Tool: call.Tool, Intent: string(intent), Required: required,
					Provenance: call.Provenance, Scope: scope,
				})
				if req.Status != approval.Approved {
					r.record(auditID, call.Tool, ReasonApprovalRequired, fmt.Sprintf("pending approval id=%s", req.ID))
					return ErrorResult("tool call requires approval: " + req.ID)
				}
				if !r.caps.ConsumeRequired(scope, required) {
					r.record(auditID, call.Tool, ReasonApprovalRequired, "approved but grant unavailable")
					return ErrorResult("tool call requires approval")
				}
			} else {
				r.record(auditID, call.Tool, ReasonApprovalRequired, "missing capability grant")
				return ErrorResult("tool call requires approval")
			}
		}
	} else if needsApproval {
		req := r.approvals.Request(approval.Input{Tool: call.Tool, Intent: string(intent), Provenance: call.Provenance, Scope: scope})
		if req.Status != approval.Approved {
			r.record(auditID, call.Tool, ReasonApprovalRequired, fmt.Sprintf("pending approval id=%s", req.ID))
			return ErrorResult("tool call requires approval: " + req.ID)
		}
	}

	// Step 5: execute.
	res := tool.Execute(ctx, call.Args)
	if res == nil {
		r.record(auditID, call.Tool, ReasonExecDenied, "nil result")
		return ErrorResult("tool produced no result")
	}
	if res.IsError {
		r.record(auditID, call.Tool, ReasonExecDenied, res.ForLLM)
	} else {
		r.record(auditID, call.Tool, ReasonAllow, "")
	}
	return res
}

// classify derives the intent, required capabilities, and (for exec) the
// execution plan for a call.
func (r *Router) classify(tool Tool, call Call) (intent string, required []capability.Capability, plan interface{}) {
	switch t := tool.(type) {
	case *ExecTool:
		p := t.Plan(stringArg(call.Args, "command"))
		return string(p.Intent), RequiredCapabilities(p.Intent), p
	case *WebFetchTool:
		return "network-impacting", []capability.Capability{capability.NetFetch}, nil
	default:
		return "standard", nil, nil
	}
}

func stringArg(args map[string]interface{}, key string) string {
	v, _ := args[key].(string)
	return v
}

// scopeFor builds the approval/capability scope key: "tool:intent" normally,
// "untrusted:tool:intent" when provenance crosses an untrusted boundary, so
// trusted-scope grants never authorize untrusted-sourced calls.
func scopeFor(tool, intent, provenance string) string {
	if provenance == "untrusted" {
		return "untrusted:" + tool + ":" + intent
	}
	return tool + ":" + intent
}

func (r *Router) record(auditID, tool string, reason ReasonCode, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[reason]++
	decision := "allow"
	if reason != ReasonAllow {
		decision = "deny"
	}
	entry := Decision{At: time.Now(), AuditID: auditID, Tool: tool, Decision: decision, Reason: reason, Detail: detail}
	r.log = append(r.log, entry)
	if decision == "allow" {
		slog.Info("tool call allowed", "tool", tool, "audit_id", auditID)
	} else {
		slog.Warn("tool call denied", "tool", tool, "reason", reason, "audit_id", auditID, "detail", detail)
	}
}

// Counters returns a snapshot of per-reason-code counts.
func (r *Router) Counters() map[ReasonCode]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[ReasonCode]int, len(r.counters))
	for k, v := range r.counters {
		out[k] = v
	}
	return out
}

// Log returns a snapshot of the decision log.
func (r *Router) Log() []Decision {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Decision, len(r.log))
	copy(out, r.log)
	return out
}

func toJSONValue(v interface{}) interface{} {
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out interface{}
	if err := json.Unmarshal(b, &out); err != nil {
		return v
	}
	return out
}
