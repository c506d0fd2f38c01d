package tools

import (
	"context"
	"testing"

	"github.com/cursorclaw/agentcore/internal/approval"
	"github.com/cursorclaw/agentcore/internal/capability"
)

func newTestRouter() (*Router, *ExecTool) {
	reg := NewRegistry()
	exec := NewExecTool("/tmp", []string{"echo"})
	reg.Register(exec)
	reg.Register(NewWebFetchTool())
	caps := capability.New(nil)
	appr := approval.New(caps, nil)
	return NewRouter(reg, caps, appr), exec
}

func TestRouterUnknownTool(t *testing.T) {
	r, _ := newTestRouter()
	res := r.Execute(context.Background(), Call{Tool: "does_not_exist"})
	if !res.IsError {
		t.Fatalf("expected unknown tool to error")
	}
	if r.Counters()[ReasonToolUnknown] != 1 {
		t.Fatalf("expected TOOL_UNKNOWN counted once")
	}
}

func TestRouterSchemaInvalid(t *testing.T) {
	r, _ := newTestRouter()
	res := r.Execute(context.Background(), Call{Tool: "exec", Args: map[string]interface{}{}})
	if !res.IsError {
		t.Fatalf("expected missing required 'command' arg to fail schema validation")
	}
	if r.Counters()[ReasonSchemaInvalid] != 1 {
		t.Fatalf("expected TOOL_SCHEMA_INVALID counted once")
	}
}

func TestRouterAllowListedReadOnlyExecutesWithoutApproval(t *testing.T) {
	r, _ := newTestRouter()
	res := r.Execute(context.Background(), Call{Tool: "exec", Args: map[string]interface{}{"command": "echo hi"}})
	if res.IsError {
		t.Fatalf("expected allow-listed read-only exec to succeed directly, got: %s", res.ForLLM)
	}
}

func TestRouterNonAllowListedRequiresApproval(t *testing.T) {
	r, _ := newTestRouter()
	res := r.Execute(context.Background(), Call{Tool: "exec", Args: map[string]interface{}{"command": "whoami"}})
	if !res.IsError {
		t.Fatalf("expected non-allow-listed command to require approval, not execute")
	}
	if r.Counters()[ReasonApprovalRequired] != 1 {
		t.Fatalf("expected TOOL_APPROVAL_REQUIRED counted once")
	}
}
