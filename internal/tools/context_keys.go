package tools

import "context"

// Tool execution context keys let tools read per-call state injected by the
// router, keeping Tool implementations themselves stateless and safe for
// concurrent execution.

type toolContextKey string

const (
	ctxWorkspace toolContextKey = "tool_workspace"
	ctxRunID     toolContextKey = "tool_run_id"
	ctxScope     toolContextKey = "tool_scope"
)

func WithToolWorkspace(ctx context.Context, ws string) context.Context {
	return context.WithValue(ctx, ctxWorkspace, ws)
}

func ToolWorkspaceFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(ctxWorkspace).(string)
	return v
}

func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, ctxRunID, runID)
}

func RunIDFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(ctxRunID).(string)
	return v
}

func WithScope(ctx context.Context, scope string) context.Context {
	return context.WithValue(ctx, ctxScope, scope)
}

func ScopeFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(ctxScope).(string)
	return v
}
