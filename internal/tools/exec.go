package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/cursorclaw/agentcore/internal/capability"
)

// Intent classifies the risk surface of an exec call (spec §4.3).
type Intent string

const (
	IntentReadOnly          Intent = "read-only"
	IntentMutating          Intent = "mutating"
	IntentNetworkImpacting  Intent = "network-impacting"
	IntentPrivilegeImpacting Intent = "privilege-impacting"
)

var (
	mutatingVerbs   = regexp.MustCompile(`^(rm|mv|cp|truncate|tee)$`)
	networkVerbs    = regexp.MustCompile(`^(curl|wget|scp|ssh|nc|nmap)$`)
	privilegedVerbs = regexp.MustCompile(`^(sudo|chmod|chown|mount|passwd|useradd)$`)
)

// destructiveSignatures are always denied, regardless of allow-list or
// approval outcome.
var destructiveSignatures = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+-[a-z]*r[a-z]*f[a-z]*\b|\brm\s+-[a-z]*f[a-z]*r[a-z]*\b`),
	regexp.MustCompile(`\bdd\s+if=`),
	regexp.MustCompile(`\bmkfs\b|\bmkfs\.[a-z0-9]+\b`),
	regexp.MustCompile(`>\s*/dev/\S+`),
}

// ClassifyIntent tokenizes command and classifies it per spec's keyword scan:
// the classification is driven by the presence of a matching verb anywhere
// among the tokens, not just the first token, since e.g. "run-as sudo rm"
// should still trip privilege-impacting. "sed" counts as mutating only when
// the next token is "-i".
func ClassifyIntent(tokens []string) Intent {
	for _, t := range tokens {
		base := strings.ToLower(t)
		if privilegedVerbs.MatchString(base) {
			return IntentPrivilegeImpacting
		}
	}
	for _, t := range tokens {
		base := strings.ToLower(t)
		if networkVerbs.MatchString(base) {
			return IntentNetworkImpacting
		}
	}
	for _, t := range tokens {
		base := strings.ToLower(t)
		if mutatingVerbs.MatchString(base) {
			return IntentMutating
		}
	}
	// "sed -i" is mutating even though "sed" alone might be used read-only.
	for i := 0; i+1 < len(tokens); i++ {
		if strings.ToLower(tokens[i]) == "sed" && tokens[i+1] == "-i" {
			return IntentMutating
		}
	}
	return IntentReadOnly
}

// RequiredCapabilities implements the rule table in spec §4.2 for the exec
// tool given its classified intent.
func RequiredCapabilities(intent Intent) []capability.Capability {
	switch intent {
	case IntentReadOnly:
		return nil
	case IntentNetworkImpacting:
		return []capability.Capability{capability.ProcessExec, capability.NetFetch}
	case IntentMutating:
		return []capability.Capability{capability.ProcessExec, capability.FSWrite, capability.ProcessExecMutate}
	case IntentPrivilegeImpacting:
		return []capability.Capability{capability.ProcessExec, capability.ProcessExecPrivileged}
	default:
		return []capability.Capability{capability.ProcessExec}
	}
}

// IsDestructive reports whether command matches a destructive signature that
// must be denied regardless of allow-list or approval.
func IsDestructive(command string) bool {
	for _, re := range destructiveSignatures {
		if re.MatchString(command) {
			return true
		}
	}
	return false
}

const (
	defaultExecTimeout  = 15 * time.Second
	defaultExecMaxBuffer = 64 * 1024 // 64 KiB
)

// ExecTool executes a tokenized command without a shell (spec §4.3).
type ExecTool struct {
	WorkingDir string
	Timeout    time.Duration
	MaxBuffer  int
	AllowList  map[string]bool
}

// NewExecTool creates an exec tool that runs commands directly on the host,
// tokenized and without a shell interpreter.
func NewExecTool(workingDir string, allowList []string) *ExecTool {
	allow := make(map[string]bool, len(allowList))
	for _, a := range allowList {
		allow[a] = true
	}
	return &ExecTool{
		WorkingDir: workingDir,
		Timeout:    defaultExecTimeout,
		MaxBuffer:  defaultExecMaxBuffer,
		AllowList:  allow,
	}
}

func (t *ExecTool) Name() string        { return "exec" }
func (t *ExecTool) Description() string { return "Execute a command (tokenized, no shell) and return its output" }

func (t *ExecTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "Whitespace-separated command and arguments. No shell is invoked.",
			},
			"working_dir": map[string]interface{}{
				"type":        "string",
				"description": "Optional working directory for the command",
			},
		},
		"required": []string{"command"},
	}
}

// Tokenize splits a command into whitespace-separated tokens. No quoting or
// escaping semantics are applied: this is a deliberate hardening over a
// shell, where argument boundaries can be manipulated by injected input.
func Tokenize(command string) []string {
	return strings.Fields(command)
}

// Plan is the pre-execution classification used both by ExecTool.Execute and
// by the ToolRouter to decide whether approval is required.
type Plan struct {
	Tokens      []string
	Intent      Intent
	Destructive bool
	AllowListed bool
}

func (t *ExecTool) Plan(command string) Plan {
	tokens := Tokenize(command)
	intent := IntentReadOnly
	if len(tokens) > 0 {
		intent = ClassifyIntent(tokens)
	}
	allowListed := len(tokens) > 0 && t.AllowList[tokens[0]]
	return Plan{
		Tokens:      tokens,
		Intent:      intent,
		Destructive: IsDestructive(command),
		AllowListed: allowListed,
	}
}

// RequiresApproval reports whether this plan needs approval: the first token
// is not allow-listed, or the intent is anything other than read-only (even
// if allow-listed).
func (p Plan) RequiresApproval() bool {
	return !p.AllowListed || p.Intent != IntentReadOnly
}

func (t *ExecTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	command, _ := args["command"].(string)
	if command == "" {
		return ErrorResult("command is required")
	}

	plan := t.Plan(command)
	if plan.Destructive {
		return ErrorResult("command denied: matches a destructive signature")
	}
	if len(plan.Tokens) == 0 {
		return ErrorResult("command is empty after tokenizing")
	}

	cwd := ToolWorkspaceFromCtx(ctx)
	if cwd == "" {
		cwd = t.WorkingDir
	}
	if wd, _ := args["working_dir"].(string); wd != "" {
		cwd = wd
	}

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = defaultExecTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, plan.Tokens[0], plan.Tokens[1:]...)
	cmd.Dir = cwd
	setWindowsHide(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &boundedWriter{buf: &stdout, limit: t.maxBuffer()}
	cmd.Stderr = &boundedWriter{buf: &stderr, limit: t.maxBuffer()}

	err := cmd.Run()

	var result string
	if stdout.Len() > 0 {
		result = stdout.String()
	}
	if stderr.Len() > 0 {
		if result != "" {
			result += "\n"
		}
		result += "STDERR:\n" + stderr.String()
	}

	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return ErrorResult(fmt.Sprintf("command timed out after %s", timeout))
		}
		if result == "" {
			result = err.Error()
		}
		return ErrorResult(result)
	}

	if result == "" {
		result = "(command completed with no output)"
	}
	return SilentResult(result)
}

func (t *ExecTool) maxBuffer() int {
	if t.MaxBuffer <= 0 {
		return defaultExecMaxBuffer
	}
	return t.MaxBuffer
}

// boundedWriter truncates writes past limit so stdout/stderr capture never
// grows unbounded for a chatty or runaway command.
type boundedWriter struct {
	buf   *bytes.Buffer
	limit int
}

func (w *boundedWriter) Write(p []byte) (int, error) {
	remaining := w.limit - w.buf.Len()
	if remaining <= 0 {
		return len(p), nil
	}
	if len(p) > remaining {
		w.buf.Write(p[:remaining])
		return len(p), nil
	}
	w.buf.Write(p)
	return len(p), nil
}
