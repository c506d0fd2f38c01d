// Package cursoragent implements the subprocess ModelAdapter provider named
// in spec §4.5: it spawns a local "cursor-agent-cli"-shaped binary, feeds it
// the turn as a single JSON request on stdin, and reads line-delimited JSON
// frames off stdout until the process emits a done frame or exits.
package cursoragent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/cursorclaw/agentcore/internal/modeladapter"
)

const killGrace = 250 * time.Millisecond

// Provider spawns one subprocess per turn and parses its NDJSON stdout.
type Provider struct {
	command      string
	args         []string
	defaultModel string

	mu     sync.Mutex
	active map[string]*exec.Cmd
}

func New(command string, args []string, defaultModel string) *Provider {
	return &Provider{
		command:      command,
		args:         args,
		defaultModel: defaultModel,
		active:       make(map[string]*exec.Cmd),
	}
}

func (p *Provider) Name() string        { return "cursoragent" }
func (p *Provider) DefaultModel() string { return p.defaultModel }

// frame is the wire shape of one line of subprocess stdout.
type frame struct {
	Type     string                 `json:"type"`
	Delta    string                 `json:"delta"`
	ToolCall *frameToolCall         `json:"tool_call"`
	Usage    *modeladapter.Usage    `json:"usage"`
	Error    string                 `json:"error"`
}

type frameToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type subprocessRequest struct {
	TurnID   string                        `json:"turn_id"`
	Model    string                        `json:"model"`
	Messages []modeladapter.Message        `json:"messages"`
	Tools    []modeladapter.ToolDefinition `json:"tools"`
}

func (p *Provider) SendTurn(req modeladapter.SendTurnRequest) (<-chan modeladapter.Event, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	payload, err := json.Marshal(subprocessRequest{
		TurnID: req.TurnID, Model: model, Messages: req.Messages, Tools: req.Tools,
	})
	if err != nil {
		return nil, &modeladapter.TransportError{Provider: p.Name(), Err: err}
	}

	ctx := context.Background()
	cmd := exec.CommandContext(ctx, p.command, p.args...)
	cmd.Stdin = bytes.NewReader(payload)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &modeladapter.TransportError{Provider: p.Name(), Err: err}
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, &modeladapter.TransportError{Provider: p.Name(), Err: err}
	}

	p.mu.Lock()
	p.active[req.TurnID] = cmd
	p.mu.Unlock()

	toolNames := make(map[string]bool, len(req.Tools))
	for _, t := range req.Tools {
		toolNames[t.Name] = true
	}

	out := make(chan modeladapter.Event, 8)
	go p.pump(req.TurnID, cmd, stdout, &stderr, toolNames, out)
	return out, nil
}

func (p *Provider) pump(turnID string, cmd *exec.Cmd, stdout io.Reader, stderr *bytes.Buffer, toolNames map[string]bool, out chan<- modeladapter.Event) {
	defer func() {
		p.mu.Lock()
		delete(p.active, turnID)
		p.mu.Unlock()
		close(out)
	}()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	sawDone := false
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var f frame
		if err := json.Unmarshal(line, &f); err != nil {
			out <- modeladapter.Event{Type: modeladapter.EventError, Err: fmt.Errorf("cursoragent: malformed frame: %w", err)}
			sawDone = true
			break
		}
		switch f.Type {
		case "assistant_delta":
			out <- modeladapter.Event{Type: modeladapter.EventAssistantDelta, Delta: f.Delta}
		case "tool_call":
			if f.ToolCall == nil {
				continue
			}
			if !toolNames[f.ToolCall.Name] {
				out <- modeladapter.Event{Type: modeladapter.EventError, Err: fmt.Errorf("cursoragent: tool %q not in turn's tool list", f.ToolCall.Name)}
				sawDone = true
				break
			}
			out <- modeladapter.Event{Type: modeladapter.EventToolCall, ToolCall: &modeladapter.ToolCall{
				ID: f.ToolCall.ID, Name: f.ToolCall.Name, Arguments: f.ToolCall.Arguments,
			}}
		case "usage":
			out <- modeladapter.Event{Type: modeladapter.EventUsage, Usage: f.Usage}
		case "error":
			out <- modeladapter.Event{Type: modeladapter.EventError, Err: fmt.Errorf("cursoragent: %s", f.Error)}
			sawDone = true
		case "done":
			out <- modeladapter.Event{Type: modeladapter.EventDone}
			sawDone = true
		}
		if sawDone {
			break
		}
	}

	waitErr := cmd.Wait()
	if !sawDone {
		if waitErr != nil {
			out <- modeladapter.Event{Type: modeladapter.EventError, Err: &modeladapter.TransportError{
				Provider: "cursoragent", Err: fmt.Errorf("process exited: %w (stderr: %s)", waitErr, stderr.String()),
			}}
		} else {
			out <- modeladapter.Event{Type: modeladapter.EventDone}
		}
	}
}

// Cancel sends SIGTERM and escalates to SIGKILL after killGrace if the
// process has not exited.
func (p *Provider) Cancel(turnID string) error {
	p.mu.Lock()
	cmd := p.active[turnID]
	p.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return fmt.Errorf("cursoragent: no active process for turn %s", turnID)
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return cmd.Process.Kill()
	}
	go func() {
		time.Sleep(killGrace)
		p.mu.Lock()
		stillActive := p.active[turnID] == cmd
		p.mu.Unlock()
		if stillActive {
			slog.Warn("cursoragent: escalating to SIGKILL", "turn_id", turnID)
			_ = cmd.Process.Kill()
		}
	}()
	return nil
}

func (p *Provider) Close() error { return nil }
