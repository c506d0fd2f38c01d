package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cursorclaw/agentcore/internal/config"
	"github.com/cursorclaw/agentcore/internal/modeladapter"
	"github.com/cursorclaw/agentcore/internal/sessions"
	"github.com/cursorclaw/agentcore/internal/turn"
)

func chatCmd() *cobra.Command {
	var (
		agentName  string
		message    string
		sessionKey string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Run a turn against the local model adapter, interactively or one-shot",
		Long: `Run a turn through TurnRuntime without a gateway process.

Examples:
  agentcore chat                          # interactive REPL
  agentcore chat -m "What time is it?"    # one-shot message
  agentcore chat -s my-session            # continue a session`,
		Run: func(cmd *cobra.Command, args []string) {
			runChat(agentName, message, sessionKey)
		},
	}

	cmd.Flags().StringVarP(&agentName, "name", "n", "default", "agent ID, used to scope the session key")
	cmd.Flags().StringVarP(&message, "message", "m", "", "one-shot message (omit for interactive mode)")
	cmd.Flags().StringVarP(&sessionKey, "session", "s", "", "session key (default: auto-generated)")

	return cmd
}

func runChat(agentName, message, sessionKey string) {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}

	w, err := buildRuntime(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error wiring runtime: %v\n", err)
		os.Exit(1)
	}
	defer w.Tracer.Shutdown(context.Background())

	if sessionKey == "" {
		sessionKey = sessions.BuildSessionKey(agentName, "cli", sessions.PeerDirect, "local")
	}
	session := modeladapter.Session{ID: sessionKey, ChannelKind: "cli", Model: cfg.Adapter.DefaultModel}

	if message != "" {
		sendAndPrint(w, session, sessionKey, agentName, message)
		return
	}

	fmt.Println("agentcore chat — interactive mode, Ctrl-D to exit")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		sendAndPrint(w, session, sessionKey, agentName, text)
	}
}

func sendAndPrint(w *wired, session modeladapter.Session, sessionKey, agentName, message string) {
	history := w.Sessions.GetHistory(sessionKey)
	userMsg := modeladapter.Message{Role: modeladapter.RoleUser, Content: message}

	res, err := w.Runtime.RunTurn(context.Background(), turn.Input{
		Session:   session,
		Messages:  append(history, userMsg),
		ProfileID: agentName,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "turn failed: %v\n", err)
		return
	}

	w.Sessions.AddMessage(sessionKey, userMsg)
	w.Sessions.AddMessage(sessionKey, modeladapter.Message{Role: modeladapter.RoleAssistant, Content: res.AssistantMsg})
	w.Sessions.AccumulateTokens(sessionKey, int64(res.Usage.PromptTokens), int64(res.Usage.CompletionTokens))
	if err := w.Sessions.Save(sessionKey); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to persist session: %v\n", err)
	}

	fmt.Println(res.AssistantMsg)
}
