package turn

import (
	"github.com/cursorclaw/agentcore/internal/journal"
	"github.com/cursorclaw/agentcore/internal/modeladapter"
)

// ContinuityConfig drives step 2(d) of context assembly: how much of the
// DecisionJournal to replay into the prompt.
type ContinuityConfig struct {
	DecisionJournalReplayMode journal.ReplayMode
	DecisionJournalLimit      int
	DecisionJournalSinceHours float64
	SessionStartMs            int64
}

// SubstrateProvider supplies the substrate/identity block for a session.
// Substrate/profile file management is an external, opaque concern (out of
// scope for this core); TurnRuntime only consumes whatever text it returns.
type SubstrateProvider func(session modeladapter.Session) (string, error)

// ContextProviderFunc supplies opaque, already untrust-wrapped artifacts for
// step 2(f). It is the seam for an external semantic context store.
type ContextProviderFunc func(session modeladapter.Session) ([]string, error)

// Input is one turn request.
type Input struct {
	Session     modeladapter.Session
	Messages    []modeladapter.Message
	ProfileID   string
	MaxMessages int // maxMessagesPerTurn; 0 uses Runtime default
}

// Result is the terminal outcome of a successful turn.
type Result struct {
	RunID        string
	AssistantMsg string
	Usage        modeladapter.Usage
	Iterations   int
	AsyncTools   []string
}
