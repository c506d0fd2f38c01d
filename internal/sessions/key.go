// Package sessions implements the session handle and conversation-history
// store that feeds TurnRuntime's context assembly. Session keys identify a
// scope a run belongs to:
//
//	DM:       agent:{agentId}:{scope}:direct:{peerId}
//	Group:    agent:{agentId}:{scope}:group:{groupId}
//	Subagent: agent:{agentId}:subagent:{label}
//	Cron:     agent:{agentId}:cron:{jobId}:run:{runId}
package sessions

import (
	"fmt"
	"strings"
)

// PeerKind distinguishes a one-on-one conversation from a shared one.
type PeerKind string

const (
	PeerDirect PeerKind = "direct"
	PeerGroup  PeerKind = "group"
)

// BuildSessionKey builds the canonical key for a scoped conversation.
//
//	DM:    agent:{agentId}:{scope}:direct:{peerID}
//	Group: agent:{agentId}:{scope}:group:{chatID}
func BuildSessionKey(agentID, scope string, kind PeerKind, chatID string) string {
	return fmt.Sprintf("agent:%s:%s:%s:%s", agentID, scope, kind, chatID)
}

// BuildGroupTopicSessionKey builds the key for a threaded sub-conversation
// within a group (a forum topic, a ticket thread, and similar).
//
//	agent:{agentId}:{scope}:group:{chatID}:topic:{topicID}
func BuildGroupTopicSessionKey(agentID, scope, chatID string, topicID int) string {
	return fmt.Sprintf("agent:%s:%s:group:%s:topic:%d", agentID, scope, chatID, topicID)
}

// BuildSubagentSessionKey builds the key for a spawned subagent's own
// conversation history.
//
//	agent:{agentId}:subagent:{label}
func BuildSubagentSessionKey(agentID, label string) string {
	return fmt.Sprintf("agent:%s:subagent:%s", agentID, label)
}

// BuildCronSessionKey builds the key for one run of a scheduled job. Guards
// against double-prefixing: if jobID is already a canonical session key, only
// its rest part is used, to avoid "agent:X:cron:agent:X:cron:..." nesting.
func BuildCronSessionKey(agentID, jobID, runID string) string {
	if _, rest := ParseSessionKey(jobID); rest != "" {
		jobID = rest
	}
	return fmt.Sprintf("agent:%s:cron:%s:run:%s", agentID, jobID, runID)
}

// ParseSessionKey extracts the agentID and rest from a canonical session key.
// Returns ("", "") if the key isn't in the expected format.
func ParseSessionKey(key string) (agentID, rest string) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 3 || parts[0] != "agent" {
		return "", ""
	}
	return parts[1], parts[2]
}

// IsSubagentSession reports whether key identifies a subagent session.
func IsSubagentSession(key string) bool {
	_, rest := ParseSessionKey(key)
	return strings.HasPrefix(strings.ToLower(rest), "subagent:")
}

// IsCronSession reports whether key identifies a scheduled-job run.
func IsCronSession(key string) bool {
	_, rest := ParseSessionKey(key)
	return strings.HasPrefix(strings.ToLower(rest), "cron:")
}

// PeerKindFromGroup returns PeerGroup if isGroup is true, PeerDirect otherwise.
func PeerKindFromGroup(isGroup bool) PeerKind {
	if isGroup {
		return PeerGroup
	}
	return PeerDirect
}
