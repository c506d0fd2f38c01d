// Package guard implements FailureLoopGuard and ReasoningResetController
// (spec §4.7): per-session failure-signature tracking that triggers a
// one-shot step-back directive, plus a harder-threshold deep-scan escalation.
package guard

import (
	"regexp"
	"strings"
	"sync"
)

const maxSignatureLen = 300

var digitsRe = regexp.MustCompile(`[0-9]+`)
var spaceRe = regexp.MustCompile(`\s+`)

// Signature normalizes an error to a comparable, length-bounded string: it is
// not meant to be human-readable, only stable across repeats of "the same"
// failure whose message embeds a varying id or count.
func Signature(name, message string) string {
	s := strings.ToLower(name + ":" + message)
	s = digitsRe.ReplaceAllString(s, "#")
	s = spaceRe.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	if len(s) > maxSignatureLen {
		s = s[:maxSignatureLen]
	}
	return s
}

type sessionState struct {
	signature string
	count     int
}

// FailureLoopGuard tracks a per-session streak of same-signature failures.
type FailureLoopGuard struct {
	threshold int

	mu       sync.Mutex
	sessions map[string]*sessionState
}

func NewFailureLoopGuard(threshold int) *FailureLoopGuard {
	if threshold <= 0 {
		threshold = 3
	}
	return &FailureLoopGuard{threshold: threshold, sessions: make(map[string]*sessionState)}
}

// RecordFailure updates the streak for sessionID given the raw error's name
// and message. A different signature resets the count to 1.
func (g *FailureLoopGuard) RecordFailure(sessionID, name, message string) {
	sig := Signature(name, message)
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.sessions[sessionID]
	if !ok || st.signature != sig {
		g.sessions[sessionID] = &sessionState{signature: sig, count: 1}
		return
	}
	st.count++
}

// RecordSuccess clears the streak for sessionID.
func (g *FailureLoopGuard) RecordSuccess(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.sessions, sessionID)
}

// RequiresStepBack reports whether the session's current streak has reached
// the escalation threshold.
func (g *FailureLoopGuard) RequiresStepBack(sessionID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.sessions[sessionID]
	return ok && st.count >= g.threshold
}

// ReasoningResetController escalates past FailureLoopGuard's threshold: once
// a session's failed-iteration count reaches its own (higher) threshold, the
// next turn should receive a deep-scan summary instead of just the step-back
// directive.
type ReasoningResetController struct {
	threshold int

	mu     sync.Mutex
	counts map[string]int
}

func NewReasoningResetController(threshold int) *ReasoningResetController {
	if threshold <= 0 {
		threshold = 5
	}
	return &ReasoningResetController{threshold: threshold, counts: make(map[string]int)}
}

func (c *ReasoningResetController) RecordFailedIteration(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[sessionID]++
}

func (c *ReasoningResetController) RecordSuccess(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.counts, sessionID)
}

func (c *ReasoningResetController) ThresholdReached(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[sessionID] >= c.threshold
}
