package turn

import (
	"strings"

	"github.com/cursorclaw/agentcore/internal/journal"
	"github.com/cursorclaw/agentcore/internal/memory"
	"github.com/cursorclaw/agentcore/internal/modeladapter"
)

const stepBackDirective = "Before continuing, consider three distinct architectural hypotheses for why prior attempts failed, and pick one deliberately rather than repeating the same approach."

// assembleContext builds the system-prompt sections in spec order, each
// clipped so the running total never exceeds maxChars. Sections are
// dropped from the tail once the budget is spent, never truncated
// mid-section, so a section is either whole or absent.
func (r *Runtime) assembleContext(session modeladapter.Session, sessionID string, maxChars int) string {
	var sections []string

	if r.substrate != nil {
		if s, err := r.substrate(session); err == nil && s != "" {
			sections = append(sections, s)
		}
	}

	if r.memoryStore != nil {
		recs := r.memoryStore.RetrieveForSession(sessionID, r.allowSecretMemory)
		if len(recs) > 0 {
			sections = append(sections, formatMemoryExcerpt(recs))
		}
	}

	if r.continuity != nil {
		if s := r.continuitySummary(sessionID); s != "" {
			sections = append(sections, s)
		}
	}

	if r.journal != nil {
		if s := r.journalReplay(); s != "" {
			sections = append(sections, s)
		}
	}

	if r.observations != nil {
		if s := r.observationReplay(); s != "" {
			sections = append(sections, s)
		}
	}

	if r.contextProvider != nil {
		if artifacts, err := r.contextProvider(session); err == nil {
			for _, a := range artifacts {
				if a != "" {
					sections = append(sections, a)
				}
			}
		}
	}

	if r.guard != nil && r.guard.RequiresStepBack(sessionID) {
		sections = append(sections, stepBackDirective)
	}

	if r.reasoningReset != nil && r.reasoningReset.ThresholdReached(sessionID) && r.deepScan != nil {
		if summary, err := r.deepScan.ScanRecentlyTouched(); err == nil && summary != "" {
			sections = append(sections, "Recent workspace activity:\n"+summary)
		}
	}

	return clipSections(sections, maxChars)
}

func clipSections(sections []string, maxChars int) string {
	if maxChars <= 0 {
		return strings.Join(sections, "\n\n")
	}
	var kept []string
	total := 0
	for _, s := range sections {
		// +2 accounts for the joining separator once kept is non-empty.
		cost := len(s)
		if len(kept) > 0 {
			cost += 2
		}
		if total+cost > maxChars {
			break
		}
		kept = append(kept, s)
		total += cost
	}
	return strings.Join(kept, "\n\n")
}

func formatMemoryExcerpt(recs []memory.Record) string {
	var b strings.Builder
	b.WriteString("Memory:\n")
	for _, rec := range recs {
		b.WriteString("- ")
		b.WriteString(rec.Text)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (r *Runtime) continuitySummary(sessionID string) string {
	if r.summaryProvider == nil {
		return ""
	}
	return r.summaryProvider(sessionID)
}

func (r *Runtime) journalReplay() string {
	opts := journal.ReplayOptions{
		Mode:       journal.ReplayCount,
		Limit:      20,
		MaxEntries: 50,
	}
	if r.continuity != nil {
		opts.SessionStartMs = r.continuity.SessionStartMs
		switch r.continuity.DecisionJournalReplayMode {
		case journal.ReplaySinceHours:
			opts.Mode = journal.ReplaySinceHours
			opts.SinceHours = r.continuity.DecisionJournalSinceHours
		case journal.ReplaySinceLastSession:
			opts.Mode = journal.ReplaySinceLastSession
		default:
			opts.Mode = journal.ReplayCount
		}
		if r.continuity.DecisionJournalLimit > 0 {
			opts.Limit = r.continuity.DecisionJournalLimit
		}
	}

	entries, err := r.journal.ReadEntriesForReplay(opts)
	if err != nil || len(entries) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Recent decisions:\n")
	for _, e := range entries {
		b.WriteString("- ")
		b.WriteString(e.Summary)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (r *Runtime) observationReplay() string {
	events := r.observations.Recent(20)
	if len(events) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Recent observations:\n")
	for _, ev := range events {
		b.WriteString("- [")
		b.WriteString(ev.Source)
		b.WriteString("] ")
		b.WriteString(ev.Kind)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
