package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Compact holds a lock file under tmp/ and, if the in-memory table is over
// threshold, partitions records into keepAlways/compactable/too-young, merges
// eligible compactable records into one compaction Record, rewrites the
// primary file atomically, and appends a dated block to the long-memory
// summary file (trimming its earliest blocks if over cap).
func (s *Store) Compact(threshold int) (compacted int, err error) {
	unlock, err := s.acquireLock()
	if err != nil {
		return 0, err
	}
	defer unlock()

	s.mu.Lock()
	current := make([]Record, len(s.records))
	copy(current, s.records)
	s.mu.Unlock()

	if len(current) <= threshold {
		return 0, nil
	}

	cutoff := time.Now().AddDate(0, 0, -s.limits.MinAgeDays)
	var kept []Record
	var eligible []Record
	for _, r := range current {
		ts, _ := time.Parse(time.RFC3339, r.Provenance.TimestampISO)
		tooYoung := ts.IsZero() || ts.After(cutoff)
		if keepAlways[r.Category] || tooYoung || !compactable[r.Category] {
			kept = append(kept, r)
			continue
		}
		eligible = append(eligible, r)
	}

	if len(eligible) == 0 {
		return 0, nil
	}

	texts := make([]string, len(eligible))
	for i, r := range eligible {
		texts[i] = r.Text
	}
	summaryText := strings.Join(texts, "\n\n")
	const maxSummaryRecordChars = 8000
	if len(summaryText) > maxSummaryRecordChars {
		summaryText = summaryText[:maxSummaryRecordChars]
	}

	compaction := Record{
		Category: CategoryCompaction,
		Text:     summaryText,
		Provenance: Provenance{
			Confidence:   1.0,
			TimestampISO: time.Now().UTC().Format(time.RFC3339),
			Sensitivity:  SensitivityOperational,
		},
	}
	if len(eligible) > 0 {
		compaction.SessionID = eligible[0].SessionID
	}

	final := append(kept, compaction)
	if err := rewriteNDJSON(s.primaryPath(), final); err != nil {
		return 0, err
	}

	s.mu.Lock()
	s.records = final
	s.mu.Unlock()

	if err := s.appendSummaryBlock(compaction); err != nil {
		return len(eligible), err
	}
	return len(eligible), nil
}

func (s *Store) appendSummaryBlock(compaction Record) error {
	existing, _ := os.ReadFile(s.summaryPath())
	block := fmt.Sprintf("## %s\n\n%s\n\n", compaction.Provenance.TimestampISO, compaction.Text)
	combined := string(existing) + block
	if len(combined) > s.limits.SummaryCap {
		combined = trimEarliestBlocks(combined, s.limits.SummaryCap)
	}
	return os.WriteFile(s.summaryPath(), []byte(combined), 0o644)
}

// trimEarliestBlocks drops whole "## " blocks from the front until content
// fits within cap.
func trimEarliestBlocks(content string, cap int) string {
	for len(content) > cap {
		idx := strings.Index(content, "\n## ")
		if idx < 0 {
			if len(content) > cap {
				return content[len(content)-cap:]
			}
			return content
		}
		content = content[idx+1:]
	}
	return content
}

func (s *Store) acquireLock() (func(), error) {
	path := s.lockPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("memory: compaction already in progress: %w", err)
	}
	f.Close()
	return func() { os.Remove(path) }, nil
}
