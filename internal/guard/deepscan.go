package guard

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// configCandidates are file names deep-scan always surfaces when present,
// mirroring the teacher's workspace layout conventions (config + memory at
// the workspace root, scratch state under tmp/).
var configCandidates = []string{
	"config.json5", "config.json", ".env", "MEMORY.md",
}

const maxRecentFiles = 20

// DeepScanService walks a workspace for recently-modified files plus known
// config candidates, producing a summary TurnRuntime injects into context on
// ReasoningResetController escalation (spec §4.6 step 2h).
type DeepScanService struct {
	workspaceDir string
	since        time.Duration
}

func NewDeepScanService(workspaceDir string, since time.Duration) *DeepScanService {
	if since <= 0 {
		since = 24 * time.Hour
	}
	return &DeepScanService{workspaceDir: workspaceDir, since: since}
}

type fileHit struct {
	path    string
	modTime time.Time
}

// ScanRecentlyTouched returns a human-readable summary of recently modified
// files and present config candidates, for direct injection into the prompt.
func (d *DeepScanService) ScanRecentlyTouched() (string, error) {
	cutoff := time.Now().Add(-d.since)
	var hits []fileHit

	err := filepath.WalkDir(d.workspaceDir, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return nil // tolerate unreadable entries rather than aborting the scan
		}
		if entry.IsDir() {
			if strings.HasPrefix(entry.Name(), ".") && path != d.workspaceDir {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().After(cutoff) {
			hits = append(hits, fileHit{path: path, modTime: info.ModTime()})
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].modTime.After(hits[j].modTime) })
	if len(hits) > maxRecentFiles {
		hits = hits[:maxRecentFiles]
	}

	var b strings.Builder
	b.WriteString("Deep scan: recently touched files\n")
	for _, h := range hits {
		rel, _ := filepath.Rel(d.workspaceDir, h.path)
		fmt.Fprintf(&b, "- %s (modified %s)\n", rel, h.modTime.Format(time.RFC3339))
	}

	b.WriteString("\nConfig candidates present:\n")
	for _, name := range configCandidates {
		if _, err := os.Stat(filepath.Join(d.workspaceDir, name)); err == nil {
			fmt.Fprintf(&b, "- %s\n", name)
		}
	}
	return b.String(), nil
}
