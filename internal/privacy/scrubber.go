// Package privacy implements PrivacyScrubber (spec §4.1): detects
// secret-shaped spans and replaces them with scope-stable placeholders.
package privacy

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// detector finds candidate spans of a given label in s. Confidence ranks
// overlapping findings; wider/higher-confidence findings win.
type detector struct {
	label      string
	confidence int
	find       func(s string) []match
}

type match struct {
	start, end int
	confidence int
}

var (
	reKeyValue    = regexp.MustCompile(`(?i)\b([a-z0-9_]*(?:secret|token|password|passwd|api[_-]?key|access[_-]?key)[a-z0-9_]*)\s*[=:]\s*['"]?([^\s'"]{6,})`)
	reGithubToken = regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{20,}\b`)
	reAWSKey      = regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`)
	reJWT         = regexp.MustCompile(`\beyJ[A-Za-z0-9_-]+\.eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\b`)
	rePEMBlock    = regexp.MustCompile(`(?s)-----BEGIN [A-Z ]*PRIVATE KEY-----.*?-----END [A-Z ]*PRIVATE KEY-----`)
	reHighEntropy = regexp.MustCompile(`[A-Za-z0-9+/_=\-\.]{28,}`)
	rePathLike    = regexp.MustCompile(`[\\/]`)
)

var detectors = []detector{
	{"SECRET_ASSIGNMENT", 3, func(s string) []match {
		var out []match
		for _, loc := range reKeyValue.FindAllStringSubmatchIndex(s, -1) {
			// loc[4:6] is the value capture group.
			out = append(out, match{loc[4], loc[5], 3})
		}
		return out
	}},
	{"GITHUB_TOKEN", 3, func(s string) []match { return fromIdx(reGithubToken.FindAllStringIndex(s, -1), 3) }},
	{"AWS_ACCESS_KEY", 3, func(s string) []match { return fromIdx(reAWSKey.FindAllStringIndex(s, -1), 3) }},
	{"JWT", 3, func(s string) []match { return fromIdx(reJWT.FindAllStringIndex(s, -1), 3) }},
	{"PRIVATE_KEY", 4, func(s string) []match { return fromIdx(rePEMBlock.FindAllStringIndex(s, -1), 4) }},
	{"HIGH_ENTROPY_TOKEN", 1, func(s string) []match {
		var out []match
		for _, loc := range reHighEntropy.FindAllStringIndex(s, -1) {
			span := s[loc[0]:loc[1]]
			if rePathLike.MatchString(span) {
				continue
			}
			if shannonEntropy(span) < 4.0 {
				continue
			}
			out = append(out, match{loc[0], loc[1], 1})
		}
		return out
	}},
}

func fromIdx(locs [][]int, confidence int) []match {
	out := make([]match, 0, len(locs))
	for _, l := range locs {
		out = append(out, match{l[0], l[1], confidence})
	}
	return out
}

func shannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}
	counts := make(map[rune]int)
	for _, r := range s {
		counts[r]++
	}
	n := float64(len(s))
	var h float64
	for _, c := range counts {
		p := float64(c) / n
		h -= p * math.Log2(p)
	}
	return h
}

type labeledMatch struct {
	match
	label string
}

// Scrubber replaces secret-shaped spans with stable placeholders, keyed by
// scope so the same value always maps to the same placeholder within a
// scope but not across scopes.
type Scrubber struct {
	mu            sync.Mutex
	failClosed    bool
	scopes        map[string]*scopeState
}

type scopeState struct {
	counter  int
	byValue  map[string]string
}

// New constructs a Scrubber. failClosedOnError controls behavior when an
// internal detector panics/errors: true propagates the error, false returns
// the input unchanged.
func New(failClosedOnError bool) *Scrubber {
	return &Scrubber{
		failClosed: failClosedOnError,
		scopes:     make(map[string]*scopeState),
	}
}

// ScrubText scans s for secret-shaped spans and replaces each with a stable
// placeholder for scopeID.
func (sc *Scrubber) ScrubText(s string, scopeID string) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			if sc.failClosed {
				err = panicErr(r)
				return
			}
			text = s
		}
	}()

	var found []labeledMatch
	for _, d := range detectors {
		for _, m := range d.find(s) {
			found = append(found, labeledMatch{m, d.label})
		}
	}
	if len(found) == 0 {
		return s, nil
	}

	sort.Slice(found, func(i, j int) bool {
		if found[i].start != found[j].start {
			return found[i].start < found[j].start
		}
		return found[i].end > found[j].end
	})

	// Collapse overlaps: keep the widest/highest-confidence span.
	kept := make([]labeledMatch, 0, len(found))
	for _, m := range found {
		if len(kept) > 0 {
			last := kept[len(kept)-1]
			if m.start < last.end {
				if m.confidence > last.confidence || (m.end-m.start) > (last.end-last.start) {
					kept[len(kept)-1] = m
				}
				continue
			}
		}
		kept = append(kept, m)
	}

	sc.mu.Lock()
	st, ok := sc.scopes[scopeID]
	if !ok {
		st = &scopeState{byValue: make(map[string]string)}
		sc.scopes[scopeID] = st
	}
	sc.mu.Unlock()

	var b strings.Builder
	cursor := 0
	for _, m := range kept {
		if m.start < cursor {
			continue
		}
		b.WriteString(s[cursor:m.start])
		value := s[m.start:m.end]
		b.WriteString(sc.placeholder(st, m.label, value))
		cursor = m.end
	}
	b.WriteString(s[cursor:])
	return b.String(), nil
}

func (sc *Scrubber) placeholder(st *scopeState, label, value string) string {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if ph, ok := st.byValue[label+"\x00"+value]; ok {
		return ph
	}
	st.counter++
	ph := "[" + label + "_" + itoa(st.counter) + "]"
	st.byValue[label+"\x00"+value] = ph
	return ph
}

// ScrubUnknown recurses into arrays and string-keyed maps, scrubbing string
// leaves; non-strings pass through unchanged.
func (sc *Scrubber) ScrubUnknown(v interface{}, scopeID string) (interface{}, error) {
	switch val := v.(type) {
	case string:
		return sc.ScrubText(val, scopeID)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, e := range val {
			scrubbed, err := sc.ScrubUnknown(e, scopeID)
			if err != nil {
				return nil, err
			}
			out[i] = scrubbed
		}
		return out, nil
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, e := range val {
			scrubbed, err := sc.ScrubUnknown(e, scopeID)
			if err != nil {
				return nil, err
			}
			out[k] = scrubbed
		}
		return out, nil
	default:
		return v, nil
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

func panicErr(r interface{}) error {
	if err, ok := r.(error); ok {
		return err
	}
	return &scrubPanic{r}
}

type scrubPanic struct{ v interface{} }

func (p *scrubPanic) Error() string { return "privacy: scrub panic" }
