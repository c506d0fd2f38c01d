// Package approval implements ApprovalWorkflow (spec §3, §4.2): pending
// human-in-the-loop decisions, deduplicated by a fingerprint of the request,
// that resolve into capability grants.
package approval

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/cursorclaw/agentcore/internal/capability"
)

type Status string

const (
	Pending  Status = "pending"
	Approved Status = "approved"
	Denied   Status = "denied"
	Expired  Status = "expired"
)

// Request mirrors spec's ApprovalRequest entity.
type Request struct {
	ID          string
	Fingerprint string
	Tool        string
	Intent      string
	Plan        string
	Required    []capability.Capability
	Provenance  string
	Scope       string
	Status      Status
	CreatedAt   time.Time
	ResolvedAt  time.Time
}

// Input describes a pending request before it is created or deduped.
type Input struct {
	Tool       string
	Intent     string
	Plan       string
	Required   []capability.Capability
	Provenance string
	Scope      string
}

// Workflow tracks pending/approved/denied requests in memory.
type Workflow struct {
	mu       sync.Mutex
	byFP     map[string]*Request
	byID     map[string]*Request
	nextID   uint64
	now      func() time.Time
	caps     *capability.Store
	ttl      time.Duration // lazy expiry sweep threshold for stale pending requests
}

// New constructs a Workflow backed by the given capability store. caps is
// where resolve() deposits grants on approval.
func New(caps *capability.Store, nowFn func() time.Time) *Workflow {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Workflow{
		byFP: make(map[string]*Request),
		byID: make(map[string]*Request),
		now:  nowFn,
		caps: caps,
		ttl:  24 * time.Hour,
	}
}

// Fingerprint computes the dedup key over (tool, intent, plan, caps,
// provenance): identical tuples return the same pending request.
func Fingerprint(in Input) string {
	req := dedupe(in.Required)
	sort.Slice(req, func(i, j int) bool { return req[i] < req[j] })
	payload, _ := json.Marshal(struct {
		Tool       string
		Intent     string
		Plan       string
		Required   []capability.Capability
		Provenance string
	}{in.Tool, in.Intent, in.Plan, req, in.Provenance})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func dedupe(caps []capability.Capability) []capability.Capability {
	seen := make(map[capability.Capability]bool, len(caps))
	out := make([]capability.Capability, 0, len(caps))
	for _, c := range caps {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}

// Request creates a pending request, or returns the existing one if an
// identical fingerprint is already pending.
func (w *Workflow) Request(in Input) *Request {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sweep()

	fp := Fingerprint(in)
	if existing, ok := w.byFP[fp]; ok && existing.Status == Pending {
		return existing
	}

	w.nextID++
	now := w.now()
	r := &Request{
		ID:          idFor(w.nextID),
		Fingerprint: fp,
		Tool:        in.Tool,
		Intent:      in.Intent,
		Plan:        in.Plan,
		Required:    dedupe(in.Required),
		Provenance:  in.Provenance,
		Scope:       in.Scope,
		Status:      Pending,
		CreatedAt:   now,
	}
	w.byFP[fp] = r
	w.byID[r.ID] = r
	return r
}

// Resolve transitions a pending request to approved or denied. On approval,
// one grant per required capability is created under the request's scope.
func (w *Workflow) Resolve(id string, approve bool, ttl time.Duration, uses int) (*Request, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sweep()

	r, ok := w.byID[id]
	if !ok || r.Status != Pending {
		return r, false
	}
	now := w.now()
	if approve {
		r.Status = Approved
		for _, c := range r.Required {
			w.caps.Grant(c, r.Scope, ttl, uses)
		}
	} else {
		r.Status = Denied
	}
	r.ResolvedAt = now
	delete(w.byFP, r.Fingerprint)
	return r, true
}

// sweep transitions pending requests older than ttl to expired, so a
// forgotten request does not dedup-block a fresh retry forever. The request
// itself is marked expired (not just dropped from the dedup map) so a caller
// holding its ID via Get sees the transition.
func (w *Workflow) sweep() {
	now := w.now()
	for fp, r := range w.byFP {
		if r.Status == Pending && now.Sub(r.CreatedAt) > w.ttl {
			r.Status = Expired
			r.ResolvedAt = now
			delete(w.byFP, fp)
		}
	}
}

func (w *Workflow) Get(id string) (*Request, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.byID[id]
	return r, ok
}

func idFor(n uint64) string {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	if n == 0 {
		return "appr-0"
	}
	buf := make([]byte, 0, 16)
	for n > 0 {
		buf = append(buf, alphabet[n%uint64(len(alphabet))])
		n /= uint64(len(alphabet))
	}
	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	return "appr-" + string(buf)
}
