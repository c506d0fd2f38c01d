package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/cursorclaw/agentcore/internal/safefetch"
)

const (
	maxFetchBodyBytes = 20 * 1024 // 20 KiB
	maxFetchRedirects = 5
	fetchTimeout      = 10 * time.Second
	fetchUserAgent    = "cursorclaw-agentcore/1.0"

	perHostRateLimit = 2 // requests/sec
	perHostBurst     = 4
)

var allowedContentTypePrefixes = []string{
	"text/",
	"application/json",
	"application/xhtml+xml",
	"application/xml",
}

// WebFetchTool implements the web_fetch tool (spec §4.3): SafeFetch
// resolution, manual redirect walking with re-resolution and DNS-pin
// consistency checking at every hop, and untrusted-content wrapping.
type WebFetchTool struct {
	resolver *safefetch.Resolver

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewWebFetchTool() *WebFetchTool {
	return &WebFetchTool{resolver: safefetch.NewResolver(), limiters: make(map[string]*rate.Limiter)}
}

// limiterFor returns the per-host token bucket, creating it on first use.
// Rebinding mid-chain still shares one bucket keyed by the hostname in the
// URL, not the resolved address, since the cap is about request volume to a
// logical target, not any one backing IP.
func (t *WebFetchTool) limiterFor(host string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(perHostRateLimit), perHostBurst)
		t.limiters[host] = l
	}
	return l
}

func (t *WebFetchTool) Name() string        { return "web_fetch" }
func (t *WebFetchTool) Description() string { return "Fetch a URL's content, with SSRF protection" }
func (t *WebFetchTool) RiskLevel() string   { return "standard" }

func (t *WebFetchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{
				"type":        "string",
				"description": "HTTP or HTTPS URL to fetch.",
			},
		},
		"required": []string{"url"},
	}
}

func (t *WebFetchTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	rawURL, _ := args["url"].(string)
	if rawURL == "" {
		return ErrorResult("url is required")
	}

	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	body, finalURL, contentType, err := t.fetchChain(fetchCtx, rawURL)
	if err != nil {
		return ErrorResult(fmt.Sprintf("fetch failed: %v", err))
	}

	text := body
	if strings.Contains(contentType, "text/html") {
		text = htmlToText(body)
	}

	wrapped := "[UNTRUSTED_EXTERNAL_CONTENT_START]\n" +
		fmt.Sprintf("URL: %s\nContent-Type: %s\n\n", finalURL, contentType) +
		text +
		"\n[UNTRUSTED_EXTERNAL_CONTENT_END]"
	return NewResult(wrapped)
}

// fetchChain walks the redirect chain manually, re-running SafeFetch and
// DNS-pin consistency checks at every hop, per spec §4.3.
func (t *WebFetchTool) fetchChain(ctx context.Context, rawURL string) (body, finalURL, contentType string, err error) {
	pins := map[string][]string{} // host -> resolved address strings, for rebind detection

	current := rawURL
	for hop := 0; hop <= maxFetchRedirects; hop++ {
		res, rerr := safefetch.Resolve(ctx, t.resolver, current)
		if rerr != nil {
			return "", "", "", rerr
		}
		host := res.URL.Hostname()
		if err := t.limiterFor(host).Wait(ctx); err != nil {
			return "", "", "", fmt.Errorf("rate limit wait for %q: %w", host, err)
		}
		addrStrs := addrStrings(res)
		if prior, ok := pins[host]; ok && !sameSet(prior, addrStrs) {
			return "", "", "", fmt.Errorf("DNS rebinding detected for host %q", host)
		}
		pins[host] = addrStrs

		req, rerr := http.NewRequestWithContext(ctx, http.MethodGet, current, nil)
		if rerr != nil {
			return "", "", "", rerr
		}
		req.Header.Set("User-Agent", fetchUserAgent)

		client := &http.Client{
			Timeout:   fetchTimeout,
			Transport: safefetch.PinnedTransport(res),
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse // manual redirect handling
			},
		}

		resp, derr := client.Do(req)
		if derr != nil {
			return "", "", "", derr
		}

		if resp.StatusCode >= 300 && resp.StatusCode < 400 {
			loc := resp.Header.Get("Location")
			resp.Body.Close()
			if loc == "" {
				return "", "", "", fmt.Errorf("redirect status %d with no Location header", resp.StatusCode)
			}
			next, perr := res.URL.Parse(loc)
			if perr != nil {
				return "", "", "", fmt.Errorf("invalid redirect target: %w", perr)
			}
			current = next.String()
			continue
		}

		ct := resp.Header.Get("Content-Type")
		if !contentTypeAllowed(ct) {
			resp.Body.Close()
			return "", "", "", fmt.Errorf("content-type %q not allowed", ct)
		}
		if cl := resp.Header.Get("Content-Length"); cl != "" {
			if n, cerr := strconv.ParseInt(cl, 10, 64); cerr == nil && n > maxFetchBodyBytes {
				resp.Body.Close()
				return "", "", "", fmt.Errorf("content-length %d exceeds %d byte cap", n, maxFetchBodyBytes)
			}
		}

		limited := io.LimitReader(resp.Body, maxFetchBodyBytes+1)
		data, rerr2 := io.ReadAll(limited)
		resp.Body.Close()
		if rerr2 != nil {
			return "", "", "", rerr2
		}
		if len(data) > maxFetchBodyBytes {
			return "", "", "", fmt.Errorf("response body exceeds %d byte cap", maxFetchBodyBytes)
		}

		return string(data), current, ct, nil
	}

	return "", "", "", fmt.Errorf("exceeded %d redirects", maxFetchRedirects)
}

func contentTypeAllowed(ct string) bool {
	ct = strings.ToLower(ct)
	if idx := strings.Index(ct, ";"); idx >= 0 {
		ct = ct[:idx]
	}
	ct = strings.TrimSpace(ct)
	for _, prefix := range allowedContentTypePrefixes {
		if strings.HasPrefix(ct, prefix) {
			return true
		}
	}
	return false
}

func addrStrings(res *safefetch.Resolution) []string {
	out := make([]string, len(res.ResolvedAddresses))
	for i, ip := range res.ResolvedAddresses {
		out[i] = ip.String()
	}
	return out
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := map[string]int{}
	for _, s := range a {
		seen[s]++
	}
	for _, s := range b {
		seen[s]--
	}
	for _, v := range seen {
		if v != 0 {
			return false
		}
	}
	return true
}
