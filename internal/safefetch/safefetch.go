// Package safefetch implements SafeFetch (spec §4.4): hostname resolution
// and private-range denial for the web_fetch tool, plus DNS pinning so a
// resolved address set cannot change mid-redirect-chain without detection.
package safefetch

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/dnscache"
)

// Resolution is the result of resolving a URL's host: the addresses it is
// pinned to for the remainder of a fetch.
type Resolution struct {
	URL               *url.URL
	ResolvedAddresses []net.IP
}

var deniedV4 = []*net.IPNet{
	cidr("10.0.0.0/8"),
	cidr("127.0.0.0/8"),
	cidr("169.254.0.0/16"),
	cidr("172.16.0.0/12"),
	cidr("192.168.0.0/16"),
	cidr("0.0.0.0/8"),
	cidr("100.64.0.0/10"),
	cidr("198.18.0.0/15"),
	cidr("224.0.0.0/4"),
}

func cidr(s string) *net.IPNet {
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	return n
}

// Resolver performs DNS lookups. The default uses rs/dnscache so repeated
// lookups for the same host are served from its cache.
type Resolver struct {
	cache *dnscache.Resolver
}

// NewResolver constructs a Resolver backed by an rs/dnscache cache. No
// background refresh is started, so a cached lookup is reused for the life
// of the Resolver.
func NewResolver() *Resolver {
	r := &dnscache.Resolver{}
	return &Resolver{cache: r}
}

func (r *Resolver) lookup(ctx context.Context, host string) ([]net.IP, error) {
	addrs, err := r.cache.LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}
	out := make([]net.IP, 0, len(addrs))
	for _, a := range addrs {
		ip := net.ParseIP(a)
		if ip == nil {
			continue
		}
		out = append(out, ip)
	}
	return out, nil
}

// Resolve validates the scheme, canonicalizes an IP-literal host or resolves
// a DNS name, and denies the URL if any resolved address falls in a
// reserved/private range.
func Resolve(ctx context.Context, resolver *Resolver, rawURL string) (*Resolution, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("scheme %q not allowed", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return nil, fmt.Errorf("missing hostname")
	}

	var addrs []net.IP
	if ip := canonicalizeLiteral(host); ip != nil {
		addrs = []net.IP{ip}
	} else {
		addrs, err = resolver.lookup(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("dns lookup: %w", err)
		}
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("host %q did not resolve to any address", host)
	}
	for _, ip := range addrs {
		if denied(ip) {
			return nil, fmt.Errorf("address %s for host %q is in a denied range", ip, host)
		}
	}
	return &Resolution{URL: u, ResolvedAddresses: addrs}, nil
}

// canonicalizeLiteral accepts dotted-decimal, octal, and hex IPv4 literals,
// IPv6 literals, and IPv4-mapped IPv6 (`::ffff:a.b.c.d`). Returns nil if host
// is not an IP literal at all (i.e. it is a DNS name).
func canonicalizeLiteral(host string) net.IP {
	host = strings.TrimPrefix(strings.TrimSuffix(host, "]"), "[")
	if ip := net.ParseIP(host); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			return v4
		}
		return ip
	}
	if ip := parseUnusualIPv4(host); ip != nil {
		return ip
	}
	return nil
}

// parseUnusualIPv4 handles octal (leading 0) and hex (leading 0x) octets,
// and collapsed forms (e.g. decimal-only "2130706433"), which net.ParseIP
// rejects but which many HTTP clients and OS resolvers still accept —
// a known SSRF-bypass vector.
func parseUnusualIPv4(host string) net.IP {
	parts := strings.Split(host, ".")
	if len(parts) == 1 {
		n, err := strconv.ParseUint(host, 0, 32)
		if err != nil {
			return nil
		}
		return net.IPv4(byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
	}
	if len(parts) != 4 {
		return nil
	}
	out := make([]byte, 4)
	for i, p := range parts {
		if p == "" {
			return nil
		}
		n, err := strconv.ParseUint(p, 0, 16)
		if err != nil || n > 255 {
			return nil
		}
		out[i] = byte(n)
	}
	return net.IPv4(out[0], out[1], out[2], out[3])
}

func denied(ip net.IP) bool {
	if v4 := ip.To4(); v4 != nil {
		for _, n := range deniedV4 {
			if n.Contains(v4) {
				return true
			}
		}
		return false
	}
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() {
		return true
	}
	// Unique local address fc00::/7 (fc/fd prefix).
	if len(ip) == net.IPv6len && (ip[0]&0xfe) == 0xfc {
		return true
	}
	if mapped := ip.To4(); mapped != nil {
		for _, n := range deniedV4 {
			if n.Contains(mapped) {
				return true
			}
		}
	}
	return false
}

// PinnedTransport returns an http.RoundTripper that connects only to the
// addresses in res, regardless of what the hostname re-resolves to, while
// presenting the original hostname for TLS SNI and the Host header.
func PinnedTransport(res *Resolution) http.RoundTripper {
	host := res.URL.Hostname()
	addr := res.ResolvedAddresses[0].String()
	port := res.URL.Port()
	if port == "" {
		if res.URL.Scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}
	dialTarget := net.JoinHostPort(addr, port)

	return &http.Transport{
		DialContext: func(ctx context.Context, network, _ string) (net.Conn, error) {
			d := net.Dialer{Timeout: 10 * time.Second}
			return d.DialContext(ctx, network, dialTarget)
		},
		TLSClientConfig: &tls.Config{
			ServerName: host,
		},
		MaxIdleConns:        10,
		IdleConnTimeout:     30 * time.Second,
		TLSHandshakeTimeout: 15 * time.Second,
	}
}

// SameHostSet reports whether the two resolved address sets for a host are
// identical (order-independent), used to detect DNS rebinding mid-redirect.
func SameHostSet(a, b []net.IP) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, ip := range a {
		seen[ip.String()]++
	}
	for _, ip := range b {
		seen[ip.String()]--
	}
	for _, v := range seen {
		if v != 0 {
			return false
		}
	}
	return true
}
