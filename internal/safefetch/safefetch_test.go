package safefetch

import (
	"context"
	"net"
	"testing"
)

func TestResolveDeniesPrivateRanges(t *testing.T) {
	cases := []string{
		"http://127.0.0.1/",
		"http://10.1.2.3/",
		"http://169.254.1.1/",
		"http://172.16.0.5/",
		"http://192.168.1.1/",
		"http://0.0.0.0/",
		"http://100.64.0.1/",
		"http://198.18.0.1/",
		"http://224.0.0.1/",
	}
	r := NewResolver()
	for _, u := range cases {
		if _, err := Resolve(context.Background(), r, u); err == nil {
			t.Errorf("expected %s to be denied", u)
		}
	}
}

func TestResolveDeniesOctalAndHexLiterals(t *testing.T) {
	r := NewResolver()
	// 0x7f000001 and 017700000001-style encodings of 127.0.0.1.
	cases := []string{
		"http://0x7f000001/",
		"http://0177.0.0.1/",
		"http://2130706433/",
	}
	for _, u := range cases {
		if _, err := Resolve(context.Background(), r, u); err == nil {
			t.Errorf("expected unusual-encoding literal %s to be denied", u)
		}
	}
}

func TestResolveRejectsNonHTTPScheme(t *testing.T) {
	r := NewResolver()
	if _, err := Resolve(context.Background(), r, "file:///etc/passwd"); err == nil {
		t.Fatalf("expected non-http(s) scheme to be rejected")
	}
}

func TestResolveAllowsPublicLiteral(t *testing.T) {
	r := NewResolver()
	res, err := Resolve(context.Background(), r, "http://8.8.8.8/")
	if err != nil {
		t.Fatalf("unexpected error for public IP literal: %v", err)
	}
	if len(res.ResolvedAddresses) != 1 {
		t.Fatalf("expected exactly one resolved address for an IP literal")
	}
}

func TestSameHostSet(t *testing.T) {
	a := mustIPs("1.1.1.1", "1.0.0.1")
	b := mustIPs("1.0.0.1", "1.1.1.1")
	if !SameHostSet(a, b) {
		t.Fatalf("expected order-independent address sets to match")
	}
	c := mustIPs("1.1.1.1")
	if SameHostSet(a, c) {
		t.Fatalf("expected differing address sets to mismatch (rebinding)")
	}
}

func mustIPs(ss ...string) []net.IP {
	out := make([]net.IP, len(ss))
	for i, s := range ss {
		out[i] = net.ParseIP(s)
	}
	return out
}
