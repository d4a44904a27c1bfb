// Package guard classifies outbound URLs before any socket is opened. It
// rejects everything that could pivot a fetch into private infrastructure:
// non-HTTP schemes, userinfo, loopback and metadata hostnames, and any
// address inside a non-public range, for literal IPs and for every DNS
// answer alike.
package guard

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"

	"github.com/docxology/mirrorgate/internal/model"
)

// Checker validates that a URL is safe to fetch. The proxy pipeline and the
// registry re-run the check for every redirect hop.
type Checker interface {
	Check(ctx context.Context, u *url.URL) error
}

// Resolver is the subset of net.Resolver the guard needs.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Guard is the production Checker backed by real DNS resolution.
type Guard struct {
	// AllowHTTP permits plain http URLs; https is always permitted.
	AllowHTTP bool

	// Resolver defaults to net.DefaultResolver when nil.
	Resolver Resolver
}

// Hostnames rejected outright, before any resolution.
var blockedHostnames = map[string]struct{}{
	"localhost":                {},
	"metadata.google.internal": {},
	"169.254.169.254":          {},
}

// blockedV4 lists IPv4 ranges that must never be dialed. Includes loopback,
// RFC1918, CGNAT, link-local, benchmarking, documentation, and everything
// from multicast up.
var blockedV4 = mustPrefixes(
	"0.0.0.0/8",
	"10.0.0.0/8",
	"100.64.0.0/10",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"172.16.0.0/12",
	"192.0.0.0/24",
	"192.0.2.0/24",
	"192.168.0.0/16",
	"198.18.0.0/15",
	"198.51.100.0/24",
	"203.0.113.0/24",
	"224.0.0.0/3",
)

// blockedV6 lists IPv6 ranges that must never be dialed: unspecified,
// loopback, unique-local, and link-local. IPv4-mapped addresses are unmapped
// and checked against blockedV4 instead.
var blockedV6 = mustPrefixes(
	"::/128",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
)

func mustPrefixes(cidrs ...string) []netip.Prefix {
	ps := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		ps = append(ps, netip.MustParsePrefix(c))
	}
	return ps
}

// Check implements Checker. It returns a CodedError with one of the codes
// invalid_scheme, credentials_not_allowed, empty_hostname, ssrf_blocked,
// dns_resolution_failed, or invalid_ip.
func (g *Guard) Check(ctx context.Context, u *url.URL) error {
	switch u.Scheme {
	case "https":
	case "http":
		if !g.AllowHTTP {
			return model.NewCodedError(model.CodeInvalidScheme, fmt.Errorf("http not enabled"))
		}
	default:
		return model.NewCodedError(model.CodeInvalidScheme, fmt.Errorf("scheme %q", u.Scheme))
	}

	if u.User != nil {
		return model.NewCodedError(model.CodeCredentialsNotAllowed, fmt.Errorf("url carries userinfo"))
	}

	host := strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
	if host == "" {
		return model.NewCodedError(model.CodeEmptyHostname, fmt.Errorf("no hostname in %q", u.Redacted()))
	}

	if _, ok := blockedHostnames[host]; ok {
		return model.NewCodedError(model.CodeSSRFBlocked, fmt.Errorf("blocked hostname %q", host))
	}
	if strings.HasSuffix(host, ".localhost") {
		return model.NewCodedError(model.CodeSSRFBlocked, fmt.Errorf("blocked hostname %q", host))
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		return checkAddr(addr)
	}

	resolver := g.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	addrs, err := resolver.LookupIPAddr(ctx, host)
	if err != nil || len(addrs) == 0 {
		return model.NewCodedError(model.CodeDNSResolutionFailed, fmt.Errorf("resolving %q: %w", host, err))
	}

	// Every answer must be public; a single private A/AAAA record taints the
	// whole name.
	for _, a := range addrs {
		addr, ok := netip.AddrFromSlice(a.IP)
		if !ok {
			return model.NewCodedError(model.CodeInvalidIP, fmt.Errorf("bad address for %q", host))
		}
		if err := checkAddr(addr); err != nil {
			return err
		}
	}

	return nil
}

func checkAddr(addr netip.Addr) error {
	addr = addr.Unmap()

	if !addr.IsValid() {
		return model.NewCodedError(model.CodeInvalidIP, fmt.Errorf("invalid ip"))
	}

	ranges := blockedV6
	if addr.Is4() {
		ranges = blockedV4
	}
	for _, p := range ranges {
		if p.Contains(addr) {
			return model.NewCodedError(model.CodeSSRFBlocked, fmt.Errorf("address %s in blocked range %s", addr, p))
		}
	}

	return nil
}
