package middleware

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/platinummonkey/gatehouse/pkg/contextkeys"
)

// ProxyResolver finds the client address behind a set of trusted proxies.
// Forwarding headers are honored only when the connecting peer is trusted.
type ProxyResolver struct {
	trusted []netip.Prefix
}

// NewProxyResolver parses CIDRs or bare addresses. A nil list trusts no
// proxy, so only RemoteAddr is used.
func NewProxyResolver(trusted []string) (*ProxyResolver, error) {
	prefixes, err := ParseTrustedProxies(trusted)
	if err != nil {
		return nil, err
	}
	return &ProxyResolver{trusted: prefixes}, nil
}

// ParseTrustedProxies parses each entry as a CIDR, or as a single address.
func ParseTrustedProxies(entries []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
			}
			prefixes = append(prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

// Resolve returns the rightmost X-Forwarded-For hop that is not a trusted
// proxy, then X-Real-IP, then the RemoteAddr host. Headers are ignored
// unless RemoteAddr is trusted.
func (p *ProxyResolver) Resolve(r *http.Request) string {
	peer := remoteHost(r.RemoteAddr)
	if p == nil || !p.isTrusted(peer) {
		return peer
	}

	if forwarded := r.Header.Values("X-Forwarded-For"); len(forwarded) > 0 {
		hops := strings.Split(strings.Join(forwarded, ","), ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop == "" {
				continue
			}
			addr, err := netip.ParseAddr(hop)
			if err != nil {
				return peer
			}
			if !p.trustedAddr(addr) {
				return addr.Unmap().String()
			}
		}
	}

	if realIP, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
		return realIP.Unmap().String()
	}
	return peer
}

// Middleware stores the resolved address for ClientIP.
func (p *ProxyResolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := contextkeys.WithClientIP(r.Context(), p.Resolve(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (p *ProxyResolver) isTrusted(host string) bool {
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	return p.trustedAddr(addr)
}

func (p *ProxyResolver) trustedAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, prefix := range p.trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientIP returns the address resolved by ProxyResolver.Middleware, or the
// RemoteAddr host when the middleware did not run.
func ClientIP(r *http.Request) string {
	if ip := contextkeys.GetClientIP(r.Context()); ip != "" {
		return ip
	}
	return remoteHost(r.RemoteAddr)
}

func remoteHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
