package api

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ClientIPResolver picks the address rate limits are keyed on. Forwarding
// headers count only when the direct peer is a trusted proxy.
type ClientIPResolver struct {
	trusted []netip.Prefix
}

// NewClientIPResolver accepts CIDRs and bare addresses.
func NewClientIPResolver(trustedProxies []string) (*ClientIPResolver, error) {
	resolver := &ClientIPResolver{}

	for _, raw := range trustedProxies {
		value := strings.TrimSpace(raw)
		if value == "" {
			continue
		}

		if addr, err := netip.ParseAddr(value); err == nil {
			addr = addr.Unmap()
			resolver.trusted = append(resolver.trusted, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}

		prefix, err := netip.ParsePrefix(value)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", value, err)
		}
		resolver.trusted = append(resolver.trusted, prefix.Masked())
	}

	return resolver, nil
}

// Resolve walks X-Forwarded-For from the nearest hop outward and returns the
// first address that is not a trusted proxy. X-Real-IP is the fallback when
// the chain has no usable entry.
func (r *ClientIPResolver) Resolve(req *http.Request) string {
	peer, ok := remoteAddr(req.RemoteAddr)
	if !ok {
		return "unknown"
	}
	if !r.isTrusted(peer) {
		return peer.String()
	}

	if header := req.Header.Get("X-Forwarded-For"); header != "" {
		hops := strings.Split(header, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop, ok := parseAddr(hops[i])
			if !ok {
				break
			}
			if !r.isTrusted(hop) {
				return hop.String()
			}
		}
	}

	if realIP, ok := parseAddr(req.Header.Get("X-Real-IP")); ok {
		return realIP.String()
	}

	return peer.String()
}

func (r *ClientIPResolver) isTrusted(addr netip.Addr) bool {
	for _, prefix := range r.trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func remoteAddr(value string) (netip.Addr, bool) {
	if host, _, err := net.SplitHostPort(value); err == nil {
		value = host
	}
	return parseAddr(value)
}

// parseAddr accepts a bare address, a quoted one or one with a port.
func parseAddr(value string) (netip.Addr, bool) {
	value = strings.Trim(strings.TrimSpace(value), `"`)
	if value == "" {
		return netip.Addr{}, false
	}

	if addr, err := netip.ParseAddr(value); err == nil {
		return addr.Unmap(), true
	}
	if addrPort, err := netip.ParseAddrPort(value); err == nil {
		return addrPort.Addr().Unmap(), true
	}
	return netip.Addr{}, false
}
