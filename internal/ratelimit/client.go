package ratelimit

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// TrustedProxies lists the networks whose forwarding headers are believed.
// The zero value trusts nobody, so the key is always the peer address.
type TrustedProxies []*net.IPNet

// ParseTrustedProxies accepts CIDR blocks and bare addresses. A bare
// address is treated as a single-host network.
func ParseTrustedProxies(entries []string) (TrustedProxies, error) {
	var tp TrustedProxies
	for _, raw := range entries {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			ip := net.ParseIP(entry)
			if ip == nil {
				return nil, fmt.Errorf("invalid proxy address %q", entry)
			}
			bits := 8 * net.IPv6len
			if v4 := ip.To4(); v4 != nil {
				ip, bits = v4, 8*net.IPv4len
			}
			tp = append(tp, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, n, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy network %q: %w", entry, err)
		}
		tp = append(tp, n)
	}
	return tp, nil
}

// Contains reports whether ip belongs to a trusted proxy.
func (tp TrustedProxies) Contains(ip net.IP) bool {
	for _, n := range tp {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientKey identifies the caller for rate limiting. Forwarding headers are
// only honoured when the peer is a trusted proxy; X-Forwarded-For is then
// walked from the nearest hop and the first address not owned by a trusted
// proxy wins. Anything else keys on the peer address.
func (tp TrustedProxies) ClientKey(h http.Header, remoteAddr string) string {
	peer := remoteHost(remoteAddr)
	if peer == "" {
		return "unknown"
	}
	ip := net.ParseIP(peer)
	if ip == nil || !tp.Contains(ip) {
		return peer
	}

	if fwd := h.Values("X-Forwarded-For"); len(fwd) > 0 {
		hops := strings.Split(strings.Join(fwd, ","), ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := net.ParseIP(strings.TrimSpace(hops[i]))
			if hop == nil {
				break
			}
			if !tp.Contains(hop) {
				return hop.String()
			}
		}
	}
	if real := net.ParseIP(strings.TrimSpace(h.Get("X-Real-IP"))); real != nil {
		return real.String()
	}
	return peer
}

func remoteHost(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return strings.TrimSpace(remoteAddr)
}
