package util

import (
	"net"
	"net/http"
	"strings"
)

// TrustedProxies is the set of proxy addresses whose forwarded headers are
// believed. Rate limit keys derive from the client IP, so forwarded headers
// from arbitrary peers must never be trusted.
type TrustedProxies struct {
	nets []*net.IPNet
}

// NewTrustedProxies parses a list of CIDR blocks or single IPs. An empty
// list trusts no proxies at all.
func NewTrustedProxies(entries []string) (*TrustedProxies, error) {
	t := &TrustedProxies{}
	for _, raw := range entries {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			ip := net.ParseIP(entry)
			if ip == nil {
				return nil, &net.ParseError{Type: "IP address", Text: entry}
			}
			bits := 32
			if ip.To4() == nil {
				bits = 128
			}
			t.nets = append(t.nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, cidr, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, err
		}
		t.nets = append(t.nets, cidr)
	}
	return t, nil
}

// Contains reports whether ip belongs to a trusted proxy.
func (t *TrustedProxies) Contains(ip net.IP) bool {
	if t == nil || ip == nil {
		return false
	}
	for _, n := range t.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientIP resolves the originating client address for a request. Forwarded
// headers are honored only when the direct peer is a trusted proxy; the
// X-Forwarded-For chain is walked right to left past trusted hops.
func ClientIP(r *http.Request, trusted *TrustedProxies) string {
	remote := remoteIP(r.RemoteAddr)
	if !trusted.Contains(remote) {
		if remote != nil {
			return remote.String()
		}
		return strings.TrimSpace(r.RemoteAddr)
	}

	chain := forwardedChain(r.Header.Get("X-Forwarded-For"))
	for i := len(chain) - 1; i >= 0; i-- {
		if !trusted.Contains(chain[i]) {
			return chain[i].String()
		}
	}
	if len(chain) > 0 {
		// Every hop is a trusted proxy; the leftmost is the closest thing
		// to a client address we have.
		return chain[0].String()
	}

	if real := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); real != nil {
		return real.String()
	}
	if remote != nil {
		return remote.String()
	}
	return strings.TrimSpace(r.RemoteAddr)
}

// forwardedChain parses X-Forwarded-For into IPs, dropping anything
// unparsable.
func forwardedChain(header string) []net.IP {
	if strings.TrimSpace(header) == "" {
		return nil
	}
	parts := strings.Split(header, ",")
	ips := make([]net.IP, 0, len(parts))
	for _, part := range parts {
		if ip := net.ParseIP(strings.TrimSpace(part)); ip != nil {
			ips = append(ips, ip)
		}
	}
	return ips
}

func remoteIP(addr string) net.IP {
	host, _, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		host = strings.TrimSpace(addr)
	}
	return net.ParseIP(host)
}
