package server

import (
	"net"
	"net/http"
	"strings"
)

// clientIP returns the address used for per-IP limits and logs.
func (s *Server) clientIP(r *http.Request) string {
	if s.config.TrustProxyHeaders {
		if ip := forwardedIP(r); ip != nil {
			return ip.String()
		}
	}
	if ip := remoteIP(r); ip != nil {
		return ip.String()
	}
	return r.RemoteAddr
}

func remoteIP(r *http.Request) net.IP {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return parseIP(host)
}

// forwardedIP takes the left-most valid address of X-Forwarded-For, then
// X-Real-IP.
func forwardedIP(r *http.Request) net.IP {
	for _, part := range strings.Split(r.Header.Get("X-Forwarded-For"), ",") {
		if ip := parseIP(part); ip != nil {
			return ip
		}
	}
	return parseIP(r.Header.Get("X-Real-IP"))
}

func parseIP(value string) net.IP {
	value = strings.Trim(strings.TrimSpace(value), "\"[]")
	if value == "" || strings.EqualFold(value, "unknown") {
		return nil
	}
	if zone := strings.Index(value, "%"); zone != -1 {
		value = value[:zone]
	}
	return net.ParseIP(value)
}

// ipLimiter counts open sockets per client address.
type ipLimiter struct {
	max    int
	counts map[string]int
}

func newIPLimiter(max int) *ipLimiter {
	return &ipLimiter{max: max, counts: make(map[string]int)}
}

// acquire reports whether ip may open another socket. Callers hold s.mu.
func (l *ipLimiter) acquire(ip string) bool {
	if l.max > 0 && l.counts[ip] >= l.max {
		return false
	}
	l.counts[ip]++
	return true
}

func (l *ipLimiter) release(ip string) {
	if l.counts[ip] <= 1 {
		delete(l.counts, ip)
		return
	}
	l.counts[ip]--
}
