package guardlib

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

type contextKey uint8

const (
	contextKeyInfo contextKey = iota
	contextKeyBody
)

// RequestInfo is a descriptor of the request which all stages take
// decisions on.
type RequestInfo struct {
	// ID is a unique identifier of the request.
	ID string

	Method string
	Path   string

	// ClientKey is a key of rate limiting buckets. It is UnknownClientKey
	// if client address cannot be determined.
	ClientKey string

	// ClientIP is nil if client address cannot be determined.
	ClientIP net.IP

	// SessionID is empty if request has no session.
	SessionID string

	Started time.Time

	hashedClient string
}

// InfoFromContext returns a descriptor of the request which has passed the
// pipeline.
func InfoFromContext(ctx context.Context) (*RequestInfo, bool) {
	info, ok := ctx.Value(contextKeyInfo).(*RequestInfo)

	return info, ok
}

// NewRequestInfo builds a descriptor of the request. Client address is
// taken from proxy headers only if trustProxyHeaders is set: the rightmost
// X-Forwarded-For entry, then X-Real-IP.
func NewRequestInfo(r *http.Request, trustProxyHeaders bool) *RequestInfo {
	info := &RequestInfo{
		ID:        uuid.NewString(),
		Method:    r.Method,
		Path:      r.URL.Path,
		ClientKey: UnknownClientKey,
		Started:   time.Now(),
	}

	if ip := clientIP(r, trustProxyHeaders); ip != nil {
		info.ClientIP = ip
		info.ClientKey = ip.String()
		info.hashedClient = hashIP(ip)
	} else {
		info.hashedClient = UnknownClientKey
	}

	return info
}

func clientIP(r *http.Request, trustProxyHeaders bool) net.IP {
	if trustProxyHeaders {
		if ip := normalizeIP(lastForwardedFor(r.Header)); ip != nil {
			return ip
		}

		if ip := normalizeIP(r.Header.Get("X-Real-IP")); ip != nil {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		host = r.RemoteAddr
	}

	return normalizeIP(host)
}

// lastForwardedFor returns the rightmost X-Forwarded-For entry. It is
// appended by the trusted proxy; everything to the left of it comes from
// the client.
func lastForwardedFor(header http.Header) string {
	values := header.Values("X-Forwarded-For")
	if len(values) == 0 {
		return ""
	}

	parts := strings.Split(values[len(values)-1], ",")

	return parts[len(parts)-1]
}

func normalizeIP(value string) net.IP {
	value = strings.TrimSpace(value)

	// zone of IPv6 link-local address
	if idx := strings.IndexByte(value, '%'); idx >= 0 {
		value = value[:idx]
	}

	ip := net.ParseIP(value)
	if ip == nil {
		return nil
	}

	if ipv4 := ip.To4(); ipv4 != nil {
		return ipv4
	}

	return ip
}

// hashIP hashes an IP address for logs and events. Truncated SHA-256 is
// enough to correlate records but not to restore the address.
func hashIP(ip net.IP) string {
	h := sha256.Sum256(ip)

	return hex.EncodeToString(h[:6])
}
