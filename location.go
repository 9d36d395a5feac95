package broker

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/freeconf/yang/fc"
)

// Transport is how subscribers receive events of a stream
type Transport int

const (
	SSE Transport = iota
	WebSocket
)

// DefaultBasePath is the RESTCONF root resource, RFC8040 3.1
const DefaultBasePath = "restconf"

func (t Transport) String() string {
	if t == WebSocket {
		return "websocket"
	}
	return "sse"
}

func ParseTransport(s string) (Transport, error) {
	switch strings.ToLower(s) {
	case "", "sse":
		return SSE, nil
	case "websocket", "ws":
		return WebSocket, nil
	}
	return SSE, fmt.Errorf("%w. unknown transport '%s'", fc.BadRequestError, s)
}

// Scheme subscribers use to reach streams given the scheme of the request
func (t Transport) Scheme(requestScheme string) string {
	if t == WebSocket {
		if requestScheme == "https" {
			return "wss"
		}
		return "ws"
	}
	return requestScheme
}

// BaseLocation is the URL every stream location is built on. Stream names
// are appended by the caller.
func (t Transport) BaseLocation(scheme string, host string, basePath string) string {
	basePath = strings.Trim(basePath, "/")
	if basePath == "" {
		basePath = DefaultBasePath
	}
	return fmt.Sprintf("%s://%s/%s/streams", t.Scheme(scheme), host, basePath)
}

// BaseStreamLocation is BaseLocation for the scheme and host r arrived on
func (t Transport) BaseStreamLocation(r *http.Request, basePath string) string {
	return t.BaseLocation(RequestScheme(r), r.Host, basePath)
}

// RequestScheme honors proxies that terminate TLS
func RequestScheme(r *http.Request) string {
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		return strings.ToLower(strings.TrimSpace(strings.Split(proto, ",")[0]))
	}
	if r.TLS != nil {
		return "https"
	}
	if r.URL != nil && r.URL.Scheme != "" {
		return r.URL.Scheme
	}
	return "http"
}
