package websocket

import (
	"net/http"
	"net/url"
	"strings"
)

// checkWebSocketOrigin validates the Origin header on upgrade requests.
// This prevents cross-site WebSocket hijacking from pages the browser
// happens to have open while the gateway runs on loopback.
func checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// No Origin header - allow (non-browser client)
		return true
	}

	// Allow localhost origins for development
	if strings.HasPrefix(origin, "http://localhost") ||
		strings.HasPrefix(origin, "http://127.0.0.1") ||
		strings.HasPrefix(origin, "https://localhost") ||
		strings.HasPrefix(origin, "https://127.0.0.1") {
		return true
	}

	// Same-origin: the Origin host must match the Host header
	host := r.Host
	if host == "" {
		host = r.URL.Host
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}

	// Compare hostnames, ignoring ports
	originHost := originURL.Hostname()
	requestHost := host
	if colonIdx := strings.LastIndex(requestHost, ":"); colonIdx != -1 {
		// Strip the port from the host, minding IPv6 bracket notation
		if !strings.Contains(requestHost, "]") || colonIdx > strings.Index(requestHost, "]") {
			requestHost = requestHost[:colonIdx]
		}
	}

	return originHost == requestHost
}
