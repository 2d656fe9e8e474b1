package security

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP resolve o IP do cliente na ordem X-Forwarded-For (primeiro hop) →
// X-Real-IP → endereço do socket.
//
// Os cabeçalhos de proxy só são considerados com trustProxyHeaders=true: sem
// um reverse proxy confiável que remova cabeçalhos forjados pelo cliente,
// confiar neles permite falsificar o IP e escapar do limite por IP.
func ClientIP(r *http.Request, trustProxyHeaders bool) string {
	if trustProxyHeaders {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			// pega o primeiro IP do X-Forwarded-For (cliente original)
			if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
				return ip
			}
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}

	// fallback: RemoteAddr
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}
