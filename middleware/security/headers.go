package security

import (
	"net/http"
	"time"
)

// setSecurityHeaders anexa os cabeçalhos de segurança/observabilidade das
// respostas bem-sucedidas.
func setSecurityHeaders(h http.Header, ip string) {
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-XSS-Protection", "1; mode=block")
	h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
	h.Set("X-Client-IP", ip)
}

// timedWriter injeta X-Process-Time no primeiro WriteHeader, quando os
// cabeçalhos ainda podem ser alterados.
type timedWriter struct {
	http.ResponseWriter
	start       time.Time
	wroteHeader bool
}

func (w *timedWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.wroteHeader = true
		elapsed := time.Since(w.start)
		w.Header().Set("X-Process-Time", formatFloat(elapsed.Seconds()))
		w.ResponseWriter.WriteHeader(status)
	}
}

func (w *timedWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}
