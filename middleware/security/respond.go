package security

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/neoforge-dev/synapse-gateway/middleware/security/domain"
)

// denial carrega tudo que a resposta de negação precisa, já resolvido pelas
// camadas de aplicação. Imutável depois de construído.
type denial struct {
	Status     int
	Code       string
	Message    string
	RetryAfter time.Duration
	Reset      time.Time
}

type denialBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	ErrorCode  string `json:"error_code"`
	RetryAfter int64  `json:"retry_after"`
}

func denialFromResult(code string, res domain.Result) *denial {
	msg := "rate limit exceeded"
	switch code {
	case domain.CodeUserRateLimit:
		msg = "user rate limit exceeded for current subscription tier"
	case domain.CodeEndpointRateLimit:
		msg = "endpoint rate limit exceeded"
	}
	return &denial{
		Status:     http.StatusTooManyRequests,
		Code:       code,
		Message:    msg,
		RetryAfter: res.RetryAfter,
		Reset:      res.ResetTime,
	}
}

func writeDenial(w http.ResponseWriter, d *denial) {
	retry := int64(d.RetryAfter / time.Second)
	if retry < 1 {
		retry = 1
	}
	reset := d.Reset
	if reset.IsZero() {
		reset = time.Now().Add(d.RetryAfter)
	}

	h := w.Header()
	h.Set("Retry-After", formatInt(retry))
	h.Set("X-RateLimit-Remaining", "0")
	h.Set("X-RateLimit-Reset", formatInt(reset.Unix()))
	h.Set("X-Security-Block", d.Code)
	h.Set("Content-Type", "application/json")
	w.WriteHeader(d.Status)

	_ = json.NewEncoder(w).Encode(denialBody{
		Error:      http.StatusText(d.Status),
		Message:    d.Message,
		ErrorCode:  d.Code,
		RetryAfter: retry,
	})
}
