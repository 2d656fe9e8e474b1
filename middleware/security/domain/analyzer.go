package domain

import "time"

// PatternType nomeia o detector que produziu um padrão suspeito.
type PatternType string

const (
	PatternRapidRequests     PatternType = "rapid_requests"
	PatternLargePayload      PatternType = "large_payload"
	PatternEndpointDiversity PatternType = "endpoint_diversity"
	PatternBotUserAgent      PatternType = "bot_user_agent"
	PatternMissingHeaders    PatternType = "missing_headers"
	PatternGeoBlocked        PatternType = "geo_blocked"
)

// SuspiciousPattern é o veredito de um detector para uma requisição.
//
// Severity vai de 1 a 10. O analisador devolve apenas o padrão de maior
// severidade por requisição (não existe soma de scores).
type SuspiciousPattern struct {
	Type            PatternType
	Severity        int
	Description     string
	FirstDetected   time.Time
	LastSeen        time.Time
	OccurrenceCount int64
}

// RequestInfo é a visão agnóstica de HTTP de uma requisição, suficiente para
// os detectores. O middleware monta este valor a partir do *http.Request.
//
// Headers carrega somente os cabeçalhos que os detectores consultam
// (ex: Accept, Accept-Language, Accept-Encoding), já canonizados.
type RequestInfo struct {
	IP            string
	Endpoint      string
	Method        string
	UserAgent     string
	ContentLength int64
	Country       string
	Headers       map[string]string
}
