package domain

import "errors"

var (
	// ErrInvalidConfig indica configuração inválida (janela <= 0, limite
	// negativo, CIDR malformado). Fatal: deve barrar o startup.
	ErrInvalidConfig = errors.New("invalid admission control configuration")

	// ErrStoreUnavailable indica falha transitória do store compartilhado.
	// Nunca sobe até o middleware: as camadas inferiores convertem em
	// resultado de fallback (fail-open).
	ErrStoreUnavailable = errors.New("shared store unavailable")
)

// Códigos estáveis devolvidos no corpo das respostas de negação.
const (
	CodeIPBlocked          = "IP_BLOCKED"
	CodeSuspiciousActivity = "SUSPICIOUS_ACTIVITY"
	CodeIPRateLimit        = "IP_RATE_LIMIT"
	CodeUserRateLimit      = "USER_RATE_LIMIT"
	CodeEndpointRateLimit  = "ENDPOINT_RATE_LIMIT"
)
