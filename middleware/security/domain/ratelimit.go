package domain

// Camada de domínio do rate limit por janela deslizante.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import (
	"context"
	"strings"
	"time"
)

// LimitType identifica a dimensão do limite (quem está sendo contado).
type LimitType string

const (
	LimitIP       LimitType = "ip"
	LimitUser     LimitType = "user"
	LimitEndpoint LimitType = "endpoint"
)

// FallbackSuffix marca resultados produzidos no caminho fail-open
// (store indisponível). Ex: "ip_fallback".
const FallbackSuffix = "_fallback"

func (t LimitType) String() string { return string(t) }

// Fallback retorna o nome do tipo com o sufixo de fallback.
func (t LimitType) Fallback() string { return string(t) + FallbackSuffix }

// Tier é o plano de assinatura do usuário autenticado.
// Requisições sem usuário são tratadas como TierAnonymous.
type Tier string

const (
	TierAnonymous  Tier = "anonymous"
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// ParseTier normaliza o nome do plano. Valores desconhecidos (ou vazios)
// caem no plano mais restritivo aplicável a usuários autenticados.
func ParseTier(s string) Tier {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case TierFree:
		return TierFree
	case TierPro:
		return TierPro
	case TierEnterprise:
		return TierEnterprise
	case TierAnonymous:
		return TierAnonymous
	}
	return TierFree
}

// Result é o resultado imutável de uma checagem de limite.
//
// LimitType carrega o nome do tipo checado; no caminho fail-open recebe o
// sufixo "_fallback" e Remaining vale -1 (sem informação confiável).
type Result struct {
	Allowed    bool
	Remaining  int
	ResetTime  time.Time
	RetryAfter time.Duration
	LimitType  string
}

// WindowStore é o contrato de armazenamento de janelas deslizantes.
//
// Cada chave mantém um conjunto ordenado de observações no tempo. Toda
// contagem remove antes as entradas fora de [now-window, now] (poda preguiçosa).
//
// Observação: Count+Add em chamadas separadas não é atômico entre instâncias;
// uma pequena sobre-admissão sob alta concorrência é aceita (ver Limiter).
type WindowStore interface {
	// Count poda a janela e devolve o total de observações restantes.
	// Não registra nada: é a base do get_status (livre de efeitos).
	Count(ctx context.Context, key string, window time.Duration, now time.Time) (int64, error)

	// Add registra uma observação com o instante informado. Members repetidos
	// são deduplicados (semântica de ZADD): o score é atualizado.
	Add(ctx context.Context, key, member string, now time.Time, ttl time.Duration) error

	// Observe poda, registra e conta em uma única ida ao store. A contagem
	// devolvida inclui a observação recém registrada.
	Observe(ctx context.Context, key, member string, window time.Duration, now time.Time, ttl time.Duration) (int64, error)

	// Oldest devolve o instante da observação mais antiga da chave.
	// ok=false quando a chave está vazia.
	Oldest(ctx context.Context, key string) (at time.Time, ok bool, err error)
}
