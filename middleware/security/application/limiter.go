package application

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/neoforge-dev/synapse-gateway/middleware/security/domain"
)

// Category classifica o endpoint para fins de teto por tier:
// chamadas genéricas de API, geração de conteúdo (cara) e consultas de lookup.
type Category string

const (
	CategoryAPI        Category = "api"
	CategoryGeneration Category = "generation"
	CategoryLookup     Category = "lookup"
)

// TierLimits é o teto de requisições por categoria dentro da janela padrão.
// Zero significa "sem teto adicional" para aquela categoria.
type TierLimits struct {
	API        int
	Generation int
	Lookup     int
}

func (t TierLimits) limitFor(c Category) int {
	switch c {
	case CategoryGeneration:
		return t.Generation
	case CategoryLookup:
		return t.Lookup
	default:
		return t.API
	}
}

// EndpointOverride aperta (rate, period) para um endpoint específico.
type EndpointOverride struct {
	Rate   int
	Period time.Duration
}

// BurstConfig controla a concessão de rajadas acima do limite estável.
//
// Uma rajada é concedida sse count <= ceil(max*Multiplier) E menos de
// MaxGrants rajadas foram registradas no Lookback.
type BurstConfig struct {
	Multiplier float64
	MaxGrants  int
	Lookback   time.Duration
}

// LimiterConfig agrega a superfície configurável do rate limiter.
type LimiterConfig struct {
	Tiers              map[domain.Tier]TierLimits
	Endpoints          map[string]EndpointOverride
	GenerationPrefixes []string
	LookupPrefixes     []string
	Burst              BurstConfig
	KeyPrefix          string
}

// Validate rejeita configuração inválida no setup (janela <= 0, limite
// negativo). Erros aqui são fatais: o processo não deve subir.
func (c LimiterConfig) Validate() error {
	for ep, ov := range c.Endpoints {
		if ov.Period <= 0 {
			return fmt.Errorf("endpoint %q: period must be > 0: %w", ep, domain.ErrInvalidConfig)
		}
		if ov.Rate < 0 {
			return fmt.Errorf("endpoint %q: rate must be >= 0: %w", ep, domain.ErrInvalidConfig)
		}
	}
	for tier, tl := range c.Tiers {
		if tl.API < 0 || tl.Generation < 0 || tl.Lookup < 0 {
			return fmt.Errorf("tier %q: limits must be >= 0: %w", tier, domain.ErrInvalidConfig)
		}
	}
	if c.Burst.Multiplier < 1 {
		return fmt.Errorf("burst multiplier must be >= 1: %w", domain.ErrInvalidConfig)
	}
	if c.Burst.MaxGrants < 0 {
		return fmt.Errorf("burst max grants must be >= 0: %w", domain.ErrInvalidConfig)
	}
	if c.Burst.Lookback <= 0 {
		return fmt.Errorf("burst lookback must be > 0: %w", domain.ErrInvalidConfig)
	}
	return nil
}

// DefaultBurstConfig devolve a política de rajada padrão: até 3 concessões
// em 5 minutos, tolerando excursões de até 50% acima do limite.
func DefaultBurstConfig() BurstConfig {
	return BurstConfig{Multiplier: 1.5, MaxGrants: 3, Lookback: 5 * time.Minute}
}

// Limiter decide admissão por (identificador, tipo de limite, endpoint) sobre
// janelas deslizantes mantidas num WindowStore compartilhado.
//
// A sequência poda+conta+adiciona não é atômica entre idas ao store; sob alta
// concorrência uma pequena sobre-admissão é aceita em troca de não depender de
// script server-side.
type Limiter struct {
	store domain.WindowStore
	cfg   LimiterConfig
	log   *slog.Logger
	alert *rate.Limiter
	now   func() time.Time
}

func NewLimiter(store domain.WindowStore, cfg LimiterConfig, log *slog.Logger) (*Limiter, error) {
	if store == nil {
		return nil, fmt.Errorf("window store is required: %w", domain.ErrInvalidConfig)
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "ratelimit"
	}
	if cfg.Burst == (BurstConfig{}) {
		cfg.Burst = DefaultBurstConfig()
	}
	if cfg.Burst == (BurstConfig{}) {
		cfg.Burst = DefaultBurstConfig()
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "ratelimit"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Limiter{
		store: store,
		cfg:   cfg,
		log:   log,
		alert: rate.NewLimiter(rate.Every(10*time.Second), 3),
		now:   time.Now,
	}, nil
}

// EndpointOverride informa se o endpoint tem um par (rate, period) mais
// estrito configurado. O middleware usa isso para decidir se a checagem de
// tier de endpoint se aplica.
func (l *Limiter) EndpointOverride(endpoint string) (EndpointOverride, bool) {
	ov, ok := l.cfg.Endpoints[endpoint]
	return ov, ok
}

// Allow decide a admissão e, quando admitida, registra a requisição na janela.
//
// Algoritmo: poda entradas fora de [now-window, now]; conta; se count < max
// admite registrando now; senão avalia rajada; senão nega computando o
// retry-after a partir da expiração da entrada mais antiga (piso de 1s).
//
// max_requests = 0 nega sempre. Se o store estiver indisponível a resposta é
// fail-open: Allowed=true, Remaining=-1 e LimitType com sufixo "_fallback".
func (l *Limiter) Allow(ctx context.Context, identifier string, lt domain.LimitType, max int, window time.Duration, endpoint string, tier domain.Tier) domain.Result {
	now := l.now()
	max, window = l.effective(max, window, endpoint, tier, lt)

	if max <= 0 {
		return domain.Result{
			Allowed:    false,
			Remaining:  0,
			ResetTime:  now.Add(window),
			RetryAfter: flooredRetry(window),
			LimitType:  lt.String(),
		}
	}

	key := l.key(identifier, lt, endpoint)
	count, err := l.store.Count(ctx, key, window, now)
	if err != nil {
		return l.fallback(lt, err, now)
	}

	if count < int64(max) {
		if err := l.store.Add(ctx, key, member(now), now, keyTTL(window)); err != nil {
			return l.fallback(lt, err, now)
		}
		return domain.Result{
			Allowed:   true,
			Remaining: max - int(count) - 1,
			ResetTime: now.Add(window),
			LimitType: lt.String(),
		}
	}

	if l.burstGranted(ctx, identifier, lt, count, max, now) {
		if err := l.store.Add(ctx, key, member(now), now, keyTTL(window)); err != nil {
			return l.fallback(lt, err, now)
		}
		return domain.Result{
			Allowed:   true,
			Remaining: 0,
			ResetTime: now.Add(window),
			LimitType: lt.String(),
		}
	}

	reset := now.Add(window)
	if oldest, ok, err := l.store.Oldest(ctx, key); err == nil && ok {
		reset = oldest.Add(window)
	}
	return domain.Result{
		Allowed:    false,
		Remaining:  0,
		ResetTime:  reset,
		RetryAfter: flooredRetry(reset.Sub(now)),
		LimitType:  lt.String(),
	}
}

// GetStatus poda e conta sem jamais registrar a requisição: é livre de
// efeitos colaterais e não altera o resultado de um Allow subsequente.
func (l *Limiter) GetStatus(ctx context.Context, identifier string, lt domain.LimitType, max int, window time.Duration, endpoint string, tier domain.Tier) domain.Result {
	now := l.now()
	max, window = l.effective(max, window, endpoint, tier, lt)

	key := l.key(identifier, lt, endpoint)
	count, err := l.store.Count(ctx, key, window, now)
	if err != nil {
		return l.fallback(lt, err, now)
	}

	remaining := max - int(count)
	if remaining < 0 {
		remaining = 0
	}
	reset := now.Add(window)
	if oldest, ok, err := l.store.Oldest(ctx, key); err == nil && ok {
		reset = oldest.Add(window)
	}
	return domain.Result{
		Allowed:   max > 0 && count < int64(max),
		Remaining: remaining,
		ResetTime: reset,
		LimitType: lt.String(),
	}
}

// effective aperta (max, window) conforme o tipo de limite:
//   - endpoint: o par configurado vence quando o rate é mais estrito
//   - user: o teto do tier para a categoria do endpoint vence quando menor
func (l *Limiter) effective(max int, window time.Duration, endpoint string, tier domain.Tier, lt domain.LimitType) (int, time.Duration) {
	switch lt {
	case domain.LimitEndpoint:
		if ov, ok := l.cfg.Endpoints[endpoint]; ok && ov.Rate < max {
			max, window = ov.Rate, ov.Period
		}
	case domain.LimitUser:
		if tier == "" {
			break
		}
		if tl, ok := l.cfg.Tiers[tier]; ok {
			if ceiling := tl.limitFor(l.categoryOf(endpoint)); ceiling > 0 && ceiling < max {
				max = ceiling
			}
		}
	}
	return max, window
}

func (l *Limiter) categoryOf(endpoint string) Category {
	for _, p := range l.cfg.GenerationPrefixes {
		if strings.HasPrefix(endpoint, p) {
			return CategoryGeneration
		}
	}
	for _, p := range l.cfg.LookupPrefixes {
		if strings.HasPrefix(endpoint, p) {
			return CategoryLookup
		}
	}
	return CategoryAPI
}

// burstGranted aplica a política de rajada: checa as concessões no lookback
// antes de registrar uma nova, para nunca conceder mais que MaxGrants em
// qualquer janela rolante.
func (l *Limiter) burstGranted(ctx context.Context, identifier string, lt domain.LimitType, count int64, max int, now time.Time) bool {
	b := l.cfg.Burst
	if b.MaxGrants <= 0 {
		return false
	}
	threshold := int64(math.Ceil(float64(max) * b.Multiplier))
	if count > threshold {
		return false
	}

	key := l.cfg.KeyPrefix + ":burst:" + lt.String() + ":" + identifier
	grants, err := l.store.Count(ctx, key, b.Lookback, now)
	if err != nil || grants >= int64(b.MaxGrants) {
		return false
	}
	if err := l.store.Add(ctx, key, member(now), now, keyTTL(b.Lookback)); err != nil {
		return false
	}
	return true
}

func (l *Limiter) key(identifier string, lt domain.LimitType, endpoint string) string {
	k := l.cfg.KeyPrefix + ":" + lt.String() + ":" + identifier
	if lt == domain.LimitEndpoint && endpoint != "" {
		k += ":" + endpoint
	}
	return k
}

// fallback é o caminho fail-open: disponibilidade vence rigidez quando o
// store compartilhado está fora.
func (l *Limiter) fallback(lt domain.LimitType, err error, now time.Time) domain.Result {
	if l.alert.Allow() {
		l.log.Error("rate limit store unavailable, failing open",
			"error", err,
			"limit_type", lt.String(),
		)
	}
	return domain.Result{
		Allowed:   true,
		Remaining: -1,
		ResetTime: now,
		LimitType: lt.Fallback(),
	}
}

func member(now time.Time) string {
	return strconv.FormatInt(now.UnixNano(), 10)
}

func keyTTL(window time.Duration) time.Duration {
	return window + time.Minute
}

func flooredRetry(d time.Duration) time.Duration {
	if d < time.Second {
		return time.Second
	}
	return d
}
