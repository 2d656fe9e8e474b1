package security

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/neoforge-dev/synapse-gateway/middleware/security/application"
	"github.com/neoforge-dev/synapse-gateway/middleware/security/domain"
	"github.com/neoforge-dev/synapse-gateway/middleware/security/infra"
)

// Limits são os tetos base passados ao limiter em cada checagem. O limiter
// ainda aperta por tier (usuário) e por override (endpoint).
type Limits struct {
	IPMax      int
	IPWindow   time.Duration
	UserMax    int
	UserWindow time.Duration
}

type Options struct {
	Limiter  *application.Limiter
	Analyzer *application.Analyzer
	Blocks   domain.BlockRegistry
	Policy   application.BlockPolicy
	Limits   Limits
	Stats    *Stats
	Logger   *slog.Logger

	// BypassPaths passam direto pelo pipeline (prefix match). Ex: health.
	BypassPaths []string
	// AdminIPs também passam direto.
	AdminIPs []string

	TrustProxyHeaders bool
	// CountryHeader é o cabeçalho com o país resolvido pela borda
	// (ex: CF-IPCountry). Usado apenas pelo filtro geo do analyzer.
	CountryHeader string

	// MaxConcurrent limita requisições em voo atrás do gateway (0 desliga).
	MaxConcurrent  int
	AcquireTimeout time.Duration
}

type middleware struct {
	opts  Options
	slots domain.SlotPool
	log   *slog.Logger
}

// Middleware monta o pipeline de admissão em volta de next.
func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Policy.BlockThreshold == 0 {
		opts.Policy = application.DefaultBlockPolicy()
	}
	if opts.Limits.IPMax == 0 {
		opts.Limits.IPMax = 100
	}
	if opts.Limits.IPWindow == 0 {
		opts.Limits.IPWindow = time.Minute
	}
	if opts.Limits.UserMax == 0 {
		opts.Limits.UserMax = 1000
	}
	if opts.Limits.UserWindow == 0 {
		opts.Limits.UserWindow = time.Minute
	}
	if opts.CountryHeader == "" {
		opts.CountryHeader = "CF-IPCountry"
	}

	m := &middleware{opts: opts, log: opts.Logger}
	if opts.MaxConcurrent > 0 {
		m.slots = infra.NewSlotPool(opts.MaxConcurrent)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ip := ClientIP(r, opts.TrustProxyHeaders)
			if m.bypassed(r.URL.Path, ip) {
				next.ServeHTTP(w, r)
				return
			}

			if m.slots != nil {
				release, ok := m.acquire(r.Context())
				if !ok {
					http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
					return
				}
				defer release()
			}

			if d := m.check(r, ip); d != nil {
				opts.Stats.recordDenied(d.Code)
				writeDenial(w, d)
				return
			}
			opts.Stats.recordAllowed()

			tw := &timedWriter{ResponseWriter: w, start: start}
			setSecurityHeaders(tw.Header(), ip)
			next.ServeHTTP(tw, r)
		})
	}
}

func (m *middleware) bypassed(path, ip string) bool {
	for _, p := range m.opts.BypassPaths {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	for _, a := range m.opts.AdminIPs {
		if ip == a {
			return true
		}
	}
	return false
}

func (m *middleware) acquire(ctx context.Context) (func(), bool) {
	if m.opts.AcquireTimeout > 0 {
		acqCtx, cancel := context.WithTimeout(ctx, m.opts.AcquireTimeout)
		defer cancel()
		return m.slots.Acquire(acqCtx)
	}
	return m.slots.Acquire(ctx)
}

// check percorre as checagens na ordem do pipeline e devolve a primeira
// negação, ou nil para admitir. Qualquer pânico aqui dentro é fail-open:
// logado e tratado como admissão.
func (m *middleware) check(r *http.Request, ip string) (d *denial) {
	defer func() {
		if rec := recover(); rec != nil {
			m.log.Error("security pipeline panic, failing open",
				"panic", rec,
				"path", r.URL.Path,
				"ip", ip,
			)
			d = nil
		}
	}()

	ctx := r.Context()

	// 1) deny-list
	if rec, err := m.opts.Blocks.Lookup(ctx, ip); err != nil {
		m.log.Error("block registry lookup failed, failing open", "error", err, "ip", ip)
	} else if rec != nil {
		return &denial{
			Status:     http.StatusForbidden,
			Code:       domain.CodeIPBlocked,
			Message:    "client address is temporarily blocked: " + rec.Reason,
			RetryAfter: time.Until(rec.ExpiresAt),
			Reset:      rec.ExpiresAt,
		}
	}

	// 2) análise de padrões (pode criar um novo bloqueio)
	if m.opts.Analyzer != nil {
		if p := m.opts.Analyzer.Analyze(ctx, m.requestInfo(r, ip)); p != nil {
			switch {
			case m.opts.Policy.ShouldBlock(p.Severity):
				dur := m.opts.Policy.DurationFor(p.Severity)
				if err := m.opts.Blocks.Block(ctx, ip, dur, string(p.Type)); err != nil {
					m.log.Error("failed to persist ip block", "error", err, "ip", ip)
				}
				m.log.Warn("suspicious pattern blocked",
					"pattern", string(p.Type),
					"severity", p.Severity,
					"ip", ip,
					"occurrences", p.OccurrenceCount,
					"block_duration", dur,
				)
				return &denial{
					Status:     http.StatusForbidden,
					Code:       domain.CodeSuspiciousActivity,
					Message:    p.Description,
					RetryAfter: dur,
					Reset:      time.Now().Add(dur),
				}
			case m.opts.Policy.ShouldLog(p.Severity):
				m.log.Warn("suspicious pattern observed",
					"pattern", string(p.Type),
					"severity", p.Severity,
					"ip", ip,
					"description", p.Description,
				)
			}
		}
	}

	// 3) limite por IP
	if res := m.opts.Limiter.Allow(ctx, ip, domain.LimitIP, m.opts.Limits.IPMax, m.opts.Limits.IPWindow, "", ""); !res.Allowed {
		return denialFromResult(domain.CodeIPRateLimit, res)
	}

	// 4) limite por usuário (somente autenticado)
	if u, ok := UserFrom(ctx); ok {
		if res := m.opts.Limiter.Allow(ctx, u.ID, domain.LimitUser, m.opts.Limits.UserMax, m.opts.Limits.UserWindow, r.URL.Path, u.Tier); !res.Allowed {
			return denialFromResult(domain.CodeUserRateLimit, res)
		}
	}

	// 5) limite por endpoint (somente quando há override mais estrito)
	if ov, ok := m.opts.Limiter.EndpointOverride(r.URL.Path); ok {
		if res := m.opts.Limiter.Allow(ctx, ip, domain.LimitEndpoint, ov.Rate, ov.Period, r.URL.Path, ""); !res.Allowed {
			return denialFromResult(domain.CodeEndpointRateLimit, res)
		}
	}

	return nil
}

func (m *middleware) requestInfo(r *http.Request, ip string) domain.RequestInfo {
	required := m.opts.Analyzer.RequiredHeaders()
	headers := make(map[string]string, len(required))
	for _, h := range required {
		headers[h] = r.Header.Get(h)
	}
	return domain.RequestInfo{
		IP:            ip,
		Endpoint:      r.URL.Path,
		Method:        r.Method,
		UserAgent:     r.Header.Get("User-Agent"),
		ContentLength: r.ContentLength,
		Country:       r.Header.Get(m.opts.CountryHeader),
		Headers:       headers,
	}
}
