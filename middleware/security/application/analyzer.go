package application

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/neoforge-dev/synapse-gateway/middleware/security/domain"
)

// AnalyzerConfig agrega os thresholds dos detectores heurísticos.
type AnalyzerConfig struct {
	RapidThreshold     int           // requisições por IP dentro de RapidWindow
	RapidWindow        time.Duration
	DiversityThreshold int // endpoints distintos dentro de DiversityWindow
	DiversityWindow    time.Duration
	MaxPayloadBytes    int64 // Content-Length declarado acima disso é suspeito

	BotTokens         []string // substrings de User-Agent (case-insensitive)
	RequiredHeaders   []string // cabeçalhos de navegador esperados
	MinMissingHeaders int      // a partir de quantos ausentes vira suspeita

	// Filtro geo/rede (opcional). CIDRs permitidos e redes privadas/loopback
	// sempre passam; o país vem resolvido pela borda (ver middleware).
	GeoEnabled       bool
	AllowedCIDRs     []string
	BlockedCountries []string

	KeyPrefix string
}

// DefaultAnalyzerConfig devolve os thresholds de fábrica.
func DefaultAnalyzerConfig() AnalyzerConfig {
	return AnalyzerConfig{
		RapidThreshold:     20,
		RapidWindow:        10 * time.Second,
		DiversityThreshold: 5,
		DiversityWindow:    time.Minute,
		MaxPayloadBytes:    10 << 20,
		BotTokens: []string{
			"bot", "crawler", "spider", "scraper", "curl", "wget",
			"python-requests", "go-http-client", "httpclient", "java/",
		},
		RequiredHeaders:   []string{"Accept", "Accept-Language", "Accept-Encoding"},
		MinMissingHeaders: 2,
		KeyPrefix:         "pattern",
	}
}

// Analyzer roda detectores independentes e devolve o padrão de maior
// severidade. Empates são resolvidos pela ordem de prioridade:
// rapid-request > large-payload > endpoint-diversity > bot > geo.
//
// O estado por detector usa a mesma disciplina de janela deslizante com poda
// preguiçosa do rate limiter, em chaves independentes por tipo de detector.
type Analyzer struct {
	store     domain.WindowStore
	cfg       AnalyzerConfig
	allowNets []*net.IPNet
	blocked   map[string]struct{}
	log       *slog.Logger
	alert     *rate.Limiter
	now       func() time.Time
}

func NewAnalyzer(store domain.WindowStore, cfg AnalyzerConfig, log *slog.Logger) (*Analyzer, error) {
	if store == nil {
		return nil, fmt.Errorf("window store is required: %w", domain.ErrInvalidConfig)
	}
	def := DefaultAnalyzerConfig()
	if cfg.RapidThreshold == 0 {
		cfg.RapidThreshold = def.RapidThreshold
	}
	if cfg.RapidWindow == 0 {
		cfg.RapidWindow = def.RapidWindow
	}
	if cfg.DiversityThreshold == 0 {
		cfg.DiversityThreshold = def.DiversityThreshold
	}
	if cfg.DiversityWindow == 0 {
		cfg.DiversityWindow = def.DiversityWindow
	}
	if cfg.MaxPayloadBytes == 0 {
		cfg.MaxPayloadBytes = def.MaxPayloadBytes
	}
	if cfg.BotTokens == nil {
		cfg.BotTokens = def.BotTokens
	}
	if cfg.RequiredHeaders == nil {
		cfg.RequiredHeaders = def.RequiredHeaders
	}
	if cfg.MinMissingHeaders == 0 {
		cfg.MinMissingHeaders = def.MinMissingHeaders
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = def.KeyPrefix
	}
	if cfg.RapidWindow <= 0 || cfg.DiversityWindow <= 0 {
		return nil, fmt.Errorf("detector windows must be > 0: %w", domain.ErrInvalidConfig)
	}
	if cfg.RapidThreshold < 0 || cfg.DiversityThreshold < 0 || cfg.MaxPayloadBytes < 0 {
		return nil, fmt.Errorf("detector thresholds must be >= 0: %w", domain.ErrInvalidConfig)
	}

	var nets []*net.IPNet
	for _, cidr := range cfg.AllowedCIDRs {
		_, n, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, fmt.Errorf("invalid allow-list CIDR %q: %w", cidr, domain.ErrInvalidConfig)
		}
		nets = append(nets, n)
	}
	blocked := make(map[string]struct{}, len(cfg.BlockedCountries))
	for _, c := range cfg.BlockedCountries {
		blocked[strings.ToUpper(strings.TrimSpace(c))] = struct{}{}
	}

	if log == nil {
		log = slog.Default()
	}
	return &Analyzer{
		store:     store,
		cfg:       cfg,
		allowNets: nets,
		blocked:   blocked,
		log:       log,
		alert:     rate.NewLimiter(rate.Every(10*time.Second), 3),
		now:       time.Now,
	}, nil
}

// RequiredHeaders expõe os cabeçalhos que o detector de automação consulta,
// para quem monta o domain.RequestInfo.
func (a *Analyzer) RequiredHeaders() []string { return a.cfg.RequiredHeaders }

// Analyze roda os detectores e devolve o padrão de maior severidade, ou nil
// quando a requisição parece normal. Falha de store em um detector não tem
// veredito (fail-open) e não impede os demais.
func (a *Analyzer) Analyze(ctx context.Context, req domain.RequestInfo) *domain.SuspiciousPattern {
	now := a.now()

	var best *domain.SuspiciousPattern
	for _, detect := range []func(context.Context, domain.RequestInfo, time.Time) *domain.SuspiciousPattern{
		a.detectRapidRequests,
		a.detectLargePayload,
		a.detectEndpointDiversity,
		a.detectAutomation,
		a.detectGeo,
	} {
		if p := detect(ctx, req, now); p != nil && (best == nil || p.Severity > best.Severity) {
			best = p
		}
	}
	return best
}

func (a *Analyzer) detectRapidRequests(ctx context.Context, req domain.RequestInfo, now time.Time) *domain.SuspiciousPattern {
	key := a.cfg.KeyPrefix + ":rapid:" + req.IP
	n, err := a.store.Observe(ctx, key, member(now), a.cfg.RapidWindow, now, keyTTL(a.cfg.RapidWindow))
	if err != nil {
		a.storeErr("rapid_requests", err)
		return nil
	}
	if n <= int64(a.cfg.RapidThreshold) {
		return nil
	}

	first := now
	if oldest, ok, err := a.store.Oldest(ctx, key); err == nil && ok {
		first = oldest
	}
	return &domain.SuspiciousPattern{
		Type:            domain.PatternRapidRequests,
		Severity:        8,
		Description:     fmt.Sprintf("%d requests from %s within %s", n, req.IP, a.cfg.RapidWindow),
		FirstDetected:   first,
		LastSeen:        now,
		OccurrenceCount: n,
	}
}

func (a *Analyzer) detectLargePayload(_ context.Context, req domain.RequestInfo, now time.Time) *domain.SuspiciousPattern {
	if req.ContentLength <= a.cfg.MaxPayloadBytes {
		return nil
	}
	return &domain.SuspiciousPattern{
		Type:            domain.PatternLargePayload,
		Severity:        7,
		Description:     fmt.Sprintf("declared Content-Length of %d bytes exceeds %d", req.ContentLength, a.cfg.MaxPayloadBytes),
		FirstDetected:   now,
		LastSeen:        now,
		OccurrenceCount: 1,
	}
}

func (a *Analyzer) detectEndpointDiversity(ctx context.Context, req domain.RequestInfo, now time.Time) *domain.SuspiciousPattern {
	key := a.cfg.KeyPrefix + ":endpoints:" + req.IP
	// member = endpoint: ZADD deduplica, então a cardinalidade é o número de
	// endpoints distintos dentro da janela.
	n, err := a.store.Observe(ctx, key, req.Endpoint, a.cfg.DiversityWindow, now, keyTTL(a.cfg.DiversityWindow))
	if err != nil {
		a.storeErr("endpoint_diversity", err)
		return nil
	}
	if n <= int64(a.cfg.DiversityThreshold) {
		return nil
	}

	first := now
	if oldest, ok, err := a.store.Oldest(ctx, key); err == nil && ok {
		first = oldest
	}
	return &domain.SuspiciousPattern{
		Type:            domain.PatternEndpointDiversity,
		Severity:        6,
		Description:     fmt.Sprintf("%d distinct endpoints from %s within %s", n, req.IP, a.cfg.DiversityWindow),
		FirstDetected:   first,
		LastSeen:        now,
		OccurrenceCount: n,
	}
}

// detectAutomation cobre os dois sinais de cliente não-navegador: token de
// bot no User-Agent (severidade 4) e ausência dos cabeçalhos padrão de
// navegador (severidade 5). Quando ambos disparam, vale o mais severo.
func (a *Analyzer) detectAutomation(_ context.Context, req domain.RequestInfo, now time.Time) *domain.SuspiciousPattern {
	missing := 0
	for _, h := range a.cfg.RequiredHeaders {
		if req.Headers[h] == "" {
			missing++
		}
	}
	if missing >= a.cfg.MinMissingHeaders {
		return &domain.SuspiciousPattern{
			Type:            domain.PatternMissingHeaders,
			Severity:        5,
			Description:     fmt.Sprintf("%d of %d standard browser headers missing", missing, len(a.cfg.RequiredHeaders)),
			FirstDetected:   now,
			LastSeen:        now,
			OccurrenceCount: 1,
		}
	}

	ua := strings.ToLower(req.UserAgent)
	for _, token := range a.cfg.BotTokens {
		if strings.Contains(ua, token) {
			return &domain.SuspiciousPattern{
				Type:            domain.PatternBotUserAgent,
				Severity:        4,
				Description:     fmt.Sprintf("user agent matches bot token %q", token),
				FirstDetected:   now,
				LastSeen:        now,
				OccurrenceCount: 1,
			}
		}
	}
	return nil
}

func (a *Analyzer) detectGeo(_ context.Context, req domain.RequestInfo, now time.Time) *domain.SuspiciousPattern {
	if !a.cfg.GeoEnabled {
		return nil
	}
	ip := net.ParseIP(req.IP)
	if ip == nil {
		return nil
	}
	// redes privadas/loopback sempre passam
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() {
		return nil
	}
	for _, n := range a.allowNets {
		if n.Contains(ip) {
			return nil
		}
	}
	country := strings.ToUpper(strings.TrimSpace(req.Country))
	if country == "" {
		return nil
	}
	if _, ok := a.blocked[country]; !ok {
		return nil
	}
	return &domain.SuspiciousPattern{
		Type:            domain.PatternGeoBlocked,
		Severity:        8,
		Description:     fmt.Sprintf("request from blocked country %s", country),
		FirstDetected:   now,
		LastSeen:        now,
		OccurrenceCount: 1,
	}
}

func (a *Analyzer) storeErr(detector string, err error) {
	if a.alert.Allow() {
		a.log.Error("pattern analyzer store unavailable, skipping detector",
			"error", err,
			"detector", detector,
		)
	}
}
