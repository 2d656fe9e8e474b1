package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/neoforge-dev/synapse-gateway/middleware/security"
	"github.com/neoforge-dev/synapse-gateway/middleware/security/application"
	"github.com/neoforge-dev/synapse-gateway/middleware/security/domain"
	"github.com/neoforge-dev/synapse-gateway/middleware/security/infra"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := newLogger(cfg.logLevel, cfg.logFormat)

	target, err := url.Parse(cfg.upstreamURL)
	if err != nil {
		log.Fatalf("invalid upstream_url: %v", err)
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Error("proxy error", "error", err, "path", r.URL.Path)
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}

	var (
		windows domain.WindowStore
		blocks  domain.BlockRegistry
	)
	if cfg.store == "redis" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.redisAddr,
			Password: cfg.redisPassword,
			DB:       cfg.redisDB,
		})
		defer func() { _ = rdb.Close() }()

		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_, err := rdb.Ping(pingCtx).Result()
		cancel()
		if err != nil {
			log.Fatalf("redis ping error: %v", err)
		}

		windows = infra.NewRedisWindowStore(rdb, infra.WithWindowOpTimeout(cfg.opTimeout))
		blocks = infra.NewRedisBlockRegistry(rdb, infra.WithBlockOpTimeout(cfg.opTimeout))
	} else {
		windows = infra.NewMemoryWindowStore()
		blocks = infra.NewMemoryBlockRegistry()
	}

	limiter, err := application.NewLimiter(windows, cfg.limiter, logger)
	if err != nil {
		log.Fatalf("limiter config error: %v", err)
	}
	analyzer, err := application.NewAnalyzer(windows, cfg.analyzer, logger)
	if err != nil {
		log.Fatalf("analyzer config error: %v", err)
	}

	stats := security.NewStats()

	mux := http.NewServeMux()
	mux.Handle("/", proxy)
	mux.Handle("/_gateway/ratelimit", statusHandler(limiter, cfg))

	var h http.Handler = security.Middleware(security.Options{
		Limiter:           limiter,
		Analyzer:          analyzer,
		Blocks:            blocks,
		Policy:            cfg.policy,
		Limits:            cfg.limits,
		Stats:             stats,
		Logger:            logger,
		BypassPaths:       cfg.bypassPaths,
		AdminIPs:          cfg.adminIPs,
		TrustProxyHeaders: cfg.trustProxyHeaders,
		CountryHeader:     cfg.countryHeader,
		MaxConcurrent:     cfg.concurrencyMax,
		AcquireTimeout:    cfg.concurrencyTimeout,
	})(mux)
	if cfg.trustUserHeaders {
		h = userHeaderAdapter(h)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	srv := &http.Server{
		Addr:              cfg.listenAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)

		snap := stats.Snapshot()
		logger.Info("admission stats at shutdown", "allowed", snap.Allowed, "denied", snap.DeniedByCode)
	}()

	logger.Info("gateway listening",
		"addr", cfg.listenAddr,
		"upstream", target.String(),
		"store", cfg.store,
		"trust_proxy_headers", cfg.trustProxyHeaders,
	)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
}

// userHeaderAdapter anexa o usuário autenticado a partir dos cabeçalhos
// X-User-ID / X-User-Tier. Só deve ser ligado (auth.trust_user_headers)
// quando um serviço de autenticação à frente do gateway preenche esses
// cabeçalhos e remove os vindos do cliente.
func userHeaderAdapter(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := r.Header.Get("X-User-ID"); id != "" {
			r = security.RequestWithUser(r, security.User{
				ID:   id,
				Tier: domain.ParseTier(r.Header.Get("X-User-Tier")),
			})
		}
		next.ServeHTTP(w, r)
	})
}

// statusHandler expõe o get_status (poda+conta, sem registrar) do limite por
// IP para observabilidade. Restrito aos IPs de admin; por estar na lista de
// bypass, não consome cota.
func statusHandler(limiter *application.Limiter, cfg config) http.Handler {
	admin := make(map[string]struct{}, len(cfg.adminIPs))
	for _, ip := range cfg.adminIPs {
		admin[ip] = struct{}{}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := security.ClientIP(r, cfg.trustProxyHeaders)
		if _, ok := admin[caller]; !ok {
			http.NotFound(w, r)
			return
		}

		ip := r.URL.Query().Get("ip")
		if ip == "" {
			http.Error(w, "missing ip parameter", http.StatusBadRequest)
			return
		}

		res := limiter.GetStatus(r.Context(), ip, domain.LimitIP, cfg.limits.IPMax, cfg.limits.IPWindow, "", "")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"allowed":    res.Allowed,
			"remaining":  res.Remaining,
			"reset_time": res.ResetTime.Unix(),
			"limit_type": res.LimitType,
		})
	})
}
