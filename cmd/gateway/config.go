package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/neoforge-dev/synapse-gateway/middleware/security"
	"github.com/neoforge-dev/synapse-gateway/middleware/security/application"
	"github.com/neoforge-dev/synapse-gateway/middleware/security/domain"
)

// config é a superfície ajustável do gateway: arquivo YAML (CONFIG_FILE,
// padrão gateway.yaml se existir) com override por variáveis SYNAPSE_*.
//
// Ex.: SYNAPSE_REDIS_ADDR sobrescreve redis.addr.
type config struct {
	listenAddr  string
	upstreamURL string

	logLevel  string
	logFormat string

	store         string // "redis" ou "memory"
	redisAddr     string
	redisPassword string
	redisDB       int
	opTimeout     time.Duration

	trustProxyHeaders bool
	trustUserHeaders  bool
	countryHeader     string
	bypassPaths       []string
	adminIPs          []string

	limits   security.Limits
	limiter  application.LimiterConfig
	analyzer application.AnalyzerConfig
	policy   application.BlockPolicy

	concurrencyMax     int
	concurrencyTimeout time.Duration
}

type endpointOverrideEntry struct {
	Path   string        `mapstructure:"path"`
	Rate   int           `mapstructure:"rate"`
	Period time.Duration `mapstructure:"period"`
}

type blockDurationEntry struct {
	Severity int           `mapstructure:"severity"`
	Duration time.Duration `mapstructure:"duration"`
}

func loadConfig() (config, error) {
	v := viper.New()

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("store", "memory")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.op_timeout", 250*time.Millisecond)

	v.SetDefault("trust_proxy_headers", false)
	v.SetDefault("auth.trust_user_headers", false)
	v.SetDefault("country_header", "CF-IPCountry")
	v.SetDefault("bypass_paths", []string{"/healthz", "/readyz", "/_gateway/"})
	v.SetDefault("admin_ips", []string{})

	v.SetDefault("limits.ip_max", 100)
	v.SetDefault("limits.ip_window", time.Minute)
	v.SetDefault("limits.user_max", 1000)
	v.SetDefault("limits.user_window", time.Minute)

	v.SetDefault("tiers.anonymous.api", 30)
	v.SetDefault("tiers.anonymous.generation", 5)
	v.SetDefault("tiers.anonymous.lookup", 30)
	v.SetDefault("tiers.free.api", 60)
	v.SetDefault("tiers.free.generation", 10)
	v.SetDefault("tiers.free.lookup", 60)
	v.SetDefault("tiers.pro.api", 300)
	v.SetDefault("tiers.pro.generation", 60)
	v.SetDefault("tiers.pro.lookup", 300)
	v.SetDefault("tiers.enterprise.api", 1000)
	v.SetDefault("tiers.enterprise.generation", 300)
	v.SetDefault("tiers.enterprise.lookup", 1000)

	v.SetDefault("categories.generation_prefixes", []string{"/api/v1/content/generate"})
	v.SetDefault("categories.lookup_prefixes", []string{"/api/v1/lookup"})

	v.SetDefault("burst.multiplier", 1.5)
	v.SetDefault("burst.max_grants", 3)
	v.SetDefault("burst.lookback", 5*time.Minute)

	v.SetDefault("detectors.rapid_threshold", 20)
	v.SetDefault("detectors.rapid_window", 10*time.Second)
	v.SetDefault("detectors.diversity_threshold", 5)
	v.SetDefault("detectors.diversity_window", time.Minute)
	v.SetDefault("detectors.max_payload_bytes", int64(10<<20))
	v.SetDefault("detectors.min_missing_headers", 2)

	v.SetDefault("geo.enabled", false)
	v.SetDefault("geo.allowed_cidrs", []string{})
	v.SetDefault("geo.blocked_countries", []string{})

	v.SetDefault("policy.block_threshold", 8)
	v.SetDefault("policy.log_threshold", 5)
	v.SetDefault("policy.default_block_duration", 30*time.Minute)

	v.SetDefault("concurrency.max", 0)
	v.SetDefault("concurrency.acquire_timeout", time.Duration(0))

	v.SetEnvPrefix("SYNAPSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return config{}, fmt.Errorf("read config %q: %w", path, err)
		}
	} else {
		v.SetConfigName("gateway")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := config{
		listenAddr:  v.GetString("listen_addr"),
		upstreamURL: v.GetString("upstream_url"),
		logLevel:    v.GetString("log.level"),
		logFormat:   v.GetString("log.format"),

		store:         v.GetString("store"),
		redisAddr:     v.GetString("redis.addr"),
		redisPassword: v.GetString("redis.password"),
		redisDB:       v.GetInt("redis.db"),
		opTimeout:     v.GetDuration("redis.op_timeout"),

		trustProxyHeaders: v.GetBool("trust_proxy_headers"),
		trustUserHeaders:  v.GetBool("auth.trust_user_headers"),
		countryHeader:     v.GetString("country_header"),
		bypassPaths:       v.GetStringSlice("bypass_paths"),
		adminIPs:          v.GetStringSlice("admin_ips"),

		limits: security.Limits{
			IPMax:      v.GetInt("limits.ip_max"),
			IPWindow:   v.GetDuration("limits.ip_window"),
			UserMax:    v.GetInt("limits.user_max"),
			UserWindow: v.GetDuration("limits.user_window"),
		},

		concurrencyMax:     v.GetInt("concurrency.max"),
		concurrencyTimeout: v.GetDuration("concurrency.acquire_timeout"),
	}

	if cfg.upstreamURL == "" {
		return config{}, errors.New("upstream_url is required (SYNAPSE_UPSTREAM_URL)")
	}
	if cfg.store != "redis" && cfg.store != "memory" {
		return config{}, fmt.Errorf("store must be \"redis\" or \"memory\", got %q", cfg.store)
	}
	if cfg.limits.IPWindow <= 0 || cfg.limits.UserWindow <= 0 {
		return config{}, errors.New("limit windows must be > 0")
	}

	var overrides []endpointOverrideEntry
	if err := v.UnmarshalKey("endpoints", &overrides); err != nil {
		return config{}, fmt.Errorf("parse endpoints: %w", err)
	}
	endpoints := make(map[string]application.EndpointOverride, len(overrides))
	for _, e := range overrides {
		if e.Path == "" {
			return config{}, errors.New("endpoint override without path")
		}
		endpoints[e.Path] = application.EndpointOverride{Rate: e.Rate, Period: e.Period}
	}

	cfg.limiter = application.LimiterConfig{
		Tiers: map[domain.Tier]application.TierLimits{
			domain.TierAnonymous:  tierLimits(v, "anonymous"),
			domain.TierFree:       tierLimits(v, "free"),
			domain.TierPro:        tierLimits(v, "pro"),
			domain.TierEnterprise: tierLimits(v, "enterprise"),
		},
		Endpoints:          endpoints,
		GenerationPrefixes: v.GetStringSlice("categories.generation_prefixes"),
		LookupPrefixes:     v.GetStringSlice("categories.lookup_prefixes"),
		Burst: application.BurstConfig{
			Multiplier: v.GetFloat64("burst.multiplier"),
			MaxGrants:  v.GetInt("burst.max_grants"),
			Lookback:   v.GetDuration("burst.lookback"),
		},
	}

	cfg.analyzer = application.AnalyzerConfig{
		RapidThreshold:     v.GetInt("detectors.rapid_threshold"),
		RapidWindow:        v.GetDuration("detectors.rapid_window"),
		DiversityThreshold: v.GetInt("detectors.diversity_threshold"),
		DiversityWindow:    v.GetDuration("detectors.diversity_window"),
		MaxPayloadBytes:    v.GetInt64("detectors.max_payload_bytes"),
		BotTokens:          v.GetStringSlice("detectors.bot_tokens"),
		RequiredHeaders:    v.GetStringSlice("detectors.required_headers"),
		MinMissingHeaders:  v.GetInt("detectors.min_missing_headers"),
		GeoEnabled:         v.GetBool("geo.enabled"),
		AllowedCIDRs:       v.GetStringSlice("geo.allowed_cidrs"),
		BlockedCountries:   v.GetStringSlice("geo.blocked_countries"),
	}

	var durations []blockDurationEntry
	if err := v.UnmarshalKey("policy.block_durations", &durations); err != nil {
		return config{}, fmt.Errorf("parse block durations: %w", err)
	}
	durs := make(map[int]time.Duration, len(durations))
	for _, d := range durations {
		durs[d.Severity] = d.Duration
	}
	if len(durs) == 0 {
		durs = application.DefaultBlockPolicy().Durations
	}
	cfg.policy = application.BlockPolicy{
		BlockThreshold:  v.GetInt("policy.block_threshold"),
		LogThreshold:    v.GetInt("policy.log_threshold"),
		Durations:       durs,
		DefaultDuration: v.GetDuration("policy.default_block_duration"),
	}
	if err := cfg.policy.Validate(); err != nil {
		return config{}, err
	}

	return cfg, nil
}

func tierLimits(v *viper.Viper, tier string) application.TierLimits {
	return application.TierLimits{
		API:        v.GetInt("tiers." + tier + ".api"),
		Generation: v.GetInt("tiers." + tier + ".generation"),
		Lookup:     v.GetInt("tiers." + tier + ".lookup"),
	}
}
