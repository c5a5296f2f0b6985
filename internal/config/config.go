package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type RateLimit struct {
	Max    int
	Window time.Duration
}

type ScoreTier struct {
	MaxRank    int
	Multiplier float64
}

type Config struct {
	Address      string
	DatabasePath string
	RedisAddr    string

	RollLimit  RateLimit
	ClaimLimit RateLimit

	PostingExpiration   time.Duration
	PostingRetention    time.Duration
	RegistryHardCap     int
	RegistryEvictTarget int

	RegistrySweepInterval time.Duration
	LimiterSweepInterval  time.Duration

	CatalogBaseURL        string
	CatalogThrottleRPS    float64
	CatalogThrottleBurst  int
	CatalogFetchRetries   int
	CatalogPolicyAttempts int
	CatalogRetryDelay     time.Duration
	CacheTTL              time.Duration
	CacheMaxSize          int

	DenyGenres       []string
	DenyDemographics []string
	DenyRatings      []string

	DailyAmount   float64
	DailyCooldown time.Duration

	ScoreCeiling float64
	ScoreKnee    float64
	ScoreJitter  float64
	// ScoreTiers maps a popularity-rank upper bound to its multiplier,
	// e.g. "10:3.0,100:2.2". Empty keeps the built-in table.
	ScoreTiers []ScoreTier

	HTTPRateRPS    float64
	HTTPRateBurst  int
	RequestTimeout time.Duration
}

const (
	DefaultPostingExpiration   = 30 * time.Second
	DefaultPostingRetention    = 3 * time.Hour
	DefaultRegistryHardCap     = 1000
	DefaultRegistryEvictTarget = 800
	DefaultRegistrySweep       = 30 * time.Minute
	DefaultLimiterSweep        = 5 * time.Minute
	DefaultCacheTTL            = time.Hour
	DefaultCacheMaxSize        = 100
	DefaultDailyAmount         = 100.0
	DefaultDailyCooldown       = 24 * time.Hour
)

func Load() Config {
	cfg := Config{
		Address:      ":8080",
		DatabasePath: "data/mangadrop.db",
		RollLimit: RateLimit{
			Max:    10,
			Window: time.Hour,
		},
		ClaimLimit: RateLimit{
			Max:    1,
			Window: 5 * time.Hour,
		},
		PostingExpiration:     DefaultPostingExpiration,
		PostingRetention:      DefaultPostingRetention,
		RegistryHardCap:       DefaultRegistryHardCap,
		RegistryEvictTarget:   DefaultRegistryEvictTarget,
		RegistrySweepInterval: DefaultRegistrySweep,
		LimiterSweepInterval:  DefaultLimiterSweep,
		CatalogBaseURL:        "https://api.jikan.moe/v4",
		CatalogThrottleRPS:    2,
		CatalogThrottleBurst:  3,
		CatalogFetchRetries:   3,
		CatalogPolicyAttempts: 5,
		CatalogRetryDelay:     time.Second,
		CacheTTL:              DefaultCacheTTL,
		CacheMaxSize:          DefaultCacheMaxSize,
		DenyGenres:            []string{"Hentai", "Ecchi", "Erotica", "Smut"},
		DenyDemographics:      []string{"Hentai"},
		DenyRatings:           []string{"Rx"},
		DailyAmount:           DefaultDailyAmount,
		DailyCooldown:         DefaultDailyCooldown,
		ScoreCeiling:          1000,
		ScoreKnee:             400,
		ScoreJitter:           0.15,
		HTTPRateRPS:           5,
		HTTPRateBurst:         10,
		RequestTimeout:        30 * time.Second,
	}

	if value := os.Getenv("MD_ADDRESS"); value != "" {
		cfg.Address = value
	}
	if value := os.Getenv("MD_DB_PATH"); value != "" {
		cfg.DatabasePath = value
	}
	if value := os.Getenv("MD_REDIS_ADDR"); value != "" {
		cfg.RedisAddr = value
	}

	if value := parseIntEnv("MD_ROLL_LIMIT_MAX"); value > 0 {
		cfg.RollLimit.Max = int(value)
	}
	if value := parseDurationEnv("MD_ROLL_LIMIT_WINDOW"); value > 0 {
		cfg.RollLimit.Window = value
	}
	if value := parseIntEnv("MD_CLAIM_LIMIT_MAX"); value > 0 {
		cfg.ClaimLimit.Max = int(value)
	}
	if value := parseDurationEnv("MD_CLAIM_LIMIT_WINDOW"); value > 0 {
		cfg.ClaimLimit.Window = value
	}
	if value := parseDurationEnv("MD_POSTING_EXPIRATION"); value > 0 {
		cfg.PostingExpiration = value
	}
	if value := parseDurationEnv("MD_POSTING_RETENTION"); value > 0 {
		cfg.PostingRetention = value
	}
	if value := parseIntEnv("MD_REGISTRY_HARD_CAP"); value > 0 {
		cfg.RegistryHardCap = int(value)
	}
	if value := parseIntEnv("MD_REGISTRY_EVICT_TARGET"); value > 0 {
		cfg.RegistryEvictTarget = int(value)
	}
	if cfg.RegistryEvictTarget >= cfg.RegistryHardCap {
		cfg.RegistryEvictTarget = cfg.RegistryHardCap * 4 / 5
	}
	if value := parseDurationEnv("MD_REGISTRY_SWEEP_INTERVAL"); value > 0 {
		cfg.RegistrySweepInterval = value
	}
	if value := parseDurationEnv("MD_LIMITER_SWEEP_INTERVAL"); value > 0 {
		cfg.LimiterSweepInterval = value
	}
	if value := os.Getenv("MD_CATALOG_BASE_URL"); value != "" {
		cfg.CatalogBaseURL = value
	}
	if value := parseFloatEnv("MD_CATALOG_THROTTLE_RPS"); value > 0 {
		cfg.CatalogThrottleRPS = value
	}
	if value := parseIntEnv("MD_CATALOG_THROTTLE_BURST"); value > 0 {
		cfg.CatalogThrottleBurst = int(value)
	}
	if value := parseIntEnv("MD_CATALOG_FETCH_RETRIES"); value > 0 {
		cfg.CatalogFetchRetries = int(value)
	}
	if value := parseIntEnv("MD_CATALOG_POLICY_ATTEMPTS"); value > 0 {
		cfg.CatalogPolicyAttempts = int(value)
	}
	if value := parseDurationEnv("MD_CATALOG_RETRY_DELAY"); value > 0 {
		cfg.CatalogRetryDelay = value
	}
	if value := parseDurationEnv("MD_CACHE_TTL"); value > 0 {
		cfg.CacheTTL = value
	}
	if value := parseIntEnv("MD_CACHE_MAX_SIZE"); value > 0 {
		cfg.CacheMaxSize = int(value)
	}
	if values := parseCSVEnv("MD_DENY_GENRES"); len(values) > 0 {
		cfg.DenyGenres = values
	}
	if values := parseCSVEnv("MD_DENY_DEMOGRAPHICS"); len(values) > 0 {
		cfg.DenyDemographics = values
	}
	if values := parseCSVEnv("MD_DENY_RATINGS"); len(values) > 0 {
		cfg.DenyRatings = values
	}
	if value := parseFloatEnv("MD_DAILY_AMOUNT"); value > 0 {
		cfg.DailyAmount = value
	}
	if value := parseDurationEnv("MD_DAILY_COOLDOWN"); value > 0 {
		cfg.DailyCooldown = value
	}
	if value := parseFloatEnv("MD_SCORE_CEILING"); value > 0 {
		cfg.ScoreCeiling = value
	}
	if value := parseFloatEnv("MD_SCORE_KNEE"); value > 0 {
		cfg.ScoreKnee = value
	}
	if value := parseFloatEnv("MD_SCORE_JITTER"); value > 0 {
		cfg.ScoreJitter = value
	}
	if tiers := parseTiersEnv("MD_SCORE_TIERS"); len(tiers) > 0 {
		cfg.ScoreTiers = tiers
	}
	if value := parseFloatEnv("MD_HTTP_RATE_RPS"); value > 0 {
		cfg.HTTPRateRPS = value
	}
	if value := parseIntEnv("MD_HTTP_RATE_BURST"); value > 0 {
		cfg.HTTPRateBurst = int(value)
	}
	if value := parseDurationEnv("MD_REQUEST_TIMEOUT"); value > 0 {
		cfg.RequestTimeout = value
	}

	return cfg
}

func parseDurationEnv(key string) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return 0
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0
	}
	return value
}

func parseIntEnv(key string) int64 {
	raw := os.Getenv(key)
	if raw == "" {
		return 0
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return value
}

func parseFloatEnv(key string) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return 0
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return value
}

func parseTiersEnv(key string) []ScoreTier {
	entries := parseCSVEnv(key)
	if len(entries) == 0 {
		return nil
	}
	tiers := make([]ScoreTier, 0, len(entries))
	for _, entry := range entries {
		rank, mult, ok := strings.Cut(entry, ":")
		if !ok {
			return nil
		}
		maxRank, err := strconv.Atoi(strings.TrimSpace(rank))
		if err != nil || maxRank <= 0 {
			return nil
		}
		multiplier, err := strconv.ParseFloat(strings.TrimSpace(mult), 64)
		if err != nil || multiplier <= 0 {
			return nil
		}
		tiers = append(tiers, ScoreTier{MaxRank: maxRank, Multiplier: multiplier})
	}
	return tiers
}

func parseCSVEnv(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		values = append(values, trimmed)
	}
	return values
}
