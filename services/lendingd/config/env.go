package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"lendcore/observability/logging"
)

const (
	envPrefix = "LENDINGD_"

	envEnvironment    = envPrefix + "ENV"
	envListen         = envPrefix + "LISTEN"
	envHealthListen   = envPrefix + "HEALTH_LISTEN"
	envAllowInsecure  = envPrefix + "ALLOW_INSECURE"
	envTLSCertFile    = envPrefix + "TLS_CERT_FILE"
	envTLSKeyFile     = envPrefix + "TLS_KEY_FILE"
	envTLSClientCA    = envPrefix + "TLS_CLIENT_CA_FILE"
	envJWTSecret      = envPrefix + "JWT_SECRET"
	envAPITokens      = envPrefix + "API_TOKENS"
	envAllowedCNs     = envPrefix + "ALLOWED_CNS"
	envRatePerMin     = envPrefix + "RATE_PER_MIN"
	envRateBurst      = envPrefix + "RATE_BURST"
	envStorageBackend = envPrefix + "STORAGE_BACKEND"
	envStoragePath    = envPrefix + "STORAGE_PATH"
	envEventsDriver   = envPrefix + "EVENTS_DRIVER"
	envEventsDSN      = envPrefix + "EVENTS_DSN"
	envRequestTimeout = envPrefix + "REQUEST_TIMEOUT"
	envAccrueInterval = envPrefix + "ACCRUE_INTERVAL"
)

// applyEnv overrides file values with any LENDINGD_* variables that are set.
func (cfg *Config) applyEnv() error {
	cfg.Environment = stringFromEnv(envEnvironment, cfg.Environment)
	cfg.ListenAddress = stringFromEnv(envListen, cfg.ListenAddress)
	cfg.HealthAddress = stringFromEnv(envHealthListen, cfg.HealthAddress)
	cfg.TLS.AllowInsecure = boolFromEnv(envAllowInsecure, cfg.TLS.AllowInsecure)
	cfg.TLS.CertPath = stringFromEnv(envTLSCertFile, cfg.TLS.CertPath)
	cfg.TLS.KeyPath = stringFromEnv(envTLSKeyFile, cfg.TLS.KeyPath)
	cfg.TLS.ClientCAPath = stringFromEnv(envTLSClientCA, cfg.TLS.ClientCAPath)
	cfg.Auth.JWTSecret = stringFromEnv(envJWTSecret, cfg.Auth.JWTSecret)
	if names := splitAndTrim(os.Getenv(envAllowedCNs)); len(names) > 0 {
		cfg.Auth.MTLS.AllowedCommonNames = names
	}
	for _, pair := range splitAndTrim(os.Getenv(envAPITokens)) {
		token, addr, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("%s: entries must be token=address", envAPITokens)
		}
		if cfg.Auth.APITokens == nil {
			cfg.Auth.APITokens = make(map[string]string)
		}
		cfg.Auth.APITokens[strings.TrimSpace(token)] = strings.TrimSpace(addr)
	}
	cfg.RateLimit.RequestsPerMinute = floatFromEnv(envRatePerMin, cfg.RateLimit.RequestsPerMinute)
	cfg.RateLimit.Burst = intFromEnv(envRateBurst, cfg.RateLimit.Burst)
	cfg.Storage.Backend = stringFromEnv(envStorageBackend, cfg.Storage.Backend)
	cfg.Storage.Path = stringFromEnv(envStoragePath, cfg.Storage.Path)
	cfg.Events.Driver = stringFromEnv(envEventsDriver, cfg.Events.Driver)
	cfg.Events.DSN = stringFromEnv(envEventsDSN, cfg.Events.DSN)
	cfg.RequestTimeout = durationFromEnv(envRequestTimeout, cfg.RequestTimeout)
	cfg.Keeper.AccrueInterval = durationFromEnv(envAccrueInterval, cfg.Keeper.AccrueInterval)
	return nil
}

// Sanitized returns a copy of the Config with secrets masked for logging.
func (cfg Config) Sanitized() Config {
	clone := cfg
	if clone.Auth.JWTSecret != "" {
		clone.Auth.JWTSecret = logging.MaskValue(clone.Auth.JWTSecret)
	}
	if len(cfg.Auth.APITokens) > 0 {
		clone.Auth.APITokens = make(map[string]string, len(cfg.Auth.APITokens))
		i := 0
		for token, addr := range cfg.Auth.APITokens {
			clone.Auth.APITokens[fmt.Sprintf("%s#%d", logging.MaskValue(token), i)] = addr
			i++
		}
	}
	if clone.Events.DSN != "" {
		clone.Events.DSN = logging.MaskValue(clone.Events.DSN)
	}
	if len(cfg.Oracles.HTTP) > 0 {
		clone.Oracles.HTTP = append([]HTTPFeed(nil), cfg.Oracles.HTTP...)
		for i := range clone.Oracles.HTTP {
			if clone.Oracles.HTTP[i].APIKey != "" {
				clone.Oracles.HTTP[i].APIKey = logging.MaskValue(clone.Oracles.HTTP[i].APIKey)
			}
		}
	}
	return clone
}

func stringFromEnv(key, fallback string) string {
	trimmed := strings.TrimSpace(os.Getenv(key))
	if trimmed == "" {
		return fallback
	}
	return trimmed
}

func splitAndTrim(value string) []string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	parts := strings.Split(trimmed, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func boolFromEnv(key string, fallback bool) bool {
	trimmed := strings.TrimSpace(os.Getenv(key))
	if trimmed == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(trimmed)
	if err != nil {
		return fallback
	}
	return parsed
}

func intFromEnv(key string, fallback int) int {
	trimmed := strings.TrimSpace(os.Getenv(key))
	if trimmed == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(trimmed)
	if err != nil {
		return fallback
	}
	return parsed
}

func floatFromEnv(key string, fallback float64) float64 {
	trimmed := strings.TrimSpace(os.Getenv(key))
	if trimmed == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func durationFromEnv(key string, fallback time.Duration) time.Duration {
	trimmed := strings.TrimSpace(os.Getenv(key))
	if trimmed == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(trimmed)
	if err != nil {
		return fallback
	}
	return parsed
}
