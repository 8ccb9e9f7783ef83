// Package config assembles the server's runtime configuration from CLI
// flags and environment variables, per spec.md §6. This is deliberately a
// small struct: the teacher's pkg/config carries TLS/mTLS/GraphQL/OAuth/
// chaos/workspace configuration that has no referent in this module's
// scope; ServerConfiguration keeps only the fields spec.md §6 names.
package config

import (
	"os"
	"strconv"

	"github.com/httpmockd/httpmockd/pkg/logging"
)

// Defaults match spec.md §6 exactly.
const (
	DefaultPort             = 5050
	DefaultBindAddress      = "127.0.0.1"
	DefaultExposeAddress    = "0.0.0.0"
	DefaultRequestHistory   = 100
	DefaultAccessLog        = true
	DefaultMaxRequestBody   = 10 << 20 // 10MB, matches teacher's pkg/engine.MaxRequestBodySize
	DefaultShutdownDeadline = 10       // seconds
)

// ServerConfiguration is the fully resolved set of knobs the serve command
// needs. Flags (bound in cmd/httpmockd) win over defaults; env vars that are
// set win over flags, because FromEnvironment is applied to the flag values.
type ServerConfiguration struct {
	Port                int
	Expose              bool
	MockFilesDir         string
	RequestHistoryLimit  int
	AccessLogEnabled     bool
	MaxRequestBodySize   int64
	ShutdownDeadlineSecs int

	LogLevel  logging.Level
	LogFormat logging.Format
}

// Default returns a ServerConfiguration with spec.md §6's documented
// defaults, before environment or flag overrides are applied.
func Default() ServerConfiguration {
	return ServerConfiguration{
		Port:                 DefaultPort,
		Expose:               false,
		RequestHistoryLimit:  DefaultRequestHistory,
		AccessLogEnabled:     DefaultAccessLog,
		MaxRequestBodySize:   DefaultMaxRequestBody,
		ShutdownDeadlineSecs: DefaultShutdownDeadline,
		LogLevel:             logging.LevelInfo,
		LogFormat:            logging.FormatText,
	}
}

// FromEnvironment applies the five spec.md §6 environment variables on top
// of cfg, returning the result. Unset variables leave the existing value
// untouched; a set variable overrides whatever cfg already holds, including
// values the caller seeded from flags.
func FromEnvironment(cfg ServerConfiguration) ServerConfiguration {
	if v, ok := os.LookupEnv("HTTPMOCK_PORT"); ok {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if v, ok := os.LookupEnv("HTTPMOCK_EXPOSE"); ok {
		cfg.Expose = parseBool(v, cfg.Expose)
	}
	if v, ok := os.LookupEnv("HTTPMOCK_MOCK_FILES_DIR"); ok {
		cfg.MockFilesDir = v
	}
	if v, ok := os.LookupEnv("HTTPMOCK_DISABLE_ACCESS_LOG"); ok {
		cfg.AccessLogEnabled = !parseBool(v, !cfg.AccessLogEnabled)
	}
	if v, ok := os.LookupEnv("HTTPMOCK_REQUEST_HISTORY_LIMIT"); ok {
		if limit, err := strconv.Atoi(v); err == nil {
			cfg.RequestHistoryLimit = limit
		}
	}
	return cfg
}

// BindAddress returns the address the listener should bind, per spec.md §6
// ("defaults: ... bind 127.0.0.1"): loopback unless Expose is set.
func (c ServerConfiguration) BindAddress() string {
	if c.Expose {
		return DefaultExposeAddress
	}
	return DefaultBindAddress
}

func parseBool(v string, fallback bool) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
