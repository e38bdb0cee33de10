// Package config loads observer settings from the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DatabaseSchemePostgres is the postgres database scheme identifier
	DatabaseSchemePostgres = "postgres"

	DefaultRPCURL           = "http://localhost:26657"
	DefaultResultDir        = "result"
	DefaultPostTargetBlocks = 10
	DefaultPollInterval     = time.Second
	DefaultDashboardRefresh = 5 * time.Second
)

type Config struct {
	RPCURL    string
	WSURL     string // websocket endpoint, derived from RPCURL when empty
	AppAPIURL string // optional: Cosmos REST API base URL (e.g., http://node:1317)

	TargetHeight     int64 // 0 means no target
	PostTargetBlocks int
	SaveAll          bool
	NoSave           bool
	ResultDir        string
	PollInterval     time.Duration

	DBDialect string // postgres only
	DBDsn     string // DSN string passed to GORM driver

	LogLevel string
	LogPath  string
	Debug    bool

	Dashboard        bool // dashboard only: nothing is persisted
	DashboardRefresh time.Duration
	DashboardNoEmoji bool // ASCII vote markers and plain-text monikers
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	v = strings.ToLower(v)
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func getenvInt(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: invalid %s=%q, using %d\n", key, v, def)
		return def
	}
	return n
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		fmt.Fprintf(os.Stderr, "warning: invalid %s=%q, using %s\n", key, v, def)
		return def
	}
	return d
}

// parseDatabaseURL interprets DATABASE_URL and returns (dialect, dsn).
// Supported schemes: postgres, postgresql.
func parseDatabaseURL(databaseURL string) (string, string, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", "", err
	}
	scheme := strings.ToLower(u.Scheme)
	switch scheme {
	case DatabaseSchemePostgres, "postgresql":
		// GORM postgres driver accepts URL DSN as-is
		return DatabaseSchemePostgres, databaseURL, nil
	default:
		return "", "", fmt.Errorf("unsupported DATABASE_URL scheme: %s", u.Scheme)
	}
}

// DeriveWSURL turns an http(s) RPC address into its ws(s) /websocket endpoint.
func DeriveWSURL(rpcURL string) (string, error) {
	u, err := url.Parse(rpcURL)
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("cannot derive websocket endpoint from %q, set WS_URL", rpcURL)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/websocket"
	return u.String(), nil
}

func Load() Config {
	cfg := Config{
		RPCURL:           strings.TrimSuffix(getenv("RPC_URL", DefaultRPCURL), "/"),
		WSURL:            os.Getenv("WS_URL"),
		AppAPIURL:        strings.TrimSuffix(os.Getenv("APP_API_URL"), "/"),
		TargetHeight:     getenvInt("TARGET_HEIGHT", 0),
		PostTargetBlocks: int(getenvInt("POST_TARGET_BLOCKS", DefaultPostTargetBlocks)),
		SaveAll:          getenvBool("SAVE_ALL", false),
		NoSave:           getenvBool("NO_SAVE", false),
		ResultDir:        getenv("RESULT_DIR", DefaultResultDir),
		PollInterval:     getenvDuration("POLL_INTERVAL", DefaultPollInterval),
		LogLevel:         strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPath:          os.Getenv("LOG_PATH"),
		Debug:            getenvBool("DEBUG", false),
		Dashboard:        getenvBool("DASHBOARD", false),
		DashboardRefresh: getenvDuration("DASHBOARD_REFRESH", DefaultDashboardRefresh),
		DashboardNoEmoji: getenvBool("DASHBOARD_NO_EMOJI", false),
	}
	if cfg.Debug {
		cfg.LogLevel = "debug"
	}

	if cfg.WSURL == "" {
		if ws, err := DeriveWSURL(cfg.RPCURL); err == nil {
			cfg.WSURL = ws
		} else {
			fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		}
	}

	if dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL")); dbURL != "" {
		if dialect, dsn, err := parseDatabaseURL(dbURL); err == nil {
			cfg.DBDialect = dialect
			cfg.DBDsn = dsn
		} else {
			fmt.Fprintf(os.Stderr, "warning: invalid DATABASE_URL, disabling persistence: %v\n", err)
		}
	}

	return cfg
}

// Validate enforces the combinations of save settings that make sense.
// Dashboard mode ignores them, it never writes anything.
func (c Config) Validate() error {
	if c.RPCURL == "" {
		return errors.New("RPC_URL is required")
	}
	if c.Dashboard {
		return nil
	}
	if c.WSURL == "" {
		return errors.New("WS_URL is required when it cannot be derived from RPC_URL")
	}
	if c.TargetHeight < 0 {
		return fmt.Errorf("TARGET_HEIGHT must be positive, got %d", c.TargetHeight)
	}
	if c.PostTargetBlocks < 0 {
		return fmt.Errorf("POST_TARGET_BLOCKS must not be negative, got %d", c.PostTargetBlocks)
	}
	if c.NoSave {
		if c.SaveAll || c.TargetHeight > 0 {
			return errors.New("SAVE_ALL and TARGET_HEIGHT cannot be used with NO_SAVE")
		}
		return nil
	}
	if !c.SaveAll && c.TargetHeight == 0 {
		return errors.New("TARGET_HEIGHT is required unless SAVE_ALL or NO_SAVE is set")
	}
	return nil
}

// DebugString returns a human-friendly configuration string with masked secrets.
func (c Config) DebugString() string {
	return fmt.Sprintf(
		"rpc=%s ws=%s app_api_url=%s target=%d post_target=%d save_all=%t no_save=%t result_dir=%s db=%s dsn=%s",
		c.RPCURL,
		c.WSURL,
		c.AppAPIURL,
		c.TargetHeight,
		c.PostTargetBlocks,
		c.SaveAll,
		c.NoSave,
		c.ResultDir,
		c.DBDialect,
		maskDSN(c.DBDialect, c.DBDsn),
	)
}

func maskDSN(dialect, dsn string) string {
	switch strings.ToLower(dialect) {
	case DatabaseSchemePostgres:
		if u, err := url.Parse(dsn); err == nil && u.Scheme != "" {
			if u.User != nil {
				username := u.User.Username()
				u.User = url.User(username)
			}
			return u.String()
		}
		// Fallback for DSN as key-value list
		parts := strings.Fields(dsn)
		for i, p := range parts {
			lower := strings.ToLower(p)
			if strings.HasPrefix(lower, "password=") {
				parts[i] = "password=***"
			}
		}
		return strings.Join(parts, " ")
	default:
		return dsn
	}
}
