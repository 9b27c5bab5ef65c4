// Package config loads and validates simulcast-mpv's configuration from
// CLI flags, environment variables, and dotenv files, in that precedence
// order, per SPEC_FULL.md §4.10 and §6.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds the fully resolved, validated configuration for a single
// process invocation. Immutable once returned by Load.
type Config struct {
	RelayURL    string // SIMULCAST_RELAY_URL / --relay-url
	RelayRoom   string // SIMULCAST_RELAY_ROOM / --relay-room (shared room secret)
	ClientSock  string // SIMULCAST_CLIENT_SOCK / --client-sock
	BindAddress string // SIMULCAST_BIND_ADDRESS / --bind-address
	BindPort    int    // SIMULCAST_BIND_PORT / --bind-port
	RepoURL     string // SIMULCAST_REPO_URL / --repo-url
	LogLevel    string // SIMULCAST_LOG_LEVEL / --log-level; reported in the startup log only, the logger does not filter by it
	Development bool   // SIMULCAST_DEV / --dev
	RedisAddr   string // SIMULCAST_RELAY_REDIS_ADDR / --relay-redis-addr (optional cross-instance bus)

	// AllowedOrigins is an optional allow-list of browser Origin values for
	// the relay's WebSocket upgrade endpoint. Empty means "no browser-based
	// clients expected" — requests carrying no Origin header (the normal
	// case for the native client adapter) are always allowed regardless.
	AllowedOrigins []string // SIMULCAST_RELAY_ALLOWED_ORIGINS / --relay-allowed-origins (comma-separated)

	// RateLimitWsConnect caps new WebSocket upgrades per source IP, in
	// github.com/ulule/limiter's formatted-rate syntax (e.g. "20-M").
	RateLimitWsConnect string // SIMULCAST_RELAY_RATE_LIMIT_WS / --relay-rate-limit-ws
}

// defaultRelayURL is baked in at build time; see BuildDefaultRelayURL.
var defaultRelayURL = "wss://relay.simulcast-mpv.example.org"

const (
	defaultRelayRoom   = "abcd1234"
	defaultBindAddress = "127.0.0.1"
	defaultBindPort    = 30777
	defaultRepoURL     = "https://github.com/rtldg/simulcast-mpv"
	defaultLogLevel    = "info"
	defaultRateLimitWs = "20-M"
)

// DotenvSearchPaths returns the three candidate .env locations in the
// precedence order specified in SPEC_FULL.md §6: the player scripts
// directory, the user config directory, then the current working directory.
func DotenvSearchPaths(playerScriptsDir string) []string {
	var paths []string
	if playerScriptsDir != "" {
		paths = append(paths, filepath.Join(playerScriptsDir, "simulcast-mpv.env"))
	}
	if cfgDir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(cfgDir, "simulcast-mpv", "simulcast-mpv.env"))
	}
	paths = append(paths, "simulcast-mpv.env")
	return paths
}

// loadDotenv loads the first dotenv file found along the search path. It is
// not an error for none to exist.
func loadDotenv(playerScriptsDir string) {
	for _, path := range DotenvSearchPaths(playerScriptsDir) {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			slog.Warn("failed to parse dotenv file", "path", path, "error", err)
			continue
		}
		slog.Info("loaded dotenv file", "path", path)
		return
	}
}

// FlagSet groups the flags shared by every subcommand so each cmd can embed
// only the ones relevant to it.
type FlagSet struct {
	RelayURL    *string
	RelayRoom   *string
	ClientSock  *string
	BindAddress *string
	BindPort    *int
	RepoURL     *string
	LogLevel    *string
	Dev         *bool
	RedisAddr   *string
	AllowedOrigins *string
	RateLimitWs    *string
}

// RegisterFlags registers every simulcast-mpv flag on fs and returns
// pointers to their destinations. Subcommands that don't use a given flag
// simply ignore its pointer.
func RegisterFlags(fs *flag.FlagSet) *FlagSet {
	return &FlagSet{
		RelayURL:    fs.String("relay-url", "", "relay WebSocket URL (default: built-in public relay)"),
		RelayRoom:   fs.String("relay-room", "", "shared room secret mixed into the RoomId hash"),
		ClientSock:  fs.String("client-sock", "", "path to the player's IPC socket or named pipe"),
		BindAddress: fs.String("bind-address", "", "relay bind address"),
		BindPort:    fs.Int("bind-port", 0, "relay bind port"),
		RepoURL:     fs.String("repo-url", "", "source code URL surfaced in the relay's hello message (AGPL compliance)"),
		LogLevel:    fs.String("log-level", "", "log level: debug, info, warn, error"),
		Dev:         fs.Bool("dev", false, "enable development-mode colorized logging"),
		RedisAddr:   fs.String("relay-redis-addr", "", "optional Redis address for cross-instance relay fan-out"),
		AllowedOrigins: fs.String("relay-allowed-origins", "", "comma-separated allow-list of browser Origin values"),
		RateLimitWs:    fs.String("relay-rate-limit-ws", "", "WebSocket connect rate limit, ulule/limiter formatted rate"),
	}
}

// Load merges flags, environment variables, and a dotenv file (searched
// relative to playerScriptsDir) into a validated Config. flags may be nil,
// in which case only environment and defaults apply.
func Load(flags *FlagSet, playerScriptsDir string) (*Config, error) {
	loadDotenv(playerScriptsDir)

	cfg := &Config{
		RelayURL:    pick(flagStr(flags, func(f *FlagSet) *string { return f.RelayURL }), "SIMULCAST_RELAY_URL", defaultRelayURL),
		RelayRoom:   pick(flagStr(flags, func(f *FlagSet) *string { return f.RelayRoom }), "SIMULCAST_RELAY_ROOM", defaultRelayRoom),
		ClientSock:  pick(flagStr(flags, func(f *FlagSet) *string { return f.ClientSock }), "SIMULCAST_CLIENT_SOCK", ""),
		BindAddress: pick(flagStr(flags, func(f *FlagSet) *string { return f.BindAddress }), "SIMULCAST_BIND_ADDRESS", defaultBindAddress),
		RepoURL:     pick(flagStr(flags, func(f *FlagSet) *string { return f.RepoURL }), "SIMULCAST_REPO_URL", defaultRepoURL),
		LogLevel:    pick(flagStr(flags, func(f *FlagSet) *string { return f.LogLevel }), "SIMULCAST_LOG_LEVEL", defaultLogLevel),
		RedisAddr:   pick(flagStr(flags, func(f *FlagSet) *string { return f.RedisAddr }), "SIMULCAST_RELAY_REDIS_ADDR", ""),
		RateLimitWsConnect: pick(flagStr(flags, func(f *FlagSet) *string { return f.RateLimitWs }), "SIMULCAST_RELAY_RATE_LIMIT_WS", defaultRateLimitWs),
	}

	origins := pick(flagStr(flags, func(f *FlagSet) *string { return f.AllowedOrigins }), "SIMULCAST_RELAY_ALLOWED_ORIGINS", "")
	if origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
			}
		}
	}

	cfg.Development = os.Getenv("SIMULCAST_DEV") == "true"
	if flags != nil && flags.Dev != nil && *flags.Dev {
		cfg.Development = true
	}

	var errorsList []string

	portStr := pick(flagInt(flags), "SIMULCAST_BIND_PORT", strconv.Itoa(defaultBindPort))
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		errorsList = append(errorsList, fmt.Sprintf("SIMULCAST_BIND_PORT must be a valid port number between 1 and 65535 (got %q)", portStr))
	}
	cfg.BindPort = port

	if len(errorsList) > 0 {
		return nil, fmt.Errorf("config error:\n  - %s", strings.Join(errorsList, "\n  - "))
	}

	logValidatedConfig(cfg)
	return cfg, nil
}

func flagStr(flags *FlagSet, sel func(*FlagSet) *string) string {
	if flags == nil {
		return ""
	}
	if p := sel(flags); p != nil {
		return *p
	}
	return ""
}

func flagInt(flags *FlagSet) string {
	if flags == nil || flags.BindPort == nil || *flags.BindPort == 0 {
		return ""
	}
	return strconv.Itoa(*flags.BindPort)
}

// pick returns the first non-empty value among flagVal, the named
// environment variable, and def, in that precedence order.
func pick(flagVal, envVar, def string) string {
	if flagVal != "" {
		return flagVal
	}
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return def
}

func logValidatedConfig(cfg *Config) {
	slog.Info("configuration validated",
		"relay_url", cfg.RelayURL,
		"bind_address", cfg.BindAddress,
		"bind_port", cfg.BindPort,
		"log_level", cfg.LogLevel,
		"development", cfg.Development,
		"redis_enabled", cfg.RedisAddr != "",
	)
}
