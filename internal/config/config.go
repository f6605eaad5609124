// Package config provides configuration parsing and validation for walletlink.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete client configuration.
type Config struct {
	App      AppConfig      `yaml:"app"`
	Wallet   WalletConfig   `yaml:"wallet"`
	Callback CallbackConfig `yaml:"callback"`
	Control  ControlConfig  `yaml:"control"`
	Opener   OpenerConfig   `yaml:"opener"`
	Limits   LimitsConfig   `yaml:"limits"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// AppConfig describes the dapp as presented to the wallet.
type AppConfig struct {
	URL          string `yaml:"url"`           // Sent as app_url and default browse ref
	Cluster      string `yaml:"cluster"`       // mainnet-beta, testnet, devnet
	RedirectBase string `yaml:"redirect_base"` // Prefix of every redirect_link
}

// WalletConfig addresses the wallet deeplink endpoint.
type WalletConfig struct {
	Scheme             string `yaml:"scheme"`               // e.g. solflare, phantom, https
	Host               string `yaml:"host"`                 // e.g. ul, or solflare.com/ul
	Version            string `yaml:"version"`              // API version path segment
	EncryptionKeyParam string `yaml:"encryption_key_param"` // Callback param carrying the wallet key
	Correlate          bool   `yaml:"correlate"`            // Append request ids to redirect links
}

// CallbackConfig defines the local HTTP listener receiving redirects.
type CallbackConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Address        string        `yaml:"address"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	RateLimit      float64       `yaml:"rate_limit"` // Requests per second, 0 = unlimited
	Burst          int           `yaml:"burst"`
	MaxConnections int           `yaml:"max_connections"` // 0 = unlimited
	Events         bool          `yaml:"events"`          // Serve the /events websocket
}

// ControlConfig defines control socket settings.
type ControlConfig struct {
	Enabled    bool   `yaml:"enabled"`
	SocketPath string `yaml:"socket_path"`
}

// OpenerConfig selects how outbound targets are handed to the OS.
type OpenerConfig struct {
	Mode    string `yaml:"mode"`    // system, print, command
	Command string `yaml:"command"` // Executable for mode=command; the URL is appended
}

// LimitsConfig defines resource limits.
type LimitsConfig struct {
	MaxPendingPerMethod int           `yaml:"max_pending_per_method"` // 0 = unlimited
	WaitTimeout         time.Duration `yaml:"wait_timeout"`           // Console wait per request, 0 = forever
}

// LoggingConfig defines log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		App: AppConfig{
			URL:          "https://example.org",
			Cluster:      "devnet",
			RedirectBase: "http://127.0.0.1:8787",
		},
		Wallet: WalletConfig{
			Scheme:             "solflare",
			Host:               "ul",
			Version:            "v1",
			EncryptionKeyParam: "counterparty_encryption_public_key",
			Correlate:          true,
		},
		Callback: CallbackConfig{
			Enabled:        true,
			Address:        "127.0.0.1:8787",
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   10 * time.Second,
			RateLimit:      5,
			Burst:          10,
			MaxConnections: 32,
			Events:         true,
		},
		Control: ControlConfig{
			Enabled:    true,
			SocketPath: "./data/control.sock",
		},
		Opener: OpenerConfig{
			Mode: "system",
		},
		Limits: LimitsConfig{
			MaxPendingPerMethod: 8,
			WaitTimeout:         5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse parses configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// envVarRegex matches ${VAR} or $VAR patterns
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars replaces environment variable references with their values.
func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}

		// ${VAR:-default}
		if idx := strings.Index(name, ":-"); idx != -1 {
			if val, ok := os.LookupEnv(name[:idx]); ok {
				return val
			}
			return name[idx+2:]
		}

		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}

// schemeRegex is the RFC 3986 scheme grammar.
var schemeRegex = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.-]*$`)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	// App
	if u, err := url.Parse(c.App.URL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Sprintf("app.url must be an absolute URL: %q", c.App.URL))
	}
	if !isValidCluster(c.App.Cluster) {
		errs = append(errs, fmt.Sprintf("invalid app.cluster: %s (must be mainnet-beta, testnet, or devnet)", c.App.Cluster))
	}
	redirect, err := url.Parse(c.App.RedirectBase)
	if err != nil || redirect.Scheme == "" {
		errs = append(errs, fmt.Sprintf("app.redirect_base must include a scheme: %q", c.App.RedirectBase))
	} else if isHTTP(redirect.Scheme) && !c.Callback.Enabled {
		errs = append(errs, "callback.enabled is required when app.redirect_base is an http URL")
	}

	// Wallet
	if !schemeRegex.MatchString(c.Wallet.Scheme) {
		errs = append(errs, fmt.Sprintf("invalid wallet.scheme: %q", c.Wallet.Scheme))
	}
	if strings.Trim(c.Wallet.Host, "/") == "" {
		errs = append(errs, "wallet.host is required")
	}
	if strings.Contains(c.Wallet.Version, "/") {
		errs = append(errs, "wallet.version must be a single path segment")
	}
	if c.Wallet.EncryptionKeyParam == "" {
		errs = append(errs, "wallet.encryption_key_param is required")
	}

	// Callback listener
	if c.Callback.Enabled {
		if _, _, err := net.SplitHostPort(c.Callback.Address); err != nil {
			errs = append(errs, fmt.Sprintf("callback.address: %v", err))
		}
		if c.Callback.RateLimit < 0 {
			errs = append(errs, "callback.rate_limit must not be negative")
		}
		if c.Callback.RateLimit > 0 && c.Callback.Burst < 1 {
			errs = append(errs, "callback.burst must be positive when rate_limit is set")
		}
		if c.Callback.MaxConnections < 0 {
			errs = append(errs, "callback.max_connections must not be negative")
		}
	}

	// Control
	if c.Control.Enabled && c.Control.SocketPath == "" {
		errs = append(errs, "control.socket_path is required when enabled")
	}

	// Opener
	switch c.Opener.Mode {
	case "system", "print":
	case "command":
		if c.Opener.Command == "" {
			errs = append(errs, "opener.command is required for mode command")
		}
	default:
		errs = append(errs, fmt.Sprintf("invalid opener.mode: %s (must be system, print, or command)", c.Opener.Mode))
	}

	// Limits
	if c.Limits.MaxPendingPerMethod < 0 {
		errs = append(errs, "limits.max_pending_per_method must not be negative")
	}
	if c.Limits.WaitTimeout < 0 {
		errs = append(errs, "limits.wait_timeout must not be negative")
	}

	// Logging
	if !isValidLogLevel(c.Logging.Level) {
		errs = append(errs, fmt.Sprintf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level))
	}
	if !isValidLogFormat(c.Logging.Format) {
		errs = append(errs, fmt.Sprintf("invalid logging.format: %s (must be text or json)", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

func isValidCluster(cluster string) bool {
	switch cluster {
	case "mainnet-beta", "testnet", "devnet":
		return true
	default:
		return false
	}
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func isValidLogFormat(format string) bool {
	switch format {
	case "text", "json":
		return true
	default:
		return false
	}
}

func isHTTP(scheme string) bool {
	return scheme == "http" || scheme == "https"
}

// ListenerServesRedirects reports whether redirects come back through the
// local HTTP listener rather than an OS-registered custom scheme.
func (c *Config) ListenerServesRedirects() bool {
	u, err := url.Parse(c.App.RedirectBase)
	return err == nil && isHTTP(u.Scheme) && c.Callback.Enabled
}

// Marshal returns the YAML form of the config.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// String returns the YAML form of the config. No field holds key material
// or session state, so nothing is redacted.
func (c *Config) String() string {
	data, _ := c.Marshal()
	return string(data)
}
