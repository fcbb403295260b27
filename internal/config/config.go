// Package config loads and validates application configuration from YAML files
// and environment variables.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Navigator     NavigatorConfig     `yaml:"navigator"`
	API           APIConfig           `yaml:"api"`
	Storage       StorageConfig       `yaml:"storage"`
	Sidebar       SidebarConfig       `yaml:"sidebar"`
	Auth          AuthConfig          `yaml:"auth"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig describes the driver API HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// NavigatorConfig describes the SPA navigation engine.
type NavigatorConfig struct {
	// BaseURL is the origin of the TALON web application. Relative link
	// targets are resolved against it.
	BaseURL   string `yaml:"base_url"`
	StartPath string `yaml:"start_path"`
	LoginPath string `yaml:"login_path"`

	RequestTimeout time.Duration `yaml:"request_timeout"`

	Selectors SelectorConfig `yaml:"selectors"`
	Intercept InterceptConfig `yaml:"intercept"`
	Cache     CacheConfig     `yaml:"cache"`
	Prefetch  PrefetchConfig  `yaml:"prefetch"`

	// AlwaysForceRoutes are path fragments whose content must never be
	// served from or written to any cache.
	AlwaysForceRoutes []string `yaml:"always_force_routes"`

	HistoryLimit       int           `yaml:"history_limit"`
	ScrollToTop        bool          `yaml:"scroll_to_top"`
	FadeDuration       time.Duration `yaml:"fade_duration"`
	ErrorFallbackDelay time.Duration `yaml:"error_fallback_delay"`
	MaxRedirects       int           `yaml:"max_redirects"`
	AssetWaitTimeout   time.Duration `yaml:"asset_wait_timeout"`
	ReadinessTimeout   time.Duration `yaml:"readiness_timeout"`
	PageWasRefreshed   bool          `yaml:"page_was_refreshed"`
	WarmMenuRoutes     bool          `yaml:"warm_menu_routes"`
}

// SelectorConfig names the regions located in server-rendered pages.
type SelectorConfig struct {
	MainContent string `yaml:"main_content"`
	Breadcrumb  string `yaml:"breadcrumb"`
	Flash       string `yaml:"flash"`
}

// InterceptConfig describes which links and forms stay on native navigation.
type InterceptConfig struct {
	ExcludedPaths    []string `yaml:"excluded_paths"`
	BinaryExtensions []string `yaml:"binary_extensions"`
}

// CacheConfig describes cache settings.
type CacheConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
}

// PrefetchConfig describes hover/touch prefetching.
type PrefetchConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Debounce time.Duration `yaml:"debounce"`
}

// APIConfig describes the entity REST backend used by the page modules.
type APIConfig struct {
	// Source selects the data source: "http" or "fixtures".
	Source         string               `yaml:"source"`
	BaseURL        string               `yaml:"base_url"`
	FixturesFile   string               `yaml:"fixtures_file"`
	Timeout        time.Duration        `yaml:"timeout"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Retry          RetryConfig          `yaml:"retry"`
}

// CircuitBreakerConfig describes circuit breaker settings.
type CircuitBreakerConfig struct {
	FailureThreshold   int           `yaml:"failure_threshold"`
	SuccessThreshold   int           `yaml:"success_threshold"`
	Timeout            time.Duration `yaml:"timeout"`
	ErrorRateThreshold float64       `yaml:"error_rate_threshold"`
	ErrorRateWindow    time.Duration `yaml:"error_rate_window"`
}

// RetryConfig describes retry settings for idempotent entity reads.
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	BackoffInitial time.Duration `yaml:"backoff_initial"`
}

// StorageConfig selects the backends for persisted client state.
type StorageConfig struct {
	Local   StoreConfig `yaml:"local"`
	Session StoreConfig `yaml:"session"`
}

// StoreConfig describes one key-value store.
type StoreConfig struct {
	// Driver is one of "memory", "sqlite" or "redis".
	Driver  string `yaml:"driver"`
	Path    string `yaml:"path"`
	AddrEnv string `yaml:"addr_env"`
	DB      int    `yaml:"db"`
	Prefix  string `yaml:"prefix"`
}

// SidebarConfig describes the sidebar menu and role detection.
type SidebarConfig struct {
	MenuFile    string `yaml:"menu_file"`
	DefaultRole string `yaml:"default_role"`
	// Role is the injected role, the first source consulted by detection.
	Role string `yaml:"role"`
}

// AuthConfig describes bearer authentication for the driver API.
type AuthConfig struct {
	Enabled   bool   `yaml:"enabled"`
	SecretEnv string `yaml:"secret_env"`
	Issuer    string `yaml:"issuer"`
	RoleClaim string `yaml:"role_claim"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel  string        `yaml:"log_level"`
	LogFormat string        `yaml:"log_format"` // json or console
	Tracing   TracingConfig `yaml:"tracing"`
	Metrics   MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8090,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			HandlerTimeout:  25 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Navigator: NavigatorConfig{
			StartPath:      "/dashboard",
			LoginPath:      "/auth/login",
			RequestTimeout: 15 * time.Second,
			Selectors: SelectorConfig{
				MainContent: "#main-content",
				Breadcrumb:  ".breadcrumb",
				Flash:       "#flash-messages",
			},
			Intercept: InterceptConfig{
				ExcludedPaths: []string{"/logout", "/login", "/download", "/export"},
				BinaryExtensions: []string{
					".pdf", ".zip", ".doc", ".docx", ".xls", ".xlsx", ".csv", ".ppt", ".pptx",
					".png", ".jpg", ".jpeg", ".gif", ".svg", ".mp4", ".mp3",
					".tar", ".gz", ".rar", ".7z",
				},
			},
			Cache: CacheConfig{
				TTL:        5 * time.Minute,
				MaxEntries: 50,
			},
			Prefetch: PrefetchConfig{
				Enabled:  true,
				Debounce: 200 * time.Millisecond,
			},
			AlwaysForceRoutes:  []string{"/admin/dashboard"},
			HistoryLimit:       50,
			ScrollToTop:        true,
			FadeDuration:       150 * time.Millisecond,
			ErrorFallbackDelay: 1500 * time.Millisecond,
			MaxRedirects:       5,
			AssetWaitTimeout:   5 * time.Second,
			ReadinessTimeout:   8 * time.Second,
		},
		API: APIConfig{
			Source:  "http",
			Timeout: 10 * time.Second,
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				SuccessThreshold: 2,
				Timeout:          30 * time.Second,
			},
			Retry: RetryConfig{
				MaxAttempts:    2,
				BackoffInitial: 100 * time.Millisecond,
			},
		},
		Storage: StorageConfig{
			Local:   StoreConfig{Driver: "memory"},
			Session: StoreConfig{Driver: "memory"},
		},
		Sidebar: SidebarConfig{
			DefaultRole: "GUEST",
		},
		Auth: AuthConfig{
			SecretEnv: "TALON_AUTH_SECRET",
			RoleClaim: "role",
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML config file, applies environment variable overrides,
// and validates required fields.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if c.Navigator.BaseURL == "" {
		errs = append(errs, "navigator.base_url is required")
	} else if u, err := url.Parse(c.Navigator.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, "navigator.base_url must be an absolute URL")
	}
	if !strings.HasPrefix(c.Navigator.LoginPath, "/") {
		errs = append(errs, "navigator.login_path must start with /")
	}
	if c.Navigator.Cache.MaxEntries < 1 {
		errs = append(errs, "navigator.cache.max_entries must be positive")
	}
	if c.Navigator.HistoryLimit < 1 {
		errs = append(errs, "navigator.history_limit must be positive")
	}

	switch c.API.Source {
	case "http":
		if c.API.BaseURL == "" {
			errs = append(errs, "api.base_url is required when api.source is http")
		}
	case "fixtures":
		if c.API.FixturesFile == "" {
			errs = append(errs, "api.fixtures_file is required when api.source is fixtures")
		}
	default:
		errs = append(errs, fmt.Sprintf("api.source %q is not one of http, fixtures", c.API.Source))
	}

	for name, s := range map[string]StoreConfig{"local": c.Storage.Local, "session": c.Storage.Session} {
		switch s.Driver {
		case "memory", "":
		case "sqlite":
			if s.Path == "" {
				errs = append(errs, fmt.Sprintf("storage.%s.path is required for sqlite", name))
			}
		case "redis":
			if s.AddrEnv == "" {
				errs = append(errs, fmt.Sprintf("storage.%s.addr_env is required for redis", name))
			}
		default:
			errs = append(errs, fmt.Sprintf("storage.%s.driver %q is not supported", name, s.Driver))
		}
	}

	switch c.Observability.LogFormat {
	case "json", "console", "":
	default:
		errs = append(errs, fmt.Sprintf("observability.log_format %q is not one of json, console", c.Observability.LogFormat))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// applyEnvOverrides reads TALON_* environment variables and overrides config
// values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TALON_SERVER_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("TALON_NAVIGATOR_BASE_URL"); v != "" {
		cfg.Navigator.BaseURL = v
	}
	if v := os.Getenv("TALON_API_BASE_URL"); v != "" {
		cfg.API.BaseURL = v
	}
	if v := os.Getenv("TALON_API_SOURCE"); v != "" {
		cfg.API.Source = v
	}
	if v := os.Getenv("TALON_SIDEBAR_ROLE"); v != "" {
		cfg.Sidebar.Role = v
	}
	if v := os.Getenv("TALON_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
	if v := os.Getenv("TALON_OBSERVABILITY_LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}
