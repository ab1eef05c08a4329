package mwapi

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"cgt.name/pkg/go-mwapi/transport"
)

// ConfigError represents an invalid configuration value.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return "mwapi: configuration error: " + e.Message
}

// Config holds the settings of a Client.
type Config struct {
	// APIURL is the URL of the wiki's api.php.
	APIURL    string `mapstructure:"api_url"`
	UserAgent string `mapstructure:"user_agent"`

	// Credentials used by Login and by the automatic login before writes.
	// Bot passwords (Special:BotPasswords) are recommended.
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`

	// Maxlag is the maxlag value in seconds sent with every request.
	// Zero disables the parameter.
	Maxlag int `mapstructure:"maxlag"`

	// Assert is "", "user" or "bot".
	Assert string `mapstructure:"assert"`

	// LogSensitive logs unredacted request parameters at trace level.
	LogSensitive bool `mapstructure:"log_sensitive"`

	Transport transport.Config `mapstructure:"transport"`

	// Logger to use. Logging is disabled if nil.
	Logger *zerolog.Logger `mapstructure:"-"`
}

// DefaultMaxlag is the maxlag value recommended for bots.
const DefaultMaxlag = 5

// DefaultConfig returns a Config with every default filled in.
func DefaultConfig() Config {
	return Config{
		UserAgent: transport.DefaultUserAgent,
		Maxlag:    DefaultMaxlag,
		Transport: transport.DefaultConfig(),
	}
}

func (c *Config) validate() error {
	if c.APIURL == "" {
		return &ConfigError{"API URL cannot be empty"}
	}
	u, err := url.Parse(c.APIURL)
	if err != nil {
		return &ConfigError{fmt.Sprintf("invalid API URL: %v", err)}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &ConfigError{"API URL must be http or https, got " + c.APIURL}
	}
	if c.Maxlag < 0 {
		return &ConfigError{"maxlag cannot be negative"}
	}
	if _, err := parseAssert(c.Assert); err != nil {
		return err
	}
	return nil
}

// Option configures a Client.
type Option func(*Config) error

// WithUserAgent sets the User-Agent header sent with every request. See
// https://meta.wikimedia.org/wiki/User-Agent_policy.
func WithUserAgent(ua string) Option {
	return func(cfg *Config) error {
		if ua == "" {
			return &ConfigError{"user agent cannot be empty"}
		}
		cfg.UserAgent = ua
		return nil
	}
}

// WithCredentials sets the account used to log in.
func WithCredentials(username, password string) Option {
	return func(cfg *Config) error {
		if username == "" {
			return &ConfigError{"username cannot be empty"}
		}
		cfg.Username, cfg.Password = username, password
		return nil
	}
}

// WithMaxlag sets the maxlag parameter in seconds. Zero disables it.
func WithMaxlag(seconds int) Option {
	return func(cfg *Config) error {
		if seconds < 0 {
			return &ConfigError{"maxlag cannot be negative"}
		}
		cfg.Maxlag = seconds
		return nil
	}
}

// WithAssert sets the assert parameter sent with every request.
func WithAssert(a Assert) Option {
	return func(cfg *Config) error {
		cfg.Assert = a.String()
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(cfg *Config) error {
		cfg.Logger = &logger
		return nil
	}
}

// WithProxy routes all connections through a socks5:// or http:// proxy.
func WithProxy(proxyURL string) Option {
	return func(cfg *Config) error {
		if _, err := url.Parse(proxyURL); err != nil {
			return &ConfigError{fmt.Sprintf("invalid proxy URL: %v", err)}
		}
		cfg.Transport.Proxy = proxyURL
		return nil
	}
}

// WithRetries sets the retry budget and the linear backoff parameters.
func WithRetries(max int, base, step time.Duration) Option {
	return func(cfg *Config) error {
		if max <= 0 {
			return &ConfigError{"max retries must be positive"}
		}
		if base <= 0 || step <= 0 {
			return &ConfigError{"retry delays must be positive"}
		}
		cfg.Transport.MaxRetries = max
		cfg.Transport.RetryBase = base
		cfg.Transport.RetryStep = step
		return nil
	}
}

// WithThrottle sets the waits before GET and POST requests.
func WithThrottle(get, post time.Duration) Option {
	return func(cfg *Config) error {
		if get < 0 || post < 0 {
			return &ConfigError{"throttle cannot be negative"}
		}
		cfg.Transport.GetWait, cfg.Transport.PostWait = get, post
		return nil
	}
}

// WithSleep replaces time.Sleep for every wait of the client.
func WithSleep(sleep func(time.Duration)) Option {
	return func(cfg *Config) error {
		if sleep == nil {
			return &ConfigError{"sleep function cannot be nil"}
		}
		cfg.Transport.Sleep = sleep
		return nil
	}
}

// LoadConfig reads a Config from the YAML (or JSON/TOML) file at path, if
// path is not empty, and from MWAPI_* environment variables, e.g.
// MWAPI_API_URL or MWAPI_TRANSPORT_PROXY. Unset values take their
// defaults.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())
	v.SetEnvPrefix("MWAPI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every key so that environment variables are
// picked up by Unmarshal.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("api_url", d.APIURL)
	v.SetDefault("user_agent", d.UserAgent)
	v.SetDefault("username", d.Username)
	v.SetDefault("password", d.Password)
	v.SetDefault("maxlag", d.Maxlag)
	v.SetDefault("assert", d.Assert)
	v.SetDefault("log_sensitive", d.LogSensitive)

	t := d.Transport
	v.SetDefault("transport.user_agent", t.UserAgent)
	v.SetDefault("transport.stall_window", t.StallWindow)
	v.SetDefault("transport.stall_min_rate", t.StallMinRate)
	v.SetDefault("transport.dial_timeout", t.DialTimeout)
	v.SetDefault("transport.proxy", t.Proxy)
	v.SetDefault("transport.max_retries", t.MaxRetries)
	v.SetDefault("transport.retry_base", t.RetryBase)
	v.SetDefault("transport.retry_step", t.RetryStep)
	v.SetDefault("transport.get_wait", t.GetWait)
	v.SetDefault("transport.post_wait", t.PostWait)
}
