package transport

import (
	"crypto/tls"
	"time"
)

// Defaults for Config.
const (
	DefaultUserAgent    = "go-mwapi (https://cgt.name/pkg/go-mwapi)"
	DefaultStallWindow  = 120 * time.Second
	DefaultStallMinRate = 1 // bytes per second
	DefaultDialTimeout  = 30 * time.Second
	DefaultMaxRetries   = 8
	DefaultRetryBase    = 5 * time.Second
	DefaultRetryStep    = 1500 * time.Millisecond
	DefaultGetWait      = 200 * time.Millisecond
	DefaultPostWait     = 1 * time.Second
)

// Config configures an Executor and its RetryPolicy. The zero value of
// a field selects its default, see DefaultConfig.
type Config struct {
	UserAgent string `mapstructure:"user_agent"`

	// The stall guard aborts a transfer that moves fewer than
	// StallMinRate bytes per second for longer than StallWindow.
	StallWindow  time.Duration `mapstructure:"stall_window"`
	StallMinRate int64         `mapstructure:"stall_min_rate"`

	DialTimeout time.Duration `mapstructure:"dial_timeout"`

	// Proxy is an optional socks5:// or http:// proxy URL.
	Proxy     string      `mapstructure:"proxy"`
	TLSConfig *tls.Config `mapstructure:"-"`

	MaxRetries int           `mapstructure:"max_retries"`
	RetryBase  time.Duration `mapstructure:"retry_base"`
	RetryStep  time.Duration `mapstructure:"retry_step"`

	// Throttle waits before every request but the first one of a client.
	GetWait  time.Duration `mapstructure:"get_wait"`
	PostWait time.Duration `mapstructure:"post_wait"`

	// Sleep performs every wait. Nil means time.Sleep.
	Sleep func(time.Duration) `mapstructure:"-"`
}

// DefaultConfig returns a Config with every default filled in.
func DefaultConfig() Config {
	return Config{
		UserAgent:    DefaultUserAgent,
		StallWindow:  DefaultStallWindow,
		StallMinRate: DefaultStallMinRate,
		DialTimeout:  DefaultDialTimeout,
		MaxRetries:   DefaultMaxRetries,
		RetryBase:    DefaultRetryBase,
		RetryStep:    DefaultRetryStep,
		GetWait:      DefaultGetWait,
		PostWait:     DefaultPostWait,
		Sleep:        time.Sleep,
	}
}

// withDefaults fills zero fields of c from DefaultConfig. Wait durations
// are left alone, since zero is a meaningful choice for them.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.UserAgent == "" {
		c.UserAgent = d.UserAgent
	}
	if c.StallWindow <= 0 {
		c.StallWindow = d.StallWindow
	}
	if c.StallMinRate <= 0 {
		c.StallMinRate = d.StallMinRate
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = d.DialTimeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.RetryBase <= 0 {
		c.RetryBase = d.RetryBase
	}
	if c.RetryStep <= 0 {
		c.RetryStep = d.RetryStep
	}
	if c.Sleep == nil {
		c.Sleep = time.Sleep
	}
	return c
}
