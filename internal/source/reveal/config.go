package reveal

import (
	"time"

	"github.com/JakeFAU/trailcam-archiver/internal/staging"
)

// Default endpoints and timings.
const (
	DefaultLoginURL          = "https://account.revealcellcam.com/login"
	DefaultNavigationTimeout = 30 * time.Second
	DefaultSettleTimeout     = 5 * time.Second
	DefaultPollInterval      = 250 * time.Millisecond
	DefaultDownloadTimeout   = 60 * time.Second
	DefaultDialogWait        = 5 * time.Second
	DefaultUserAgent         = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36"
)

// Config controls the browser session.
type Config struct {
	LoginURL       string
	Headless       bool
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int

	// NavigationTimeout bounds page loads and element waits.
	NavigationTimeout time.Duration
	// SettleTimeout is how long an advance may take to show a new record
	// before the session decides it reached the end.
	SettleTimeout time.Duration
	PollInterval  time.Duration
	// RatePerSecond paces advances. Zero disables pacing.
	RatePerSecond   float64
	DownloadTimeout time.Duration
	DialogWait      time.Duration

	Limits staging.Limits
}

func (c Config) withDefaults() Config {
	if c.LoginURL == "" {
		c.LoginURL = DefaultLoginURL
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.ViewportWidth <= 0 || c.ViewportHeight <= 0 {
		c.ViewportWidth, c.ViewportHeight = 1280, 720
	}
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = DefaultNavigationTimeout
	}
	if c.SettleTimeout <= 0 {
		c.SettleTimeout = DefaultSettleTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.DownloadTimeout <= 0 {
		c.DownloadTimeout = DefaultDownloadTimeout
	}
	if c.DialogWait <= 0 {
		c.DialogWait = DefaultDialogWait
	}
	return c
}
