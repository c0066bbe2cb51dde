package source

import (
	"errors"
	"net/url"
	"time"
)

// Config holds configuration for the loan-origination source API
type Config struct {
	// BaseURL is the API root, e.g. https://api.example.com
	BaseURL string
	// Timeout is the per-request HTTP timeout
	Timeout time.Duration
	// PageInterval is the minimum spacing between page requests
	PageInterval time.Duration
	// WindowConcurrency bounds how many calendar-year sub-windows are fetched at once
	WindowConcurrency int
	// MaxPages caps the pages followed for one sub-window
	MaxPages int
	// MaxResponseBytes caps how much of a response body is read
	MaxResponseBytes int64
}

const (
	defaultTimeout          = 30 * time.Second
	defaultPageInterval     = 150 * time.Millisecond
	defaultMaxPages         = 1000
	defaultMaxResponseBytes = 32 * 1024 * 1024
	maxWindowConcurrency    = 4
)

// Errors for source configuration
var (
	ErrConfigMissingBaseURL = errors.New("source: base url is required")
	ErrConfigInvalidBaseURL = errors.New("source: base url must be an absolute http(s) url")
)

// Validate validates the configuration and fills defaults
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return ErrConfigMissingBaseURL
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrConfigInvalidBaseURL
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.PageInterval <= 0 {
		c.PageInterval = defaultPageInterval
	}
	if c.WindowConcurrency <= 0 {
		c.WindowConcurrency = 1
	}
	if c.WindowConcurrency > maxWindowConcurrency {
		c.WindowConcurrency = maxWindowConcurrency
	}
	if c.MaxPages <= 0 {
		c.MaxPages = defaultMaxPages
	}
	if c.MaxResponseBytes <= 0 {
		c.MaxResponseBytes = defaultMaxResponseBytes
	}
	return nil
}
