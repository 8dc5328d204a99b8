package httpflow

import (
	"crypto/tls"
	"net/http"
	"time"

	"github.com/wesleyorama2/surge/internal/config"
)

// ClientConfig holds HTTP client configuration for VUs.
type ClientConfig struct {
	// MaxIdleConns is the maximum number of idle connections across all hosts
	MaxIdleConns int

	// MaxIdleConnsPerHost is the maximum idle connections per host
	MaxIdleConnsPerHost int

	// MaxConnsPerHost limits total connections per host (0 = unlimited)
	MaxConnsPerHost int

	IdleConnTimeout time.Duration

	// DisableKeepAlives closes every connection after one request
	DisableKeepAlives bool

	InsecureSkipVerify bool
}

// DefaultClientConfig returns defaults suited to load testing.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		MaxIdleConns:        1000,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}
}

// ClientConfigFrom derives a client configuration from test settings. With
// noReuse every client it describes opens a fresh connection per request.
func ClientConfigFrom(s *config.GlobalSettings, noReuse bool) ClientConfig {
	cfg := DefaultClientConfig()
	if s != nil {
		if s.MaxIdleConnsPerHost > 0 {
			cfg.MaxIdleConnsPerHost = s.MaxIdleConnsPerHost
		}
		cfg.MaxConnsPerHost = s.MaxConnectionsPerHost
		cfg.InsecureSkipVerify = s.InsecureSkipVerify
	}
	cfg.DisableKeepAlives = noReuse
	return cfg
}

// NewClient builds an HTTP client. Request timeouts are applied per request
// through the context, so the client itself has none.
func NewClient(cfg ClientConfig) *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		DisableKeepAlives:   cfg.DisableKeepAlives,
		ForceAttemptHTTP2:   true,
	}
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	return &http.Client{Transport: transport}
}
