// Package resilience provides the upstream HTTP transport, retry policies and
// circuit breaker used by the gateway.
package resilience

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/proxy"
)

// TransportSettings holds HTTP transport tuning for long-lived streaming calls.
type TransportSettings struct {
	MaxIdleConns          int
	MaxIdleConnsPerHost   int
	IdleConnTimeout       time.Duration
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration
	DialTimeout           time.Duration
	KeepAlive             time.Duration

	H2ReadIdleTimeout time.Duration
	H2PingTimeout     time.Duration
}

var DefaultTransportSettings = TransportSettings{
	MaxIdleConns:          200,
	MaxIdleConnsPerHost:   50,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ResponseHeaderTimeout: 10 * time.Minute, // large prompts can take a while to first byte
	DialTimeout:           30 * time.Second,
	KeepAlive:             30 * time.Second,
	H2ReadIdleTimeout:     30 * time.Second,
	H2PingTimeout:         15 * time.Second,
}

// Transports builds transports from one settings value and caches them by
// proxy URL. The zero proxy maps to a shared direct transport.
type Transports struct {
	settings TransportSettings

	mu    sync.Mutex
	cache map[string]*http.Transport
}

func NewTransports(settings TransportSettings) *Transports {
	return &Transports{settings: settings, cache: make(map[string]*http.Transport)}
}

// Get returns the transport for proxyURL, creating it on first use.
// Supported schemes: http, https, socks5.
func (t *Transports) Get(proxyURL string) (*http.Transport, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if tr := t.cache[proxyURL]; tr != nil {
		return tr, nil
	}

	tr := t.newBase()
	dialer := &net.Dialer{Timeout: t.settings.DialTimeout, KeepAlive: t.settings.KeepAlive}
	tr.DialContext = dialer.DialContext

	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		switch u.Scheme {
		case "socks5", "socks5h":
			var auth *proxy.Auth
			if u.User != nil {
				password, _ := u.User.Password()
				auth = &proxy.Auth{User: u.User.Username(), Password: password}
			}
			socks, err := proxy.SOCKS5("tcp", u.Host, auth, dialer)
			if err != nil {
				return nil, fmt.Errorf("socks5 proxy: %w", err)
			}
			if cd, ok := socks.(proxy.ContextDialer); ok {
				tr.DialContext = cd.DialContext
			} else {
				tr.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
					return socks.Dial(network, addr)
				}
			}
		case "http", "https":
			tr.Proxy = http.ProxyURL(u)
		default:
			return nil, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
		}
	}

	t.cache[proxyURL] = tr
	return tr, nil
}

// Client returns an http.Client over the transport for proxyURL. A zero
// timeout leaves deadlines to the request context, which streaming needs.
func (t *Transports) Client(proxyURL string, timeout time.Duration) (*http.Client, error) {
	tr, err := t.Get(proxyURL)
	if err != nil {
		return nil, err
	}
	return &http.Client{Transport: tr, Timeout: timeout}, nil
}

// CloseIdle closes idle connections on every cached transport.
func (t *Transports) CloseIdle() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, tr := range t.cache {
		tr.CloseIdleConnections()
	}
}

func (t *Transports) newBase() *http.Transport {
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          t.settings.MaxIdleConns,
		MaxIdleConnsPerHost:   t.settings.MaxIdleConnsPerHost,
		IdleConnTimeout:       t.settings.IdleConnTimeout,
		TLSHandshakeTimeout:   t.settings.TLSHandshakeTimeout,
		ResponseHeaderTimeout: t.settings.ResponseHeaderTimeout,
		ExpectContinueTimeout: time.Second,
		ForceAttemptHTTP2:     true,
		// Content-Encoding is decoded by the executor, which also handles br and zstd.
		DisableCompression: true,
		TLSClientConfig:    &tls.Config{MinVersion: tls.VersionTLS12},
		WriteBufferSize:    64 * 1024,
		ReadBufferSize:     64 * 1024,
	}
	if h2, err := http2.ConfigureTransports(tr); err == nil {
		h2.ReadIdleTimeout = t.settings.H2ReadIdleTimeout
		h2.PingTimeout = t.settings.H2PingTimeout
	}
	return tr
}
