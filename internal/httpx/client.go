// Package httpx provides shared HTTP clients with connection pooling.
package httpx

import (
	"crypto/tls"
	"net"
	"net/http"
	"sync"
	"time"
)

// UserAgent mimics a desktop browser; AllAnime rejects obvious bots.
const UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:109.0) Gecko/20100101 Firefox/121.0"

var (
	sharedClient     *http.Client
	sharedClientOnce sync.Once

	fastClient     *http.Client
	fastClientOnce sync.Once
)

type clientConfig struct {
	timeout             time.Duration
	maxIdleConns        int
	maxIdleConnsPerHost int
	maxConnsPerHost     int
	idleConnTimeout     time.Duration
	tlsHandshakeTimeout time.Duration
	expectContinue      time.Duration
	keepAlive           time.Duration
	dialTimeout         time.Duration
}

func defaultConfig() clientConfig {
	return clientConfig{
		timeout:             30 * time.Second,
		maxIdleConns:        100,
		maxIdleConnsPerHost: 10,
		maxConnsPerHost:     30,
		idleConnTimeout:     120 * time.Second,
		tlsHandshakeTimeout: 5 * time.Second,
		expectContinue:      1 * time.Second,
		keepAlive:           30 * time.Second,
		dialTimeout:         5 * time.Second,
	}
}

func fastConfig() clientConfig {
	cfg := defaultConfig()
	cfg.timeout = 15 * time.Second
	cfg.idleConnTimeout = 90 * time.Second
	cfg.expectContinue = 500 * time.Millisecond
	return cfg
}

func newTransport(cfg clientConfig) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.dialTimeout,
			KeepAlive: cfg.keepAlive,
		}).DialContext,
		MaxIdleConns:          cfg.maxIdleConns,
		MaxIdleConnsPerHost:   cfg.maxIdleConnsPerHost,
		MaxConnsPerHost:       cfg.maxConnsPerHost,
		IdleConnTimeout:       cfg.idleConnTimeout,
		TLSHandshakeTimeout:   cfg.tlsHandshakeTimeout,
		ExpectContinueTimeout: cfg.expectContinue,
		ForceAttemptHTTP2:     true,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}
}

// SharedClient returns the pooled client for general requests
// (provider manifests, bulk fetches).
func SharedClient() *http.Client {
	sharedClientOnce.Do(func() {
		cfg := defaultConfig()
		sharedClient = &http.Client{
			Transport: newTransport(cfg),
			Timeout:   cfg.timeout,
		}
	})
	return sharedClient
}

// FastClient returns the pooled client for lightweight API calls.
func FastClient() *http.Client {
	fastClientOnce.Do(func() {
		cfg := fastConfig()
		fastClient = &http.Client{
			Transport: newTransport(cfg),
			Timeout:   cfg.timeout,
		}
	})
	return fastClient
}
