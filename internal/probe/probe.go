// Package probe performs plain HTTP checks against a target without a browser.
package probe

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
)

// TLSInfo summarizes the TLS session observed during a probe.
type TLSInfo struct {
	Version     string    `json:"version"`
	CipherSuite string    `json:"cipher_suite"`
	CertIssuer  string    `json:"cert_issuer,omitempty"`
	CertExpiry  time.Time `json:"cert_expiry,omitempty"`
}

// Result is what one probe observed.
type Result struct {
	URL        string        `json:"url"`
	StatusCode int           `json:"status_code"`
	Headers    http.Header   `json:"headers"`
	TLS        *TLSInfo      `json:"tls,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Prober issues a single GET and reports transport-level findings.
type Prober interface {
	Probe(ctx context.Context, rawURL string) (Result, error)
}

// Config controls prober behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// CollyProber implements Prober using a Colly collector.
type CollyProber struct {
	cfg           Config
	baseCollector *colly.Collector
	base          http.RoundTripper
}

// New builds a CollyProber.
func New(cfg Config) *CollyProber {
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true

	return &CollyProber{
		cfg:           cfg,
		baseCollector: c,
		base:          newHTTPTransport(),
	}
}

// Probe executes a single HTTP GET and returns response and TLS metadata.
func (p *CollyProber) Probe(ctx context.Context, rawURL string) (Result, error) {
	var (
		result   Result
		probeErr error
	)
	start := time.Now()

	collector := p.baseCollector.Clone()
	if p.cfg.UserAgent != "" {
		collector.UserAgent = p.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = true
	timeout := p.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)
	// A transport per probe: colly rewrites the request URL while normalizing
	// it, so TLS state is tied to the in-flight probe rather than keyed by URL.
	rec := &tlsRecordingTransport{base: p.base}
	collector.WithTransport(rec)

	collector.OnResponse(func(r *colly.Response) {
		result = Result{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Duration:   time.Since(start),
		}
	})
	collector.OnError(func(_ *colly.Response, err error) {
		probeErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return Result{}, fmt.Errorf("probe canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return Result{}, fmt.Errorf("probe visit failed: %w", err)
		}
		if probeErr != nil {
			return Result{}, fmt.Errorf("probe response failed: %w", probeErr)
		}
	}

	result.TLS = rec.take()
	return result, nil
}

// tlsRecordingTransport remembers the TLS state of the most recent response.
// With one transport per probe that is the final hop of the request, redirects
// included.
type tlsRecordingTransport struct {
	base http.RoundTripper
	mu   sync.Mutex
	last *TLSInfo
}

func (t *tlsRecordingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil || resp.TLS == nil {
		return resp, err
	}

	info := &TLSInfo{
		Version:     tls.VersionName(resp.TLS.Version),
		CipherSuite: tls.CipherSuiteName(resp.TLS.CipherSuite),
	}
	if len(resp.TLS.PeerCertificates) > 0 {
		cert := resp.TLS.PeerCertificates[0]
		info.CertIssuer = cert.Issuer.CommonName
		info.CertExpiry = cert.NotAfter
	}

	t.mu.Lock()
	t.last = info
	t.mu.Unlock()
	return resp, nil
}

func (t *tlsRecordingTransport) take() *TLSInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	info := t.last
	t.last = nil
	return info
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
