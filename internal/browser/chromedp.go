package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ChromedpEngine drives headless Chrome via chromedp.
type ChromedpEngine struct {
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	logger          *zap.Logger
	sem             chan struct{}
	domainQPS       float64
	domainLimiters  sync.Map
	userAgent       string
}

// NewChromedpEngine starts a shared browser process and verifies it is usable.
func NewChromedpEngine(cfg Config, logger *zap.Logger) (*ChromedpEngine, error) {
	if cfg.MaxSessions <= 0 {
		return nil, ErrEngineDisabled
	}

	opts := chromedp.DefaultExecAllocatorOptions[:]
	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocatorCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	return &ChromedpEngine{
		allocatorCancel: allocatorCancel,
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
		logger:          logger,
		sem:             make(chan struct{}, cfg.MaxSessions),
		domainQPS:       cfg.DomainQPS,
		userAgent:       cfg.UserAgent,
	}, nil
}

// Close tears down the chromedp allocator and browser contexts.
func (e *ChromedpEngine) Close(ctx context.Context) error {
	if e == nil {
		return nil
	}
	e.browserCancel()
	e.allocatorCancel()
	select {
	case <-ctx.Done():
	default:
	}
	return nil
}

// NewSession opens a tab, blocking until a concurrency slot is available.
func (e *ChromedpEngine) NewSession(ctx context.Context) (Session, error) {
	if e == nil {
		return nil, ErrEngineDisabled
	}
	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire session slot: %w", ctx.Err())
	}

	tabCtx, cancelTab := chromedp.NewContext(e.browserCtx)
	s := &chromedpSession{
		engine:    e,
		tabCtx:    tabCtx,
		cancelTab: cancelTab,
		meta:      newResponseMeta(),
	}
	s.listenResponses()
	return s, nil
}

func (e *ChromedpEngine) waitDomainBudget(ctx context.Context, rawURL string) error {
	if e.domainQPS <= 0 {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse navigation url: %w", err)
	}
	host := strings.ToLower(parsed.Host)
	val, _ := e.domainLimiters.LoadOrStore(host, rate.NewLimiter(rate.Limit(e.domainQPS), 1))
	limiter, ok := val.(*rate.Limiter)
	if !ok {
		return fmt.Errorf("unexpected limiter type %T", val)
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait limiter: %w", err)
	}
	return nil
}

type chromedpSession struct {
	engine    *ChromedpEngine
	tabCtx    context.Context
	cancelTab context.CancelFunc
	meta      *responseMeta
	closeOnce sync.Once
}

func (s *chromedpSession) Navigate(ctx context.Context, rawURL string) error {
	if err := s.engine.waitDomainBudget(ctx, rawURL); err != nil {
		return fmt.Errorf("navigation rate limit: %w", err)
	}

	stopForward := forwardCancel(ctx, s.cancelTab)
	defer stopForward()

	s.meta.reset()
	start := time.Now()
	tasks := chromedp.Tasks{
		network.Enable(),
	}
	if s.engine.userAgent != "" {
		tasks = append(tasks, emulation.SetUserAgentOverride(s.engine.userAgent))
	}
	tasks = append(tasks,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err := chromedp.Run(s.tabCtx, tasks); err != nil {
		return fmt.Errorf("navigate %s: %w", rawURL, err)
	}
	s.meta.setLoadTime(time.Since(start))
	return nil
}

func (s *chromedpSession) HTML(ctx context.Context) (string, error) {
	stopForward := forwardCancel(ctx, s.cancelTab)
	defer stopForward()

	var html string
	if err := chromedp.Run(s.tabCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("outer html: %w", err)
	}
	return html, nil
}

func (s *chromedpSession) Evaluate(ctx context.Context, expr string, out any) error {
	stopForward := forwardCancel(ctx, s.cancelTab)
	defer stopForward()

	var raw json.RawMessage
	if err := chromedp.Run(s.tabCtx, chromedp.Evaluate(expr, &raw)); err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode evaluate result: %w", err)
	}
	return nil
}

func (s *chromedpSession) Screenshot(ctx context.Context) ([]byte, error) {
	stopForward := forwardCancel(ctx, s.cancelTab)
	defer stopForward()

	var buf []byte
	if err := chromedp.Run(s.tabCtx, chromedp.FullScreenshot(&buf, 90)); err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return buf, nil
}

func (s *chromedpSession) Info() PageInfo {
	return s.meta.snapshot()
}

func (s *chromedpSession) Close() error {
	s.closeOnce.Do(func() {
		s.cancelTab()
		<-s.engine.sem
	})
	return nil
}

func (s *chromedpSession) listenResponses() {
	chromedp.ListenTarget(s.tabCtx, func(ev interface{}) {
		resp, ok := ev.(*network.EventResponseReceived)
		if !ok || resp.Type != network.ResourceTypeDocument {
			return
		}
		s.meta.record(int(resp.Response.Status), resp.Response.URL, resp.Response.Headers)
	})
}

// responseMeta keeps the first document response seen after each navigation.
type responseMeta struct {
	mu         sync.Mutex
	recorded   bool
	statusCode int
	url        string
	headers    http.Header
	loadTime   time.Duration
}

func newResponseMeta() *responseMeta {
	return &responseMeta{headers: make(http.Header)}
}

func (m *responseMeta) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recorded = false
	m.statusCode = 0
	m.url = ""
	m.headers = make(http.Header)
	m.loadTime = 0
}

func (m *responseMeta) record(status int, rawURL string, headers map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recorded {
		return
	}
	m.recorded = true
	m.statusCode = status
	m.url = rawURL
	for k, v := range headers {
		m.headers.Add(k, fmt.Sprint(v))
	}
}

func (m *responseMeta) setLoadTime(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadTime = d
}

func (m *responseMeta) snapshot() PageInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	headers := make(http.Header, len(m.headers))
	for k, v := range m.headers {
		headers[k] = append([]string(nil), v...)
	}
	return PageInfo{
		URL:        m.url,
		StatusCode: m.statusCode,
		Headers:    headers,
		LoadTime:   m.loadTime,
	}
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
