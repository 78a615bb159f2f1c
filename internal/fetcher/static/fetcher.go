// Package static implements the plain HTTP fetch backend using Colly.
package static

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/scraperd/scraperd/internal/scraper"
)

// Config controls collector behavior. When UserAgents is non-empty the
// fetcher rotates through it round-robin, one identity per request;
// otherwise UserAgent is used for every request.
type Config struct {
	UserAgent    string
	UserAgents   []string
	Timeout      time.Duration
	MaxRedirects int
}

// Fetcher implements scraper.Fetcher over a connection-reusing HTTP
// client via the Colly collector.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
	uaCursor      atomic.Uint64
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = 10
	}

	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	transport := newHTTPTransport()
	c.WithTransport(transport)

	return &Fetcher{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
	}
}

// Fetch executes a single HTTP GET and classifies any failure into the
// FetchError taxonomy.
func (f *Fetcher) Fetch(ctx context.Context, request scraper.FetchRequest) (scraper.FetchResponse, error) {
	var (
		result    scraper.FetchResponse
		statusErr *scraper.FetchError
	)

	timeout := request.Timeout
	if timeout <= 0 {
		timeout = f.cfg.Timeout
	}

	collector := f.baseCollector.Clone()
	collector.WithTransport(f.transport)
	if ua := f.nextUserAgent(); ua != "" {
		collector.UserAgent = ua
	}
	collector.IgnoreRobotsTxt = true
	collector.SetRequestTimeout(timeout)
	maxRedirects := f.cfg.MaxRedirects
	collector.SetRedirectHandler(func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		return nil
	})

	start := time.Now()
	collector.OnResponse(func(r *colly.Response) {
		result = scraper.FetchResponse{
			URL:        request.URL,
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    *r.Headers,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			statusErr = scraper.NewHTTPStatusError(request.URL, r.StatusCode)
			return
		}
		statusErr = classifyTransport(request.URL, err)
	})

	if err := f.visit(ctx, collector, request.URL); err != nil {
		if statusErr != nil {
			return scraper.FetchResponse{}, statusErr
		}
		return scraper.FetchResponse{}, classifyTransport(request.URL, err)
	}
	if statusErr != nil {
		return scraper.FetchResponse{}, statusErr
	}
	return result, nil
}

func (f *Fetcher) nextUserAgent() string {
	if len(f.cfg.UserAgents) == 0 {
		return f.cfg.UserAgent
	}
	n := f.uaCursor.Add(1) - 1
	return f.cfg.UserAgents[n%uint64(len(f.cfg.UserAgents))]
}

func (f *Fetcher) visit(ctx context.Context, collector *colly.Collector, url string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// classifyTransport maps transport-level failures onto the taxonomy:
// deadline overruns become Timeout, everything else Network.
func classifyTransport(url string, err error) *scraper.FetchError {
	if err == nil {
		return scraper.NewFetchError(scraper.FetchNetwork, url, errors.New("fetch failed"))
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return scraper.NewFetchError(scraper.FetchTimeout, url, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return scraper.NewFetchError(scraper.FetchTimeout, url, err)
	}
	return scraper.NewFetchError(scraper.FetchNetwork, url, err)
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
