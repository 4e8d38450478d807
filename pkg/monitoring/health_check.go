package monitoring

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/core-tools/hsu-launcher/pkg/logging"

	"github.com/go-resty/resty/v2"
)

// Check is a single HTTP endpoint with its own time budget
type Check struct {
	URL     string
	Timeout time.Duration
}

type ProbeResult struct {
	Healthy bool
	// URL is the endpoint that answered, when healthy
	URL     string
	Message string
	Elapsed time.Duration
}

// Prober evaluates an ordered list of checks; the first 2xx wins
type Prober interface {
	Probe(ctx context.Context, checks []Check) ProbeResult
}

// ProbeObserver receives per-check outcomes, e.g. for metrics
type ProbeObserver func(url string, healthy bool, elapsed time.Duration)

type HTTPProberOptions struct {
	// DefaultTimeout applies to checks that carry no timeout of their own
	DefaultTimeout time.Duration
	UserAgent      string
	Observer       ProbeObserver
}

type httpProber struct {
	client  *resty.Client
	options HTTPProberOptions
	logger  logging.Logger
}

func NewHTTPProber(options HTTPProberOptions, logger logging.Logger) Prober {
	if options.DefaultTimeout <= 0 {
		options.DefaultTimeout = 5 * time.Second
	}
	if options.UserAgent == "" {
		options.UserAgent = "hsu-launcher-prober/1.0"
	}

	client := resty.New().
		SetRetryCount(0).
		SetHeader("User-Agent", options.UserAgent).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(5))

	return &httpProber{
		client:  client,
		options: options,
		logger:  logger,
	}
}

func (p *httpProber) Probe(ctx context.Context, checks []Check) ProbeResult {
	start := time.Now()

	if len(checks) == 0 {
		return ProbeResult{Healthy: false, Message: "no health checks", Elapsed: 0}
	}

	lastMessage := ""
	for _, check := range checks {
		if err := ctx.Err(); err != nil {
			lastMessage = fmt.Sprintf("probe cancelled: %v", err)
			break
		}

		healthy, message := p.checkHTTP(ctx, check)
		if healthy {
			return ProbeResult{Healthy: true, URL: check.URL, Message: message, Elapsed: time.Since(start)}
		}
		lastMessage = message
	}

	return ProbeResult{Healthy: false, Message: lastMessage, Elapsed: time.Since(start)}
}

func (p *httpProber) checkHTTP(ctx context.Context, check Check) (bool, string) {
	timeout := check.Timeout
	if timeout <= 0 {
		timeout = p.options.DefaultTimeout
	}

	p.logger.Debugf("Performing HTTP health check, url: %s, timeout: %v", check.URL, timeout)

	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	resp, err := p.client.R().SetContext(checkCtx).Get(check.URL)
	elapsed := time.Since(start)

	if err != nil {
		p.observe(check.URL, false, elapsed)
		p.logger.Debugf("HTTP health check failed, url: %s, error: %v", check.URL, err)
		return false, fmt.Sprintf("%s: %v", check.URL, err)
	}

	status := resp.StatusCode()
	if status >= http.StatusOK && status < http.StatusMultipleChoices {
		p.observe(check.URL, true, elapsed)
		return true, fmt.Sprintf("%s: HTTP %d", check.URL, status)
	}

	p.observe(check.URL, false, elapsed)
	p.logger.Debugf("HTTP health check unhealthy, url: %s, status: %d", check.URL, status)
	return false, fmt.Sprintf("%s: HTTP %d", check.URL, status)
}

func (p *httpProber) observe(url string, healthy bool, elapsed time.Duration) {
	if p.options.Observer != nil {
		p.options.Observer(url, healthy, elapsed)
	}
}
