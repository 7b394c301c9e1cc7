package scraper

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/aluiziolira/go-scrape-units/config"
)

// HTTPRenderer fetches static HTML with colly. Every Render uses a fresh
// collector, so cookies and visited-URL bookkeeping never leak between pages.
// Consent overlays are injected client side and never appear in the static
// document, so Request.ConsentButton is ignored.
type HTTPRenderer struct {
	host          string
	userAgent     string
	respectRobots bool
	timeout       time.Duration
	transport     http.RoundTripper
}

// NewHTTPRenderer builds an HTTP renderer restricted to the host of cfg.BaseURL.
func NewHTTPRenderer(cfg *config.Config) (*HTTPRenderer, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}

	return &HTTPRenderer{
		host:          parsed.Hostname(),
		userAgent:     cfg.UserAgent,
		respectRobots: cfg.RespectRobotsTxt,
		timeout:       cfg.RenderTimeout,
		transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   cfg.RenderTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: cfg.Concurrency,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}, nil
}

// Render fetches req.URL and extracts the container text and all links.
func (r *HTTPRenderer) Render(ctx context.Context, req Request) (*Page, error) {
	timeout := r.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); timeout <= 0 || remaining < timeout {
			timeout = remaining
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, classifyError(err, 0)
	}
	if timeout <= 0 {
		return nil, ErrTimeout{Err: context.DeadlineExceeded}
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(r.host),
		colly.UserAgent(r.userAgent),
	)
	collector.IgnoreRobotsTxt = !r.respectRobots
	collector.SetRequestTimeout(timeout)
	collector.WithTransport(contextTransport{ctx: ctx, base: r.transport})

	page := &Page{URL: req.URL}
	var (
		statusCode     int
		landmarkFound  bool
		containerFound bool
	)

	collector.OnRequest(func(cr *colly.Request) {
		if ctx.Err() != nil {
			cr.Abort()
		}
	})
	collector.OnResponse(func(resp *colly.Response) {
		statusCode = resp.StatusCode
	})
	collector.OnError(func(resp *colly.Response, err error) {
		if resp != nil {
			statusCode = resp.StatusCode
		}
	})
	if req.Landmark != "" {
		collector.OnHTML(req.Landmark, func(e *colly.HTMLElement) {
			landmarkFound = true
		})
	}
	if req.Container != "" {
		collector.OnHTML(req.Container, func(e *colly.HTMLElement) {
			if containerFound {
				return
			}
			containerFound = true
			page.Text = InnerText(e.DOM)
		})
	}
	collector.OnHTML("a[href]", func(e *colly.HTMLElement) {
		page.Links = append(page.Links, e.Attr("href"))
	})

	err := collector.Visit(req.URL)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, classifyError(ctxErr, 0)
	}
	if err != nil {
		if classified := classifyError(err, statusCode); classified != nil {
			return nil, classified
		}
		return nil, err
	}
	if statusCode >= http.StatusBadRequest {
		return nil, classifyError(fmt.Errorf("http status %d", statusCode), statusCode)
	}
	if req.Landmark != "" && !landmarkFound {
		return nil, fmt.Errorf("%s: %w", req.URL, ErrLandmarkMissing)
	}
	if req.Container != "" && !containerFound {
		return nil, fmt.Errorf("%s: %w", req.URL, ErrContentMissing)
	}
	return page, nil
}

// contextTransport binds outgoing requests to the context of one Render call
// so cancellation interrupts requests already on the wire.
type contextTransport struct {
	ctx  context.Context
	base http.RoundTripper
}

func (t contextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.base.RoundTrip(req.WithContext(t.ctx))
}
