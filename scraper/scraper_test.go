package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/go-cmp/cmp"
	"github.com/jarcoal/httpmock"

	"github.com/aluiziolira/go-scrape-units/config"
)

func TestRetryDelayCapped(t *testing.T) {
	base := 200 * time.Millisecond
	maxDelay := 500 * time.Millisecond

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 0, want: 200 * time.Millisecond},
		{attempt: 1, want: 200 * time.Millisecond},
		{attempt: 2, want: 400 * time.Millisecond},
		{attempt: 3, want: 500 * time.Millisecond},
		{attempt: 40, want: 500 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := retryDelay(tt.attempt, base, maxDelay); got != tt.want {
			t.Fatalf("retryDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
	if got := retryDelay(3, 0, maxDelay); got != 0 {
		t.Fatalf("zero base should disable the delay, got %v", got)
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		statusCode int
		expected   string
	}{
		{name: "nil", err: nil, statusCode: 0, expected: "unknown"},
		{name: "context timeout", err: context.DeadlineExceeded, statusCode: 0, expected: "timeout"},
		{name: "context canceled", err: context.Canceled, statusCode: 0, expected: "canceled"},
		{name: "net timeout", err: &net.DNSError{IsTimeout: true}, statusCode: 0, expected: "timeout"},
		{name: "connection", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, statusCode: 0, expected: "connection"},
		{name: "forbidden", err: nil, statusCode: http.StatusForbidden, expected: "forbidden"},
		{name: "not found", err: nil, statusCode: http.StatusNotFound, expected: "not_found"},
		{name: "rate limited", err: nil, statusCode: http.StatusTooManyRequests, expected: "rate_limited"},
		{name: "landmark", err: fmt.Errorf("page: %w", ErrLandmarkMissing), statusCode: 0, expected: "landmark_missing"},
		{name: "content", err: fmt.Errorf("page: %w", ErrContentMissing), statusCode: 0, expected: "content_missing"},
		{name: "persistence", err: ErrPersistence{Err: errors.New("disk full")}, statusCode: 0, expected: "persistence"},
		{name: "other", err: errors.New("some other error"), statusCode: 0, expected: "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorTypeLabel(classifyError(tt.err, tt.statusCode)); got != tt.expected {
				t.Fatalf("classifyError(%v, %d) = %q, want %q", tt.err, tt.statusCode, got, tt.expected)
			}
		})
	}
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.BaseURL = "http://example.test"
	cfg.RenderTimeout = 5 * time.Second
	cfg.RetryBackoff = 0
	cfg.RetryBackoffMax = 0
	return cfg
}

func newMockedRenderer(t *testing.T, transport http.RoundTripper) *HTTPRenderer {
	t.Helper()
	r, err := NewHTTPRenderer(testConfig())
	if err != nil {
		t.Fatalf("new renderer: %v", err)
	}
	r.transport = transport
	return r
}

func htmlResponder(body string) httpmock.Responder {
	resp := httpmock.NewStringResponse(200, body)
	resp.Header.Set("Content-Type", "text/html")
	return httpmock.ResponderFromResponse(resp)
}

const unitPage = `<html><head><title>Captain</title><script>var tracking = true;</script></head>
<body>
<div class="nav"><a href="/wh40k10ed/factions/space-marines/datasheets.html">Datasheets</a></div>
<div id="wrapper">
  <div class="dsHeader">CAPTAIN</div>
  <div class="dsCharWrap">
    <div>M</div><div>6"</div>
    <div>T</div><div>4</div>
  </div>
  <div class="dsHeader">ABILITIES</div>
  <div>Rites of Battle</div>
  <div>Finest Hour</div>
  <p>Footnote text</p>
  <a href="/wh40k10ed/factions/space-marines/Lieutenant">Lieutenant</a>
</div>
</body></html>`

func TestHTTPRendererExtractsTextAndLinks(t *testing.T) {
	transport := httpmock.NewMockTransport()
	url := "http://example.test/wh40k10ed/factions/space-marines/Captain"
	transport.RegisterResponder("GET", url, htmlResponder(unitPage))

	r := newMockedRenderer(t, transport)
	page, err := r.Render(context.Background(), Request{
		URL:           url,
		Landmark:      "#wrapper",
		Container:     "#wrapper",
		ConsentButton: "Ga verder met aanbevolen",
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	wantText := strings.Join([]string{
		"CAPTAIN",
		"M", `6"`, "T", "4",
		"ABILITIES",
		"Rites of Battle",
		"Finest Hour",
		"",
		"Footnote text",
		"",
		"Lieutenant",
	}, "\n")
	if diff := cmp.Diff(wantText, page.Text); diff != "" {
		t.Fatalf("text mismatch (-want +got):\n%s", diff)
	}

	wantLinks := []string{
		"/wh40k10ed/factions/space-marines/datasheets.html",
		"/wh40k10ed/factions/space-marines/Lieutenant",
	}
	if diff := cmp.Diff(wantLinks, page.Links); diff != "" {
		t.Fatalf("links mismatch (-want +got):\n%s", diff)
	}
}

func TestHTTPRendererMissingElements(t *testing.T) {
	transport := httpmock.NewMockTransport()
	url := "http://example.test/wh40k10ed/factions/orks/Warboss"
	transport.RegisterResponder("GET", url, htmlResponder(`<html><body><div class="other">nothing</div></body></html>`))
	r := newMockedRenderer(t, transport)

	_, err := r.Render(context.Background(), Request{URL: url, Landmark: "#wrapper"})
	if !errors.Is(err, ErrLandmarkMissing) {
		t.Fatalf("expected ErrLandmarkMissing, got %v", err)
	}

	_, err = r.Render(context.Background(), Request{URL: url, Landmark: "div.other", Container: "#wrapper"})
	if !errors.Is(err, ErrContentMissing) {
		t.Fatalf("expected ErrContentMissing, got %v", err)
	}
}

func TestHTTPRendererStatusClassification(t *testing.T) {
	tests := []struct {
		status   int
		expected string
	}{
		{status: http.StatusTooManyRequests, expected: "rate_limited"},
		{status: http.StatusForbidden, expected: "forbidden"},
		{status: http.StatusNotFound, expected: "not_found"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			transport := httpmock.NewMockTransport()
			url := "http://example.test/wh40k10ed/factions/orks/Warboss"
			transport.RegisterResponder("GET", url, httpmock.NewStringResponder(tt.status, ""))

			r := newMockedRenderer(t, transport)
			_, err := r.Render(context.Background(), Request{URL: url, Landmark: "#wrapper"})
			if got := errorTypeLabel(err); got != tt.expected {
				t.Fatalf("status %d classified as %q (%v), want %q", tt.status, got, err, tt.expected)
			}
		})
	}
}

func TestHTTPRendererHonoursCancellation(t *testing.T) {
	transport := httpmock.NewMockTransport()
	url := "http://example.test/wh40k10ed/factions/orks/Warboss"
	transport.RegisterResponder("GET", url, htmlResponder(unitPage))
	r := newMockedRenderer(t, transport)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Render(ctx, Request{URL: url, Landmark: "#wrapper"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	expired, cancelExpired := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancelExpired()
	_, err = r.Render(expired, Request{URL: url, Landmark: "#wrapper"})
	if got := errorTypeLabel(err); got != "timeout" {
		t.Fatalf("expired deadline classified as %q (%v), want timeout", got, err)
	}
	if n := transport.GetTotalCallCount(); n != 0 {
		t.Fatalf("no request should be issued after cancellation, got %d", n)
	}
}

func TestInnerText(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{
			name: "blocks and table cells",
			html: `<div id="root"><div>RANGED WEAPONS</div><table><tr><td>Bolt rifle</td><td>24"</td></tr></table></div>`,
			want: "RANGED WEAPONS\nBolt rifle\n24\"",
		},
		{
			name: "paragraphs leave one blank line",
			html: `<div id="root"><p>First</p><p>Second</p></div>`,
			want: "First\n\nSecond",
		},
		{
			name: "inline whitespace collapses",
			html: "<div id=\"root\"><span>Heavy</span>   <span>bolter</span>\n\t<b>x2</b></div>",
			want: "Heavy bolter x2",
		},
		{
			name: "script style and hidden dropped",
			html: `<div id="root">Shown<script>alert(1)</script><style>.a{}</style><div style="display: none">Hidden</div><div hidden>Also</div></div>`,
			want: "Shown",
		},
		{
			name: "br breaks a line",
			html: `<div id="root">Line one<br>Line two</div>`,
			want: "Line one\nLine two",
		},
		{
			name: "entities decoded",
			html: `<div id="root">Sv&nbsp;3+ &amp; more</div>`,
			want: "Sv 3+ & more",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := goquery.NewDocumentFromReader(strings.NewReader(tt.html))
			if err != nil {
				t.Fatalf("parse html: %v", err)
			}
			if got := InnerText(doc.Find("#root")); got != tt.want {
				t.Fatalf("InnerText = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBrowserRenderer(t *testing.T) {
	controlURL := os.Getenv("SCRAPER_TEST_BROWSER_URL")
	if controlURL == "" {
		t.Skip("SCRAPER_TEST_BROWSER_URL not set; no Chromium to drive")
	}

	cfg := testConfig()
	cfg.BrowserControlURL = controlURL
	r, err := NewBrowserRenderer(cfg)
	if err != nil {
		t.Fatalf("new browser renderer: %v", err)
	}
	defer r.Close()

	page, err := r.Render(context.Background(), Request{
		URL:       "data:text/html," + strings.ReplaceAll(unitPage, "#", "%23"),
		Landmark:  "#wrapper",
		Container: "#wrapper",
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.HasPrefix(page.Text, "CAPTAIN") {
		t.Fatalf("unexpected text %q", page.Text)
	}
	if len(page.Links) != 2 {
		t.Fatalf("links = %v, want 2", page.Links)
	}

	expired, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-expired.Done()
	_, err = r.Render(expired, Request{URL: "data:text/html,<p>late</p>"})
	var timeoutErr ErrTimeout
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("render with expired context = %v, want ErrTimeout", err)
	}
}

func TestBrowserRendererStopsOnDoneContext(t *testing.T) {
	r := &BrowserRenderer{}

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Render(canceled, Request{URL: "https://example.test"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("render with canceled context = %v, want context.Canceled", err)
	}

	expired, cancelExpired := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancelExpired()
	_, err := r.Render(expired, Request{URL: "https://example.test"})
	var timeoutErr ErrTimeout
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("render past deadline = %v, want ErrTimeout", err)
	}
}
