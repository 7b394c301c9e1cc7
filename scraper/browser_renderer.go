package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/aluiziolira/go-scrape-units/config"
)

// BrowserRenderer drives headless Chromium through rod. Each Render opens an
// incognito context so pages never share cookies or storage.
type BrowserRenderer struct {
	browser        *rod.Browser
	launcher       *launcher.Launcher
	timeout        time.Duration
	consentTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

// NewBrowserRenderer connects to cfg.BrowserControlURL, or launches a local
// headless Chromium when it is empty.
func NewBrowserRenderer(cfg *config.Config) (*BrowserRenderer, error) {
	r := &BrowserRenderer{
		timeout:        cfg.RenderTimeout,
		consentTimeout: cfg.ConsentTimeout,
	}

	controlURL := cfg.BrowserControlURL
	if controlURL == "" {
		r.launcher = launcher.New().Headless(true)
		u, err := r.launcher.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch browser: %w", err)
		}
		controlURL = u
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		if r.launcher != nil {
			r.launcher.Kill()
		}
		return nil, ErrConnection{Err: fmt.Errorf("connect browser: %w", err)}
	}
	r.browser = browser
	return r, nil
}

// Render opens req.URL, dismisses the consent dialog if one shows up, waits
// for the landmark and returns the container's innerText.
func (r *BrowserRenderer) Render(ctx context.Context, req Request) (_ *Page, err error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	defer func() {
		if err != nil && ctx.Err() != nil {
			err = classifyError(ctx.Err(), 0)
		}
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Cleanup must still reach the browser after ctx expires.
	cleanup := context.WithoutCancel(ctx)

	incognito, err := r.browser.Context(ctx).Incognito()
	if err != nil {
		return nil, ErrConnection{Err: fmt.Errorf("open incognito context: %w", err)}
	}
	defer func() { _ = incognito.Context(cleanup).Close() }()

	page, err := incognito.Page(proto.TargetCreateTarget{URL: req.URL})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", req.URL, err)
	}
	defer func() { _ = page.Context(cleanup).Close() }()

	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("load %s: %w", req.URL, err)
	}

	if req.ConsentButton != "" && r.consentTimeout > 0 {
		r.dismissConsent(page, req.ConsentButton)
	}

	if req.Landmark != "" {
		if _, err := page.Element(req.Landmark); err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			return nil, fmt.Errorf("%s: %w", req.URL, ErrLandmarkMissing)
		}
	}

	out := &Page{URL: req.URL}
	if req.Container != "" {
		els, err := page.Elements(req.Container)
		if err != nil {
			return nil, fmt.Errorf("query container: %w", err)
		}
		if els.Empty() {
			return nil, fmt.Errorf("%s: %w", req.URL, ErrContentMissing)
		}
		text, err := els.First().Text()
		if err != nil {
			return nil, fmt.Errorf("read container text: %w", err)
		}
		out.Text = normalizeLines(text)
	}

	links, err := page.Elements("a[href]")
	if err != nil {
		return nil, fmt.Errorf("query links: %w", err)
	}
	for _, el := range links {
		href, err := el.Attribute("href")
		if err != nil || href == nil {
			continue
		}
		out.Links = append(out.Links, *href)
	}
	return out, nil
}

func (r *BrowserRenderer) dismissConsent(page *rod.Page, label string) {
	p := page.Timeout(r.consentTimeout)
	defer p.CancelTimeout()

	pattern := "/^\\s*" + regexp.QuoteMeta(label) + "\\s*$/"
	button, err := p.ElementR("button", pattern)
	if err != nil {
		slog.Debug("no consent dialog", slog.String("label", label))
		return
	}
	if err := button.Click(proto.InputMouseButtonLeft, 1); err != nil {
		slog.Debug("consent click failed", slog.Any("error", err))
	}
}

// Close disconnects from the browser and stops it if it was launched here.
func (r *BrowserRenderer) Close() error {
	r.closeOnce.Do(func() {
		if r.browser != nil {
			r.closeErr = r.browser.Close()
		}
		if r.launcher != nil {
			r.launcher.Kill()
		}
		if errors.Is(r.closeErr, context.Canceled) {
			r.closeErr = nil
		}
	})
	return r.closeErr
}
