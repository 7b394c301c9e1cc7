package scraper

import (
	"context"
	"fmt"

	"github.com/aluiziolira/go-scrape-units/config"
)

// Request describes one page to render.
type Request struct {
	URL string
	// Landmark is a CSS selector whose presence marks the page as rendered.
	Landmark string
	// Container is the CSS selector whose visible text becomes Page.Text.
	// Empty means no text is collected.
	Container string
	// ConsentButton is the accessible name of a cookie consent button to
	// dismiss. Best effort.
	ConsentButton string
}

// Page is a rendered page.
type Page struct {
	URL   string
	Text  string
	Links []string // raw href attribute values in document order
}

// Renderer loads a page, waits for its landmark and returns its text and links.
// Implementations must honour ctx cancellation and deadlines.
type Renderer interface {
	Render(ctx context.Context, req Request) (*Page, error)
}

// RenderFunc adapts a function to the Renderer interface.
type RenderFunc func(ctx context.Context, req Request) (*Page, error)

// Render calls f(ctx, req).
func (f RenderFunc) Render(ctx context.Context, req Request) (*Page, error) {
	return f(ctx, req)
}

// NewRenderer builds the renderer selected by cfg.Renderer. Callers should
// close the result when it implements io.Closer.
func NewRenderer(cfg *config.Config) (Renderer, error) {
	switch cfg.Renderer {
	case "", "http":
		r, err := NewHTTPRenderer(cfg)
		if err != nil {
			return nil, err
		}
		return r, nil
	case "browser":
		r, err := NewBrowserRenderer(cfg)
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unknown renderer %q", cfg.Renderer)
	}
}
