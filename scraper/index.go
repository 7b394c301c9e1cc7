package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aluiziolira/go-scrape-units/config"
	"github.com/aluiziolira/go-scrape-units/models"
)

// minExpectedUnits is the unit count below which a faction listing is
// reported as possibly incomplete.
const minExpectedUnits = 5

// IndexResult is the outcome of building the unit index.
type IndexResult struct {
	Index    *models.Index
	Failed   []string
	Empty    []string // factions whose listing had no unit links
	Sparse   []string // factions with fewer than minExpectedUnits units
	Duration time.Duration
}

// IndexBuilder discovers the unit ids of each faction from its listing page.
type IndexBuilder struct {
	renderer      Renderer
	baseURL       string
	landmark      string
	consentButton string
	batchSize     int
	metrics       *Metrics
}

// NewIndexBuilder builds an index builder from cfg.
func NewIndexBuilder(renderer Renderer, cfg *config.Config, metrics *Metrics) *IndexBuilder {
	batchSize := cfg.IndexBatchSize
	if batchSize <= 0 {
		batchSize = 1
	}
	return &IndexBuilder{
		renderer:      renderer,
		baseURL:       cfg.BaseURL,
		landmark:      cfg.ListingLandmark,
		consentButton: cfg.ConsentButton,
		batchSize:     batchSize,
		metrics:       metrics,
	}
}

type factionListing struct {
	units []string
	err   error
}

// Build renders the listing page of every faction, batchSize factions at a
// time. A faction whose page fails is recorded in Failed and contributes no
// units; it is not retried. When ctx is cancelled Build returns the factions
// finished so far together with ctx.Err().
func (b *IndexBuilder) Build(ctx context.Context, factions []string) (*IndexResult, error) {
	start := time.Now()
	result := &IndexResult{Index: models.NewIndex()}

	for offset := 0; offset < len(factions); offset += b.batchSize {
		if err := ctx.Err(); err != nil {
			result.Duration = time.Since(start)
			return result, err
		}

		end := min(offset+b.batchSize, len(factions))
		batch := factions[offset:end]
		listings := make([]factionListing, len(batch))

		var g errgroup.Group
		for i, faction := range batch {
			g.Go(func() error {
				units, err := b.fetchFaction(ctx, faction)
				listings[i] = factionListing{units: units, err: err}
				return nil
			})
		}
		_ = g.Wait()

		for i, faction := range batch {
			listing := listings[i]
			if listing.err != nil {
				slog.Error("faction listing failed",
					slog.String("faction", faction),
					slog.String("category", errorTypeLabel(listing.err)),
					slog.Any("error", listing.err),
				)
				b.metrics.IncError(errorTypeLabel(listing.err))
				result.Failed = append(result.Failed, faction)
				continue
			}

			slog.Info("faction listing indexed",
				slog.String("faction", faction),
				slog.Int("units", len(listing.units)),
			)
			b.metrics.SetIndexUnits(faction, len(listing.units))
			result.Index.Set(faction, listing.units)

			switch {
			case len(listing.units) == 0:
				result.Empty = append(result.Empty, faction)
			case len(listing.units) < minExpectedUnits:
				result.Sparse = append(result.Sparse, faction)
			}
		}
	}

	result.Duration = time.Since(start)
	return result, nil
}

func (b *IndexBuilder) fetchFaction(ctx context.Context, faction string) ([]string, error) {
	url := models.ListingURL(b.baseURL, faction)
	started := time.Now()
	page, err := b.renderer.Render(ctx, Request{
		URL:           url,
		Landmark:      b.landmark,
		ConsentButton: b.consentButton,
	})
	b.metrics.ObserveRender("listing", time.Since(started))
	if err != nil {
		return nil, fmt.Errorf("render listing %s: %w", faction, err)
	}
	return ExtractUnitIDs(faction, page.Links), nil
}

// ExtractUnitIDs picks the unit ids of faction out of the raw hrefs of its
// listing page, in document order. Only hrefs under the faction's path count;
// repeated hrefs, in-page anchors of the faction root and the listing page
// itself are skipped. The id is the fragment when the href has one, else its
// last path segment.
func ExtractUnitIDs(faction string, hrefs []string) []string {
	prefix := "/wh40k10ed/factions/" + faction + "/"
	listing := prefix + "datasheets.html"
	selfAnchor := "/" + faction + "/#"

	seen := make(map[string]struct{})
	ids := []string{}
	for _, href := range hrefs {
		if !strings.HasPrefix(href, prefix) {
			continue
		}
		if _, ok := seen[href]; ok {
			continue
		}
		if strings.Contains(href, selfAnchor) || href == listing {
			continue
		}
		seen[href] = struct{}{}

		var id string
		if i := strings.LastIndex(href, "#"); i >= 0 {
			id = href[i+1:]
		} else {
			id = href[strings.LastIndex(href, "/")+1:]
		}
		if id == "" {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// LogWarnings logs the post-check warnings of an index build.
func (r *IndexResult) LogWarnings() {
	for _, f := range r.Empty {
		slog.Warn("no units found for faction", slog.String("faction", f))
	}
	for _, f := range r.Sparse {
		slog.Warn("faction listing possibly incomplete",
			slog.String("faction", f),
			slog.Int("units", len(r.Index.Units(f))),
		)
	}
	if len(r.Failed) > 0 {
		slog.Error("factions failed entirely", slog.Any("factions", r.Failed))
	}
}
