package discover

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/stealth"
	"github.com/rs/zerolog/log"

	"github.com/nixintel/urldater/internal/browser"
	"github.com/nixintel/urldater/internal/types"
)

// domInspect is the last tier: render the page and read media references
// out of the live DOM. This catches icons and images that never appear in
// the raw HTML and whose responses carried no usable headers, at the cost
// of a full render plus one probe per found resource.
//
// The page is opened through the stealth helper so sites that hide content
// from obvious automation still render normally.
func (d *Discoverer) domInspect(ctx context.Context, inst *browser.Instance, rawURL string) ([]types.Result, error) {
	b := inst.Browser()
	if b == nil {
		return nil, fmt.Errorf("instance has no browser attached")
	}

	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("failed to open stealth page: %w", err)
	}
	defer page.Close()

	navCtx, cancel := context.WithTimeout(ctx, d.cfg.NavigationTimeout)
	defer cancel()

	if err := page.Context(navCtx).Navigate(rawURL); err != nil {
		return nil, fmt.Errorf("failed to navigate to %s: %w", rawURL, err)
	}

	// Best effort: a page stuck in "interactive" can still be inspected
	d.waitReadyState(ctx, page, rawURL)

	// The scan runs under the caller's deadline so a wedged connection
	// cannot hold the instance past the discovery budget. Close stays on
	// the original page, which survives cancellation.
	bounded := page.Context(ctx)

	info, err := bounded.Info()
	if err != nil {
		return nil, fmt.Errorf("failed to read page info: %w", err)
	}
	base, err := url.Parse(info.URL)
	if err != nil {
		return nil, fmt.Errorf("page has unparseable URL %q: %w", info.URL, err)
	}

	candidates := d.scanRenderedDOM(bounded, base)
	return d.probeCandidates(ctx, candidates), nil
}

// waitReadyState polls document.readyState until complete or the bounded
// wait expires. Never fails the tier: a slow readyState just means we
// inspect whatever has rendered so far.
func (d *Discoverer) waitReadyState(ctx context.Context, page *rod.Page, rawURL string) {
	waitCtx, cancel := context.WithTimeout(ctx, d.cfg.ReadyStateTimeout)
	defer cancel()

	for {
		res, err := page.Context(waitCtx).Eval(`() => document.readyState`)
		if err == nil && res.Value.Str() == "complete" {
			return
		}
		select {
		case <-waitCtx.Done():
			log.Debug().Str("url", rawURL).Msg("readyState wait expired, inspecting partial render")
			return
		case <-time.After(200 * time.Millisecond):
		}
	}
}

// scanRenderedDOM walks the live DOM for favicon links and inline images.
// Elements that go stale mid-walk (scripts rewriting the page under us)
// are skipped rather than failing the whole scan.
func (d *Discoverer) scanRenderedDOM(page *rod.Page, base *url.URL) []candidate {
	rules := d.rules.Get()

	var out []candidate
	seen := make(map[string]struct{})

	add := func(kind types.Kind, raw string) {
		resolved, ok := resolveRef(base, raw)
		if !ok {
			return
		}
		if _, dup := seen[resolved]; dup {
			return
		}
		seen[resolved] = struct{}{}
		out = append(out, candidate{kind: kind, url: resolved})
	}

	faviconFound := false
	for _, sel := range rules.FaviconSelectors {
		for _, href := range attrValues(page, sel, "href") {
			faviconFound = true
			add(types.KindFavicon, href)
		}
	}
	if !faviconFound {
		add(types.KindFavicon, rules.DefaultFaviconPath)
	}

	for _, sel := range rules.ImageSelectors {
		for _, src := range attrValues(page, sel, "src") {
			if rules.IsMedia(src) {
				add(types.KindImage, src)
			}
		}
	}

	return out
}

// attrValues collects the named attribute from every element matching sel.
// Lookup errors on individual elements are tolerated.
func attrValues(page *rod.Page, sel, attr string) []string {
	elements, err := page.Elements(sel)
	if err != nil {
		log.Debug().Str("selector", sel).Err(err).Msg("DOM query failed")
		return nil
	}

	var values []string
	for _, el := range elements {
		value, err := el.Attribute(attr)
		if err != nil || value == nil || *value == "" {
			continue
		}
		values = append(values, *value)
	}
	return values
}
