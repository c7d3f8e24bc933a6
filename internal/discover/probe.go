package discover

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/nixintel/urldater/internal/types"
)

// Page bodies larger than this are truncated before parsing.
const maxPageBodySize = 10 * 1024 * 1024

// httpProbe is the cheapest tier: fetch the page over plain HTTP, scan the
// HTML for media references, and probe each for a Last-Modified header.
//
// A non-retryable diagnostic (404 and friends) means the URL itself is dead
// and the caller stops the cascade; an empty slice means this tier simply
// saw nothing and deeper tiers should try.
func (d *Discoverer) httpProbe(ctx context.Context, rawURL string) []types.Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", userAgent())

	resp, err := d.client.Do(req)
	if err != nil {
		// Transport failure: the browser tiers may still get through
		log.Debug().Err(err).Str("url", rawURL).Msg("Plain HTTP fetch failed")
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyLenForMatch))
		block := detectBlockPage(resp.StatusCode, string(body))
		if block.Escalate() {
			// Bot mitigation, not a dead page; a real browser may get through
			log.Debug().Int("status", resp.StatusCode).Str("code", block.Code).
				Str("url", rawURL).Msg("Block page detected, deferring to browser tiers")
			return nil
		}
		if resp.StatusCode < 500 {
			return []types.Result{types.Diagnostic(types.SeverityError,
				fmt.Sprintf("Received HTTP %d for %s", resp.StatusCode, rawURL), false)}
		}
		// Server errors are worth retrying with a real browser; keep the
		// diagnostic so the failure is visible when the deeper tiers also
		// come up empty.
		log.Debug().Int("status", resp.StatusCode).Str("url", rawURL).Msg("Server error on plain HTTP fetch")
		return []types.Result{types.Diagnostic(types.SeverityError,
			fmt.Sprintf("Received HTTP %d for %s", resp.StatusCode, rawURL), true)}
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxPageBodySize))
	if err != nil {
		log.Debug().Err(err).Str("url", rawURL).Msg("Failed to parse HTML")
		return nil
	}

	// Redirects may have moved us; resolve relative URLs against where we
	// actually landed.
	base := resp.Request.URL

	candidates := d.scanDocument(doc, base)
	return d.probeCandidates(ctx, candidates)
}

// scanDocument extracts media candidates from a parsed HTML document.
// Favicon links found via the configured selectors are taken as-is; inline
// images must carry an allow-listed extension. When no favicon link exists,
// the well-known default path is assumed.
func (d *Discoverer) scanDocument(doc *goquery.Document, base *url.URL) []candidate {
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
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			href, exists := s.Attr("href")
			if !exists || href == "" {
				return
			}
			faviconFound = true
			add(types.KindFavicon, href)
		})
	}
	if !faviconFound {
		add(types.KindFavicon, rules.DefaultFaviconPath)
	}

	for _, sel := range rules.ImageSelectors {
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			src, exists := s.Attr("src")
			if !exists || !rules.IsMedia(src) {
				return
			}
			add(types.KindImage, src)
		})
	}

	return out
}

// resolveRef resolves raw against base, rejecting data:, javascript:, and
// anything that does not end up as http(s).
func resolveRef(base *url.URL, raw string) (string, bool) {
	lower := strings.ToLower(strings.TrimSpace(raw))
	if lower == "" || strings.HasPrefix(lower, "data:") || strings.HasPrefix(lower, "javascript:") {
		return "", false
	}

	ref, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", false
	}
	resolved := base.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return "", false
	}
	resolved.Fragment = ""
	return resolved.String(), true
}

// probeCandidates checks each candidate for a Last-Modified header.
// Probes run concurrently under one batch deadline; candidates still
// pending when the batch deadline hits are dropped, not errored.
// Result order follows candidate order.
func (d *Discoverer) probeCandidates(ctx context.Context, candidates []candidate) []types.Result {
	if len(candidates) == 0 {
		return nil
	}

	batchCtx, cancel := context.WithTimeout(ctx, d.cfg.BatchTimeout)
	defer cancel()

	slots := make([]*types.Result, len(candidates))

	g := new(errgroup.Group)
	g.SetLimit(d.cfg.ProbeConcurrency)

	for i, c := range candidates {
		g.Go(func() error {
			if batchCtx.Err() != nil {
				return nil
			}
			if t, ok := d.probeLastModified(batchCtx, c.url); ok {
				r := types.Success(c.kind, c.url, t)
				slots[i] = &r
			}
			return nil
		})
	}
	_ = g.Wait()

	var results []types.Result
	for _, r := range slots {
		if r != nil {
			results = append(results, *r)
		}
	}

	log.Debug().
		Int("candidates", len(candidates)).
		Int("dated", len(results)).
		Msg("Last-Modified probe batch finished")

	return results
}

// probeLastModified fetches the Last-Modified header for one resource.
// HEAD is tried first; servers that reject or omit it get one GET whose
// body is discarded.
func (d *Discoverer) probeLastModified(ctx context.Context, target string) (time.Time, bool) {
	if t, ok := d.headerProbe(ctx, http.MethodHead, target); ok {
		return t, true
	}
	return d.headerProbe(ctx, http.MethodGet, target)
}

func (d *Discoverer) headerProbe(ctx context.Context, method, target string) (time.Time, bool) {
	pctx, cancel := context.WithTimeout(ctx, d.cfg.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(pctx, method, target, nil)
	if err != nil {
		return time.Time{}, false
	}
	req.Header.Set("User-Agent", userAgent())

	resp, err := d.client.Do(req)
	if err != nil {
		return time.Time{}, false
	}
	defer func() {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
	}()

	if resp.StatusCode >= 400 {
		return time.Time{}, false
	}

	// Some CDNs surface the origin's timestamp as X-Last-Modified instead
	value := resp.Header.Get("Last-Modified")
	if value == "" {
		value = resp.Header.Get("X-Last-Modified")
	}
	return parseLastModified(value)
}

// parseLastModified parses a Last-Modified header value. Only the RFC 1123
// format counts; the legacy RFC 850 and asctime shapes date from servers
// too old to be evidence of anything and are rejected.
func parseLastModified(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(http.TimeFormat, value)
	if err != nil {
		log.Debug().Str("value", value).Err(err).Msg("Unparseable Last-Modified header")
		return time.Time{}, false
	}
	return t, true
}
