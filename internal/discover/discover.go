// Package discover finds dateable media on a page and extracts the
// Last-Modified timestamps that bound when a site first existed.
//
// Discovery runs in three tiers, cheapest first:
//
//  1. plain HTTP fetch + HTML scan
//  2. browser network-event log
//  3. rendered-DOM inspection
//
// A tier that yields at least one dated resource short-circuits the rest.
package discover

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/nixintel/urldater/internal/browser"
	"github.com/nixintel/urldater/internal/config"
	"github.com/nixintel/urldater/internal/mediarules"
	"github.com/nixintel/urldater/internal/metrics"
	"github.com/nixintel/urldater/internal/security"
	"github.com/nixintel/urldater/internal/types"
	"github.com/nixintel/urldater/pkg/version"
)

// candidate is a media URL waiting for a Last-Modified probe.
type candidate struct {
	kind types.Kind
	url  string
}

// Pool is the slice of the browser pool the discoverer needs.
type Pool interface {
	Acquire(ctx context.Context) (*browser.Instance, error)
	Release(inst *browser.Instance)
	Destroy(inst *browser.Instance)
}

// Discoverer runs the tiered media discovery pipeline.
type Discoverer struct {
	cfg    *config.Config
	pool   Pool
	rules  *mediarules.Manager
	client *http.Client

	// Tier implementations, swappable in tests.
	probeTier  func(ctx context.Context, rawURL string) []types.Result
	netlogTier func(ctx context.Context, inst *browser.Instance, rawURL string) ([]types.Result, error)
	domTier    func(ctx context.Context, inst *browser.Instance, rawURL string) ([]types.Result, error)
}

// New creates a Discoverer backed by the given pool and media rules.
func New(cfg *config.Config, pool Pool, rules *mediarules.Manager) *Discoverer {
	d := &Discoverer{
		cfg:   cfg,
		pool:  pool,
		rules: rules,
		client: &http.Client{
			Timeout: cfg.ProbeTimeout,
		},
	}
	d.probeTier = d.httpProbe
	d.netlogTier = d.netlogInspect
	d.domTier = d.domInspect
	return d
}

// Discover runs the tier cascade for rawURL.
// It always returns at least one result: dated media on success, otherwise
// a diagnostic explaining what went wrong or that nothing dateable exists.
func (d *Discoverer) Discover(ctx context.Context, rawURL string) []types.Result {
	normalized, err := security.NormalizeURL(rawURL)
	if err != nil {
		return []types.Result{types.Diagnostic(types.SeverityError, "Invalid URL: "+err.Error(), false)}
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.DiscoverTimeout)
	defer cancel()

	log.Info().Str("url", normalized).Msg("Starting media discovery")

	// Tier 1: plain HTTP
	results := d.probeTier(ctx, normalized)
	if types.HasSuccess(results) {
		log.Debug().Str("url", normalized).Int("results", len(results)).Msg("HTTP tier found dated media")
		metrics.RecordTierResult("probe")
		return results
	}
	if terminalOnly(results) {
		// The URL itself is dead (4xx, unresolvable): rendering will not help
		metrics.RecordTierResult("none")
		return results
	}

	// Tiers 2 and 3 need a browser
	inst, err := d.pool.Acquire(ctx)
	if err != nil {
		log.Warn().Err(err).Str("url", normalized).Msg("Could not acquire browser instance")
		recordAcquireFailure(err)
		metrics.RecordTierResult("none")
		return append(results, poolDiagnostic(err))
	}

	browserResults, winner, healthy := d.runBrowserTiers(ctx, inst, normalized)
	if healthy {
		d.pool.Release(inst)
	} else {
		d.pool.Destroy(inst)
	}
	metrics.RecordTierResult(winner)

	results = append(results, browserResults...)
	if types.HasSuccess(results) {
		return results
	}

	if len(results) == 0 {
		results = append(results, types.Diagnostic(types.SeverityInfo,
			"No dateable media found on this page", false))
	}
	return results
}

// recordAcquireFailure feeds pool acquire failures into the timeout metric.
func recordAcquireFailure(err error) {
	switch {
	case errors.Is(err, types.ErrMemoryPressure):
		metrics.RecordPoolTimeout("memory_pressure")
	case errors.Is(err, types.ErrPoolTimeout):
		metrics.RecordPoolTimeout("timeout")
	}
}

// runBrowserTiers runs tiers 2 and 3 on a pooled instance.
// winner names the tier that produced dated media, "none" otherwise.
// healthy reports whether the instance can be returned to the pool.
// A panic inside a tier marks the instance unhealthy so its browser is
// destroyed rather than reused.
func (d *Discoverer) runBrowserTiers(ctx context.Context, inst *browser.Instance, rawURL string) (results []types.Result, winner string, healthy bool) {
	winner = "none"
	healthy = true
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("url", rawURL).
				Str("instance_id", inst.ID()).
				Msg("Recovered from panic during browser inspection")
			results = append(results, types.Diagnostic(types.SeverityError,
				"Browser inspection failed unexpectedly", true))
			winner = "none"
			healthy = false
		}
	}()

	// Tier 2: network-event log
	netResults, err := d.netlogTier(ctx, inst, rawURL)
	if err != nil {
		diag, usable := navDiagnostic(err)
		if !usable {
			return []types.Result{diag}, "none", false
		}
		// Navigation failed in a way that tells us the site is unreachable;
		// the rendered DOM cannot say more.
		return []types.Result{diag}, "none", true
	}
	if types.HasSuccess(netResults) {
		return netResults, "network", true
	}

	// Tier 3: rendered DOM
	domResults, err := d.domTier(ctx, inst, rawURL)
	if err != nil {
		diag, usable := navDiagnostic(err)
		return append(netResults, diag), "none", usable
	}
	results = append(netResults, domResults...)
	if types.HasSuccess(domResults) {
		winner = "dom"
	}
	return results, winner, true
}

// navDiagnostic maps a navigation error to a user-facing diagnostic.
// usable reports whether the browser instance is still fit for reuse:
// network-level failures leave the browser fine, protocol-level wedges
// do not.
func navDiagnostic(err error) (types.Result, bool) {
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "err_name_not_resolved"):
		return types.Diagnostic(types.SeverityError, "Domain name could not be resolved", false), true
	case strings.Contains(msg, "err_connection_refused"):
		return types.Diagnostic(types.SeverityError, "Connection refused by server", true), true
	case strings.Contains(msg, "err_connection_timed_out"),
		strings.Contains(msg, "timed out"),
		strings.Contains(msg, "context deadline exceeded"):
		return types.Diagnostic(types.SeverityError, "Connection timed out", true), true
	case strings.Contains(msg, "err_ssl_protocol_error"),
		strings.Contains(msg, "ssl"),
		strings.Contains(msg, "tls"):
		return types.Diagnostic(types.SeverityError, "TLS handshake with server failed", false), true
	case strings.Contains(msg, "target") && strings.Contains(msg, "closed"),
		strings.Contains(msg, "session") && strings.Contains(msg, "not found"),
		strings.Contains(msg, "websocket"):
		// The browser lost the page target mid-flight: do not reuse it
		return types.Diagnostic(types.SeverityError, "Browser session was lost while loading the page", true), false
	default:
		return types.Diagnostic(types.SeverityError, "Failed to load page: "+err.Error(), true), true
	}
}

// poolDiagnostic maps pool acquire failures to diagnostics.
func poolDiagnostic(err error) types.Result {
	switch {
	case errors.Is(err, types.ErrMemoryPressure):
		return types.Diagnostic(types.SeverityError,
			"Service is under memory pressure, try again shortly", true)
	case errors.Is(err, types.ErrPoolTimeout):
		return types.Diagnostic(types.SeverityError,
			"All browser instances are busy, try again shortly", true)
	default:
		return types.Diagnostic(types.SeverityError,
			"Browser could not be started", true)
	}
}

// terminalOnly reports whether results consist solely of non-retryable
// error diagnostics, meaning later tiers cannot improve the answer.
func terminalOnly(results []types.Result) bool {
	if len(results) == 0 {
		return false
	}
	for _, r := range results {
		if !r.IsDiagnostic() || r.Retryable || types.Severity(r.Type) != types.SeverityError {
			return false
		}
	}
	return true
}

// userAgent is sent on every plain-HTTP request so tier 1 sees the same
// responses the pooled browsers do.
func userAgent() string {
	return version.UserAgent()
}
