// Package report aggregates the individual dating signals (RDAP, media
// headers, certificate transparency) into a single analysis response.
package report

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nixintel/urldater/internal/certs"
	"github.com/nixintel/urldater/internal/config"
	"github.com/nixintel/urldater/internal/types"
)

// Signal selects which lookup(s) an analysis runs.
type Signal string

const (
	SignalAll     Signal = "all"
	SignalRDAP    Signal = "rdap"
	SignalHeaders Signal = "headers"
	SignalCerts   Signal = "certs"
)

// ParseSignal validates a client-supplied searchType value.
func ParseSignal(s string) (Signal, error) {
	switch Signal(s) {
	case SignalAll, SignalRDAP, SignalHeaders, SignalCerts:
		return Signal(s), nil
	case "":
		return SignalAll, nil
	}
	return "", errors.New("invalid search type")
}

// CertResult is a certificate lookup outcome. Either the certificate fields
// or Status/Message are populated, never both.
type CertResult struct {
	CommonName string `json:"common_name,omitempty"`
	FirstSeen  string `json:"first_seen,omitempty"`
	ValidFrom  string `json:"valid_from,omitempty"`
	SourceURL  string `json:"url,omitempty"`
	Status     string `json:"status,omitempty"`
	Message    string `json:"error,omitempty"`
}

// Report holds every signal for one analyzed URL. Signals that were not
// requested stay nil and are omitted from the JSON response.
type Report struct {
	Domain  string         `json:"domain"`
	RDAP    []types.Result `json:"rdap,omitempty"`
	Headers []types.Result `json:"headers,omitempty"`
	Certs   []CertResult   `json:"certs,omitempty"`
}

// RDAPLookup is the registration-data collaborator.
type RDAPLookup interface {
	Lookup(ctx context.Context, domain string) ([]types.Result, error)
}

// MediaDiscoverer is the header-dating collaborator.
type MediaDiscoverer interface {
	Discover(ctx context.Context, rawURL string) []types.Result
}

// CertLookup is the certificate-transparency collaborator.
type CertLookup interface {
	Oldest(ctx context.Context, domain string) (*certs.Certificate, error)
}

// Analyzer fans a URL out to the signal collaborators and merges the
// outcomes. Per-signal failures are reported as diagnostic entries in the
// result, never as an Analyze error.
type Analyzer struct {
	cfg      *config.Config
	rdap     RDAPLookup
	discover MediaDiscoverer
	certs    CertLookup
}

func New(cfg *config.Config, rdap RDAPLookup, discover MediaDiscoverer, certLookup CertLookup) *Analyzer {
	return &Analyzer{cfg: cfg, rdap: rdap, discover: discover, certs: certLookup}
}

// Analyze runs the requested signal(s) against rawURL. For SignalAll the
// RDAP lookup runs first on its own, then headers and certs run
// concurrently under the analyze budget; if the budget expires the
// remaining signals are retried sequentially so a slow browser never
// starves the certificate lookup of a result.
func (a *Analyzer) Analyze(ctx context.Context, rawURL string, signal Signal) (*Report, error) {
	domain := registrableDomain(rawURL)
	rep := &Report{Domain: domain}

	switch signal {
	case SignalRDAP:
		rep.RDAP = a.fetchRDAP(ctx, domain)
	case SignalHeaders:
		rep.Headers = a.discover.Discover(ctx, rawURL)
	case SignalCerts:
		rep.Certs = a.fetchCerts(ctx, domain)
	case SignalAll:
		rep.RDAP = a.fetchRDAP(ctx, domain)
		rep.Headers, rep.Certs = a.fanOut(ctx, rawURL, domain)
	default:
		return nil, errors.New("invalid search type")
	}
	return rep, nil
}

func (a *Analyzer) fetchRDAP(ctx context.Context, domain string) []types.Result {
	results, err := a.rdap.Lookup(ctx, domain)
	if err != nil {
		log.Error().Err(err).Str("domain", domain).Msg("RDAP lookup failed")
		return []types.Result{
			types.Diagnostic(types.SeverityError, "Error retrieving RDAP data: "+err.Error(), false),
		}
	}
	if len(results) == 0 {
		return []types.Result{
			types.Diagnostic(types.SeverityInfo, "No registration events found for this domain.", false),
		}
	}
	return results
}

func (a *Analyzer) fetchCerts(ctx context.Context, domain string) []CertResult {
	cert, err := a.certs.Oldest(ctx, domain)
	if err != nil {
		var lookupErr *certs.LookupError
		if errors.As(err, &lookupErr) {
			return []CertResult{{Status: lookupErr.Status, Message: lookupErr.Message}}
		}
		log.Error().Err(err).Str("domain", domain).Msg("Certificate lookup failed")
		return []CertResult{{Status: "Error", Message: "Unable to retrieve certificate data"}}
	}
	return []CertResult{{
		CommonName: cert.CommonName,
		FirstSeen:  cert.FirstSeen,
		ValidFrom:  cert.ValidFrom,
		SourceURL:  cert.SourceURL,
	}}
}

// fanOut runs headers and certs concurrently. When the analyze budget
// expires before both finish, the in-flight work is cancelled and whichever
// signal is still missing runs again sequentially on the parent context.
func (a *Analyzer) fanOut(ctx context.Context, rawURL, domain string) ([]types.Result, []CertResult) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	headersCh := make(chan []types.Result, 1)
	certsCh := make(chan []CertResult, 1)
	go func() { headersCh <- a.discover.Discover(runCtx, rawURL) }()
	go func() { certsCh <- a.fetchCerts(runCtx, domain) }()

	timer := time.NewTimer(a.cfg.AnalyzeTimeout)
	defer timer.Stop()

	var (
		headers    []types.Result
		certsFound []CertResult
		gotHeaders bool
		gotCerts   bool
	)
	for !gotHeaders || !gotCerts {
		select {
		case headers = <-headersCh:
			gotHeaders = true
		case certsFound = <-certsCh:
			gotCerts = true
		case <-timer.C:
			cancel()
			log.Warn().
				Str("url", rawURL).
				Dur("budget", a.cfg.AnalyzeTimeout).
				Msg("Concurrent analysis timed out, falling back to sequential execution")
			if !gotHeaders {
				headers = a.discover.Discover(ctx, rawURL)
			}
			if !gotCerts {
				certsFound = a.fetchCerts(ctx, domain)
			}
			return headers, certsFound
		case <-ctx.Done():
			cancel()
			if !gotHeaders {
				headers = []types.Result{
					types.Diagnostic(types.SeverityError, "Header analysis was cancelled.", true),
				}
			}
			if !gotCerts {
				certsFound = []CertResult{{Status: "Error", Message: "Certificate lookup was cancelled."}}
			}
			return headers, certsFound
		}
	}
	return headers, certsFound
}

// registrableDomain reduces a URL to the domain used for RDAP and
// certificate queries. Falls back to the raw host when the public suffix
// list cannot place it.
func registrableDomain(rawURL string) string {
	if domain, err := certs.RegistrableDomain(rawURL); err == nil {
		return domain
	}
	trimmed := strings.TrimSpace(rawURL)
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}
	if parsed, err := url.Parse(trimmed); err == nil && parsed.Hostname() != "" {
		return strings.ToLower(strings.TrimPrefix(parsed.Hostname(), "www."))
	}
	return strings.ToLower(trimmed)
}
