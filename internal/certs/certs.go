// Package certs finds the oldest certificate-transparency entry for a
// domain via crt.sh, which bounds when the domain first served TLS.
package certs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/publicsuffix"

	"github.com/nixintel/urldater/internal/config"
	"github.com/nixintel/urldater/internal/types"
	"github.com/nixintel/urldater/pkg/version"
)

// Responses larger than this are truncated; busy domains can have tens of
// thousands of CT entries.
const maxResponseSize = 50 * 1024 * 1024

// crt.sh timestamps carry no zone and sometimes fractional seconds.
var entryTimeLayouts = []string{
	"2006-01-02T15:04:05.999",
	"2006-01-02T15:04:05",
}

// Certificate is the oldest CT entry found for a domain.
type Certificate struct {
	CommonName string `json:"common_name"`
	FirstSeen  string `json:"first_seen"`
	ValidFrom  string `json:"valid_from"`
	SourceURL  string `json:"source_url"`
}

// LookupError is a structured failure: Status distinguishes upstream
// trouble from a domain that simply has no CT history.
type LookupError struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (e *LookupError) Error() string {
	return e.Message
}

// entry mirrors one element of the crt.sh JSON array.
type entry struct {
	ID             int64  `json:"id"`
	CommonName     string `json:"common_name"`
	EntryTimestamp string `json:"entry_timestamp"`
	NotBefore      string `json:"not_before"`
}

// Client queries crt.sh with retry.
type Client struct {
	cfg    *config.Config
	client *http.Client
}

// NewClient creates a certificate-transparency client.
func NewClient(cfg *config.Config) *Client {
	return &Client{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.CertTimeout,
		},
	}
}

// RegistrableDomain reduces a URL or hostname to its registrable domain
// (sub.shop.example.co.uk -> example.co.uk) so CT lookups cover the whole
// site rather than one subdomain.
func RegistrableDomain(rawURL string) (string, error) {
	input := strings.TrimSpace(rawURL)
	if input == "" {
		return "", fmt.Errorf("empty URL")
	}
	if !strings.Contains(input, "://") {
		input = "https://" + input
	}
	parsed, err := url.Parse(input)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		return "", fmt.Errorf("URL has no host")
	}
	return publicsuffix.EffectiveTLDPlusOne(host)
}

// Oldest returns the earliest CT log entry for domain.
// Transient upstream failures are retried with exponential backoff up to
// the configured attempt count; crt.sh is routinely slow or briefly down.
func (c *Client) Oldest(ctx context.Context, domain string) (*Certificate, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return nil, &LookupError{Status: "error", Message: "No domain provided"}
	}

	queryURL := fmt.Sprintf("%s/?q=%s&output=json", c.cfg.CrtShBaseURL, url.QueryEscape(domain))

	var lastErr error
	for attempt := 1; attempt <= c.cfg.CertRetries; attempt++ {
		if attempt > 1 {
			// 1s, 2s, 4s, ...
			backoff := time.Duration(1<<(attempt-2)) * time.Second
			log.Debug().
				Str("domain", domain).
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Msg("Retrying certificate lookup")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, &LookupError{Status: "error", Message: "Certificate lookup canceled"}
			}
		}

		cert, retryable, err := c.fetch(ctx, queryURL, domain)
		if err == nil {
			return cert, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
		log.Warn().Str("domain", domain).Int("attempt", attempt).Err(err).Msg("Certificate lookup attempt failed")
	}

	return nil, lastErr
}

// fetch performs one crt.sh request. retryable marks failures worth another
// attempt.
func (c *Client) fetch(ctx context.Context, queryURL, domain string) (*Certificate, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, queryURL, nil)
	if err != nil {
		return nil, false, &LookupError{Status: "error", Message: "Invalid certificate lookup request"}
	}
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, true, &LookupError{Status: "error", Message: "Certificate transparency service unreachable"}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, &LookupError{Status: "not_found", Message: "No certificates found for " + domain}
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests:
		return nil, true, &LookupError{
			Status:  "error",
			Message: fmt.Sprintf("Certificate transparency service returned HTTP %d", resp.StatusCode),
		}
	case resp.StatusCode != http.StatusOK:
		return nil, false, &LookupError{
			Status:  "error",
			Message: fmt.Sprintf("Certificate transparency service returned HTTP %d", resp.StatusCode),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, true, &LookupError{Status: "error", Message: "Failed to read certificate data"}
	}

	var entries []entry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, false, &LookupError{Status: "error", Message: "Certificate data could not be parsed"}
	}
	if len(entries) == 0 {
		return nil, false, &LookupError{Status: "not_found", Message: "No certificates found for " + domain}
	}

	oldest := oldestEntry(entries)

	cert := &Certificate{
		CommonName: oldest.CommonName,
		FirstSeen:  formatEntryDate(oldest.EntryTimestamp),
		ValidFrom:  formatEntryDate(oldest.NotBefore),
		SourceURL:  fmt.Sprintf("https://crt.sh/?id=%d", oldest.ID),
	}

	log.Debug().
		Str("domain", domain).
		Int("entries", len(entries)).
		Str("first_seen", cert.FirstSeen).
		Msg("Certificate lookup finished")

	return cert, false, nil
}

// oldestEntry picks the entry with the earliest log timestamp. Entries with
// unparseable timestamps sort last.
func oldestEntry(entries []entry) entry {
	sorted := make([]entry, len(entries))
	copy(sorted, entries)

	sort.SliceStable(sorted, func(i, j int) bool {
		ti, iok := parseEntryTime(sorted[i].EntryTimestamp)
		tj, jok := parseEntryTime(sorted[j].EntryTimestamp)
		if iok != jok {
			return iok
		}
		return ti.Before(tj)
	})
	return sorted[0]
}

func parseEntryTime(value string) (time.Time, bool) {
	for _, layout := range entryTimeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// formatEntryDate renders a crt.sh timestamp as a short display date, or
// passes the raw value through when it cannot be parsed.
func formatEntryDate(value string) string {
	if t, ok := parseEntryTime(value); ok {
		return t.Format(types.DateLayout)
	}
	return value
}
