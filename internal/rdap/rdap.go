// Package rdap looks up domain registration events via the OpenRDAP
// command-line client.
package rdap

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nixintel/urldater/internal/config"
	"github.com/nixintel/urldater/internal/types"
)

// Registry/registrar section markers in the CLI output. The client prints
// these before each JSON document; only the registry section is wanted.
const (
	registryMarker  = "RDAP from Registry:"
	registrarMarker = "RDAP from Registrar:"
)

// record is the slice of an RDAP response this package cares about.
type record struct {
	Events []struct {
		EventAction string `json:"eventAction"`
		EventDate   string `json:"eventDate"`
	} `json:"events"`
	Links []struct {
		Rel   string `json:"rel"`
		Type  string `json:"type"`
		Value string `json:"value"`
	} `json:"links"`
}

// runner executes the external RDAP binary; swappable in tests.
type runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Client runs RDAP lookups.
type Client struct {
	cfg *config.Config
	run runner
}

// NewClient creates an RDAP client using the configured binary.
func NewClient(cfg *config.Config) *Client {
	return &Client{
		cfg: cfg,
		run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			// stderr folded into stdout: the client logs there and the
			// framing strip handles it either way
			return exec.CommandContext(ctx, name, args...).CombinedOutput()
		},
	}
}

// Lookup returns Registered/Updated entries for a domain. One attempt, no
// retry: registries rate-limit aggressively and a miss is not critical to
// the report. Failures return an error for the caller to turn into a
// diagnostic.
func (c *Client) Lookup(ctx context.Context, domain string) ([]types.Result, error) {
	domain = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(domain)), "www.")
	if domain == "" {
		return nil, fmt.Errorf("empty domain")
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RDAPTimeout)
	defer cancel()

	log.Info().Str("domain", domain).Msg("Running RDAP lookup")

	out, err := c.run(ctx, c.cfg.RDAPBinary, "--json", domain)
	if err != nil {
		return nil, fmt.Errorf("rdap command failed: %w", err)
	}
	if len(strings.TrimSpace(string(out))) == 0 {
		return nil, fmt.Errorf("rdap command produced no output")
	}

	rec, err := parseOutput(out)
	if err != nil {
		return nil, err
	}

	sourceURL := rec.sourceURL(domain)

	var results []types.Result
	for _, event := range rec.Events {
		if event.EventAction == "" || event.EventDate == "" {
			continue
		}

		kind, relevant := kindForAction(event.EventAction)
		if !relevant {
			continue
		}

		when, err := parseEventDate(event.EventDate)
		if err != nil {
			log.Warn().
				Str("domain", domain).
				Str("date", event.EventDate).
				Err(err).
				Msg("Unparseable RDAP event date")
			continue
		}

		results = append(results, types.Success(kind, sourceURL, when))
	}

	log.Debug().Str("domain", domain).Int("events", len(results)).Msg("RDAP lookup finished")
	return results, nil
}

// parseOutput strips the registry/registrar framing and decodes the
// registry JSON document.
func parseOutput(out []byte) (*record, error) {
	text := string(out)

	if idx := strings.Index(text, registryMarker); idx >= 0 {
		text = text[idx+len(registryMarker):]
	}
	if idx := strings.Index(text, registrarMarker); idx >= 0 {
		text = text[:idx]
	}
	text = strings.TrimSpace(text)

	// Tolerate stray log lines before the document
	if idx := strings.IndexByte(text, '{'); idx > 0 {
		text = text[idx:]
	}

	var rec record
	if err := json.Unmarshal([]byte(text), &rec); err != nil {
		return nil, fmt.Errorf("failed to parse rdap output: %w", err)
	}
	return &rec, nil
}

// sourceURL picks the related rdap+json link, falling back to rdap.org.
func (r *record) sourceURL(domain string) string {
	for _, link := range r.Links {
		if link.Rel == "related" && link.Type == "application/rdap+json" && link.Value != "" {
			return link.Value
		}
	}
	return "https://rdap.org/domain/" + domain
}

// kindForAction maps RDAP event actions to report kinds.
func kindForAction(action string) (types.Kind, bool) {
	switch action {
	case "registration":
		return types.KindRegistered, true
	case "last changed":
		return types.KindUpdated, true
	default:
		return "", false
	}
}

// parseEventDate parses RDAP event dates, which are RFC 3339 with optional
// fractional seconds.
func parseEventDate(value string) (time.Time, error) {
	// Some registries emit sub-second precision the fixed layouts reject
	if idx := strings.IndexByte(value, '.'); idx >= 0 {
		if z := strings.IndexAny(value[idx:], "Z+-"); z >= 0 {
			value = value[:idx] + value[idx+z:]
		} else {
			value = value[:idx] + "Z"
		}
	}
	return time.Parse(time.RFC3339, value)
}
