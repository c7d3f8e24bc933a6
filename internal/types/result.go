// Package types provides shared types, interfaces, and errors for the application.
package types

import "time"

// TimestampLayout is the display format for all timestamps surfaced to the
// caller: DD-MM-YYYY HH:mm:ss followed by the zone name. Timestamps are
// always normalized to UTC before formatting, so formatting and re-parsing
// with this layout yields the same instant.
const TimestampLayout = "02-01-2006 15:04:05 MST"

// DateLayout is the short display format used for certificate dates.
const DateLayout = "02-01-2006"

// FormatTimestamp renders t in the canonical display format.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses a string previously produced by FormatTimestamp.
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(TimestampLayout, s)
}

// Kind classifies a successful discovery entry.
type Kind string

// Kinds of timestamped entries. Favicon and Image come from media discovery;
// Registered and Updated come from RDAP events.
const (
	KindFavicon    Kind = "favicon"
	KindImage      Kind = "image"
	KindMedia      Kind = "media"
	KindRegistered Kind = "Registered"
	KindUpdated    Kind = "Updated"
)

// Severity classifies a diagnostic entry.
type Severity string

// Diagnostic severities. An Error entry means the lookup failed; an Info
// entry means it succeeded but produced nothing worth reporting.
const (
	SeverityError Severity = "Error"
	SeverityInfo  Severity = "Info"
)

// Result is one entry in a discovery or lookup report. It is a tagged
// variant: either a successful timestamped entry (Type holds a Kind, URL and
// LastModified are set) or a diagnostic (Type holds a Severity, Message is
// set). Callers distinguish the two with IsDiagnostic; a result is never a
// partially filled hybrid.
type Result struct {
	Type         string `json:"type"`
	URL          string `json:"url,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
	Message      string `json:"error,omitempty"`

	// Retryable marks Error diagnostics whose underlying failure is
	// transient (5xx, timeouts). Terminal failures (4xx, DNS, TLS) are not
	// retryable. Only meaningful on diagnostics.
	Retryable bool `json:"-"`

	// When carries the parsed instant for sorting; zero on diagnostics.
	When time.Time `json:"-"`
}

// Success builds a timestamped entry.
func Success(kind Kind, url string, lastModified time.Time) Result {
	return Result{
		Type:         string(kind),
		URL:          url,
		LastModified: FormatTimestamp(lastModified),
		When:         lastModified.UTC(),
	}
}

// Diagnostic builds an Error or Info entry.
func Diagnostic(sev Severity, message string, retryable bool) Result {
	return Result{
		Type:      string(sev),
		Message:   message,
		Retryable: retryable,
	}
}

// IsDiagnostic reports whether r is an Error or Info entry rather than a
// timestamped discovery.
func (r Result) IsDiagnostic() bool {
	return r.Type == string(SeverityError) || r.Type == string(SeverityInfo)
}

// HasSuccess reports whether at least one entry in results is a
// non-diagnostic timestamped entry. The discovery pipeline uses this as its
// tier short-circuit rule: a tier wins only when it produced at least one
// real timestamp, not merely a non-empty list of diagnostics.
func HasSuccess(results []Result) bool {
	for _, r := range results {
		if !r.IsDiagnostic() {
			return true
		}
	}
	return false
}
