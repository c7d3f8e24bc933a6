package types

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestFormatTimestampNormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("CEST", 2*60*60)
	in := time.Date(2019, 5, 1, 14, 0, 0, 0, loc)

	got := FormatTimestamp(in)
	want := "01-05-2019 12:00:00 UTC"
	if got != want {
		t.Errorf("FormatTimestamp = %q, want %q", got, want)
	}

	parsed, err := ParseTimestamp(got)
	if err != nil {
		t.Fatalf("ParseTimestamp(%q): %v", got, err)
	}
	if !parsed.Equal(in) {
		t.Errorf("round trip changed instant: %v != %v", parsed, in)
	}
}

func TestSuccessAndDiagnostic(t *testing.T) {
	ts := time.Date(2019, 5, 1, 12, 0, 0, 0, time.UTC)

	s := Success(KindFavicon, "https://example.com/favicon.ico", ts)
	if s.IsDiagnostic() {
		t.Error("Success entry reported as diagnostic")
	}
	if s.Type != string(KindFavicon) || s.URL == "" || s.LastModified == "" {
		t.Errorf("unexpected success entry: %+v", s)
	}
	if !s.When.Equal(ts) {
		t.Errorf("When = %v, want %v", s.When, ts)
	}

	d := Diagnostic(SeverityError, "lookup failed", true)
	if !d.IsDiagnostic() {
		t.Error("Error entry not reported as diagnostic")
	}
	if !d.Retryable {
		t.Error("Retryable flag lost")
	}

	i := Diagnostic(SeverityInfo, "nothing found", false)
	if !i.IsDiagnostic() {
		t.Error("Info entry not reported as diagnostic")
	}
}

func TestResultJSONShape(t *testing.T) {
	d := Diagnostic(SeverityError, "lookup failed", true)
	raw, err := json.Marshal(d)
	if err != nil {
		t.Fatal(err)
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatal(err)
	}
	if m["type"] != "Error" || m["error"] != "lookup failed" {
		t.Errorf("unexpected diagnostic JSON: %s", raw)
	}
	// Internal fields must not leak into the wire format.
	for _, key := range []string{"Retryable", "When", "url", "last_modified"} {
		if _, ok := m[key]; ok {
			t.Errorf("unexpected key %q in diagnostic JSON: %s", key, raw)
		}
	}
}

func TestHasSuccess(t *testing.T) {
	ts := time.Now()
	tests := []struct {
		name    string
		results []Result
		want    bool
	}{
		{"empty", nil, false},
		{"only diagnostics", []Result{
			Diagnostic(SeverityError, "failed", false),
			Diagnostic(SeverityInfo, "nothing", false),
		}, false},
		{"mixed", []Result{
			Diagnostic(SeverityInfo, "nothing", false),
			Success(KindImage, "https://example.com/a.png", ts),
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasSuccess(tt.results); got != tt.want {
				t.Errorf("HasSuccess = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPoolErrorUnwrap(t *testing.T) {
	base := errors.New("spawn failed")
	err := NewInstanceCreateError("chromium missing", base)

	if !errors.Is(err, ErrInstanceCreateFailed) {
		t.Error("expected errors.Is to match ErrInstanceCreateFailed")
	}
	if !errors.Is(err, base) {
		t.Error("expected errors.Is to match the wrapped cause")
	}

	var pe *PoolError
	if !errors.As(err, &pe) {
		t.Fatal("expected errors.As to find *PoolError")
	}
	if pe.Operation != "create" {
		t.Errorf("Operation = %q, want %q", pe.Operation, "create")
	}
}
