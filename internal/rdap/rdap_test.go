package rdap

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nixintel/urldater/internal/config"
	"github.com/nixintel/urldater/internal/types"
)

const sampleRegistry = `RDAP from Registry:
{
  "events": [
    {"eventAction": "registration", "eventDate": "1997-09-15T04:00:00Z"},
    {"eventAction": "last changed", "eventDate": "2024-01-02T03:04:05.123Z"},
    {"eventAction": "expiration", "eventDate": "2028-09-14T04:00:00Z"}
  ],
  "links": [
    {"rel": "self", "type": "application/rdap+json", "value": "https://registry.example/self"},
    {"rel": "related", "type": "application/rdap+json", "value": "https://registrar.example/domain/example.com"}
  ]
}
RDAP from Registrar:
{"events": [{"eventAction": "registration", "eventDate": "1999-01-01T00:00:00Z"}]}
`

func testClient(out []byte, err error) (*Client, *[]string) {
	var calls []string
	cfg := &config.Config{RDAPBinary: "rdap", RDAPTimeout: 5 * time.Second}
	c := NewClient(cfg)
	c.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		calls = append(calls, append([]string{name}, args...)...)
		return out, err
	}
	return c, &calls
}

func TestLookup(t *testing.T) {
	c, calls := testClient([]byte(sampleRegistry), nil)

	results, err := c.Lookup(context.Background(), "www.Example.com")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}

	if len(*calls) != 3 || (*calls)[0] != "rdap" || (*calls)[1] != "--json" || (*calls)[2] != "example.com" {
		t.Errorf("Unexpected command invocation: %v", *calls)
	}

	// Only registration and last changed survive; registrar section ignored
	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d: %+v", len(results), results)
	}
	if results[0].Type != string(types.KindRegistered) {
		t.Errorf("Expected Registered first, got %s", results[0].Type)
	}
	if results[0].LastModified != "15-09-1997 04:00:00 UTC" {
		t.Errorf("Unexpected registration date: %s", results[0].LastModified)
	}
	if results[0].URL != "https://registrar.example/domain/example.com" {
		t.Errorf("Expected related link as source URL, got %s", results[0].URL)
	}
	if results[1].Type != string(types.KindUpdated) {
		t.Errorf("Expected Updated second, got %s", results[1].Type)
	}
	if results[1].LastModified != "02-01-2024 03:04:05 UTC" {
		t.Errorf("Unexpected update date: %s", results[1].LastModified)
	}
}

func TestLookup_FallbackSourceURL(t *testing.T) {
	out := `{"events": [{"eventAction": "registration", "eventDate": "2010-05-01T00:00:00Z"}]}`
	c, _ := testClient([]byte(out), nil)

	results, err := c.Lookup(context.Background(), "example.org")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Expected 1 result, got %d", len(results))
	}
	if results[0].URL != "https://rdap.org/domain/example.org" {
		t.Errorf("Expected rdap.org fallback URL, got %s", results[0].URL)
	}
}

func TestLookup_CommandFailure(t *testing.T) {
	c, _ := testClient(nil, errors.New("exec: \"rdap\": executable file not found"))

	if _, err := c.Lookup(context.Background(), "example.com"); err == nil {
		t.Error("Expected error when the rdap binary fails")
	}
}

func TestLookup_EmptyOutput(t *testing.T) {
	c, _ := testClient([]byte("   \n"), nil)

	if _, err := c.Lookup(context.Background(), "example.com"); err == nil {
		t.Error("Expected error on empty rdap output")
	}
}

func TestLookup_EmptyDomain(t *testing.T) {
	c, _ := testClient(nil, nil)

	if _, err := c.Lookup(context.Background(), "  "); err == nil {
		t.Error("Expected error on empty domain")
	}
}

func TestParseOutput_LogNoiseBeforeJSON(t *testing.T) {
	out := []byte("fetching https://rdap.verisign.com ...\n{\"events\": []}")

	rec, err := parseOutput(out)
	if err != nil {
		t.Fatalf("parseOutput() error = %v", err)
	}
	if len(rec.Events) != 0 {
		t.Errorf("Expected no events, got %d", len(rec.Events))
	}
}

func TestParseOutput_Garbage(t *testing.T) {
	if _, err := parseOutput([]byte("not json at all")); err == nil {
		t.Error("Expected parse error on garbage output")
	}
}

func TestParseEventDate(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  string
		ok    bool
	}{
		{"plain", "1997-09-15T04:00:00Z", "1997-09-15T04:00:00Z", true},
		{"fractional", "2024-01-02T03:04:05.999Z", "2024-01-02T03:04:05Z", true},
		{"offset", "2024-01-02T03:04:05+02:00", "2024-01-02T01:04:05Z", true},
		{"fractional offset", "2024-01-02T03:04:05.5+02:00", "2024-01-02T01:04:05Z", true},
		{"garbage", "yesterday", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseEventDate(tt.value)
			if (err == nil) != tt.ok {
				t.Fatalf("parseEventDate(%q) err = %v, want ok=%v", tt.value, err, tt.ok)
			}
			if tt.ok && got.UTC().Format(time.RFC3339) != tt.want {
				t.Errorf("parseEventDate(%q) = %s, want %s", tt.value, got.UTC().Format(time.RFC3339), tt.want)
			}
		})
	}
}
