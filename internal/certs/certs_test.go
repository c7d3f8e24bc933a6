package certs

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nixintel/urldater/internal/config"
)

func testClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	return NewClient(&config.Config{
		CrtShBaseURL: baseURL,
		CertTimeout:  5 * time.Second,
		CertRetries:  2,
	})
}

const sampleEntries = `[
	{"id": 300, "common_name": "example.com", "entry_timestamp": "2020-06-01T10:00:00.123", "not_before": "2020-05-30T00:00:00"},
	{"id": 100, "common_name": "www.example.com", "entry_timestamp": "2015-03-09T08:30:00", "not_before": "2015-03-08T00:00:00"},
	{"id": 200, "common_name": "example.com", "entry_timestamp": "2018-01-15T12:00:00", "not_before": "2018-01-14T00:00:00"}
]`

func TestOldest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") != "example.com" || r.URL.Query().Get("output") != "json" {
			t.Errorf("Unexpected query: %s", r.URL.RawQuery)
		}
		w.Write([]byte(sampleEntries))
	}))
	defer srv.Close()

	cert, err := testClient(t, srv.URL).Oldest(context.Background(), "Example.COM")
	if err != nil {
		t.Fatalf("Oldest() error = %v", err)
	}

	if cert.CommonName != "www.example.com" {
		t.Errorf("Expected oldest entry's common name, got %s", cert.CommonName)
	}
	if cert.FirstSeen != "09-03-2015" {
		t.Errorf("Expected first seen 09-03-2015, got %s", cert.FirstSeen)
	}
	if cert.ValidFrom != "08-03-2015" {
		t.Errorf("Expected valid from 08-03-2015, got %s", cert.ValidFrom)
	}
	if cert.SourceURL != "https://crt.sh/?id=100" {
		t.Errorf("Expected source URL for entry 100, got %s", cert.SourceURL)
	}
}

func TestOldest_NoEntries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	_, err := testClient(t, srv.URL).Oldest(context.Background(), "never-certified.example")

	var lookupErr *LookupError
	if !errors.As(err, &lookupErr) {
		t.Fatalf("Expected LookupError, got %v", err)
	}
	if lookupErr.Status != "not_found" {
		t.Errorf("Expected not_found status, got %s", lookupErr.Status)
	}
}

func TestOldest_RetriesServerErrors(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			http.Error(w, "bad gateway", http.StatusBadGateway)
			return
		}
		w.Write([]byte(sampleEntries))
	}))
	defer srv.Close()

	cert, err := testClient(t, srv.URL).Oldest(context.Background(), "example.com")
	if err != nil {
		t.Fatalf("Oldest() error = %v", err)
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts)
	}
	if cert.SourceURL != "https://crt.sh/?id=100" {
		t.Errorf("Unexpected certificate: %+v", cert)
	}
}

func TestOldest_ExhaustsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := testClient(t, srv.URL).Oldest(context.Background(), "example.com")

	var lookupErr *LookupError
	if !errors.As(err, &lookupErr) {
		t.Fatalf("Expected LookupError, got %v", err)
	}
	if lookupErr.Status != "error" {
		t.Errorf("Expected error status, got %s", lookupErr.Status)
	}
}

func TestOldest_GarbageBodyNotRetried(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.Write([]byte("<html>definitely not json</html>"))
	}))
	defer srv.Close()

	if _, err := testClient(t, srv.URL).Oldest(context.Background(), "example.com"); err == nil {
		t.Error("Expected error on unparseable body")
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt for a non-retryable failure, got %d", attempts)
	}
}

func TestOldest_EmptyDomain(t *testing.T) {
	if _, err := testClient(t, "https://crt.sh").Oldest(context.Background(), "  "); err == nil {
		t.Error("Expected error on empty domain")
	}
}

func TestRegistrableDomain(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"bare domain", "example.com", "example.com", false},
		{"subdomain", "https://shop.cdn.example.com/path", "example.com", false},
		{"co.uk", "https://news.example.co.uk", "example.co.uk", false},
		{"www", "www.example.org", "example.org", false},
		{"empty", "  ", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RegistrableDomain(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("RegistrableDomain(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("RegistrableDomain(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
