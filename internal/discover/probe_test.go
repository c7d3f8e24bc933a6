package discover

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/nixintel/urldater/internal/config"
	"github.com/nixintel/urldater/internal/mediarules"
	"github.com/nixintel/urldater/internal/types"
)

const testLastModified = "Wed, 21 Oct 2020 07:28:00 GMT"
const testLastModifiedDisplay = "21-10-2020 07:28:00 UTC"

func testDiscoverConfig() *config.Config {
	return &config.Config{
		ProbeTimeout:      2 * time.Second,
		BatchTimeout:      5 * time.Second,
		DiscoverTimeout:   10 * time.Second,
		NavigationTimeout: 2 * time.Second,
		ReadyStateTimeout: time.Second,
		ProbeConcurrency:  4,
	}
}

func newTestDiscoverer(t *testing.T) *Discoverer {
	t.Helper()
	return New(testDiscoverConfig(), nil, mediarules.GetManager())
}

func TestHTTPProbe_FindsFaviconAndImages(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head>
			<link rel="icon" href="/static/fav.ico">
		</head><body>
			<img src="/img/logo.png">
			<img src="/img/tracker">
			<img src="data:image/png;base64,iVBORw0KGgo=">
		</body></html>`))
	})
	dated := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Last-Modified", testLastModified)
		w.WriteHeader(http.StatusOK)
	}
	mux.HandleFunc("/static/fav.ico", dated)
	mux.HandleFunc("/img/logo.png", dated)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	d := newTestDiscoverer(t)
	results := d.httpProbe(context.Background(), srv.URL+"/")

	if len(results) != 2 {
		t.Fatalf("Expected 2 dated results, got %d: %+v", len(results), results)
	}
	if results[0].Type != string(types.KindFavicon) {
		t.Errorf("Expected favicon first, got %s", results[0].Type)
	}
	if results[0].URL != srv.URL+"/static/fav.ico" {
		t.Errorf("Unexpected favicon URL: %s", results[0].URL)
	}
	if results[0].LastModified != testLastModifiedDisplay {
		t.Errorf("Expected %q, got %q", testLastModifiedDisplay, results[0].LastModified)
	}
	if results[1].Type != string(types.KindImage) {
		t.Errorf("Expected image second, got %s", results[1].Type)
	}
}

func TestHTTPProbe_404IsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	d := newTestDiscoverer(t)
	results := d.httpProbe(context.Background(), srv.URL+"/gone")

	if len(results) != 1 {
		t.Fatalf("Expected single diagnostic, got %d", len(results))
	}
	r := results[0]
	if !r.IsDiagnostic() || r.Type != string(types.SeverityError) {
		t.Errorf("Expected Error diagnostic, got %+v", r)
	}
	if r.Retryable {
		t.Error("4xx must be terminal, not retryable")
	}
	if !terminalOnly(results) {
		t.Error("Expected terminalOnly to stop the cascade")
	}
}

func TestHTTPProbe_BlockPageDefersToBrowserTiers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("<html><body>Error code: 1020 - Access denied</body></html>"))
	}))
	defer srv.Close()

	d := newTestDiscoverer(t)
	results := d.httpProbe(context.Background(), srv.URL+"/")

	// Bot mitigation is not a dead page; the browser tiers should still try
	if len(results) != 0 {
		t.Errorf("Expected no results on block page, got %+v", results)
	}
}

func TestHTTPProbe_ServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := newTestDiscoverer(t)
	results := d.httpProbe(context.Background(), srv.URL+"/")

	// A 5xx surfaces as a diagnostic but must not stop the cascade: the
	// browser tiers should still try
	if len(results) != 1 {
		t.Fatalf("Expected single diagnostic on 5xx, got %d: %+v", len(results), results)
	}
	r := results[0]
	if !r.IsDiagnostic() || r.Type != string(types.SeverityError) {
		t.Errorf("Expected Error diagnostic, got %+v", r)
	}
	if !r.Retryable {
		t.Error("5xx must be retryable")
	}
	if terminalOnly(results) {
		t.Error("5xx diagnostic must not stop the cascade")
	}
}

func TestHTTPProbe_DefaultFaviconFallback(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>no icon link</title></head><body></body></html>`))
	})
	mux.HandleFunc("/favicon.ico", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Last-Modified", testLastModified)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	d := newTestDiscoverer(t)
	results := d.httpProbe(context.Background(), srv.URL+"/")

	if len(results) != 1 {
		t.Fatalf("Expected 1 result from default favicon path, got %d", len(results))
	}
	if results[0].URL != srv.URL+"/favicon.ico" {
		t.Errorf("Expected default favicon URL, got %s", results[0].URL)
	}
}

func TestHTTPProbe_HeadFallsBackToGet(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><link rel="icon" href="/fav.png"></head></html>`))
	})
	mux.HandleFunc("/fav.png", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Last-Modified", testLastModified)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	d := newTestDiscoverer(t)
	results := d.httpProbe(context.Background(), srv.URL+"/")

	if len(results) != 1 {
		t.Fatalf("Expected 1 result via GET fallback, got %d", len(results))
	}
}

func TestHTTPProbe_NoLastModifiedHeader(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><link rel="icon" href="/fav.ico"></head></html>`))
	})
	mux.HandleFunc("/fav.ico", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	d := newTestDiscoverer(t)
	results := d.httpProbe(context.Background(), srv.URL+"/")

	if len(results) != 0 {
		t.Errorf("Expected no results without Last-Modified, got %+v", results)
	}
}

func TestHTTPProbe_XLastModifiedFallback(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><link rel="icon" href="/fav.ico"></head></html>`))
	})
	mux.HandleFunc("/fav.ico", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Last-Modified", testLastModified)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	d := newTestDiscoverer(t)
	results := d.httpProbe(context.Background(), srv.URL+"/")

	if len(results) != 1 {
		t.Fatalf("Expected 1 result via X-Last-Modified, got %d", len(results))
	}
	if results[0].LastModified != testLastModifiedDisplay {
		t.Errorf("Expected %q, got %q", testLastModifiedDisplay, results[0].LastModified)
	}
}

func TestHTTPProbe_DeduplicatesCandidates(t *testing.T) {
	hits := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head>
			<link rel="icon" href="/fav.ico">
			<link rel="shortcut icon" href="/fav.ico">
		</head></html>`))
	})
	mux.HandleFunc("/fav.ico", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			hits++
		}
		w.Header().Set("Last-Modified", testLastModified)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	d := newTestDiscoverer(t)
	results := d.httpProbe(context.Background(), srv.URL+"/")

	if len(results) != 1 {
		t.Fatalf("Expected 1 deduplicated result, got %d", len(results))
	}
	if hits != 1 {
		t.Errorf("Expected 1 probe for duplicated candidate, got %d", hits)
	}
}

func TestResolveRef(t *testing.T) {
	base, _ := url.Parse("https://example.com/blog/post")

	tests := []struct {
		name string
		raw  string
		want string
		ok   bool
	}{
		{"absolute", "https://cdn.example.com/a.png", "https://cdn.example.com/a.png", true},
		{"root relative", "/img/a.png", "https://example.com/img/a.png", true},
		{"document relative", "a.png", "https://example.com/blog/a.png", true},
		{"protocol relative", "//cdn.example.com/a.png", "https://cdn.example.com/a.png", true},
		{"fragment stripped", "/a.png#top", "https://example.com/a.png", true},
		{"data url", "data:image/png;base64,xx", "", false},
		{"javascript url", "javascript:alert(1)", "", false},
		{"empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := resolveRef(base, tt.raw)
			if ok != tt.ok || got != tt.want {
				t.Errorf("resolveRef(%q) = (%q, %v), want (%q, %v)", tt.raw, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestParseLastModified(t *testing.T) {
	tests := []struct {
		name  string
		value string
		ok    bool
	}{
		{"rfc1123", "Wed, 21 Oct 2020 07:28:00 GMT", true},
		{"rfc850 rejected", "Wednesday, 21-Oct-20 07:28:00 GMT", false},
		{"asctime rejected", "Wed Oct 21 07:28:00 2020", false},
		{"empty", "", false},
		{"garbage", "not a date", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseLastModified(tt.value)
			if ok != tt.ok {
				t.Fatalf("parseLastModified(%q) ok = %v, want %v", tt.value, ok, tt.ok)
			}
			if ok && got.IsZero() {
				t.Error("Expected non-zero time on success")
			}
		})
	}
}
