package discover

import (
	"testing"

	"github.com/ysmood/gson"

	"github.com/nixintel/urldater/internal/types"
)

func TestHeaderValue(t *testing.T) {
	headers := map[string]gson.JSON{
		"Content-Type":  gson.New("image/png"),
		"last-modified": gson.New("Wed, 01 May 2019 12:00:00 GMT"),
	}

	if got := headerValue(headers, "Last-Modified"); got != "Wed, 01 May 2019 12:00:00 GMT" {
		t.Errorf("case-insensitive lookup failed, got %q", got)
	}
	if got := headerValue(headers, "ETag"); got != "" {
		t.Errorf("missing header should be empty, got %q", got)
	}
}

func TestKindForURL(t *testing.T) {
	tests := []struct {
		url  string
		want types.Kind
	}{
		{"https://example.com/favicon.ico", types.KindFavicon},
		{"https://example.com/static/icons/site.ico", types.KindFavicon},
		{"https://cdn.example.com/favicon-32x32.png", types.KindFavicon},
		{"https://example.com/images/header.png", types.KindImage},
		{"https://example.com/photo.jpg", types.KindImage},
	}
	for _, tt := range tests {
		if got := kindForURL(tt.url); got != tt.want {
			t.Errorf("kindForURL(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestMediaCaptureDedupAndCap(t *testing.T) {
	mc := newMediaCapture()

	mc.add("https://example.com/a.png", "Wed, 01 May 2019 12:00:00 GMT")
	mc.add("https://example.com/a.png", "Wed, 01 May 2019 12:00:00 GMT")
	mc.add("https://example.com/b.png", "")

	entries := mc.snapshot()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries after dedup, got %d", len(entries))
	}
	if entries[0].url != "https://example.com/a.png" {
		t.Errorf("unexpected first entry: %+v", entries[0])
	}
}
