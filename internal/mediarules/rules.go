// Package mediarules provides the media allow-list and selector rules used
// during discovery, with optional runtime overrides.
package mediarules

import (
	"embed"
	"fmt"
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRulesFS embed.FS

// Rules describes which page resources count as dateable media and how
// favicons are located in the DOM.
type Rules struct {
	Extensions         []string `yaml:"extensions"`
	FaviconSelectors   []string `yaml:"favicon_selectors"`
	ImageSelectors     []string `yaml:"image_selectors"`
	DefaultFaviconPath string   `yaml:"default_favicon_path"`
}

var (
	instance *Rules
	once     sync.Once
	loadErr  error
)

// Get returns the singleton embedded Rules instance.
func Get() *Rules {
	once.Do(func() {
		instance, loadErr = load()
		if loadErr != nil {
			log.Error().Err(loadErr).Msg("Failed to load media rules, using defaults")
			instance = defaultRules()
		}
	})
	return instance
}

// load reads rules from the embedded YAML file.
func load() (*Rules, error) {
	data, err := defaultRulesFS.ReadFile("rules.yaml")
	if err != nil {
		return nil, err
	}

	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, err
	}

	log.Debug().
		Int("extensions", len(r.Extensions)).
		Int("favicon_selectors", len(r.FaviconSelectors)).
		Msg("Media rules loaded")

	return &r, nil
}

// defaultRules returns hardcoded fallback rules.
func defaultRules() *Rules {
	return &Rules{
		Extensions: []string{
			".gif", ".jpg", ".jpeg", ".png", ".svg", ".ico",
			".webp", ".tif", ".tiff", ".bmp", ".heif", ".eps",
		},
		FaviconSelectors: []string{
			"link[rel='icon']",
			"link[rel='shortcut icon']",
			"link[rel='apple-touch-icon']",
			"link[rel*='icon']",
		},
		ImageSelectors:     []string{"img[src]"},
		DefaultFaviconPath: "/favicon.ico",
	}
}

// Validate checks that the Rules carry the minimum required fields.
func (r *Rules) Validate() error {
	if len(r.Extensions) == 0 {
		return fmt.Errorf("media rules must list at least one extension")
	}
	for _, ext := range r.Extensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("extension %q must start with a dot", ext)
		}
	}
	if len(r.FaviconSelectors) == 0 {
		return fmt.Errorf("media rules must list at least one favicon selector")
	}
	return nil
}

// IsMedia reports whether rawURL points at an allow-listed media resource.
// Query strings and fragments are ignored; matching is case-insensitive.
// data: and javascript: URLs are never media.
func (r *Rules) IsMedia(rawURL string) bool {
	if rawURL == "" {
		return false
	}
	lower := strings.ToLower(rawURL)
	if strings.HasPrefix(lower, "data:") || strings.HasPrefix(lower, "javascript:") {
		return false
	}

	p := lower
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		p = strings.ToLower(u.Path)
	} else {
		// Fall back to stripping query/fragment by hand
		if i := strings.IndexAny(p, "?#"); i >= 0 {
			p = p[:i]
		}
	}

	ext := path.Ext(p)
	if ext == "" {
		return false
	}

	for _, e := range r.Extensions {
		if strings.EqualFold(e, ext) {
			return true
		}
	}
	return false
}
