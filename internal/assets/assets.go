// Package assets provides embedded templates and page content for the web
// UI. Using Go's embed package allows for single-binary deployment without
// external file dependencies.
package assets

import (
	"bytes"
	"embed"
	"fmt"
	"html"
	"html/template"
	"io/fs"
	"regexp"

	"github.com/yuin/goldmark"
)

// Templates embeds all HTML templates.
//
//go:embed templates/*.html
var Templates embed.FS

// Content embeds the markdown sources for the static pages.
//
//go:embed content/*.md
var Content embed.FS

var (
	indexTemplate = template.Must(template.ParseFS(Templates, "templates/index.html"))
	pageTemplate  = template.Must(template.ParseFS(Templates, "templates/page.html"))

	markdown = goldmark.New()
)

// sanitizeVersion removes any potentially dangerous characters from the
// version string. This prevents XSS via build-time ldflags injection.
var versionSanitizer = regexp.MustCompile(`[^a-zA-Z0-9.\-_+]`)

// SanitizeVersion sanitizes a version string before it is rendered into a
// page. Returns "unknown" if the result is empty after sanitization.
func SanitizeVersion(version string) string {
	escaped := html.EscapeString(version)
	sanitized := versionSanitizer.ReplaceAllString(escaped, "")
	if sanitized == "" {
		return "unknown"
	}
	if len(sanitized) > 100 {
		sanitized = sanitized[:100]
	}
	return sanitized
}

// indexData is the template context for the landing page.
type indexData struct {
	Version string
}

// RenderIndex renders the analysis form page.
func RenderIndex(version string) (string, error) {
	var buf bytes.Buffer
	if err := indexTemplate.Execute(&buf, indexData{Version: SanitizeVersion(version)}); err != nil {
		return "", fmt.Errorf("render index: %w", err)
	}
	return buf.String(), nil
}

// pageData is the template context for markdown-backed pages.
type pageData struct {
	Title   string
	Content template.HTML
	Version string
}

// RenderMarkdownPage reads content/<name>.md, converts it to HTML and wraps
// it in the page layout. The markdown is trusted embedded content, so its
// rendered HTML is injected without further escaping.
func RenderMarkdownPage(name, title, version string) (string, error) {
	source, err := fs.ReadFile(Content, "content/"+name+".md")
	if err != nil {
		return "", fmt.Errorf("read page %s: %w", name, err)
	}

	var body bytes.Buffer
	if err := markdown.Convert(source, &body); err != nil {
		return "", fmt.Errorf("convert page %s: %w", name, err)
	}

	var buf bytes.Buffer
	data := pageData{
		Title:   title,
		Content: template.HTML(body.String()),
		Version: SanitizeVersion(version),
	}
	if err := pageTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render page %s: %w", name, err)
	}
	return buf.String(), nil
}
