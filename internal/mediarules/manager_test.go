package mediarules

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewManager_EmbeddedOnly(t *testing.T) {
	m, err := NewManager("", false)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	defer m.Close()

	r := m.Get()
	if r == nil {
		t.Fatal("Get() returned nil")
	}
	if len(r.Extensions) == 0 {
		t.Error("Expected extensions from embedded rules")
	}
	if len(r.FaviconSelectors) == 0 {
		t.Error("Expected favicon selectors from embedded rules")
	}
}

func TestNewManager_ExternalFile(t *testing.T) {
	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "rules.yaml")

	content := `
extensions:
  - .png
  - .avif
favicon_selectors:
  - "link[rel='icon']"
`
	if err := os.WriteFile(tmpFile, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}

	m, err := NewManager(tmpFile, false)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	defer m.Close()

	r := m.Get()
	if len(r.Extensions) != 2 {
		t.Errorf("Expected 2 extensions, got %d", len(r.Extensions))
	}
	if !r.IsMedia("https://example.com/photo.avif") {
		t.Error("Expected .avif to be media under external rules")
	}
	if r.IsMedia("https://example.com/photo.gif") {
		t.Error("Expected .gif to be excluded under external rules")
	}

	// Embedded fields fill in missing ones
	if r.DefaultFaviconPath != "/favicon.ico" {
		t.Errorf("Expected embedded default favicon path, got %s", r.DefaultFaviconPath)
	}
	if len(r.ImageSelectors) == 0 {
		t.Error("Expected embedded image selectors to be used")
	}
}

func TestNewManager_InvalidExternalFallsBack(t *testing.T) {
	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "rules.yaml")

	if err := os.WriteFile(tmpFile, []byte("extensions: [png-without-dot]"), 0644); err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}

	m, err := NewManager(tmpFile, false)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	defer m.Close()

	// Invalid external file keeps embedded defaults
	r := m.Get()
	if !r.IsMedia("https://example.com/a.gif") {
		t.Error("Expected embedded rules to remain active after invalid external file")
	}
}

func TestManager_Get_Concurrent(t *testing.T) {
	m, err := NewManager("", false)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	defer m.Close()

	const goroutines = 50
	const iterations = 500

	done := make(chan bool)
	for i := 0; i < goroutines; i++ {
		go func() {
			for j := 0; j < iterations; j++ {
				r := m.Get()
				if r == nil {
					t.Error("Get() returned nil")
					return
				}
			}
			done <- true
		}()
	}
	for i := 0; i < goroutines; i++ {
		<-done
	}
}

func TestManager_Reload(t *testing.T) {
	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "rules.yaml")

	initial := `
extensions:
  - .png
favicon_selectors:
  - "link[rel='icon']"
`
	if err := os.WriteFile(tmpFile, []byte(initial), 0644); err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}

	m, err := NewManager(tmpFile, false)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	defer m.Close()

	if m.Get().IsMedia("https://example.com/a.webm") {
		t.Error("Expected .webm excluded before reload")
	}

	updated := `
extensions:
  - .png
  - .webm
favicon_selectors:
  - "link[rel='icon']"
`
	if err := os.WriteFile(tmpFile, []byte(updated), 0644); err != nil {
		t.Fatalf("Failed to update temp file: %v", err)
	}

	if err := m.Reload(); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	if !m.Get().IsMedia("https://example.com/a.webm") {
		t.Error("Expected .webm included after reload")
	}

	stats := m.Stats()
	if stats.ReloadCount < 2 {
		t.Errorf("Expected at least 2 reloads recorded, got %d", stats.ReloadCount)
	}
	if stats.LastReloadTime.IsZero() {
		t.Error("Expected LastReloadTime to be set")
	}
}

func TestManager_ReloadNoPath(t *testing.T) {
	m, err := NewManager("", false)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	defer m.Close()

	if err := m.Reload(); err == nil {
		t.Error("Expected error reloading without a configured path")
	}
}

func TestManager_HotReload(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping hot-reload test in short mode")
	}

	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "rules.yaml")

	initial := `
extensions:
  - .png
favicon_selectors:
  - "link[rel='icon']"
`
	if err := os.WriteFile(tmpFile, []byte(initial), 0644); err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}

	m, err := NewManager(tmpFile, true)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	defer m.Close()

	updated := `
extensions:
  - .png
  - .webm
favicon_selectors:
  - "link[rel='icon']"
`
	if err := os.WriteFile(tmpFile, []byte(updated), 0644); err != nil {
		t.Fatalf("Failed to update temp file: %v", err)
	}

	// Wait for the debounced watcher reload
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.Get().IsMedia("https://example.com/a.webm") {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Error("Hot-reload did not pick up file change within deadline")
}

func TestManager_CloseIdempotent(t *testing.T) {
	m, err := NewManager("", false)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	if err := m.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := m.Close(); err != nil {
		t.Errorf("Second Close() error = %v", err)
	}
}
