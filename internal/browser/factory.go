package browser

import (
	"context"
	"fmt"
	"os"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"

	"github.com/nixintel/urldater/internal/config"
	"github.com/nixintel/urldater/pkg/version"
)

// Factory creates browser instances for the pool.
type Factory interface {
	New(ctx context.Context) (*Instance, error)
}

// RodFactory launches real Chromium processes via rod.
type RodFactory struct {
	cfg *config.Config
}

// NewRodFactory creates a factory using the given configuration.
func NewRodFactory(cfg *config.Config) *RodFactory {
	return &RodFactory{cfg: cfg}
}

// New launches a browser with a private profile directory and connects to it.
// The profile directory is removed when the instance is destroyed.
func (f *RodFactory) New(ctx context.Context) (*Instance, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	profileDir, err := os.MkdirTemp("", "urldater-browser-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create profile directory: %w", err)
	}

	l := f.createLauncher(profileDir)

	url, err := l.Launch()
	if err != nil {
		os.RemoveAll(profileDir)
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	b := rod.New().ControlURL(url)
	if err := b.Connect(); err != nil {
		l.Kill()
		os.RemoveAll(profileDir)
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	inst := newInstance(&rodDriver{browser: b, launcher: l}, profileDir)

	log.Debug().
		Str("instance_id", inst.ID()).
		Str("control_url", url).
		Msg("Browser launched")

	return inst, nil
}

// createLauncher builds a configured rod launcher.
// Each launcher can only be used once, so a fresh one is created per instance.
func (f *RodFactory) createLauncher(profileDir string) *launcher.Launcher {
	l := launcher.New()

	if f.cfg.BrowserPath != "" {
		l = l.Bin(f.cfg.BrowserPath)
	}

	if f.cfg.Headless {
		l = l.Set("headless", "new")
	} else {
		l = l.Headless(false)
	}

	// Container flags
	l = l.Set("no-sandbox").
		Set("disable-setuid-sandbox").
		Set("disable-dev-shm-usage").
		Set("disable-gpu")

	// Private profile per instance so state never leaks across instances
	l = l.Set("user-data-dir", profileDir)

	// Quiet, consistent browser behavior
	l = l.Set("no-first-run").
		Set("no-default-browser-check").
		Set("disable-infobars").
		Set("disable-background-networking").
		Set("disable-default-apps").
		Set("disable-extensions").
		Set("disable-sync").
		Set("mute-audio").
		Set("safebrowsing-disable-auto-update")

	l = l.Set("accept-lang", "en-US,en;q=0.9")
	l = l.Set("window-size", "1920,1080")
	l = l.Set("user-agent", version.UserAgent())

	// Keep per-browser heap bounded so the pool's memory gate stays meaningful
	l = l.Set("js-flags", "--max-old-space-size=256")

	return l
}

// rodDriver adapts a rod browser to the driver interface.
type rodDriver struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
}

// CheckHealth opens and closes a blank page to verify the browser responds.
func (d *rodDriver) CheckHealth(ctx context.Context) error {
	page, err := d.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return fmt.Errorf("cannot create page: %w", err)
	}
	defer page.Close()

	if err := page.Context(ctx).Navigate("about:blank"); err != nil {
		return fmt.Errorf("cannot navigate: %w", err)
	}
	return nil
}

// ClearState removes cookies and closes every open page.
// Page storage (localStorage, sessionStorage) lives in the closed targets,
// so closing them drops it along with any in-page state.
func (d *rodDriver) ClearState(ctx context.Context) error {
	if err := (proto.StorageClearCookies{}).Call(d.browser); err != nil {
		return fmt.Errorf("failed to clear cookies: %w", err)
	}

	pages, err := d.browser.Pages()
	if err != nil {
		return fmt.Errorf("failed to list pages: %w", err)
	}
	for _, page := range pages {
		if err := page.Context(ctx).Navigate("about:blank"); err != nil {
			return fmt.Errorf("failed to blank page: %w", err)
		}
		if err := page.Close(); err != nil {
			return fmt.Errorf("failed to close page: %w", err)
		}
	}
	return nil
}

func (d *rodDriver) Close() error {
	return d.browser.Close()
}

// Kill terminates the browser process tree via the launcher.
func (d *rodDriver) Kill() {
	d.launcher.Kill()
}

// Browser exposes the underlying rod browser for page-level work.
// Returns nil for instances backed by a non-rod driver.
func (i *Instance) Browser() *rod.Browser {
	if d, ok := i.drv.(*rodDriver); ok {
		return d.browser
	}
	return nil
}
