package discover

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"
	"github.com/ysmood/gson"

	"github.com/nixintel/urldater/internal/browser"
	"github.com/nixintel/urldater/internal/mediarules"
	"github.com/nixintel/urldater/internal/types"
)

// Cap on recorded media responses per page load.
const maxCapturedMedia = 200

// mediaEntry is one media response seen on the wire.
type mediaEntry struct {
	url          string
	lastModified string
}

// mediaCapture accumulates media responses from network events.
// Thread-safe: the event listener runs on its own goroutine.
type mediaCapture struct {
	mu      sync.Mutex
	entries []mediaEntry
	seen    map[string]struct{}
}

func newMediaCapture() *mediaCapture {
	return &mediaCapture{seen: make(map[string]struct{})}
}

func (mc *mediaCapture) add(url, lastModified string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if len(mc.entries) >= maxCapturedMedia {
		return
	}
	if _, dup := mc.seen[url]; dup {
		return
	}
	mc.seen[url] = struct{}{}
	mc.entries = append(mc.entries, mediaEntry{url: url, lastModified: lastModified})
}

func (mc *mediaCapture) snapshot() []mediaEntry {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	out := make([]mediaEntry, len(mc.entries))
	copy(out, mc.entries)
	return out
}

// netlogInspect is tier 2: load the page in a pooled browser and read the
// Last-Modified headers straight off the network event log. Unlike tier 1
// this sees resources that only exist after scripts run, and it costs no
// extra probe requests.
func (d *Discoverer) netlogInspect(ctx context.Context, inst *browser.Instance, rawURL string) ([]types.Result, error) {
	b := inst.Browser()
	if b == nil {
		return nil, fmt.Errorf("instance has no browser attached")
	}

	page, err := b.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	defer page.Close()

	rules := d.rules.Get()
	capture, cleanup, err := watchMediaResponses(ctx, page, rules)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	navCtx, cancel := context.WithTimeout(ctx, d.cfg.NavigationTimeout)
	defer cancel()

	if err := page.Context(navCtx).Navigate(rawURL); err != nil {
		return nil, fmt.Errorf("failed to navigate to %s: %w", rawURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		log.Debug().Err(err).Str("url", rawURL).Msg("WaitLoad failed, reading whatever arrived")
	}

	// Let late subresource responses land before reading the log
	settle(ctx, 500*time.Millisecond)

	var results []types.Result
	for _, entry := range capture.snapshot() {
		t, ok := parseLastModified(entry.lastModified)
		if !ok {
			continue
		}
		results = append(results, types.Success(kindForURL(entry.url), entry.url, t))
	}

	log.Debug().
		Str("url", rawURL).
		Int("captured", len(capture.snapshot())).
		Int("dated", len(results)).
		Msg("Network log inspection finished")

	return results, nil
}

// watchMediaResponses subscribes to network events and records media
// responses. The returned cleanup function must be called to stop the
// listener goroutine.
func watchMediaResponses(ctx context.Context, page *rod.Page, rules *mediarules.Rules) (*mediaCapture, func(), error) {
	capture := newMediaCapture()

	if err := (proto.NetworkEnable{}).Call(page); err != nil {
		return nil, nil, fmt.Errorf("failed to enable network events: %w", err)
	}

	listenerCtx, cancel := context.WithCancel(ctx)
	pageWithCtx := page.Context(listenerCtx)

	var wg sync.WaitGroup
	var cleanupOnce sync.Once
	cleanup := func() {
		cleanupOnce.Do(func() {
			cancel()
			done := make(chan struct{})
			go func() {
				wg.Wait()
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(5 * time.Second):
				log.Warn().Msg("Timeout waiting for media capture listener to stop")
			}
			if err := (proto.NetworkDisable{}).Call(page); err != nil {
				log.Debug().Err(err).Msg("Failed to disable network events during cleanup")
			}
		})
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("Recovered from panic in media capture listener")
			}
		}()

		waitFn := pageWithCtx.EachEvent(func(e *proto.NetworkResponseReceived) bool {
			select {
			case <-listenerCtx.Done():
				return true
			default:
			}

			if e.Response == nil {
				return false
			}
			if e.Type != proto.NetworkResourceTypeImage && !rules.IsMedia(e.Response.URL) {
				return false
			}

			lastModified := headerValue(e.Response.Headers, "Last-Modified")
			if lastModified == "" {
				lastModified = headerValue(e.Response.Headers, "X-Last-Modified")
			}
			capture.add(e.Response.URL, lastModified)
			return false
		})
		waitFn()
	}()

	return capture, cleanup, nil
}

// headerValue returns the named header from a CDP header map, which carries
// its values as gson.JSON. Lookup is case-insensitive.
func headerValue(headers map[string]gson.JSON, name string) string {
	for key, value := range headers {
		if strings.EqualFold(key, name) {
			return value.Str()
		}
	}
	return ""
}

// kindForURL classifies a network-captured media URL.
func kindForURL(rawURL string) types.Kind {
	lower := strings.ToLower(rawURL)
	if strings.Contains(lower, "favicon") || strings.HasSuffix(lower, ".ico") {
		return types.KindFavicon
	}
	return types.KindImage
}

// settle sleeps for d or until the context ends.
func settle(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
