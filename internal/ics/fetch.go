package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	appLog "dayplan/internal/log"
)

const (
	defaultFetchTimeout = 15 * time.Second
	maxBodyBytes        = 16 << 20

	feedFile       = "feed.ics"
	validatorsFile = "validators.json"
)

// Source is one subscribed ICS feed.
type Source struct {
	// ID tags the events imported from this feed in the store.
	ID  string
	URL string
}

// FetchResult is the body of one feed, fresh or from the disk cache.
type FetchResult struct {
	Source    Source
	Body      []byte
	FromCache bool
}

// validators are the conditional-request headers remembered for a feed URL.
type validators struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	FetchedAt    time.Time `json:"fetched_at"`
}

// feedCache is the on-disk copy of one feed: the last good body plus the
// validators the server sent with it.
type feedCache struct {
	dir  string
	val  validators
	body []byte
}

func openFeedCache(root, rawURL string) (*feedCache, error) {
	sum := sha256.Sum256([]byte(rawURL))
	c := &feedCache{dir: filepath.Join(root, hex.EncodeToString(sum[:8]))}
	if err := os.MkdirAll(c.dir, 0o700); err != nil {
		return nil, err
	}

	// A missing or corrupt cache just means an unconditional request.
	if data, err := os.ReadFile(filepath.Join(c.dir, validatorsFile)); err == nil {
		_ = json.Unmarshal(data, &c.val)
	}
	c.body, _ = os.ReadFile(filepath.Join(c.dir, feedFile))
	return c, nil
}

// annotate adds If-None-Match / If-Modified-Since, but only when the stored
// validators belong to this exact URL.
func (c *feedCache) annotate(req *http.Request, rawURL string) {
	if len(c.body) == 0 || c.val.URL != rawURL {
		return
	}
	if c.val.ETag != "" {
		req.Header.Set("If-None-Match", c.val.ETag)
	}
	if c.val.LastModified != "" {
		req.Header.Set("If-Modified-Since", c.val.LastModified)
	}
}

// replace stores a fresh body. The feed is written before the validators so
// validators never describe a body that is not on disk.
func (c *feedCache) replace(rawURL string, h http.Header, body []byte) error {
	if err := os.WriteFile(filepath.Join(c.dir, feedFile), body, 0o600); err != nil {
		return err
	}
	c.body = body
	c.val = validators{
		URL:          rawURL,
		ETag:         h.Get("ETag"),
		LastModified: h.Get("Last-Modified"),
		FetchedAt:    time.Now().UTC(),
	}
	data, err := json.MarshalIndent(&c.val, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(c.dir, validatorsFile), data, 0o600)
}

// Fetcher downloads ICS feeds with conditional requests and serves the last
// good body when the network or the server fails.
type Fetcher struct {
	client   *http.Client
	cacheDir string
}

// NewFetcher creates a Fetcher caching under cacheDir. A nil client gets a
// default one with a 15s timeout.
func NewFetcher(cacheDir string, client *http.Client) *Fetcher {
	if cacheDir == "" {
		cacheDir = "./var/ics-cache"
	}
	if client == nil {
		client = &http.Client{Timeout: defaultFetchTimeout}
	}
	return &Fetcher{client: client, cacheDir: cacheDir}
}

// FetchAll fetches every source in order. Results only contain sources that
// produced a body; failures are logged and returned separately.
func (f *Fetcher) FetchAll(ctx context.Context, sources []Source) ([]FetchResult, []error) {
	results := make([]FetchResult, 0, len(sources))
	var errs []error

	for _, src := range sources {
		res, err := f.FetchOne(ctx, src)
		if err != nil {
			err = fmt.Errorf("ics: fetch %s: %w", src.ID, err)
			appLog.Error("ics fetch failed", err, "id", src.ID, "url", redactURL(src.URL))
			errs = append(errs, err)
			continue
		}
		results = append(results, res)
	}
	return results, errs
}

// FetchOne fetches a single source. 304 and any failure with a cached body
// yield the cached body with FromCache set.
func (f *Fetcher) FetchOne(ctx context.Context, src Source) (FetchResult, error) {
	if src.URL == "" {
		return FetchResult{}, errors.New("source URL is empty")
	}
	cache, err := openFeedCache(f.cacheDir, src.URL)
	if err != nil {
		return FetchResult{}, err
	}

	body, fresh, err := f.download(ctx, src.URL, cache)
	switch {
	case err == nil && fresh:
		appLog.Info("ics fetch success", "id", src.ID, "url", redactURL(src.URL), "bytes", len(body))
		return FetchResult{Source: src, Body: body}, nil
	case err == nil:
		appLog.Info("ics feed not modified", "id", src.ID, "url", redactURL(src.URL))
	case len(cache.body) > 0:
		appLog.Warn("ics fetch degraded, using cached body", "id", src.ID, "url", redactURL(src.URL), "reason", err)
	default:
		return FetchResult{}, err
	}
	return FetchResult{Source: src, Body: cache.body, FromCache: true}, nil
}

// download issues the conditional GET. fresh is false on 304.
func (f *Fetcher) download(ctx context.Context, rawURL string, cache *feedCache) (body []byte, fresh bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, false, err
	}
	cache.annotate(req, rawURL)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotModified:
		if len(cache.body) == 0 {
			return nil, false, errors.New("304 Not Modified without a cached body")
		}
		return nil, false, nil
	case http.StatusOK:
	default:
		return nil, false, fmt.Errorf("unexpected status %s", resp.Status)
	}

	body, err = io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, false, err
	}
	if err := cache.replace(rawURL, resp.Header, body); err != nil {
		appLog.Error("ics cache save failed", err, "url", redactURL(rawURL))
	}
	return body, true, nil
}

// redactURL keeps only scheme and host; feed URLs often embed private tokens.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "ics://...(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/...(redacted)"
}
