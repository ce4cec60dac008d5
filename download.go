package catset

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultMaxImageBytes = 20 << 20 // 20MB, full-size gallery images
	defaultTimeout       = 30 * time.Second
)

// DownloadResult holds downloaded image data.
type DownloadResult struct {
	Data     []byte
	MIMEType string
}

// Downloader fetches post images. Each PostSource owns its own Downloader so
// per-platform pacing stays independent.
type Downloader struct {
	HTTPClient    *http.Client // default http.DefaultClient
	StealthClient *http.Client // optional: tried first
	UserAgent     string
	MaxBytes      int64
	Timeout       time.Duration

	limiter *rate.Limiter
}

// NewDownloader builds a downloader from the shared config.
func NewDownloader(cfg Config) *Downloader {
	cfg.defaults()
	d := &Downloader{
		HTTPClient:    cfg.HTTPClient,
		StealthClient: cfg.StealthClient,
		UserAgent:     cfg.UserAgent,
		MaxBytes:      defaultMaxImageBytes,
		Timeout:       defaultTimeout,
	}
	if cfg.RequestsPerSecond > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return d
}

// Download fetches an image from url. Tries StealthClient first (if set),
// falls back to HTTPClient. Non-image responses are rejected.
func (d *Downloader) Download(ctx context.Context, url string) (*DownloadResult, error) {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("download pacing: %w", err)
		}
	}

	if d.StealthClient != nil {
		if r, err := d.fetch(ctx, d.StealthClient, url); err == nil {
			return r, nil
		}
	}

	client := d.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return d.fetch(ctx, client, url)
}

func (d *Downloader) fetch(ctx context.Context, client *http.Client, imageURL string) (*DownloadResult, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxBytes := d.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxImageBytes
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, err
	}
	if d.UserAgent != "" {
		req.Header.Set("User-Agent", d.UserAgent)
	}

	resp, err := client.Do(req) //nolint:gosec // URL comes from the platform API response
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	ct := resp.Header.Get("Content-Type")
	// Strip MIME parameters: "image/jpeg; charset=utf-8" → "image/jpeg"
	if idx := strings.IndexByte(ct, ';'); idx >= 0 {
		ct = strings.TrimSpace(ct[:idx])
	}
	if !strings.HasPrefix(ct, "image/") {
		return nil, fmt.Errorf("not an image: %q", ct)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty body")
	}

	return &DownloadResult{Data: data, MIMEType: ct}, nil
}
