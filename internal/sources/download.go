package sources

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sethvargo/go-retry"

	"comfygit/internal/logging"
	"comfygit/pkg/cgerr"
)

// Downloader fetches model files and node archives. Implementations must be
// replaceable for tests.
type Downloader interface {
	Download(ctx context.Context, sourceURL, destPath string) error
}

// HTTPDownloader streams URLs to disk with bounded retries. CivitAI URLs get
// the user's API key attached when one is configured.
type HTTPDownloader struct {
	client        *resty.Client
	civitaiAPIKey string
}

func NewHTTPDownloader(timeout time.Duration, civitaiAPIKey string) *HTTPDownloader {
	client := resty.New().
		SetTimeout(timeout).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(10))
	return &HTTPDownloader{client: client, civitaiAPIKey: civitaiAPIKey}
}

// Download fetches sourceURL into destPath via a temp sibling so a partial
// transfer never leaves a truncated file at the destination.
func (d *HTTPDownloader) Download(ctx context.Context, sourceURL, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return cgerr.New(cgerr.KindFilesystem, "download", "check permissions on "+filepath.Dir(destPath), err)
	}

	tmpPath := destPath + ".partial"
	defer os.Remove(tmpPath)

	backoff := retry.WithMaxRetries(3, retry.NewExponential(2*time.Second))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		req := d.client.R().
			SetContext(ctx).
			SetOutput(tmpPath)
		if key := d.apiKeyFor(sourceURL); key != "" {
			req.SetHeader("Authorization", "Bearer "+key)
		}
		resp, err := req.Get(sourceURL)
		if err != nil {
			logging.Debug("download attempt failed for %s: %v", sourceURL, err)
			return retry.RetryableError(err)
		}
		if resp.StatusCode() >= 500 {
			return retry.RetryableError(fmt.Errorf("server returned %s", resp.Status()))
		}
		if resp.IsError() {
			return fmt.Errorf("server returned %s", resp.Status())
		}
		return nil
	})
	if err != nil {
		return cgerr.New(cgerr.KindExternal, "download "+sourceURL, "the download intent is preserved; retry later", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return cgerr.New(cgerr.KindFilesystem, "download", "", err)
	}
	return nil
}

func (d *HTTPDownloader) apiKeyFor(sourceURL string) string {
	if d.civitaiAPIKey == "" {
		return ""
	}
	u, err := url.Parse(sourceURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	if host == "civitai.com" || strings.HasSuffix(host, ".civitai.com") {
		return d.civitaiAPIKey
	}
	return ""
}

// SourceTypeFor classifies a download URL for the model_sources table.
func SourceTypeFor(sourceURL string) string {
	u, err := url.Parse(sourceURL)
	if err != nil {
		return "url"
	}
	host := strings.ToLower(u.Hostname())
	switch {
	case host == "civitai.com" || strings.HasSuffix(host, ".civitai.com"):
		return "civitai"
	case host == "huggingface.co" || strings.HasSuffix(host, ".huggingface.co"):
		return "huggingface"
	case host == "github.com" || strings.HasSuffix(host, ".githubusercontent.com"):
		return "github"
	default:
		return "url"
	}
}
