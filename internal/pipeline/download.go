package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/geomap-ingest/internal/metrics"
	"github.com/JakeFAU/geomap-ingest/internal/object"
	"github.com/JakeFAU/geomap-ingest/internal/policy/retry"
)

// Pacer delays a request until its host may be contacted.
type Pacer interface {
	Wait(ctx context.Context, rawURL string) error
}

// RetryPolicy decides whether a failed download is attempted again.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// DownloaderConfig controls the download stage.
type DownloaderConfig struct {
	ChunkSize int
	// Timeout bounds connecting, waiting for headers and every gap between reads.
	Timeout   time.Duration
	UserAgent string
	// Pacer and Retry are optional.
	Pacer Pacer
	Retry RetryPolicy
}

// Downloader fetches descriptor origins into their local files.
type Downloader struct {
	client *http.Client
	cfg    DownloaderConfig
	logger *zap.Logger
}

// NewDownloader builds a Downloader. A nil client gets a pooled transport
// whose timeouts follow cfg.Timeout.
func NewDownloader(client *http.Client, cfg DownloaderConfig, logger *zap.Logger) *Downloader {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if client == nil {
		client = &http.Client{Transport: newHTTPTransport(cfg.Timeout)}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Downloader{client: client, cfg: cfg, logger: logger}
}

// Name implements Stage.
func (d *Downloader) Name() string { return "download" }

// Process implements Stage. Failed attempts are repeated while the retry
// policy allows it.
func (d *Downloader) Process(ctx context.Context, desc object.Descriptor) error {
	for attempt := 1; ; attempt++ {
		if d.cfg.Pacer != nil {
			if err := d.cfg.Pacer.Wait(ctx, desc.Origin); err != nil {
				return err
			}
		}
		_, err := d.Download(ctx, desc)
		if err == nil || d.cfg.Retry == nil || !d.cfg.Retry.ShouldRetry(err, attempt) {
			return err
		}
		backoff := d.cfg.Retry.Backoff(attempt)
		metrics.IncDownloadRetries()
		d.logger.Warn("download failed, retrying",
			zap.String("origin", desc.Origin),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}

// Download streams desc.Origin into desc.LocalFile and returns the bytes written.
// An existing file is truncated, and a failed copy removes the partial file.
func (d *Downloader) Download(ctx context.Context, desc object.Descriptor) (int64, error) {
	if desc.Origin == "" {
		return 0, errors.New("descriptor has no origin")
	}
	if desc.LocalFile == "" {
		return 0, errors.New("descriptor has no local_file")
	}
	if err := os.MkdirAll(filepath.Dir(desc.LocalFile), 0o750); err != nil {
		return 0, fmt.Errorf("create download dir: %w", err)
	}

	reqCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stall := time.AfterFunc(d.cfg.Timeout, func() {
		cancel(fmt.Errorf("no data received for %s", d.cfg.Timeout))
	})
	defer stall.Stop()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, desc.Origin, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	if d.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", d.cfg.UserAgent)
	}

	d.logger.Debug("downloading", zap.String("origin", desc.Origin), zap.String("local_file", desc.LocalFile))
	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("get %s: %w", desc.Origin, causeOr(reqCtx, err))
	}
	defer resp.Body.Close() //nolint:errcheck // body fully consumed or abandoned

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := fmt.Errorf("get %s: unexpected status %d", desc.Origin, resp.StatusCode)
		if isClientError(resp.StatusCode) {
			err = retry.Permanent(err)
		}
		return 0, err
	}

	// #nosec G304 -- local paths are derived by the source layout.
	f, err := os.OpenFile(desc.LocalFile, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", desc.LocalFile, err)
	}

	written, copyErr := d.copyChunks(f, resp, stall)
	closeErr := f.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		if rmErr := os.Remove(desc.LocalFile); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			d.logger.Warn("failed to remove partial download", zap.String("local_file", desc.LocalFile), zap.Error(rmErr))
		}
		return written, fmt.Errorf("write %s: %w", desc.LocalFile, causeOr(reqCtx, copyErr))
	}

	metrics.AddDownloadedBytes(written)
	d.logger.Info("downloaded",
		zap.String("origin", desc.Origin),
		zap.String("local_file", desc.LocalFile),
		zap.Int64("bytes", written),
	)
	return written, nil
}

// copyChunks moves the body through a single fixed-size buffer.
func (d *Downloader) copyChunks(f *os.File, resp *http.Response, stall *time.Timer) (int64, error) {
	buf := make([]byte, d.cfg.ChunkSize)
	var written int64
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			stall.Reset(d.cfg.Timeout)
			if _, err := f.Write(buf[:n]); err != nil {
				return written, err
			}
			written += int64(n)
		}
		if errors.Is(readErr, io.EOF) {
			return written, nil
		}
		if readErr != nil {
			return written, readErr
		}
	}
}

// isClientError reports statuses that another attempt will not change.
func isClientError(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return code >= 400 && code < 500
}

func causeOr(ctx context.Context, err error) error {
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return fmt.Errorf("%w (%v)", err, cause)
	}
	return err
}

func newHTTPTransport(timeout time.Duration) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
