// Package capture renders the /day page in headless Chromium and saves it as
// a PNG snapshot.
package capture

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/chromedp"

	"dayplan/internal/dateutil"
	appLog "dayplan/internal/log"
)

const (
	DefaultWidth   = 1024
	DefaultHeight  = 1400
	DefaultTimeout = 30 * time.Second
	DefaultQuality = 100

	// readySelector is set on the day page root once it has rendered.
	readySelector = `[data-ready="true"]`
)

// Options describes one snapshot.
type Options struct {
	// BaseURL is the server root, e.g. "http://127.0.0.1:8080".
	BaseURL string
	// Date selects the day; zero means the server's today.
	Date time.Time
	// OutputPath is where the PNG is written.
	OutputPath string

	Width, Height int
	Timeout       time.Duration
}

func (o *Options) normalize() error {
	if o.BaseURL == "" {
		return errors.New("capture: BaseURL is required")
	}
	if o.OutputPath == "" {
		return errors.New("capture: OutputPath is required")
	}
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.Height <= 0 {
		o.Height = DefaultHeight
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return nil
}

// DayURL builds the /day page URL for opts.
func (o Options) DayURL() (string, error) {
	u, err := url.Parse(o.BaseURL)
	if err != nil {
		return "", fmt.Errorf("capture: bad base URL: %w", err)
	}
	u = u.JoinPath("day")
	if !o.Date.IsZero() {
		q := u.Query()
		q.Set("date", dateutil.DateKey(o.Date))
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// SnapshotDay navigates to the day page, waits for data-ready and writes a
// full-page PNG.
func SnapshotDay(parent context.Context, opts Options) error {
	if err := opts.normalize(); err != nil {
		return err
	}
	target, err := opts.DayURL()
	if err != nil {
		return err
	}

	ctx, cancel := chromedp.NewContext(parent)
	defer cancel()
	ctx, timeoutCancel := context.WithTimeout(ctx, opts.Timeout)
	defer timeoutCancel()

	var png []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height)),
		chromedp.Navigate(target),
		chromedp.WaitVisible(readySelector, chromedp.ByQuery),
		chromedp.FullScreenshot(&png, DefaultQuality),
	}
	if err := chromedp.Run(ctx, tasks); err != nil {
		return fmt.Errorf("capture: chromedp run failed: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(opts.OutputPath), 0o755); err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	if err := os.WriteFile(opts.OutputPath, png, 0o644); err != nil {
		return fmt.Errorf("capture: failed to write PNG: %w", err)
	}
	appLog.Info("day snapshot written", "path", opts.OutputPath, "bytes", len(png))
	return nil
}
