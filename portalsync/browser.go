package portalsync

import (
	"context"
	"os"
	"os/exec"
	"time"

	"github.com/chromedp/chromedp"
)

// Browser wraps one chromedp exec allocator. The extractor owns exactly one
// instance per fetch batch and closes it before the next batch begins, which
// bounds browser memory growth under long-running schedules.
type Browser struct {
	allocCtx context.Context
	cancels  []context.CancelFunc
}

func NewBrowser() *Browser {
	chromeBin := findChromeBinary()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.UserAgent("Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 "+
			"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
	)
	if chromeBin != "" {
		opts = append(opts, chromedp.ExecPath(chromeBin))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)

	// Suppress chromedp log noise.
	silentCtx, cancelSilent := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))

	return &Browser{
		allocCtx: silentCtx,
		cancels:  []context.CancelFunc{cancelSilent, cancelAlloc},
	}
}

// FetchRenderedHTML opens a fresh tab, navigates, waits for the page to
// settle and returns the rendered document.
func (b *Browser) FetchRenderedHTML(ctx context.Context, url string, timeout time.Duration, settle time.Duration) (string, error) {
	tabCtx, cancelTab := chromedp.NewContext(b.allocCtx)
	defer cancelTab()

	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, timeout)
	defer cancelTimeout()

	// Propagate caller cancellation without tying tab lifetime to it.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			cancelTab()
		case <-done:
		}
	}()

	var html string
	err := chromedp.Run(tabCtx,
		chromedp.Navigate(url),
		chromedp.Sleep(settle),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		return "", err
	}
	return html, nil
}

func (b *Browser) Close() {
	for _, cancel := range b.cancels {
		cancel()
	}
}

func findChromeBinary() string {
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}
	for _, candidate := range []string{"google-chrome", "chromium", "chromium-browser"} {
		if path, err := exec.LookPath(candidate); err == nil {
			return path
		}
	}
	return ""
}
