package browser

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// renderBrowser loads the page in a headless browser and serialises the
// settled DOM. The browser instance lives for the duration of one render;
// the agent attaches rarely enough that reuse is not worth the lifecycle
// management.
func (l *Loader) renderBrowser(ctx context.Context, pageURL string) (string, error) {
	lnch := launcher.New().Headless(true)
	wsURL, err := lnch.Launch()
	if err != nil {
		return "", fmt.Errorf("browser: launch: %w", err)
	}
	defer lnch.Cleanup()

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return "", fmt.Errorf("browser: connect: %w", err)
	}
	defer b.Close()

	page, err := b.Page(proto.TargetCreateTarget{URL: ""})
	if err != nil {
		return "", fmt.Errorf("browser: create tab: %w", err)
	}
	defer page.Close()

	navCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		return "", fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		l.logger.Warn("wait load timeout", "url", pageURL, "error", err)
	}

	res, err := page.Context(navCtx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return "", fmt.Errorf("browser: serialise DOM: %w", err)
	}
	return res.Value.Str(), nil
}
