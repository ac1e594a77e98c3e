package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/ed-baer97/mektab/internal/models"
)

// Driver wraps one pooled chromedp browser context behind the Browser
// interface. Every operation runs against the browser's own context chain
// with a bounded timeout; the caller's context is linked in so job
// cancellation interrupts an in-flight page operation.
type Driver struct {
	ctx         context.Context
	logger      arbor.ILogger
	stepTimeout time.Duration
	pageTimeout time.Duration
}

func newDriver(browserCtx context.Context, stepTimeout, pageTimeout time.Duration, logger arbor.ILogger) *Driver {
	return &Driver{
		ctx:         browserCtx,
		logger:      logger,
		stepTimeout: stepTimeout,
		pageTimeout: pageTimeout,
	}
}

// run executes chromedp actions with a timeout, linking the caller context
// so cancellation propagates. Timeout expiry surfaces as
// context.DeadlineExceeded, caller cancellation as context.Canceled.
func (d *Driver) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	opCtx, opCancel := context.WithTimeout(d.ctx, timeout)
	defer opCancel()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			opCancel()
		case <-done:
		}
	}()

	return chromedp.Run(opCtx, actions...)
}

func (d *Driver) Navigate(ctx context.Context, url string) error {
	if err := d.run(ctx, d.pageTimeout, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

func (d *Driver) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	if err := d.run(ctx, timeout, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("wait visible %s: %w", selector, err)
	}
	return nil
}

func (d *Driver) Click(ctx context.Context, selector string) error {
	if err := d.run(ctx, d.stepTimeout, chromedp.Click(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("click %s: %w", selector, err)
	}
	return nil
}

func (d *Driver) SendKeys(ctx context.Context, selector, value string) error {
	if err := d.run(ctx, d.stepTimeout, chromedp.SendKeys(selector, value, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("send keys to %s: %w", selector, err)
	}
	return nil
}

func (d *Driver) Text(ctx context.Context, selector string) (string, error) {
	var text string
	if err := d.run(ctx, d.stepTimeout, chromedp.Text(selector, &text, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read text of %s: %w", selector, err)
	}
	return text, nil
}

func (d *Driver) OuterHTML(ctx context.Context, selector string) (string, error) {
	var html string
	if err := d.run(ctx, d.stepTimeout, chromedp.OuterHTML(selector, &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read html of %s: %w", selector, err)
	}
	return html, nil
}

func (d *Driver) Location(ctx context.Context) (string, error) {
	var url string
	if err := d.run(ctx, d.stepTimeout, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return url, nil
}

func (d *Driver) Evaluate(ctx context.Context, script string, res interface{}) error {
	if err := d.run(ctx, d.stepTimeout, chromedp.Evaluate(script, res)); err != nil {
		return fmt.Errorf("evaluate script: %w", err)
	}
	return nil
}

func (d *Driver) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := d.run(ctx, d.stepTimeout, chromedp.FullScreenshot(&buf, 90)); err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return buf, nil
}

// SetCookies injects a session's cookie snapshot into the browser.
func (d *Driver) SetCookies(ctx context.Context, cookies []models.Cookie) error {
	params := cookieParams(cookies)

	err := d.run(ctx, d.stepTimeout,
		network.Enable(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			for _, cookie := range params {
				if err := network.SetCookie(cookie.Name, cookie.Value).
					WithDomain(cookie.Domain).
					WithPath(cookie.Path).
					WithSecure(cookie.Secure).
					WithHTTPOnly(cookie.HTTPOnly).
					WithSameSite(cookie.SameSite).
					WithExpires(cookie.Expires).
					Do(ctx); err != nil {
					return fmt.Errorf("set cookie %s: %w", cookie.Name, err)
				}
			}
			return nil
		}),
	)
	if err != nil {
		return fmt.Errorf("inject %d cookies: %w", len(params), err)
	}

	d.logger.Debug().Int("count", len(params)).Msg("Cookies injected into browser")
	return nil
}

// GetCookies snapshots the cookies the browser would send to the given URLs.
func (d *Driver) GetCookies(ctx context.Context, urls []string) ([]models.Cookie, error) {
	var raw []*network.Cookie
	err := d.run(ctx, d.stepTimeout,
		chromedp.ActionFunc(func(ctx context.Context) error {
			cookies, err := network.GetCookies().WithURLs(urls).Do(ctx)
			if err != nil {
				return err
			}
			raw = cookies
			return nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("read cookies: %w", err)
	}

	return snapshotCookies(raw), nil
}

// ClearCookies wipes all cookies so the next credential starts clean.
func (d *Driver) ClearCookies(ctx context.Context) error {
	err := d.run(ctx, d.stepTimeout,
		chromedp.ActionFunc(func(ctx context.Context) error {
			return network.ClearBrowserCookies().Do(ctx)
		}),
	)
	if err != nil {
		return fmt.Errorf("clear cookies: %w", err)
	}
	return nil
}

// cookieParams converts a stored snapshot to CDP cookie parameters.
func cookieParams(cookies []models.Cookie) []*network.CookieParam {
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		var expires *cdp.TimeSinceEpoch
		if c.Expires > 0 {
			expiresTime := time.Unix(int64(c.Expires), 0)
			if expiresTime.After(time.Now()) {
				timestamp := cdp.TimeSinceEpoch(expiresTime)
				expires = &timestamp
			}
		}

		params = append(params, &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   strings.TrimPrefix(c.Domain, "."),
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			SameSite: sameSiteFromString(c.SameSite),
			Expires:  expires,
		})
	}
	return params
}

// snapshotCookies converts CDP cookies to the driver-neutral snapshot form.
func snapshotCookies(raw []*network.Cookie) []models.Cookie {
	cookies := make([]models.Cookie, 0, len(raw))
	for _, c := range raw {
		expires := c.Expires
		if expires < 0 {
			// CDP reports session cookies as -1
			expires = 0
		}
		cookies = append(cookies, models.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  expires,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			SameSite: strings.ToLower(string(c.SameSite)),
		})
	}
	return cookies
}

func sameSiteFromString(s string) network.CookieSameSite {
	switch strings.ToLower(s) {
	case "strict":
		return network.CookieSameSiteStrict
	case "lax":
		return network.CookieSameSiteLax
	case "none":
		return network.CookieSameSiteNone
	default:
		return ""
	}
}
