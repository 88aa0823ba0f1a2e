// Package browser wraps a go-rod controlled Chrome as a scraping session,
// with the helpers the site adapters use to drive pages by xpath.
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"platescraper/internal/assert"
	"platescraper/internal/components/telemetry"
	"platescraper/internal/session"
	"platescraper/lib/timezone"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

const (
	report_session_stealth    = "session.stealth"
	report_session_screenshot = "session.screenshot"
	report_session_close      = "session.close"
)

// ErrElementNotFound is returned when an xpath did not match in time.
var ErrElementNotFound = errors.New("element not found")

// stealthScript hides the most common automation fingerprints, it runs
// before any script of every new document.
const stealthScript = `() => {
	Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
	Object.defineProperty(navigator, 'languages', { get: () => ['es-ES', 'es', 'en-US', 'en'] });
	Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5] });
	window.chrome = { runtime: {} };
}`

type Options struct {
	Headless bool   `json:"headless"`
	Bin      string `json:"bin"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	// TypingDelay is the pause between characters when typing, 0 means
	// 100ms.
	TypingDelay time.Duration `json:"-"`
	// ElementTimeout bounds every element lookup, 0 means 20s.
	ElementTimeout time.Duration `json:"-"`
	// ScreenshotDir receives debug screenshots when set.
	ScreenshotDir string `json:"-"`
}

func (o Options) withDefaults() Options {
	if o.Width <= 0 {
		o.Width = 1250
	}
	if o.Height <= 0 {
		o.Height = 750
	}
	if o.TypingDelay <= 0 {
		o.TypingDelay = 100 * time.Millisecond
	}
	if o.ElementTimeout <= 0 {
		o.ElementTimeout = 20 * time.Second
	}
	return o
}

// Session is one Chrome process with a single page.
type Session struct {
	tag      string
	opts     Options
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	tel      telemetry.API

	used bool
}

// launcher keeps leakless on, so Chrome dies with the process even when it
// exits without closing the session.
func (o Options) launcher(ctx context.Context) *launcher.Launcher {
	l := launcher.New().
		Context(ctx).
		Headless(o.Headless).
		Leakless(true).
		Set("no-sandbox").
		Set("disable-dev-shm-usage").
		Set("disable-blink-features", "AutomationControlled").
		Set("window-size", fmt.Sprintf("%d,%d", o.Width, o.Height))
	if o.Bin != "" {
		l = l.Bin(o.Bin)
	}
	return l
}

// Launch starts Chrome and opens a blank page.
func Launch(ctx context.Context, tag string, opts Options, tel telemetry.API) (*Session, error) {
	assert.NotNil(tel)
	opts = opts.withDefaults()
	tel = telemetry.NewScopedAPI("browser", tel)

	l := opts.launcher(ctx)
	controlUrl, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chrome: %w", err)
	}

	browser := rod.New().ControlURL(controlUrl)
	err = browser.Connect()
	if err != nil {
		l.Kill()
		l.Cleanup()
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}

	s := &Session{
		tag:      tag,
		opts:     opts,
		launcher: l,
		browser:  browser,
		tel:      tel,
	}

	page, err := browser.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("open page: %w", err)
	}
	// detach the page from the launch context, every call passes its own.
	s.page = page.Context(context.Background())

	err = s.page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             opts.Width,
		Height:            opts.Height,
		DeviceScaleFactor: 1,
		Mobile:            false,
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("set viewport: %w", err)
	}

	_, err = s.page.EvalOnNewDocument(stealthScript)
	if err != nil {
		s.tel.ReportWarning(report_session_stealth, err, tag)
	}

	return s, nil
}

// NewFactory returns a session.Factory launching plain browser sessions.
func NewFactory(opts Options, tel telemetry.API) session.Factory {
	return session.FactoryFunc(func(ctx context.Context, tag string) (session.Session, error) {
		return Launch(ctx, tag, opts, tel)
	})
}

func (s *Session) Tag() string {
	return s.tag
}

func (s *Session) Close() error {
	var err error
	if s.browser != nil {
		err = s.browser.Close()
		if err != nil {
			s.tel.ReportWarning(report_session_close, err, s.tag)
		}
	}
	if s.launcher != nil {
		s.launcher.Kill()
		s.launcher.Cleanup()
	}
	return err
}

// Page returns the underlying page bound to ctx.
func (s *Session) Page(ctx context.Context) *rod.Page {
	return s.page.Context(ctx)
}

// FirstUse reports whether this is the first call to FirstUse on the
// session, adapters use it to skip work a fresh session does not need.
func (s *Session) FirstUse() bool {
	first := !s.used
	s.used = true
	return first
}

// Navigate opens url and waits for the load event.
func (s *Session) Navigate(ctx context.Context, url string) error {
	page := s.page.Context(ctx)
	err := page.Navigate(url)
	if err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	err = page.WaitLoad()
	if err != nil {
		return fmt.Errorf("wait for %s: %w", url, err)
	}
	return nil
}

// Reload reloads the current page and waits for the load event.
func (s *Session) Reload(ctx context.Context) error {
	page := s.page.Context(ctx)
	err := page.Reload()
	if err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	err = page.WaitLoad()
	if err != nil {
		return fmt.Errorf("wait for reload: %w", err)
	}
	return nil
}

// Element waits up to the element timeout for xpath to match.
func (s *Session) Element(ctx context.Context, xpath string) (*rod.Element, error) {
	return s.ElementWithin(ctx, xpath, s.opts.ElementTimeout)
}

func (s *Session) ElementWithin(ctx context.Context, xpath string, timeout time.Duration) (*rod.Element, error) {
	el, err := s.page.Context(ctx).Timeout(timeout).ElementX(xpath)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrElementNotFound, xpath)
		}
		return nil, fmt.Errorf("find %s: %w", xpath, err)
	}
	return el.CancelTimeout().Context(ctx), nil
}

// Has reports whether xpath matches within timeout.
func (s *Session) Has(ctx context.Context, xpath string, timeout time.Duration) bool {
	_, err := s.ElementWithin(ctx, xpath, timeout)
	return err == nil
}

func (s *Session) Click(ctx context.Context, xpath string) error {
	el, err := s.Element(ctx, xpath)
	if err != nil {
		return err
	}
	err = el.Click(proto.InputMouseButtonLeft, 1)
	if err != nil {
		return fmt.Errorf("click %s: %w", xpath, err)
	}
	return nil
}

// Type clicks the input at xpath and types text one character at a time.
func (s *Session) Type(ctx context.Context, xpath, text string) error {
	el, err := s.Element(ctx, xpath)
	if err != nil {
		return err
	}
	err = el.Click(proto.InputMouseButtonLeft, 1)
	if err != nil {
		return fmt.Errorf("focus %s: %w", xpath, err)
	}
	for _, r := range text {
		err = el.Input(string(r))
		if err != nil {
			return fmt.Errorf("type into %s: %w", xpath, err)
		}
		err = Pause(ctx, s.opts.TypingDelay)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) Text(ctx context.Context, xpath string) (string, error) {
	el, err := s.Element(ctx, xpath)
	if err != nil {
		return "", err
	}
	text, err := el.Text()
	if err != nil {
		return "", fmt.Errorf("read text of %s: %w", xpath, err)
	}
	return text, nil
}

// HTML returns the outer html of xpath.
func (s *Session) HTML(ctx context.Context, xpath string) (string, error) {
	el, err := s.Element(ctx, xpath)
	if err != nil {
		return "", err
	}
	html, err := el.HTML()
	if err != nil {
		return "", fmt.Errorf("read html of %s: %w", xpath, err)
	}
	return html, nil
}

// Attribute returns the attribute name of xpath, or "" when it is unset.
func (s *Session) Attribute(ctx context.Context, xpath, name string) (string, error) {
	el, err := s.Element(ctx, xpath)
	if err != nil {
		return "", err
	}
	value, err := el.Attribute(name)
	if err != nil {
		return "", fmt.Errorf("read %s of %s: %w", name, xpath, err)
	}
	if value == nil {
		return "", nil
	}
	return *value, nil
}

// ElementPNG captures xpath as a png.
func (s *Session) ElementPNG(ctx context.Context, xpath string) ([]byte, error) {
	el, err := s.Element(ctx, xpath)
	if err != nil {
		return nil, err
	}
	err = el.ScrollIntoView()
	if err != nil {
		return nil, fmt.Errorf("scroll to %s: %w", xpath, err)
	}
	png, err := el.Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
	if err != nil {
		return nil, fmt.Errorf("capture %s: %w", xpath, err)
	}
	return png, nil
}

// PagePNG captures the viewport as a png.
func (s *Session) PagePNG(ctx context.Context) ([]byte, error) {
	png, err := s.page.Context(ctx).Screenshot(false, nil)
	if err != nil {
		return nil, fmt.Errorf("capture page: %w", err)
	}
	return png, nil
}

// EvalBool runs js, a function expression, and returns its boolean result.
func (s *Session) EvalBool(ctx context.Context, js string, args ...any) (bool, error) {
	res, err := s.page.Context(ctx).Eval(js, args...)
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	return res.Value.Bool(), nil
}

// EvalStrings runs js and returns its result as a list of strings, non
// string items are skipped.
func (s *Session) EvalStrings(ctx context.Context, js string, args ...any) ([]string, error) {
	res, err := s.page.Context(ctx).Eval(js, args...)
	if err != nil {
		return nil, fmt.Errorf("eval: %w", err)
	}
	var out []string
	for _, item := range res.Value.Arr() {
		if str := item.Str(); str != "" {
			out = append(out, str)
		}
	}
	return out, nil
}

// Screenshot saves a debug screenshot named after step when a screenshot
// directory is configured. Failures are only reported.
func (s *Session) Screenshot(ctx context.Context, step string) {
	if s.opts.ScreenshotDir == "" {
		return
	}
	png, err := s.PagePNG(ctx)
	if err != nil {
		s.tel.ReportWarning(report_session_screenshot, err, step)
		return
	}
	err = os.MkdirAll(s.opts.ScreenshotDir, 0777)
	if err != nil {
		s.tel.ReportWarning(report_session_screenshot, err, step)
		return
	}
	name := fmt.Sprintf("%s-%s-%s.png", timezone.Now().Format("20060102-150405"), s.tag, step)
	err = os.WriteFile(filepath.Join(s.opts.ScreenshotDir, name), png, 0666)
	if err != nil {
		s.tel.ReportWarning(report_session_screenshot, err, step)
	}
}

// Pause waits for d or until ctx is done.
func Pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
