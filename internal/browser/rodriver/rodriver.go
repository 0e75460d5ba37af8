// Package rodriver implements browser.Driver on headless Chrome via go-rod.
package rodriver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"notepub/internal/browser"
	"notepub/internal/logger"
)

// finderPrelude resolves a locator to a node list in the page.
const finderPrelude = `
  const roles = {
    button: 'button, [role="button"]',
    textbox: 'input, textarea, [role="textbox"], [contenteditable="true"]',
    link: 'a, [role="link"]',
  };
  const sel = css || roles[role] || '[role="' + role + '"]';
  let nodes = Array.from(document.querySelectorAll(sel));
  if (name) {
    nodes = nodes.filter((n) => {
      const label = n.getAttribute('aria-label') || n.getAttribute('placeholder') || n.textContent || '';
      return label.trim() === name;
    });
  }
  if (text) {
    nodes = nodes.filter((n) => (n.textContent || '').includes(text));
  }
`

const findJS = `(css, role, name, text, last) => {` + finderPrelude + `
  if (nodes.length === 0) return null;
  return last ? nodes[nodes.length - 1] : nodes[0];
}`

const countJS = `(css, role, name, text, last) => {` + finderPrelude + `
  return nodes.length;
}`

const visibleJS = `(css, role, name, text, last) => {` + finderPrelude + `
  const n = last ? nodes[nodes.length - 1] : nodes[0];
  if (!n) return false;
  const r = n.getBoundingClientRect();
  return r.width > 0 && r.height > 0 && getComputedStyle(n).visibility !== 'hidden';
}`

// Driver launches a local Chrome for each session.
type Driver struct {
	BinPath   string
	UserAgent string
	// ElementTimeout bounds Click and Fill lookups. Zero waits for ctx.
	ElementTimeout time.Duration
	Headless       bool
	Logger         *logger.Logger
}

var _ browser.Driver = (*Driver)(nil)

// New returns a driver with the given headless setting.
func New(headless bool, userAgent string, log *logger.Logger) *Driver {
	if log == nil {
		log = logger.Discard()
	}

	return &Driver{Headless: headless, UserAgent: userAgent, Logger: log}
}

// Open launches a browser, seeds cookies and opens a blank page.
func (d *Driver) Open(ctx context.Context, cookies []browser.Cookie) (browser.Session, error) {
	l := launcher.New().Context(ctx).Headless(d.Headless)
	if d.BinPath != "" {
		l = l.Bin(d.BinPath)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	s := &session{browser: b, launcher: l, elementTimeout: d.ElementTimeout}

	if len(cookies) > 0 {
		if err := b.SetCookies(toCookieParams(cookies)); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to set cookies: %w", err)
		}
	}

	d.grantClipboard(b)

	page, err := b.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	if d.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: d.UserAgent}); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to set user agent: %w", err)
		}
	}

	s.page = page

	return s, nil
}

type session struct {
	browser        *rod.Browser
	launcher       *launcher.Launcher
	page           *rod.Page
	elementTimeout time.Duration
}

func (s *session) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.elementTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, s.elementTimeout)
}

func locatorArgs(loc browser.Locator) []interface{} {
	return []interface{}{loc.CSS, loc.Role, loc.Name, loc.Text, loc.Last}
}

func (s *session) element(ctx context.Context, loc browser.Locator) (*rod.Element, error) {
	el, err := s.page.Context(ctx).ElementByJS(rod.Eval(findJS, locatorArgs(loc)...))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("%w: %s: %w", browser.ErrElementNotFound, loc, err)
		}
		return nil, fmt.Errorf("failed to locate %s: %w", loc, err)
	}

	return el, nil
}

func (s *session) Navigate(ctx context.Context, url string) error {
	p := s.page.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}

	return p.WaitLoad()
}

func (s *session) CurrentURL(ctx context.Context) (string, error) {
	info, err := s.page.Context(ctx).Info()
	if err != nil {
		return "", err
	}

	return info.URL, nil
}

func (s *session) WaitVisible(ctx context.Context, loc browser.Locator, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	el, err := s.element(ctx, loc)
	if err != nil {
		return err
	}

	if err := el.Context(ctx).WaitVisible(); err != nil {
		return fmt.Errorf("%w: %s not visible: %w", browser.ErrElementNotFound, loc, err)
	}

	return nil
}

func (s *session) IsVisible(ctx context.Context, loc browser.Locator) (bool, error) {
	res, err := s.page.Context(ctx).Eval(visibleJS, locatorArgs(loc)...)
	if err != nil {
		return false, err
	}

	return res.Value.Bool(), nil
}

func (s *session) Count(ctx context.Context, loc browser.Locator) (int, error) {
	res, err := s.page.Context(ctx).Eval(countJS, locatorArgs(loc)...)
	if err != nil {
		return 0, err
	}

	return res.Value.Int(), nil
}

func (s *session) Click(ctx context.Context, loc browser.Locator) error {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	el, err := s.element(ctx, loc)
	if err != nil {
		return err
	}

	return el.Context(ctx).Click(proto.InputMouseButtonLeft, 1)
}

func (s *session) Fill(ctx context.Context, loc browser.Locator, text string) error {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	el, err := s.element(ctx, loc)
	if err != nil {
		return err
	}

	el = el.Context(ctx)
	if err := el.SelectAllText(); err != nil {
		return err
	}

	return el.Input(text)
}

func (s *session) Press(ctx context.Context, key browser.Key) error {
	p := s.page.Context(ctx)

	switch key {
	case browser.KeyEnter:
		return p.Keyboard.Press(input.Enter)
	case browser.KeyBackspace:
		return p.Keyboard.Press(input.Backspace)
	case browser.KeyArrowDown:
		return p.Keyboard.Press(input.ArrowDown)
	case browser.KeyEnd:
		return p.Keyboard.Press(input.End)
	case browser.KeySelectAll:
		return p.KeyActions().Press(input.ControlLeft).Type(input.KeyA).Do()
	case browser.KeyPaste:
		return p.KeyActions().Press(input.ControlLeft).Type(input.KeyV).Do()
	case browser.KeyDocumentEnd:
		return p.KeyActions().Press(input.ControlLeft).Type(input.End).Do()
	}

	return fmt.Errorf("unsupported key %q", key)
}

func (s *session) Evaluate(ctx context.Context, script string, args ...any) error {
	_, err := s.page.Context(ctx).Eval(script, args...)
	return err
}

func (s *session) ChooseFiles(ctx context.Context, trigger browser.Locator, paths ...string) error {
	p := s.page.Context(ctx)

	setFiles, err := p.HandleFileDialog()
	if err != nil {
		return fmt.Errorf("failed to intercept file chooser: %w", err)
	}

	if err := s.Click(ctx, trigger); err != nil {
		return err
	}

	return setFiles(paths)
}

func (s *session) Cookies(ctx context.Context) ([]browser.Cookie, error) {
	raw, err := s.browser.Context(ctx).GetCookies()
	if err != nil {
		return nil, err
	}

	cookies := make([]browser.Cookie, 0, len(raw))
	for _, c := range raw {
		cookie := browser.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		}
		if c.Expires > 0 {
			cookie.Expires = time.Unix(int64(c.Expires), 0)
		}
		cookies = append(cookies, cookie)
	}

	return cookies, nil
}

func (s *session) Close() error {
	err := s.browser.Close()
	s.launcher.Kill()
	s.launcher.Cleanup()

	return err
}

// grantClipboard allows the page to write HTML to the clipboard. Without
// it rich-text paste inserts nothing, so a refusal is logged.
func (d *Driver) grantClipboard(c proto.Client) {
	err := proto.BrowserGrantPermissions{
		Permissions: []proto.BrowserPermissionType{
			proto.BrowserPermissionTypeClipboardReadWrite,
			proto.BrowserPermissionTypeClipboardSanitizedWrite,
		},
	}.Call(c)
	if err == nil {
		return
	}

	log := d.Logger
	if log == nil {
		log = logger.Discard()
	}

	log.Warn("clipboard permission not granted, pasted text may be empty", "error", err)
}

func toCookieParams(cookies []browser.Cookie) []*proto.NetworkCookieParam {
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		param := &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		}
		if !c.Expires.IsZero() {
			param.Expires = proto.TimeSinceEpoch(c.Expires.Unix())
		}
		params = append(params, param)
	}

	return params
}
