package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"notepub/internal/browser"
	"notepub/internal/clock"
	"notepub/internal/logger"
)

// Login errors.
var (
	ErrCredentialMissing = errors.New("login credentials missing (NOTE_EMAIL / NOTE_PASSWORD)")
	ErrNoCookies         = errors.New("login produced no session cookies")
	ErrLoginTimeout      = errors.New("login did not leave the login page")
)

// Validator reports whether cookies are still accepted by the platform.
type Validator func(ctx context.Context, cookies map[string]string) (bool, error)

// LoginOptions configures the browser login.
type LoginOptions struct {
	URL            string
	Email          string
	Password       string
	CookieDomain   string
	ElementTimeout time.Duration
	PageTimeout    time.Duration
	PollInterval   time.Duration
}

// Provider returns usable session credentials, logging in when needed.
type Provider struct {
	store    *Store
	validate Validator
	driver   browser.Driver
	locators browser.Catalog
	opts     LoginOptions
	clock    clock.Clock
	logger   *logger.Logger
}

// NewProvider creates a provider. validate may be nil to trust any fresh
// saved session.
func NewProvider(store *Store, driver browser.Driver, locators browser.Catalog, opts LoginOptions, validate Validator, log *logger.Logger) *Provider {
	if log == nil {
		log = logger.Discard()
	}

	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}

	return &Provider{
		store:    store,
		validate: validate,
		driver:   driver,
		locators: locators,
		opts:     opts,
		clock:    clock.System{},
		logger:   log,
	}
}

// WithClock replaces the clock used for login waits.
func (p *Provider) WithClock(clk clock.Clock) *Provider {
	p.clock = clk
	return p
}

// Credentials returns the saved session when it is fresh, carries browser
// cookies and passes validation. Otherwise it logs in.
func (p *Provider) Credentials(ctx context.Context) (*Session, error) {
	sess, err := p.store.Load()

	switch {
	case err == nil:
		if p.usable(ctx, sess) {
			p.logger.Debug("using saved session", "saved_at", sess.SavedAt)
			return sess, nil
		}
		p.logger.Info("saved session rejected, logging in again")
	case errors.Is(err, os.ErrNotExist):
		p.logger.Debug("no saved session", "path", p.store.Path())
	case errors.Is(err, ErrSessionStale):
		p.logger.Info("saved session expired, logging in again")
	default:
		p.logger.Warn("failed to load saved session", "error", err)
	}

	return p.Login(ctx)
}

func (p *Provider) usable(ctx context.Context, sess *Session) bool {
	if len(sess.Cookies) == 0 || len(sess.RawCookies) == 0 {
		return false
	}

	if p.validate == nil {
		return true
	}

	ok, err := p.validate(ctx, sess.Cookies)
	if err != nil {
		p.logger.Warn("session validation failed", "error", err)
		return false
	}

	return ok
}

// Login signs in through the browser and saves the resulting cookies.
func (p *Provider) Login(ctx context.Context) (*Session, error) {
	if p.opts.Email == "" || p.opts.Password == "" {
		return nil, ErrCredentialMissing
	}

	s, err := p.driver.Open(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open browser: %w", err)
	}
	defer func() {
		if closeErr := s.Close(); closeErr != nil {
			p.logger.Warn("failed to close login browser", "error", closeErr)
		}
	}()

	if err := p.submitForm(ctx, s); err != nil {
		return nil, err
	}

	if err := p.waitForRedirect(ctx, s); err != nil {
		return nil, err
	}

	raw, err := s.Cookies(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}

	sess := &Session{Cookies: map[string]string{}}
	for _, c := range raw {
		if p.opts.CookieDomain != "" && !strings.Contains(c.Domain, p.opts.CookieDomain) {
			continue
		}
		sess.Cookies[c.Name] = c.Value
		sess.RawCookies = append(sess.RawCookies, c)
	}

	if len(sess.Cookies) == 0 {
		return nil, ErrNoCookies
	}

	if err := p.store.Save(sess); err != nil {
		return nil, err
	}

	p.logger.Info("login succeeded", "cookies", len(sess.Cookies))

	return sess, nil
}

func (p *Provider) submitForm(ctx context.Context, s browser.Session) error {
	email, _ := p.locators.Lookup(browser.ElementLoginEmail)
	password, _ := p.locators.Lookup(browser.ElementLoginPassword)
	submit, _ := p.locators.Lookup(browser.ElementLoginSubmit)

	if err := s.Navigate(ctx, p.opts.URL); err != nil {
		return fmt.Errorf("failed to open login page: %w", err)
	}

	if err := s.WaitVisible(ctx, email, p.opts.ElementTimeout); err != nil {
		return fmt.Errorf("login form: %w", err)
	}

	if err := s.Fill(ctx, email, p.opts.Email); err != nil {
		return fmt.Errorf("login form: %w", err)
	}

	if err := s.Fill(ctx, password, p.opts.Password); err != nil {
		return fmt.Errorf("login form: %w", err)
	}

	if err := s.WaitVisible(ctx, submit, p.opts.ElementTimeout); err != nil {
		return fmt.Errorf("login form: %w", err)
	}

	// The submit button enables itself shortly after both fields fill.
	if err := p.clock.Sleep(ctx, 500*time.Millisecond); err != nil {
		return err
	}

	if err := s.Click(ctx, submit); err != nil {
		return fmt.Errorf("login form: %w", err)
	}

	return nil
}

func (p *Provider) waitForRedirect(ctx context.Context, s browser.Session) error {
	deadline := p.clock.Now().Add(p.opts.PageTimeout)

	for {
		url, err := s.CurrentURL(ctx)
		if err != nil {
			return err
		}

		if !strings.Contains(url, "/login") {
			return nil
		}

		if !p.clock.Now().Before(deadline) {
			return ErrLoginTimeout
		}

		if err := p.clock.Sleep(ctx, p.opts.PollInterval); err != nil {
			return err
		}
	}
}
