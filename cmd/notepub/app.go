package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"notepub/internal/auth"
	"notepub/internal/browser/rodriver"
	"notepub/internal/config"
	"notepub/internal/logger"
	"notepub/internal/markdown"
	"notepub/internal/noteapi"
	"notepub/internal/orchestrator"
	"notepub/internal/publish"
	"notepub/internal/ratelimit"
	"notepub/internal/transport"
)

const defaultConfigFile = "notepub.yaml"

// app holds the wired components for one invocation.
type app struct {
	cfg       *config.Config
	log       *logger.Logger
	client    *noteapi.APIClient
	provider  *auth.Provider
	publisher *publish.Publisher
}

// loadConfig reads path, or notepub.yaml when present, or the defaults.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err != nil {
			return config.Default(), nil
		}
		path = defaultConfigFile
	}

	return config.LoadConfig(path)
}

// loadDotEnv reads .env from the working directory. Variables already set
// in the environment are kept.
func loadDotEnv() error {
	err := godotenv.Load()
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}

	return err
}

func newApp(flags *globalFlags) (*app, error) {
	if err := loadDotEnv(); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg, err := loadConfig(flags.configFile)
	if err != nil {
		return nil, err
	}

	cfg.ApplyEnv()

	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := logger.NewLogger(cfg.Logging.Level).With("run", uuid.NewString())

	limiter := ratelimit.New(cfg.RateLimit.MinInterval(), nil)
	tr := transport.New(cfg.Retry, limiter, log)
	client := noteapi.NewAPIClient(cfg.API, tr, log)

	cookieFile := cfg.Auth.CookieFile
	if cookieFile == "" {
		cookieFile, err = auth.DefaultCookiePath()
		if err != nil {
			return nil, err
		}
	}

	driver := rodriver.New(cfg.Browser.Headless, cfg.API.UserAgent, log)
	driver.BinPath = cfg.Browser.BinPath
	driver.ElementTimeout = config.Duration(cfg.Timeouts.ElementMs)

	validate := func(ctx context.Context, cookies map[string]string) (bool, error) {
		client.SetCookies(cookies)
		return client.ValidateSession(ctx, cfg.Auth.Username)
	}
	if cfg.Auth.Username == "" {
		validate = nil
	}

	provider := auth.NewProvider(
		auth.NewStore(cookieFile, cfg.Auth.MaxAge()),
		driver,
		cfg.Locators,
		auth.LoginOptions{
			URL:            cfg.Browser.LoginURL,
			Email:          os.Getenv(config.EnvEmail),
			Password:       os.Getenv(config.EnvPassword),
			CookieDomain:   cookieDomain(cfg.API.Origin),
			ElementTimeout: config.Duration(cfg.Timeouts.ElementMs),
			PageTimeout:    config.Duration(cfg.Timeouts.PageLoadMs),
		},
		validate,
		log,
	)

	converter := markdown.NewConverter()
	editor := orchestrator.New(cfg, provider, driver, converter, log)

	a := &app{
		cfg:      cfg,
		log:      log,
		client:   client,
		provider: provider,
	}
	a.publisher = publish.New(client, editor, converter, log).WithAuthenticator(a.authenticate)

	return a, nil
}

// authenticate loads or creates a session and hands its cookies to the
// API client.
func (a *app) authenticate(ctx context.Context) error {
	sess, err := a.provider.Credentials(ctx)
	if err != nil {
		return err
	}

	a.client.SetCookies(sess.Cookies)

	return nil
}

func cookieDomain(origin string) string {
	u, err := url.Parse(origin)
	if err != nil || u.Hostname() == "" {
		return ""
	}

	return strings.TrimPrefix(u.Hostname(), "www.")
}
