// Package publish chooses between the REST API and the web editor for a
// document and runs the chosen strategy.
package publish

import (
	"context"
	"errors"
	"fmt"

	"notepub/internal/document"
	"notepub/internal/logger"
	"notepub/internal/noteapi"
	"notepub/internal/orchestrator"
	"notepub/internal/segment"
)

// ErrNoEditor is returned when a document needs the web editor but no
// browser driver was configured.
var ErrNoEditor = errors.New("document needs the web editor but no browser is configured")

// Mode names a publishing strategy.
type Mode string

const (
	// ModeAPI publishes with create then update calls.
	ModeAPI Mode = "api"
	// ModeUI drives the web editor, which is the only way to place body
	// images.
	ModeUI Mode = "ui"
)

// Editor runs one editor session.
type Editor interface {
	Run(ctx context.Context, article orchestrator.Article, target orchestrator.Target) (*orchestrator.Report, error)
}

// Converter renders Markdown to HTML.
type Converter interface {
	Convert(src string) (string, error)
}

// Options tune a single publish.
type Options struct {
	Status      noteapi.Status
	DraftKey    string
	ImageBase   string
	HeaderImage string
	Username    string
	Tags        []string
	ForceUI     bool
}

// Result is returned by both strategies. On failure it carries whatever
// identity was assigned before the error.
type Result struct {
	URL        string
	Status     noteapi.Status
	ArticleKey string
	Mode       Mode
	Hashtags   []string
	Skipped    []orchestrator.Outcome
	Stalled    []orchestrator.Outcome
	ArticleID  int64
	Inserted   int
}

// Authenticator prepares the API client before the first request.
type Authenticator func(ctx context.Context) error

// Publisher dispatches documents to a strategy.
type Publisher struct {
	client    noteapi.Client
	editor    Editor
	converter Converter
	auth      Authenticator
	logger    *logger.Logger
}

// New creates a publisher. editor may be nil when only the API path is
// available.
func New(client noteapi.Client, editor Editor, conv Converter, log *logger.Logger) *Publisher {
	if log == nil {
		log = logger.Discard()
	}

	return &Publisher{
		client:    client,
		editor:    editor,
		converter: conv,
		logger:    log,
	}
}

// WithAuthenticator sets the hook run before the API path. The editor
// path signs in on its own.
func (p *Publisher) WithAuthenticator(auth Authenticator) *Publisher {
	p.auth = auth
	return p
}

// SelectMode returns the strategy for doc. Hashtags can only be set in the
// editor.
func SelectMode(doc *document.Document, opts Options) Mode {
	if opts.ForceUI || opts.DraftKey != "" || len(opts.Tags) > 0 || segment.HasBodyImages(doc.Body) {
		return ModeUI
	}

	return ModeAPI
}

// Publish sends doc to the platform.
func (p *Publisher) Publish(ctx context.Context, doc *document.Document, opts Options) (*Result, error) {
	mode := SelectMode(doc, opts)

	header := opts.HeaderImage
	if header == "" {
		header = doc.HeaderImagePath
	}

	p.logger.Info("publishing document",
		"path", doc.Path,
		"title", doc.Title,
		"mode", string(mode),
		"header_image", header != "")

	if mode == ModeUI {
		return p.publishUI(ctx, doc, header, opts)
	}

	return p.publishAPI(ctx, doc, header, opts)
}

func (p *Publisher) publishAPI(ctx context.Context, doc *document.Document, header string, opts Options) (*Result, error) {
	result := &Result{Mode: ModeAPI, Status: opts.Status}
	if result.Status == "" {
		result.Status = noteapi.StatusDraft
	}

	if p.auth != nil {
		if err := p.auth(ctx); err != nil {
			return result, fmt.Errorf("authentication failed: %w", err)
		}
	}

	html, err := p.converter.Convert(doc.Body)
	if err != nil {
		return result, fmt.Errorf("convert body: %w", err)
	}

	post, err := p.client.PostArticle(ctx, noteapi.PostParams{
		HTML:            html,
		Title:           doc.Title,
		Status:          result.Status,
		Username:        opts.Username,
		HeaderImagePath: header,
	})

	var incomplete *noteapi.IncompleteArticleError
	if errors.As(err, &incomplete) {
		result.ArticleID = incomplete.ID
		result.ArticleKey = incomplete.Key
		return result, err
	}

	if err != nil {
		return result, err
	}

	result.URL = post.URL
	result.Status = post.Status
	result.ArticleID = post.Ref.ID
	result.ArticleKey = post.Ref.Key

	p.logger.Info("article posted", "id", result.ArticleID, "key", result.ArticleKey, "status", string(result.Status))

	return result, nil
}

func (p *Publisher) publishUI(ctx context.Context, doc *document.Document, header string, opts Options) (*Result, error) {
	result := &Result{Mode: ModeUI, Status: noteapi.StatusDraft, ArticleKey: opts.DraftKey}

	if p.editor == nil {
		return result, ErrNoEditor
	}

	base := opts.ImageBase
	if base == "" {
		base = doc.Dir()
	}

	sections := segment.SplitAtImages(doc.Body, base)
	p.logger.Debug("document segmented",
		"text", segment.Count(sections, segment.KindText),
		"images", segment.Count(sections, segment.KindImage))

	report, err := p.editor.Run(ctx, orchestrator.Article{
		Title:           doc.Title,
		HeaderImagePath: header,
		Sections:        sections,
		Tags:            opts.Tags,
	}, orchestrator.Target{
		DraftKey: opts.DraftKey,
		Username: opts.Username,
		Publish:  opts.Status == noteapi.StatusPublished,
	})

	if report != nil {
		result.URL = report.URL
		result.ArticleKey = report.ArticleKey
		result.Hashtags = report.Hashtags
		result.Skipped = report.Skipped
		result.Stalled = report.Stalled
		result.Inserted = report.Inserted
		if report.Published {
			result.Status = noteapi.StatusPublished
		}
	}

	return result, err
}
