// Package orchestrator drives the platform's web editor through a browser
// session to publish articles whose bodies contain images.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"

	"notepub/internal/auth"
	"notepub/internal/browser"
	"notepub/internal/clock"
	"notepub/internal/config"
	"notepub/internal/logger"
	"notepub/internal/noteapi"
	"notepub/internal/segment"
	"notepub/pkg/utils"
)

// Per-segment outcomes. They are recorded on the report and never returned
// from Run.
var (
	ErrUploadStalled = errors.New("image upload stalled")
	ErrImageMissing  = errors.New("image file not found")
)

// UIElementNotFoundError reports that a required editor element did not
// appear. It ends the session.
type UIElementNotFoundError struct {
	Err     error
	Element string
	Locator browser.Locator
}

func (e *UIElementNotFoundError) Error() string {
	return fmt.Sprintf("editor element %q (%s) not found: %v", e.Element, e.Locator, e.Err)
}

func (e *UIElementNotFoundError) Unwrap() error {
	return e.Err
}

// CredentialSource yields a logged-in session.
type CredentialSource interface {
	Credentials(ctx context.Context) (*auth.Session, error)
}

// Converter renders one text segment to HTML.
type Converter interface {
	Convert(src string) (string, error)
}

// Article is the content to place in the editor.
type Article struct {
	Title           string
	HeaderImagePath string
	Sections        []segment.Segment
	Tags            []string
}

// Target selects where the article goes. An empty DraftKey creates a new
// article. Publish releases the article instead of saving a draft.
type Target struct {
	DraftKey string
	Username string
	Publish  bool
}

// Orchestrator runs the editor state machine.
type Orchestrator struct {
	creds     CredentialSource
	driver    browser.Driver
	converter Converter
	cfg       *config.Config
	clock     clock.Clock
	logger    *logger.Logger
}

// New creates an orchestrator.
func New(cfg *config.Config, creds CredentialSource, driver browser.Driver, conv Converter, log *logger.Logger) *Orchestrator {
	if log == nil {
		log = logger.Discard()
	}

	return &Orchestrator{
		creds:     creds,
		driver:    driver,
		converter: conv,
		cfg:       cfg,
		clock:     clock.System{},
		logger:    log,
	}
}

// WithClock replaces the clock used for settle, grace and polling waits.
func (o *Orchestrator) WithClock(clk clock.Clock) *Orchestrator {
	o.clock = clk
	return o
}

// run holds the state of one publish session.
type run struct {
	session    browser.Session
	report     *Report
	imageCount int
}

// Run publishes article into target. The report is returned even on error
// and carries whatever identity was learned before the failure.
func (o *Orchestrator) Run(ctx context.Context, article Article, target Target) (*Report, error) {
	r := &run{report: &Report{ArticleKey: target.DraftKey}}
	r.report.enter(StateInit)

	creds, err := o.creds.Credentials(ctx)
	if err != nil {
		return r.report, fmt.Errorf("authenticate: %w", err)
	}
	r.report.enter(StateAuthenticated)

	s, err := o.driver.Open(ctx, creds.RawCookies)
	if err != nil {
		return r.report, fmt.Errorf("open browser: %w", err)
	}
	r.session = s
	defer func() {
		if closeErr := s.Close(); closeErr != nil {
			o.logger.Warn("failed to close browser session", "error", closeErr)
		}
	}()

	if err := o.openEditor(ctx, r, target); err != nil {
		o.finish(ctx, r, target)
		return r.report, err
	}

	if target.DraftKey == "" {
		if err := o.setHeaderAndTitle(ctx, r, article); err != nil {
			o.finish(ctx, r, target)
			return r.report, err
		}
	} else {
		r.report.enter(StateExistingDraft)
	}

	if err := o.clearBody(ctx, r); err != nil {
		o.finish(ctx, r, target)
		return r.report, err
	}

	total := len(article.Sections)
	for _, seg := range article.Sections {
		if err := o.insertSegment(ctx, r, seg, total); err != nil {
			o.finish(ctx, r, target)
			return r.report, err
		}
	}

	if err := o.setHashtags(ctx, r, article.Tags); err != nil {
		o.finish(ctx, r, target)
		return r.report, err
	}

	commit := o.save
	if target.Publish {
		commit = o.publish
	}

	if err := commit(ctx, r); err != nil {
		o.finish(ctx, r, target)
		return r.report, err
	}

	o.finish(ctx, r, target)

	o.logger.Info("editor session finished",
		"url", r.report.URL,
		"inserted", r.report.Inserted,
		"skipped", len(r.report.Skipped),
		"stalled", len(r.report.Stalled),
		"hashtags", len(r.report.Hashtags),
		"save_confirmed", r.report.SaveConfirmed,
		"published", r.report.Published)

	return r.report, nil
}

func (o *Orchestrator) locator(name string) browser.Locator {
	loc, _ := o.cfg.Locators.Lookup(name)
	return loc
}

func (o *Orchestrator) uiError(name string, err error) error {
	if errors.Is(err, browser.ErrElementNotFound) {
		return &UIElementNotFoundError{Element: name, Locator: o.locator(name), Err: err}
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (o *Orchestrator) click(ctx context.Context, s browser.Session, name string) error {
	if err := s.Click(ctx, o.locator(name)); err != nil {
		return o.uiError(name, err)
	}

	return nil
}

func (o *Orchestrator) openEditor(ctx context.Context, r *run, target Target) error {
	url := o.cfg.Browser.NewArticleURL
	if target.DraftKey != "" {
		url = o.cfg.Browser.EditURLFor(target.DraftKey)
	}

	o.logger.Info("opening editor", "url", url, "draft", target.DraftKey != "")

	if err := r.session.Navigate(ctx, url); err != nil {
		return fmt.Errorf("navigate to editor: %w", err)
	}

	ready := browser.ElementEditorReady
	if err := r.session.WaitVisible(ctx, o.locator(ready), config.Duration(o.cfg.Timeouts.PageLoadMs)); err != nil {
		return o.uiError(ready, err)
	}

	if current, err := r.session.CurrentURL(ctx); err == nil {
		r.report.EditorURL = current
		if key := noteapi.KeyFromEditorURL(current); key != "" && r.report.ArticleKey == "" {
			r.report.ArticleKey = key
		}
	}

	r.report.enter(StateSessionOpened)

	return nil
}

func (o *Orchestrator) setHeaderAndTitle(ctx context.Context, r *run, article Article) error {
	if article.HeaderImagePath != "" {
		if err := o.setHeaderImage(ctx, r, article.HeaderImagePath); err != nil {
			return err
		}
	}

	title := browser.ElementTitleInput
	if err := r.session.Fill(ctx, o.locator(title), article.Title); err != nil {
		return o.uiError(title, err)
	}
	r.report.enter(StateTitleSet)

	return nil
}

func (o *Orchestrator) setHeaderImage(ctx context.Context, r *run, path string) error {
	if _, err := os.Stat(path); err != nil {
		o.logger.Warn("header image not found, skipping", "path", path)
		r.report.Skipped = append(r.report.Skipped, Outcome{Order: -1, Kind: segment.KindImage, Path: path, Err: ErrImageMissing})
		return nil
	}

	if err := o.click(ctx, r.session, browser.ElementHeaderImageAdd); err != nil {
		return err
	}

	upload := browser.ElementHeaderImageUpload
	if err := r.session.ChooseFiles(ctx, o.locator(upload), path); err != nil {
		return o.uiError(upload, err)
	}

	// The crop dialog does not always appear.
	crop := o.locator(browser.ElementCropSave)
	if err := r.session.WaitVisible(ctx, crop, config.Duration(o.cfg.Timeouts.CropGraceMs)); err == nil {
		if err := r.session.Click(ctx, crop); err != nil {
			o.logger.Warn("failed to confirm crop dialog", "error", err)
		}
	} else {
		o.logger.Debug("no crop dialog", "error", err)
	}

	r.report.enter(StateHeaderImageSet)
	o.logger.Info("header image set", "path", path)

	return nil
}

func (o *Orchestrator) clearBody(ctx context.Context, r *run) error {
	if err := o.click(ctx, r.session, browser.ElementBodyInput); err != nil {
		return err
	}

	if err := r.session.Press(ctx, browser.KeySelectAll); err != nil {
		return fmt.Errorf("clear body: %w", err)
	}

	if err := r.session.Press(ctx, browser.KeyBackspace); err != nil {
		return fmt.Errorf("clear body: %w", err)
	}

	n, err := r.session.Count(ctx, o.locator(browser.ElementBodyImage))
	if err != nil {
		return fmt.Errorf("count body images: %w", err)
	}
	r.imageCount = n

	r.report.enter(StateBodyCleared)

	return nil
}

func (o *Orchestrator) insertSegment(ctx context.Context, r *run, seg segment.Segment, total int) error {
	log := o.logger.With("segment", seg.Order+1, "of", total, "kind", seg.Kind.String())

	if seg.Kind == segment.KindText {
		return o.insertText(ctx, r, seg, log)
	}

	return o.insertImage(ctx, r, seg, log)
}

func (o *Orchestrator) moveCursorToEnd(ctx context.Context, s browser.Session) error {
	if err := s.Press(ctx, browser.KeyDocumentEnd); err != nil {
		return fmt.Errorf("move cursor: %w", err)
	}

	return nil
}

func (o *Orchestrator) insertText(ctx context.Context, r *run, seg segment.Segment, log *logger.Logger) error {
	html, err := o.converter.Convert(seg.Content)
	if err != nil {
		return fmt.Errorf("convert segment %d: %w", seg.Order, err)
	}

	if html == "" {
		log.Debug("empty text segment skipped")
		return nil
	}

	r.report.enter(StatePerSegment)
	log.Info("pasting text", "preview", utils.Preview(seg.Content, 40))

	if err := o.moveCursorToEnd(ctx, r.session); err != nil {
		return err
	}

	if err := r.session.Evaluate(ctx, browser.ClipboardHTMLScript, html); err != nil {
		return fmt.Errorf("write clipboard: %w", err)
	}

	if err := r.session.Press(ctx, browser.KeyPaste); err != nil {
		return fmt.Errorf("paste: %w", err)
	}

	return o.clock.Sleep(ctx, config.Duration(o.cfg.Timeouts.SettleMs))
}

func (o *Orchestrator) insertImage(ctx context.Context, r *run, seg segment.Segment, log *logger.Logger) error {
	r.report.enter(StatePerSegment)

	if _, err := os.Stat(seg.Path); err != nil {
		log.Warn("image file not found, skipping", "path", seg.Path)
		r.report.Skipped = append(r.report.Skipped, Outcome{Order: seg.Order, Kind: seg.Kind, Path: seg.Path, Err: ErrImageMissing})
		return nil
	}

	log.Info("inserting image", "path", seg.Path, "alt", seg.Alt)

	if err := o.moveCursorToEnd(ctx, r.session); err != nil {
		return err
	}

	if err := r.session.Press(ctx, browser.KeyEnter); err != nil {
		return fmt.Errorf("insert paragraph: %w", err)
	}

	menu := browser.ElementBodyMenu
	if err := r.session.WaitVisible(ctx, o.locator(menu), config.Duration(o.cfg.Timeouts.ElementMs)); err != nil {
		return o.uiError(menu, err)
	}

	if err := o.click(ctx, r.session, menu); err != nil {
		return err
	}

	button := browser.ElementBodyImageButton
	if err := r.session.ChooseFiles(ctx, o.locator(button), seg.Path); err != nil {
		return o.uiError(button, err)
	}

	n, err := o.awaitUpload(ctx, r.session, r.imageCount)
	if errors.Is(err, ErrUploadStalled) {
		log.Warn("image upload stalled, continuing", "path", seg.Path)
		r.report.Stalled = append(r.report.Stalled, Outcome{Order: seg.Order, Kind: seg.Kind, Path: seg.Path, Err: err})
		return nil
	}

	if err != nil {
		return err
	}

	r.imageCount = n
	r.report.Inserted++

	if err := r.session.Press(ctx, browser.KeyArrowDown); err != nil {
		return fmt.Errorf("move past image: %w", err)
	}

	if err := r.session.Press(ctx, browser.KeyEnd); err != nil {
		return fmt.Errorf("move past image: %w", err)
	}

	return nil
}

// awaitUpload polls the editor's image count until it exceeds prev. The
// upload is stalled when the busy indicator was seen and has gone without
// the count moving after the minimum number of polls, or when the poll
// budget runs out.
func (o *Orchestrator) awaitUpload(ctx context.Context, s browser.Session, prev int) (int, error) {
	t := o.cfg.Timeouts
	images := o.locator(browser.ElementBodyImage)
	indicator := o.locator(browser.ElementUploadIndicator)

	sawIndicator := false

	for poll := 1; poll <= t.MaxPolls; poll++ {
		if err := o.clock.Sleep(ctx, config.Duration(t.PollIntervalMs)); err != nil {
			return prev, err
		}

		n, err := s.Count(ctx, images)
		if err != nil {
			return prev, fmt.Errorf("count body images: %w", err)
		}

		if n >= prev+1 {
			o.logger.Debug("image upload complete", "polls", poll, "count", n)
			return n, nil
		}

		busy, err := s.IsVisible(ctx, indicator)
		if err != nil {
			return prev, fmt.Errorf("check upload indicator: %w", err)
		}

		if busy {
			sawIndicator = true
			continue
		}

		if sawIndicator && poll >= t.StallMinPolls {
			return prev, ErrUploadStalled
		}
	}

	return prev, ErrUploadStalled
}

func (o *Orchestrator) save(ctx context.Context, r *run) error {
	if err := o.click(ctx, r.session, browser.ElementSaveDraft); err != nil {
		return err
	}
	r.report.enter(StateSaveRequested)

	confirm := o.locator(browser.ElementSaveConfirmation)
	if err := r.session.WaitVisible(ctx, confirm, config.Duration(o.cfg.Timeouts.SaveConfirmMs)); err == nil {
		r.report.SaveConfirmed = true
		r.report.enter(StateSaveConfirmed)
		return nil
	}

	o.logger.Warn("save confirmation not seen, waiting grace period")

	if err := o.clock.Sleep(ctx, config.Duration(o.cfg.Timeouts.SaveGraceMs)); err != nil {
		return err
	}
	r.report.enter(StateSaveTimedOut)

	return nil
}

// setHashtags types each tag into the hashtag field and confirms it with
// Enter. A missing field skips the step; the body is already in place and
// tags can be added later.
func (o *Orchestrator) setHashtags(ctx context.Context, r *run, tags []string) error {
	if len(tags) == 0 {
		return nil
	}

	name := browser.ElementHashtagInput
	field := o.locator(name)
	if err := r.session.WaitVisible(ctx, field, config.Duration(o.cfg.Timeouts.ElementMs)); err != nil {
		if errors.Is(err, browser.ErrElementNotFound) {
			o.logger.Warn("hashtag field not found, skipping tags", "tags", tags)
			return nil
		}
		return o.uiError(name, err)
	}

	for _, tag := range tags {
		if err := o.click(ctx, r.session, name); err != nil {
			return err
		}

		if err := r.session.Fill(ctx, field, tag); err != nil {
			return o.uiError(name, err)
		}

		if err := r.session.Press(ctx, browser.KeyEnter); err != nil {
			return fmt.Errorf("confirm hashtag %q: %w", tag, err)
		}

		r.report.Hashtags = append(r.report.Hashtags, tag)

		if err := o.clock.Sleep(ctx, config.Duration(o.cfg.Timeouts.TagDelayMs)); err != nil {
			return err
		}
	}

	r.report.enter(StateHashtagsSet)
	o.logger.Info("hashtags set", "tags", tags)

	return nil
}

// publish opens the publish settings, presses the publish button and
// accepts the confirmation dialog when one appears.
func (o *Orchestrator) publish(ctx context.Context, r *run) error {
	t := o.cfg.Timeouts

	if err := o.click(ctx, r.session, browser.ElementPublishSettings); err != nil {
		return err
	}

	if err := o.clock.Sleep(ctx, config.Duration(t.PublishPanelMs)); err != nil {
		return err
	}

	button := browser.ElementPublishButton
	if err := r.session.WaitVisible(ctx, o.locator(button), config.Duration(t.ElementMs)); err != nil {
		return o.uiError(button, err)
	}

	if err := o.click(ctx, r.session, button); err != nil {
		return err
	}
	r.report.enter(StatePublishRequested)

	if confirm, ok := o.cfg.Locators.Lookup(browser.ElementPublishConfirm); ok && confirm.Valid() {
		if err := r.session.WaitVisible(ctx, confirm, config.Duration(t.ElementMs)); err == nil {
			if err := r.session.Click(ctx, confirm); err != nil {
				return o.uiError(browser.ElementPublishConfirm, err)
			}
		} else {
			o.logger.Debug("no publish confirmation dialog", "error", err)
		}
	}

	if err := o.clock.Sleep(ctx, config.Duration(t.PublishGraceMs)); err != nil {
		return err
	}

	r.report.Published = true
	r.report.enter(StatePublished)
	o.logger.Info("article published")

	return nil
}

// finish resolves the article URL: public URL from username and key, else
// the editor URL.
func (o *Orchestrator) finish(ctx context.Context, r *run, target Target) {
	if current, err := r.session.CurrentURL(ctx); err == nil && current != "" {
		r.report.EditorURL = current
		if r.report.ArticleKey == "" {
			r.report.ArticleKey = noteapi.KeyFromEditorURL(current)
		}
	}

	switch {
	case r.report.ArticleKey != "" && target.Username != "":
		r.report.URL = o.cfg.API.ArticleURL(target.Username, r.report.ArticleKey)
	default:
		r.report.URL = r.report.EditorURL
	}
}
