package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"notepub/internal/auth"
	"notepub/internal/browser"
	"notepub/internal/browser/browsertest"
	"notepub/internal/clock"
	"notepub/internal/config"
	"notepub/internal/logger"
	"notepub/internal/markdown"
	"notepub/internal/segment"
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

const editorURL = "https://editor.note.com/notes/nabc123/edit/"

// MockCredentials implements CredentialSource for testing.
type MockCredentials struct {
	CredentialsFunc func(ctx context.Context) (*auth.Session, error)
}

func (m *MockCredentials) Credentials(ctx context.Context) (*auth.Session, error) {
	if m.CredentialsFunc != nil {
		return m.CredentialsFunc(ctx)
	}

	return &auth.Session{
		Cookies:    map[string]string{"_note_session_v5": "abc"},
		RawCookies: []browser.Cookie{{Name: "_note_session_v5", Value: "abc", Domain: ".note.com"}},
	}, nil
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Locators = browsertest.Catalog()

	return cfg
}

// editorSession simulates an editor where every chosen body image appears
// immediately, except paths listed in stuck.
func editorSession(stuck ...string) *browsertest.Session {
	s := browsertest.NewSession()
	images := 0

	s.OnNavigate = func(url string) {
		if strings.HasSuffix(url, "/notes/new") {
			s.SetURL(editorURL)
		}
	}
	s.OnChooseFile = func(trigger string, paths []string) {
		if trigger != browser.ElementBodyImageButton {
			return
		}
		for _, p := range paths {
			for _, st := range stuck {
				if p == st {
					return
				}
			}
		}
		images++
	}
	s.CountFunc = func(name string) int {
		if name == browser.ElementBodyImage {
			return images
		}
		return 0
	}
	s.VisibleFunc = func(name string) bool {
		return name != browser.ElementUploadIndicator
	}

	return s
}

func writeImage(t *testing.T, dir, name string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("png"), 0644); err != nil {
		t.Fatalf("Failed to write image: %v", err)
	}

	return path
}

func newTestOrchestrator(session *browsertest.Session, clk *clock.Fake) (*Orchestrator, *browsertest.Driver) {
	driver := &browsertest.Driver{Session: session}
	o := New(testConfig(), &MockCredentials{}, driver, markdown.NewConverter(), logger.Discard()).WithClock(clk)

	return o, driver
}

func TestRun_TwoImagesOneMissing(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, dir, "present.png")

	body := "Intro text\n![first](present.png)\nMiddle\n![second](missing.png)\nOutro"
	article := Article{
		Title:    "Scenario B",
		Sections: segment.SplitAtImages(body, dir),
	}

	session := editorSession()
	o, driver := newTestOrchestrator(session, clock.NewFake(epoch))

	report, err := o.Run(context.Background(), article, Target{Username: "alice"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if report.Inserted != 1 {
		t.Errorf("Expected 1 inserted image, got %d", report.Inserted)
	}

	if len(report.Skipped) != 1 || !errors.Is(report.Skipped[0].Err, ErrImageMissing) {
		t.Errorf("Expected 1 skipped missing image, got %+v", report.Skipped)
	}

	if !report.Reached(StateSaveConfirmed) || !report.SaveConfirmed {
		t.Errorf("Expected SaveConfirmed, got states %v", report.States)
	}

	if report.URL != "https://note.com/alice/n/nabc123" {
		t.Errorf("Unexpected URL %s", report.URL)
	}

	if session.Filled[browser.ElementTitleInput] != "Scenario B" {
		t.Errorf("Expected title to be filled, got %v", session.Filled)
	}

	if len(driver.Seeded) != 1 {
		t.Errorf("Expected session cookies to seed the browser, got %v", driver.Seeded)
	}

	if !session.Closed {
		t.Error("Expected session to be closed")
	}
}

func TestRun_StalledUploadContinues(t *testing.T) {
	dir := t.TempDir()
	stuck := writeImage(t, dir, "stuck.png")
	writeImage(t, dir, "ok.png")

	body := "![a](stuck.png)\n![b](ok.png)\nEnd"
	article := Article{Title: "Scenario C", Sections: segment.SplitAtImages(body, dir)}

	clk := clock.NewFake(epoch)
	session := editorSession(stuck)
	o, _ := newTestOrchestrator(session, clk)

	report, err := o.Run(context.Background(), article, Target{Username: "alice"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(report.Stalled) != 1 || report.Stalled[0].Path != stuck {
		t.Fatalf("Expected the first image to stall, got %+v", report.Stalled)
	}

	if report.Inserted != 1 {
		t.Errorf("Expected the second image to be inserted, got %d", report.Inserted)
	}

	polls := 0
	for _, d := range clk.Sleeps() {
		if d == time.Second {
			polls++
		}
	}

	if polls != 31 {
		t.Errorf("Expected 30 polls for the stalled image and 1 for the next, got %d", polls)
	}

	if !report.Reached(StateSaveConfirmed) {
		t.Errorf("Expected run to reach save, got %v", report.States)
	}
}

func TestAwaitUpload_IndicatorDisappears(t *testing.T) {
	session := browsertest.NewSession()
	polls := 0
	session.VisibleFunc = func(name string) bool {
		polls++
		return polls <= 3
	}

	clk := clock.NewFake(epoch)
	o, _ := newTestOrchestrator(session, clk)

	_, err := o.awaitUpload(context.Background(), session, 0)
	if !errors.Is(err, ErrUploadStalled) {
		t.Fatalf("Expected ErrUploadStalled, got %v", err)
	}

	if got := len(clk.Sleeps()); got != 10 {
		t.Errorf("Expected stall after 10 polls, got %d", got)
	}
}

func TestAwaitUpload_Success(t *testing.T) {
	session := browsertest.NewSession()
	polls := 0
	session.CountFunc = func(name string) int {
		polls++
		if polls >= 4 {
			return 3
		}
		return 2
	}

	o, _ := newTestOrchestrator(session, clock.NewFake(epoch))

	n, err := o.awaitUpload(context.Background(), session, 2)
	if err != nil || n != 3 {
		t.Errorf("Expected (3, nil), got (%d, %v)", n, err)
	}
}

func TestRun_HeaderImageAndCropDialog(t *testing.T) {
	dir := t.TempDir()
	header := writeImage(t, dir, "cover.png")

	session := editorSession()
	o, _ := newTestOrchestrator(session, clock.NewFake(epoch))

	report, err := o.Run(context.Background(), Article{
		Title:           "With header",
		HeaderImagePath: header,
		Sections:        segment.SplitAtImages("Body", dir),
	}, Target{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if got := session.Chosen[browser.ElementHeaderImageUpload]; len(got) != 1 || got[0] != header {
		t.Errorf("Expected header file to be chosen, got %v", got)
	}

	want := []State{StateInit, StateAuthenticated, StateSessionOpened, StateHeaderImageSet, StateTitleSet, StateBodyCleared, StatePerSegment, StateSaveRequested, StateSaveConfirmed}
	if strings.Join(statesToStrings(report.States), ",") != strings.Join(statesToStrings(want), ",") {
		t.Errorf("Expected states %v, got %v", want, report.States)
	}

	if report.URL != editorURL {
		t.Errorf("Expected editor URL without username, got %s", report.URL)
	}

	log := strings.Join(session.CallLog(), "\n")
	if !strings.Contains(log, "click "+browser.ElementCropSave) {
		t.Errorf("Expected crop dialog to be confirmed, calls:\n%s", log)
	}
}

func TestRun_ExistingDraft(t *testing.T) {
	session := editorSession()
	o, _ := newTestOrchestrator(session, clock.NewFake(epoch))

	report, err := o.Run(context.Background(), Article{
		Title:    "ignored",
		Sections: segment.SplitAtImages("Updated body", "."),
	}, Target{DraftKey: "nfeed01", Username: "alice"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	calls := session.CallLog()
	if calls[0] != "navigate https://note.com/notes/nfeed01/edit" {
		t.Errorf("Expected draft edit URL, got %s", calls[0])
	}

	if !report.Reached(StateExistingDraft) || report.Reached(StateTitleSet) {
		t.Errorf("Expected draft path without title, got %v", report.States)
	}

	if _, ok := session.Filled[browser.ElementTitleInput]; ok {
		t.Error("Expected title to be left alone for drafts")
	}

	if report.URL != "https://note.com/alice/n/nfeed01" {
		t.Errorf("Unexpected URL %s", report.URL)
	}
}

func TestRun_TextPastedAsHTML(t *testing.T) {
	session := editorSession()
	clk := clock.NewFake(epoch)
	o, _ := newTestOrchestrator(session, clk)

	_, err := o.Run(context.Background(), Article{
		Title:    "T",
		Sections: segment.SplitAtImages("Some **bold** text", "."),
	}, Target{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(session.Scripts) != 1 || !strings.Contains(session.Scripts[0], "<strong>bold</strong>") {
		t.Errorf("Expected converted HTML on the clipboard, got %v", session.Scripts)
	}

	keys := session.Keys
	if len(keys) < 2 || keys[len(keys)-1] != browser.KeyPaste {
		t.Errorf("Expected paste as final key, got %v", keys)
	}

	if clk.Elapsed() != 800*time.Millisecond {
		t.Errorf("Expected one 800ms settle, got %v", clk.Elapsed())
	}
}

func TestRun_EditorNeverReady(t *testing.T) {
	session := editorSession()
	session.Absent[browser.ElementEditorReady] = true

	o, _ := newTestOrchestrator(session, clock.NewFake(epoch))

	report, err := o.Run(context.Background(), Article{Title: "T"}, Target{})

	var uiErr *UIElementNotFoundError
	if !errors.As(err, &uiErr) || uiErr.Element != browser.ElementEditorReady {
		t.Fatalf("Expected UIElementNotFoundError for editor_ready, got %v", err)
	}

	if !session.Closed {
		t.Error("Expected session to be closed after failure")
	}

	if report == nil || report.Reached(StateSessionOpened) {
		t.Errorf("Expected report without SessionOpened, got %+v", report)
	}
}

func TestRun_SaveTimesOut(t *testing.T) {
	session := editorSession()
	session.Absent[browser.ElementSaveConfirmation] = true

	clk := clock.NewFake(epoch)
	o, _ := newTestOrchestrator(session, clk)

	report, err := o.Run(context.Background(), Article{Title: "T"}, Target{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !report.Reached(StateSaveTimedOut) || report.SaveConfirmed {
		t.Errorf("Expected SaveTimedOut, got %v", report.States)
	}

	if clk.Elapsed() != 3*time.Second {
		t.Errorf("Expected 3s grace wait, got %v", clk.Elapsed())
	}
}

func TestRun_CredentialMissing(t *testing.T) {
	session := editorSession()
	driver := &browsertest.Driver{Session: session}
	creds := &MockCredentials{
		CredentialsFunc: func(ctx context.Context) (*auth.Session, error) {
			return nil, auth.ErrCredentialMissing
		},
	}

	o := New(testConfig(), creds, driver, markdown.NewConverter(), nil)

	_, err := o.Run(context.Background(), Article{Title: "T"}, Target{})
	if !errors.Is(err, auth.ErrCredentialMissing) {
		t.Errorf("Expected ErrCredentialMissing, got %v", err)
	}

	if driver.Opened != 0 {
		t.Error("Expected no browser session")
	}
}

func statesToStrings(states []State) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}

	return out
}

// indexOf returns the position of call in log at or after from, or -1.
func indexOf(log []string, call string, from int) int {
	for i := from; i < len(log); i++ {
		if log[i] == call {
			return i
		}
	}

	return -1
}

func TestRun_HashtagsThenPublish(t *testing.T) {
	article := Article{
		Title:    "Tagged",
		Sections: segment.SplitAtImages("Hello", t.TempDir()),
		Tags:     []string{"AI", "note"},
	}

	session := editorSession()
	clk := clock.NewFake(epoch)
	o, _ := newTestOrchestrator(session, clk)

	report, err := o.Run(context.Background(), article, Target{Username: "alice", Publish: true})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !report.Published || !report.Reached(StatePublished) || !report.Reached(StateHashtagsSet) {
		t.Errorf("Expected hashtags and publish, got states %v", report.States)
	}

	if strings.Join(report.Hashtags, ",") != "AI,note" {
		t.Errorf("Expected hashtags [AI note], got %v", report.Hashtags)
	}

	if report.Reached(StateSaveRequested) {
		t.Error("Expected publish to replace the draft save")
	}

	log := session.CallLog()
	steps := []string{
		"click hashtag_input", "fill hashtag_input", "press Enter",
		"click hashtag_input", "fill hashtag_input", "press Enter",
		"click publish_settings", "wait publish_button", "click publish_button",
		"wait publish_confirm", "click publish_confirm",
	}

	pos := 0
	for _, step := range steps {
		i := indexOf(log, step, pos)
		if i < 0 {
			t.Fatalf("Expected %q after position %d in %v", step, pos, log)
		}
		pos = i + 1
	}

	if indexOf(log, "click save_draft", 0) >= 0 {
		t.Errorf("Expected no draft save click, got %v", log)
	}

	// settle 800ms, two tag delays, panel wait and publish grace
	want := 800*time.Millisecond + 2*200*time.Millisecond + time.Second + 2*time.Second
	if clk.Elapsed() != want {
		t.Errorf("Expected %v of waits, got %v", want, clk.Elapsed())
	}
}

func TestRun_PublishWithoutConfirmDialog(t *testing.T) {
	session := editorSession()
	session.Absent[browser.ElementPublishConfirm] = true
	o, _ := newTestOrchestrator(session, clock.NewFake(epoch))

	report, err := o.Run(context.Background(), Article{Title: "T"}, Target{Publish: true})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !report.Published {
		t.Errorf("Expected publish without a confirm dialog, got states %v", report.States)
	}

	if indexOf(session.CallLog(), "click publish_confirm", 0) >= 0 {
		t.Error("Expected no click on the absent confirm button")
	}
}

func TestRun_PublishButtonMissing(t *testing.T) {
	session := editorSession()
	session.Absent[browser.ElementPublishButton] = true
	o, _ := newTestOrchestrator(session, clock.NewFake(epoch))

	report, err := o.Run(context.Background(), Article{Title: "T"}, Target{Username: "alice", Publish: true})

	var uiErr *UIElementNotFoundError
	if !errors.As(err, &uiErr) || uiErr.Element != browser.ElementPublishButton {
		t.Fatalf("Expected UIElementNotFoundError for publish_button, got %v", err)
	}

	if report.Published || report.Reached(StatePublishRequested) {
		t.Errorf("Expected no publish, got states %v", report.States)
	}

	if report.ArticleKey != "nabc123" {
		t.Errorf("Expected article key to survive the failure, got %q", report.ArticleKey)
	}
}

func TestRun_HashtagFieldMissingStillSaves(t *testing.T) {
	session := editorSession()
	session.Absent[browser.ElementHashtagInput] = true
	o, _ := newTestOrchestrator(session, clock.NewFake(epoch))

	report, err := o.Run(context.Background(), Article{Title: "T", Tags: []string{"AI"}}, Target{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(report.Hashtags) != 0 || report.Reached(StateHashtagsSet) {
		t.Errorf("Expected hashtags to be skipped, got %v", report.Hashtags)
	}

	if !report.SaveConfirmed {
		t.Errorf("Expected the draft to be saved, got states %v", report.States)
	}
}
