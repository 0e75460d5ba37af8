// Package browsertest provides a scripted in-memory browser.Session for
// exercising editor flows without a real browser.
package browsertest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"notepub/internal/browser"
)

// Catalog returns a locator catalog whose entries are "#<name>", so the
// fake session can map every locator back to its logical name.
func Catalog() browser.Catalog {
	elements := make(map[string]browser.Locator, len(browser.RequiredElements)+len(browser.OptionalElements))
	for _, name := range append(append([]string(nil), browser.RequiredElements...), browser.OptionalElements...) {
		elements[name] = browser.Locator{CSS: "#" + name}
	}

	return browser.Catalog{Version: 1, Elements: elements}
}

func nameOf(loc browser.Locator) string {
	return strings.TrimPrefix(loc.CSS, "#")
}

// Session records every interaction. Absent elements fail WaitVisible and
// Click with browser.ErrElementNotFound. The func hooks override default
// behavior when set.
type Session struct {
	mu sync.Mutex

	URL     string
	Absent  map[string]bool
	Counts  map[string]int
	Jar     []browser.Cookie
	Calls   []string
	Filled  map[string]string
	Chosen  map[string][]string
	Scripts []string
	Keys    []browser.Key
	Closed  bool

	CountFunc    func(name string) int
	VisibleFunc  func(name string) bool
	OnClick      func(name string)
	OnNavigate   func(url string)
	OnChooseFile func(trigger string, paths []string)
}

var _ browser.Session = (*Session)(nil)

// NewSession returns an empty session where every element is present.
func NewSession() *Session {
	return &Session{
		Absent: map[string]bool{},
		Counts: map[string]int{},
		Filled: map[string]string{},
		Chosen: map[string][]string{},
	}
}

func (s *Session) record(format string, args ...any) {
	s.Calls = append(s.Calls, fmt.Sprintf(format, args...))
}

// CallLog returns a copy of the recorded calls.
func (s *Session) CallLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.Calls...)
}

// SetURL changes the current URL as a navigation by the page would.
func (s *Session) SetURL(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.URL = url
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	s.mu.Lock()
	s.URL = url
	s.record("navigate %s", url)
	hook := s.OnNavigate
	s.mu.Unlock()

	if hook != nil {
		hook(url)
	}

	return ctx.Err()
}

func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.URL, ctx.Err()
}

func (s *Session) WaitVisible(ctx context.Context, loc browser.Locator, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := nameOf(loc)
	s.record("wait %s", name)

	if s.Absent[name] {
		return fmt.Errorf("%w: %s after %v", browser.ErrElementNotFound, name, timeout)
	}

	return ctx.Err()
}

func (s *Session) IsVisible(ctx context.Context, loc browser.Locator) (bool, error) {
	s.mu.Lock()
	name := nameOf(loc)
	hook := s.VisibleFunc
	absent := s.Absent[name]
	s.mu.Unlock()

	if hook != nil {
		return hook(name), ctx.Err()
	}

	return !absent, ctx.Err()
}

func (s *Session) Count(ctx context.Context, loc browser.Locator) (int, error) {
	s.mu.Lock()
	name := nameOf(loc)
	hook := s.CountFunc
	n := s.Counts[name]
	s.mu.Unlock()

	if hook != nil {
		return hook(name), ctx.Err()
	}

	return n, ctx.Err()
}

func (s *Session) Click(ctx context.Context, loc browser.Locator) error {
	s.mu.Lock()
	name := nameOf(loc)
	s.record("click %s", name)
	absent := s.Absent[name]
	hook := s.OnClick
	s.mu.Unlock()

	if absent {
		return fmt.Errorf("%w: %s", browser.ErrElementNotFound, name)
	}

	if hook != nil {
		hook(name)
	}

	return ctx.Err()
}

func (s *Session) Fill(ctx context.Context, loc browser.Locator, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := nameOf(loc)
	s.record("fill %s", name)

	if s.Absent[name] {
		return fmt.Errorf("%w: %s", browser.ErrElementNotFound, name)
	}

	s.Filled[name] = text

	return ctx.Err()
}

func (s *Session) Press(ctx context.Context, key browser.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.record("press %s", key)
	s.Keys = append(s.Keys, key)

	return ctx.Err()
}

func (s *Session) Evaluate(ctx context.Context, script string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.record("evaluate")
	for _, a := range args {
		s.Scripts = append(s.Scripts, fmt.Sprint(a))
	}

	return ctx.Err()
}

func (s *Session) ChooseFiles(ctx context.Context, trigger browser.Locator, paths ...string) error {
	s.mu.Lock()
	name := nameOf(trigger)
	s.record("choose %s %s", name, strings.Join(paths, ","))
	absent := s.Absent[name]
	if !absent {
		s.Chosen[name] = append(s.Chosen[name], paths...)
	}
	hook := s.OnChooseFile
	s.mu.Unlock()

	if absent {
		return fmt.Errorf("%w: %s", browser.ErrElementNotFound, name)
	}

	if hook != nil {
		hook(name, paths)
	}

	return ctx.Err()
}

func (s *Session) Cookies(ctx context.Context) ([]browser.Cookie, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]browser.Cookie(nil), s.Jar...), ctx.Err()
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Closed = true
	s.record("close")

	return nil
}

// Driver hands out a single Session.
type Driver struct {
	Session *Session
	OpenErr error
	Seeded  []browser.Cookie
	Opened  int
}

var _ browser.Driver = (*Driver)(nil)

// Open returns d.Session, recording the cookies it was seeded with.
func (d *Driver) Open(ctx context.Context, cookies []browser.Cookie) (browser.Session, error) {
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}

	d.Opened++
	d.Seeded = cookies

	return d.Session, ctx.Err()
}
