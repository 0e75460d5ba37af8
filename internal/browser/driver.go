// Package browser defines the page-automation capabilities the publisher
// needs from a remote editor session. Concrete drivers live in
// subpackages; tests use scripted fakes.
package browser

import (
	"context"
	"errors"
	"time"
)

// ErrElementNotFound is returned by drivers when a locator matches nothing
// before the deadline.
var ErrElementNotFound = errors.New("element not found")

// Key is a logical key or chord understood by every driver.
type Key string

// Keys used by the editor flows.
const (
	KeyEnter       Key = "Enter"
	KeyBackspace   Key = "Backspace"
	KeyArrowDown   Key = "ArrowDown"
	KeyEnd         Key = "End"
	KeySelectAll   Key = "SelectAll"
	KeyPaste       Key = "Paste"
	KeyDocumentEnd Key = "DocumentEnd"
)

// Cookie is a browser cookie in the form needed to seed a session.
type Cookie struct {
	Expires  time.Time `json:"expires,omitempty"`
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain"`
	Path     string    `json:"path"`
	HTTPOnly bool      `json:"httpOnly,omitempty"`
	Secure   bool      `json:"secure,omitempty"`
}

// Driver opens automation sessions.
type Driver interface {
	Open(ctx context.Context, cookies []Cookie) (Session, error)
}

// Session is one live page. Every method blocks until done or ctx ends.
type Session interface {
	Navigate(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)
	WaitVisible(ctx context.Context, loc Locator, timeout time.Duration) error
	IsVisible(ctx context.Context, loc Locator) (bool, error)
	Count(ctx context.Context, loc Locator) (int, error)
	Click(ctx context.Context, loc Locator) error
	Fill(ctx context.Context, loc Locator, text string) error
	Press(ctx context.Context, key Key) error
	Evaluate(ctx context.Context, script string, args ...any) error
	// ChooseFiles clicks trigger, waits for the file chooser it opens and
	// supplies paths to it.
	ChooseFiles(ctx context.Context, trigger Locator, paths ...string) error
	Cookies(ctx context.Context) ([]Cookie, error)
	Close() error
}

// ClipboardHTMLScript writes its first argument to the clipboard as
// text/html so a following paste inserts rich content.
const ClipboardHTMLScript = `async (h) => {
  const blob = new Blob([h], { type: 'text/html' });
  await navigator.clipboard.write([new ClipboardItem({ 'text/html': blob })]);
}`
