package noteapi

import (
	"errors"
	"regexp"
	"strings"
)

// ErrInvalidArticleInput is returned when a draft target is neither an
// article URL nor a bare key.
var ErrInvalidArticleInput = errors.New("not an article URL or key")

var (
	publicKeyPattern = regexp.MustCompile(`/n/([a-z0-9]+)`)
	editorKeyPattern = regexp.MustCompile(`notes/(n[a-z0-9]+)`)
	bareKeyPattern   = regexp.MustCompile(`^n[a-z0-9]+$`)
)

// ParseArticleKey extracts the article key from a public URL
// (https://note.com/user/n/nabc), an editor URL (.../notes/nabc/edit) or a
// bare key.
func ParseArticleKey(input string) (string, error) {
	input = strings.TrimSpace(input)

	if m := publicKeyPattern.FindStringSubmatch(input); m != nil {
		return m[1], nil
	}

	if m := editorKeyPattern.FindStringSubmatch(input); m != nil {
		return m[1], nil
	}

	if bareKeyPattern.MatchString(input) {
		return input, nil
	}

	return "", ErrInvalidArticleInput
}

// KeyFromEditorURL returns the key embedded in an editor URL, or "".
func KeyFromEditorURL(url string) string {
	if m := editorKeyPattern.FindStringSubmatch(url); m != nil {
		return m[1]
	}

	return ""
}
