// Package segment splits Markdown bodies into ordered text and image runs.
package segment

import (
	"path/filepath"
	"regexp"
	"strings"
)

// Kind distinguishes text runs from image references.
type Kind int

// Segment kinds.
const (
	KindText Kind = iota
	KindImage
)

func (k Kind) String() string {
	if k == KindImage {
		return "image"
	}

	return "text"
}

// Segment is one ordered unit of document content. Content is set for
// text runs; Path and Alt for images.
type Segment struct {
	Content string
	Path    string
	Alt     string
	Kind    Kind
	Order   int
}

var (
	imageLine   = regexp.MustCompile(`^!\[([^\]]*)\]\(([^)]+)\)`)
	anyImageRef = regexp.MustCompile(`(?m)^!\[.*\]\(.*\)`)
)

// SplitAtImages scans body line by line. A line starting with an image
// reference ends the current text run and becomes an image segment whose
// path is resolved against imageBase. Orders are assigned 0..n-1 in source
// order.
func SplitAtImages(body, imageBase string) []Segment {
	var (
		segments []Segment
		text     []string
	)

	flush := func() {
		content := strings.Join(text, "\n")
		text = text[:0]

		if strings.TrimSpace(content) == "" {
			return
		}

		segments = append(segments, Segment{Kind: KindText, Content: content})
	}

	for _, line := range strings.Split(body, "\n") {
		m := imageLine.FindStringSubmatch(line)
		if m == nil {
			text = append(text, line)
			continue
		}

		flush()
		segments = append(segments, Segment{
			Kind: KindImage,
			Alt:  m[1],
			Path: resolve(imageBase, m[2]),
		})
	}
	flush()

	for i := range segments {
		segments[i].Order = i
	}

	return segments
}

// Reference is an image line of a body. Line is 1-based.
type Reference struct {
	Alt    string
	Path   string
	Line   int
	Remote bool
}

// References lists the image lines of body with paths resolved as
// SplitAtImages resolves them.
func References(body, imageBase string) []Reference {
	var refs []Reference

	for i, line := range strings.Split(body, "\n") {
		m := imageLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		path := resolve(imageBase, m[2])
		refs = append(refs, Reference{
			Alt:    m[1],
			Path:   path,
			Line:   i + 1,
			Remote: isRemote(path),
		})
	}

	return refs
}

func isRemote(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

func resolve(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if isRemote(ref) {
		return ref
	}

	return filepath.Join(base, strings.TrimPrefix(ref, "/"))
}

// HasBodyImages reports whether any line of body starts with an image
// reference.
func HasBodyImages(body string) bool {
	return anyImageRef.MatchString(body)
}

// Count returns how many segments are of kind k.
func Count(segments []Segment, k Kind) int {
	n := 0
	for _, s := range segments {
		if s.Kind == k {
			n++
		}
	}

	return n
}
