// Package markdown converts article Markdown (and MDX) into the HTML the
// platform editor and API accept.
package markdown

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"
)

var (
	imageOnlyLine   = regexp.MustCompile(`^!\[.*\]\(.*\)\s*$`)
	selfClosingJSX  = regexp.MustCompile(`^<[A-Z][A-Za-z0-9]*[\s\S]*/>\s*$`)
	openJSXBlock    = regexp.MustCompile(`^<([A-Za-z][A-Za-z0-9]*)\s.*(?:className|onClick|onChange|onSubmit|htmlFor|tabIndex|dangerouslySetInnerHTML).*>\s*$`)
	inlineImageRefs = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
)

// Converter renders Markdown to HTML. It is safe for concurrent use.
type Converter struct {
	engine goldmark.Markdown
}

// NewConverter returns a converter with GFM enabled and raw HTML passed
// through.
func NewConverter() *Converter {
	return &Converter{
		engine: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(html.WithUnsafe()),
		),
	}
}

// Convert filters MDX constructs and image references from src and renders
// the rest. Whitespace-only output is returned as "".
func (c *Converter) Convert(src string) (string, error) {
	cleaned := FilterMDX(src)
	if strings.TrimSpace(cleaned) == "" {
		return "", nil
	}

	var buf bytes.Buffer
	if err := c.engine.Convert([]byte(cleaned), &buf); err != nil {
		return "", fmt.Errorf("markdown convert: %w", err)
	}

	return strings.TrimSpace(buf.String()), nil
}

// FilterMDX drops import statements, image references, self-closing JSX
// components and JSX blocks carrying React-only attributes.
func FilterMDX(src string) string {
	var (
		kept    []string
		skipTag string
	)

	for _, line := range strings.Split(src, "\n") {
		trimmed := strings.TrimLeft(line, " \t")

		if skipTag != "" {
			if strings.HasPrefix(trimmed, "</"+skipTag+">") {
				skipTag = ""
			}
			continue
		}

		switch {
		case strings.HasPrefix(trimmed, "import "):
			continue
		case imageOnlyLine.MatchString(trimmed):
			continue
		case selfClosingJSX.MatchString(trimmed):
			continue
		}

		if m := openJSXBlock.FindStringSubmatch(trimmed); m != nil {
			skipTag = m[1]
			continue
		}

		kept = append(kept, line)
	}

	return inlineImageRefs.ReplaceAllString(strings.Join(kept, "\n"), "")
}

// FirstHeading returns the text of the first level-1 heading in src, or "".
func FirstHeading(src string) string {
	source := []byte(src)
	doc := goldmark.DefaultParser().Parse(text.NewReader(source))

	var title string
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}

		h, ok := n.(*ast.Heading)
		if !ok || h.Level != 1 {
			return ast.WalkContinue, nil
		}

		title = strings.TrimSpace(string(headingText(h, source)))

		return ast.WalkStop, nil
	})

	return title
}

func headingText(n ast.Node, source []byte) []byte {
	var buf bytes.Buffer

	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			buf.Write(t.Segment.Value(source))
			continue
		}
		buf.Write(headingText(c, source))
	}

	return buf.Bytes()
}
