// Package document loads a Markdown or MDX article with its front matter.
package document

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/adrg/frontmatter"

	"notepub/internal/markdown"
)

// ErrNoMarkdownFile is returned when a directory holds no .md/.mdx file.
var ErrNoMarkdownFile = errors.New("no .md or .mdx file found")

// DefaultTitle is used when neither front matter nor a heading names the
// article.
const DefaultTitle = "Untitled"

// Document is a loaded article source.
type Document struct {
	Path            string
	Title           string
	Body            string
	HeaderImagePath string
	Tags            []string
	Publish         bool
}

// Dir returns the directory holding the source file. Relative image
// references resolve against it.
func (d *Document) Dir() string {
	return filepath.Dir(d.Path)
}

type frontMatterEnvelope struct {
	Title   string `yaml:"title" toml:"title" json:"title"`
	Image   string `yaml:"image" toml:"image" json:"image"`
	Tags    any    `yaml:"tags" toml:"tags" json:"tags"`
	Publish bool   `yaml:"publish" toml:"publish" json:"publish"`
}

// Load reads path, which may be a file or a directory containing one.
func Load(path string) (*Document, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	file, err := resolveFile(abs)
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", file, err)
	}

	return Parse(file, raw)
}

// Parse builds a Document from raw file content. file is used to resolve
// the header image path.
func Parse(file string, raw []byte) (*Document, error) {
	var meta frontMatterEnvelope

	body, err := frontmatter.Parse(bytes.NewReader(raw), &meta)
	if err != nil {
		return nil, fmt.Errorf("parse frontmatter: %w", err)
	}

	doc := &Document{
		Path:    file,
		Body:    string(body),
		Tags:    tagsFrom(meta.Tags),
		Publish: meta.Publish,
		Title:   strings.TrimSpace(meta.Title),
	}

	if doc.Title == "" {
		doc.Title = markdown.FirstHeading(doc.Body)
	}

	if doc.Title == "" {
		doc.Title = DefaultTitle
	}

	if meta.Image != "" {
		doc.HeaderImagePath = meta.Image
		if !filepath.IsAbs(meta.Image) {
			doc.HeaderImagePath = filepath.Join(filepath.Dir(file), meta.Image)
		}
	}

	return doc, nil
}

// ParseTags splits a comma-separated tag list. Each tag is trimmed and
// loses a leading "#"; empty entries are dropped.
func ParseTags(input string) []string {
	var tags []string

	for _, part := range strings.Split(input, ",") {
		if tag := cleanTag(part); tag != "" {
			tags = append(tags, tag)
		}
	}

	return tags
}

func cleanTag(s string) string {
	return strings.TrimPrefix(strings.TrimSpace(s), "#")
}

// tagsFrom accepts a list or a comma-separated string. Anything else,
// such as a mapping, yields no tags.
func tagsFrom(v any) []string {
	switch t := v.(type) {
	case string:
		return ParseTags(t)
	case []any:
		var tags []string
		for _, item := range t {
			switch item.(type) {
			case string, int, int64, float64, bool:
				if tag := cleanTag(fmt.Sprint(item)); tag != "" {
					tags = append(tags, tag)
				}
			}
		}
		return tags
	}

	return nil
}

func resolveFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("path not found: %w", err)
	}

	if !info.IsDir() {
		return path, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return "", fmt.Errorf("failed to read directory %s: %w", path, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if !e.IsDir() && (ext == ".md" || ext == ".mdx") {
			names = append(names, e.Name())
		}
	}

	if len(names) == 0 {
		return "", fmt.Errorf("%w in %s", ErrNoMarkdownFile, path)
	}

	sort.Strings(names)

	return filepath.Join(path, names[0]), nil
}
