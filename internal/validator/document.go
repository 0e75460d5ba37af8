// Package validator checks a document before it is published.
package validator

import (
	"errors"
	"fmt"
	"io"
	"os"
	"unicode/utf8"

	"notepub/internal/document"
	"notepub/internal/noteapi"
	"notepub/internal/segment"
)

// Validation errors.
var (
	ErrTitleRequired = errors.New("title is required")
	ErrTitleTooLong  = errors.New("title is too long")
)

// MaxTitleLength is the longest title the editor accepts, in characters.
const MaxTitleLength = 200

// ValidationError describes one problem found in a document.
type ValidationError struct {
	Err     error
	Field   string
	Value   string
	Message string
}

// ValidationResult contains validation results.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []string
	Stats    ValidationStats
	IsValid  bool
}

// ValidationStats counts what the document will turn into.
type ValidationStats struct {
	TextSegments  int
	ImageSegments int
	MissingImages int
	RemoteImages  int
}

// Validate checks doc. Problems that stop a publish are errors; problems
// the editor run works around by skipping a segment are warnings.
// headerImage overrides the document's own header image when set.
func Validate(doc *document.Document, imageBase, headerImage string) *ValidationResult {
	result := &ValidationResult{IsValid: true}

	if imageBase == "" {
		imageBase = doc.Dir()
	}

	if headerImage == "" {
		headerImage = doc.HeaderImagePath
	}

	result.checkTitle(doc.Title)

	if headerImage != "" {
		if _, err := noteapi.CheckImage(headerImage); err != nil {
			result.addError(ValidationError{
				Err:     err,
				Field:   "image",
				Value:   headerImage,
				Message: fmt.Sprintf("header image unusable: %v", err),
			})
		}
	}

	sections := segment.SplitAtImages(doc.Body, imageBase)
	result.Stats.TextSegments = segment.Count(sections, segment.KindText)
	result.Stats.ImageSegments = segment.Count(sections, segment.KindImage)

	for _, ref := range segment.References(doc.Body, imageBase) {
		if ref.Remote {
			result.Stats.RemoteImages++
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("line %d: remote image %s will be skipped, download it first", ref.Line, ref.Path))
			continue
		}

		if _, err := os.Stat(ref.Path); err != nil {
			result.Stats.MissingImages++
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("line %d: image %s not found and will be skipped", ref.Line, ref.Path))
		}
	}

	return result
}

func (r *ValidationResult) checkTitle(title string) {
	switch {
	case title == "":
		r.addError(ValidationError{Err: ErrTitleRequired, Field: "title", Message: "title is empty"})
	case utf8.RuneCountInString(title) > MaxTitleLength:
		r.addError(ValidationError{
			Err:     ErrTitleTooLong,
			Field:   "title",
			Value:   title,
			Message: fmt.Sprintf("title has %d characters, limit is %d", utf8.RuneCountInString(title), MaxTitleLength),
		})
	case title == document.DefaultTitle:
		r.Warnings = append(r.Warnings, "no title in front matter or heading, using \""+document.DefaultTitle+"\"")
	}
}

func (r *ValidationResult) addError(e ValidationError) {
	r.IsValid = false
	r.Errors = append(r.Errors, e)
}

// Err returns the first error, or nil when the document is valid.
func (r *ValidationResult) Err() error {
	if r.IsValid || len(r.Errors) == 0 {
		return nil
	}

	first := r.Errors[0]
	if first.Err != nil {
		return fmt.Errorf("%s: %w", first.Field, first.Err)
	}

	return errors.New(first.Message)
}

// String returns string representation of validation result.
func (r *ValidationResult) String() string {
	status := "✅ VALID"
	if !r.IsValid {
		status = "❌ INVALID"
	}

	return fmt.Sprintf(
		"%s | Text: %d | Images: %d | Missing: %d | Remote: %d | Warnings: %d",
		status,
		r.Stats.TextSegments,
		r.Stats.ImageSegments,
		r.Stats.MissingImages,
		r.Stats.RemoteImages,
		len(r.Warnings),
	)
}

// PrintErrors writes validation errors in readable format.
func (r *ValidationResult) PrintErrors(w io.Writer) {
	if len(r.Errors) == 0 {
		return
	}

	fmt.Fprintln(w, "❌ Validation Errors:")

	for _, e := range r.Errors {
		fmt.Fprintf(w, "  [%s] %s\n", e.Field, e.Message)

		if e.Value != "" {
			fmt.Fprintf(w, "    Found: %q\n", e.Value)
		}
	}
}

// PrintWarnings writes validation warnings.
func (r *ValidationResult) PrintWarnings(w io.Writer) {
	if len(r.Warnings) == 0 {
		return
	}

	fmt.Fprintln(w, "⚠️  Validation Warnings:")

	for _, warn := range r.Warnings {
		fmt.Fprintf(w, "  %s\n", warn)
	}
}
