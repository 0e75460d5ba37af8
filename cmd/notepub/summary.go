package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"notepub/internal/publish"
)

var (
	successStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	failureStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	urlStyle     = lipgloss.NewStyle().Underline(true)
	dimStyle     = lipgloss.NewStyle().Faint(true)
)

// summaryLine renders the single line printed after a successful run.
func summaryLine(r *publish.Result) string {
	var b strings.Builder

	b.WriteString(successStyle.Render("✓ " + string(r.Status)))
	b.WriteString(" ")
	b.WriteString(urlStyle.Render(r.URL))

	details := []string{"mode=" + string(r.Mode)}
	if r.ArticleID != 0 {
		details = append(details, fmt.Sprintf("id=%d", r.ArticleID))
	}
	if r.ArticleKey != "" {
		details = append(details, "key="+r.ArticleKey)
	}
	if r.Mode == publish.ModeUI {
		details = append(details, fmt.Sprintf("images=%d", r.Inserted))
	}
	if len(r.Hashtags) > 0 {
		details = append(details, "tags=#"+strings.Join(r.Hashtags, ",#"))
	}

	b.WriteString(" ")
	b.WriteString(dimStyle.Render(strings.Join(details, " ")))

	return b.String()
}

func printSummary(r *publish.Result) {
	fmt.Println(summaryLine(r))

	for _, o := range r.Skipped {
		fmt.Println(warnStyle.Render(fmt.Sprintf("  skipped %s: %v", o.Path, o.Err)))
	}

	for _, o := range r.Stalled {
		fmt.Println(warnStyle.Render(fmt.Sprintf("  stalled %s: check the image in the editor", o.Path)))
	}
}

// printFailure reports whatever identity the failed run obtained, so a
// created article can be found and fixed by hand.
func printFailure(r *publish.Result) {
	if r == nil {
		return
	}

	if r.ArticleID != 0 || r.ArticleKey != "" {
		fmt.Fprintln(os.Stderr, warnStyle.Render(fmt.Sprintf("article was created: id=%d key=%s", r.ArticleID, r.ArticleKey)))
	}

	if r.URL != "" {
		fmt.Fprintln(os.Stderr, warnStyle.Render("last known URL: "+r.URL))
	}
}

// confirmPublish asks before a public publish. Without a terminal, and
// without --yes, it declines so the article stays a draft.
func confirmPublish(title string, yes bool) (bool, error) {
	if yes {
		return true, nil
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false, nil
	}

	return askYesNo(os.Stdin, os.Stderr, fmt.Sprintf("Publish %q publicly? [y/N] ", title))
}

func askYesNo(in io.Reader, out io.Writer, prompt string) (bool, error) {
	fmt.Fprint(out, prompt)

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("failed to read answer: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
