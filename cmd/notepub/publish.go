package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"notepub/internal/document"
	"notepub/internal/noteapi"
	"notepub/internal/publish"
)

type publishFlags struct {
	image     string
	imageBase string
	draft     string
	tags      string
	publish   bool
	yes       bool
	forceUI   bool
}

func newPublishCmd() *cobra.Command {
	var pf publishFlags

	cmd := &cobra.Command{
		Use:   "publish <path>",
		Short: "Publish a Markdown file or a directory holding one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runPublish(ctx, args[0], pf)
		},
	}

	cmd.Flags().StringVar(&pf.image, "image", "", "Header image (overrides front matter)")
	cmd.Flags().StringVar(&pf.imageBase, "image-base", "", "Directory body image paths resolve against (default: the document's directory)")
	cmd.Flags().StringVar(&pf.draft, "draft", "", "Existing draft to overwrite, as an article URL or key")
	cmd.Flags().StringVar(&pf.tags, "tags", "", `Comma-separated hashtags, e.g. "AI,#note" (overrides front matter)`)
	cmd.Flags().BoolVar(&pf.publish, "publish", false, "Publish publicly instead of saving a draft")
	cmd.Flags().BoolVarP(&pf.yes, "yes", "y", false, "Skip the publish confirmation")
	cmd.Flags().BoolVar(&pf.forceUI, "force-ui", false, "Use the web editor even without body images")

	return cmd
}

func runPublish(ctx context.Context, path string, pf publishFlags) error {
	a, err := newApp(&flags)
	if err != nil {
		return err
	}

	if err := a.cfg.RequireUsername(); err != nil {
		return err
	}

	doc, err := document.Load(path)
	if err != nil {
		return err
	}

	if err := preflight(a, doc, pf); err != nil {
		return err
	}

	opts := publish.Options{
		Status:      noteapi.StatusDraft,
		ImageBase:   pf.imageBase,
		HeaderImage: pf.image,
		Username:    a.cfg.Auth.Username,
		Tags:        resolveTags(pf.tags, doc.Tags),
		ForceUI:     pf.forceUI,
	}

	if pf.draft != "" {
		key, err := noteapi.ParseArticleKey(pf.draft)
		if err != nil {
			return fmt.Errorf("--draft %q: %w", pf.draft, err)
		}
		opts.DraftKey = key
	}

	if pf.publish || doc.Publish {
		ok, err := confirmPublish(doc.Title, pf.yes)
		if err != nil {
			return err
		}
		if ok {
			opts.Status = noteapi.StatusPublished
		} else {
			a.log.Warn("publish not confirmed, saving as draft")
		}
	}

	a.log.Info("loaded document", "path", doc.Path, "title", doc.Title, "tags", opts.Tags)

	result, err := a.publisher.Publish(ctx, doc, opts)
	if err != nil {
		printFailure(result)
		return err
	}

	printSummary(result)

	return nil
}

// resolveTags prefers the --tags flag over front matter tags.
func resolveTags(flag string, fromDoc []string) []string {
	if flag != "" {
		return document.ParseTags(flag)
	}

	return fromDoc
}
