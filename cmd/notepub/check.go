package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"notepub/internal/document"
	"notepub/internal/publish"
	"notepub/internal/validator"
)

func newCheckCmd() *cobra.Command {
	var image, imageBase string

	cmd := &cobra.Command{
		Use:   "check <path>",
		Short: "Validate a document without publishing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := document.Load(args[0])
			if err != nil {
				return err
			}

			result := validator.Validate(doc, imageBase, image)
			mode := publish.SelectMode(doc, publish.Options{Tags: doc.Tags})

			fmt.Printf("%s\n%s | mode=%s\n", doc.Path, result.String(), mode)
			result.PrintErrors(os.Stdout)
			result.PrintWarnings(os.Stdout)

			return result.Err()
		},
	}

	cmd.Flags().StringVar(&image, "image", "", "Header image (overrides front matter)")
	cmd.Flags().StringVar(&imageBase, "image-base", "", "Directory body image paths resolve against")

	return cmd
}

// preflight validates doc before a publish. Warnings are logged, errors
// stop the run.
func preflight(a *app, doc *document.Document, pf publishFlags) error {
	result := validator.Validate(doc, pf.imageBase, pf.image)

	for _, w := range result.Warnings {
		a.log.Warn(w)
	}

	if err := result.Err(); err != nil {
		result.PrintErrors(os.Stderr)
		return fmt.Errorf("document is not publishable: %w", err)
	}

	a.log.Debug("document validated", "summary", result.String())

	return nil
}
