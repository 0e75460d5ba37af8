package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"notepub/internal/config"
)

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Log in through the browser and store the session cookies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if os.Getenv(config.EnvPassword) == "" {
				if err := promptPassword(); err != nil {
					return err
				}
			}

			a, err := newApp(&flags)
			if err != nil {
				return err
			}

			sess, err := a.provider.Login(cmd.Context())
			if err != nil {
				return fmt.Errorf("login failed: %w", err)
			}

			fmt.Println(successStyle.Render("✓ logged in") + " " +
				dimStyle.Render(fmt.Sprintf("%d cookies saved", len(sess.Cookies))))

			return nil
		},
	}
}

// promptPassword reads NOTE_PASSWORD from the terminal with echo disabled.
// Without a terminal the variable stays unset and login reports the
// missing credential.
func promptPassword() error {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil
	}

	fmt.Fprint(os.Stderr, "Password: ")
	password, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}

	return os.Setenv(config.EnvPassword, string(password))
}
