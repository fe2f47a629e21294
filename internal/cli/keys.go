// ABOUTME: keygen and token subcommands
// ABOUTME: keygen writes the public key file and prints the private key; token mints one bearer token

package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/nightlife/internal/auth"
)

func newKeygenCmd() *cobra.Command {
	var passwordFile string
	var noPassword bool
	cmd := &cobra.Command{
		Use:   "keygen PUB_FILE",
		Short: "Generate an Ed25519 key pair",
		Long: `Generate an Ed25519 key pair. The public key is written to PUB_FILE and
the private key is printed on stdout. The private key is encrypted when a
password is given via --password-file, piped on stdin, or typed at the prompt.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var password []byte
			if !noPassword {
				var err error
				password, err = readNewPassword(cmd, passwordFile)
				if err != nil {
					return err
				}
			}

			privatePEM, publicPEM, err := auth.GenerateKeyPair(password)
			if err != nil {
				return err
			}

			pubFile := args[0]
			if dir := filepath.Dir(pubFile); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return fmt.Errorf("creating %s: %w", dir, err)
				}
			}
			if err := os.WriteFile(pubFile, publicPEM, 0o644); err != nil {
				return fmt.Errorf("writing public key: %w", err)
			}

			if _, err := cmd.OutOrStdout().Write(privatePEM); err != nil {
				return err
			}
			note := "unencrypted"
			if password != nil {
				note = "encrypted"
			}
			color.New(color.FgGreen).Fprintf(cmd.ErrOrStderr(), "wrote public key to %s (private key %s)\n", pubFile, note)
			return nil
		},
	}
	cmd.Flags().StringVar(&passwordFile, "password-file", "", "Read the private key password from this file")
	cmd.Flags().BoolVar(&noPassword, "no-password", false, "Do not encrypt the private key and do not read a password")
	return cmd
}

func newTokenCmd(opts *globalOptions) *cobra.Command {
	var forRole string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token signed with --key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.keyFile == "" {
				return errors.New("--key is required")
			}
			role, err := roleFlag(forRole)
			if err != nil {
				return err
			}
			password, err := opts.keyPassword()
			if err != nil {
				return err
			}
			token, err := auth.NewIssuer(opts.tokenSpec(role)).IssueFromFile(opts.keyFile, password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&forRole, "for", "principal", "Service the token is for: principal or agent")
	return cmd
}
