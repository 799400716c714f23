package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"

	"github.com/Jantje19/cargo-credential-bitwarden/internal/bitwarden"
	"github.com/Jantje19/cargo-credential-bitwarden/internal/config"
	"github.com/Jantje19/cargo-credential-bitwarden/internal/credential"
	dserrors "github.com/Jantje19/cargo-credential-bitwarden/internal/errors"
	"github.com/Jantje19/cargo-credential-bitwarden/internal/logging"
	"github.com/Jantje19/cargo-credential-bitwarden/internal/provider"
	pkgexec "github.com/Jantje19/cargo-credential-bitwarden/pkg/exec"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	defer memguard.Purge()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", present(err))
		os.Exit(1)
	}
}

// present rewrites internal errors into their user-facing form, attaching a
// remediation hint when one is known.
func present(err error) error {
	var tnf *bitwarden.ToolNotFoundError
	if errors.As(err, &tnf) {
		return dserrors.WrapCommandNotFound("bw", tnf)
	}

	var gwErr *bitwarden.GatewayError
	if errors.As(err, &gwErr) {
		return dserrors.CommandError{
			Command:    "bw " + gwErr.Subcommand,
			ExitCode:   gwErr.ExitCode,
			Message:    gwErr.Stderr,
			Suggestion: dserrors.Suggestion(err),
		}
	}

	if suggestion := dserrors.Suggestion(err); suggestion != "" {
		return dserrors.UserError{Message: err.Error(), Suggestion: suggestion}
	}
	return err
}

func run() error {
	var (
		email          string
		syncMode       bool
		configFile     string
		noColor        bool
		debug          bool
		nonInteractive bool
	)

	rootCmd := &cobra.Command{
		Use:   "cargo-credential-bitwarden",
		Short: "Cargo credential provider backed by the Bitwarden CLI",
		Long: `cargo-credential-bitwarden stores Cargo registry tokens in a Bitwarden
vault. Cargo launches it as a credential process and talks to it over stdio.

Enable it in ~/.cargo/config.toml:

  [registry]
  global-credential-providers = ["cargo-credential-bitwarden"]

or per registry:

  [registries.my-registry]
  credential-provider = ["cargo-credential-bitwarden", "--sync"]`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configFile
			explicit := cmd.Flags().Changed("config")
			if path == "" {
				path = config.DefaultPath()
			}

			settings, err := config.Load(path, explicit)
			if err != nil {
				return err
			}

			// Flags override file values.
			if cmd.Flags().Changed("email") {
				settings.Email = email
			}
			if syncMode {
				settings.Sync = true
			}
			if nonInteractive {
				settings.NonInteractive = true
			}

			logger := logging.New(debug, noColor)

			gateway := bitwarden.NewGateway(pkgexec.DefaultExecutor(), settings.Timeout(), logger)
			sessions := bitwarden.NewSessionManager(gateway, logger, settings.Email, settings.NonInteractive)
			defer sessions.Destroy()
			items := bitwarden.NewResolver(gateway, logger, settings.Duplicates)
			syncer := bitwarden.NewSyncer(gateway, logger, settings.Sync)

			server := credential.NewServer(provider.New(sessions, items, syncer, logger), logger)
			return server.Serve(cmd.Context())
		},
	}

	rootCmd.Flags().StringVar(&email, "email", "", "Bitwarden account email used when a fresh login is required")
	rootCmd.Flags().BoolVar(&syncMode, "sync", false, "Sync the vault before reads and after writes")
	rootCmd.Flags().StringVar(&configFile, "config", "", "Config file path")
	rootCmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.Flags().BoolVar(&nonInteractive, "non-interactive", false, "Never prompt; require BW_SESSION or BW_PASSWORD")

	return rootCmd.Execute()
}
