package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"sealgate/internal/app"
	"sealgate/internal/config"
	"sealgate/internal/database"
	"sealgate/internal/gate"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if hint := gate.Hint(err); hint != "" {
			fmt.Fprintf(os.Stderr, "hint: %s\n", hint)
		}
	}
	os.Exit(gate.ExitCode(err))
}

// withApp reads the config, creates an App for operation, runs fn and
// closes the App. The outcome of fn is recorded in the run log.
func withApp(cmd *cobra.Command, operation string, fn func(ctx context.Context, a *app.App) error) error {
	defaults, err := app.GetDefaults()
	if err != nil {
		return fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := app.LoadConfig(defaults)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	a, err := app.New(cmd.Context(), cfg, operation, app.Options{Verbose: verbose})
	if err != nil {
		return fmt.Errorf("initializing app: %w", err)
	}

	err = fn(cmd.Context(), a)
	a.Finish(err)
	return errors.Join(err, a.Close())
}

var rootCmd = &cobra.Command{
	Use:           "sealgate",
	Short:         "Keep a SQLite store encrypted at rest around a service run",
	SilenceErrors: true,
	SilenceUsage:  true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults.BaseDir)
		if err := config.Init(defaults.ConfigPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults.ConfigPath)
		fmt.Printf("Base Dir: %s\n", cfg.BaseDir)
		fmt.Printf("Store:    %s\n", gate.NewPaths(cfg.Store.Dir, cfg.Store.Name).Encrypted)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := app.LoadConfig(defaults)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults.ConfigPath)
		fmt.Printf("Base Dir:       %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:        %s\n", cfg.LogDir)
		fmt.Printf("Store Dir:      %s\n", cfg.Store.Dir)
		fmt.Printf("Store Name:     %s\n", cfg.Store.Name)
		fmt.Printf("Passphrase Env: %s\n", cfg.Store.PassphraseEnvName())
		fmt.Printf("Encryption:     %s\n", cfg.Encryption.Type)
		if len(cfg.Service.Command) > 0 {
			fmt.Printf("Service:        %s\n", strings.Join(cfg.Service.Command, " "))
		}
		for _, v := range cfg.Vaults {
			fmt.Printf("Vault:          %s (%s)\n", v.Name, v.Type)
		}
		return nil
	},
}

var configVaultCmd = &cobra.Command{
	Use:   "vault",
	Short: "Manage vault",
}

var configVaultCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify the configured vault is reachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "vault check", func(ctx context.Context, a *app.App) error {
			if err := a.ValidateVault(ctx); err != nil {
				return err
			}
			fmt.Println("Vault OK")
			return nil
		})
	},
}

// status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the store is sealed",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "status", func(ctx context.Context, a *app.App) error {
			st, err := a.Status(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("Encrypted store: %s  %s\n", present(st.Encrypted), st.EncryptedPath)
			fmt.Printf("Plaintext store: %s  %s\n", present(st.Plaintext), st.PlaintextPath)
			fmt.Printf("Lock:            %s\n", map[bool]string{true: "held", false: "free"}[st.Locked])
			fmt.Printf("Encryption:      %s\n", st.Provider)
			if st.VaultName != "" {
				fmt.Printf("Vault:           %s  version %d\n", st.VaultName, st.VaultVersion)
			}
			return nil
		})
	},
}

func present(ok bool) string {
	if ok {
		return "present"
	}
	return "absent "
}

// migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply schema migrations to the store",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, gate.OpMigrate.String(), func(ctx context.Context, a *app.App) error {
			if err := a.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate failed: %w", err)
			}
			fmt.Println("Store schema is up to date")
			return nil
		})
	},
}

// schema command
var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Show the store schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, gate.OpSchema.String(), func(ctx context.Context, a *app.App) error {
			st, err := a.SchemaVersion(ctx)
			if err != nil {
				return err
			}
			if !st.Initialized {
				fmt.Printf("Schema: not initialized (latest %d)\n", st.Latest)
				return nil
			}
			dirty := ""
			if st.Dirty {
				dirty = " (dirty)"
			}
			fmt.Printf("Schema: version %d of %d%s\n", st.Version, st.Latest, dirty)
			return nil
		})
	},
}

// createadmin command
var createAdminCmd = &cobra.Command{
	Use:   "createadmin",
	Short: "Create an administrator account",
	RunE: func(cmd *cobra.Command, args []string) error {
		username, _ := cmd.Flags().GetString("username")
		email, _ := cmd.Flags().GetString("email")
		if username == "" {
			return fmt.Errorf("--username is required")
		}

		password, err := readPassword(os.Stdin, os.Stderr)
		if err != nil {
			return err
		}

		return withApp(cmd, gate.OpCreateAdmin.String(), func(ctx context.Context, a *app.App) error {
			acct := database.Account{Username: username, Email: email, Password: password}
			if err := a.CreateAdmin(ctx, acct); err != nil {
				return fmt.Errorf("createadmin failed: %w", err)
			}
			fmt.Printf("Created administrator %s\n", username)
			return nil
		})
	},
}

// readPassword prompts twice without echo on a terminal, or reads one line
// from a pipe.
func readPassword(in *os.File, prompt io.Writer) ([]byte, error) {
	fd := int(in.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && line == "" {
			return nil, fmt.Errorf("reading password: %w", err)
		}
		return []byte(strings.TrimRight(line, "\r\n")), nil
	}

	fmt.Fprint(prompt, "Password: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(prompt)
	if err != nil {
		return nil, fmt.Errorf("reading password: %w", err)
	}
	fmt.Fprint(prompt, "Password (again): ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(prompt)
	if err != nil {
		return nil, fmt.Errorf("reading password: %w", err)
	}
	if string(first) != string(second) {
		return nil, fmt.Errorf("passwords do not match")
	}
	return first, nil
}

// shell command
var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Open a SQL prompt on the store",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, gate.OpShell.String(), func(ctx context.Context, a *app.App) error {
			return a.Shell(ctx, os.Stdin, os.Stdout)
		})
	},
}

// dbshell command
var dbShellCmd = &cobra.Command{
	Use:   "dbshell",
	Short: "Open the sqlite3 client on the store",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, gate.OpDBShell.String(), func(ctx context.Context, a *app.App) error {
			return a.DBShell(ctx)
		})
	},
}

// reseal command
var resealCmd = &cobra.Command{
	Use:   "reseal",
	Short: "Encrypt the plaintext store and erase it",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, gate.OpReseal.String(), func(ctx context.Context, a *app.App) error {
			if err := a.Reseal(ctx); err != nil {
				return err
			}
			fmt.Printf("Store sealed at %s\n", a.Paths().Encrypted)
			return nil
		})
	},
}

// secure-run command
var secureRunCmd = &cobra.Command{
	Use:   "secure-run [-- COMMAND [ARGS...]]",
	Short: "Unseal the store, run the service, and reseal on exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, gate.OpSecureRun.String(), func(ctx context.Context, a *app.App) error {
			stdio := app.Stdio{In: os.Stdin, Out: os.Stdout, Err: os.Stderr}
			return a.SecureRun(ctx, args, stdio)
		})
	},
}

// check command
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Unseal, verify and reseal the store without running anything",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, gate.OpCheck.String(), func(ctx context.Context, a *app.App) error {
			if err := a.Check(ctx); err != nil {
				return err
			}
			fmt.Println("Store OK")
			return nil
		})
	},
}

// vault command
var vaultCmd = &cobra.Command{
	Use:   "vault",
	Short: "Manage the sealed store mirror",
}

var vaultPullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Restore the encrypted store from the vault",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "vault pull", func(ctx context.Context, a *app.App) error {
			version, err := a.PullFromVault(ctx)
			if err != nil {
				return fmt.Errorf("pull failed: %w", err)
			}
			fmt.Printf("Restored %s (version %d)\n", a.Paths().Encrypted, version)
			return nil
		})
	},
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log debug output")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configVaultCmd)
	configVaultCmd.AddCommand(configVaultCheckCmd)

	// vault subcommands
	vaultCmd.AddCommand(vaultPullCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(createAdminCmd)
	createAdminCmd.Flags().StringP("username", "u", "", "Administrator username")
	createAdminCmd.Flags().StringP("email", "e", "", "Administrator email")
	rootCmd.AddCommand(shellCmd)
	rootCmd.AddCommand(dbShellCmd)
	rootCmd.AddCommand(resealCmd)
	rootCmd.AddCommand(secureRunCmd)
	secureRunCmd.Flags().SetInterspersed(false)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(vaultCmd)
}
