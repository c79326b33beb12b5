// Package main is the entrypoint for the seatbroker operator CLI.
package main

import (
	"fmt"
	"net/url"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MacJediWizard/seatbroker/internal/config"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// rootOptions holds the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	verbose    bool
}

func (o *rootOptions) path() (string, error) {
	if o.configPath != "" {
		return o.configPath, nil
	}
	return config.DefaultConfigPath()
}

// load reads the config file and applies environment overrides.
func (o *rootOptions) load() (*config.CLIConfig, error) {
	path, err := o.path()
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadCLI(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg.ApplyEnv()
	return cfg, nil
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "seatctl",
		Short: "Operate a seatbroker deployment",
		Long: `seatctl runs maintenance jobs and manages accounts, vouchers and
seat records directly against the seatbroker database.

Connection settings are read from ~/.seatbroker/config.yml and can be
overridden with DATABASE_URL, ENCRYPTION_KEY and GATEWAY_BASE_URL.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default ~/.seatbroker/config.yml)")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log engine activity to stderr")

	rootCmd.AddCommand(
		newVersionCmd(),
		newConfigCmd(opts),
		newSweepCmd(opts),
		newValidateCmd(opts),
		newFixCountsCmd(opts),
		newReportCmd(opts),
		newSyncCmd(opts),
		newAdminCmd(),
		newVouchersCmd(opts),
		newAccountsCmd(opts),
		newManualCmd(opts),
	)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "seatctl %s\n", Version)
			fmt.Fprintf(out, "  Commit:     %s\n", Commit)
			fmt.Fprintf(out, "  Built:      %s\n", BuildDate)
			fmt.Fprintf(out, "  Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage CLI configuration",
	}

	cmd.AddCommand(
		newConfigShowCmd(opts),
		newConfigSetCmd(opts),
	)

	return cmd
}

func newConfigShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := opts.path()
			if err != nil {
				return err
			}
			cfg, err := opts.load()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config file:    %s\n", path)
			fmt.Fprintln(out)
			fmt.Fprintf(out, "Database URL:   %s\n", maskDatabaseURL(cfg.DatabaseURL))
			fmt.Fprintf(out, "Encryption key: %s\n", maskSecret(cfg.EncryptionKey))
			fmt.Fprintf(out, "Gateway URL:    %s\n", orNotSet(cfg.GatewayBaseURL))
			if cfg.Proxy.HasProxy() {
				fmt.Fprintf(out, "HTTP proxy:     %s\n", orNotSet(cfg.Proxy.HTTPProxy))
				fmt.Fprintf(out, "HTTPS proxy:    %s\n", orNotSet(cfg.Proxy.HTTPSProxy))
				fmt.Fprintf(out, "SOCKS5 proxy:   %s\n", orNotSet(cfg.Proxy.SOCKS5Proxy))
				fmt.Fprintf(out, "No proxy:       %s\n", orNotSet(cfg.Proxy.NoProxy))
			}
			return nil
		},
	}
}

// configKeys maps the keys accepted by "config set" to their fields.
var configKeys = map[string]func(*config.CLIConfig, string) error{
	"database_url": func(c *config.CLIConfig, v string) error {
		u, err := url.Parse(v)
		if err != nil || (u.Scheme != "postgres" && u.Scheme != "postgresql") {
			return fmt.Errorf("database_url must be a postgres:// URL")
		}
		c.DatabaseURL = v
		return nil
	},
	"encryption_key": func(c *config.CLIConfig, v string) error {
		c.EncryptionKey = v
		return nil
	},
	"gateway_base_url": func(c *config.CLIConfig, v string) error {
		u, err := url.Parse(v)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("gateway_base_url must use http or https scheme")
		}
		c.GatewayBaseURL = strings.TrimSuffix(v, "/")
		return nil
	},
	"proxy.http":   func(c *config.CLIConfig, v string) error { c.Proxy.HTTPProxy = v; return nil },
	"proxy.https":  func(c *config.CLIConfig, v string) error { c.Proxy.HTTPSProxy = v; return nil },
	"proxy.socks5": func(c *config.CLIConfig, v string) error { c.Proxy.SOCKS5Proxy = v; return nil },
	"proxy.no":     func(c *config.CLIConfig, v string) error { c.Proxy.NoProxy = v; return nil },
}

func newConfigSetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Long: `Set a configuration value in the config file.

Keys: database_url, encryption_key, gateway_base_url,
proxy.http, proxy.https, proxy.socks5, proxy.no`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			set, ok := configKeys[args[0]]
			if !ok {
				return fmt.Errorf("unknown config key %q", args[0])
			}

			path, err := opts.path()
			if err != nil {
				return err
			}
			// Environment overrides are not persisted.
			cfg, err := config.LoadCLI(path)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := set(cfg, args[1]); err != nil {
				return err
			}
			if err := cfg.Save(path); err != nil {
				return fmt.Errorf("save config: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s updated in %s\n", args[0], path)
			return nil
		},
	}
}

func orNotSet(s string) string {
	if s == "" {
		return "(not set)"
	}
	return s
}

func maskSecret(s string) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

// maskDatabaseURL hides the password of a connection URL.
func maskDatabaseURL(raw string) string {
	if raw == "" {
		return "(not set)"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "(invalid)"
	}
	return u.Redacted()
}
