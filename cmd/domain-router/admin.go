package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/renameio/v2"
	"github.com/mir00r/domain-router/internal/address"
	"github.com/mir00r/domain-router/internal/compiler"
	"github.com/mir00r/domain-router/internal/config"
	"github.com/mir00r/domain-router/internal/domain"
	"github.com/mir00r/domain-router/internal/middleware"
	"github.com/mir00r/domain-router/internal/record"
	"github.com/mir00r/domain-router/internal/validation"
	"github.com/spf13/cobra"
)

// One-off admin commands. None of them start the API; all but apply work on
// record files directly.

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <record-file>",
		Short: "Validate a routing record and list every violation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, format, err := loadModel(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			violations := validation.Validate(m)
			if len(violations) == 0 {
				fmt.Fprintf(out, "%s: valid (%s schema)\n", m.Domain, format)
				return nil
			}

			for _, v := range violations {
				fmt.Fprintf(out, "%s: %s\n", v.Code, v.Message)
			}
			return fmt.Errorf("%s: %d violation(s)", m.Domain, len(violations))
		},
	}
}

func newNormalizeCmd() *cobra.Command {
	var write bool

	cmd := &cobra.Command{
		Use:   "normalize <record-file>",
		Short: "Convert a record to the current schema",
		Long: `Reads a record in the current or the legacy schema and prints it in the
current schema. With --write the file is replaced atomically.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read record: %w", err)
			}

			rec, format, err := record.Decode(data)
			if err != nil {
				return err
			}
			encoded, err := record.Encode(rec)
			if err != nil {
				return err
			}

			if !write {
				_, err = cmd.OutOrStdout().Write(encoded)
				return err
			}
			if err := renameio.WriteFile(args[0], encoded, 0o644); err != nil {
				return fmt.Errorf("failed to write record: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: rewritten from %s schema\n", args[0], format)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&write, "write", "w", false, "Rewrite the file in place")
	return cmd
}

func newCompileCmd(opts *rootOptions) *cobra.Command {
	var full bool

	cmd := &cobra.Command{
		Use:   "compile <record-file>...",
		Short: "Print the HAProxy configuration generated for records",
		Long: `Compiles each record with the configured listener and system backend
settings. With --full the fragments are assembled into the complete
configuration that apply would install.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(opts.configPath)
			if err != nil {
				return err
			}
			compileOpts := cfg.CompilerOptions()

			outputs := make([]*compiler.Output, 0, len(args))
			for _, path := range args {
				m, _, err := loadModel(path)
				if err != nil {
					return err
				}
				compiled, err := compiler.Compile(m, compileOpts)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				outputs = append(outputs, compiled)
			}

			out := cmd.OutOrStdout()
			if full {
				text, err := compiler.Assemble(outputs, compileOpts)
				if err != nil {
					return err
				}
				fmt.Fprint(out, text)
				return nil
			}
			for _, o := range outputs {
				fmt.Fprint(out, o.Text())
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&full, "full", false, "Assemble a complete configuration")
	return cmd
}

func newApplyCmd(opts *rootOptions) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Compile every stored record and reload the load balancer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := bootstrap(opts.configPath)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), app.GetConfiguration().HAProxy.ApplyTimeout+5*time.Second)
			defer cancel()

			if dryRun {
				preview, err := app.GetRoutingService().Preview(ctx)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), preview)
				return nil
			}

			report, err := app.GetRoutingService().Apply(ctx)
			if report != nil {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(report); encErr != nil {
					return encErr
				}
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the configuration instead of applying it")
	return cmd
}

func newResolveAddressCmd() *cobra.Command {
	var addressType, host, port, path string

	cmd := &cobra.Command{
		Use:   "resolve-address [address]",
		Short: "Print the canonical form of a backend server address",
		Long: `Resolves either a complete address such as "[::1]:8080" or the individual
fields selected by --type (ipv4, ipv6, unix, unix_prefixed, abstract).`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				addr address.Address
				err  error
			)
			if len(args) == 1 {
				addr, err = record.ParseAddress(args[0], addressType)
			} else {
				var t address.Type
				if t, err = address.ParseType(addressType); err == nil {
					addr, err = address.New(t, host, port, path)
				}
			}
			if err != nil {
				return err
			}

			resolved, err := address.Resolve(addr)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resolved)
			return nil
		},
	}

	cmd.Flags().StringVar(&addressType, "type", "", "Address type")
	cmd.Flags().StringVar(&host, "host", "", "Host for ipv4 and ipv6 addresses")
	cmd.Flags().StringVar(&port, "port", "", "Port for ipv4 and ipv6 addresses")
	cmd.Flags().StringVar(&path, "path", "", "Socket path or abstract name")
	return cmd
}

func newTokenCmd(opts *rootOptions) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the admin API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(opts.configPath)
			if err != nil {
				return err
			}

			auth, err := middleware.NewJWTAuthMiddleware(middleware.JWTAuthConfig{
				Secret: cfg.Admin.Auth.Secret,
				Issuer: cfg.Admin.Auth.Issuer,
			}, nil)
			if err != nil {
				return err
			}

			token, err := auth.IssueToken(subject, ttl)
			if err != nil {
				return fmt.Errorf("failed to sign token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "operator", "Token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	return cmd
}

// loadModel reads a record file in either schema and converts it
func loadModel(path string) (*domain.DomainRouting, record.Format, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read record: %w", err)
	}
	rec, format, err := record.Decode(data)
	if err != nil {
		return nil, "", err
	}
	m, err := record.ToModel(rec)
	if err != nil {
		return nil, "", err
	}
	return m, format, nil
}
