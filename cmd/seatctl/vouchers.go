package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/MacJediWizard/seatbroker/internal/models"
	"github.com/MacJediWizard/seatbroker/internal/vouchers"
)

func newVouchersCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vouchers",
		Short: "Manage redemption vouchers",
	}

	cmd.AddCommand(
		newVouchersGenerateCmd(opts),
		newVouchersImportCmd(opts),
		newVouchersListCmd(opts),
	)

	return cmd
}

func newVouchersGenerateCmd(opts *rootOptions) *cobra.Command {
	var count, days int

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate new random vouchers",
		Long: `Generate --count vouchers valid for --days days and print one code
per line. The code format depends on the validity period.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 1 || count > 10000 {
				return fmt.Errorf("--count must be between 1 and 10000")
			}
			if days < 1 {
				return fmt.Errorf("--days must be at least 1")
			}

			f := vouchers.FormatFor(days)
			if err := f.Validate(count); err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			e, err := openEnv(ctx, opts)
			if err != nil {
				return err
			}
			defer e.Close()

			issued, err := vouchers.NewIssuer(e.store, e.logger).Generate(ctx, days, count, f)
			printCodes(cmd.OutOrStdout(), issued)
			if err != nil {
				return fmt.Errorf("generate vouchers: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&count, "count", 10, "number of vouchers to generate")
	cmd.Flags().IntVar(&days, "days", models.DefaultValidityDays, "validity period in days")

	return cmd
}

func newVouchersImportCmd(opts *rootOptions) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import voucher codes from a file",
		Long: `Import voucher codes, one per line, from a file or "-" for standard
input. Codes that already exist are skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			codes, err := readCodes(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			e, err := openEnv(ctx, opts)
			if err != nil {
				return err
			}
			defer e.Close()

			created, err := vouchers.NewIssuer(e.store, e.logger).Import(ctx, codes, days)
			if err != nil {
				return fmt.Errorf("import vouchers: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d of %d codes\n", len(created), len(codes))
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", models.DefaultValidityDays, "validity period in days")

	return cmd
}

func newVouchersListCmd(opts *rootOptions) *cobra.Command {
	var (
		consumed   bool
		unconsumed bool
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List vouchers, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if consumed && unconsumed {
				return fmt.Errorf("--consumed and --unconsumed are mutually exclusive")
			}
			var filter *bool
			if consumed || unconsumed {
				filter = &consumed
			}

			ctx, cancel := signalContext()
			defer cancel()

			e, err := openEnv(ctx, opts)
			if err != nil {
				return err
			}
			defer e.Close()

			list, err := e.store.ListVouchers(ctx, filter, limit)
			if err != nil {
				return fmt.Errorf("list vouchers: %w", err)
			}

			printVouchers(cmd.OutOrStdout(), list)
			return nil
		},
	}

	cmd.Flags().BoolVar(&consumed, "consumed", false, "only consumed vouchers")
	cmd.Flags().BoolVar(&unconsumed, "unconsumed", false, "only unconsumed vouchers")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum number of vouchers")

	return cmd
}

// readCodes reads non-empty lines from path, or from stdin when path is "-".
func readCodes(stdin io.Reader, path string) ([]string, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open codes file: %w", err)
		}
		defer f.Close()
		r = f
	}

	var codes []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			codes = append(codes, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read codes: %w", err)
	}
	if len(codes) == 0 {
		return nil, fmt.Errorf("no codes in %s", path)
	}
	return codes, nil
}

func printCodes(w io.Writer, list []*models.Voucher) {
	for _, v := range list {
		fmt.Fprintln(w, v.Code)
	}
}

func printVouchers(w io.Writer, list []*models.Voucher) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No vouchers")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CODE\tDAYS\tCONSUMED\tCREATED")
	for _, v := range list {
		consumedAt := "-"
		if v.ConsumedAt != nil {
			consumedAt = v.ConsumedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", v.Code, v.ValidityDays, consumedAt, v.CreatedAt.UTC().Format("2006-01-02"))
	}
	_ = tw.Flush()
}
