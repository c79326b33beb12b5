package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/MacJediWizard/seatbroker/internal/models"
)

func newManualCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manual",
		Short: "Manage seat records without an expiry",
		Long: `Members found on a remote group without a matching voucher are
recorded without an expiry. They are never swept until given one.`,
	}

	cmd.AddCommand(
		newManualListCmd(opts),
		newManualSetExpiryCmd(opts),
	)

	return cmd
}

func newManualListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List manual seat records",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			e, err := openEnv(ctx, opts)
			if err != nil {
				return err
			}
			defer e.Close()

			records, err := e.localService().ListManual(ctx)
			if err != nil {
				return err
			}

			printManual(cmd.OutOrStdout(), records)
			return nil
		},
	}
}

func newManualSetExpiryCmd(opts *rootOptions) *cobra.Command {
	var (
		days    int
		voucher string
	)

	cmd := &cobra.Command{
		Use:   "set-expiry <seat-id>",
		Short: "Give a manual record an expiry",
		Long: `Set the expiry of a manual seat record to --days days from now.
With --voucher the given unused voucher is consumed and linked.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid seat ID: %w", err)
			}
			if days < 1 {
				return fmt.Errorf("--days must be at least 1")
			}

			ctx, cancel := signalContext()
			defer cancel()

			e, err := openEnv(ctx, opts)
			if err != nil {
				return err
			}
			defer e.Close()

			rec, err := e.localService().ResolveManual(ctx, id, days, voucher)
			if err != nil {
				return fmt.Errorf("set expiry: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s now expires %s\n", rec.Subject, rec.ExpiresAt.UTC().Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", models.DefaultValidityDays, "days from now until the seat expires")
	cmd.Flags().StringVar(&voucher, "voucher", "", "voucher code to consume")

	return cmd
}

func printManual(w io.Writer, records []*models.SeatRecord) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No manual seat records")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSUBJECT\tACCOUNT\tMEMBER\tCREATED")
	for _, r := range records {
		member := "-"
		if r.HasMember() {
			member = *r.RemoteMemberID
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Subject, r.AccountID, member, r.CreatedAt.UTC().Format("2006-01-02"))
	}
	_ = tw.Flush()
}
