package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/MacJediWizard/seatbroker/internal/seats"
)

func newSweepCmd(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "End expired seats",
		Long: `Remove or revoke seats whose expiry has passed and mark their
records processed. At most --limit records are handled per run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 1 {
				return fmt.Errorf("--limit must be at least 1")
			}

			ctx, cancel := signalContext()
			defer cancel()

			e, err := openEnv(ctx, opts)
			if err != nil {
				return err
			}
			defer e.Close()

			svc, err := e.service()
			if err != nil {
				return err
			}

			stats, err := svc.SweepExpired(ctx, limit)
			if err != nil {
				return fmt.Errorf("sweep expired seats: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Found:     %d\n", stats.Found)
			fmt.Fprintf(out, "Removed:   %d\n", stats.Removed)
			fmt.Fprintf(out, "Revoked:   %d\n", stats.Revoked)
			fmt.Fprintf(out, "Processed: %d\n", stats.Processed)
			fmt.Fprintf(out, "Errored:   %d\n", stats.Errored)
			fmt.Fprintf(out, "Skipped:   %d\n", stats.Skipped)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 100, "maximum number of seats to process")

	return cmd
}

func newValidateCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Audit seat records and occupancy counts",
		Long: `Report inconsistencies between seat records and account occupancy
without changing anything. Exits non-zero when findings exist.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			e, err := openEnv(ctx, opts)
			if err != nil {
				return err
			}
			defer e.Close()

			findings, err := seats.NewValidator(e.store, nil, seats.DefaultConfig(), e.logger).Validate(ctx)
			if err != nil {
				return fmt.Errorf("validate consistency: %w", err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				if err := writeJSON(out, findings); err != nil {
					return err
				}
			} else {
				printFindings(out, findings)
			}
			if len(findings) > 0 {
				return fmt.Errorf("%d findings", len(findings))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print findings as JSON")

	return cmd
}

func newFixCountsCmd(opts *rootOptions) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "fix-counts",
		Short: "Recompute cached account occupancy",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			e, err := openEnv(ctx, opts)
			if err != nil {
				return err
			}
			defer e.Close()

			report, err := seats.NewValidator(e.store, nil, seats.DefaultConfig(), e.logger).FixCounts(ctx, dryRun)
			if err != nil {
				return fmt.Errorf("fix counts: %w", err)
			}

			printFixReport(cmd.OutOrStdout(), report)
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show corrections without applying them")

	return cmd
}

func newReportCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Show per-account seat usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			e, err := openEnv(ctx, opts)
			if err != nil {
				return err
			}
			defer e.Close()

			summaries, err := seats.NewValidator(e.store, nil, seats.DefaultConfig(), e.logger).Report(ctx)
			if err != nil {
				return fmt.Errorf("build report: %w", err)
			}

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), summaries)
			}
			printReport(cmd.OutOrStdout(), summaries)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")

	return cmd
}

func newSyncCmd(opts *rootOptions) *cobra.Command {
	var accountID string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile seat records with remote group rosters",
		Long: `Fetch the member roster of every account (or one account with
--account) and reconcile local seat records against it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var id uuid.UUID
			if accountID != "" {
				parsed, err := uuid.Parse(accountID)
				if err != nil {
					return fmt.Errorf("invalid account ID: %w", err)
				}
				id = parsed
			}

			ctx, cancel := signalContext()
			defer cancel()

			e, err := openEnv(ctx, opts)
			if err != nil {
				return err
			}
			defer e.Close()

			svc, err := e.service()
			if err != nil {
				return err
			}

			var results []*seats.SyncResult
			if id != uuid.Nil {
				res, err := svc.SyncAccount(ctx, id)
				if err != nil {
					return fmt.Errorf("sync account: %w", err)
				}
				results = append(results, res)
			} else {
				results, err = svc.SyncAll(ctx)
				if err != nil {
					printSyncResults(cmd.OutOrStdout(), results)
					return fmt.Errorf("sync accounts: %w", err)
				}
			}

			printSyncResults(cmd.OutOrStdout(), results)
			return nil
		},
	}

	cmd.Flags().StringVar(&accountID, "account", "", "sync only this account ID")

	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}

func printFindings(w io.Writer, findings []seats.Finding) {
	if len(findings) == 0 {
		fmt.Fprintln(w, "No inconsistencies found")
		return
	}

	counts := make(map[seats.FindingType]int)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tACCOUNT\tSUBJECT\tDETAIL")
	for _, f := range findings {
		counts[f.Type]++
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", f.Type, dash(f.Account), dash(f.Subject), f.Detail)
	}
	_ = tw.Flush()

	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, string(t))
	}
	sort.Strings(types)

	fmt.Fprintln(w)
	for _, t := range types {
		fmt.Fprintf(w, "%s: %d\n", t, counts[seats.FindingType(t)])
	}
}

func printFixReport(w io.Writer, report *seats.FixReport) {
	if len(report.Fixes) == 0 {
		fmt.Fprintf(w, "All %d accounts have correct counts\n", report.TotalAccounts)
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ACCOUNT\tOLD\tNEW\tDIFF\tAPPLIED")
	for _, f := range report.Fixes {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%+d\t%v\n", f.Account, f.OldCount, f.NewCount, f.Difference, f.Applied)
	}
	_ = tw.Flush()

	if report.DryRun {
		fmt.Fprintf(w, "\nDry run: %d of %d accounts would be corrected\n", len(report.Fixes), report.TotalAccounts)
		return
	}
	fmt.Fprintf(w, "\nCorrected %d of %d accounts\n", report.AccountsFixed, report.TotalAccounts)
}

func printReport(w io.Writer, summaries []seats.AccountSummary) {
	if len(summaries) == 0 {
		fmt.Fprintln(w, "No accounts")
		return
	}

	var capacity, actual int
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ACCOUNT\tCAPACITY\tCACHED\tACTUAL\tAVAILABLE\tPENDING\tACCEPTED\tEXPIRED\tMANUAL")
	for _, s := range summaries {
		capacity += s.Capacity
		actual += s.Actual
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\n",
			s.Account, s.Capacity, s.Cached, s.Actual, s.Available,
			s.Statuses[seats.StatusPending], s.Statuses[seats.StatusAccepted], s.Statuses[seats.StatusExpired],
			s.Manual)
	}
	_ = tw.Flush()

	fmt.Fprintf(w, "\n%d accounts, %d of %d seats occupied\n", len(summaries), actual, capacity)
}

func printSyncResults(w io.Writer, results []*seats.SyncResult) {
	if len(results) == 0 {
		fmt.Fprintln(w, "No accounts synced")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ACCOUNT\tMEMBERS\tLINKED\tRESTORED\tCLEANED\tCREATED\tOCCUPANCY")
	for _, r := range results {
		if r == nil {
			continue
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\n",
			r.Account, r.RemoteMembers, r.Linked, r.Restored, r.Cleaned, r.Created, r.Occupancy)
	}
	_ = tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.UTC().Format(time.RFC3339)
}
