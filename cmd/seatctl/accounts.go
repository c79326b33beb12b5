package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/MacJediWizard/seatbroker/internal/config"
	"github.com/MacJediWizard/seatbroker/internal/models"
)

// rosterStore is the part of the store an import needs.
type rosterStore interface {
	GetAccountByEmail(ctx context.Context, email string) (*models.Account, error)
	CreateAccount(ctx context.Context, a *models.Account) error
	UpdateAccountCredentials(ctx context.Context, id uuid.UUID, groupID string, capacity int, sealedPassword []byte) error
}

type sealer interface {
	Encrypt(plaintext []byte) ([]byte, error)
}

// importResult counts what an import changed.
type importResult struct {
	Created int
	Updated int
}

func newAccountsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage remote subscription accounts",
	}

	cmd.AddCommand(
		newAccountsImportCmd(opts),
		newAccountsListCmd(opts),
	)

	return cmd
}

func newAccountsImportCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <roster.yml>",
		Short: "Create or update accounts from a roster file",
		Long: `Create or update accounts from a YAML roster. Accounts are matched
by email. For existing accounts the group, capacity and password are
replaced and any stored session is dropped.

  default_capacity: 100
  accounts:
    - email: owner@example.com
      password: secret
      group_id: 64b0c1...
      capacity: 50`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			roster, err := config.LoadRoster(args[0])
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

			km, err := e.keys()
			if err != nil {
				return err
			}

			res, err := importRoster(ctx, e.store, km, roster, cmd.OutOrStdout())
			fmt.Fprintf(cmd.OutOrStdout(), "\nCreated %d, updated %d accounts\n", res.Created, res.Updated)
			return err
		},
	}
}

func newAccountsListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			e, err := openEnv(ctx, opts)
			if err != nil {
				return err
			}
			defer e.Close()

			accounts, err := e.store.ListAccounts(ctx)
			if err != nil {
				return fmt.Errorf("list accounts: %w", err)
			}

			printAccounts(cmd.OutOrStdout(), accounts)
			return nil
		},
	}
}

// importRoster seals each password and upserts the account by email.
// It keeps going after a failed entry and returns the joined errors.
func importRoster(ctx context.Context, store rosterStore, s sealer, roster *config.Roster, out io.Writer) (importResult, error) {
	var (
		res  importResult
		errs []error
	)

	for _, entry := range roster.Accounts {
		sealed, err := s.Encrypt([]byte(entry.Password))
		if err != nil {
			errs = append(errs, fmt.Errorf("seal password for %s: %w", entry.Email, err))
			continue
		}

		existing, err := store.GetAccountByEmail(ctx, entry.Email)
		switch {
		case errors.Is(err, models.ErrNotFound):
			a := models.NewAccount(entry.Email, entry.GroupID, entry.Capacity)
			a.PasswordEncrypted = sealed
			if err := store.CreateAccount(ctx, a); err != nil {
				errs = append(errs, fmt.Errorf("create %s: %w", entry.Email, err))
				continue
			}
			res.Created++
			fmt.Fprintf(out, "created  %s (%s, capacity %d)\n", a.Email, a.ID, a.Capacity)

		case err != nil:
			errs = append(errs, fmt.Errorf("look up %s: %w", entry.Email, err))

		default:
			capacity := entry.Capacity
			if capacity <= 0 {
				capacity = existing.Capacity
			}
			if err := store.UpdateAccountCredentials(ctx, existing.ID, entry.GroupID, capacity, sealed); err != nil {
				errs = append(errs, fmt.Errorf("update %s: %w", entry.Email, err))
				continue
			}
			res.Updated++
			fmt.Fprintf(out, "updated  %s (%s, capacity %d)\n", existing.Email, existing.ID, capacity)
		}
	}

	return res, errors.Join(errs...)
}

func printAccounts(w io.Writer, accounts []*models.Account) {
	if len(accounts) == 0 {
		fmt.Fprintln(w, "No accounts")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tEMAIL\tGROUP\tSEATS\tSESSION\tLAST ALLOCATED")
	for _, a := range accounts {
		session := "no"
		if a.HasSession() {
			session = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			a.ID, a.Email, a.GroupID, a.CachedOccupancy, a.Capacity, session, formatTime(a.LastAllocatedAt))
	}
	_ = tw.Flush()
}
