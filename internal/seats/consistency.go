package seats

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/MacJediWizard/seatbroker/internal/models"
)

// FindingType names a class of inconsistency.
type FindingType string

const (
	// FindingCountMismatch means cached occupancy differs from the computed one.
	FindingCountMismatch FindingType = "count_mismatch"
	// FindingCleanedButActive means a cleaned record may still be a remote member.
	FindingCleanedButActive FindingType = "cleaned_but_active"
	// FindingExpiredNotSwept means an accepted record expired but was not swept.
	FindingExpiredNotSwept FindingType = "expired_accepted_not_cleaned"
	// FindingDuplicateSubject means a subject holds seats on several accounts.
	FindingDuplicateSubject FindingType = "duplicate_subject"
)

// Finding is a detected inconsistency. It is reported, never corrected.
type Finding struct {
	Type      FindingType `json:"type"`
	AccountID *uuid.UUID  `json:"account_id,omitempty"`
	Account   string      `json:"account,omitempty"`
	SeatID    *uuid.UUID  `json:"seat_id,omitempty"`
	Subject   string      `json:"subject,omitempty"`
	Cached    *int        `json:"cached,omitempty"`
	Actual    *int        `json:"actual,omitempty"`
	Detail    string      `json:"detail"`
}

// CountFix describes one occupancy correction.
type CountFix struct {
	AccountID  uuid.UUID `json:"account_id"`
	Account    string    `json:"account"`
	OldCount   int       `json:"old_count"`
	NewCount   int       `json:"new_count"`
	Difference int       `json:"difference"`
	Applied    bool      `json:"applied"`
}

// FixReport is the result of FixCounts.
type FixReport struct {
	DryRun        bool       `json:"dry_run"`
	TotalAccounts int        `json:"total_accounts"`
	AccountsFixed int        `json:"accounts_fixed"`
	Fixes         []CountFix `json:"fixes"`
}

// AccountSummary is the per-account view produced by Report.
type AccountSummary struct {
	AccountID uuid.UUID      `json:"account_id"`
	Account   string         `json:"account"`
	Capacity  int            `json:"capacity"`
	Cached    int            `json:"cached"`
	Actual    int            `json:"actual"`
	Available int            `json:"available"`
	Statuses  map[Status]int `json:"statuses"`
	Manual    int            `json:"manual"`
}

// Validator audits the store. Validate and Report never write.
type Validator struct {
	store    Store
	recorder Recorder
	cfg      Config
	logger   zerolog.Logger
}

// NewValidator creates a new Validator.
func NewValidator(store Store, recorder Recorder, cfg Config, logger zerolog.Logger) *Validator {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Validator{
		store:    store,
		recorder: recorder,
		cfg:      cfg.withDefaults(),
		logger:   logger.With().Str("component", "validator").Logger(),
	}
}

// Validate returns every inconsistency found.
func (v *Validator) Validate(ctx context.Context) ([]Finding, error) {
	now := v.cfg.Now()
	findings := []Finding{}

	accounts, err := v.store.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	emails := make(map[uuid.UUID]string, len(accounts))
	for _, account := range accounts {
		emails[account.ID] = account.Email
		records, err := v.store.ListSeatsByAccount(ctx, account.ID)
		if err != nil {
			return nil, fmt.Errorf("list seats for account: %w", err)
		}
		actual := CountActive(records, now)
		if actual != account.CachedOccupancy {
			id := account.ID
			cached := account.CachedOccupancy
			findings = append(findings, Finding{
				Type:      FindingCountMismatch,
				AccountID: &id,
				Account:   account.Email,
				Cached:    &cached,
				Actual:    &actual,
				Detail:    fmt.Sprintf("cached occupancy %d, computed %d", cached, actual),
			})
		}
	}

	records, err := v.store.ListSeats(ctx)
	if err != nil {
		return nil, fmt.Errorf("list seats: %w", err)
	}
	for _, rec := range records {
		if !rec.HasMember() || rec.ExpiresAt == nil {
			continue
		}
		switch {
		case rec.Cleaned && rec.ExpiresAt.After(now):
			findings = append(findings, seatFinding(FindingCleanedButActive, rec, emails,
				"record cleaned before expiry while a remote member id is set"))
		case !rec.Cleaned && rec.ExpiresAt.Before(now):
			findings = append(findings, seatFinding(FindingExpiredNotSwept, rec, emails,
				"accepted member past expiry has not been swept"))
		}
	}

	findings = append(findings, duplicateSubjects(records, emails, now)...)

	counts := make(map[string]int)
	for _, f := range findings {
		counts[string(f.Type)]++
	}
	v.recorder.FindingsObserved(counts)
	v.logger.Info().Int("findings", len(findings)).Msg("consistency check completed")

	return findings, nil
}

// FixCounts recomputes every account's occupancy. With dryRun it only
// reports the corrections it would make.
func (v *Validator) FixCounts(ctx context.Context, dryRun bool) (*FixReport, error) {
	accounts, err := v.store.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	report := &FixReport{DryRun: dryRun, TotalAccounts: len(accounts), Fixes: []CountFix{}}
	now := v.cfg.Now()
	for _, account := range accounts {
		records, err := v.store.ListSeatsByAccount(ctx, account.ID)
		if err != nil {
			return nil, fmt.Errorf("list seats for account: %w", err)
		}
		actual := CountActive(records, now)
		if actual == account.CachedOccupancy {
			continue
		}

		fix := CountFix{
			AccountID:  account.ID,
			Account:    account.Email,
			OldCount:   account.CachedOccupancy,
			NewCount:   actual,
			Difference: actual - account.CachedOccupancy,
		}
		if !dryRun {
			if err := v.store.UpdateAccountOccupancy(ctx, account.ID, actual); err != nil {
				return nil, fmt.Errorf("update account occupancy: %w", err)
			}
			fix.Applied = true
			v.logger.Info().
				Str("account", account.Email).
				Int("old", fix.OldCount).
				Int("new", fix.NewCount).
				Msg("occupancy corrected")
		}
		report.Fixes = append(report.Fixes, fix)
		report.AccountsFixed++
	}

	return report, nil
}

// Report summarizes every account.
func (v *Validator) Report(ctx context.Context) ([]AccountSummary, error) {
	accounts, err := v.store.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	now := v.cfg.Now()
	summaries := make([]AccountSummary, 0, len(accounts))
	for _, account := range accounts {
		records, err := v.store.ListSeatsByAccount(ctx, account.ID)
		if err != nil {
			return nil, fmt.Errorf("list seats for account: %w", err)
		}

		s := AccountSummary{
			AccountID: account.ID,
			Account:   account.Email,
			Capacity:  account.Capacity,
			Cached:    account.CachedOccupancy,
			Actual:    CountActive(records, now),
			Statuses:  make(map[Status]int, 4),
		}
		for _, st := range AllStatuses() {
			s.Statuses[st] = 0
		}
		for _, rec := range LatestBySubject(records) {
			s.Statuses[DeriveStatus(rec, now)]++
			if rec.IsManual() && !rec.Cleaned {
				s.Manual++
			}
		}
		if s.Actual < s.Capacity {
			s.Available = s.Capacity - s.Actual
		}
		summaries = append(summaries, s)
	}

	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Account < summaries[j].Account })
	return summaries, nil
}

func seatFinding(t FindingType, rec *models.SeatRecord, emails map[uuid.UUID]string, detail string) Finding {
	seatID := rec.ID
	accountID := rec.AccountID
	return Finding{
		Type:      t,
		AccountID: &accountID,
		Account:   emails[rec.AccountID],
		SeatID:    &seatID,
		Subject:   rec.Subject,
		Detail:    detail,
	}
}

func duplicateSubjects(records []*models.SeatRecord, emails map[uuid.UUID]string, now time.Time) []Finding {
	type key struct {
		account uuid.UUID
		subject string
	}
	grouped := make(map[key][]*models.SeatRecord)
	for _, rec := range records {
		k := key{rec.AccountID, rec.Subject}
		grouped[k] = append(grouped[k], rec)
	}

	owners := make(map[string][]string)
	for k, recs := range grouped {
		if countsTowardOccupancy(latestRecord(recs), now) {
			name := emails[k.account]
			if name == "" {
				name = k.account.String()
			}
			owners[k.subject] = append(owners[k.subject], name)
		}
	}

	var findings []Finding
	for subject, names := range owners {
		if len(names) < 2 {
			continue
		}
		sort.Strings(names)
		findings = append(findings, Finding{
			Type:    FindingDuplicateSubject,
			Subject: subject,
			Detail:  "active on accounts " + strings.Join(names, ", "),
		})
	}
	sort.Slice(findings, func(i, j int) bool { return findings[i].Subject < findings[j].Subject })
	return findings
}
