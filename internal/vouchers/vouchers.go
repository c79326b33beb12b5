// Package vouchers generates and issues redemption codes.
package vouchers

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"strings"

	"github.com/rs/zerolog"

	"github.com/MacJediWizard/seatbroker/internal/models"
)

const (
	letters = "abcdefghijklmnopqrstuvwxyz"
	digits  = "0123456789"

	// maxRounds bounds regeneration when generated codes collide with stored ones.
	maxRounds = 5
)

// Format describes the shape of generated codes: lowercase letters followed by digits.
type Format struct {
	Letters int `json:"letters"`
	Digits  int `json:"digits"`
}

// FormatFor returns the code format used for a validity period. Longer
// vouchers get an extra digit.
func FormatFor(days int) Format {
	if days > models.DefaultValidityDays {
		return Format{Letters: 3, Digits: 3}
	}
	return Format{Letters: 3, Digits: 2}
}

// Space returns the number of distinct codes of this format.
func (f Format) Space() float64 {
	return math.Pow(float64(len(letters)), float64(f.Letters)) * math.Pow(float64(len(digits)), float64(f.Digits))
}

// Validate checks that count codes can be drawn from the format without
// crowding the code space.
func (f Format) Validate(count int) error {
	if f.Letters < 0 || f.Digits < 0 || f.Letters+f.Digits == 0 {
		return errors.New("code format must have at least one character")
	}
	if f.Letters+f.Digits > 64 {
		return errors.New("code format is longer than 64 characters")
	}
	if count <= 0 {
		return errors.New("count must be positive")
	}
	if float64(count) > f.Space()/2 {
		return fmt.Errorf("cannot generate %d codes from a space of %.0f", count, f.Space())
	}
	return nil
}

// Generator draws random codes.
type Generator struct {
	rand io.Reader
}

// NewGenerator creates a Generator reading from crypto/rand.
func NewGenerator() *Generator {
	return &Generator{rand: rand.Reader}
}

func (g *Generator) pick(alphabet string, n int, sb *strings.Builder) error {
	size := big.NewInt(int64(len(alphabet)))
	for j := 0; j < n; j++ {
		i, err := rand.Int(g.rand, size)
		if err != nil {
			return fmt.Errorf("read random: %w", err)
		}
		sb.WriteByte(alphabet[i.Int64()])
	}
	return nil
}

// Code returns one random code.
func (g *Generator) Code(f Format) (string, error) {
	var sb strings.Builder
	if err := g.pick(letters, f.Letters, &sb); err != nil {
		return "", err
	}
	if err := g.pick(digits, f.Digits, &sb); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// Codes returns count distinct random codes, skipping any in exclude.
func (g *Generator) Codes(f Format, count int, exclude map[string]bool) ([]string, error) {
	if err := f.Validate(count + len(exclude)); err != nil {
		return nil, err
	}
	seen := make(map[string]bool, count)
	codes := make([]string, 0, count)
	for draws := 0; len(codes) < count; draws++ {
		if draws >= 100*count+1000 {
			return nil, fmt.Errorf("no fresh code after %d draws", draws)
		}
		code, err := g.Code(f)
		if err != nil {
			return nil, err
		}
		if seen[code] || exclude[code] {
			continue
		}
		seen[code] = true
		codes = append(codes, code)
	}
	return codes, nil
}

// Store persists vouchers. CreateVouchers skips codes that already exist
// and returns the inserted vouchers.
type Store interface {
	CreateVouchers(ctx context.Context, vouchers []*models.Voucher) ([]*models.Voucher, error)
}

// Issuer generates vouchers and stores them.
type Issuer struct {
	store     Store
	generator *Generator
	logger    zerolog.Logger
}

// NewIssuer creates a new Issuer.
func NewIssuer(store Store, logger zerolog.Logger) *Issuer {
	return &Issuer{
		store:     store,
		generator: NewGenerator(),
		logger:    logger.With().Str("component", "vouchers").Logger(),
	}
}

// Generate creates count new vouchers valid for days. Codes that collide
// with stored ones are replaced until count vouchers exist or the retry
// rounds run out.
func (i *Issuer) Generate(ctx context.Context, days, count int, f Format) ([]*models.Voucher, error) {
	if days <= 0 {
		days = models.DefaultValidityDays
	}

	var issued []*models.Voucher
	tried := make(map[string]bool)
	for round := 0; round < maxRounds && len(issued) < count; round++ {
		codes, err := i.generator.Codes(f, count-len(issued), tried)
		if err != nil {
			return issued, err
		}
		for _, c := range codes {
			tried[c] = true
		}

		created, err := i.store.CreateVouchers(ctx, newVouchers(codes, days))
		if err != nil {
			return issued, fmt.Errorf("store vouchers: %w", err)
		}
		issued = append(issued, created...)
	}

	if len(issued) < count {
		return issued, fmt.Errorf("generated %d of %d vouchers, code space too crowded", len(issued), count)
	}

	i.logger.Info().
		Int("count", len(issued)).
		Int("validity_days", days).
		Msg("vouchers generated")

	return issued, nil
}

// Import stores the given codes, skipping blanks, duplicates and codes
// that already exist.
func (i *Issuer) Import(ctx context.Context, codes []string, days int) ([]*models.Voucher, error) {
	if days <= 0 {
		days = models.DefaultValidityDays
	}

	seen := make(map[string]bool, len(codes))
	var clean []string
	for _, c := range codes {
		c = strings.TrimSpace(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		clean = append(clean, c)
	}
	if len(clean) == 0 {
		return nil, errors.New("no codes to import")
	}

	created, err := i.store.CreateVouchers(ctx, newVouchers(clean, days))
	if err != nil {
		return nil, fmt.Errorf("store vouchers: %w", err)
	}

	i.logger.Info().
		Int("submitted", len(clean)).
		Int("created", len(created)).
		Int("validity_days", days).
		Msg("vouchers imported")

	return created, nil
}

func newVouchers(codes []string, days int) []*models.Voucher {
	out := make([]*models.Voucher, len(codes))
	for i, c := range codes {
		out[i] = models.NewVoucher(c, days)
	}
	return out
}
