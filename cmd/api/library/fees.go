package library

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const FirstTierDays = 7

var (
	FirstTierDailyFee  = decimal.RequireFromString("0.50")
	SecondTierDailyFee = decimal.RequireFromString("1.00")
	FeeCap             = decimal.RequireFromString("15.00")

	// Flat rate charged on the return receipt, independent of the tiered schedule.
	ReturnLateDailyFee = decimal.RequireFromString("0.50")
)

const (
	FeeStatusCalculated    = "Late fee calculated"
	FeeStatusNotOverdue    = "Book not overdue"
	FeeStatusInvalidPatron = "Invalid patron ID"
	FeeStatusBookNotFound  = "Book not found"
	FeeStatusNotBorrowed   = "Book not borrowed by this patron"
	FeeStatusStorageError  = "Database error occurred while calculating the fee"
)

type FeeResult struct {
	FeeAmount   decimal.Decimal
	DaysOverdue int
	Status      string
}

/* Number of calendar days from the date of "from" to the date of "to", both taken in UTC. */
func CalendarDaysBetween(from, to time.Time) int {
	return int(civilDate(to).Sub(civilDate(from)).Hours() / 24)
}

func civilDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// CalculateFee applies the tiered schedule: 0.50 a day for the first seven overdue
// days, 1.00 a day after that, capped at 15.00.
func CalculateFee(dueDate, now time.Time) FeeResult {
	daysOverdue := CalendarDaysBetween(dueDate, now)
	if daysOverdue <= 0 {
		return FeeResult{FeeAmount: decimal.Zero, DaysOverdue: 0, Status: FeeStatusNotOverdue}
	}

	firstTier := min(daysOverdue, FirstTierDays)
	secondTier := max(0, daysOverdue-FirstTierDays)

	fee := FirstTierDailyFee.Mul(decimal.NewFromInt(int64(firstTier))).
		Add(SecondTierDailyFee.Mul(decimal.NewFromInt(int64(secondTier))))
	fee = decimal.Min(fee, FeeCap).Round(2)

	return FeeResult{FeeAmount: fee, DaysOverdue: daysOverdue, Status: FeeStatusCalculated}
}

/* Late fee shown when a book is returned: a flat rate per day late, without cap. */
func ReturnLateFee(daysLate int) decimal.Decimal {
	if daysLate <= 0 {
		return decimal.Zero
	}
	return ReturnLateDailyFee.Mul(decimal.NewFromInt(int64(daysLate))).Round(2)
}

/* Computes the tiered fee currently owed on the patron's open loan of a book. */
func (s *Service) LateFeeForBook(ctx context.Context, patronID string, bookID uuid.UUID) FeeResult {
	noFee := func(status string) FeeResult {
		return FeeResult{FeeAmount: decimal.Zero, DaysOverdue: 0, Status: status}
	}

	if !ValidPatronID(patronID) {
		return noFee(FeeStatusInvalidPatron)
	}

	_, err := s.lookupBook(ctx, s.repo, "LateFeeForBook", bookID)
	if err != nil {
		if err == ErrResponseBookNotFound {
			return noFee(FeeStatusBookNotFound)
		}
		return noFee(FeeStatusStorageError)
	}

	return s.openLoanFee(ctx, patronID, bookID)
}

/* Applies the fee calculator to the patron's open loan of a book already known to exist. */
func (s *Service) openLoanFee(ctx context.Context, patronID string, bookID uuid.UUID) FeeResult {
	noFee := func(status string) FeeResult {
		return FeeResult{FeeAmount: decimal.Zero, DaysOverdue: 0, Status: status}
	}

	loans, err := s.repo.ListOpenLoans(ctx, patronID)
	if err != nil {
		s.log.Error("listing open loans", "patron_id", patronID, "error", err)
		return noFee(FeeStatusStorageError)
	}

	loan, found := findLoan(loans, bookID)
	if !found {
		return noFee(FeeStatusNotBorrowed)
	}

	return CalculateFee(loan.DueDate, s.now())
}

func findLoan(loans []Loan, bookID uuid.UUID) (Loan, bool) {
	for _, l := range loans {
		if l.BookID == bookID {
			return l, true
		}
	}
	return Loan{}, false
}
