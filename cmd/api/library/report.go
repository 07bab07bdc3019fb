package library

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	LoanStatusBorrowed = "Borrowed"
	LoanStatusReturned = "Returned"
)

const reportStorageError = "Database error occurred while generating report."

type CurrentLoan struct {
	BookID  uuid.UUID
	Title   string
	Author  string
	DueDate time.Time
	Overdue bool
}

type HistoryEntry struct {
	BookID     uuid.UUID
	Title      string
	Author     string
	ISBN       string
	BorrowDate time.Time
	DueDate    time.Time
	ReturnDate *time.Time
	Status     string
}

type PatronReport struct {
	PatronID      string
	CurrentLoans  []CurrentLoan
	TotalBorrowed int
	TotalFeesOwed decimal.Decimal
	History       []HistoryEntry
	Error         string // set, with empty collections, when storage failed
}

func emptyReport(patronID, reason string) PatronReport {
	return PatronReport{
		PatronID:      patronID,
		CurrentLoans:  []CurrentLoan{},
		TotalFeesOwed: decimal.Zero,
		History:       []HistoryEntry{},
		Error:         reason,
	}
}

// PatronReport gathers a patron's open loans, the tiered fees owed on the overdue ones
// and the full borrowing history. Nothing is cached: overdue flags and fees follow the
// clock at call time.
func (s *Service) PatronReport(ctx context.Context, patronID string) (PatronReport, error) {
	if !ValidPatronID(patronID) {
		return emptyReport(patronID, ErrResponseInvalidPatron.Message), ErrResponseInvalidPatron
	}

	openLoans, err := s.repo.ListOpenLoans(ctx, patronID)
	if err != nil {
		s.log.Error("generating patron report", "patron_id", patronID, "step", "open loans", "error", err)
		return emptyReport(patronID, reportStorageError), nil
	}

	history, err := s.repo.ListLoanHistory(ctx, patronID)
	if err != nil {
		s.log.Error("generating patron report", "patron_id", patronID, "step", "history", "error", err)
		return emptyReport(patronID, reportStorageError), nil
	}

	now := s.now()
	report := PatronReport{
		PatronID:      patronID,
		CurrentLoans:  make([]CurrentLoan, 0, len(openLoans)),
		TotalBorrowed: len(openLoans),
		TotalFeesOwed: decimal.Zero,
		History:       make([]HistoryEntry, 0, len(history)),
	}

	for _, l := range openLoans {
		overdue := l.DueDate.Before(now)
		report.CurrentLoans = append(report.CurrentLoans, CurrentLoan{
			BookID:  l.BookID,
			Title:   l.Title,
			Author:  l.Author,
			DueDate: l.DueDate,
			Overdue: overdue,
		})
		if overdue {
			report.TotalFeesOwed = report.TotalFeesOwed.Add(CalculateFee(l.DueDate, now).FeeAmount)
		}
	}
	report.TotalFeesOwed = report.TotalFeesOwed.Round(2)

	history = slices.Clone(history)
	slices.SortStableFunc(history, func(a, b Loan) int {
		return b.BorrowDate.Compare(a.BorrowDate)
	})
	for _, l := range history {
		status := LoanStatusBorrowed
		if !l.Open() {
			status = LoanStatusReturned
		}
		report.History = append(report.History, HistoryEntry{
			BookID:     l.BookID,
			Title:      l.Title,
			Author:     l.Author,
			ISBN:       l.ISBN,
			BorrowDate: l.BorrowDate,
			DueDate:    l.DueDate,
			ReturnDate: l.ReturnDate,
			Status:     status,
		})
	}

	return report, nil
}
