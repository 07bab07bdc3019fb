package library

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

type BorrowResult struct {
	Record BorrowRecord
	Book   Book
}

func (r BorrowResult) Message() string {
	return fmt.Sprintf(`Successfully borrowed "%s". Due date: %s.`, r.Book.Title, r.Record.DueDate.UTC().Format(dateLayout))
}

type ReturnResult struct {
	Record   BorrowRecord
	Book     Book
	DaysLate int
	LateFee  decimal.Decimal
}

func (r ReturnResult) Late() bool {
	return r.DaysLate > 0
}

func (r ReturnResult) Message() string {
	if r.Late() {
		return fmt.Sprintf("Book returned successfully but %d days late. Late fee: $%s", r.DaysLate, r.LateFee.StringFixed(2))
	}
	return fmt.Sprintf(`Book "%s" has been successfully returned.`, r.Book.Title)
}

// BorrowBook lends one copy of a book to a patron for LoanPeriod.
//
// The patron is blocked only once they already hold more than MaxBorrowedBooks open
// loans, so a patron with exactly MaxBorrowedBooks loans may still borrow one more.
// The borrow record and the availability update are two separate writes unless
// atomic circulation is enabled; when the second write fails the record stays.
func (s *Service) BorrowBook(ctx context.Context, patronID string, bookID uuid.UUID) (BorrowResult, error) {
	if !ValidPatronID(patronID) {
		return BorrowResult{}, ErrResponseInvalidPatron
	}

	var result BorrowResult
	err := s.circulate(ctx, "BorrowBook", func(repo Repository) error {
		var err error
		result, err = s.borrow(ctx, repo, patronID, bookID)
		return err
	})
	if err != nil {
		return BorrowResult{}, err
	}
	return result, nil
}

func (s *Service) borrow(ctx context.Context, repo Repository, patronID string, bookID uuid.UUID) (BorrowResult, error) {
	b, err := s.lookupBook(ctx, repo, "BorrowBook", bookID)
	if err != nil {
		return BorrowResult{}, err
	}

	if !b.Borrowable() {
		return BorrowResult{}, ErrResponseNotAvailable
	}

	openLoans, err := repo.CountOpenLoans(ctx, patronID)
	if err != nil {
		return BorrowResult{}, s.storageError("BorrowBook", err, ErrResponseFromRepository)
	}
	if openLoans > MaxBorrowedBooks {
		return BorrowResult{}, ErrResponseLimitExceeded
	}

	borrowDate := s.now()
	record := BorrowRecord{
		ID:         uuid.New(),
		PatronID:   patronID,
		BookID:     bookID,
		BorrowDate: borrowDate,
		DueDate:    borrowDate.Add(LoanPeriod),
	}

	storedRecord, err := repo.CreateBorrowRecord(ctx, record)
	if err != nil {
		if errors.Is(err, ErrOpenLoanExists) {
			return BorrowResult{}, ErrResponseAlreadyBorrowed
		}
		return BorrowResult{}, s.storageError("BorrowBook", err, ErrResponseBorrowRecordStorage)
	}

	err = repo.UpdateAvailableCopies(ctx, bookID, -1)
	if err != nil {
		s.log.Error("borrow record stored but availability not decremented",
			"patron_id", patronID, "book_id", bookID, "record_id", storedRecord.ID, "error", err)
		return BorrowResult{}, s.storageError("BorrowBook", err, ErrResponseAvailabilityStorage)
	}

	b.AvailableCopies--
	return BorrowResult{Record: storedRecord, Book: b}, nil
}

// ReturnBook closes the patron's open loan of a book and puts the copy back on the
// shelf. A late return carries the flat ReturnLateFee, not the tiered schedule.
func (s *Service) ReturnBook(ctx context.Context, patronID string, bookID uuid.UUID) (ReturnResult, error) {
	if !ValidPatronID(patronID) {
		return ReturnResult{}, ErrResponseInvalidPatron
	}

	var result ReturnResult
	err := s.circulate(ctx, "ReturnBook", func(repo Repository) error {
		var err error
		result, err = s.giveBack(ctx, repo, patronID, bookID)
		return err
	})
	if err != nil {
		return ReturnResult{}, err
	}

	if result.Late() {
		s.notify("late_return", func(ctx context.Context) error {
			return s.ntfy.LateReturn(ctx, patronID, result.Book.Title, result.DaysLate, result.LateFee)
		})
	}
	return result, nil
}

func (s *Service) giveBack(ctx context.Context, repo Repository, patronID string, bookID uuid.UUID) (ReturnResult, error) {
	b, err := s.lookupBook(ctx, repo, "ReturnBook", bookID)
	if err != nil {
		return ReturnResult{}, err
	}

	loans, err := repo.ListOpenLoans(ctx, patronID)
	if err != nil {
		return ReturnResult{}, s.storageError("ReturnBook", err, ErrResponseFromRepository)
	}
	loan, found := findLoan(loans, bookID)
	if !found {
		return ReturnResult{}, ErrResponseNotBorrowed
	}

	returnDate := s.now()
	err = repo.SetReturnDate(ctx, patronID, bookID, returnDate)
	if err != nil {
		if errors.Is(err, ErrResponseNotBorrowed) {
			return ReturnResult{}, ErrResponseNotBorrowed
		}
		return ReturnResult{}, s.storageError("ReturnBook", err, ErrResponseReturnRecordStorage)
	}

	err = repo.UpdateAvailableCopies(ctx, bookID, 1)
	if err != nil {
		s.log.Error("borrow record closed but availability not incremented",
			"patron_id", patronID, "book_id", bookID, "record_id", loan.ID, "error", err)
		return ReturnResult{}, s.storageError("ReturnBook", err, ErrResponseAvailabilityStorage)
	}

	record := loan.BorrowRecord
	record.ReturnDate = &returnDate
	b.AvailableCopies++

	result := ReturnResult{Record: record, Book: b, LateFee: decimal.Zero}
	if daysLate := CalendarDaysBetween(record.DueDate, returnDate); daysLate > 0 {
		result.DaysLate = daysLate
		result.LateFee = ReturnLateFee(daysLate)
	}
	return result, nil
}
