package library

import (
	"time"

	"github.com/google/uuid"
)

const (
	TitleMaxLength  = 200
	AuthorMaxLength = 100
	ISBNLength      = 13
	PatronIDLength  = 6

	LoanPeriod       = 14 * 24 * time.Hour
	MaxBorrowedBooks = 5
)

type Book struct {
	ID              uuid.UUID
	Title           string
	Author          string
	ISBN            string
	TotalCopies     int
	AvailableCopies int
	CreatedAt       time.Time
}

/* Reports if there is at least one copy on the shelf. */
func (b Book) Borrowable() bool {
	return b.AvailableCopies > 0
}

// BorrowRecord is one lending of one copy. ReturnDate is nil while the loan is open.
type BorrowRecord struct {
	ID         uuid.UUID
	PatronID   string
	BookID     uuid.UUID
	BorrowDate time.Time
	DueDate    time.Time
	ReturnDate *time.Time
}

func (r BorrowRecord) Open() bool {
	return r.ReturnDate == nil
}

// Loan is a BorrowRecord joined with the catalog fields of its book.
type Loan struct {
	BorrowRecord
	Title  string
	Author string
	ISBN   string
}

type SearchKind string

const (
	SearchByTitle  SearchKind = "title"
	SearchByAuthor SearchKind = "author"
	SearchByISBN   SearchKind = "isbn"
)

/* Converts the raw search type into a SearchKind, reporting false for unknown kinds. */
func ParseSearchKind(kind string) (SearchKind, bool) {
	switch SearchKind(kind) {
	case SearchByTitle, SearchByAuthor, SearchByISBN:
		return SearchKind(kind), true
	default:
		return "", false
	}
}

/* Verifies that the patron id is a library card number: exactly 6 ASCII digits. */
func ValidPatronID(patronID string) bool {
	if len(patronID) != PatronIDLength {
		return false
	}
	return allDigits(patronID)
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
