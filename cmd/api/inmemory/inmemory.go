package inmemory

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/circulation-service/cmd/api/library"
	"github.com/google/uuid"
	"github.com/hashicorp/go-memdb"
)

const (
	bookTable   = "book"
	recordTable = "borrow_record"
)

type InMemoryStore struct {
	db  *memdb.MemDB
	exc *memdb.Txn // only set on the copy handed out by BeginTx
}

func NewInMemoryStore() (*InMemoryStore, error) {
	schema := &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			bookTable: {
				Name: bookTable,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
					"isbn": {
						Name:    "isbn",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ISBN"},
					},
				},
			},
			recordTable: {
				Name: recordTable,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
					"patron_id": {
						Name:    "patron_id",
						Unique:  false,
						Indexer: &memdb.StringFieldIndex{Field: "PatronID"},
					},
					"patron_book": {
						Name:   "patron_book",
						Unique: false,
						Indexer: &memdb.CompoundIndex{
							Indexes: []memdb.Indexer{
								&memdb.StringFieldIndex{Field: "PatronID"},
								&memdb.StringFieldIndex{Field: "BookID"},
							},
						},
					},
				},
			},
		},
	}

	if err := schema.Validate(); err != nil {
		return nil, fmt.Errorf("validating in-memory schema: %w", err)
	}

	db, err := memdb.NewMemDB(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize in-memory database: %w", err)
	}
	return &InMemoryStore{db: db}, nil
}

type AdaptedBook struct {
	ID              string
	Title           string
	Author          string
	ISBN            string
	TotalCopies     int
	AvailableCopies int
	CreatedAt       time.Time
}

func adaptBookIdToString(b library.Book) AdaptedBook {
	return AdaptedBook{
		ID:              b.ID.String(),
		Title:           b.Title,
		Author:          b.Author,
		ISBN:            b.ISBN,
		TotalCopies:     b.TotalCopies,
		AvailableCopies: b.AvailableCopies,
		CreatedAt:       b.CreatedAt,
	}
}

func adaptBookIdToUUID(b AdaptedBook) library.Book {
	return library.Book{
		ID:              uuid.MustParse(b.ID),
		Title:           b.Title,
		Author:          b.Author,
		ISBN:            b.ISBN,
		TotalCopies:     b.TotalCopies,
		AvailableCopies: b.AvailableCopies,
		CreatedAt:       b.CreatedAt,
	}
}

type AdaptedBorrowRecord struct {
	ID         string
	PatronID   string
	BookID     string
	BorrowDate time.Time
	DueDate    time.Time
	ReturnDate *time.Time
}

func adaptRecordIdToString(r library.BorrowRecord) AdaptedBorrowRecord {
	return AdaptedBorrowRecord{
		ID:         r.ID.String(),
		PatronID:   r.PatronID,
		BookID:     r.BookID.String(),
		BorrowDate: r.BorrowDate,
		DueDate:    r.DueDate,
		ReturnDate: r.ReturnDate,
	}
}

func adaptRecordIdToUUID(r AdaptedBorrowRecord) library.BorrowRecord {
	return library.BorrowRecord{
		ID:         uuid.MustParse(r.ID),
		PatronID:   r.PatronID,
		BookID:     uuid.MustParse(r.BookID),
		BorrowDate: r.BorrowDate,
		DueDate:    r.DueDate,
		ReturnDate: r.ReturnDate,
	}
}

/*
Returns the transaction a call should run in. Outside of BeginTx every call gets its own
transaction, which the caller must abort (or commit, when writing) before returning.
*/
func (store *InMemoryStore) txn(write bool) (txn *memdb.Txn, insideTx bool) {
	if store.exc != nil {
		return store.exc, true
	}
	return store.db.Txn(write), false
}

// -- Books --

func (store *InMemoryStore) GetBookByID(ctx context.Context, id uuid.UUID) (library.Book, error) {
	txn, insideTx := store.txn(false)
	if !insideTx {
		defer txn.Abort()
	}

	raw, err := txn.First(bookTable, "id", id.String())
	if err != nil {
		return library.Book{}, fmt.Errorf("searching by ID: %w", err)
	}
	if raw == nil {
		return library.Book{}, fmt.Errorf("searching by ID: %w", library.ErrResponseBookNotFound)
	}

	return adaptBookIdToUUID(raw.(AdaptedBook)), nil
}

func (store *InMemoryStore) GetBookByISBN(ctx context.Context, isbn string) (library.Book, error) {
	txn, insideTx := store.txn(false)
	if !insideTx {
		defer txn.Abort()
	}

	raw, err := txn.First(bookTable, "isbn", isbn)
	if err != nil {
		return library.Book{}, fmt.Errorf("searching by ISBN: %w", err)
	}
	if raw == nil {
		return library.Book{}, fmt.Errorf("searching by ISBN: %w", library.ErrResponseBookNotFound)
	}

	return adaptBookIdToUUID(raw.(AdaptedBook)), nil
}

func (store *InMemoryStore) CreateBook(ctx context.Context, bookEntry library.Book) (library.Book, error) {
	txn, insideTx := store.txn(true)
	if !insideTx {
		defer txn.Abort()
	}

	// memdb replaces rows on a unique index collision instead of rejecting them.
	existing, err := txn.First(bookTable, "isbn", bookEntry.ISBN)
	if err != nil {
		return library.Book{}, fmt.Errorf("storing book on db: %w", err)
	}
	if existing != nil {
		return library.Book{}, fmt.Errorf("storing book on db: %w", library.ErrResponseDuplicateISBN)
	}

	row := adaptBookIdToString(bookEntry)
	if err := txn.Insert(bookTable, row); err != nil {
		return library.Book{}, fmt.Errorf("storing book on db: %w", err)
	}

	if !insideTx {
		txn.Commit()
	}
	return adaptBookIdToUUID(row), nil
}

func (store *InMemoryStore) ListBooks(ctx context.Context) ([]library.Book, error) {
	return store.filterBooks("listing books from db", func(AdaptedBook) bool { return true })
}

func (store *InMemoryStore) SearchBooks(ctx context.Context, term string, kind library.SearchKind) ([]library.Book, error) {
	needle := strings.ToLower(term)

	var match func(b AdaptedBook) bool
	switch kind {
	case library.SearchByTitle:
		match = func(b AdaptedBook) bool { return strings.Contains(strings.ToLower(b.Title), needle) }
	case library.SearchByAuthor:
		match = func(b AdaptedBook) bool { return strings.Contains(strings.ToLower(b.Author), needle) }
	case library.SearchByISBN:
		match = func(b AdaptedBook) bool { return b.ISBN == term }
	default:
		return []library.Book{}, nil
	}

	return store.filterBooks("searching books on db", match)
}

func (store *InMemoryStore) filterBooks(action string, match func(b AdaptedBook) bool) ([]library.Book, error) {
	txn, insideTx := store.txn(false)
	if !insideTx {
		defer txn.Abort()
	}

	it, err := txn.Get(bookTable, "id")
	if err != nil {
		return []library.Book{}, fmt.Errorf("%s: %w", action, err)
	}

	books := []library.Book{}
	for obj := it.Next(); obj != nil; obj = it.Next() {
		b := obj.(AdaptedBook)
		if !match(b) {
			continue
		}
		books = append(books, adaptBookIdToUUID(b))
	}

	sort.SliceStable(books, func(i, j int) bool {
		return books[i].Title < books[j].Title
	})
	return books, nil
}

func (store *InMemoryStore) UpdateAvailableCopies(ctx context.Context, bookID uuid.UUID, delta int) error {
	txn, insideTx := store.txn(true)
	if !insideTx {
		defer txn.Abort()
	}

	raw, err := txn.First(bookTable, "id", bookID.String())
	if err != nil {
		return fmt.Errorf("updating availability on db: %w", err)
	}
	if raw == nil {
		return fmt.Errorf("updating availability on db: %w", library.ErrResponseBookNotFound)
	}

	b := raw.(AdaptedBook)
	available := b.AvailableCopies + delta
	if available < 0 || available > b.TotalCopies {
		return fmt.Errorf("updating availability on db: %w", library.ErrAvailabilityOutOfRange)
	}
	b.AvailableCopies = available

	if err := txn.Insert(bookTable, b); err != nil {
		return fmt.Errorf("updating availability on db: %w", err)
	}

	if !insideTx {
		txn.Commit()
	}
	return nil
}

// -- Borrow records --

func (store *InMemoryStore) CreateBorrowRecord(ctx context.Context, record library.BorrowRecord) (library.BorrowRecord, error) {
	txn, insideTx := store.txn(true)
	if !insideTx {
		defer txn.Abort()
	}

	open, err := openRecord(txn, record.PatronID, record.BookID)
	if err != nil {
		return library.BorrowRecord{}, fmt.Errorf("storing borrow record on db: %w", err)
	}
	if open != nil {
		return library.BorrowRecord{}, fmt.Errorf("storing borrow record on db: %w", library.ErrOpenLoanExists)
	}

	if err := txn.Insert(recordTable, adaptRecordIdToString(record)); err != nil {
		return library.BorrowRecord{}, fmt.Errorf("storing borrow record on db: %w", err)
	}

	if !insideTx {
		txn.Commit()
	}
	return record, nil
}

func (store *InMemoryStore) SetReturnDate(ctx context.Context, patronID string, bookID uuid.UUID, returnDate time.Time) error {
	txn, insideTx := store.txn(true)
	if !insideTx {
		defer txn.Abort()
	}

	open, err := openRecord(txn, patronID, bookID)
	if err != nil {
		return fmt.Errorf("closing borrow record on db: %w", err)
	}
	if open == nil {
		return fmt.Errorf("closing borrow record on db: %w", library.ErrResponseNotBorrowed)
	}

	open.ReturnDate = &returnDate
	if err := txn.Insert(recordTable, *open); err != nil {
		return fmt.Errorf("closing borrow record on db: %w", err)
	}

	if !insideTx {
		txn.Commit()
	}
	return nil
}

func openRecord(txn *memdb.Txn, patronID string, bookID uuid.UUID) (*AdaptedBorrowRecord, error) {
	it, err := txn.Get(recordTable, "patron_book", patronID, bookID.String())
	if err != nil {
		return nil, err
	}
	for obj := it.Next(); obj != nil; obj = it.Next() {
		r := obj.(AdaptedBorrowRecord)
		if r.ReturnDate == nil {
			return &r, nil
		}
	}
	return nil, nil
}

func (store *InMemoryStore) ListOpenLoans(ctx context.Context, patronID string) ([]library.Loan, error) {
	loans, err := store.loans(patronID, true)
	if err != nil {
		return []library.Loan{}, fmt.Errorf("listing open loans from db: %w", err)
	}
	sort.SliceStable(loans, func(i, j int) bool {
		return loans[i].DueDate.Before(loans[j].DueDate)
	})
	return loans, nil
}

func (store *InMemoryStore) ListLoanHistory(ctx context.Context, patronID string) ([]library.Loan, error) {
	loans, err := store.loans(patronID, false)
	if err != nil {
		return []library.Loan{}, fmt.Errorf("listing loan history from db: %w", err)
	}
	sort.SliceStable(loans, func(i, j int) bool {
		return loans[i].BorrowDate.After(loans[j].BorrowDate)
	})
	return loans, nil
}

func (store *InMemoryStore) CountOpenLoans(ctx context.Context, patronID string) (int, error) {
	loans, err := store.loans(patronID, true)
	if err != nil {
		return 0, fmt.Errorf("counting open loans from db: %w", err)
	}
	return len(loans), nil
}

/* Joins the patron's borrow records with their books, keeping only open ones when asked. */
func (store *InMemoryStore) loans(patronID string, openOnly bool) ([]library.Loan, error) {
	txn, insideTx := store.txn(false)
	if !insideTx {
		defer txn.Abort()
	}

	it, err := txn.Get(recordTable, "patron_id", patronID)
	if err != nil {
		return nil, err
	}

	loans := []library.Loan{}
	for obj := it.Next(); obj != nil; obj = it.Next() {
		r := obj.(AdaptedBorrowRecord)
		if openOnly && r.ReturnDate != nil {
			continue
		}

		loan := library.Loan{BorrowRecord: adaptRecordIdToUUID(r)}
		raw, err := txn.First(bookTable, "id", r.BookID)
		if err != nil {
			return nil, err
		}
		if raw != nil {
			b := raw.(AdaptedBook)
			loan.Title, loan.Author, loan.ISBN = b.Title, b.Author, b.ISBN
		}
		loans = append(loans, loan)
	}
	return loans, nil
}

// -- Transactions --

func (store *InMemoryStore) BeginTx(ctx context.Context, opts *sql.TxOptions) (library.Repository, driver.Tx, error) {
	txn := store.db.Txn(true)
	if txn == nil {
		return nil, nil, fmt.Errorf("failed to create transaction")
	}

	txWrapper := &TxWrapper{txn: txn}
	txStore := &InMemoryStore{
		db:  store.db,
		exc: txWrapper.txn,
	}

	return txStore, txWrapper, nil
}

type TxWrapper struct {
	txn *memdb.Txn
}

func (tx *TxWrapper) Commit() error {
	tx.txn.Commit()
	return nil
}

func (tx *TxWrapper) Rollback() error {
	tx.txn.Abort()
	return nil
}
