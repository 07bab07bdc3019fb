package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/circulation-service/cmd/api/library"
	"github.com/doug-martin/goqu/v9"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/google/uuid"
	"github.com/lib/pq"

	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

const (
	dialectPostgres = "postgres"

	uniqueViolation = pq.ErrorCode("23505")
	checkViolation  = pq.ErrorCode("23514")

	isbnConstraint     = "books_isbn_key"
	openLoanConstraint = "borrow_records_open_loan_key"
)

const bookColumns = `id, title, author, isbn, total_copies, available_copies, created_at`

type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db  *sql.DB
	exc *Executor
}

type Executor struct {
	DBTX
}

func NewStore(db *sql.DB) *Store {
	return &Store{
		db:  db,
		exc: NewExc(db),
	}
}

func NewExc(dbtx DBTX) *Executor {
	return &Executor{DBTX: dbtx}
}

func (store *Store) BeginTx(ctx context.Context, opts *sql.TxOptions) (library.Repository, driver.Tx, error) {
	tx, err := store.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("beginning transaction: %w", err)
	}

	txRepo := NewStore(store.db)
	txRepo.exc = NewExc(tx)
	return txRepo, tx, nil
}

/* Connects to the database trought a connection string and returns a pointer to a valid DB object (*sql.DB). */
func ConnectDb(ctx context.Context, connStr string) (*sql.DB, error) {
	sqlDB, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("connecting to db, opening: %w", err)
	}

	err = sqlDB.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("connecting to db, pinging: %w", err)
	}

	slog.Info("connected to database")
	return sqlDB, nil
}

/* Applies every pending migration found under path. Returns migrate.ErrNoChange when the schema is current. */
func MigrationUp(store *Store, path string) error {
	m, err := newMigrate(store, path)
	if err != nil {
		return fmt.Errorf("migrating up: %w", err)
	}

	err = m.Up()
	if err != nil {
		return fmt.Errorf("migrating up: %w", err)
	}
	return nil
}

func MigrationDown(store *Store, path string) error {
	m, err := newMigrate(store, path)
	if err != nil {
		return fmt.Errorf("migrating down: %w", err)
	}

	err = m.Down()
	if err != nil {
		return fmt.Errorf("migrating down: %w", err)
	}
	return nil
}

func newMigrate(store *Store, path string) (*migrate.Migrate, error) {
	driver, err := postgres.WithInstance(store.db, &postgres.Config{})
	if err != nil {
		return nil, err
	}
	return migrate.NewWithDatabaseInstance(fmt.Sprintf("file://%s", path), "postgres", driver)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBook(row rowScanner) (library.Book, error) {
	var b library.Book
	err := row.Scan(&b.ID, &b.Title, &b.Author, &b.ISBN, &b.TotalCopies, &b.AvailableCopies, &b.CreatedAt)
	return b, err
}

// -- Books --

/* Searches a book in database based on ID and returns it if succeed. */
func (store *Store) GetBookByID(ctx context.Context, id uuid.UUID) (library.Book, error) {
	sqlStatement := `SELECT ` + bookColumns + `
	FROM books
	WHERE id = $1;`
	b, err := scanBook(store.exc.QueryRowContext(ctx, sqlStatement, id))
	if err != nil {
		switch err {
		case sql.ErrNoRows:
			return library.Book{}, fmt.Errorf("searching by ID: %w", library.ErrResponseBookNotFound)
		default:
			return library.Book{}, fmt.Errorf("searching by ID: %w", err)
		}
	}

	return b, nil
}

func (store *Store) GetBookByISBN(ctx context.Context, isbn string) (library.Book, error) {
	sqlStatement := `SELECT ` + bookColumns + `
	FROM books
	WHERE isbn = $1;`
	b, err := scanBook(store.exc.QueryRowContext(ctx, sqlStatement, isbn))
	if err != nil {
		switch err {
		case sql.ErrNoRows:
			return library.Book{}, fmt.Errorf("searching by ISBN: %w", library.ErrResponseBookNotFound)
		default:
			return library.Book{}, fmt.Errorf("searching by ISBN: %w", err)
		}
	}

	return b, nil
}

/* Stores the book into the database, checks and returns it if succeed. */
func (store *Store) CreateBook(ctx context.Context, bookEntry library.Book) (library.Book, error) {
	sqlStatement := `
	INSERT INTO books (id, title, author, isbn, total_copies, available_copies, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	RETURNING ` + bookColumns
	createdRow := store.exc.QueryRowContext(ctx, sqlStatement, bookEntry.ID, bookEntry.Title, bookEntry.Author, bookEntry.ISBN, bookEntry.TotalCopies, bookEntry.AvailableCopies, bookEntry.CreatedAt)
	b, err := scanBook(createdRow)
	if err != nil {
		if violates(err, uniqueViolation, isbnConstraint) {
			return library.Book{}, fmt.Errorf("storing book on db: %w", library.ErrResponseDuplicateISBN)
		}
		return library.Book{}, fmt.Errorf("storing book on db: %w", err)
	}

	return b, nil
}

func (store *Store) ListBooks(ctx context.Context) ([]library.Book, error) {
	sqlStatement := `SELECT ` + bookColumns + `
	FROM books
	ORDER BY title ASC, isbn ASC;`
	return store.queryBooks(ctx, "listing books from db", sqlStatement)
}

/* Builds the search statement for the given kind: exact match on ISBN, case-insensitive substring otherwise. */
func buildSearchQuery(term string, kind library.SearchKind) (string, []any, error) {
	var where goqu.Expression
	switch kind {
	case library.SearchByISBN:
		where = goqu.I("isbn").Eq(term)
	case library.SearchByTitle:
		where = goqu.I("title").ILike(containsPattern(term))
	case library.SearchByAuthor:
		where = goqu.I("author").ILike(containsPattern(term))
	default:
		return "", nil, fmt.Errorf("unknown search kind %q", kind)
	}

	return goqu.Dialect(dialectPostgres).
		From("books").
		Select("id", "title", "author", "isbn", "total_copies", "available_copies", "created_at").
		Where(where).
		Order(goqu.I("title").Asc(), goqu.I("isbn").Asc()).
		Prepared(true).
		ToSQL()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func containsPattern(term string) string {
	return "%" + likeEscaper.Replace(term) + "%"
}

func (store *Store) SearchBooks(ctx context.Context, term string, kind library.SearchKind) ([]library.Book, error) {
	sqlStatement, args, err := buildSearchQuery(term, kind)
	if err != nil {
		return nil, fmt.Errorf("searching books on db: %w", err)
	}
	return store.queryBooks(ctx, "searching books on db", sqlStatement, args...)
}

func (store *Store) queryBooks(ctx context.Context, action, sqlStatement string, args ...any) ([]library.Book, error) {
	rows, err := store.exc.QueryContext(ctx, sqlStatement, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", action, err)
	}
	defer rows.Close()

	books := []library.Book{}
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", action, err)
		}
		books = append(books, b)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", action, err)
	}

	return books, nil
}

/* Moves available copies by delta, refusing any result outside [0, total_copies]. */
func (store *Store) UpdateAvailableCopies(ctx context.Context, bookID uuid.UUID, delta int) error {
	sqlStatement := `
	UPDATE books
	SET available_copies = available_copies + $2
	WHERE id = $1
	AND available_copies + $2 BETWEEN 0 AND total_copies;`
	result, err := store.exc.ExecContext(ctx, sqlStatement, bookID, delta)
	if err != nil {
		if violates(err, checkViolation, "") {
			return fmt.Errorf("updating availability on db: %w", library.ErrAvailabilityOutOfRange)
		}
		return fmt.Errorf("updating availability on db: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating availability on db: %w", err)
	}
	if affected == 1 {
		return nil
	}

	// Nothing updated: either the book is gone or the delta was out of range.
	_, err = store.GetBookByID(ctx, bookID)
	if err != nil {
		return fmt.Errorf("updating availability on db: %w", err)
	}
	return fmt.Errorf("updating availability on db: %w", library.ErrAvailabilityOutOfRange)
}

// -- Borrow records --

func (store *Store) CreateBorrowRecord(ctx context.Context, record library.BorrowRecord) (library.BorrowRecord, error) {
	sqlStatement := `
	INSERT INTO borrow_records (id, patron_id, book_id, borrow_date, due_date)
	VALUES ($1, $2, $3, $4, $5)
	RETURNING id, patron_id, book_id, borrow_date, due_date, return_date`
	createdRow := store.exc.QueryRowContext(ctx, sqlStatement, record.ID, record.PatronID, record.BookID, record.BorrowDate, record.DueDate)

	stored, err := scanRecord(createdRow)
	if err != nil {
		if violates(err, uniqueViolation, openLoanConstraint) {
			return library.BorrowRecord{}, fmt.Errorf("storing borrow record on db: %w", library.ErrOpenLoanExists)
		}
		return library.BorrowRecord{}, fmt.Errorf("storing borrow record on db: %w", err)
	}
	return stored, nil
}

func scanRecord(row rowScanner) (library.BorrowRecord, error) {
	var r library.BorrowRecord
	var returnDate sql.NullTime
	err := row.Scan(&r.ID, &r.PatronID, &r.BookID, &r.BorrowDate, &r.DueDate, &returnDate)
	if err != nil {
		return library.BorrowRecord{}, err
	}
	if returnDate.Valid {
		r.ReturnDate = &returnDate.Time
	}
	return r, nil
}

func (store *Store) SetReturnDate(ctx context.Context, patronID string, bookID uuid.UUID, returnDate time.Time) error {
	sqlStatement := `
	UPDATE borrow_records
	SET return_date = $3
	WHERE patron_id = $1 AND book_id = $2 AND return_date IS NULL;`
	result, err := store.exc.ExecContext(ctx, sqlStatement, patronID, bookID, returnDate)
	if err != nil {
		return fmt.Errorf("closing borrow record on db: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("closing borrow record on db: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("closing borrow record on db: %w", library.ErrResponseNotBorrowed)
	}
	return nil
}

const loanSelect = `SELECT r.id, r.patron_id, r.book_id, r.borrow_date, r.due_date, r.return_date, b.title, b.author, b.isbn
	FROM borrow_records r
	JOIN books b ON b.id = r.book_id
	WHERE r.patron_id = $1`

func (store *Store) ListOpenLoans(ctx context.Context, patronID string) ([]library.Loan, error) {
	sqlStatement := loanSelect + `
	AND r.return_date IS NULL
	ORDER BY r.due_date ASC;`
	return store.queryLoans(ctx, "listing open loans from db", sqlStatement, patronID)
}

func (store *Store) ListLoanHistory(ctx context.Context, patronID string) ([]library.Loan, error) {
	sqlStatement := loanSelect + `
	ORDER BY r.borrow_date DESC;`
	return store.queryLoans(ctx, "listing loan history from db", sqlStatement, patronID)
}

func (store *Store) queryLoans(ctx context.Context, action, sqlStatement, patronID string) ([]library.Loan, error) {
	rows, err := store.exc.QueryContext(ctx, sqlStatement, patronID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", action, err)
	}
	defer rows.Close()

	loans := []library.Loan{}
	for rows.Next() {
		var l library.Loan
		var returnDate sql.NullTime
		err = rows.Scan(&l.ID, &l.PatronID, &l.BookID, &l.BorrowDate, &l.DueDate, &returnDate, &l.Title, &l.Author, &l.ISBN)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", action, err)
		}
		if returnDate.Valid {
			l.ReturnDate = &returnDate.Time
		}
		loans = append(loans, l)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", action, err)
	}

	return loans, nil
}

func (store *Store) CountOpenLoans(ctx context.Context, patronID string) (int, error) {
	sqlStatement := `SELECT COUNT(*) FROM borrow_records
	WHERE patron_id = $1 AND return_date IS NULL;`

	var count int
	err := store.exc.QueryRowContext(ctx, sqlStatement, patronID).Scan(&count)
	if err != nil {
		return count, fmt.Errorf("counting open loans from db: %w", err)
	}

	return count, nil
}

/* Reports whether err is a postgres error with the given code, on the given constraint when one is named. */
func violates(err error, code pq.ErrorCode, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == code && (constraint == "" || pqErr.Constraint == constraint)
}
