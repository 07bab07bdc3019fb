package database_test

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"os"
	"testing"
	"time"

	"github.com/circulation-service/cmd/api/database"
	"github.com/circulation-service/cmd/api/library"
	"github.com/golang-migrate/migrate/v4"
	"github.com/google/uuid"
	"github.com/matryer/is"
)

var store *database.Store
var sqlDB *sql.DB
var ctx context.Context = context.Background()

// TestMain connects to DATABASE_URL and migrates it. Without it the
// database tests are skipped.
func TestMain(m *testing.M) {
	connStr := os.Getenv("DATABASE_URL")
	if connStr == "" {
		os.Exit(m.Run())
	}

	var err error
	sqlDB, err = database.ConnectDb(ctx, connStr)
	if err != nil {
		log.Fatalln(err)
	}

	store = database.NewStore(sqlDB)
	path := os.Getenv("DATABASE_MIGRATIONS_PATH")
	if path == "" {
		path = "../../../migrations"
	}
	err = database.MigrationUp(store, path)
	if err != nil {
		if !errors.Is(err, migrate.ErrNoChange) {
			log.Fatalln(err)
		}
		log.Println(err)
	}

	os.Exit(m.Run())
}

func requireDB(t *testing.T) {
	t.Helper()
	if store == nil {
		t.Skip("DATABASE_URL not set")
	}
	// We don't want the database to be tainted with
	// this test data in another tests.
	t.Cleanup(func() {
		teardownDB(t)
	})
}

func newBook(title, author, isbn string, copies int) library.Book {
	return library.Book{
		ID:              uuid.New(),
		Title:           title,
		Author:          author,
		ISBN:            isbn,
		TotalCopies:     copies,
		AvailableCopies: copies,
		CreatedAt:       time.Now().UTC().Round(time.Millisecond),
	}
}

func TestCreateBook(t *testing.T) {
	requireDB(t)

	t.Run("creates a book without errors", func(t *testing.T) {
		is := is.New(t)

		b := newBook("Things Fall Apart", "Chinua Achebe", "9780385474542", 4)
		created, err := store.CreateBook(ctx, b)
		is.NoErr(err)
		compareBooks(is, created, b)

		found, err := store.GetBookByISBN(ctx, b.ISBN)
		is.NoErr(err)
		compareBooks(is, found, b)
	})

	t.Run("maps the isbn unique violation", func(t *testing.T) {
		is := is.New(t)

		_, err := store.CreateBook(ctx, newBook("Things Fall Apart", "Chinua Achebe", "9780385474542", 1))
		is.True(errors.Is(err, library.ErrResponseDuplicateISBN))
	})
}

func TestGetBook(t *testing.T) {
	requireDB(t)

	t.Run("unknown id is not found", func(t *testing.T) {
		is := is.New(t)

		_, err := store.GetBookByID(ctx, uuid.New())
		is.True(errors.Is(err, library.ErrResponseBookNotFound))
	})
}

func TestSearchBooks(t *testing.T) {
	requireDB(t)
	is := is.New(t)

	for _, b := range []library.Book{
		newBook("Half of a Yellow Sun", "Chimamanda Ngozi Adichie", "9781400095209", 1),
		newBook("Americanah", "Chimamanda Ngozi Adichie", "9780307455925", 2),
		newBook("100% Unofficial", "Anonymous", "9780000000017", 1),
	} {
		_, err := store.CreateBook(ctx, b)
		is.NoErr(err)
	}

	t.Run("author substring ignores case and orders by title", func(t *testing.T) {
		is := is.New(t)

		books, err := store.SearchBooks(ctx, "ADICHIE", library.SearchByAuthor)
		is.NoErr(err)
		is.Equal(len(books), 2)
		is.Equal(books[0].Title, "Americanah")
		is.Equal(books[1].Title, "Half of a Yellow Sun")
	})

	t.Run("wildcards in the term are literal", func(t *testing.T) {
		is := is.New(t)

		books, err := store.SearchBooks(ctx, "0%", library.SearchByTitle)
		is.NoErr(err)
		is.Equal(len(books), 1)
		is.Equal(books[0].Title, "100% Unofficial")
	})

	t.Run("isbn is an exact match", func(t *testing.T) {
		is := is.New(t)

		books, err := store.SearchBooks(ctx, "9780307455925", library.SearchByISBN)
		is.NoErr(err)
		is.Equal(len(books), 1)

		books, err = store.SearchBooks(ctx, "978030745592", library.SearchByISBN)
		is.NoErr(err)
		is.Equal(len(books), 0)
	})

	t.Run("lists the whole catalog", func(t *testing.T) {
		is := is.New(t)

		books, err := store.ListBooks(ctx)
		is.NoErr(err)
		is.Equal(len(books), 3)
		is.Equal(books[0].Title, "100% Unofficial")
	})
}

func TestUpdateAvailableCopies(t *testing.T) {
	requireDB(t)
	is := is.New(t)

	b := newBook("The Master and Margarita", "Mikhail Bulgakov", "9780679760801", 1)
	_, err := store.CreateBook(ctx, b)
	is.NoErr(err)

	is.NoErr(store.UpdateAvailableCopies(ctx, b.ID, -1))
	is.True(errors.Is(store.UpdateAvailableCopies(ctx, b.ID, -1), library.ErrAvailabilityOutOfRange))
	is.NoErr(store.UpdateAvailableCopies(ctx, b.ID, 1))
	is.True(errors.Is(store.UpdateAvailableCopies(ctx, b.ID, 1), library.ErrAvailabilityOutOfRange))
	is.True(errors.Is(store.UpdateAvailableCopies(ctx, uuid.New(), 1), library.ErrResponseBookNotFound))
}

func TestBorrowRecords(t *testing.T) {
	requireDB(t)
	is := is.New(t)
	patronID := "424242"
	now := time.Now().UTC().Round(time.Millisecond)

	b := newBook("Season of Migration to the North", "Tayeb Salih", "9781590173022", 2)
	_, err := store.CreateBook(ctx, b)
	is.NoErr(err)

	record := library.BorrowRecord{
		ID:         uuid.New(),
		PatronID:   patronID,
		BookID:     b.ID,
		BorrowDate: now,
		DueDate:    now.Add(library.LoanPeriod),
	}

	stored, err := store.CreateBorrowRecord(ctx, record)
	is.NoErr(err)
	is.Equal(stored.ID, record.ID)
	is.True(stored.Open())

	t.Run("a second open loan of the same book is refused", func(t *testing.T) {
		is := is.New(t)

		second := record
		second.ID = uuid.New()
		_, err := store.CreateBorrowRecord(ctx, second)
		is.True(errors.Is(err, library.ErrOpenLoanExists))
	})

	t.Run("open loans carry the book fields", func(t *testing.T) {
		is := is.New(t)

		count, err := store.CountOpenLoans(ctx, patronID)
		is.NoErr(err)
		is.Equal(count, 1)

		loans, err := store.ListOpenLoans(ctx, patronID)
		is.NoErr(err)
		is.Equal(len(loans), 1)
		is.Equal(loans[0].Title, b.Title)
		is.Equal(loans[0].ISBN, b.ISBN)
		is.True(loans[0].DueDate.Equal(record.DueDate))
	})

	t.Run("closing the loan moves it to history", func(t *testing.T) {
		is := is.New(t)

		is.NoErr(store.SetReturnDate(ctx, patronID, b.ID, now.Add(time.Hour)))
		err := store.SetReturnDate(ctx, patronID, b.ID, now.Add(time.Hour))
		is.True(errors.Is(err, library.ErrResponseNotBorrowed))

		count, err := store.CountOpenLoans(ctx, patronID)
		is.NoErr(err)
		is.Equal(count, 0)

		history, err := store.ListLoanHistory(ctx, patronID)
		is.NoErr(err)
		is.Equal(len(history), 1)
		is.True(history[0].ReturnDate != nil)
		is.True(history[0].ReturnDate.Equal(now.Add(time.Hour)))
	})
}

func TestTransactions(t *testing.T) {
	requireDB(t)
	is := is.New(t)

	b := newBook("Pale Fire", "Vladimir Nabokov", "9780679723424", 1)
	_, err := store.CreateBook(ctx, b)
	is.NoErr(err)

	txRepo, tx, err := store.BeginTx(ctx, nil)
	is.NoErr(err)
	is.NoErr(txRepo.UpdateAvailableCopies(ctx, b.ID, -1))
	is.NoErr(tx.Rollback())

	got, err := store.GetBookByID(ctx, b.ID)
	is.NoErr(err)
	is.Equal(got.AvailableCopies, 1)
}

func compareBooks(is *is.I, a, b library.Book) {
	is.Helper()

	// Make sure we have the correct timestamps.
	is.True(a.CreatedAt.Equal(b.CreatedAt))

	// Overwrite to be able to compare them.
	b.CreatedAt = a.CreatedAt

	// Assert that they are equal.
	is.Equal(a, b)
}

func teardownDB(t *testing.T) {
	is := is.New(t)

	_, err := sqlDB.Exec(`TRUNCATE TABLE public.borrow_records, public.books CASCADE`)
	is.NoErr(err)
}
