package inmemory_test

import (
	"context"
	"errors"
	"fmt"
	"log"
	"testing"
	"time"

	"github.com/circulation-service/cmd/api/inmemory"
	"github.com/circulation-service/cmd/api/library"
	"github.com/google/uuid"
	"github.com/matryer/is"
)

var ctx context.Context = context.Background()

func newStore() *inmemory.InMemoryStore {
	store, err := inmemory.NewInMemoryStore()
	if err != nil {
		log.Fatalln(err)
	}
	return store
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
	store := newStore()

	t.Run("creates a book without errors", func(t *testing.T) {
		is := is.New(t)

		b := newBook("Beloved", "Toni Morrison", "9781400033416", 2)
		created, err := store.CreateBook(ctx, b)
		is.NoErr(err)
		compareBooks(is, created, b)

		byISBN, err := store.GetBookByISBN(ctx, b.ISBN)
		is.NoErr(err)
		compareBooks(is, byISBN, b)
	})

	t.Run("rejects a second book with the same isbn", func(t *testing.T) {
		is := is.New(t)

		b := newBook("Beloved (reprint)", "Toni Morrison", "9781400033416", 1)
		_, err := store.CreateBook(ctx, b)
		is.True(errors.Is(err, library.ErrResponseDuplicateISBN))

		_, err = store.GetBookByID(ctx, b.ID)
		is.True(errors.Is(err, library.ErrResponseBookNotFound))
	})
}

func TestGetBook(t *testing.T) {
	store := newStore()

	t.Run("gets a book by ID without errors", func(t *testing.T) {
		is := is.New(t)

		b := newBook("Solaris", "Stanislaw Lem", "9780156027601", 1)
		_, err := store.CreateBook(ctx, b)
		is.NoErr(err)

		returnedBook, err := store.GetBookByID(ctx, b.ID)
		is.NoErr(err)
		compareBooks(is, returnedBook, b)
	})

	t.Run("unknown ids and isbns are not found", func(t *testing.T) {
		is := is.New(t)

		_, err := store.GetBookByID(ctx, uuid.New())
		is.True(errors.Is(err, library.ErrResponseBookNotFound))
		_, err = store.GetBookByISBN(ctx, "0000000000000")
		is.True(errors.Is(err, library.ErrResponseBookNotFound))
	})
}

func TestListAndSearchBooks(t *testing.T) {
	store := newStore()
	is := is.New(t)

	seed := []library.Book{
		newBook("The Dispossessed", "Ursula K. Le Guin", "9780061054884", 1),
		newBook("A Wizard of Earthsea", "Ursula K. Le Guin", "9780547722023", 2),
		newBook("Neuromancer", "William Gibson", "9780441569595", 1),
		newBook("Count Zero", "William Gibson", "9780441117734", 3),
	}
	for _, b := range seed {
		_, err := store.CreateBook(ctx, b)
		is.NoErr(err)
	}

	t.Run("lists every book by title", func(t *testing.T) {
		is := is.New(t)

		books, err := store.ListBooks(ctx)
		is.NoErr(err)
		is.Equal(len(books), 4)
		is.Equal(books[0].Title, "A Wizard of Earthsea")
		is.Equal(books[1].Title, "Count Zero")
		is.Equal(books[2].Title, "Neuromancer")
		is.Equal(books[3].Title, "The Dispossessed")
	})

	tests := []struct {
		term  string
		kind  library.SearchKind
		wants []string
	}{
		{"le guin", library.SearchByAuthor, []string{"A Wizard of Earthsea", "The Dispossessed"}},
		{"GIBSON", library.SearchByAuthor, []string{"Count Zero", "Neuromancer"}},
		{"mance", library.SearchByTitle, []string{"Neuromancer"}},
		{"9780441117734", library.SearchByISBN, []string{"Count Zero"}},
		{"978044111773", library.SearchByISBN, []string{}},
		{"tolkien", library.SearchByAuthor, []string{}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("search %s by %s", tt.term, tt.kind), func(t *testing.T) {
			is := is.New(t)

			books, err := store.SearchBooks(ctx, tt.term, tt.kind)
			is.NoErr(err)
			is.Equal(len(books), len(tt.wants))
			for i, title := range tt.wants {
				is.Equal(books[i].Title, title)
			}
		})
	}
}

func TestUpdateAvailableCopies(t *testing.T) {
	store := newStore()
	is := is.New(t)

	b := newBook("Ficciones", "Jorge Luis Borges", "9780802130303", 2)
	_, err := store.CreateBook(ctx, b)
	is.NoErr(err)

	t.Run("decrements and increments within bounds", func(t *testing.T) {
		is := is.New(t)

		is.NoErr(store.UpdateAvailableCopies(ctx, b.ID, -1))
		is.NoErr(store.UpdateAvailableCopies(ctx, b.ID, -1))
		got, err := store.GetBookByID(ctx, b.ID)
		is.NoErr(err)
		is.Equal(got.AvailableCopies, 0)

		is.NoErr(store.UpdateAvailableCopies(ctx, b.ID, 2))
		got, err = store.GetBookByID(ctx, b.ID)
		is.NoErr(err)
		is.Equal(got.AvailableCopies, 2)
	})

	t.Run("refuses to go past total copies or below zero", func(t *testing.T) {
		is := is.New(t)

		err := store.UpdateAvailableCopies(ctx, b.ID, 1)
		is.True(errors.Is(err, library.ErrAvailabilityOutOfRange))
		err = store.UpdateAvailableCopies(ctx, b.ID, -3)
		is.True(errors.Is(err, library.ErrAvailabilityOutOfRange))

		got, err := store.GetBookByID(ctx, b.ID)
		is.NoErr(err)
		is.Equal(got.AvailableCopies, 2)
	})

	t.Run("unknown book", func(t *testing.T) {
		is := is.New(t)
		is.True(errors.Is(store.UpdateAvailableCopies(ctx, uuid.New(), 1), library.ErrResponseBookNotFound))
	})
}

func TestBorrowRecords(t *testing.T) {
	store := newStore()
	is := is.New(t)
	patronID := "123456"
	now := time.Date(2024, time.May, 2, 9, 0, 0, 0, time.UTC)

	first := newBook("Pedro Paramo", "Juan Rulfo", "9780802133908", 1)
	second := newBook("Hopscotch", "Julio Cortazar", "9780394752846", 1)
	for _, b := range []library.Book{first, second} {
		_, err := store.CreateBook(ctx, b)
		is.NoErr(err)
	}

	record := func(bookID uuid.UUID, borrowDate time.Time) library.BorrowRecord {
		return library.BorrowRecord{
			ID:         uuid.New(),
			PatronID:   patronID,
			BookID:     bookID,
			BorrowDate: borrowDate,
			DueDate:    borrowDate.Add(library.LoanPeriod),
		}
	}

	t.Run("stores, counts and closes loans", func(t *testing.T) {
		is := is.New(t)

		_, err := store.CreateBorrowRecord(ctx, record(first.ID, now.AddDate(0, 0, -20)))
		is.NoErr(err)
		_, err = store.CreateBorrowRecord(ctx, record(second.ID, now.AddDate(0, 0, -2)))
		is.NoErr(err)

		count, err := store.CountOpenLoans(ctx, patronID)
		is.NoErr(err)
		is.Equal(count, 2)

		open, err := store.ListOpenLoans(ctx, patronID)
		is.NoErr(err)
		is.Equal(len(open), 2)
		is.Equal(open[0].Title, "Pedro Paramo")
		is.Equal(open[0].Author, "Juan Rulfo")

		is.NoErr(store.SetReturnDate(ctx, patronID, first.ID, now))

		count, err = store.CountOpenLoans(ctx, patronID)
		is.NoErr(err)
		is.Equal(count, 1)

		history, err := store.ListLoanHistory(ctx, patronID)
		is.NoErr(err)
		is.Equal(len(history), 2)
		is.Equal(history[0].Title, "Hopscotch")
		is.True(history[0].Open())
		is.Equal(history[1].Title, "Pedro Paramo")
		is.True(history[1].ReturnDate.Equal(now))
	})

	t.Run("only one open record per patron and book", func(t *testing.T) {
		is := is.New(t)

		_, err := store.CreateBorrowRecord(ctx, record(second.ID, now))
		is.True(errors.Is(err, library.ErrOpenLoanExists))

		// a returned loan does not block a new one
		_, err = store.CreateBorrowRecord(ctx, record(first.ID, now))
		is.NoErr(err)
	})

	t.Run("closing a loan that is not open", func(t *testing.T) {
		is := is.New(t)

		err := store.SetReturnDate(ctx, "999999", first.ID, now)
		is.True(errors.Is(err, library.ErrResponseNotBorrowed))
	})

	t.Run("another patron sees nothing", func(t *testing.T) {
		is := is.New(t)

		history, err := store.ListLoanHistory(ctx, "999999")
		is.NoErr(err)
		is.Equal(len(history), 0)
	})
}

func TestTransactions(t *testing.T) {
	store := newStore()
	is := is.New(t)

	b := newBook("Austerlitz", "W. G. Sebald", "9780375756375", 1)
	_, err := store.CreateBook(ctx, b)
	is.NoErr(err)

	t.Run("rollback discards every write", func(t *testing.T) {
		is := is.New(t)

		txRepo, tx, err := store.BeginTx(ctx, nil)
		is.NoErr(err)
		is.NoErr(txRepo.UpdateAvailableCopies(ctx, b.ID, -1))
		inside, err := txRepo.GetBookByID(ctx, b.ID)
		is.NoErr(err)
		is.Equal(inside.AvailableCopies, 0)
		is.NoErr(tx.Rollback())

		got, err := store.GetBookByID(ctx, b.ID)
		is.NoErr(err)
		is.Equal(got.AvailableCopies, 1)
	})

	t.Run("commit keeps every write", func(t *testing.T) {
		is := is.New(t)

		txRepo, tx, err := store.BeginTx(ctx, nil)
		is.NoErr(err)
		is.NoErr(txRepo.UpdateAvailableCopies(ctx, b.ID, -1))
		is.NoErr(tx.Commit())

		got, err := store.GetBookByID(ctx, b.ID)
		is.NoErr(err)
		is.Equal(got.AvailableCopies, 0)
	})
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
