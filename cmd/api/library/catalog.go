package library

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

type AddBookRequest struct {
	Title       string
	Author      string
	ISBN        string
	TotalCopies *int // nil when the entry was not a whole number
}

/* Checks an entry against the catalog rules, returning the first rule broken. */
func ValidateBookEntry(req AddBookRequest) error {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return ErrResponseTitleRequired
	}
	if utf8.RuneCountInString(title) > TitleMaxLength {
		return ErrResponseTitleTooLong
	}

	author := strings.TrimSpace(req.Author)
	if author == "" {
		return ErrResponseAuthorRequired
	}
	if utf8.RuneCountInString(author) > AuthorMaxLength {
		return ErrResponseAuthorTooLong
	}

	if len(req.ISBN) != ISBNLength || !allDigits(req.ISBN) {
		return ErrResponseISBNInvalid
	}

	if req.TotalCopies == nil || *req.TotalCopies <= 0 {
		return ErrResponseCopiesInvalid
	}

	return nil
}

/* Validates the entry, then stores it as a new book with every copy available. */
func (s *Service) AddBook(ctx context.Context, req AddBookRequest) (Book, error) {
	err := ValidateBookEntry(req)
	if err != nil {
		return Book{}, err
	}

	_, err = s.repo.GetBookByISBN(ctx, req.ISBN)
	switch {
	case err == nil:
		return Book{}, ErrResponseDuplicateISBN
	case errors.Is(err, ErrResponseBookNotFound):
	default:
		return Book{}, s.storageError("AddBook", err, ErrResponseAddBookStorage)
	}

	newBook := Book{
		ID:              uuid.New(),
		Title:           strings.TrimSpace(req.Title),
		Author:          strings.TrimSpace(req.Author),
		ISBN:            req.ISBN,
		TotalCopies:     *req.TotalCopies,
		AvailableCopies: *req.TotalCopies,
		CreatedAt:       s.now().Round(time.Millisecond),
	}

	storedBook, err := s.repo.CreateBook(ctx, newBook)
	if err != nil {
		if errors.Is(err, ErrResponseDuplicateISBN) {
			return Book{}, ErrResponseDuplicateISBN
		}
		return Book{}, s.storageError("AddBook", err, ErrResponseAddBookStorage)
	}

	s.notify("book_added", func(ctx context.Context) error {
		return s.ntfy.BookAdded(ctx, storedBook.Title, storedBook.TotalCopies)
	})

	return storedBook, nil
}

func AddedMessage(b Book) string {
	return fmt.Sprintf(`Book "%s" has been successfully added to the catalog.`, b.Title)
}

func (s *Service) GetBook(ctx context.Context, id uuid.UUID) (Book, error) {
	return s.lookupBook(ctx, s.repo, "GetBook", id)
}

func (s *Service) ListBooks(ctx context.Context) ([]Book, error) {
	books, err := s.repo.ListBooks(ctx)
	if err != nil {
		return nil, s.storageError("ListBooks", err, ErrResponseFromRepository)
	}
	return books, nil
}

// SearchBooks never fails: a blank term or an unknown kind gives no results, and a
// storage failure is logged and also gives no results.
func (s *Service) SearchBooks(ctx context.Context, term, kind string) []Book {
	term = strings.TrimSpace(term)
	if term == "" {
		return []Book{}
	}

	searchKind, ok := ParseSearchKind(kind)
	if !ok {
		return []Book{}
	}

	books, err := s.repo.SearchBooks(ctx, term, searchKind)
	if err != nil {
		s.log.Error("searching catalog", "term", term, "kind", kind, "error", err)
		return []Book{}
	}
	return books
}
