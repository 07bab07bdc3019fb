package library

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

//go:generate mockgen -destination=mocks/repository.go -package=mocks . Repository,Notifier
//go:generate mockgen -destination=mocks/gateway.go -package=mocks . PaymentGateway

type ServiceAPI interface {
	AddBook(ctx context.Context, req AddBookRequest) (Book, error)
	GetBook(ctx context.Context, id uuid.UUID) (Book, error)
	ListBooks(ctx context.Context) ([]Book, error)
	SearchBooks(ctx context.Context, term, kind string) []Book
	BorrowBook(ctx context.Context, patronID string, bookID uuid.UUID) (BorrowResult, error)
	ReturnBook(ctx context.Context, patronID string, bookID uuid.UUID) (ReturnResult, error)
	LateFeeForBook(ctx context.Context, patronID string, bookID uuid.UUID) FeeResult
	PatronReport(ctx context.Context, patronID string) (PatronReport, error)
	PayLateFees(ctx context.Context, patronID string, bookID uuid.UUID, gateway PaymentGateway) SettlementResult
	RefundLateFeePayment(ctx context.Context, reference string, amount decimal.Decimal, gateway PaymentGateway) SettlementResult
}

// Repository is the storage gateway. Every method is a single atomic storage call.
// SearchBooks and ListBooks return books ordered by title ascending, ListLoanHistory
// returns the newest borrow first.
type Repository interface {
	GetBookByID(ctx context.Context, id uuid.UUID) (Book, error)
	GetBookByISBN(ctx context.Context, isbn string) (Book, error)
	CreateBook(ctx context.Context, bookEntry Book) (Book, error)
	ListBooks(ctx context.Context) ([]Book, error)
	SearchBooks(ctx context.Context, term string, kind SearchKind) ([]Book, error)
	UpdateAvailableCopies(ctx context.Context, bookID uuid.UUID, delta int) error
	CreateBorrowRecord(ctx context.Context, record BorrowRecord) (BorrowRecord, error)
	SetReturnDate(ctx context.Context, patronID string, bookID uuid.UUID, returnDate time.Time) error
	ListOpenLoans(ctx context.Context, patronID string) ([]Loan, error)
	ListLoanHistory(ctx context.Context, patronID string) ([]Loan, error)
	CountOpenLoans(ctx context.Context, patronID string) (int, error)
}

// TxRepository is a Repository able to scope several calls in one transaction.
type TxRepository interface {
	Repository
	BeginTx(ctx context.Context, opts *sql.TxOptions) (Repository, driver.Tx, error)
}

type Notifier interface {
	BookAdded(ctx context.Context, title string, copies int) error
	LateReturn(ctx context.Context, patronID, title string, daysLate int, fee decimal.Decimal) error
}

type Service struct {
	repo                 Repository
	ntfy                 Notifier
	notificationsTimeout time.Duration
	now                  func() time.Time
	log                  *slog.Logger
	atomic               bool
}

type Option func(*Service)

// WithClock replaces the wall clock used for borrow dates, return dates and fee evaluation.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.log = logger
	}
}

// WithAtomicCirculation runs the two writes of a borrow or a return inside one
// transaction when the repository supports it.
func WithAtomicCirculation(enabled bool) Option {
	return func(s *Service) {
		s.atomic = enabled
	}
}

/* A nil notifier disables notifications. */
func NewService(repo Repository, ntfy Notifier, notificationsTimeout time.Duration, opts ...Option) *Service {
	s := &Service{
		repo:                 repo,
		ntfy:                 ntfy,
		notificationsTimeout: notificationsTimeout,
		now:                  func() time.Time { return time.Now().UTC() },
		log:                  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) notify(action string, send func(ctx context.Context) error) {
	if s.ntfy == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.notificationsTimeout)
		defer cancel()
		if err := send(ctx); err != nil {
			s.log.Warn("notification not delivered", "action", action, "error", err)
		}
	}()
}

/* Runs fn against the repository, inside a transaction when atomic circulation is on. */
func (s *Service) circulate(ctx context.Context, op string, fn func(repo Repository) error) error {
	txRepo, ok := s.repo.(TxRepository)
	if !s.atomic || !ok {
		return fn(s.repo)
	}

	repo, tx, err := txRepo.BeginTx(ctx, nil)
	if err != nil {
		return s.storageError(op, err, ErrResponseFromRepository)
	}

	if err := fn(repo); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.log.Error("rolling back circulation", "op", op, "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return s.storageError(op, err, ErrResponseFromRepository)
	}
	return nil
}

/* Maps a repository error into the error returned to callers of op. */
func (s *Service) storageError(op string, err error, fallback ErrResponse) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("timeout on call to %s: %w", op, err)
	}
	s.log.Error("storage failure", "op", op, "error", err)
	return fallback
}

func (s *Service) lookupBook(ctx context.Context, repo Repository, op string, id uuid.UUID) (Book, error) {
	b, err := repo.GetBookByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrResponseBookNotFound) {
			return Book{}, ErrResponseBookNotFound
		}
		return Book{}, s.storageError(op, err, ErrResponseFromRepository)
	}
	return b, nil
}
