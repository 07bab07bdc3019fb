package library

import (
	"errors"
	"fmt"
)

type ErrResponse struct {
	Code    int    `json:"error_code"`
	Message string `json:"error_message"`
}

func (e ErrResponse) Error() string {
	return e.Message
}

// Catalog
var ErrResponseTitleRequired = ErrResponse{100, "Title is required."}
var ErrResponseTitleTooLong = ErrResponse{101, "Title must be less than 200 characters."}
var ErrResponseAuthorRequired = ErrResponse{102, "Author is required."}
var ErrResponseAuthorTooLong = ErrResponse{103, "Author must be less than 100 characters."}
var ErrResponseISBNInvalid = ErrResponse{104, "ISBN must be exactly 13 digits."}
var ErrResponseCopiesInvalid = ErrResponse{105, "Total copies must be a positive integer."}
var ErrResponseDuplicateISBN = ErrResponse{106, "A book with this ISBN already exists."}
var ErrResponseAddBookStorage = ErrResponse{107, "Database error occurred while adding the book."}

// Circulation
var ErrResponseInvalidPatron = ErrResponse{110, "Invalid patron ID. Must be exactly 6 digits."}
var ErrResponseBookNotFound = ErrResponse{111, "Book not found."}
var ErrResponseNotAvailable = ErrResponse{112, "This book is currently not available."}
var ErrResponseLimitExceeded = ErrResponse{113, fmt.Sprintf("You have reached the maximum borrowing limit of %d books.", MaxBorrowedBooks)}
var ErrResponseBorrowRecordStorage = ErrResponse{114, "Database error occurred while creating borrow record."}
var ErrResponseAvailabilityStorage = ErrResponse{115, "Database error occurred while updating book availability."}
var ErrResponseNotBorrowed = ErrResponse{116, "This book was not borrowed by this patron."}
var ErrResponseReturnRecordStorage = ErrResponse{117, "Database error occurred while updating return record."}
var ErrResponseAlreadyBorrowed = ErrResponse{118, "You have already borrowed this book."}

// Transport
var ErrResponseEntryInvalidJSON = ErrResponse{120, "invalid json request."}
var ErrResponseIdInvalidFormat = ErrResponse{121, "the endpoint is not a valid format ID. Must be /books/{uuid}"}
var ErrResponseRequestTimeout = ErrResponse{122, "context deadline exceeded"}

var ErrResponseFromRepository = ErrResponse{130, "Database error occurred while reading from the repository."}

// ErrAvailabilityOutOfRange is returned by a storage gateway when applying a delta
// would leave available copies outside [0, total copies].
var ErrAvailabilityOutOfRange = errors.New("available copies out of range")

// ErrOpenLoanExists is returned by a storage gateway asked to store a second open
// borrow record for the same patron and book.
var ErrOpenLoanExists = errors.New("patron already holds an open loan of this book")

// Payment gateways wrap one of these so settlement can tell a declined request
// from an unreachable gateway.
var (
	ErrPaymentRejected    = errors.New("payment rejected")
	ErrPaymentUnreachable = errors.New("payment gateway unreachable")
)
