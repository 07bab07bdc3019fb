package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/circulation-service/cmd/api/library"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const dateLayout = "2006-01-02"

type LibraryHandler struct {
	service library.ServiceAPI
	gateway library.PaymentGateway
}

func NewLibraryHandler(service library.ServiceAPI, gateway library.PaymentGateway) *LibraryHandler {
	return &LibraryHandler{service: service, gateway: gateway}
}

// -- Catalog --

type BookEntry struct {
	Title       string              `json:"title"`
	Author      string              `json:"author"`
	ISBN        string              `json:"isbn"`
	TotalCopies jsoniter.RawMessage `json:"total_copies"`
}

/* Validates the entry, then stores the entry as a new book. */
func (h *LibraryHandler) addBook(w http.ResponseWriter, r *http.Request) {
	var bookEntry BookEntry
	if !decodeEntry(w, r, &bookEntry) {
		return
	}

	storedBook, err := h.service.AddBook(r.Context(), bookToAddReq(bookEntry))
	if err != nil {
		handleError(err, w, r)
		return
	}

	responseJSON(w, http.StatusCreated, AddBookResponse{
		Message: library.AddedMessage(storedBook),
		Book:    bookToResponse(storedBook),
	})
}

/*
Converts the entry into an AddBookRequest. Copies must be a JSON integer: fractions,
strings and booleans leave TotalCopies nil so validation rejects them.
*/
func bookToAddReq(b BookEntry) library.AddBookRequest {
	req := library.AddBookRequest{
		Title:  b.Title,
		Author: b.Author,
		ISBN:   b.ISBN,
	}
	copies, err := strconv.Atoi(strings.TrimSpace(string(b.TotalCopies)))
	if err == nil {
		req.TotalCopies = &copies
	}
	return req
}

/* Returns the book with that specific ID. */
func (h *LibraryHandler) getBookById(w http.ResponseWriter, r *http.Request) {
	id, err := isolateId(w, r, "id")
	if err != nil {
		return
	}

	returnedBook, err := h.service.GetBook(r.Context(), id)
	if err != nil {
		handleError(err, w, r)
		return
	}

	responseJSON(w, http.StatusOK, bookToResponse(returnedBook))
}

/* Returns the whole catalog ordered by title. */
func (h *LibraryHandler) listBooks(w http.ResponseWriter, r *http.Request) {
	books, err := h.service.ListBooks(r.Context())
	if err != nil {
		handleError(err, w, r)
		return
	}

	responseJSON(w, http.StatusOK, booksToResponse(books))
}

func (h *LibraryHandler) searchBooks(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	kind := query.Get("type")
	if kind == "" {
		kind = string(library.SearchByTitle)
	}

	books := h.service.SearchBooks(r.Context(), query.Get("q"), kind)
	responseJSON(w, http.StatusOK, booksToResponse(books))
}

// -- Circulation --

type CirculationEntry struct {
	PatronID string    `json:"patron_id"`
	BookID   uuid.UUID `json:"book_id"`
}

func (h *LibraryHandler) borrowBook(w http.ResponseWriter, r *http.Request) {
	var entry CirculationEntry
	if !decodeEntry(w, r, &entry) {
		return
	}

	result, err := h.service.BorrowBook(r.Context(), entry.PatronID, entry.BookID)
	if err != nil {
		handleError(err, w, r)
		return
	}

	responseJSON(w, http.StatusOK, BorrowResponse{
		Message: result.Message(),
		DueDate: result.Record.DueDate.UTC().Format(dateLayout),
		Book:    bookToResponse(result.Book),
	})
}

func (h *LibraryHandler) returnBook(w http.ResponseWriter, r *http.Request) {
	var entry CirculationEntry
	if !decodeEntry(w, r, &entry) {
		return
	}

	result, err := h.service.ReturnBook(r.Context(), entry.PatronID, entry.BookID)
	if err != nil {
		handleError(err, w, r)
		return
	}

	responseJSON(w, http.StatusOK, ReturnResponse{
		Message:  result.Message(),
		DaysLate: result.DaysLate,
		LateFee:  result.LateFee.StringFixed(2),
		Book:     bookToResponse(result.Book),
	})
}

// -- Fees and reports --

func (h *LibraryHandler) lateFee(w http.ResponseWriter, r *http.Request) {
	bookID, err := isolateId(w, r, "book")
	if err != nil {
		return
	}

	fee := h.service.LateFeeForBook(r.Context(), r.PathValue("patron"), bookID)
	responseJSON(w, http.StatusOK, FeeResponse{
		FeeAmount:   fee.FeeAmount.StringFixed(2),
		DaysOverdue: fee.DaysOverdue,
		Status:      fee.Status,
	})
}

func (h *LibraryHandler) patronReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.PatronReport(r.Context(), r.PathValue("id"))
	if err != nil {
		handleError(err, w, r)
		return
	}

	responseJSON(w, http.StatusOK, reportToResponse(report))
}

type PaymentEntry struct {
	PatronID string    `json:"patron_id"`
	BookID   uuid.UUID `json:"book_id"`
}

func (h *LibraryHandler) payLateFees(w http.ResponseWriter, r *http.Request) {
	var entry PaymentEntry
	if !decodeEntry(w, r, &entry) {
		return
	}

	result := h.service.PayLateFees(r.Context(), entry.PatronID, entry.BookID, h.gateway)
	responseSettlement(w, result)
}

type RefundEntry struct {
	Reference string          `json:"reference"`
	Amount    decimal.Decimal `json:"amount"`
}

func (h *LibraryHandler) refundLateFee(w http.ResponseWriter, r *http.Request) {
	var entry RefundEntry
	if !decodeEntry(w, r, &entry) {
		return
	}

	result := h.service.RefundLateFeePayment(r.Context(), entry.Reference, entry.Amount, h.gateway)
	responseSettlement(w, result)
}

func responseSettlement(w http.ResponseWriter, result library.SettlementResult) {
	status := http.StatusOK
	if !result.Success {
		status = http.StatusUnprocessableEntity
	}
	responseJSON(w, status, SettlementResponse{
		Success:       result.Success,
		Message:       result.Message,
		TransactionID: result.TransactionID,
		Amount:        result.Amount.StringFixed(2),
	})
}

// -- Helpers --

/* Reads the JSON body into entry, answering 400 and reporting false when it is malformed. */
func decodeEntry(w http.ResponseWriter, r *http.Request, entry any) bool {
	err := json.NewDecoder(r.Body).Decode(entry)
	if err != nil {
		slog.Debug("decoding request body", "path", r.URL.Path, "error", err)
		errR := library.ErrResponse{
			Code:    library.ErrResponseEntryInvalidJSON.Code,
			Message: library.ErrResponseEntryInvalidJSON.Message + err.Error(),
		}
		responseJSON(w, http.StatusBadRequest, errR)
		return false
	}
	return true
}

/* Isolates the ID from the named path segment. */
func isolateId(w http.ResponseWriter, r *http.Request, segment string) (id uuid.UUID, err error) {
	id, err = uuid.Parse(r.PathValue(segment))
	if err != nil {
		slog.Debug("parsing path id", "path", r.URL.Path, "error", err)
		responseJSON(w, http.StatusBadRequest, library.ErrResponseIdInvalidFormat)
		return id, err
	}
	return id, nil
}

/* Renders a service error with the status matching its kind. */
func handleError(err error, w http.ResponseWriter, r *http.Request) {
	if errors.Is(err, context.DeadlineExceeded) {
		slog.Warn("request timed out", "method", r.Method, "path", r.URL.Path, "error", err)
		responseJSON(w, http.StatusGatewayTimeout, library.ErrResponseRequestTimeout)
		return
	}

	var errR library.ErrResponse
	if !errors.As(err, &errR) {
		slog.Error("unexpected service error", "method", r.Method, "path", r.URL.Path, "error", err)
		responseJSON(w, http.StatusInternalServerError, library.ErrResponseFromRepository)
		return
	}

	responseJSON(w, statusFor(errR), errR)
}

func statusFor(errR library.ErrResponse) int {
	switch errR {
	case library.ErrResponseBookNotFound:
		return http.StatusNotFound
	case library.ErrResponseDuplicateISBN,
		library.ErrResponseNotAvailable,
		library.ErrResponseLimitExceeded,
		library.ErrResponseAlreadyBorrowed,
		library.ErrResponseNotBorrowed:
		return http.StatusConflict
	case library.ErrResponseAddBookStorage,
		library.ErrResponseBorrowRecordStorage,
		library.ErrResponseAvailabilityStorage,
		library.ErrResponseReturnRecordStorage,
		library.ErrResponseFromRepository:
		return http.StatusInternalServerError
	case library.ErrResponseRequestTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadRequest
	}
}

/*Writes a JSON response into a http.ResponseWriter. */
func responseJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	err := json.NewEncoder(w).Encode(body)
	if err != nil {
		slog.Error("encoding response", "error", err)
	}
}

// -- Responses --

type BookResponse struct {
	ID              uuid.UUID `json:"id"`
	Title           string    `json:"title"`
	Author          string    `json:"author"`
	ISBN            string    `json:"isbn"`
	TotalCopies     int       `json:"total_copies"`
	AvailableCopies int       `json:"available_copies"`
}

/*Copy the fields of a book object to an http layer struct with json tags*/
func bookToResponse(b library.Book) BookResponse {
	return BookResponse{
		ID:              b.ID,
		Title:           b.Title,
		Author:          b.Author,
		ISBN:            b.ISBN,
		TotalCopies:     b.TotalCopies,
		AvailableCopies: b.AvailableCopies,
	}
}

func booksToResponse(books []library.Book) []BookResponse {
	results := []BookResponse{}
	for _, b := range books {
		results = append(results, bookToResponse(b))
	}
	return results
}

type AddBookResponse struct {
	Message string       `json:"message"`
	Book    BookResponse `json:"book"`
}

type BorrowResponse struct {
	Message string       `json:"message"`
	DueDate string       `json:"due_date"`
	Book    BookResponse `json:"book"`
}

type ReturnResponse struct {
	Message  string       `json:"message"`
	DaysLate int          `json:"days_late"`
	LateFee  string       `json:"late_fee"`
	Book     BookResponse `json:"book"`
}

type FeeResponse struct {
	FeeAmount   string `json:"fee_amount"`
	DaysOverdue int    `json:"days_overdue"`
	Status      string `json:"status"`
}

type SettlementResponse struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	TransactionID string `json:"transaction_id,omitempty"`
	Amount        string `json:"amount"`
}

type CurrentLoanResponse struct {
	BookID  uuid.UUID `json:"book_id"`
	Title   string    `json:"title"`
	Author  string    `json:"author"`
	DueDate string    `json:"due_date"`
	Overdue bool      `json:"overdue"`
}

type HistoryEntryResponse struct {
	BookID     uuid.UUID `json:"book_id"`
	Title      string    `json:"title"`
	Author     string    `json:"author"`
	ISBN       string    `json:"isbn"`
	BorrowDate string    `json:"borrow_date"`
	DueDate    string    `json:"due_date"`
	ReturnDate *string   `json:"return_date"`
	Status     string    `json:"status"`
}

type PatronReportResponse struct {
	PatronID      string                 `json:"patron_id"`
	CurrentLoans  []CurrentLoanResponse  `json:"current_loans"`
	TotalBorrowed int                    `json:"total_borrowed"`
	TotalFeesOwed string                 `json:"total_fees_owed"`
	History       []HistoryEntryResponse `json:"history"`
	Error         string                 `json:"error,omitempty"`
}

func reportToResponse(report library.PatronReport) PatronReportResponse {
	resp := PatronReportResponse{
		PatronID:      report.PatronID,
		CurrentLoans:  []CurrentLoanResponse{},
		TotalBorrowed: report.TotalBorrowed,
		TotalFeesOwed: report.TotalFeesOwed.StringFixed(2),
		History:       []HistoryEntryResponse{},
		Error:         report.Error,
	}

	for _, l := range report.CurrentLoans {
		resp.CurrentLoans = append(resp.CurrentLoans, CurrentLoanResponse{
			BookID:  l.BookID,
			Title:   l.Title,
			Author:  l.Author,
			DueDate: l.DueDate.UTC().Format(dateLayout),
			Overdue: l.Overdue,
		})
	}

	for _, e := range report.History {
		entry := HistoryEntryResponse{
			BookID:     e.BookID,
			Title:      e.Title,
			Author:     e.Author,
			ISBN:       e.ISBN,
			BorrowDate: e.BorrowDate.UTC().Format(dateLayout),
			DueDate:    e.DueDate.UTC().Format(dateLayout),
			Status:     e.Status,
		}
		if e.ReturnDate != nil {
			returned := e.ReturnDate.UTC().Format(dateLayout)
			entry.ReturnDate = &returned
		}
		resp.History = append(resp.History, entry)
	}

	return resp
}
