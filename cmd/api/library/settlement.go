package library

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentGateway charges and refunds late fees. Implementations wrap ErrPaymentRejected
// when the request itself is invalid and ErrPaymentUnreachable on transport failures.
type PaymentGateway interface {
	ProcessPayment(ctx context.Context, patronID string, amount decimal.Decimal) (PaymentReceipt, error)
	RefundPayment(ctx context.Context, reference string, amount decimal.Decimal) (PaymentReceipt, error)
}

type PaymentReceipt struct {
	TransactionID string
	Success       bool
	Message       string
}

type SettlementResult struct {
	Success       bool
	Message       string
	TransactionID string
	Amount        decimal.Decimal
}

func failedSettlement(msg string, amount decimal.Decimal) SettlementResult {
	return SettlementResult{Success: false, Message: msg, Amount: amount}
}

// PayLateFees charges the tiered fee currently owed on the patron's loan of a book.
// The gateway is not called when the patron id is malformed, the book is unknown or
// nothing is owed. A failed charge leaves the loan and its fee untouched.
func (s *Service) PayLateFees(ctx context.Context, patronID string, bookID uuid.UUID, gateway PaymentGateway) SettlementResult {
	if !ValidPatronID(patronID) {
		return failedSettlement(ErrResponseInvalidPatron.Message, decimal.Zero)
	}

	b, err := s.lookupBook(ctx, s.repo, "PayLateFees", bookID)
	if err != nil {
		var errR ErrResponse
		if errors.As(err, &errR) {
			return failedSettlement(errR.Message, decimal.Zero)
		}
		return failedSettlement(err.Error(), decimal.Zero)
	}

	fee := s.openLoanFee(ctx, patronID, bookID)
	if !fee.FeeAmount.IsPositive() {
		return failedSettlement(fmt.Sprintf("No fees owed for this book (%s).", fee.Status), decimal.Zero)
	}

	receipt, err := gateway.ProcessPayment(ctx, patronID, fee.FeeAmount)
	if err != nil {
		s.log.Warn("late fee charge failed", "patron_id", patronID, "book_id", bookID, "amount", fee.FeeAmount.StringFixed(2), "error", err)
		return failedSettlement(gatewayFailureMessage("Payment", err), fee.FeeAmount)
	}
	if !receipt.Success {
		return failedSettlement("Payment declined: "+receipt.Message, fee.FeeAmount)
	}

	return SettlementResult{
		Success:       true,
		Message:       fmt.Sprintf(`Payment successful! Paid $%s in late fees for "%s". %s`, fee.FeeAmount.StringFixed(2), b.Title, receipt.Message),
		TransactionID: receipt.TransactionID,
		Amount:        fee.FeeAmount,
	}
}

// RefundLateFeePayment hands the refund straight to the gateway; amount and reference
// checks are the gateway's.
func (s *Service) RefundLateFeePayment(ctx context.Context, reference string, amount decimal.Decimal, gateway PaymentGateway) SettlementResult {
	receipt, err := gateway.RefundPayment(ctx, reference, amount)
	if err != nil {
		s.log.Warn("late fee refund failed", "reference", reference, "amount", amount.StringFixed(2), "error", err)
		return failedSettlement(gatewayFailureMessage("Refund", err), amount)
	}
	if !receipt.Success {
		return failedSettlement("Refund invalid: "+receipt.Message, amount)
	}

	return SettlementResult{
		Success:       true,
		Message:       "Refund successful! " + receipt.Message,
		TransactionID: receipt.TransactionID,
		Amount:        amount,
	}
}

func gatewayFailureMessage(action string, err error) string {
	switch {
	case errors.Is(err, ErrPaymentRejected):
		if action == "Payment" {
			return "Payment declined: " + err.Error()
		}
		return "Refund invalid: " + err.Error()
	case errors.Is(err, ErrPaymentUnreachable), errors.Is(err, context.DeadlineExceeded):
		return action + " failed due to network error: " + err.Error()
	default:
		return action + " failed: " + err.Error()
	}
}
