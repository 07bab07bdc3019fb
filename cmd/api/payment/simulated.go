package payment

import (
	"context"
	"fmt"
	"strings"

	"github.com/circulation-service/cmd/api/library"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MaxRefund is the largest refund the gateway accepts, the tiered fee cap.
var MaxRefund = library.FeeCap

// Simulated is an in-process gateway that validates requests and always settles
// valid ones. It is used when no gateway URL is configured.
type Simulated struct {
	newTransactionID func() string
}

func NewSimulated() *Simulated {
	return &Simulated{
		newTransactionID: func() string { return "TXN-" + uuid.NewString() },
	}
}

func (g *Simulated) ProcessPayment(ctx context.Context, patronID string, amount decimal.Decimal) (library.PaymentReceipt, error) {
	if err := ctx.Err(); err != nil {
		return library.PaymentReceipt{}, fmt.Errorf("%w: %w", library.ErrPaymentUnreachable, err)
	}
	if !amount.IsPositive() {
		return library.PaymentReceipt{}, fmt.Errorf("%w: Invalid payment amount.", library.ErrPaymentRejected)
	}
	if !library.ValidPatronID(patronID) {
		return library.PaymentReceipt{}, fmt.Errorf("%w: Invalid patron ID for payment.", library.ErrPaymentRejected)
	}

	return library.PaymentReceipt{
		TransactionID: g.newTransactionID(),
		Success:       true,
		Message:       fmt.Sprintf("Processed $%s for patron %s.", amount.StringFixed(2), patronID),
	}, nil
}

/* Refunds against a transaction id or, for payments made before ids were issued, a patron id. */
func (g *Simulated) RefundPayment(ctx context.Context, reference string, amount decimal.Decimal) (library.PaymentReceipt, error) {
	if err := ctx.Err(); err != nil {
		return library.PaymentReceipt{}, fmt.Errorf("%w: %w", library.ErrPaymentUnreachable, err)
	}
	if !amount.IsPositive() {
		return library.PaymentReceipt{}, fmt.Errorf("%w: Invalid refund amount.", library.ErrPaymentRejected)
	}
	if amount.GreaterThan(MaxRefund) {
		return library.PaymentReceipt{}, fmt.Errorf("%w: Refund exceeds $%s limit.", library.ErrPaymentRejected, MaxRefund.StringFixed(2))
	}
	if !validReference(reference) {
		return library.PaymentReceipt{}, fmt.Errorf("%w: Invalid transaction ID.", library.ErrPaymentRejected)
	}

	return library.PaymentReceipt{
		TransactionID: g.newTransactionID(),
		Success:       true,
		Message:       fmt.Sprintf("Refunded $%s for %s.", amount.StringFixed(2), reference),
	}, nil
}

func validReference(reference string) bool {
	if library.ValidPatronID(reference) {
		return true
	}
	return strings.HasPrefix(reference, "TXN") && len(reference) > len("TXN")
}
