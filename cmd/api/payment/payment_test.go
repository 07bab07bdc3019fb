package payment_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/circulation-service/cmd/api/library"
	"github.com/circulation-service/cmd/api/payment"
	"github.com/matryer/is"
	"github.com/shopspring/decimal"
)

var ctx = context.Background()

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestSimulatedProcessPayment(t *testing.T) {
	g := payment.NewSimulated()

	t.Run("charges a valid patron", func(t *testing.T) {
		is := is.New(t)

		receipt, err := g.ProcessPayment(ctx, "123456", dec("6.5"))
		is.NoErr(err)
		is.True(receipt.Success)
		is.True(strings.HasPrefix(receipt.TransactionID, "TXN-"))
		is.Equal(receipt.Message, "Processed $6.50 for patron 123456.")
	})

	tests := []struct {
		name     string
		patronID string
		amount   decimal.Decimal
		want     string
	}{
		{"zero amount", "123456", decimal.Zero, "Invalid payment amount."},
		{"negative amount", "123456", dec("-1"), "Invalid payment amount."},
		{"malformed patron", "12345x", dec("1"), "Invalid patron ID for payment."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)

			_, err := g.ProcessPayment(ctx, tt.patronID, tt.amount)
			is.True(errors.Is(err, library.ErrPaymentRejected))
			is.True(strings.HasSuffix(err.Error(), tt.want))
		})
	}
}

func TestSimulatedRefundPayment(t *testing.T) {
	g := payment.NewSimulated()

	t.Run("refunds a transaction", func(t *testing.T) {
		is := is.New(t)

		receipt, err := g.RefundPayment(ctx, "TXN-42", dec("15"))
		is.NoErr(err)
		is.True(receipt.Success)
		is.Equal(receipt.Message, "Refunded $15.00 for TXN-42.")
	})

	t.Run("refunds against a patron id", func(t *testing.T) {
		is := is.New(t)

		_, err := g.RefundPayment(ctx, "123456", dec("2"))
		is.NoErr(err)
	})

	tests := []struct {
		name      string
		reference string
		amount    decimal.Decimal
		want      string
	}{
		{"zero amount", "TXN-42", decimal.Zero, "Invalid refund amount."},
		{"over the limit", "TXN-42", dec("15.01"), "Refund exceeds $15.00 limit."},
		{"unknown reference", "INVALID", dec("5"), "Invalid transaction ID."},
		{"empty reference", "", dec("5"), "Invalid transaction ID."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)

			_, err := g.RefundPayment(ctx, tt.reference, tt.amount)
			is.True(errors.Is(err, library.ErrPaymentRejected))
			is.True(strings.HasSuffix(err.Error(), tt.want))
		})
	}
}

func TestHTTPGateway(t *testing.T) {
	t.Run("posts the charge and decodes the receipt", func(t *testing.T) {
		is := is.New(t)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			is.Equal(r.Method, http.MethodPost)
			is.Equal(r.URL.Path, "/charges")
			body, _ := io.ReadAll(r.Body)
			is.Equal(string(body), `{"patron_id":"123456","amount":"3.5"}`)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"transaction_id":"TXN-1","success":true,"message":"ok"}`))
		}))
		defer srv.Close()

		g := payment.NewHTTPGateway(srv.URL, time.Second, srv.Client())
		receipt, err := g.ProcessPayment(ctx, "123456", dec("3.50"))
		is.NoErr(err)
		is.Equal(receipt, library.PaymentReceipt{TransactionID: "TXN-1", Success: true, Message: "ok"})
	})

	t.Run("client errors are rejections", func(t *testing.T) {
		is := is.New(t)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			is.Equal(r.URL.Path, "/refunds")
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"success":false,"message":"Refund exceeds $15.00 limit."}`))
		}))
		defer srv.Close()

		g := payment.NewHTTPGateway(srv.URL, time.Second, srv.Client())
		_, err := g.RefundPayment(ctx, "TXN-1", dec("20"))
		is.True(errors.Is(err, library.ErrPaymentRejected))
		is.True(strings.Contains(err.Error(), "Refund exceeds $15.00 limit."))
	})

	t.Run("server errors mean unreachable", func(t *testing.T) {
		is := is.New(t)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		g := payment.NewHTTPGateway(srv.URL, time.Second, srv.Client())
		_, err := g.ProcessPayment(ctx, "123456", dec("1"))
		is.True(errors.Is(err, library.ErrPaymentUnreachable))
	})

	t.Run("timeouts mean unreachable", func(t *testing.T) {
		is := is.New(t)
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-release
		}))
		defer srv.Close()
		defer close(release)

		g := payment.NewHTTPGateway(srv.URL, 5*time.Millisecond, srv.Client())
		_, err := g.ProcessPayment(ctx, "123456", dec("1"))
		is.True(errors.Is(err, library.ErrPaymentUnreachable))
		is.True(errors.Is(err, context.DeadlineExceeded))
	})

	t.Run("closed port means unreachable", func(t *testing.T) {
		is := is.New(t)
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		g := payment.NewHTTPGateway(url, time.Second, nil)
		_, err := g.RefundPayment(ctx, "TXN-1", dec("1"))
		is.True(errors.Is(err, library.ErrPaymentUnreachable))
	})
}

func TestSettlementWithSimulatedGateway(t *testing.T) {
	is := is.New(t)
	s := library.NewService(nil, nil, time.Second)

	res := s.RefundLateFeePayment(ctx, "TXN-7", dec("20"), payment.NewSimulated())
	is.True(!res.Success)
	is.Equal(res.Message, "Refund invalid: payment rejected: Refund exceeds $15.00 limit.")
}
